package web

import (
	"net/http"
	"strings"

	"github.com/deemkeen/fedsync/activitypub"
	"github.com/deemkeen/fedsync/domain"
	"github.com/deemkeen/fedsync/util"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const nodeInfoSchema = "http://nodeinfo.diaspora.software/ns/schema/2.1"

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

type webfingerResponse struct {
	Subject    string            `json:"subject"`
	Aliases    []string          `json:"aliases"`
	Links      []webfingerLink   `json:"links"`
	Properties map[string]string `json:"properties,omitempty"`
}

func (s *Server) handleWebfinger(c *gin.Context) {
	acc, ok := s.accountForResource(c.Query("resource"))
	if !ok {
		notFound(c)
		return
	}

	actor := s.env.ActorURI(acc.Username)
	resp := webfingerResponse{
		Subject: "acct:" + acc.Username + "@" + s.env.Conf.Conf.SslDomain,
		Aliases: []string{actor},
		Links: []webfingerLink{
			{Rel: "self", Type: activitypub.ContentType, Href: actor},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: actor},
			{Rel: "http://schemas.google.com/g/2010#updates-from", Type: "application/atom+xml", Href: actor + "/feed.atom"},
		},
	}
	if acc.DisplayName != "" {
		resp.Properties = map[string]string{"http://schema.org/name": acc.DisplayName}
	}

	c.Header("Access-Control-Allow-Origin", "*")
	c.JSON(http.StatusOK, resp)
}

// accountForResource accepts "acct:user@domain", "user@domain" and the
// actor URI itself. Other domains are not ours to answer for.
func (s *Server) accountForResource(resource string) (*domain.Account, bool) {
	var username string
	if name, ok := s.env.LocalUsername(resource); ok {
		username = name
	} else {
		handle := strings.TrimPrefix(strings.TrimPrefix(resource, "acct:"), "@")
		user, host, found := strings.Cut(handle, "@")
		if !found || user == "" || !strings.EqualFold(host, s.env.Conf.Conf.SslDomain) {
			return nil, false
		}
		username = user
	}

	acc, err := s.db.ReadAccByUsername(username)
	if err != nil {
		return nil, false
	}
	return acc, true
}

func (s *Server) handleNodeInfoLinks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"links": []webfingerLink{
			{Rel: nodeInfoSchema, Href: s.env.BaseURL() + "/nodeinfo/2.1"},
		},
	})
}

func (s *Server) handleNodeInfo(c *gin.Context) {
	users, err := s.db.CountAccounts()
	if err != nil {
		s.env.Log.Error("NodeInfo: failed to count accounts", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	posts, err := s.db.CountLocalPosts()
	if err != nil {
		s.env.Log.Error("NodeInfo: failed to count posts", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", `application/json; profile="`+nodeInfoSchema+`#"`)
	c.JSON(http.StatusOK, gin.H{
		"version": "2.1",
		"software": gin.H{
			"name":    util.Name,
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services": gin.H{
			"inbound":  []string{},
			"outbound": []string{"atom1.0"},
		},
		"openRegistrations": false,
		"usage": gin.H{
			"users": gin.H{
				"total":          users,
				"activeMonth":    users,
				"activeHalfyear": users,
			},
			"localPosts":    posts,
			"localComments": 0,
		},
		"metadata": gin.H{
			"nodeName": s.env.Conf.Conf.SslDomain,
			"features": []string{"emoji_reactions", "chat_messages"},
		},
	})
}
