package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/deemkeen/fedsync/activitypub"
	"github.com/deemkeen/fedsync/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var actorContext = []string{
	activitypub.ActivityStreamsContext,
	"https://w3id.org/security/v1",
}

type actorDocument struct {
	Context                   []string  `json:"@context"`
	ID                        string    `json:"id"`
	Type                      string    `json:"type"`
	PreferredUsername         string    `json:"preferredUsername"`
	Name                      string    `json:"name"`
	Summary                   string    `json:"summary"`
	Inbox                     string    `json:"inbox"`
	Outbox                    string    `json:"outbox"`
	Followers                 string    `json:"followers"`
	URL                       string    `json:"url"`
	ManuallyApprovesFollowers bool      `json:"manuallyApprovesFollowers"`
	Discoverable              bool      `json:"discoverable"`
	Published                 string    `json:"published"`
	Endpoints                 endpoints `json:"endpoints"`
	PublicKey                 publicKey `json:"publicKey"`
}

type endpoints struct {
	SharedInbox string `json:"sharedInbox"`
}

type publicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

func (s *Server) actorDocument(acc *domain.Account) actorDocument {
	id := s.env.ActorURI(acc.Username)

	name := acc.DisplayName
	if name == "" {
		name = acc.Username
	}

	return actorDocument{
		Context:                   actorContext,
		ID:                        id,
		Type:                      "Person",
		PreferredUsername:         acc.Username,
		Name:                      name,
		Summary:                   acc.Summary,
		Inbox:                     id + "/inbox",
		Outbox:                    id + "/outbox",
		Followers:                 s.env.FollowersURI(acc.Username),
		URL:                       id,
		ManuallyApprovesFollowers: false,
		Discoverable:              true,
		Published:                 acc.CreatedAt.UTC().Format(time.RFC3339),
		Endpoints:                 endpoints{SharedInbox: s.env.BaseURL() + "/inbox"},
		PublicKey: publicKey{
			ID:           s.env.KeyId(acc.Username),
			Owner:        id,
			PublicKeyPem: acc.WebPublicKey,
		},
	}
}

func (s *Server) handleActor(c *gin.Context) {
	acc, err := s.db.ReadAccByUsername(c.Param("actor"))
	if err != nil {
		notFound(c)
		return
	}
	renderActivity(c, s.actorDocument(acc))
}

// handleFollowers only exposes the count; the member list stays private.
func (s *Server) handleFollowers(c *gin.Context) {
	acc, err := s.db.ReadAccByUsername(c.Param("actor"))
	if err != nil {
		notFound(c)
		return
	}

	total, err := s.db.CountFollowers(s.env.ActorURI(acc.Username))
	if err != nil {
		s.env.Log.Error("Actors: failed to count followers", zap.String("username", acc.Username), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	renderActivity(c, gin.H{
		"@context":   activitypub.ActivityStreamsContext,
		"id":         s.env.FollowersURI(acc.Username),
		"type":       "OrderedCollection",
		"totalItems": total,
	})
}

// handleNote serves a local post that is visible without authentication.
func (s *Server) handleNote(c *gin.Context) {
	post, err := s.db.ReadPostByObjectURI(s.env.BaseURL() + "/notes/" + c.Param("id"))
	if err != nil || !post.Local || !isListed(post.Visibility) {
		notFound(c)
		return
	}

	doc, err := noteDocument(post)
	if err != nil {
		s.env.Log.Error("Actors: failed to render note", zap.String("object", post.ObjectURI), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, activityContentType, doc)
}

func isListed(vis domain.Visibility) bool {
	return vis == domain.VisibilityPublic || vis == domain.VisibilityUnlisted
}

// noteDocument extracts the object out of the stored Create and gives it
// its own @context.
func noteDocument(post *domain.Post) ([]byte, error) {
	activity, err := activitypub.ParseActivity([]byte(post.RawJSON))
	if err != nil {
		return nil, err
	}
	create, ok := activity.(*activitypub.Create)
	if !ok || create.Object == nil {
		return nil, activitypub.ErrUnknownActivityType
	}

	obj := *create.Object
	ext := make(domain.Extensions, len(obj.Extensions)+1)
	for k, v := range obj.Extensions {
		ext[k] = v
	}
	ext["@context"] = json.RawMessage(`"` + activitypub.ActivityStreamsContext + `"`)
	obj.Extensions = ext

	return json.Marshal(obj)
}
