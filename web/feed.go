package web

import (
	"net/http"
	"time"

	"github.com/deemkeen/fedsync/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
	"go.uber.org/zap"
)

const feedSize = 50

func (s *Server) handleFeed(c *gin.Context) {
	acc, err := s.db.ReadAccByUsername(c.Param("actor"))
	if err != nil {
		notFound(c)
		return
	}

	actor := s.env.ActorURI(acc.Username)
	posts, err := s.db.ReadPublicPostsByAuthor(actor, feedSize, 0)
	if err != nil {
		s.env.Log.Error("Feed: failed to read posts", zap.String("actor", actor), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	atom, err := atomFeed(s.env.Conf.Conf.SslDomain, actor, acc, posts)
	if err != nil {
		s.env.Log.Error("Feed: failed to render", zap.String("actor", actor), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/atom+xml; charset=utf-8", []byte(atom))
}

func atomFeed(domainName, actor string, acc *domain.Account, posts []domain.Post) (string, error) {
	name := acc.DisplayName
	if name == "" {
		name = acc.Username
	}
	author := &feeds.Author{Name: name, Email: acc.Username + "@" + domainName}

	updated := acc.CreatedAt
	if len(posts) > 0 {
		updated = posts[0].Published
	}

	feed := &feeds.Feed{
		Title:       name,
		Link:        &feeds.Link{Href: actor},
		Description: acc.Summary,
		Author:      author,
		Id:          actor + "/feed.atom",
		Created:     acc.CreatedAt,
		Updated:     updated,
	}

	for _, post := range posts {
		if post.Visibility != domain.VisibilityPublic {
			continue
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      post.ObjectURI,
			Title:   post.Published.UTC().Format(time.RFC1123),
			Link:    &feeds.Link{Href: post.ObjectURI},
			Content: post.Content,
			Author:  author,
			Created: post.Published,
		})
	}
	return feed.ToAtom()
}
