package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/fedsync/activitypub"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const outboxPageSize = 20

// handleOutbox returns an OrderedCollection of the account's public and
// unlisted posts. Without ?page only the collection metadata is returned.
func (s *Server) handleOutbox(c *gin.Context) {
	acc, err := s.db.ReadAccByUsername(c.Param("actor"))
	if err != nil {
		notFound(c)
		return
	}

	actor := s.env.ActorURI(acc.Username)
	outboxURL := actor + "/outbox"
	page := ParsePageParam(c.Query("page"))

	if page == 0 {
		total, err := s.db.CountPublicPostsByAuthor(actor)
		if err != nil {
			s.env.Log.Error("Outbox: failed to count posts", zap.String("actor", actor), zap.Error(err))
			c.Status(http.StatusInternalServerError)
			return
		}
		renderActivity(c, gin.H{
			"@context":   activitypub.ActivityStreamsContext,
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		})
		return
	}

	// one extra row tells whether a next page exists
	posts, err := s.db.ReadPublicPostsByAuthor(actor, outboxPageSize+1, (page-1)*outboxPageSize)
	if err != nil {
		s.env.Log.Error("Outbox: failed to read posts", zap.String("actor", actor), zap.Int("page", page), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	hasMore := len(posts) > outboxPageSize
	if hasMore {
		posts = posts[:outboxPageSize]
	}

	items := make([]json.RawMessage, 0, len(posts))
	for _, post := range posts {
		if post.RawJSON == "" {
			continue
		}
		items = append(items, json.RawMessage(post.RawJSON))
	}

	collectionPage := gin.H{
		"@context":     activitypub.ActivityStreamsContext,
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}
	renderActivity(c, collectionPage)
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
