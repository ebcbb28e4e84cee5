package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// Visibilities lists every level in order of decreasing audience.
var Visibilities = []Visibility{VisibilityPublic, VisibilityUnlisted, VisibilityPrivate, VisibilityDirect}

// ParseVisibility accepts the four level names plus "followers", which some
// servers use for private.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public", "":
		return VisibilityPublic, nil
	case "unlisted":
		return VisibilityUnlisted, nil
	case "private", "followers":
		return VisibilityPrivate, nil
	case "direct":
		return VisibilityDirect, nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

// Extensions holds platform-specific object fields (contentMap, source,
// conversation, ...) verbatim. They are stored and re-emitted, never interpreted.
type Extensions map[string]json.RawMessage

// Post is a Note, local or federated.
type Post struct {
	Id          uuid.UUID
	ObjectURI   string
	ActivityURI string
	AuthorURI   string
	Origin      string // host of the author
	Content     string
	Summary     string
	InReplyTo   string
	Visibility  Visibility
	Extensions  Extensions
	RawJSON     string // federation envelope as received or sent
	Local       bool
	Published   time.Time
	CreatedAt   time.Time
}

func (post *Post) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tAuthor: %s \n\tContent: %s \n\tPublished: %s)", post.Id, post.AuthorURI, post.Content, post.Published)
}
