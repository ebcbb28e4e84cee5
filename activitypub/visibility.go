package activitypub

import (
	"slices"
	"strings"

	"github.com/deemkeen/fedsync/domain"
)

// Addressing is the to/cc pair of an outgoing activity.
type Addressing struct {
	To []string
	Cc []string
}

// ResolveVisibility maps a visibility level to its addressing:
//
//	public    to: Public       cc: followers
//	unlisted  to: Public       cc: -
//	private   to: -            cc: followers
//	direct    to: -            cc: recipients
//
// Recipients are only used for direct. A level outside the four known ones
// is treated as direct, the narrowest audience.
func ResolveVisibility(v domain.Visibility, followersURI string, recipients []string) Addressing {
	switch v {
	case domain.VisibilityPublic:
		return Addressing{To: []string{PublicCollection}, Cc: []string{followersURI}}
	case domain.VisibilityUnlisted:
		return Addressing{To: []string{PublicCollection}}
	case domain.VisibilityPrivate:
		return Addressing{Cc: []string{followersURI}}
	}
	return Addressing{Cc: slices.Clone(recipients)}
}

// InferVisibility reads the visibility back from an inbound to/cc pair.
// Public in to counts as public only when a followers collection is
// addressed too; otherwise the post is unlisted.
func InferVisibility(to, cc []string) domain.Visibility {
	toFollowers := slices.ContainsFunc(to, isFollowersCollection) || slices.ContainsFunc(cc, isFollowersCollection)
	switch {
	case slices.Contains(to, PublicCollection) && toFollowers:
		return domain.VisibilityPublic
	case slices.Contains(to, PublicCollection), slices.Contains(cc, PublicCollection):
		return domain.VisibilityUnlisted
	case toFollowers:
		return domain.VisibilityPrivate
	}
	return domain.VisibilityDirect
}

// IsPublic reports whether the activity is addressed to the Public collection.
func IsPublic(a Activity) bool {
	env := a.Base()
	return slices.Contains(env.To, PublicCollection) || slices.Contains(env.Cc, PublicCollection)
}

func isFollowersCollection(uri string) bool {
	return strings.HasSuffix(uri, "/followers")
}
