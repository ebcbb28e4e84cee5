package activitypub

import (
	"fmt"

	"github.com/deemkeen/fedsync/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// The projector turns verified activities into rows. Every write is an
// upsert or delete on a natural key, so applying the same activity twice
// leaves the same state as applying it once.

// projectPost stores the object of a Create. inserted is false when the
// object was already known.
func (e *Env) projectPost(a *Create, obj *Object) (*domain.Post, bool, error) {
	now := e.now()
	published := obj.Published
	if published.IsZero() {
		published = a.Published
	}

	post := &domain.Post{
		Id:          uuid.New(),
		ObjectURI:   obj.ID,
		ActivityURI: a.ID,
		AuthorURI:   a.Actor,
		Origin:      hostOf(a.Actor),
		Content:     obj.Content,
		Summary:     obj.Summary,
		InReplyTo:   obj.InReplyTo,
		Visibility:  InferVisibility(obj.To, obj.Cc),
		Extensions:  obj.Extensions,
		RawJSON:     string(a.Raw),
		Local:       false,
		Published:   published,
		CreatedAt:   now,
	}

	inserted, err := e.Store.UpsertPost(post)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store post: %w", err)
	}
	return post, inserted, nil
}

func (e *Env) projectLike(a *Like) (bool, error) {
	inserted, err := e.Store.UpsertLike(&domain.Like{
		Id:        uuid.New(),
		ActorURI:  a.Actor,
		ObjectURI: a.Object,
		URI:       a.ID,
		Origin:    hostOf(a.Actor),
		CreatedAt: e.now(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to store like: %w", err)
	}
	return inserted, nil
}

func (e *Env) projectAnnounce(a *Announce) (bool, error) {
	inserted, err := e.Store.UpsertBoost(&domain.Boost{
		Id:        uuid.New(),
		ActorURI:  a.Actor,
		ObjectURI: a.Object,
		URI:       a.ID,
		Origin:    hostOf(a.Actor),
		CreatedAt: e.now(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to store boost: %w", err)
	}
	return inserted, nil
}

func (e *Env) projectFollow(a *Follow) error {
	err := e.Store.UpsertFollower(&domain.Follower{
		Id:          uuid.New(),
		FollowerURI: a.Actor,
		FollowedURI: a.Object,
		Origin:      hostOf(a.Actor),
		URI:         a.ID,
		Accepted:    true,
		CreatedAt:   e.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store follower: %w", err)
	}
	return nil
}

func (e *Env) projectReaction(a *EmojiReact, local bool) (bool, error) {
	inserted, err := e.Store.UpsertReaction(&domain.Reaction{
		Id:        uuid.New(),
		ActorURI:  a.Actor,
		TargetURI: a.Object,
		Emoji:     a.Emoji,
		URI:       a.ID,
		Origin:    hostOf(a.Actor),
		Local:     local,
		CreatedAt: e.now(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to store reaction: %w", err)
	}
	return inserted, nil
}

// retract deletes whatever inner produced. Retracting something that was
// never applied, or was already retracted, is not an error.
func (e *Env) retract(inner Activity) error {
	var (
		removed bool
		err     error
	)
	switch a := inner.(type) {
	case *Like:
		removed, err = e.Store.DeleteLike(a.Actor, a.Object)
	case *Announce:
		removed, err = e.Store.DeleteBoost(a.Actor, a.Object)
	case *Follow:
		removed, err = e.Store.DeleteFollower(a.Actor, a.Object)
	case *EmojiReact:
		removed, err = e.Store.DeleteReaction(a.Actor, a.Object, a.Emoji)
	case *Create, *Undo, *Accept, *ChatMessage, *Unknown:
		e.Log.Info("Inbox: Undo of unsupported activity ignored",
			zap.String("type", inner.Base().Type), zap.String("id", inner.Base().ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to retract %s: %w", inner.Base().Type, err)
	}
	if !removed {
		e.Log.Debug("Inbox: Undo had nothing to remove", zap.String("id", inner.Base().ID))
	}
	return nil
}
