package activitypub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deemkeen/fedsync/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatch applies a verified inbound activity. sender is the actor whose
// signature was checked. Errors other than ErrUnknownActivityType are
// storage or fetch failures of this one activity.
func (e *Env) Dispatch(ctx context.Context, activity Activity, sender *domain.RemoteAccount) error {
	switch a := activity.(type) {
	case *Create:
		return e.handleCreate(ctx, a)
	case *Like:
		_, err := e.projectLike(a)
		return err
	case *Announce:
		_, err := e.projectAnnounce(a)
		return err
	case *Follow:
		return e.handleFollow(a, sender)
	case *Undo:
		return e.handleUndo(a)
	case *Accept:
		return e.handleAccept(a)
	case *EmojiReact:
		return e.HandleEmojiReact(ctx, a)
	case *ChatMessage:
		return e.HandleChatMessage(ctx, a)
	case *Unknown:
		return fmt.Errorf("%w: %s", ErrUnknownActivityType, a.Type)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownActivityType, activity)
	}
}

func (e *Env) handleCreate(ctx context.Context, a *Create) error {
	obj := a.Object
	if obj == nil {
		fetched, err := e.FetchObject(ctx, a.ObjectURI)
		if err != nil {
			return fmt.Errorf("failed to dereference %s: %w", a.ObjectURI, err)
		}
		obj = fetched
	}

	if obj.AttributedTo != "" && obj.AttributedTo != a.Actor {
		e.Log.Warn("Inbox: Create by non-author ignored",
			zap.String("actor", a.Actor), zap.String("attributedTo", obj.AttributedTo))
		return nil
	}

	post, inserted, err := e.projectPost(a, obj)
	if err != nil {
		return err
	}
	if !inserted {
		e.Log.Debug("Inbox: Post already known", zap.String("object", obj.ID))
		return nil
	}
	e.index(post)

	if post.Visibility == domain.VisibilityPublic && post.InReplyTo != "" {
		if owner := e.localOwnerOf(post.InReplyTo); owner != nil {
			e.forward(ctx, owner, a, post.ObjectURI)
		}
	}
	return nil
}

func (e *Env) handleFollow(a *Follow, sender *domain.RemoteAccount) error {
	username, ok := e.LocalUsername(a.Object)
	if !ok {
		e.Log.Info("Inbox: Follow of non-local actor ignored", zap.String("object", a.Object))
		return nil
	}
	acc, err := e.Store.ReadAccByUsername(username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			e.Log.Info("Inbox: Follow of unknown account ignored", zap.String("object", a.Object))
			return nil
		}
		return fmt.Errorf("failed to read account %s: %w", username, err)
	}

	if err := e.projectFollow(a); err != nil {
		return err
	}

	accept := e.newAccept(acc, a)
	payload, err := Marshal(accept)
	if err != nil {
		return fmt.Errorf("failed to encode Accept: %w", err)
	}
	if _, err := e.logActivity(accept, payload, true); err != nil {
		e.Log.Warn("Inbox: Failed to log Accept", zap.Error(err))
	}

	inbox := ""
	if sender != nil && sender.ActorURI == a.Actor {
		inbox = sender.DeliveryInbox()
	}
	err = e.Queue.EnqueueDelivery(&domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inbox,
		RecipientURI: a.Actor,
		AccountId:    acc.Id,
		ActivityJSON: string(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to queue Accept: %w", err)
	}

	e.Log.Info("Inbox: Follow accepted", zap.String("follower", a.Actor), zap.String("account", acc.Username))
	return nil
}

// handleAccept settles one of our pending follows. Only the followed actor
// can accept it.
func (e *Env) handleAccept(a *Accept) error {
	var followerURI, followedURI string
	if inner, ok := a.Inner.(*Follow); ok && inner.Actor != "" && inner.Object != "" {
		followerURI, followedURI = inner.Actor, inner.Object
	} else {
		ref := a.ObjectURI
		if a.Inner != nil && a.Inner.Base().ID != "" {
			ref = a.Inner.Base().ID
		}
		follow, err := e.Store.ReadFollowByURI(ref)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				e.Log.Info("Inbox: Accept of unknown follow ignored", zap.String("actor", a.Actor), zap.String("object", ref))
				return nil
			}
			return fmt.Errorf("failed to read follow %s: %w", ref, err)
		}
		followerURI, followedURI = follow.FollowerURI, follow.FollowedURI
	}

	if followedURI != a.Actor || !e.IsLocal(followerURI) {
		e.Log.Warn("Inbox: Accept by a different actor ignored",
			zap.String("actor", a.Actor), zap.String("followed", followedURI))
		return nil
	}

	accepted, err := e.Store.AcceptFollow(followerURI, followedURI)
	if err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}
	if !accepted {
		e.Log.Debug("Inbox: No pending follow to accept", zap.String("follower", followerURI), zap.String("followed", followedURI))
		return nil
	}
	e.Log.Info("Inbox: Follow accepted", zap.String("follower", followerURI), zap.String("followed", followedURI))
	return nil
}

func (e *Env) handleUndo(a *Undo) error {
	inner := a.Inner
	if inner == nil || !keyComplete(inner) {
		ref := a.ObjectURI
		if inner != nil && inner.Base().ID != "" {
			ref = inner.Base().ID
		}
		logged, err := e.innerFromLog(ref)
		if err != nil {
			return err
		}
		if logged == nil {
			e.Log.Info("Inbox: Undo of unknown activity ignored", zap.String("object", ref))
			return nil
		}
		inner = logged
	}

	base := inner.Base()
	if base.Actor == "" {
		base.Actor = a.Actor
	}
	if base.Actor != a.Actor {
		e.Log.Warn("Inbox: Undo by a different actor ignored",
			zap.String("actor", a.Actor), zap.String("innerActor", base.Actor))
		return nil
	}

	return e.retract(inner)
}

// innerFromLog resolves an activity referenced by id through the activity
// log. It returns nil when the activity was never seen.
func (e *Env) innerFromLog(uri string) (Activity, error) {
	if uri == "" {
		return nil, nil
	}
	logged, err := e.Store.ReadActivityByURI(uri)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read activity %s: %w", uri, err)
	}
	inner, err := ParseActivity([]byte(logged.RawJSON))
	if err != nil {
		return nil, fmt.Errorf("stored activity %s: %w", uri, err)
	}
	return inner, nil
}

// keyComplete reports whether an embedded activity carries enough to find
// the row it created.
func keyComplete(a Activity) bool {
	switch v := a.(type) {
	case *Like:
		return v.Object != ""
	case *Announce:
		return v.Object != ""
	case *Follow:
		return v.Object != ""
	case *EmojiReact:
		return v.Object != "" && v.Emoji != ""
	}
	return true
}

// localOwnerOf returns the local account that authored objectURI, or nil.
func (e *Env) localOwnerOf(objectURI string) *domain.Account {
	if !e.IsLocal(objectURI) {
		return nil
	}
	post, err := e.Store.ReadPostByObjectURI(objectURI)
	if err != nil || !post.Local {
		return nil
	}
	username, ok := e.LocalUsername(post.AuthorURI)
	if !ok {
		return nil
	}
	acc, err := e.Store.ReadAccByUsername(username)
	if err != nil {
		return nil
	}
	return acc
}

// forward announces objectURI, a public reply or reaction to one of
// owner's posts, to owner's followers. The author of the inbound activity
// a is left out.
func (e *Env) forward(ctx context.Context, owner *domain.Account, a Activity, objectURI string) {
	announce := &Announce{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "Announce",
			Actor:     e.ActorURI(owner.Username),
			Published: e.now(),
			To:        []string{PublicCollection},
			Cc:        []string{e.FollowersURI(owner.Username)},
		},
		Object: objectURI,
	}
	payload, err := Marshal(announce)
	if err != nil {
		e.Log.Warn("Inbox: Failed to encode forward", zap.String("id", a.Base().ID), zap.Error(err))
		return
	}
	if _, err := e.logActivity(announce, payload, true); err != nil {
		e.Log.Warn("Inbox: Failed to log forward", zap.String("id", announce.ID), zap.Error(err))
	}

	report, err := e.FederateFollowers(ctx, owner, announce, a.Base().Actor)
	if err != nil {
		e.Log.Warn("Inbox: Forwarding failed", zap.String("id", a.Base().ID), zap.Error(err))
		return
	}
	e.Log.Info("Inbox: Forwarded activity",
		zap.String("id", a.Base().ID),
		zap.String("announce", announce.ID),
		zap.Int("delivered", len(report.Delivered)),
		zap.Int("queued", len(report.Queued)))
}

func (e *Env) index(post *domain.Post) {
	if e.Indexer == nil {
		return
	}
	if err := e.Indexer.IndexPost(post); err != nil {
		e.Log.Warn("Inbox: Failed to index post", zap.String("object", post.ObjectURI), zap.Error(err))
	}
}

// logActivity writes an activity to the activity log. It reports false for
// an id that is already there.
func (e *Env) logActivity(a Activity, payload []byte, local bool) (bool, error) {
	base := a.Base()
	return e.Store.CreateActivity(&domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  base.ID,
		ActivityType: base.Type,
		ActorURI:     base.Actor,
		ObjectURI:    objectRef(a),
		RawJSON:      string(payload),
		Processed:    local,
		CreatedAt:    e.now(),
		Local:        local,
	})
}

// objectRef is the URI an activity acts on.
func objectRef(a Activity) string {
	switch v := a.(type) {
	case *Create:
		return v.ObjectURI
	case *Like:
		return v.Object
	case *Announce:
		return v.Object
	case *Follow:
		return v.Object
	case *Undo:
		return v.ObjectURI
	case *Accept:
		return v.ObjectURI
	case *EmojiReact:
		return v.Object
	case *ChatMessage:
		return v.ObjectID
	}
	return ""
}
