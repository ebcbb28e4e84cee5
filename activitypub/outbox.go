package activitypub

import (
	"context"
	"fmt"
	"slices"

	"github.com/deemkeen/fedsync/domain"
	"github.com/deemkeen/fedsync/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PublishNote stores a new local post and federates its Create.
// mentions are the actors the post is addressed to when vis is direct and
// are cc'd for every other level.
func (e *Env) PublishNote(ctx context.Context, acc *domain.Account, content string, vis domain.Visibility, mentions []string, inReplyTo string) (*domain.Post, *FanoutReport, error) {
	if content == "" {
		return nil, nil, fmt.Errorf("empty note")
	}

	now := e.now()
	actor := e.ActorURI(acc.Username)
	addr := ResolveVisibility(vis, e.FollowersURI(acc.Username), mentions)
	for _, m := range mentions {
		if !slices.Contains(addr.Cc, m) {
			addr.Cc = append(addr.Cc, m)
		}
	}

	tags := make(Tags, 0, len(mentions))
	for _, m := range mentions {
		tags = append(tags, Tag{Type: "Mention", Href: m})
	}

	note := &Object{
		ID:           e.NoteURI(uuid.New()),
		Type:         "Note",
		AttributedTo: actor,
		Content:      util.RenderContent(content),
		InReplyTo:    inReplyTo,
		Published:    now,
		To:           addr.To,
		Cc:           addr.Cc,
		Tag:          tags,
	}
	create := &Create{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "Create",
			Actor:     actor,
			Published: now,
			To:        addr.To,
			Cc:        addr.Cc,
		},
		ObjectURI: note.ID,
		Object:    note,
	}

	payload, err := Marshal(create)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode Create: %w", err)
	}

	post := &domain.Post{
		Id:          uuid.New(),
		ObjectURI:   note.ID,
		ActivityURI: create.ID,
		AuthorURI:   actor,
		Origin:      e.Conf.Conf.SslDomain,
		Content:     note.Content,
		InReplyTo:   inReplyTo,
		Visibility:  InferVisibility(addr.To, addr.Cc),
		RawJSON:     string(payload),
		Local:       true,
		Published:   now,
		CreatedAt:   now,
	}
	if _, err := e.Store.UpsertPost(post); err != nil {
		return nil, nil, fmt.Errorf("failed to store post: %w", err)
	}
	e.index(post)

	if _, err := e.logActivity(create, payload, true); err != nil {
		return nil, nil, fmt.Errorf("failed to log Create: %w", err)
	}

	report, err := e.Federate(ctx, acc, create)
	if err != nil {
		return post, nil, err
	}
	e.Log.Info("Outbox: Published note", zap.String("object", note.ID), zap.String("visibility", string(post.Visibility)))
	return post, report, nil
}

// SendLike likes objectURI as acc and tells its author.
func (e *Env) SendLike(ctx context.Context, acc *domain.Account, objectURI string) (*FanoutReport, error) {
	author, err := e.authorOf(ctx, objectURI)
	if err != nil {
		return nil, err
	}
	like := &Like{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "Like",
			Actor:     e.ActorURI(acc.Username),
			Published: e.now(),
			To:        []string{author},
		},
		Object: objectURI,
	}
	if _, err := e.projectLike(like); err != nil {
		return nil, err
	}
	return e.publish(ctx, acc, like)
}

// SendAnnounce boosts objectURI to acc's followers and its author.
func (e *Env) SendAnnounce(ctx context.Context, acc *domain.Account, objectURI string) (*FanoutReport, error) {
	author, err := e.authorOf(ctx, objectURI)
	if err != nil {
		return nil, err
	}
	announce := &Announce{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "Announce",
			Actor:     e.ActorURI(acc.Username),
			Published: e.now(),
			To:        []string{PublicCollection},
			Cc:        []string{e.FollowersURI(acc.Username), author},
		},
		Object: objectURI,
	}
	if _, err := e.projectAnnounce(announce); err != nil {
		return nil, err
	}
	return e.publish(ctx, acc, announce)
}

// SendFollow asks the actor at targetURI to let acc follow it. A remote
// follow stays pending until the target's Accept arrives.
func (e *Env) SendFollow(ctx context.Context, acc *domain.Account, targetURI string) (*FanoutReport, error) {
	actor := e.ActorURI(acc.Username)
	if targetURI == actor {
		return nil, fmt.Errorf("%s cannot follow itself", acc.Username)
	}
	follow := &Follow{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "Follow",
			Actor:     actor,
			Published: e.now(),
			To:        []string{targetURI},
		},
		Object: targetURI,
	}
	err := e.Store.UpsertFollower(&domain.Follower{
		Id:          uuid.New(),
		FollowerURI: actor,
		FollowedURI: targetURI,
		Origin:      e.Conf.Conf.SslDomain,
		URI:         follow.ID,
		Accepted:    e.IsLocal(targetURI), // local accounts auto-accept
		CreatedAt:   e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store follow: %w", err)
	}
	e.Log.Info("Outbox: Follow requested", zap.String("actor", actor), zap.String("target", targetURI))
	return e.publish(ctx, acc, follow)
}

// UndoActivity retracts one of acc's own earlier activities, locally and
// towards everyone the original went to.
func (e *Env) UndoActivity(ctx context.Context, acc *domain.Account, activityURI string) (*FanoutReport, error) {
	actor := e.ActorURI(acc.Username)
	inner, err := e.innerFromLog(activityURI)
	if err != nil {
		return nil, err
	}
	if inner == nil {
		return nil, fmt.Errorf("unknown activity %s", activityURI)
	}
	if inner.Base().Actor != actor {
		return nil, fmt.Errorf("activity %s does not belong to %s", activityURI, acc.Username)
	}

	if err := e.retract(inner); err != nil {
		return nil, err
	}

	base := inner.Base()
	undo := &Undo{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "Undo",
			Actor:     actor,
			Published: e.now(),
			To:        base.To,
			Cc:        base.Cc,
		},
		ObjectURI: base.ID,
		Inner:     inner,
	}
	return e.publish(ctx, acc, undo)
}

// publish logs a locally built activity and federates it.
func (e *Env) publish(ctx context.Context, acc *domain.Account, a Activity) (*FanoutReport, error) {
	payload, err := Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", a.Base().Type, err)
	}
	if _, err := e.logActivity(a, payload, true); err != nil {
		return nil, fmt.Errorf("failed to log %s: %w", a.Base().Type, err)
	}
	return e.Federate(ctx, acc, a)
}

// authorOf finds who to address an activity about objectURI to.
func (e *Env) authorOf(ctx context.Context, objectURI string) (string, error) {
	if post, err := e.Store.ReadPostByObjectURI(objectURI); err == nil {
		return post.AuthorURI, nil
	}
	obj, err := e.FetchObject(ctx, objectURI)
	if err != nil {
		return "", fmt.Errorf("failed to find author of %s: %w", objectURI, err)
	}
	if obj.AttributedTo == "" {
		return "", fmt.Errorf("%s has no author", objectURI)
	}
	return obj.AttributedTo, nil
}

func (e *Env) newAccept(acc *domain.Account, follow *Follow) *Accept {
	return &Accept{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "Accept",
			Actor:     e.ActorURI(acc.Username),
			Published: e.now(),
			To:        []string{follow.Actor},
		},
		ObjectURI: follow.ID,
		Inner:     follow,
	}
}
