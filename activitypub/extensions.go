package activitypub

import (
	"context"
	"fmt"
	"strings"

	"github.com/deemkeen/fedsync/domain"
	"github.com/deemkeen/fedsync/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandleEmojiReact stores an inbound reaction. A new public reaction on a
// local post is passed on to the post author's followers.
func (e *Env) HandleEmojiReact(ctx context.Context, a *EmojiReact) error {
	if a.Object == "" || a.Emoji == "" {
		e.Log.Info("Inbox: EmojiReact without target or emoji ignored", zap.String("id", a.ID))
		return nil
	}

	inserted, err := e.projectReaction(a, false)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	if IsPublic(a) {
		if owner := e.localOwnerOf(a.Object); owner != nil {
			e.forward(ctx, owner, a, a.ID)
		}
	}
	return nil
}

// CreateEmojiReaction reacts to targetURI as acc. The reaction is stored
// before it is sent to acc's followers and the target's author.
func (e *Env) CreateEmojiReaction(ctx context.Context, acc *domain.Account, targetURI, emoji string) (*FanoutReport, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || targetURI == "" {
		return nil, fmt.Errorf("reaction needs a target and an emoji")
	}

	actor := e.ActorURI(acc.Username)
	cc := []string{e.FollowersURI(acc.Username)}
	if post, err := e.Store.ReadPostByObjectURI(targetURI); err == nil && post.AuthorURI != actor {
		cc = append(cc, post.AuthorURI)
	}

	react := &EmojiReact{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "EmojiReact",
			Actor:     actor,
			Published: e.now(),
			To:        []string{PublicCollection},
			Cc:        cc,
		},
		Object: targetURI,
		Emoji:  emoji,
		Tags:   e.emojiTags(emoji),
	}

	if _, err := e.projectReaction(react, true); err != nil {
		return nil, err
	}
	payload, err := Marshal(react)
	if err != nil {
		return nil, fmt.Errorf("failed to encode EmojiReact: %w", err)
	}
	if _, err := e.logActivity(react, payload, true); err != nil {
		return nil, fmt.Errorf("failed to log EmojiReact: %w", err)
	}

	return e.Federate(ctx, acc, react)
}

// emojiTags describes a :shortcode: emoji. Unicode emoji need no tag.
func (e *Env) emojiTags(emoji string) Tags {
	if len(emoji) < 3 || !strings.HasPrefix(emoji, ":") || !strings.HasSuffix(emoji, ":") {
		return nil
	}
	name := strings.Trim(emoji, ":")
	return Tags{{
		Type: "Emoji",
		Name: emoji,
		Icon: &Image{
			Type:      "Image",
			MediaType: "image/png",
			URL:       fmt.Sprintf("%s/emoji/%s.png", e.BaseURL(), name),
		},
	}}
}

// HandleChatMessage stores an inbound chat message and notifies each
// recipient once.
func (e *Env) HandleChatMessage(ctx context.Context, a *ChatMessage) error {
	recipients := make([]string, 0, len(a.To))
	for _, to := range a.To {
		if to != PublicCollection {
			recipients = append(recipients, to)
		}
	}

	msg := &domain.ChatMessage{
		Id:         uuid.New(),
		URI:        a.ID,
		ObjectURI:  a.ObjectID,
		SenderURI:  a.Actor,
		Recipients: recipients,
		Content:    a.Content,
		Mentions:   a.Tags.Mentions(),
		Emojis:     a.Tags.Emojis(),
		Origin:     hostOf(a.Actor),
		Published:  a.Published,
		CreatedAt:  e.now(),
	}
	inserted, err := e.Store.CreateChatMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to store chat message: %w", err)
	}
	if !inserted {
		return nil
	}

	e.notifyChat(msg, msg.Recipients)
	return nil
}

func (e *Env) notifyChat(msg *domain.ChatMessage, recipients []string) {
	if e.Notifier == nil {
		return
	}
	for _, recipient := range recipients {
		err := e.Notifier.CreateNotification(&domain.Notification{
			Id:           uuid.New(),
			Kind:         domain.NotificationChat,
			RecipientURI: recipient,
			ActorURI:     msg.SenderURI,
			ObjectURI:    msg.URI,
			Content:      msg.Content,
			CreatedAt:    e.now(),
		})
		if err != nil {
			e.Log.Warn("Inbox: Failed to create chat notification",
				zap.String("recipient", recipient), zap.Error(err))
		}
	}
}

// SendChatMessage sends a direct chat message from acc to recipientURI only.
func (e *Env) SendChatMessage(ctx context.Context, acc *domain.Account, recipientURI, content string) (*domain.ChatMessage, *FanoutReport, error) {
	if recipientURI == "" || strings.TrimSpace(content) == "" {
		return nil, nil, fmt.Errorf("chat message needs a recipient and content")
	}

	now := e.now()
	actor := e.ActorURI(acc.Username)
	chat := &ChatMessage{
		Envelope: Envelope{
			ID:        e.NewActivityID(),
			Type:      "ChatMessage",
			Actor:     actor,
			Published: now,
			To:        []string{recipientURI},
		},
		ObjectID: fmt.Sprintf("%s/chat_messages/%s", e.BaseURL(), uuid.New()),
		Content:  util.RenderContent(content),
		Tags:     Tags{{Type: "Mention", Href: recipientURI}},
	}

	msg := &domain.ChatMessage{
		Id:         uuid.New(),
		URI:        chat.ID,
		ObjectURI:  chat.ObjectID,
		SenderURI:  actor,
		Recipients: []string{recipientURI},
		Content:    chat.Content,
		Mentions:   []string{recipientURI},
		Origin:     e.Conf.Conf.SslDomain,
		Local:      true,
		Published:  now,
		CreatedAt:  now,
	}
	if _, err := e.Store.CreateChatMessage(msg); err != nil {
		return nil, nil, fmt.Errorf("failed to store chat message: %w", err)
	}
	// local recipients are not federated to
	if e.IsLocal(recipientURI) {
		e.notifyChat(msg, msg.Recipients)
	}

	payload, err := Marshal(chat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode ChatMessage: %w", err)
	}
	if _, err := e.logActivity(chat, payload, true); err != nil {
		return nil, nil, fmt.Errorf("failed to log ChatMessage: %w", err)
	}

	report, err := e.FederateTo(ctx, acc, chat, []string{recipientURI})
	if err != nil {
		return nil, nil, err
	}
	return msg, report, nil
}
