package activitypub

import (
	"context"
	"testing"

	"github.com/deemkeen/fedsync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleEmojiReactIsIdempotent(t *testing.T) {
	env, database := setupTestEnv(t)
	react := `{"id":"https://remote.example/reactions/1","type":"EmojiReact","actor":"` + bobURI + `","object":"https://local.example/notes/1","content":"🔥"}`

	for i := 0; i < 3; i++ {
		require.NoError(t, dispatch(t, env, react))
	}
	require.NoError(t, dispatch(t, env, `{"id":"https://remote.example/reactions/2","type":"EmojiReact","actor":"`+bobURI+`","object":"https://local.example/notes/1","content":"👍"}`))

	reactions, err := database.ReadReactionsByTarget("https://local.example/notes/1")
	require.NoError(t, err)
	require.Len(t, reactions, 2, "one row per distinct emoji")
	assert.ElementsMatch(t, []string{"🔥", "👍"}, []string{reactions[0].Emoji, reactions[1].Emoji})
	assert.False(t, reactions[0].Local)

	require.NoError(t, dispatch(t, env, `{"id":"https://remote.example/reactions/1/undo","type":"Undo","actor":"`+bobURI+`","object":"https://remote.example/reactions/1"}`))
	reactions, err = database.ReadReactionsByTarget("https://local.example/notes/1")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "👍", reactions[0].Emoji)
}

func TestHandleEmojiReactWithoutEmoji(t *testing.T) {
	env, database := setupTestEnv(t)
	require.NoError(t, dispatch(t, env, `{"id":"https://remote.example/reactions/1","type":"EmojiReact","actor":"`+bobURI+`","object":"https://local.example/notes/1"}`))

	reactions, err := database.ReadReactionsByTarget("https://local.example/notes/1")
	require.NoError(t, err)
	assert.Empty(t, reactions)
}

func TestHandleChatMessage(t *testing.T) {
	env, database := setupTestEnv(t)
	chat := `{
		"id": "https://remote.example/activities/c1",
		"type": "Create",
		"actor": "` + bobURI + `",
		"object": {
			"id": "https://remote.example/objects/c1",
			"type": "ChatMessage",
			"attributedTo": "` + bobURI + `",
			"content": "hi :wave:",
			"to": ["https://local.example/users/alice", "https://local.example/users/dan"],
			"tag": [
				{"type": "Mention", "href": "https://local.example/users/alice"},
				{"type": "Emoji", "name": ":wave:"}
			]
		}
	}`

	require.NoError(t, dispatch(t, env, chat))
	require.NoError(t, dispatch(t, env, chat))

	msg, err := database.ReadChatMessageByURI("https://remote.example/activities/c1")
	require.NoError(t, err)
	assert.Equal(t, bobURI, msg.SenderURI)
	assert.Equal(t, []string{"https://local.example/users/alice", "https://local.example/users/dan"}, msg.Recipients)
	assert.Equal(t, []string{"https://local.example/users/alice"}, msg.Mentions)
	assert.Equal(t, []string{":wave:"}, msg.Emojis)

	for _, recipient := range msg.Recipients {
		notes, err := database.ReadNotifications(recipient)
		require.NoError(t, err)
		require.Len(t, notes, 1, "exactly one notification for %s", recipient)
		assert.Equal(t, domain.NotificationChat, notes[0].Kind)
		assert.Equal(t, bobURI, notes[0].ActorURI)
	}
}

func TestCreateEmojiReaction(t *testing.T) {
	env, database := setupTestEnv(t)
	alice := createLocalAccount(t, database, "alice")

	remote := newRemoteInstance(t)
	author := remote.addActor("author", nil)
	fan := remote.addActor("fan", nil)
	addFollower(t, database, fan, env.ActorURI("alice"))

	target := remote.server.URL + "/notes/1"
	_, err := database.UpsertPost(&domain.Post{ObjectURI: target, AuthorURI: author, Content: "nice"})
	require.NoError(t, err)

	report, err := env.CreateEmojiReaction(context.Background(), alice, target, ":blobcat:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{author, fan}, report.Delivered)
	assert.Empty(t, report.Queued)

	reactions, err := database.ReadReactionsByTarget(target)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.True(t, reactions[0].Local)

	sent := remote.received("/users/author/inbox")
	require.Len(t, sent, 1)
	react, ok := mustParse(t, sent[0]).(*EmojiReact)
	require.True(t, ok)
	assert.Equal(t, ":blobcat:", react.Emoji)
	require.Len(t, react.Tags, 1)
	assert.Equal(t, "https://local.example/emoji/blobcat.png", react.Tags[0].Icon.URL)

	_, err = env.CreateEmojiReaction(context.Background(), alice, target, "  ")
	assert.Error(t, err)
}

func TestSendChatMessage(t *testing.T) {
	env, database := setupTestEnv(t)
	alice := createLocalAccount(t, database, "alice")

	remote := newRemoteInstance(t)
	bob := remote.addActor("bob", nil)
	fan := remote.addActor("fan", nil)
	addFollower(t, database, fan, env.ActorURI("alice"))

	msg, report, err := env.SendChatMessage(context.Background(), alice, bob, "psst")
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, report.Delivered)
	assert.True(t, msg.Local)

	assert.Len(t, remote.received("/users/bob/inbox"), 1)
	assert.Empty(t, remote.received("/users/fan/inbox"), "chat must not reach followers")

	stored, err := database.ReadChatMessageByURI(msg.URI)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, stored.Recipients)
}

func TestSendChatMessageToLocalAccount(t *testing.T) {
	env, database := setupTestEnv(t)
	alice := createLocalAccount(t, database, "alice")
	createLocalAccount(t, database, "dave")
	dave := env.ActorURI("dave")

	msg, report, err := env.SendChatMessage(context.Background(), alice, dave, "lunch?")
	require.NoError(t, err)
	assert.Empty(t, report.Delivered)
	assert.Empty(t, report.Queued)

	notes, err := database.ReadNotifications(dave)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationChat, notes[0].Kind)
	assert.Equal(t, env.ActorURI("alice"), notes[0].ActorURI)
	assert.Equal(t, msg.URI, notes[0].ObjectURI)

	notes, err = database.ReadNotifications(env.ActorURI("alice"))
	require.NoError(t, err)
	assert.Empty(t, notes, "the sender is not notified")
}

func TestHandleEmojiReactForwardsAsAnnounce(t *testing.T) {
	env, database := setupTestEnv(t)
	alice := createLocalAccount(t, database, "alice")
	remote := newRemoteInstance(t)
	carol := remote.addActor("carol", nil)
	addFollower(t, database, carol, env.ActorURI(alice.Username))

	post, _, err := env.PublishNote(context.Background(), alice, "react to me", domain.VisibilityPublic, nil, "")
	require.NoError(t, err)

	react := `{"id":"https://remote.example/reactions/9","type":"EmojiReact","actor":"` + bobURI + `",` +
		`"object":"` + post.ObjectURI + `","content":"🔥","to":["https://www.w3.org/ns/activitystreams#Public"]}`
	require.NoError(t, dispatch(t, env, react))
	// a redelivery is not forwarded twice
	require.NoError(t, dispatch(t, env, react))

	got := remote.received("/users/carol/inbox")
	require.Len(t, got, 2, "carol gets the note and one forward")

	forwarded, err := ParseActivity([]byte(got[1]))
	require.NoError(t, err)
	announce, ok := forwarded.(*Announce)
	require.True(t, ok, "forwarded as %T", forwarded)
	assert.Equal(t, "https://remote.example/reactions/9", announce.Object)

	_, err = verifyAsReceiver(t, env, alice, remote.signedRequests("/users/carol/inbox")[1])
	assert.NoError(t, err)
}
