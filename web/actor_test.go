package web

import (
	"net/http"
	"strings"
	"testing"

	"github.com/deemkeen/fedsync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorDocument(t *testing.T) {
	ts := setupServer(t, true)
	ts.createAccount(t, "alice")

	w := ts.get(t, "/users/alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/activity+json")

	doc := decode(t, w)
	assert.Equal(t, "https://local.example/users/alice", doc["id"])
	assert.Equal(t, "Person", doc["type"])
	assert.Equal(t, "alice", doc["preferredUsername"])
	assert.Equal(t, "alice", doc["name"])
	assert.Equal(t, "https://local.example/users/alice/inbox", doc["inbox"])
	assert.Equal(t, "https://local.example/users/alice/outbox", doc["outbox"])
	assert.Equal(t, "https://local.example/users/alice/followers", doc["followers"])
	assert.Equal(t, false, doc["manuallyApprovesFollowers"])
	assert.Equal(t, map[string]any{"sharedInbox": "https://local.example/inbox"}, doc["endpoints"])

	key := doc["publicKey"].(map[string]any)
	assert.Equal(t, "https://local.example/users/alice#main-key", key["id"])
	assert.Equal(t, "https://local.example/users/alice", key["owner"])
	assert.True(t, strings.HasPrefix(key["publicKeyPem"].(string), "-----BEGIN PUBLIC KEY-----"))
}

func TestActorNotFound(t *testing.T) {
	ts := setupServer(t, true)

	w := ts.get(t, "/users/nobody")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String())
}

func TestFollowersCollection(t *testing.T) {
	ts := setupServer(t, true)
	ts.createAccount(t, "alice")

	for _, f := range []string{"https://a.example/users/x", "https://b.example/users/y"} {
		require.NoError(t, ts.db.UpsertFollower(&domain.Follower{
			FollowerURI: f,
			FollowedURI: "https://local.example/users/alice",
			Origin:      "remote",
			Accepted:    true,
		}))
	}

	w := ts.get(t, "/users/alice/followers")
	require.Equal(t, http.StatusOK, w.Code)

	doc := decode(t, w)
	assert.Equal(t, "OrderedCollection", doc["type"])
	assert.Equal(t, "https://local.example/users/alice/followers", doc["id"])
	assert.EqualValues(t, 2, doc["totalItems"])
}

func TestNoteObject(t *testing.T) {
	ts := setupServer(t, true)
	alice := ts.createAccount(t, "alice")

	public := ts.publish(t, alice, "hello fediverse", domain.VisibilityPublic)
	private := ts.publish(t, alice, "followers only", domain.VisibilityPrivate)

	w := ts.get(t, strings.TrimPrefix(public.ObjectURI, "https://local.example"))
	require.Equal(t, http.StatusOK, w.Code)

	doc := decode(t, w)
	assert.Equal(t, "https://www.w3.org/ns/activitystreams", doc["@context"])
	assert.Equal(t, public.ObjectURI, doc["id"])
	assert.Equal(t, "Note", doc["type"])
	assert.Equal(t, "https://local.example/users/alice", doc["attributedTo"])
	assert.Equal(t, "hello fediverse", doc["content"])
	assert.Equal(t, []any{"https://www.w3.org/ns/activitystreams#Public"}, doc["to"])

	w = ts.get(t, strings.TrimPrefix(private.ObjectURI, "https://local.example"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.get(t, "/notes/does-not-exist")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
