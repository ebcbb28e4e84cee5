package activitypub

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deemkeen/fedsync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postInbox(t *testing.T, env *Env, body string, keyId string) int {
	t.Helper()
	req := signedInboxRequest(t, "/inbox", []byte(body), keyId)
	rec := httptest.NewRecorder()
	env.HandleInbox(rec, req)
	return rec.Code
}

func TestInboxFollowThenUndoTwice(t *testing.T) {
	env, database := setupTestEnv(t)
	alice := createLocalAccount(t, database, "alice")
	remote := newRemoteInstance(t)
	bob := remote.addActor("bob", nil)
	aliceURI := env.ActorURI(alice.Username)

	follow := `{"@context":"https://www.w3.org/ns/activitystreams","id":"` + bob + `#follows/1","type":"Follow","actor":"` + bob + `","object":"` + aliceURI + `"}`
	assert.Equal(t, http.StatusAccepted, postInbox(t, env, follow, bob+"#main-key"))

	followers, err := database.ReadFollowers(aliceURI)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, bob, followers[0].FollowerURI)

	items, err := database.ReadAllDeliveries()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, bob+"/inbox", items[0].InboxURI)
	_, ok := mustParse(t, items[0].ActivityJSON).(*Accept)
	assert.True(t, ok)

	stored, err := database.ReadRemoteAccountByURI(bob)
	require.NoError(t, err, "verified actor is remembered")
	assert.Equal(t, bob+"/inbox", stored.InboxURI)

	instance, err := database.ReadInstance(remote.host())
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceActive, instance.Status)

	undo := `{"@context":"https://www.w3.org/ns/activitystreams","id":"` + bob + `#follows/1/undo","type":"Undo","actor":"` + bob + `","object":"` + bob + `#follows/1"}`
	assert.Equal(t, http.StatusAccepted, postInbox(t, env, undo, bob+"#main-key"))
	assert.Equal(t, http.StatusAccepted, postInbox(t, env, undo, bob+"#main-key"))

	count, err := database.CountFollowers(aliceURI)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInboxRejectsBadSignatureWithoutSideEffects(t *testing.T) {
	env, database := setupTestEnv(t)
	createLocalAccount(t, database, "alice")
	remote := newRemoteInstance(t)
	bob := remote.addActor("bob", nil)
	mallory := remote.addActor("mallory", nil)

	follow := `{"id":"` + bob + `#follows/1","type":"Follow","actor":"` + bob + `","object":"` + env.ActorURI("alice") + `"}`
	assert.Equal(t, http.StatusUnauthorized, postInbox(t, env, follow, mallory+"#main-key"))

	unsigned := httptest.NewRequest(http.MethodPost, "https://"+testDomain+"/inbox", strings.NewReader(follow))
	rec := httptest.NewRecorder()
	env.HandleInbox(rec, unsigned)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := database.ReadActivityByURI(bob + "#follows/1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = database.ReadRemoteAccountByURI(bob)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = database.ReadInstance(remote.host())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	count, err := database.CountFollowers(env.ActorURI("alice"))
	require.NoError(t, err)
	assert.Zero(t, count)
	items, err := database.ReadAllDeliveries()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestInboxRejectsMalformedBody(t *testing.T) {
	env, _ := setupTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, postInbox(t, env, `{"type":`, "https://remote.example/users/bob#main-key"))
	assert.Equal(t, http.StatusBadRequest, postInbox(t, env, `{"type":"Like"}`, "https://remote.example/users/bob#main-key"))
}

func TestInboxDuplicateCreate(t *testing.T) {
	env, database := setupTestEnv(t)
	remote := newRemoteInstance(t)
	bob := remote.addActor("bob", nil)

	create := `{
		"id": "` + bob + `/activities/1",
		"type": "Create",
		"actor": "` + bob + `",
		"object": {"id": "` + bob + `/notes/1", "type": "Note", "attributedTo": "` + bob + `", "content": "once",
			"to": ["https://www.w3.org/ns/activitystreams#Public"], "cc": ["` + bob + `/followers"]}
	}`
	assert.Equal(t, http.StatusAccepted, postInbox(t, env, create, bob+"#main-key"))
	assert.Equal(t, http.StatusAccepted, postInbox(t, env, create, bob+"#main-key"))

	post, err := database.ReadPostByObjectURI(bob + "/notes/1")
	require.NoError(t, err)
	assert.Equal(t, "once", post.Content)

	logged, err := database.ReadActivityByURI(bob + "/activities/1")
	require.NoError(t, err)
	assert.True(t, logged.Processed)

	ids, err := database.SearchPosts("once", 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestInboxDropsSuspendedInstance(t *testing.T) {
	env, database := setupTestEnv(t)
	remote := newRemoteInstance(t)
	bob := remote.addActor("bob", nil)
	require.NoError(t, database.SetInstanceStatus(remote.host(), domain.InstanceSuspended))

	like := `{"id":"` + bob + `/likes/1","type":"Like","actor":"` + bob + `","object":"https://local.example/notes/1"}`
	assert.Equal(t, http.StatusAccepted, postInbox(t, env, like, bob+"#main-key"))

	count, err := database.CountLikes("https://local.example/notes/1")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, remote.requestCount(), "no key fetch for a suspended instance")
}

func TestInboxUnknownTypeAccepted(t *testing.T) {
	env, database := setupTestEnv(t)
	remote := newRemoteInstance(t)
	bob := remote.addActor("bob", nil)

	move := `{"id":"` + bob + `/moves/1","type":"Move","actor":"` + bob + `","object":"` + bob + `"}`
	assert.Equal(t, http.StatusAccepted, postInbox(t, env, move, bob+"#main-key"))

	logged, err := database.ReadActivityByURI(bob + "/moves/1")
	require.NoError(t, err)
	assert.Equal(t, "Move", logged.ActivityType)
}
