package activitypub

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/fedsync/db"
	"github.com/deemkeen/fedsync/domain"
	"github.com/deemkeen/fedsync/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testDomain = "local.example"

var (
	keysOnce     sync.Once
	remoteKey    *rsa.PrivateKey
	remotePubPEM string
	localKeys    *util.RsaKeyPair
)

// testKeys generates one remote and one local keypair per test binary.
func testKeys(t *testing.T) {
	t.Helper()
	keysOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			panic(err)
		}
		remoteKey = key
		remotePubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

		localKeys, err = util.GeneratePemKeypair()
		if err != nil {
			panic(err)
		}
	})
}

func setupTestEnv(t *testing.T) (*Env, *db.DB) {
	t.Helper()
	testKeys(t)

	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.ApplyDefaults()
	conf.Conf.HttpTimeout = 5 * time.Second

	return NewEnv(conf, database, zaptest.NewLogger(t)), database
}

func createLocalAccount(t *testing.T, database *db.DB, username string) *domain.Account {
	t.Helper()
	testKeys(t)
	acc, err := database.CreateAccount(username, strings.ToUpper(username[:1])+username[1:], localKeys)
	require.NoError(t, err)
	return acc
}

func addFollower(t *testing.T, database *db.DB, followerURI, followedURI string) {
	t.Helper()
	require.NoError(t, database.UpsertFollower(&domain.Follower{
		FollowerURI: followerURI,
		FollowedURI: followedURI,
		Origin:      hostOf(followerURI),
		URI:         followerURI + "#follows/1",
		Accepted:    true,
	}))
}

// remoteInstance is another server on the network. It serves actor and
// object documents and records what is posted to its inboxes.
type remoteInstance struct {
	server *httptest.Server

	mu       sync.Mutex
	docs     map[string][]byte
	posted   map[string][]string
	signed   map[string][]*http.Request
	down     map[string]bool
	requests int
}

func newRemoteInstance(t *testing.T) *remoteInstance {
	t.Helper()
	testKeys(t)
	ri := &remoteInstance{
		docs:   make(map[string][]byte),
		posted: make(map[string][]string),
		signed: make(map[string][]*http.Request),
		down:   make(map[string]bool),
	}
	ri.server = httptest.NewServer(http.HandlerFunc(ri.serve))
	t.Cleanup(ri.server.Close)
	return ri
}

func (ri *remoteInstance) serve(w http.ResponseWriter, r *http.Request) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.requests++

	if r.Method == http.MethodPost {
		if ri.down[r.URL.Path] {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Signature") == "" || r.Header.Get("Digest") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		ri.posted[r.URL.Path] = append(ri.posted[r.URL.Path], string(body))
		kept := r.Clone(context.Background())
		kept.Body = io.NopCloser(bytes.NewReader(body))
		ri.signed[r.URL.Path] = append(ri.signed[r.URL.Path], kept)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	doc, ok := ri.docs[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.Write(doc)
}

func (ri *remoteInstance) host() string {
	return hostOf(ri.server.URL)
}

// addActor publishes a Person and returns its URI. mutate may adjust the
// document before it is served.
func (ri *remoteInstance) addActor(name string, mutate func(*ActorResponse)) string {
	uri := ri.server.URL + "/users/" + name
	doc := ActorResponse{
		Context:           ActivityStreamsContext,
		ID:                uri,
		Type:              "Person",
		PreferredUsername: name,
		Name:              name,
		Inbox:             uri + "/inbox",
		Outbox:            uri + "/outbox",
		Followers:         uri + "/followers",
	}
	doc.Endpoints.SharedInbox = ri.server.URL + "/inbox"
	doc.PublicKey.ID = uri + "#main-key"
	doc.PublicKey.Owner = uri
	doc.PublicKey.PublicKeyPem = remotePubPEM
	if mutate != nil {
		mutate(&doc)
	}
	ri.setDoc("/users/"+name, doc)
	return uri
}

func (ri *remoteInstance) setDoc(path string, v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	ri.mu.Lock()
	ri.docs[path] = b
	ri.mu.Unlock()
	return ri.server.URL + path
}

func (ri *remoteInstance) setDown(path string) {
	ri.mu.Lock()
	ri.down[path] = true
	ri.mu.Unlock()
}

func (ri *remoteInstance) received(path string) []string {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return append([]string(nil), ri.posted[path]...)
}

// signedRequests returns the POSTs to path as received, headers included.
func (ri *remoteInstance) signedRequests(path string) []*http.Request {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return append([]*http.Request(nil), ri.signed[path]...)
}

func (ri *remoteInstance) requestCount() int {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return ri.requests
}

// signedInboxRequest builds a request to our inbox signed with the remote
// test key under keyId.
func signedInboxRequest(t *testing.T, path string, body []byte, keyId string) *http.Request {
	t.Helper()
	testKeys(t)
	req := httptest.NewRequest(http.MethodPost, "https://"+testDomain+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", ContentType)
	require.NoError(t, SignRequest(req, remoteKey, keyId, body))
	return req
}

func mustParse(t *testing.T, doc string) Activity {
	t.Helper()
	a, err := ParseActivity([]byte(doc))
	require.NoError(t, err)
	return a
}

// verifyAsReceiver checks a captured delivery the way another server
// would: against the key sender publishes and the actor the body claims.
func verifyAsReceiver(t *testing.T, sender *Env, acc *domain.Account, req *http.Request) (*Verification, error) {
	t.Helper()
	receiver, _ := setupTestEnv(t)

	actorURI := sender.ActorURI(acc.Username)
	receiver.Cache.Add(actorURI, &domain.RemoteAccount{
		ActorURI:     actorURI,
		Username:     acc.Username,
		Domain:       testDomain,
		PublicKeyId:  sender.KeyId(acc.Username),
		PublicKeyPem: acc.WebPublicKey,
	})

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	a, err := ParseActivity(body)
	require.NoError(t, err)

	return receiver.VerifyRequest(context.Background(), req, body, a.Base().Actor)
}
