package activitypub

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/fedsync/db"
	"github.com/deemkeen/fedsync/domain"
	"github.com/deemkeen/fedsync/util"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Store is the persistence the federation code reads and writes.
// *db.DB implements it.
type Store interface {
	ReadAccByUsername(username string) (*domain.Account, error)
	ReadAccById(id uuid.UUID) (*domain.Account, error)

	ReadRemoteAccountByURI(uri string) (*domain.RemoteAccount, error)
	UpsertRemoteAccount(acc *domain.RemoteAccount) error

	ReadInstance(host string) (*domain.FederatedInstance, error)
	TouchInstance(host string) error

	CreateActivity(activity *domain.Activity) (bool, error)
	ReadActivityByURI(uri string) (*domain.Activity, error)
	MarkActivityProcessed(uri string) error

	UpsertPost(post *domain.Post) (bool, error)
	ReadPostByObjectURI(uri string) (*domain.Post, error)
	UpsertLike(like *domain.Like) (bool, error)
	DeleteLike(actorURI, objectURI string) (bool, error)
	UpsertBoost(boost *domain.Boost) (bool, error)
	DeleteBoost(actorURI, objectURI string) (bool, error)
	UpsertFollower(follower *domain.Follower) error
	DeleteFollower(followerURI, followedURI string) (bool, error)
	ReadFollowByURI(uri string) (*domain.Follower, error)
	AcceptFollow(followerURI, followedURI string) (bool, error)
	ReadActiveFollowers(followedURI string) ([]domain.Follower, error)
	UpsertReaction(reaction *domain.Reaction) (bool, error)
	DeleteReaction(actorURI, targetURI, emoji string) (bool, error)
	CreateChatMessage(msg *domain.ChatMessage) (bool, error)

	ReadPendingDeliveries(now time.Time, limit int) ([]domain.DeliveryQueueItem, error)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time, inboxURI string) error
	DeleteDelivery(id uuid.UUID) error
}

// DeliveryQueue accepts "redeliver activity X to inbox Y" jobs.
type DeliveryQueue interface {
	EnqueueDelivery(item *domain.DeliveryQueueItem) error
}

// ActorCache memoizes remote actor documents. A miss always falls back to
// the database or a live fetch.
type ActorCache interface {
	Get(actorURI string) (*domain.RemoteAccount, bool)
	Add(actorURI string, acc *domain.RemoteAccount) bool
}

type Indexer interface {
	IndexPost(post *domain.Post) error
}

type Notifier interface {
	CreateNotification(n *domain.Notification) error
}

// Env carries everything the federation components need. There is no
// package level state; every entry point hangs off an Env.
type Env struct {
	Conf     *util.AppConfig
	Store    Store
	Queue    DeliveryQueue
	Indexer  Indexer
	Notifier Notifier
	Cache    ActorCache
	Client   *http.Client
	Log      *zap.Logger
	Now      func() time.Time
}

// NewEnv wires an Env backed by database for storage, queueing, search
// and notifications.
func NewEnv(conf *util.AppConfig, database *db.DB, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Env{
		Conf:     conf,
		Store:    database,
		Queue:    database,
		Indexer:  database,
		Notifier: database,
		Cache:    NewActorCache(conf.Conf.ActorCacheSize, conf.Conf.ActorCacheTTL),
		Client:   &http.Client{Timeout: conf.Conf.HttpTimeout},
		Log:      logger,
		Now:      time.Now,
	}
}

func NewActorCache(size int, ttl time.Duration) *expirable.LRU[string, *domain.RemoteAccount] {
	return expirable.NewLRU[string, *domain.RemoteAccount](size, nil, ttl)
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) BaseURL() string {
	return "https://" + e.Conf.Conf.SslDomain
}

func (e *Env) ActorURI(username string) string {
	return fmt.Sprintf("%s/users/%s", e.BaseURL(), username)
}

func (e *Env) KeyId(username string) string {
	return e.ActorURI(username) + "#main-key"
}

func (e *Env) FollowersURI(username string) string {
	return e.ActorURI(username) + "/followers"
}

func (e *Env) NoteURI(id uuid.UUID) string {
	return fmt.Sprintf("%s/notes/%s", e.BaseURL(), id)
}

func (e *Env) NewActivityID() string {
	return fmt.Sprintf("%s/activities/%s", e.BaseURL(), uuid.New())
}

// LocalUsername returns the username of a local actor URI.
func (e *Env) LocalUsername(actorURI string) (string, bool) {
	prefix := e.BaseURL() + "/users/"
	if !strings.HasPrefix(actorURI, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(actorURI, prefix)
	if name == "" || strings.ContainsAny(name, "/#?") {
		return "", false
	}
	return name, true
}

// IsLocal reports whether uri points at this server.
func (e *Env) IsLocal(uri string) bool {
	return hostOf(uri) == e.Conf.Conf.SslDomain
}

// hostOf extracts the instance of a URI, port included.
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func hostOf(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return parsed.Host
}
