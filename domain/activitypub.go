package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follower is a (follower, followed) pair. FollowerURI and FollowedURI are
// actor URIs, either side may be local.
type Follower struct {
	Id          uuid.UUID
	FollowerURI string
	FollowedURI string
	Origin      string // host of the follower
	URI         string // Follow activity URI
	Accepted    bool
	CreatedAt   time.Time
}

// Like represents a like/favorite on an object
type Like struct {
	Id        uuid.UUID
	ActorURI  string
	ObjectURI string
	URI       string // Like activity URI
	Origin    string
	CreatedAt time.Time
}

// Boost represents an Announce of an object
type Boost struct {
	Id        uuid.UUID
	ActorURI  string
	ObjectURI string
	URI       string // Announce activity URI
	Origin    string
	CreatedAt time.Time
}

// Reaction is an emoji reaction, unique per (actor, target, emoji)
type Reaction struct {
	Id        uuid.UUID
	ActorURI  string
	TargetURI string
	Emoji     string
	URI       string // EmojiReact activity URI
	Origin    string
	Local     bool
	CreatedAt time.Time
}

// Activity represents an ActivityPub activity (for logging/deduplication)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool // true if originated from this server
}

// DeliveryQueueItem is one pending "deliver activity X to inbox Y" job.
// InboxURI is empty when the recipient could not be resolved at fan-out time;
// the worker resolves RecipientURI again before delivering.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	RecipientURI string
	AccountId    uuid.UUID // local sender whose key signs the request
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstanceSuspended InstanceStatus = "suspended"
)

// FederatedInstance is a remote host we have exchanged activities with.
type FederatedInstance struct {
	Domain    string
	Status    InstanceStatus
	FirstSeen time.Time
	LastSeen  time.Time
}

func (fi *FederatedInstance) IsActive() bool {
	return fi.Status != InstanceSuspended
}
