package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account is a local actor. Only local actors carry a private key.
type Account struct {
	Id            uuid.UUID
	Username      string
	DisplayName   string
	Summary       string
	WebPublicKey  string
	WebPrivateKey string
	CreatedAt     time.Time
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCREATED_AT: %s)", acc.Id, acc.Username, acc.CreatedAt)
}

// RemoteAccount represents a cached federated actor
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string
	ActorURI       string
	DisplayName    string
	Summary        string
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	FollowersURI   string
	PublicKeyId    string
	PublicKeyPem   string
	LastFetchedAt  time.Time
}

// DeliveryInbox returns the endpoint activities for this actor are POSTed to.
// The personal inbox wins, the shared inbox is the fallback.
func (ra *RemoteAccount) DeliveryInbox() string {
	if ra.InboxURI != "" {
		return ra.InboxURI
	}
	return ra.SharedInboxURI
}

// IsFresh reports whether the cached copy is younger than maxAge.
func (ra *RemoteAccount) IsFresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(ra.LastFetchedAt) < maxAge
}
