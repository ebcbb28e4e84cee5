package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is a direct message. Messages are append-only, the activity URI
// is the dedupe key.
type ChatMessage struct {
	Id         uuid.UUID
	URI        string // ChatMessage activity URI
	ObjectURI  string
	SenderURI  string
	Recipients []string
	Content    string
	Mentions   []string
	Emojis     []string
	Origin     string
	Local      bool
	Published  time.Time
	CreatedAt  time.Time
}

type NotificationKind string

const (
	NotificationChat NotificationKind = "chat"
)

type Notification struct {
	Id           uuid.UUID
	Kind         NotificationKind
	RecipientURI string
	ActorURI     string
	ObjectURI    string
	Content      string
	Read         bool
	CreatedAt    time.Time
}
