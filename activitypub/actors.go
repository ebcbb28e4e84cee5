package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/fedsync/domain"
	"github.com/deemkeen/fedsync/util"
	"go.uber.org/zap"
)

// actorFreshness is how long a stored actor document is trusted before it
// is fetched again.
const actorFreshness = 24 * time.Hour

const maxDocumentSize = 1 << 20

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           any    `json:"@context"`
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name"`
	Summary           string `json:"summary"`
	Inbox             string `json:"inbox"`
	Outbox            string `json:"outbox"`
	Followers         string `json:"followers"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

func userAgent() string {
	return fmt.Sprintf("%s/%s ActivityPub", util.Name, util.GetVersion())
}

// fetchDocument GETs an ActivityPub document.
func (e *Env) fetchDocument(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", userAgent())

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch of %s failed with status: %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// FetchRemoteActor fetches an actor document. Nothing is stored; see
// RememberActor.
func (e *Env) FetchRemoteActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	body, err := e.fetchDocument(ctx, actorURI)
	if err != nil {
		return nil, err
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}
	if actor.ID != actorURI {
		return nil, fmt.Errorf("actor document %s claims id %s", actorURI, actor.ID)
	}

	return &domain.RemoteAccount{
		Username:       actor.PreferredUsername,
		Domain:         hostOf(actor.ID),
		ActorURI:       actor.ID,
		DisplayName:    actor.Name,
		Summary:        actor.Summary,
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.Endpoints.SharedInbox,
		OutboxURI:      actor.Outbox,
		FollowersURI:   actor.Followers,
		PublicKeyId:    actor.PublicKey.ID,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		LastFetchedAt:  e.now(),
	}, nil
}

// LookupActor returns an actor from the in-memory cache, the database (if
// fetched within the last 24h) or the network, in that order. fetched is
// true when the result came from the network and is not stored yet.
func (e *Env) LookupActor(ctx context.Context, actorURI string) (acc *domain.RemoteAccount, fetched bool, err error) {
	if cached, ok := e.Cache.Get(actorURI); ok {
		return cached, false, nil
	}

	stored, err := e.Store.ReadRemoteAccountByURI(actorURI)
	if err == nil && stored.IsFresh(e.now(), actorFreshness) {
		e.Cache.Add(actorURI, stored)
		return stored, false, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		e.Log.Warn("Actors: failed to read stored actor", zap.String("actor", actorURI), zap.Error(err))
	}

	acc, err = e.FetchRemoteActor(ctx, actorURI)
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// RememberActor stores a fetched actor and puts it in the cache.
func (e *Env) RememberActor(acc *domain.RemoteAccount) error {
	if err := e.Store.UpsertRemoteAccount(acc); err != nil {
		return fmt.Errorf("failed to store remote account: %w", err)
	}
	e.Cache.Add(acc.ActorURI, acc)
	return nil
}

// GetOrFetchActor returns actor from cache or fetches if not cached/stale
func (e *Env) GetOrFetchActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	acc, fetched, err := e.LookupActor(ctx, actorURI)
	if err != nil {
		return nil, err
	}
	if fetched {
		if err := e.RememberActor(acc); err != nil {
			e.Log.Warn("Actors: failed to remember actor", zap.String("actor", actorURI), zap.Error(err))
		}
	}
	return acc, nil
}

// ResolveInbox returns the inbox activities for actorURI are delivered to.
// The personal inbox is preferred over the shared inbox.
func (e *Env) ResolveInbox(ctx context.Context, actorURI string) (string, error) {
	acc, err := e.GetOrFetchActor(ctx, actorURI)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnresolvableActor, actorURI, err)
	}
	inbox := acc.DeliveryInbox()
	if inbox == "" {
		return "", fmt.Errorf("%w: %s declares no inbox", ErrUnresolvableActor, actorURI)
	}
	return inbox, nil
}

// FetchObject dereferences an object given by reference.
func (e *Env) FetchObject(ctx context.Context, uri string) (*Object, error) {
	body, err := e.fetchDocument(ctx, uri)
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse object JSON: %w", err)
	}
	if obj.ID != uri {
		return nil, fmt.Errorf("object document %s claims id %s", uri, obj.ID)
	}
	return &obj, nil
}
