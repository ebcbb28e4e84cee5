package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webfingerDocument struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

// actorPathPatterns are tried when a server has no usable WebFinger.
var actorPathPatterns = []string{"/users/%s", "/@%s", "/accounts/%s", "/u/%s", "/actor/%s"}

// DiscoverActor turns "user@domain" (optionally prefixed with "@" or
// "acct:") into an actor URI. Actor URIs are returned unchanged.
func (e *Env) DiscoverActor(ctx context.Context, handle string) (string, error) {
	if strings.HasPrefix(handle, "https://") || strings.HasPrefix(handle, "http://") {
		return handle, nil
	}

	handle = strings.TrimPrefix(strings.TrimPrefix(handle, "acct:"), "@")
	username, host, ok := strings.Cut(handle, "@")
	if !ok || username == "" || host == "" {
		return "", fmt.Errorf("invalid handle %q: %w", handle, ErrUnresolvableActor)
	}

	actor, err := e.webfinger(ctx, username, host)
	if err == nil {
		return actor, nil
	}
	e.Log.Debug("Actors: WebFinger lookup failed", zap.String("handle", handle), zap.Error(err))

	for _, pattern := range actorPathPatterns {
		candidate := "https://" + host + fmt.Sprintf(pattern, url.PathEscape(username))
		if _, err := e.fetchDocument(ctx, candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no actor found for %s: %w", handle, ErrUnresolvableActor)
}

func (e *Env) webfinger(ctx context.Context, username, host string) (string, error) {
	resource := "acct:" + username + "@" + host
	endpoint := "https://" + host + "/.well-known/webfinger?resource=" + url.QueryEscape(resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webfinger returned status: %d", resp.StatusCode)
	}

	var doc webfingerDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode webfinger: %w", err)
	}

	for _, link := range doc.Links {
		if link.Rel != "self" || link.Href == "" {
			continue
		}
		if strings.HasPrefix(link.Type, ContentType) || strings.HasPrefix(link.Type, "application/ld+json") {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("no self link for %s", resource)
}
