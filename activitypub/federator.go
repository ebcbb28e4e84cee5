package activitypub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/deemkeen/fedsync/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FanoutReport lists recipient actor URIs by outcome. Recipients sharing
// an inbox share its outcome.
type FanoutReport struct {
	Delivered []string
	Queued    []string
	// Dropped could neither be delivered nor queued.
	Dropped []string
}

// Federate delivers a to everyone it addresses: sender's followers on
// active instances when a is addressed to Public or to sender's followers,
// plus every remote actor named in to/cc. A failed recipient is queued for
// retry and does not fail the call.
func (e *Env) Federate(ctx context.Context, sender *domain.Account, a Activity) (*FanoutReport, error) {
	actor := e.ActorURI(sender.Username)
	base := a.Base()
	addressed := append(slices.Clone(base.To), base.Cc...)

	var recipients []string
	if slices.Contains(addressed, PublicCollection) || slices.Contains(addressed, e.FollowersURI(sender.Username)) {
		followers, err := e.followersOf(actor)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, followers...)
	}
	recipients = append(recipients, e.explicitRecipients(actor, addressed)...)

	return e.fanout(ctx, sender, a, recipients)
}

// FederateFollowers delivers a to sender's followers only, leaving out
// exclude.
func (e *Env) FederateFollowers(ctx context.Context, sender *domain.Account, a Activity, exclude string) (*FanoutReport, error) {
	followers, err := e.followersOf(e.ActorURI(sender.Username))
	if err != nil {
		return nil, err
	}
	followers = slices.DeleteFunc(followers, func(f string) bool { return f == exclude })
	return e.fanout(ctx, sender, a, followers)
}

// FederateTo delivers a to the given actors only.
func (e *Env) FederateTo(ctx context.Context, sender *domain.Account, a Activity, recipients []string) (*FanoutReport, error) {
	return e.fanout(ctx, sender, a, e.explicitRecipients(e.ActorURI(sender.Username), recipients))
}

func (e *Env) followersOf(actor string) ([]string, error) {
	followers, err := e.Store.ReadActiveFollowers(actor)
	if err != nil {
		return nil, fmt.Errorf("failed to read followers of %s: %w", actor, err)
	}
	out := make([]string, 0, len(followers))
	for _, f := range followers {
		if !e.IsLocal(f.FollowerURI) {
			out = append(out, f.FollowerURI)
		}
	}
	return out, nil
}

// explicitRecipients keeps the remote actors in uris that live on active
// instances.
func (e *Env) explicitRecipients(actor string, uris []string) []string {
	var out []string
	for _, uri := range uris {
		switch {
		case uri == "", uri == actor, uri == PublicCollection:
		case isFollowersCollection(uri), e.IsLocal(uri):
		case !e.instanceActive(hostOf(uri)):
			e.Log.Info("Outbox: Skipping recipient on suspended instance", zap.String("recipient", uri))
		default:
			out = append(out, uri)
		}
	}
	return out
}

// instanceActive is true for unknown instances.
func (e *Env) instanceActive(host string) bool {
	fi, err := e.Store.ReadInstance(host)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			e.Log.Warn("Outbox: Failed to read instance", zap.String("host", host), zap.Error(err))
		}
		return true
	}
	return fi.IsActive()
}

// newGroup bounds concurrent remote requests to DeliveryWorkers.
func (e *Env) newGroup() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(max(e.Conf.Conf.DeliveryWorkers, 1))
	return g
}

// fanout resolves every recipient's inbox, then POSTs the payload once per
// distinct inbox. Both steps run with at most DeliveryWorkers requests in
// flight.
func (e *Env) fanout(ctx context.Context, sender *domain.Account, a Activity, recipients []string) (*FanoutReport, error) {
	report := &FanoutReport{}
	slices.Sort(recipients)
	recipients = slices.Compact(recipients)
	if len(recipients) == 0 {
		return report, nil
	}

	payload, err := Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", a.Base().Type, err)
	}
	privateKey, err := ParsePrivateKey(sender.WebPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key of %s: %w", sender.Username, err)
	}

	inboxes := make([]string, len(recipients))
	resolve := e.newGroup()
	for i, recipient := range recipients {
		resolve.Go(func() error {
			inbox, err := e.ResolveInbox(ctx, recipient)
			if err != nil {
				e.Log.Warn("Outbox: Could not resolve inbox", zap.String("recipient", recipient), zap.Error(err))
				return nil
			}
			inboxes[i] = inbox
			return nil
		})
	}
	_ = resolve.Wait()

	byInbox := make(map[string][]string)
	var order []string
	for i, recipient := range recipients {
		inbox := inboxes[i]
		if inbox == "" {
			e.queue(report, sender, "", recipient, payload, []string{recipient})
			continue
		}
		if _, seen := byInbox[inbox]; !seen {
			order = append(order, inbox)
		}
		byInbox[inbox] = append(byInbox[inbox], recipient)
	}

	var mu sync.Mutex
	deliver := e.newGroup()
	for _, inbox := range order {
		deliver.Go(func() error {
			err := e.deliverSigned(ctx, privateKey, e.KeyId(sender.Username), inbox, payload)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.Log.Warn("Outbox: Delivery failed, queued for retry", zap.String("inbox", inbox), zap.Error(err))
				e.queue(report, sender, inbox, byInbox[inbox][0], payload, byInbox[inbox])
				return nil
			}
			report.Delivered = append(report.Delivered, byInbox[inbox]...)
			return nil
		})
	}
	_ = deliver.Wait()

	sort.Strings(report.Delivered)
	sort.Strings(report.Queued)
	sort.Strings(report.Dropped)

	e.Log.Info("Outbox: Fan-out finished",
		zap.String("id", a.Base().ID),
		zap.Int("delivered", len(report.Delivered)),
		zap.Int("queued", len(report.Queued)),
		zap.Int("dropped", len(report.Dropped)))
	return report, nil
}

// queue puts a failed delivery on the retry queue and records the outcome
// for recipients.
func (e *Env) queue(report *FanoutReport, sender *domain.Account, inbox, recipient string, payload []byte, recipients []string) {
	err := e.Queue.EnqueueDelivery(&domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inbox,
		RecipientURI: recipient,
		AccountId:    sender.Id,
		ActivityJSON: string(payload),
	})
	if err != nil {
		e.Log.Error("Outbox: Failed to queue delivery", zap.String("recipient", recipient), zap.Error(err))
		report.Dropped = append(report.Dropped, recipients...)
		return
	}
	report.Queued = append(report.Queued, recipients...)
}
