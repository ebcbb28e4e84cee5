package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/fedsync/domain"
	"go.uber.org/zap"
)

const deliveryBatchSize = 50

// backoff is the wait after the n-th failed attempt. The last step repeats.
var backoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

func backoffFor(attempts int) time.Duration {
	return backoff[min(max(attempts, 1), len(backoff))-1]
}

// Deliver POSTs payload to inbox, signed with sender's key.
func (e *Env) Deliver(ctx context.Context, sender *domain.Account, inbox string, payload []byte) error {
	privateKey, err := ParsePrivateKey(sender.WebPrivateKey)
	if err != nil {
		return fmt.Errorf("%w: failed to parse private key: %v", ErrDeliveryFailure, err)
	}
	return e.deliverSigned(ctx, privateKey, e.KeyId(sender.Username), inbox, payload)
}

func (e *Env) deliverSigned(ctx context.Context, privateKey *rsa.PrivateKey, keyId, inbox string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrDeliveryFailure, err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Date", e.now().UTC().Format(http.TimeFormat))

	if err := SignRequest(req, privateKey, keyId, payload); err != nil {
		return fmt.Errorf("%w: failed to sign request: %v", ErrDeliveryFailure, err)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned status %d", ErrDeliveryFailure, inbox, resp.StatusCode)
	}
	return nil
}

// DeliveryWorker retries queued deliveries.
type DeliveryWorker struct {
	env *Env
}

func NewDeliveryWorker(env *Env) *DeliveryWorker {
	return &DeliveryWorker{env: env}
}

// Run processes the queue every DeliveryInterval until ctx is done.
func (w *DeliveryWorker) Run(ctx context.Context) {
	w.env.Log.Info("DeliveryWorker: Starting", zap.Duration("interval", w.env.Conf.Conf.DeliveryInterval))

	ticker := time.NewTicker(w.env.Conf.Conf.DeliveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.env.Log.Info("DeliveryWorker: Stopped")
			return
		case <-ticker.C:
			w.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue makes one attempt at every item that is due.
func (w *DeliveryWorker) ProcessQueue(ctx context.Context) {
	e := w.env
	items, err := e.Store.ReadPendingDeliveries(e.now(), deliveryBatchSize)
	if err != nil {
		e.Log.Error("DeliveryWorker: Failed to read queue", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	e.Log.Info("DeliveryWorker: Processing pending deliveries", zap.Int("count", len(items)))
	for i := range items {
		if ctx.Err() != nil {
			return
		}
		w.attempt(ctx, &items[i])
	}
}

func (w *DeliveryWorker) attempt(ctx context.Context, item *domain.DeliveryQueueItem) {
	e := w.env

	sender, err := e.Store.ReadAccById(item.AccountId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			e.Log.Warn("DeliveryWorker: Sender gone, dropping delivery", zap.String("id", item.Id.String()))
			w.remove(item)
			return
		}
		e.Log.Error("DeliveryWorker: Failed to read sender", zap.Error(err))
		return
	}

	if item.InboxURI == "" {
		inbox, err := e.ResolveInbox(ctx, item.RecipientURI)
		if err != nil {
			w.fail(item, err)
			return
		}
		item.InboxURI = inbox
	}

	if err := e.Deliver(ctx, sender, item.InboxURI, []byte(item.ActivityJSON)); err != nil {
		w.fail(item, err)
		return
	}

	e.Log.Info("DeliveryWorker: Successfully delivered", zap.String("inbox", item.InboxURI))
	w.remove(item)
}

func (w *DeliveryWorker) fail(item *domain.DeliveryQueueItem, cause error) {
	e := w.env
	item.Attempts++
	if item.Attempts >= e.Conf.Conf.MaxDeliveryAttempts {
		e.Log.Warn("DeliveryWorker: Giving up on delivery",
			zap.String("recipient", item.RecipientURI),
			zap.String("inbox", item.InboxURI),
			zap.Int("attempts", item.Attempts),
			zap.Error(cause))
		w.remove(item)
		return
	}

	wait := backoffFor(item.Attempts)
	item.NextRetryAt = e.now().Add(wait)
	e.Log.Info("DeliveryWorker: Delivery failed, will retry",
		zap.String("recipient", item.RecipientURI),
		zap.Int("attempt", item.Attempts),
		zap.Duration("retryIn", wait),
		zap.Error(cause))
	if err := e.Store.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt, item.InboxURI); err != nil {
		e.Log.Error("DeliveryWorker: Failed to update queue item", zap.Error(err))
	}
}

func (w *DeliveryWorker) remove(item *domain.DeliveryQueueItem) {
	if err := w.env.Store.DeleteDelivery(item.Id); err != nil {
		w.env.Log.Error("DeliveryWorker: Failed to delete queue item", zap.Error(err))
	}
}
