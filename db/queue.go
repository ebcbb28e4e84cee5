package db

import (
	"database/sql"
	"time"

	"github.com/deemkeen/fedsync/domain"
	"github.com/google/uuid"
)

// Delivery Queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, inbox_uri, recipient_uri, account_id, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDelivery          = `SELECT id, inbox_uri, recipient_uri, account_id, activity_json, attempts, next_retry_at, created_at FROM delivery_queue`
	sqlSelectPendingDeliveries = sqlSelectDelivery + ` WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlSelectAllDeliveries     = sqlSelectDelivery + ` ORDER BY created_at ASC`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ?, inbox_uri = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

// EnqueueDelivery adds a redelivery job. Items without NextRetryAt are due
// immediately.
func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = now
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.InboxURI,
			item.RecipientURI,
			item.AccountId.String(),
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt.UTC(),
			item.CreatedAt.UTC(),
		)
		return err
	})
}

// ReadPendingDeliveries returns up to limit items due at or before now.
func (db *DB) ReadPendingDeliveries(now time.Time, limit int) ([]domain.DeliveryQueueItem, error) {
	return db.queryDeliveries(sqlSelectPendingDeliveries, now.UTC(), limit)
}

func (db *DB) ReadAllDeliveries() ([]domain.DeliveryQueueItem, error) {
	return db.queryDeliveries(sqlSelectAllDeliveries)
}

// UpdateDeliveryAttempt reschedules a failed item. inboxURI carries a
// resolution made by the worker so the next attempt can skip it.
func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time, inboxURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry.UTC(), inboxURI, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}

func (db *DB) queryDeliveries(query string, args ...any) ([]domain.DeliveryQueueItem, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr, accountIdStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.RecipientURI, &accountIdStr, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return items, err
		}
		item.Id, _ = uuid.Parse(idStr)
		item.AccountId, _ = uuid.Parse(accountIdStr)
		items = append(items, item)
	}
	return items, rows.Err()
}
