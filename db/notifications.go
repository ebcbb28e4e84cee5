package db

import (
	"database/sql"

	"github.com/deemkeen/fedsync/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertNotification  = `INSERT INTO notifications(id, kind, recipient_uri, actor_uri, object_uri, content, read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectNotifications = `SELECT id, kind, recipient_uri, actor_uri, object_uri, content, read, created_at FROM notifications WHERE recipient_uri = ? ORDER BY created_at DESC`
)

func (db *DB) CreateNotification(n *domain.Notification) error {
	if n.Id == uuid.Nil {
		n.Id = uuid.New()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNotification,
			n.Id.String(),
			string(n.Kind),
			n.RecipientURI,
			n.ActorURI,
			n.ObjectURI,
			n.Content,
			n.Read,
			nowOr(n.CreatedAt),
		)
		return err
	})
}

func (db *DB) ReadNotifications(recipientURI string) ([]domain.Notification, error) {
	rows, err := db.db.Query(sqlSelectNotifications, recipientURI)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var idStr, kind string
		var actor, object, content sql.NullString
		if err := rows.Scan(&idStr, &kind, &n.RecipientURI, &actor, &object, &content, &n.Read, &n.CreatedAt); err != nil {
			return notifications, err
		}
		n.Id, _ = uuid.Parse(idStr)
		n.Kind = domain.NotificationKind(kind)
		n.ActorURI = actor.String
		n.ObjectURI = object.String
		n.Content = content.String
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
