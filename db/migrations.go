package db

import (
	"database/sql"

	"go.uber.org/zap"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		web_public_key TEXT NOT NULL,
		web_private_key TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Remote actor cache
	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		display_name TEXT,
		summary TEXT,
		inbox_uri TEXT,
		shared_inbox_uri TEXT,
		outbox_uri TEXT,
		followers_uri TEXT,
		public_key_id TEXT,
		public_key_pem TEXT NOT NULL,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRemoteAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
	`

	// Activities log table (for deduplication, Undo lookups & reprocessing)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT,
		raw_json TEXT NOT NULL,
		processed INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		local INTEGER DEFAULT 0
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_processed ON activities(processed);
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		id TEXT NOT NULL PRIMARY KEY,
		follower_uri TEXT NOT NULL,
		followed_uri TEXT NOT NULL,
		origin TEXT NOT NULL,
		uri TEXT,
		accepted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_uri, followed_uri)
	)`

	sqlCreateFollowersIndices = `
		CREATE INDEX IF NOT EXISTS idx_followers_followed_uri ON followers(followed_uri);
		CREATE INDEX IF NOT EXISTS idx_followers_origin ON followers(origin);
		CREATE INDEX IF NOT EXISTS idx_followers_uri ON followers(uri);
	`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		object_uri TEXT UNIQUE NOT NULL,
		activity_uri TEXT,
		author_uri TEXT NOT NULL,
		origin TEXT NOT NULL,
		content TEXT,
		summary TEXT,
		in_reply_to TEXT,
		visibility TEXT DEFAULT 'public',
		extensions TEXT,
		raw_json TEXT,
		local INTEGER DEFAULT 0,
		published TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_author_uri ON posts(author_uri);
		CREATE INDEX IF NOT EXISTS idx_posts_published ON posts(published DESC);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL,
		uri TEXT,
		origin TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_uri, object_uri)
	)`

	sqlCreateBoostsTable = `CREATE TABLE IF NOT EXISTS boosts (
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL,
		uri TEXT,
		origin TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_uri, object_uri)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_object_uri ON likes(object_uri);
		CREATE INDEX IF NOT EXISTS idx_boosts_object_uri ON boosts(object_uri);
	`

	sqlCreateReactionsTable = `CREATE TABLE IF NOT EXISTS reactions (
		id TEXT NOT NULL PRIMARY KEY,
		actor_uri TEXT NOT NULL,
		target_uri TEXT NOT NULL,
		emoji TEXT NOT NULL,
		uri TEXT,
		origin TEXT,
		local INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_uri, target_uri, emoji)
	)`

	sqlCreateReactionsIndices = `
		CREATE INDEX IF NOT EXISTS idx_reactions_target_uri ON reactions(target_uri);
	`

	sqlCreateChatMessagesTable = `CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		object_uri TEXT,
		sender_uri TEXT NOT NULL,
		recipients TEXT NOT NULL,
		content TEXT,
		mentions TEXT,
		emojis TEXT,
		origin TEXT,
		local INTEGER DEFAULT 0,
		published TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		recipient_uri TEXT NOT NULL,
		actor_uri TEXT,
		object_uri TEXT,
		content TEXT,
		read INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateNotificationsIndices = `
		CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_uri, created_at DESC);
	`

	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS federated_instances (
		domain TEXT NOT NULL PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'active',
		first_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Delivery queue table
	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL DEFAULT '',
		recipient_uri TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`

	// Full text index over post content
	sqlCreatePostsFTS = `CREATE VIRTUAL TABLE IF NOT EXISTS posts_fts USING fts5(object_uri UNINDEXED, content)`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"accounts", sqlCreateAccountsTable},
			{"remote_accounts", sqlCreateRemoteAccountsTable},
			{"activities", sqlCreateActivitiesTable},
			{"followers", sqlCreateFollowersTable},
			{"posts", sqlCreatePostsTable},
			{"likes", sqlCreateLikesTable},
			{"boosts", sqlCreateBoostsTable},
			{"reactions", sqlCreateReactionsTable},
			{"chat_messages", sqlCreateChatMessagesTable},
			{"notifications", sqlCreateNotificationsTable},
			{"federated_instances", sqlCreateInstancesTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		indices := []struct {
			name string
			sql  string
		}{
			{"remote_accounts", sqlCreateRemoteAccountsIndices},
			{"activities", sqlCreateActivitiesIndices},
			{"followers", sqlCreateFollowersIndices},
			{"posts", sqlCreatePostsIndices},
			{"likes", sqlCreateLikesIndices},
			{"reactions", sqlCreateReactionsIndices},
			{"notifications", sqlCreateNotificationsIndices},
			{"delivery_queue", sqlCreateDeliveryQueueIndices},
		}
		for _, index := range indices {
			if _, err := tx.Exec(index.sql); err != nil {
				db.log.Warn("Failed to create indices", zap.String("table", index.name), zap.Error(err))
			}
		}

		// Search is best effort, a build without FTS5 still federates.
		if _, err := tx.Exec(sqlCreatePostsFTS); err != nil {
			db.log.Warn("Failed to create posts_fts, search disabled", zap.Error(err))
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		db.log.Error("Failed to create table", zap.String("table", tableName), zap.Error(err))
		return err
	}
	return nil
}
