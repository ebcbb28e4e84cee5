package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deemkeen/fedsync/domain"
	"github.com/google/uuid"
)

// Remote Accounts queries
const (
	sqlUpsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, public_key_id, public_key_pem, last_fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_uri) DO UPDATE SET
			username = excluded.username,
			domain = excluded.domain,
			display_name = excluded.display_name,
			summary = excluded.summary,
			inbox_uri = excluded.inbox_uri,
			shared_inbox_uri = excluded.shared_inbox_uri,
			outbox_uri = excluded.outbox_uri,
			followers_uri = excluded.followers_uri,
			public_key_id = excluded.public_key_id,
			public_key_pem = excluded.public_key_pem,
			last_fetched_at = excluded.last_fetched_at`
	sqlSelectRemoteAccountByURI = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, public_key_id, public_key_pem, last_fetched_at FROM remote_accounts WHERE actor_uri = ?`
)

// UpsertRemoteAccount inserts or refreshes the cached copy of a remote actor.
func (db *DB) UpsertRemoteAccount(acc *domain.RemoteAccount) error {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.ActorURI,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.FollowersURI,
			acc.PublicKeyId,
			acc.PublicKeyPem,
			acc.LastFetchedAt.UTC(),
		)
		return err
	})
}

func (db *DB) ReadRemoteAccountByURI(uri string) (*domain.RemoteAccount, error) {
	row := db.db.QueryRow(sqlSelectRemoteAccountByURI, uri)
	var acc domain.RemoteAccount
	var idStr string
	var displayName, summary, inbox, sharedInbox, outbox, followers, keyId sql.NullString
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.ActorURI,
		&displayName,
		&summary,
		&inbox,
		&sharedInbox,
		&outbox,
		&followers,
		&keyId,
		&acc.PublicKeyPem,
		&acc.LastFetchedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.Id, _ = uuid.Parse(idStr)
	acc.DisplayName = displayName.String
	acc.Summary = summary.String
	acc.InboxURI = inbox.String
	acc.SharedInboxURI = sharedInbox.String
	acc.OutboxURI = outbox.String
	acc.FollowersURI = followers.String
	acc.PublicKeyId = keyId.String
	return &acc, nil
}

// Activity queries
const (
	sqlInsertActivity      = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(activity_uri) DO NOTHING`
	sqlMarkActivityDone    = `UPDATE activities SET processed = 1 WHERE activity_uri = ?`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_uri = ?`
)

// CreateActivity logs an activity. It reports false when the activity URI
// was already logged.
func (db *DB) CreateActivity(activity *domain.Activity) (bool, error) {
	if activity.Id == uuid.Nil {
		activity.Id = uuid.New()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}
	var inserted bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Processed,
			activity.Local,
			activity.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		inserted, err = rowsAffected(res)
		return err
	})
	return inserted, err
}

func (db *DB) MarkActivityProcessed(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlMarkActivityDone, uri)
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (*domain.Activity, error) {
	row := db.db.QueryRow(sqlSelectActivityByURI, uri)
	var activity domain.Activity
	var idStr string
	var objectURI sql.NullString
	err := row.Scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&objectURI,
		&activity.RawJSON,
		&activity.Processed,
		&activity.Local,
		&activity.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	activity.Id, _ = uuid.Parse(idStr)
	activity.ObjectURI = objectURI.String
	return &activity, nil
}

// Post queries
const (
	sqlInsertPost = `INSERT INTO posts(id, object_uri, activity_uri, author_uri, origin, content, summary, in_reply_to, visibility, extensions, raw_json, local, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(object_uri) DO NOTHING`
	sqlSelectPost = `SELECT id, object_uri, activity_uri, author_uri, origin, content, summary, in_reply_to, visibility, extensions, raw_json, local, published, created_at FROM posts`

	sqlSelectPostByObjectURI = sqlSelectPost + ` WHERE object_uri = ?`
	sqlSelectPostsByAuthor   = sqlSelectPost + ` WHERE author_uri = ? AND visibility IN ('public', 'unlisted') ORDER BY published DESC LIMIT ? OFFSET ?`
	sqlCountPostsByAuthor    = `SELECT COUNT(*) FROM posts WHERE author_uri = ? AND visibility IN ('public', 'unlisted')`
	sqlCountLocalPosts       = `SELECT COUNT(*) FROM posts WHERE local = 1`
)

// UpsertPost stores a post keyed on its object URI. Re-delivery of a known
// object is a no-op and reports false.
func (db *DB) UpsertPost(post *domain.Post) (bool, error) {
	if post.Id == uuid.Nil {
		post.Id = uuid.New()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now()
	}
	if post.Published.IsZero() {
		post.Published = post.CreatedAt
	}
	if post.Visibility == "" {
		post.Visibility = domain.VisibilityPublic
	}
	extensions, err := marshalJSONColumn(post.Extensions)
	if err != nil {
		return false, err
	}

	var inserted bool
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertPost,
			post.Id.String(),
			post.ObjectURI,
			post.ActivityURI,
			post.AuthorURI,
			post.Origin,
			post.Content,
			post.Summary,
			post.InReplyTo,
			string(post.Visibility),
			extensions,
			post.RawJSON,
			post.Local,
			post.Published.UTC(),
			post.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		inserted, err = rowsAffected(res)
		return err
	})
	return inserted, err
}

func (db *DB) ReadPostByObjectURI(uri string) (*domain.Post, error) {
	return scanPost(db.db.QueryRow(sqlSelectPostByObjectURI, uri))
}

// ReadPublicPostsByAuthor returns the newest public and unlisted posts of an actor.
func (db *DB) ReadPublicPostsByAuthor(authorURI string, limit, offset int) ([]domain.Post, error) {
	rows, err := db.db.Query(sqlSelectPostsByAuthor, authorURI, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return posts, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

func (db *DB) CountPublicPostsByAuthor(authorURI string) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountPostsByAuthor, authorURI).Scan(&n)
	return n, err
}

func (db *DB) CountLocalPosts() (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountLocalPosts).Scan(&n)
	return n, err
}

func scanPost(row rowScanner) (*domain.Post, error) {
	var post domain.Post
	var idStr, visibility string
	var activityURI, content, summary, inReplyTo, extensions, rawJSON sql.NullString
	err := row.Scan(
		&idStr,
		&post.ObjectURI,
		&activityURI,
		&post.AuthorURI,
		&post.Origin,
		&content,
		&summary,
		&inReplyTo,
		&visibility,
		&extensions,
		&rawJSON,
		&post.Local,
		&post.Published,
		&post.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	post.Id, _ = uuid.Parse(idStr)
	post.ActivityURI = activityURI.String
	post.Content = content.String
	post.Summary = summary.String
	post.InReplyTo = inReplyTo.String
	post.Visibility = domain.Visibility(visibility)
	post.RawJSON = rawJSON.String
	if extensions.String != "" {
		if err := json.Unmarshal([]byte(extensions.String), &post.Extensions); err != nil {
			return nil, err
		}
	}
	return &post, nil
}

// Like / Boost queries
const (
	sqlInsertLike  = `INSERT INTO likes(id, actor_uri, object_uri, uri, origin, created_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(actor_uri, object_uri) DO NOTHING`
	sqlDeleteLike  = `DELETE FROM likes WHERE actor_uri = ? AND object_uri = ?`
	sqlCountLikes  = `SELECT COUNT(*) FROM likes WHERE object_uri = ?`
	sqlInsertBoost = `INSERT INTO boosts(id, actor_uri, object_uri, uri, origin, created_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(actor_uri, object_uri) DO NOTHING`
	sqlDeleteBoost = `DELETE FROM boosts WHERE actor_uri = ? AND object_uri = ?`
	sqlCountBoosts = `SELECT COUNT(*) FROM boosts WHERE object_uri = ?`
)

func (db *DB) UpsertLike(like *domain.Like) (bool, error) {
	if like.Id == uuid.Nil {
		like.Id = uuid.New()
	}
	return db.execInserted(sqlInsertLike, like.Id.String(), like.ActorURI, like.ObjectURI, like.URI, like.Origin, nowOr(like.CreatedAt))
}

func (db *DB) DeleteLike(actorURI, objectURI string) (bool, error) {
	return db.execInserted(sqlDeleteLike, actorURI, objectURI)
}

func (db *DB) CountLikes(objectURI string) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountLikes, objectURI).Scan(&n)
	return n, err
}

func (db *DB) UpsertBoost(boost *domain.Boost) (bool, error) {
	if boost.Id == uuid.Nil {
		boost.Id = uuid.New()
	}
	return db.execInserted(sqlInsertBoost, boost.Id.String(), boost.ActorURI, boost.ObjectURI, boost.URI, boost.Origin, nowOr(boost.CreatedAt))
}

func (db *DB) DeleteBoost(actorURI, objectURI string) (bool, error) {
	return db.execInserted(sqlDeleteBoost, actorURI, objectURI)
}

func (db *DB) CountBoosts(objectURI string) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountBoosts, objectURI).Scan(&n)
	return n, err
}

// Follower queries
const (
	sqlUpsertFollower = `INSERT INTO followers(id, follower_uri, followed_uri, origin, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(follower_uri, followed_uri) DO UPDATE SET uri = excluded.uri, accepted = excluded.accepted`
	sqlDeleteFollower = `DELETE FROM followers WHERE follower_uri = ? AND followed_uri = ?`
	sqlSelectFollower = `SELECT f.id, f.follower_uri, f.followed_uri, f.origin, f.uri, f.accepted, f.created_at FROM followers f`

	sqlSelectFollowers       = sqlSelectFollower + ` WHERE f.followed_uri = ? AND f.accepted = 1 ORDER BY f.created_at ASC`
	sqlSelectActiveFollowers = sqlSelectFollower + ` LEFT JOIN federated_instances i ON i.domain = f.origin
		WHERE f.followed_uri = ? AND f.accepted = 1 AND (i.status IS NULL OR i.status = 'active')
		ORDER BY f.created_at ASC`
	sqlCountFollowers = `SELECT COUNT(*) FROM followers WHERE followed_uri = ? AND accepted = 1`

	sqlSelectFollowByURI = sqlSelectFollower + ` WHERE f.uri = ?`
	sqlAcceptFollow      = `UPDATE followers SET accepted = 1 WHERE follower_uri = ? AND followed_uri = ? AND accepted = 0`
	sqlSelectFollowing   = sqlSelectFollower + ` WHERE f.follower_uri = ? ORDER BY f.created_at ASC`
)

// UpsertFollower records a follow relation. A repeated Follow for the same
// pair only refreshes the activity URI and accepted flag.
func (db *DB) UpsertFollower(follower *domain.Follower) error {
	if follower.Id == uuid.Nil {
		follower.Id = uuid.New()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollower,
			follower.Id.String(),
			follower.FollowerURI,
			follower.FollowedURI,
			follower.Origin,
			follower.URI,
			follower.Accepted,
			nowOr(follower.CreatedAt),
		)
		return err
	})
}

func (db *DB) DeleteFollower(followerURI, followedURI string) (bool, error) {
	return db.execInserted(sqlDeleteFollower, followerURI, followedURI)
}

// ReadFollowers returns every accepted follower of an actor.
func (db *DB) ReadFollowers(followedURI string) ([]domain.Follower, error) {
	return db.queryFollowers(sqlSelectFollowers, followedURI)
}

// ReadActiveFollowers returns the accepted followers whose instance is not
// suspended. Instances we never recorded count as active.
func (db *DB) ReadActiveFollowers(followedURI string) ([]domain.Follower, error) {
	return db.queryFollowers(sqlSelectActiveFollowers, followedURI)
}

func (db *DB) CountFollowers(followedURI string) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountFollowers, followedURI).Scan(&n)
	return n, err
}

// ReadFollowByURI finds a follow relation by the URI of its Follow activity.
func (db *DB) ReadFollowByURI(uri string) (*domain.Follower, error) {
	follows, err := db.queryFollowers(sqlSelectFollowByURI, uri)
	if err != nil {
		return nil, err
	}
	if len(follows) == 0 {
		return nil, sql.ErrNoRows
	}
	return &follows[0], nil
}

// AcceptFollow marks a pending follow as accepted. It reports false when
// there is no pending follow for the pair.
func (db *DB) AcceptFollow(followerURI, followedURI string) (bool, error) {
	return db.execInserted(sqlAcceptFollow, followerURI, followedURI)
}

// ReadFollowing returns every actor followerURI follows, pending or not.
func (db *DB) ReadFollowing(followerURI string) ([]domain.Follower, error) {
	return db.queryFollowers(sqlSelectFollowing, followerURI)
}

func (db *DB) queryFollowers(query string, args ...any) ([]domain.Follower, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		var f domain.Follower
		var idStr string
		var uri sql.NullString
		if err := rows.Scan(&idStr, &f.FollowerURI, &f.FollowedURI, &f.Origin, &uri, &f.Accepted, &f.CreatedAt); err != nil {
			return followers, err
		}
		f.Id, _ = uuid.Parse(idStr)
		f.URI = uri.String
		followers = append(followers, f)
	}
	return followers, rows.Err()
}

// Reaction queries
const (
	sqlInsertReaction        = `INSERT INTO reactions(id, actor_uri, target_uri, emoji, uri, origin, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(actor_uri, target_uri, emoji) DO NOTHING`
	sqlDeleteReaction        = `DELETE FROM reactions WHERE actor_uri = ? AND target_uri = ? AND emoji = ?`
	sqlSelectReactionsTarget = `SELECT id, actor_uri, target_uri, emoji, uri, origin, local, created_at FROM reactions WHERE target_uri = ? ORDER BY created_at ASC`
)

func (db *DB) UpsertReaction(reaction *domain.Reaction) (bool, error) {
	if reaction.Id == uuid.Nil {
		reaction.Id = uuid.New()
	}
	return db.execInserted(sqlInsertReaction,
		reaction.Id.String(),
		reaction.ActorURI,
		reaction.TargetURI,
		reaction.Emoji,
		reaction.URI,
		reaction.Origin,
		reaction.Local,
		nowOr(reaction.CreatedAt),
	)
}

func (db *DB) DeleteReaction(actorURI, targetURI, emoji string) (bool, error) {
	return db.execInserted(sqlDeleteReaction, actorURI, targetURI, emoji)
}

func (db *DB) ReadReactionsByTarget(targetURI string) ([]domain.Reaction, error) {
	rows, err := db.db.Query(sqlSelectReactionsTarget, targetURI)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []domain.Reaction
	for rows.Next() {
		var r domain.Reaction
		var idStr string
		var uri, origin sql.NullString
		if err := rows.Scan(&idStr, &r.ActorURI, &r.TargetURI, &r.Emoji, &uri, &origin, &r.Local, &r.CreatedAt); err != nil {
			return reactions, err
		}
		r.Id, _ = uuid.Parse(idStr)
		r.URI = uri.String
		r.Origin = origin.String
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

// Chat queries
const (
	sqlInsertChatMessage = `INSERT INTO chat_messages(id, uri, object_uri, sender_uri, recipients, content, mentions, emojis, origin, local, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(uri) DO NOTHING`
	sqlSelectChatMessageByURI = `SELECT id, uri, object_uri, sender_uri, recipients, content, mentions, emojis, origin, local, published, created_at FROM chat_messages WHERE uri = ?`
)

// CreateChatMessage appends a chat message. A message whose activity URI is
// already stored is skipped and reported as false.
func (db *DB) CreateChatMessage(msg *domain.ChatMessage) (bool, error) {
	if msg.Id == uuid.Nil {
		msg.Id = uuid.New()
	}
	recipients, err := marshalJSONColumn(msg.Recipients)
	if err != nil {
		return false, err
	}
	mentions, err := marshalJSONColumn(msg.Mentions)
	if err != nil {
		return false, err
	}
	emojis, err := marshalJSONColumn(msg.Emojis)
	if err != nil {
		return false, err
	}
	created := nowOr(msg.CreatedAt)
	published := msg.Published
	if published.IsZero() {
		published = created
	}
	return db.execInserted(sqlInsertChatMessage,
		msg.Id.String(),
		msg.URI,
		msg.ObjectURI,
		msg.SenderURI,
		recipients,
		msg.Content,
		mentions,
		emojis,
		msg.Origin,
		msg.Local,
		published.UTC(),
		created,
	)
}

func (db *DB) ReadChatMessageByURI(uri string) (*domain.ChatMessage, error) {
	row := db.db.QueryRow(sqlSelectChatMessageByURI, uri)
	var msg domain.ChatMessage
	var idStr, recipients string
	var objectURI, content, mentions, emojis, origin sql.NullString
	err := row.Scan(&idStr, &msg.URI, &objectURI, &msg.SenderURI, &recipients, &content, &mentions, &emojis, &origin, &msg.Local, &msg.Published, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Id, _ = uuid.Parse(idStr)
	msg.ObjectURI = objectURI.String
	msg.Content = content.String
	msg.Origin = origin.String
	columns := []struct {
		raw string
		dst *[]string
	}{
		{recipients, &msg.Recipients},
		{mentions.String, &msg.Mentions},
		{emojis.String, &msg.Emojis},
	}
	for _, col := range columns {
		if col.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

// Federated instance queries
const (
	sqlTouchInstance = `INSERT INTO federated_instances(domain, status, first_seen, last_seen) VALUES (?, 'active', ?, ?)
		ON CONFLICT(domain) DO UPDATE SET last_seen = excluded.last_seen`
	sqlSetInstanceStatus = `INSERT INTO federated_instances(domain, status, first_seen, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET status = excluded.status`
	sqlSelectInstance     = `SELECT domain, status, first_seen, last_seen FROM federated_instances`
	sqlSelectInstanceByID = sqlSelectInstance + ` WHERE domain = ?`
	sqlSelectAllInstances = sqlSelectInstance + ` ORDER BY domain ASC`
)

// TouchInstance records that we exchanged an activity with host.
func (db *DB) TouchInstance(host string) error {
	now := time.Now().UTC()
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlTouchInstance, host, now, now)
		return err
	})
}

func (db *DB) SetInstanceStatus(host string, status domain.InstanceStatus) error {
	now := time.Now().UTC()
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlSetInstanceStatus, host, string(status), now, now)
		return err
	})
}

func (db *DB) ReadInstance(host string) (*domain.FederatedInstance, error) {
	return scanInstance(db.db.QueryRow(sqlSelectInstanceByID, host))
}

func (db *DB) ReadAllInstances() ([]domain.FederatedInstance, error) {
	rows, err := db.db.Query(sqlSelectAllInstances)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.FederatedInstance
	for rows.Next() {
		fi, err := scanInstance(rows)
		if err != nil {
			return instances, err
		}
		instances = append(instances, *fi)
	}
	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*domain.FederatedInstance, error) {
	var fi domain.FederatedInstance
	var status string
	if err := row.Scan(&fi.Domain, &status, &fi.FirstSeen, &fi.LastSeen); err != nil {
		return nil, err
	}
	fi.Status = domain.InstanceStatus(status)
	return &fi, nil
}

// execInserted runs a single write and reports whether it touched a row.
func (db *DB) execInserted(query string, args ...any) (bool, error) {
	var changed bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(query, args...)
		if err != nil {
			return err
		}
		changed, err = rowsAffected(res)
		return err
	})
	return changed, err
}

func marshalJSONColumn(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
