package db

import (
	"database/sql"

	"github.com/deemkeen/fedsync/domain"
)

const (
	sqlInsertPostIndex = `INSERT INTO posts_fts(object_uri, content) VALUES (?, ?)`
	sqlSearchPosts     = `SELECT object_uri FROM posts_fts WHERE posts_fts MATCH ? ORDER BY rank LIMIT ?`
)

// IndexPost adds a post to the full text index. Callers only index posts
// they just inserted, so the index never holds duplicates.
func (db *DB) IndexPost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPostIndex, post.ObjectURI, post.Content)
		return err
	})
}

// SearchPosts returns object URIs of posts matching an FTS5 query.
func (db *DB) SearchPosts(query string, limit int) ([]string, error) {
	rows, err := db.db.Query(sqlSearchPosts, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}
