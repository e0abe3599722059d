package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"herald/internal/storage"
	"herald/internal/types"
)

type postLogStore struct {
	db *sql.DB
}

func newPostLogStore(db *sql.DB) storage.PostLogStore {
	return &postLogStore{db: db}
}

func (s *postLogStore) ListRecent(ctx context.Context, limit int) ([]types.PostLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, content_item_id, published_url, posted_text, response_time_ms, created_at
		FROM social_post_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list post log: %w", err)
	}
	defer rows.Close()

	var entries []types.PostLogEntry
	for rows.Next() {
		var e types.PostLogEntry
		if err := rows.Scan(&e.ID, &e.RecipientID, &e.ContentItemID,
			&e.PublishedURL, &e.PostedText, &e.ResponseTimeMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan post log entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
