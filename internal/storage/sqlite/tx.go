package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"herald/internal/storage"
	"herald/internal/types"
)

// sqliteTx wraps one immediate-mode transaction. The underlying write
// lock is taken when the transaction begins and stays held until Commit
// or Rollback, which is what linearizes scheduler and manual callers on
// the same config.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) LockConfig(ctx context.Context, ref types.ConfigRef) (types.AnnouncementConfig, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM announcement_configs
		 WHERE content_item_id = ? AND recipient_id = ?`,
		ref.ContentItemID, ref.RecipientID)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AnnouncementConfig{}, storage.ErrNotFound
	}
	if err != nil {
		return types.AnnouncementConfig{}, fmt.Errorf("failed to lock config: %w", err)
	}
	return cfg, nil
}

func (t *sqliteTx) ContentItem(ctx context.Context, id int64) (types.ContentItem, error) {
	var item types.ContentItem
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, title, url FROM content_items WHERE id = ?`, id,
	).Scan(&item.ID, &item.Title, &item.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ContentItem{}, storage.ErrNotFound
	}
	if err != nil {
		return types.ContentItem{}, fmt.Errorf("failed to fetch content item: %w", err)
	}
	return item, nil
}

func (t *sqliteTx) UpdateConfig(ctx context.Context, cfg types.AnnouncementConfig) error {
	var postedAt any
	if cfg.PostedAt != nil {
		postedAt = *cfg.PostedAt
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE announcement_configs
		SET status = ?, error_message = ?, published_url = ?, retry_count = ?,
		    generated_text = ?, posted_at = ?, updated_at = ?
		WHERE id = ?
	`, cfg.Status, cfg.ErrorMessage, cfg.PublishedURL, cfg.RetryCount,
		cfg.GeneratedText, postedAt, time.Now().UTC(), cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}

	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) AppendPostLog(ctx context.Context, entry types.PostLogEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO social_post_log
			(recipient_id, content_item_id, published_url, posted_text, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.RecipientID, entry.ContentItemID, entry.PublishedURL,
		entry.PostedText, entry.ResponseTimeMS, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append post log: %w", err)
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}
