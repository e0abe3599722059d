package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"herald/internal/storage"
	"herald/internal/types"
)

const configColumns = `id, content_item_id, recipient_id, enabled, include_link, status,
	custom_text, generated_text, error_message, published_url, retry_count,
	posted_at, created_at, updated_at`

type configStore struct {
	db *sql.DB
}

func newConfigStore(db *sql.DB) storage.ConfigStore {
	return &configStore{db: db}
}

func (s *configStore) ListPendingEnabled(ctx context.Context, contentItemID int64) ([]types.AnnouncementConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM announcement_configs
		 WHERE content_item_id = ? AND status = ? AND enabled = 1`,
		contentItemID, types.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending configs: %w", err)
	}
	defer rows.Close()

	return scanConfigs(rows)
}

func (s *configStore) FetchByRecipients(ctx context.Context, contentItemID int64, recipientIDs []int64) (map[int64]types.AnnouncementConfig, error) {
	result := make(map[int64]types.AnnouncementConfig, len(recipientIDs))
	if len(recipientIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recipientIDs)), ",")
	args := make([]any, 0, len(recipientIDs)+1)
	args = append(args, contentItemID)
	for _, id := range recipientIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM announcement_configs
		 WHERE content_item_id = ? AND recipient_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch fetch configs: %w", err)
	}
	defer rows.Close()

	configs, err := scanConfigs(rows)
	if err != nil {
		return nil, err
	}

	for _, cfg := range configs {
		result[cfg.RecipientID] = cfg
	}
	return result, nil
}

func (s *configStore) CreateBatch(ctx context.Context, configs []types.AnnouncementConfig) error {
	if len(configs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin create batch: %w", err)
	}
	defer tx.Rollback()

	// ON CONFLICT DO NOTHING backs up the caller's batch-fetch check, so
	// two racing creations still yield one row per recipient.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO announcement_configs
			(content_item_id, recipient_id, enabled, include_link, status,
			 custom_text, generated_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_item_id, recipient_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare config insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, cfg := range configs {
		if _, err := stmt.ExecContext(ctx,
			cfg.ContentItemID, cfg.RecipientID, cfg.Enabled, cfg.IncludeLink,
			cfg.Status, cfg.CustomText, cfg.GeneratedText, now, now); err != nil {
			return fmt.Errorf("failed to insert config for recipient %d: %w", cfg.RecipientID, err)
		}
	}

	return tx.Commit()
}

func (s *configStore) Get(ctx context.Context, ref types.ConfigRef) (types.AnnouncementConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM announcement_configs
		 WHERE content_item_id = ? AND recipient_id = ?`,
		ref.ContentItemID, ref.RecipientID)

	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AnnouncementConfig{}, storage.ErrNotFound
	}
	if err != nil {
		return types.AnnouncementConfig{}, fmt.Errorf("failed to fetch config: %w", err)
	}
	return cfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (types.AnnouncementConfig, error) {
	var cfg types.AnnouncementConfig
	var postedAt sql.NullTime
	err := row.Scan(&cfg.ID, &cfg.ContentItemID, &cfg.RecipientID, &cfg.Enabled,
		&cfg.IncludeLink, &cfg.Status, &cfg.CustomText, &cfg.GeneratedText,
		&cfg.ErrorMessage, &cfg.PublishedURL, &cfg.RetryCount,
		&postedAt, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return types.AnnouncementConfig{}, err
	}
	if postedAt.Valid {
		t := postedAt.Time
		cfg.PostedAt = &t
	}
	return cfg, nil
}

func scanConfigs(rows *sql.Rows) ([]types.AnnouncementConfig, error) {
	var configs []types.AnnouncementConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
