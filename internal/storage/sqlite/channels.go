package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"herald/internal/storage"
	"herald/internal/types"
)

type channelStore struct {
	db *sql.DB
}

func newChannelStore(db *sql.DB) storage.ChannelStore {
	return &channelStore{db: db}
}

func (s *channelStore) ListEnabled(ctx context.Context) ([]types.ChannelTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, content_item_id, enabled,
		       title_filter, title_filter_enabled, title_filter_is_regex
		FROM channel_targets
		WHERE enabled = 1 AND id != ''
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel targets: %w", err)
	}
	defer rows.Close()

	var channels []types.ChannelTarget
	for rows.Next() {
		var ch types.ChannelTarget
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.ContentItemID, &ch.Enabled,
			&ch.TitleFilter, &ch.TitleFilterEnabled, &ch.TitleFilterIsRegex); err != nil {
			return nil, fmt.Errorf("failed to scan channel target: %w", err)
		}
		channels = append(channels, ch)
	}

	return channels, rows.Err()
}
