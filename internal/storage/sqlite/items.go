package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"herald/internal/storage"
	"herald/internal/types"
)

type itemStore struct {
	db *sql.DB
}

func newItemStore(db *sql.DB) storage.ItemStore {
	return &itemStore{db: db}
}

func (s *itemStore) Get(ctx context.Context, id int64) (types.ContentItem, error) {
	var item types.ContentItem
	err := s.db.QueryRowContext(ctx,
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

func (s *itemStore) SetURLIfEmpty(ctx context.Context, id int64, url string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET url = ? WHERE id = ? AND url = ''`, url, id)
	if err != nil {
		return fmt.Errorf("failed to set content item url: %w", err)
	}
	return nil
}
