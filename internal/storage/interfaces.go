package storage

import (
	"context"
	"database/sql"
	"errors"

	"herald/internal/types"
)

// ErrNotFound is returned by point reads and by Tx.LockConfig when the
// target row does not exist.
var ErrNotFound = errors.New("storage: not found")

type Store interface {
	GetConnection() *sql.DB
	Channels() ChannelStore
	Items() ItemStore
	Configs() ConfigStore
	PostLog() PostLogStore

	// Begin opens an exclusive write transaction. Lock acquisition may
	// block waiting for a concurrent holder; that blocking is bounded by
	// the connection's busy timeout.
	Begin(ctx context.Context) (Tx, error)

	Close(ctx context.Context) error
}

type ChannelStore interface {
	ListEnabled(ctx context.Context) ([]types.ChannelTarget, error)
}

type ItemStore interface {
	Get(ctx context.Context, id int64) (types.ContentItem, error)

	// SetURLIfEmpty records the canonical broadcast URL on the item the
	// first time a live broadcast is observed. A URL already present is
	// left alone.
	SetURLIfEmpty(ctx context.Context, id int64, url string) error
}

type ConfigStore interface {
	// ListPendingEnabled is the resolver's single batch read: every
	// pending, enabled config for one content item.
	ListPendingEnabled(ctx context.Context, contentItemID int64) ([]types.AnnouncementConfig, error)

	// FetchByRecipients resolves all existing configs for a content item
	// in one query, keyed by recipient. Batch creation depends on this to
	// avoid a lookup per recipient.
	FetchByRecipients(ctx context.Context, contentItemID int64, recipientIDs []int64) (map[int64]types.AnnouncementConfig, error)

	CreateBatch(ctx context.Context, configs []types.AnnouncementConfig) error

	Get(ctx context.Context, ref types.ConfigRef) (types.AnnouncementConfig, error)
}

type PostLogStore interface {
	ListRecent(ctx context.Context, limit int) ([]types.PostLogEntry, error)
}

// Tx is one exclusive transaction scope. LockConfig re-reads the config
// under the write lock; the lock is held until Commit or Rollback, across
// any external calls the pipeline makes in between.
type Tx interface {
	LockConfig(ctx context.Context, ref types.ConfigRef) (types.AnnouncementConfig, error)
	ContentItem(ctx context.Context, id int64) (types.ContentItem, error)
	UpdateConfig(ctx context.Context, cfg types.AnnouncementConfig) error
	AppendPostLog(ctx context.Context, entry types.PostLogEntry) error
	Commit() error
	Rollback() error
}
