package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"herald/internal/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type SQLiteStorage struct {
	conn     *sql.DB
	channels storage.ChannelStore
	items    storage.ItemStore
	configs  storage.ConfigStore
	postlog  storage.PostLogStore
}

func New(dbPath string) (storage.Store, error) {
	slog.Info("Initializing SQLite storage", "path", dbPath)

	// _txlock=immediate makes BeginTx take the write lock up front, which
	// is what gives LockConfig its exclusive-row semantics. busy_timeout
	// bounds how long a second locker blocks.
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_txlock=immediate&_busy_timeout=30000", dbPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("Storage initialized successfully")

	return &SQLiteStorage{
		conn:     conn,
		channels: newChannelStore(conn),
		items:    newItemStore(conn),
		configs:  newConfigStore(conn),
		postlog:  newPostLogStore(conn),
	}, nil
}

func runMigrations(conn *sql.DB) error {
	slog.Debug("Running database migrations")

	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("Migrations completed successfully")
	return nil
}

func (s *SQLiteStorage) GetConnection() *sql.DB {
	return s.conn
}

func (s *SQLiteStorage) Channels() storage.ChannelStore {
	return s.channels
}

func (s *SQLiteStorage) Items() storage.ItemStore {
	return s.items
}

func (s *SQLiteStorage) Configs() storage.ConfigStore {
	return s.configs
}

func (s *SQLiteStorage) PostLog() storage.PostLogStore {
	return s.postlog
}

func (s *SQLiteStorage) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *SQLiteStorage) Close(ctx context.Context) error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
