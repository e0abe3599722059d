// Package correlate stores the full internal error behind a failed
// announcement under an opaque reference. The reference is what a manual
// caller sees; the stored detail is only reachable by support tooling.
package correlate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"herald/internal/types"
)

const (
	keyPrefix  = "herald:correlation:"
	defaultTTL = 72 * time.Hour
)

// Store records failures and resolves references back to their detail.
type Store interface {
	Record(ctx context.Context, ref types.ConfigRef, err error) string
	Lookup(ctx context.Context, id string) (string, bool)
	Close() error
}

func payload(ref types.ConfigRef, err error) string {
	return fmt.Sprintf("content_item=%d recipient=%d error=%v", ref.ContentItemID, ref.RecipientID, err)
}

func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("t%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// RedisStore keeps correlation records in redis so support lookups work
// across process restarts and replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStore(addr, password string, db int, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl:    defaultTTL,
		logger: logger,
	}
}

func (s *RedisStore) Record(ctx context.Context, ref types.ConfigRef, err error) string {
	id := newID()
	if setErr := s.client.Set(ctx, keyPrefix+id, payload(ref, err), s.ttl).Err(); setErr != nil {
		// The reference is still returned; the detail just lives only in
		// the log line below.
		s.logger.Warn("failed to store correlation record", "id", id, "error", setErr)
	}
	s.logger.Debug("recorded failure", "id", id, "content_item", ref.ContentItemID, "recipient", ref.RecipientID)
	return id
}

func (s *RedisStore) Lookup(ctx context.Context, id string) (string, bool) {
	val, err := s.client.Get(ctx, keyPrefix+id).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is the single-process fallback used when no redis address
// is configured.
type MemoryStore struct {
	cache *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(defaultTTL, time.Hour)}
}

func (s *MemoryStore) Record(_ context.Context, ref types.ConfigRef, err error) string {
	id := newID()
	s.cache.Set(id, payload(ref, err), gocache.DefaultExpiration)
	return id
}

func (s *MemoryStore) Lookup(_ context.Context, id string) (string, bool) {
	val, found := s.cache.Get(id)
	if !found {
		return "", false
	}
	return val.(string), true
}

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
