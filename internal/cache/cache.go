package cache

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a typed wrapper over an expiring in-process store. Herald uses
// it to remember which broadcast was already handled per channel, so a
// stream that stays live across many ticks is resolved once.
type Cache[K comparable, V any] struct {
	cache       *gocache.Cache
	keyToString func(K) string
}

type Config struct {
	TTL time.Duration
}

func New[K comparable, V any](config Config, keyToString func(K) string) *Cache[K, V] {
	if config.TTL == 0 {
		config.TTL = 1 * time.Hour
	}

	slog.Debug("cache initialized", "ttl", config.TTL)

	return &Cache[K, V]{
		cache:       gocache.New(config.TTL, config.TTL/2),
		keyToString: keyToString,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	value, found := c.cache.Get(c.keyToString(key))
	if !found {
		var zero V
		return zero, false
	}

	typed, ok := value.(V)
	if !ok {
		var zero V
		return zero, false
	}
	return typed, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.cache.Set(c.keyToString(key), value, gocache.DefaultExpiration)
}

func (c *Cache[K, V]) Invalidate(key K) {
	c.cache.Delete(c.keyToString(key))
}

func (c *Cache[K, V]) Close() error {
	c.cache.Flush()
	return nil
}
