package antinuke

import (
	"context"
	"sync"
	"time"

	"nukeguard/internal/storage"
)

// ConfigStore loads and persists per-guild protection settings.
type ConfigStore interface {
	GetProtection(ctx context.Context, guildID string) (*storage.ProtectionConfig, error)
	GetOrCreateProtection(ctx context.Context, guildID string, defaults storage.ProtectionConfig) (*storage.ProtectionConfig, error)
	SaveProtection(ctx context.Context, cfg storage.ProtectionConfig) error
	AddExemptUser(ctx context.Context, guildID, userID string) error
	RemoveExemptUser(ctx context.Context, guildID, userID string) error
	AddExemptRole(ctx context.Context, guildID, roleID string) error
	RemoveExemptRole(ctx context.Context, guildID, roleID string) error
}

// configCache caches guild protection configs with a short TTL so the event
// hot path avoids a database round trip per action. A cached nil marks a
// guild with no stored row. Writers must call Invalidate; a stale read is
// otherwise possible for at most one TTL.
type configCache struct {
	store ConfigStore
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	cfg     *storage.ProtectionConfig
	expires time.Time
}

func newConfigCache(store ConfigStore, ttl time.Duration) *configCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &configCache{
		store:   store,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *configCache) get(ctx context.Context, guildID string, now time.Time) (*storage.ProtectionConfig, error) {
	c.mu.Lock()
	entry, ok := c.entries[guildID]
	c.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.cfg, nil
	}

	cfg, err := c.store.GetProtection(ctx, guildID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[guildID] = cacheEntry{cfg: cfg, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return cfg, nil
}

func (c *configCache) invalidate(guildID string) {
	c.mu.Lock()
	delete(c.entries, guildID)
	c.mu.Unlock()
}
