package robots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
)

// BigCacheConfig tunes the sharded cache backing BigCacheStore.
type BigCacheConfig struct {
	TTL    time.Duration
	Shards int
}

// BigCacheStore keeps JSON-encoded entries in an allegro/bigcache instance
// whose life window equals the robots TTL.
type BigCacheStore struct {
	cache *bigcache.BigCache
}

// NewBigCacheStore builds the cache; call Close to stop its janitor.
func NewBigCacheStore(ctx context.Context, cfg BigCacheConfig) (*BigCacheStore, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cacheCfg := bigcache.DefaultConfig(ttl)
	cacheCfg.Shards = 64
	if cfg.Shards > 0 {
		cacheCfg.Shards = cfg.Shards
	}
	cacheCfg.CleanWindow = ttl / 4
	// Sizes only the initial allocation; bigcache grows shards on demand.
	cacheCfg.MaxEntriesInWindow = 10_000
	cacheCfg.MaxEntrySize = 1024
	cacheCfg.Verbose = false
	cache, err := bigcache.New(ctx, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("create robots cache: %w", err)
	}
	return &BigCacheStore{cache: cache}, nil
}

// Get returns the cached entry for domain.
func (s *BigCacheStore) Get(_ context.Context, domain string) (Entry, bool, error) {
	raw, err := s.cache.Get(strings.ToLower(domain))
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("robots cache get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode robots entry: %w", err)
	}
	return entry, true, nil
}

// Set stores entry under domain.
func (s *BigCacheStore) Set(_ context.Context, domain string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode robots entry: %w", err)
	}
	if err := s.cache.Set(strings.ToLower(domain), raw); err != nil {
		return fmt.Errorf("robots cache set: %w", err)
	}
	return nil
}

// Close stops the cache's background cleanup.
func (s *BigCacheStore) Close() error {
	if err := s.cache.Close(); err != nil {
		return fmt.Errorf("close robots cache: %w", err)
	}
	return nil
}
