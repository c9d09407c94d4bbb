// Package cache stores fetched ad documents in Redis so repeated resolutions
// of the same tag do not go back to the ad server within the TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	pkgredis "github.com/thenexusengine/tne_adtag/pkg/redis"
)

const (
	// DefaultTTL for cached documents
	DefaultTTL = 2 * time.Minute

	// MaxValueSize per document (512KB); larger documents are not cached
	MaxValueSize = 512 * 1024

	// Redis key prefix
	keyPrefix = "adtag_doc:"
)

// CachedEntry is what's stored in Redis
type CachedEntry struct {
	URL     string `json:"url"`
	Value   string `json:"value"`
	Created int64  `json:"created"`
}

// Store provides document storage backed by Redis
type Store struct {
	redis      *pkgredis.Client
	defaultTTL time.Duration
}

// NewStore creates a new cache store. A non-positive ttl selects DefaultTTL.
func NewStore(redis *pkgredis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis:      redis,
		defaultTTL: ttl,
	}
}

// TTL returns the expiry applied to new entries
func (s *Store) TTL() time.Duration {
	return s.defaultTTL
}

// Get retrieves the cached document for url. It returns nil when not found.
func (s *Store) Get(ctx context.Context, url string) (*CachedEntry, error) {
	data, err := s.redis.Get(ctx, Key(url))
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if data == "" {
		return nil, nil // Not found
	}

	var entry CachedEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	// written for a different URL
	if entry.URL != url {
		return nil, nil
	}
	return &entry, nil
}

// Put stores body as the document for url
func (s *Store) Put(ctx context.Context, url string, body []byte) error {
	if len(body) > MaxValueSize {
		return fmt.Errorf("value too large: %d bytes (max %d)", len(body), MaxValueSize)
	}

	data, err := json.Marshal(CachedEntry{
		URL:     url,
		Value:   string(body),
		Created: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := s.redis.SetEx(ctx, Key(url), string(data), s.defaultTTL); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

// Invalidate removes the cached document for url
func (s *Store) Invalidate(ctx context.Context, url string) error {
	return s.redis.Del(ctx, Key(url))
}

// Key returns the Redis key for url
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}
