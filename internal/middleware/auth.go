// Package middleware provides HTTP middleware for the ad tag service
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type contextKey string

const clientIDKey contextKey = "client_id"

// RedisAPIKeysHash holds api_key -> client_id
// #nosec G101 -- Redis key name, not a credential
const RedisAPIKeysHash = "tne_adtag:api_keys"

// Key cache lifetimes
const (
	keyCacheTimeout         = 5 * time.Minute
	negativeKeyCacheTimeout = 30 * time.Second
	maxKeyCacheSize         = 10000
)

// RedisClient is the subset of the Redis client used for key lookups
type RedisClient interface {
	HGet(ctx context.Context, key, field string) (string, error)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled     bool
	APIKeys     map[string]string // key -> client ID
	HeaderName  string            // default X-API-Key
	BypassPaths []string          // served without a key
}

// ParseAPIKeys parses "key1:client1,key2:client2". A key without a client
// maps to "default".
func ParseAPIKeys(value string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, client, found := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !found || strings.TrimSpace(client) == "" {
			client = "default"
		}
		keys[k] = strings.TrimSpace(client)
	}
	return keys
}

// AuthMetrics receives authentication failures
type AuthMetrics interface {
	IncAuthFailures()
}

// Auth provides API key authentication middleware
type Auth struct {
	config  AuthConfig
	redis   RedisClient
	metrics AuthMetrics

	cacheMu  sync.RWMutex
	keyCache map[string]cachedKey
	now      func() time.Time
}

type cachedKey struct {
	clientID  string
	expiresAt time.Time
}

// NewAuth creates the middleware. redis and metrics may be nil.
func NewAuth(config AuthConfig, redis RedisClient, metrics AuthMetrics) *Auth {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &Auth{
		config:   config,
		redis:    redis,
		metrics:  metrics,
		keyCache: make(map[string]cachedKey),
		now:      time.Now,
	}
}

// Middleware returns the authentication handler
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Enabled || a.bypassed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get(a.config.HeaderName)
		if apiKey == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if apiKey == "" {
			a.recordFailure()
			http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}

		clientID, ok := a.validateKey(r.Context(), apiKey)
		if !ok {
			a.recordFailure()
			http.Error(w, `{"error":"invalid API key"}`, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIDKey, clientID)))
	})
}

// bypassed matches exact paths or path segments, so /healthcheck does not
// match /health
func (a *Auth) bypassed(path string) bool {
	for _, p := range a.config.BypassPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (a *Auth) validateKey(ctx context.Context, key string) (string, bool) {
	if clientID, found := a.checkCache(key); found {
		return clientID, clientID != ""
	}

	if a.redis != nil {
		clientID, err := a.redis.HGet(ctx, RedisAPIKeysHash, key)
		if err == nil && clientID != "" {
			a.updateCache(key, clientID)
			return clientID, true
		}
		if err != nil {
			log.Debug().Err(err).Msg("Redis API key lookup failed, falling back to local")
		}
	}

	for validKey, clientID := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			a.updateCache(key, clientID)
			return clientID, true
		}
	}

	a.updateCache(key, "")
	return "", false
}

func (a *Auth) checkCache(key string) (string, bool) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()

	cached, ok := a.keyCache[key]
	if !ok || a.now().After(cached.expiresAt) {
		return "", false
	}
	return cached.clientID, true
}

func (a *Auth) updateCache(key, clientID string) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()

	if len(a.keyCache) >= maxKeyCacheSize {
		var oldestKey string
		var oldest time.Time
		for k, v := range a.keyCache {
			if oldestKey == "" || v.expiresAt.Before(oldest) {
				oldestKey, oldest = k, v.expiresAt
			}
		}
		delete(a.keyCache, oldestKey)
	}

	timeout := keyCacheTimeout
	if clientID == "" {
		timeout = negativeKeyCacheTimeout
	}
	a.keyCache[key] = cachedKey{clientID: clientID, expiresAt: a.now().Add(timeout)}
}

// ClearCache drops cached key lookups
func (a *Auth) ClearCache() {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.keyCache = make(map[string]cachedKey)
}

func (a *Auth) recordFailure() {
	if a.metrics != nil {
		a.metrics.IncAuthFailures()
	}
}

// ClientIDFromContext returns the client ID of an authenticated request
func ClientIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}
