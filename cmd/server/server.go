package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adtag/internal/cache"
	"github.com/thenexusengine/tne_adtag/internal/endpoints"
	"github.com/thenexusengine/tne_adtag/internal/metrics"
	"github.com/thenexusengine/tne_adtag/internal/middleware"
	"github.com/thenexusengine/tne_adtag/internal/storage"
	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/fetch"
	pkgredis "github.com/thenexusengine/tne_adtag/pkg/redis"
	"github.com/thenexusengine/tne_adtag/pkg/vast"
)

const version = "1.0.0"

// Server wires the resolver, its collaborators and the HTTP surface
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	fetcher    *fetch.HTTPFetcher
	processor  *adtag.Processor
	redis      *pkgredis.Client
	db         *sql.DB
	audit      *storage.AuditRecorder
	auth       *middleware.Auth
}

// NewServer creates a server. Redis and Postgres are optional; each is
// connected only when configured.
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{config: cfg, registry: prometheus.NewRegistry()}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.NewMetrics("adtag", s.registry)

	if err := s.initRedis(); err != nil {
		return nil, err
	}
	if err := s.initDatabase(); err != nil {
		s.closeRedis()
		return nil, err
	}

	fetchCfg := cfg.ToFetchConfig()
	fetchCfg.Observer = s.metrics
	s.fetcher = fetch.New(fetchCfg)

	var fetcher adtag.Fetcher = s.fetcher
	var cacheStore *cache.Store
	if s.redis != nil {
		cacheStore = cache.NewStore(s.redis, cfg.CacheTTL)
		fetcher = cache.NewFetcher(cacheStore, s.fetcher, s.metrics)
	}

	recorders := []adtag.Recorder{s.metrics}
	var outcomeStore *storage.OutcomeStore
	if s.db != nil {
		outcomeStore = storage.NewOutcomeStore(s.db)
		s.audit = storage.NewAuditRecorder(outcomeStore, cfg.AuditBuffer)
		recorders = append(recorders, s.audit)
	}

	procCfg := adtag.Config{
		MaxHops:  cfg.MaxHops,
		Picker:   vast.DefaultPicker(cfg.DeviceWidth, cfg.DeviceHeight),
		Recorder: adtag.MultiRecorder(recorders...),
	}
	if cfg.SchemaValidation {
		procCfg.SchemaValidator = vast.NewSchemaValidator()
	}
	s.processor = adtag.NewProcessor(fetcher, procCfg)

	var authRedis middleware.RedisClient
	if s.redis != nil {
		authRedis = s.redis
	}
	s.auth = middleware.NewAuth(middleware.AuthConfig{
		Enabled:     cfg.AuthEnabled,
		APIKeys:     cfg.APIKeys,
		BypassPaths: []string{"/health"},
	}, authRedis, s.metrics)

	mux := http.NewServeMux()
	mux.Handle("/adtag/resolve", endpoints.NewResolveHandler(&deadlineResolver{
		next:    s.processor,
		timeout: cfg.ResolveTimeout,
	}))
	if cacheStore != nil {
		mux.Handle("/adtag/cache", endpoints.NewCacheHandler(cacheStore))
	}
	if outcomeStore != nil {
		mux.Handle("/adtag/outcomes", endpoints.NewOutcomeHandler(outcomeStore))
	}
	mux.Handle("/health", healthHandler())
	mux.Handle("/health/ready", readyHandler(s.redis, s.db))
	mux.Handle("/metrics", metrics.Handler(s.registry))
	mux.HandleFunc("/admin/circuit-breaker", s.circuitBreakerHandler)

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.buildHandler(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.ResolveTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) initRedis() error {
	if s.config.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, document cache disabled")
		return nil
	}
	client, err := pkgredis.New(s.config.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	s.redis = client
	log.Info().Msg("Redis connected, document cache enabled")
	return nil
}

func (s *Server) initDatabase() error {
	if s.config.DatabaseConfig == nil {
		log.Info().Msg("DB_HOST not set, outcome audit disabled")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := storage.Connect(ctx, s.config.DatabaseConfig.ToStorageConfig())
	if err != nil {
		return err
	}
	if err := storage.NewOutcomeStore(db).EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	log.Info().Str("host", s.config.DatabaseConfig.Host).Msg("Database connected, outcome audit enabled")
	return nil
}

func (s *Server) closeRedis() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// buildHandler wraps the mux in the middleware chain
func (s *Server) buildHandler(mux http.Handler) http.Handler {
	var h http.Handler = mux
	h = s.auth.Middleware(h)
	h = middleware.SecurityHeaders(h)
	h = loggingMiddleware(h)
	h = s.metrics.Middleware(h)
	return h
}

// Start serves until Shutdown
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Str("version", version).Msg("ad tag server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then flushes the audit queue and
// closes connections
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.audit != nil {
		s.audit.Close()
	}
	s.fetcher.Close()
	if s.db != nil {
		_ = s.db.Close()
	}
	s.closeRedis()
	return err
}

// deadlineResolver bounds each resolution with a timeout
type deadlineResolver struct {
	next    endpoints.Resolver
	timeout time.Duration
}

func (d *deadlineResolver) Process(ctx context.Context, url string) *adtag.Outcome {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.next.Process(ctx, url)
}

func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   version,
		})
	})
}

// readyHandler reports dependency health. Nil dependencies are disabled and
// do not affect readiness.
func readyHandler(redis *pkgredis.Client, db *sql.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		ready := true
		checks := map[string]interface{}{}

		if redis == nil {
			checks["redis"] = map[string]string{"status": "disabled"}
		} else if err := redis.Ping(ctx); err != nil {
			ready = false
			checks["redis"] = map[string]string{"status": "unhealthy", "error": err.Error()}
		} else {
			checks["redis"] = map[string]string{"status": "healthy"}
		}

		if db == nil {
			checks["database"] = map[string]string{"status": "disabled"}
		} else if err := db.PingContext(ctx); err != nil {
			ready = false
			checks["database"] = map[string]string{"status": "unhealthy", "error": err.Error()}
		} else {
			checks["database"] = map[string]string{"status": "healthy"}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"ready":     ready,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		})
	})
}

func (s *Server) circuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ad_servers": s.fetcher.BreakerStats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// loggingMiddleware assigns a request ID and logs each request
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// generateRequestID returns 16 hex characters
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
