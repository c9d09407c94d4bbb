package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thenexusengine/tne_adtag/internal/middleware"
	"github.com/thenexusengine/tne_adtag/internal/storage"
	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/fetch"
	"github.com/thenexusengine/tne_adtag/pkg/logger"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port           string
	ResolveTimeout time.Duration

	// Resolution
	MaxHops          int
	SchemaValidation bool
	DeviceWidth      int
	DeviceHeight     int

	// Fetching
	FetchTimeout     time.Duration
	MaxDocumentBytes int64
	Correlator       bool
	UserAgent        string
	BreakerFailures  int
	BreakerTimeout   time.Duration

	// AllowPrivateNetworks lets ad tags point at loopback and private hosts
	AllowPrivateNetworks bool

	// Redis
	RedisURL string
	CacheTTL time.Duration

	// Database
	DatabaseConfig *DatabaseConfig
	AuditBuffer    int

	// Admin auth
	AuthEnabled bool
	APIKeys     map[string]string

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ParseConfig parses configuration from flags with environment variable fallbacks
func ParseConfig(args []string) (*ServerConfig, error) {
	fs := flag.NewFlagSet("adtag-server", flag.ContinueOnError)

	port := fs.String("port", getEnvOrDefault("ADTAG_PORT", "8000"), "Server port")
	resolveTimeout := fs.Duration("resolve-timeout", getEnvDurationOrDefault("ADTAG_RESOLVE_TIMEOUT", 10*time.Second), "Deadline for one ad tag resolution")
	maxHops := fs.Int("max-hops", getEnvIntOrDefault("ADTAG_MAX_HOPS", adtag.DefaultMaxHops), "Documents allowed per wrapper chain, first included")
	fetchTimeout := fs.Duration("fetch-timeout", getEnvDurationOrDefault("ADTAG_FETCH_TIMEOUT", fetch.DefaultTimeout), "Timeout for one document fetch")
	maxBytes := fs.Int64("max-document-bytes", int64(getEnvIntOrDefault("ADTAG_MAX_DOCUMENT_BYTES", fetch.DefaultMaxDocumentBytes)), "Largest accepted ad document")
	schema := fs.Bool("schema-validation", getEnvBoolOrDefault("ADTAG_SCHEMA_VALIDATION", false), "Check every VAST document against structural rules")
	width := fs.Int("device-width", getEnvIntOrDefault("ADTAG_DEVICE_WIDTH", 1920), "Player width used to pick a media file")
	height := fs.Int("device-height", getEnvIntOrDefault("ADTAG_DEVICE_HEIGHT", 1080), "Player height used to pick a media file")
	logLevel := fs.String("log-level", getEnvOrDefault("LOG_LEVEL", "info"), "Log level")
	logFormat := fs.String("log-format", getEnvOrDefault("LOG_FORMAT", "json"), "Log format (json or console)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		Port:             *port,
		ResolveTimeout:   *resolveTimeout,
		MaxHops:          *maxHops,
		SchemaValidation: *schema,
		DeviceWidth:      *width,
		DeviceHeight:     *height,
		FetchTimeout:     *fetchTimeout,
		MaxDocumentBytes: *maxBytes,
		Correlator:       getEnvBoolOrDefault("ADTAG_CORRELATOR", true),
		UserAgent:        getEnvOrDefault("ADTAG_USER_AGENT", fetch.DefaultUserAgent),
		BreakerFailures:  getEnvIntOrDefault("ADTAG_BREAKER_FAILURES", fetch.DefaultBreakerConfig().FailureThreshold),
		BreakerTimeout:   getEnvDurationOrDefault("ADTAG_BREAKER_TIMEOUT", fetch.DefaultBreakerConfig().Timeout),
		RedisURL:         os.Getenv("REDIS_URL"),
		CacheTTL:         getEnvDurationOrDefault("ADTAG_CACHE_TTL", 2*time.Minute),
		AuditBuffer:      getEnvIntOrDefault("ADTAG_AUDIT_BUFFER", storage.DefaultAuditBuffer),
		AuthEnabled:      getEnvBoolOrDefault("AUTH_ENABLED", true),
		APIKeys:          middleware.ParseAPIKeys(os.Getenv("API_KEYS")),
		LogLevel:         *logLevel,
		LogFormat:        *logFormat,
	}
	cfg.AllowPrivateNetworks = getEnvBoolOrDefault("ADTAG_ALLOW_PRIVATE_NETWORKS", false)

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:            dbHost,
			Port:            getEnvOrDefault("DB_PORT", "5432"),
			User:            getEnvOrDefault("DB_USER", "adtag"),
			Password:        getEnvOrDefault("DB_PASSWORD", ""),
			Name:            getEnvOrDefault("DB_NAME", "adtag"),
			SSLMode:         getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvIntOrDefault("DB_MAX_CONNECTIONS", 20),
			MaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvIntOrDefault("DB_CONN_MAX_LIFETIME_SECONDS", 3600)) * time.Second,
		}
	}

	return cfg, nil
}

// ToFetchConfig converts ServerConfig to fetch.Config
func (c *ServerConfig) ToFetchConfig() fetch.Config {
	breaker := fetch.DefaultBreakerConfig()
	breaker.FailureThreshold = c.BreakerFailures
	breaker.Timeout = c.BreakerTimeout
	cfg := fetch.Config{
		Timeout:          c.FetchTimeout,
		MaxDocumentBytes: c.MaxDocumentBytes,
		UserAgent:        c.UserAgent,
		Correlator:       c.Correlator,
		Breaker:          breaker,
	}
	cfg.AllowPrivateNetworks = c.AllowPrivateNetworks
	return cfg
}

// ToLoggerConfig converts ServerConfig to logger.Config
func (c *ServerConfig) ToLoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Format = c.LogFormat
	return cfg
}

// ToStorageConfig converts DatabaseConfig to storage.DBConfig
func (dc *DatabaseConfig) ToStorageConfig() storage.DBConfig {
	return storage.DBConfig{
		Host:            dc.Host,
		Port:            dc.Port,
		User:            dc.User,
		Password:        dc.Password,
		Name:            dc.Name,
		SSLMode:         dc.SSLMode,
		MaxConnections:  dc.MaxConnections,
		MaxIdleConns:    dc.MaxIdleConns,
		ConnMaxLifetime: dc.ConnMaxLifetime,
	}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvIntOrDefault returns the environment variable as int or a default
func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvDurationOrDefault accepts Go durations ("750ms") or whole seconds
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// isProduction returns true if running in production environment
func isProduction() bool {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = os.Getenv("ENV")
	}
	return env == "production" || env == "prod"
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", port)
	}

	if c.MaxHops < 1 || c.MaxHops > 20 {
		return fmt.Errorf("max hops must be in range 1-20, got %d", c.MaxHops)
	}

	if c.FetchTimeout <= 0 || c.FetchTimeout > 30*time.Second {
		return fmt.Errorf("fetch timeout must be in (0, 30s], got %v", c.FetchTimeout)
	}
	if c.ResolveTimeout < c.FetchTimeout || c.ResolveTimeout > 60*time.Second {
		return fmt.Errorf("resolve timeout must be between the fetch timeout and 60s, got %v", c.ResolveTimeout)
	}

	if c.MaxDocumentBytes < 1024 || c.MaxDocumentBytes > 16*1024*1024 {
		return fmt.Errorf("max document bytes must be in range 1KiB-16MiB, got %d", c.MaxDocumentBytes)
	}

	// the media picker ignores dimensions outside (0, 5000)
	if c.DeviceWidth < 1 || c.DeviceWidth >= 5000 || c.DeviceHeight < 1 || c.DeviceHeight >= 5000 {
		return fmt.Errorf("device size must be in range 1-4999, got %dx%d", c.DeviceWidth, c.DeviceHeight)
	}

	if c.BreakerFailures < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1, got %d", c.BreakerFailures)
	}
	if c.BreakerTimeout <= 0 {
		return fmt.Errorf("breaker timeout must be positive, got %v", c.BreakerTimeout)
	}

	if c.RedisURL != "" && c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %v", c.CacheTTL)
	}

	if c.DatabaseConfig != nil {
		if err := c.DatabaseConfig.Validate(); err != nil {
			return fmt.Errorf("database config: %w", err)
		}
	}

	// SECURITY: the API must not be open in production
	if isProduction() && !c.AuthEnabled {
		return fmt.Errorf("AUTH_ENABLED=false is not allowed in production")
	}
	if isProduction() && c.AllowPrivateNetworks {
		return fmt.Errorf("ADTAG_ALLOW_PRIVATE_NETWORKS=true is not allowed in production")
	}

	return nil
}

// Validate validates the database configuration
func (dc *DatabaseConfig) Validate() error {
	if dc.Host == "" {
		return fmt.Errorf("host is required")
	}
	port, err := strconv.Atoi(dc.Port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", port)
	}
	if dc.User == "" {
		return fmt.Errorf("user is required")
	}
	if err := validatePassword(dc.Password); err != nil {
		return fmt.Errorf("password validation failed: %w", err)
	}
	if dc.Name == "" {
		return fmt.Errorf("database name is required")
	}

	switch dc.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", dc.SSLMode)
	}
	// SECURITY: In production, SSL must not be disabled
	if isProduction() && dc.SSLMode == "disable" {
		return fmt.Errorf("SSL mode 'disable' is not allowed in production")
	}

	if dc.MaxConnections < 1 || dc.MaxConnections > 1000 {
		return fmt.Errorf("max connections must be in range 1-1000, got %d", dc.MaxConnections)
	}
	if dc.MaxIdleConns < 0 || dc.MaxIdleConns > dc.MaxConnections {
		return fmt.Errorf("max idle connections must be in range 0-%d, got %d", dc.MaxConnections, dc.MaxIdleConns)
	}
	if dc.ConnMaxLifetime < 0 {
		return fmt.Errorf("connection max lifetime must be non-negative, got %v", dc.ConnMaxLifetime)
	}
	return nil
}

var placeholderPasswords = []string{
	"changeme", "change_me", "change-me", "password", "secret",
	"admin", "root", "test", "demo", "example", "default", "placeholder",
}

// validatePassword rejects short passwords and common placeholders
func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) < 16 {
		return fmt.Errorf("password must be at least 16 characters long, got %d", len(password))
	}
	lower := strings.ToLower(password)
	for _, p := range placeholderPasswords {
		if strings.Contains(lower, p) {
			return fmt.Errorf("password contains placeholder text '%s' - use a strong, unique password", p)
		}
	}
	return nil
}
