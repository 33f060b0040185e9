package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the spacechat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode a bearer token that is not a JWT is accepted as the user id.
	Mode string

	// Database
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Datastore backend type
	DatastoreType string // "postgres", "sqlite" or "mongo"

	// Redis
	RedisURL string

	// Infinispan RESP endpoint, used by the "infinispan" cache plugin.
	InfinispanHost     string
	InfinispanUsername string
	InfinispanPassword string

	// Unread count cache backend: "redis", "infinispan" or "none".
	CacheType string
	// TTL of a cached unread count map.
	CacheUnreadTTL time.Duration

	// Notification sink: "redis" or "none".
	NotifyType string
	// Channel prefix for published chat events; one channel per recipient user.
	NotifyChannelPrefix string

	// Size of the in-process user directory (display names).
	UserCacheSize int64

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string
	// PrometheusURL is queried by the admin stats endpoints.
	PrometheusURL string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Security
	// APIKeys maps API key values to client IDs.
	APIKeys         map[string]string
	AdminOIDCRole   string
	AuditorOIDCRole string
	AdminUsers      string
	AuditorUsers    string
	AdminClients    string
	AuditorClients  string
	// AdminRequireJustification rejects admin calls without a justification.
	AdminRequireJustification bool

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Consolidation
	// ConsolidationInterval is how often the background healer runs; 0 disables it.
	ConsolidationInterval time.Duration
	// OrphanChatGrace is how old an unlinked chat must be before it is swept.
	OrphanChatGrace time.Duration
	// ConsolidationBatchSize bounds each scan the healer performs.
	ConsolidationBatchSize int

	// Task processor poll interval.
	TaskInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		CacheType:               "none",
		CacheUnreadTTL:          time.Minute,
		NotifyType:              "none",
		NotifyChannelPrefix:     "spacechat:user:",
		UserCacheSize:           10000,
		MetricsLabels:           "service=spacechat",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		AdminOIDCRole:          "admin",
		AuditorOIDCRole:        "auditor",
		MaxBodySize:            1024 * 1024,
		DrainTimeout:           30,
		DBMaxOpenConns:         25,
		DBMaxIdleConns:         5,
		ConsolidationInterval:  time.Hour,
		OrphanChatGrace:        10 * time.Minute,
		ConsolidationBatchSize: 500,
		TaskInterval:           time.Minute,
	}
}
