package config

import "time"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	ErrorTracking ErrorTrackingConfig `mapstructure:"error_tracking"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Grid          GridConfig          `mapstructure:"grid"`
	Session       SessionConfig       `mapstructure:"session"`
	Dispatch      DispatchConfig      `mapstructure:"dispatch"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`

	// MaxRequestBytes bounds request bodies, MaxQueryBytes the raw query
	MaxRequestBytes int64 `mapstructure:"max_request_bytes"`
	MaxQueryBytes   int   `mapstructure:"max_query_bytes"`

	// Mass action requests per second and burst, per session
	MassActionRate  float64 `mapstructure:"mass_action_rate"`
	MassActionBurst int     `mapstructure:"mass_action_burst"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Endpoint       string `mapstructure:"endpoint"`
}

// MetricsConfig configures the Prometheus provider
type MetricsConfig struct {
	Enabled   bool      `mapstructure:"enabled"`
	Namespace string    `mapstructure:"namespace"`
	Path      string    `mapstructure:"path"`
	Buckets   []float64 `mapstructure:"buckets"`
}

// CacheConfig holds cache provider configuration
type CacheConfig struct {
	Provider string         `mapstructure:"provider"` // memory, redis, memcache
	Redis    RedisConfig    `mapstructure:"redis"`
	Memcache MemcacheConfig `mapstructure:"memcache"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MemcacheConfig holds Memcache-specific configuration
type MemcacheConfig struct {
	Servers      []string      `mapstructure:"servers"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Dev  bool   `mapstructure:"dev"`
	Path string `mapstructure:"path"`
}

// ErrorTrackingConfig holds error tracking configuration
type ErrorTrackingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Provider         string  `mapstructure:"provider"` // sentry, noop
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	Debug            bool    `mapstructure:"debug"`
	SampleRate       float64 `mapstructure:"sample_rate"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
	// Component tags every event, "datagrid" when empty
	Component string `mapstructure:"component"`
}

// DatabaseConfig selects the SQL driver and the query layer on top of it
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite, mssql
	ORM             string        `mapstructure:"orm"`    // bun, gorm, sql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Debug           bool          `mapstructure:"debug"`
}

// GridConfig holds defaults applied to every grid built by the server
type GridConfig struct {
	Limits        []int         `mapstructure:"limits"`
	TotalCacheTTL time.Duration `mapstructure:"total_cache_ttl"`
	ShowFilters   bool          `mapstructure:"show_filters"`
	ShowTitles    bool          `mapstructure:"show_titles"`
}

// SessionConfig configures where per-grid state is persisted between requests
type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	TTL        time.Duration `mapstructure:"ttl"`
	Secure     bool          `mapstructure:"secure"`
}

// DispatchConfig selects how delegated mass actions are forwarded
type DispatchConfig struct {
	Provider      string        `mapstructure:"provider"` // mux, nats
	NATSURL       string        `mapstructure:"nats_url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// AwaitReply makes NATS dispatch wait for the handler's reply
	AwaitReply bool `mapstructure:"await_reply"`
}
