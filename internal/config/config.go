// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Redis configures the fast-path queue transport.
type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// Queue carries spec §3's Queue configuration section.
type Queue struct {
	CompletedRetentionHours int `mapstructure:"completed_retention_hours"`
	FailedRetentionHours    int `mapstructure:"failed_retention_hours"`
	ApprovalTimeoutHours    int `mapstructure:"approval_timeout_hours"`
	CleanupIntervalSeconds  int `mapstructure:"cleanup_interval_seconds"`
	MaxConcurrentWorkers    int `mapstructure:"max_concurrent_workers"`
}

// Dedup carries spec §3's Dedup configuration section.
type Dedup struct {
	Strategy  string `mapstructure:"strategy"`
	Algorithm string `mapstructure:"algorithm"`
}

// Approval carries spec §3's Approval configuration section.
type Approval struct {
	AutoApproveUnderCostCents int `mapstructure:"auto_approve_under_cost_cents"`
	AutoApproveUnderChunks    int `mapstructure:"auto_approve_under_chunks"`
}

// Embedding carries spec §3's Embedding configuration section, plus the
// HTTP client tuning the embedding client package needs.
type Embedding struct {
	ActiveProfileID string        `mapstructure:"active_profile_id"`
	Dimensions      int           `mapstructure:"dimensions"`
	Normalize       bool          `mapstructure:"normalize"`
	QueryPrefix     string        `mapstructure:"query_prefix"`
	DocumentPrefix  string        `mapstructure:"document_prefix"`
	ServiceURL      string        `mapstructure:"service_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Ingestion carries spec §3's Ingestion configuration section.
type Ingestion struct {
	ChunkSizeChars       int     `mapstructure:"chunk_size_chars"`
	ChunkOverlapChars    int     `mapstructure:"chunk_overlap_chars"`
	MinConceptSimilarity float64 `mapstructure:"min_concept_similarity"`
	MinSearchSimilarity  float64 `mapstructure:"min_search_similarity"`
}

// Streaming carries spec §3's Streaming (SSE) configuration section.
type Streaming struct {
	SSEPollIntervalMS     int `mapstructure:"sse_poll_interval_ms"`
	SSEKeepaliveSeconds   int `mapstructure:"sse_keepalive_seconds"`
	SSEIdleTimeoutSeconds int `mapstructure:"sse_idle_timeout_seconds"`
}

// Artifacts carries spec §3's Artifacts configuration section.
type Artifacts struct {
	InlineThresholdBytes int `mapstructure:"inline_threshold_bytes"`
	LocalStorageCacheMB  int `mapstructure:"localstorage_cache_mb"`
}

// LLM configures the external LLM Extractor client (§6.4).
type LLM struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Concurrency int           `mapstructure:"concurrency"`
}

// CircuitBreaker tunes the breakers guarding outbound LLM and embedding
// calls and the worker dispatch loop.
type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Tracing is a backwards-compatible alias.
type Tracing = TracingConfig

// ObservabilityConfig configures the metrics/health HTTP surface and logging.
type ObservabilityConfig struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFile     string        `mapstructure:"log_file"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// Observability is a backwards-compatible alias.
type Observability = ObservabilityConfig

// Auth toggles and tunes the authorisation kernel.
type Auth struct {
	Enabled          bool          `mapstructure:"enabled"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	RefreshTokenTTL  time.Duration `mapstructure:"refresh_token_ttl"`
	KeyRotationEvery time.Duration `mapstructure:"key_rotation_every"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// HTTP configures the REST+SSE surface.
type HTTP struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// Storage names a relational backend and its DSN. Load validates the
// backend name; no package in this module opens a connection from it.
type Storage struct {
	Backend string `mapstructure:"backend"` // "sqlite" | "postgres" | "clickhouse"
	DSN     string `mapstructure:"dsn"`
}

// BlobStore selects the large-payload storage backend.
type BlobStore struct {
	Backend   string `mapstructure:"backend"` // "redis" | "s3"
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`   // non-empty for MinIO/S3-compatible endpoints
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Schema tracks the minimum schema_migrations version this binary requires.
type Schema struct {
	RequiredVersion int `mapstructure:"required_version"`
}

// Config is the full process-wide configuration.
type Config struct {
	Role           string         `mapstructure:"role"`
	Redis          Redis          `mapstructure:"redis"`
	Queue          Queue          `mapstructure:"queue"`
	Dedup          Dedup          `mapstructure:"dedup"`
	Approval       Approval       `mapstructure:"approval"`
	Embedding      Embedding      `mapstructure:"embedding"`
	Ingestion      Ingestion      `mapstructure:"ingestion"`
	Streaming      Streaming      `mapstructure:"streaming"`
	Artifacts      Artifacts      `mapstructure:"artifacts"`
	LLM            LLM            `mapstructure:"llm"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
	Auth           Auth           `mapstructure:"auth"`
	HTTP           HTTP           `mapstructure:"http"`
	Storage        Storage        `mapstructure:"storage"`
	BlobStore      BlobStore      `mapstructure:"blobstore"`
	Schema         Schema         `mapstructure:"schema"`
}

func defaultConfig() *Config {
	return &Config{
		Role: "all",
		Redis: Redis{
			Addr:               "localhost:6379",
			DB:                 0,
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Queue: Queue{
			CompletedRetentionHours: 48,
			FailedRetentionHours:    168,
			ApprovalTimeoutHours:    24,
			CleanupIntervalSeconds:  3600,
			MaxConcurrentWorkers:    4,
		},
		Dedup: Dedup{
			Strategy:  "content_hash_and_ontology",
			Algorithm: "sha256",
		},
		Approval: Approval{
			AutoApproveUnderCostCents: 100,
			AutoApproveUnderChunks:    10,
		},
		Embedding: Embedding{
			ActiveProfileID: "default",
			Dimensions:      768,
			Normalize:       true,
			QueryPrefix:     "query: ",
			DocumentPrefix:  "passage: ",
			ServiceURL:      "http://localhost:8081",
			Timeout:         30 * time.Second,
		},
		Ingestion: Ingestion{
			ChunkSizeChars:       4000,
			ChunkOverlapChars:    200,
			MinConceptSimilarity: 0.85,
			MinSearchSimilarity:  0.5,
		},
		Streaming: Streaming{
			SSEPollIntervalMS:     500,
			SSEKeepaliveSeconds:   30,
			SSEIdleTimeoutSeconds: 300,
		},
		Artifacts: Artifacts{
			InlineThresholdBytes: 10_240,
			LocalStorageCacheMB:  50,
		},
		LLM: LLM{
			BaseURL:     "http://localhost:8082",
			Timeout:     120 * time.Second,
			MaxRetries:  3,
			Concurrency: 4,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     Tracing{Enabled: false, ServiceName: "kg-controlplane", SampleRatio: 0.1},
		},
		Auth: Auth{
			Enabled:          true,
			TokenTTL:         1 * time.Hour,
			RefreshTokenTTL:  30 * 24 * time.Hour,
			KeyRotationEvery: 24 * time.Hour,
			CacheTTL:         5 * time.Minute,
		},
		HTTP: HTTP{
			Addr:           ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   0, // SSE handlers own their write deadlines
			MaxUploadBytes: 256 << 20,
		},
		Storage: Storage{
			Backend: "sqlite",
			DSN:     "controlplane.db",
		},
		BlobStore: BlobStore{
			Backend: "redis",
		},
		Schema: Schema{
			RequiredVersion: 1,
		},
	}
}

// Load reads configuration from built-in defaults, the optional file at
// path, and environment variables prefixed KGCP_ (with "." replaced by
// "_"), in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix("KGCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("role", def.Role)

	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("queue.completed_retention_hours", def.Queue.CompletedRetentionHours)
	v.SetDefault("queue.failed_retention_hours", def.Queue.FailedRetentionHours)
	v.SetDefault("queue.approval_timeout_hours", def.Queue.ApprovalTimeoutHours)
	v.SetDefault("queue.cleanup_interval_seconds", def.Queue.CleanupIntervalSeconds)
	v.SetDefault("queue.max_concurrent_workers", def.Queue.MaxConcurrentWorkers)

	v.SetDefault("dedup.strategy", def.Dedup.Strategy)
	v.SetDefault("dedup.algorithm", def.Dedup.Algorithm)

	v.SetDefault("approval.auto_approve_under_cost_cents", def.Approval.AutoApproveUnderCostCents)
	v.SetDefault("approval.auto_approve_under_chunks", def.Approval.AutoApproveUnderChunks)

	v.SetDefault("embedding.active_profile_id", def.Embedding.ActiveProfileID)
	v.SetDefault("embedding.dimensions", def.Embedding.Dimensions)
	v.SetDefault("embedding.normalize", def.Embedding.Normalize)
	v.SetDefault("embedding.query_prefix", def.Embedding.QueryPrefix)
	v.SetDefault("embedding.document_prefix", def.Embedding.DocumentPrefix)
	v.SetDefault("embedding.service_url", def.Embedding.ServiceURL)
	v.SetDefault("embedding.timeout", def.Embedding.Timeout)

	v.SetDefault("ingestion.chunk_size_chars", def.Ingestion.ChunkSizeChars)
	v.SetDefault("ingestion.chunk_overlap_chars", def.Ingestion.ChunkOverlapChars)
	v.SetDefault("ingestion.min_concept_similarity", def.Ingestion.MinConceptSimilarity)
	v.SetDefault("ingestion.min_search_similarity", def.Ingestion.MinSearchSimilarity)

	v.SetDefault("streaming.sse_poll_interval_ms", def.Streaming.SSEPollIntervalMS)
	v.SetDefault("streaming.sse_keepalive_seconds", def.Streaming.SSEKeepaliveSeconds)
	v.SetDefault("streaming.sse_idle_timeout_seconds", def.Streaming.SSEIdleTimeoutSeconds)

	v.SetDefault("artifacts.inline_threshold_bytes", def.Artifacts.InlineThresholdBytes)
	v.SetDefault("artifacts.localstorage_cache_mb", def.Artifacts.LocalStorageCacheMB)

	v.SetDefault("llm.base_url", def.LLM.BaseURL)
	v.SetDefault("llm.timeout", def.LLM.Timeout)
	v.SetDefault("llm.max_retries", def.LLM.MaxRetries)
	v.SetDefault("llm.concurrency", def.LLM.Concurrency)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_file", def.Observability.LogFile)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.service_name", def.Observability.Tracing.ServiceName)
	v.SetDefault("observability.tracing.sample_ratio", def.Observability.Tracing.SampleRatio)

	v.SetDefault("auth.enabled", def.Auth.Enabled)
	v.SetDefault("auth.token_ttl", def.Auth.TokenTTL)
	v.SetDefault("auth.refresh_token_ttl", def.Auth.RefreshTokenTTL)
	v.SetDefault("auth.key_rotation_every", def.Auth.KeyRotationEvery)
	v.SetDefault("auth.cache_ttl", def.Auth.CacheTTL)

	v.SetDefault("http.addr", def.HTTP.Addr)
	v.SetDefault("http.read_timeout", def.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", def.HTTP.WriteTimeout)
	v.SetDefault("http.max_upload_bytes", def.HTTP.MaxUploadBytes)

	v.SetDefault("storage.backend", def.Storage.Backend)
	v.SetDefault("storage.dsn", def.Storage.DSN)

	v.SetDefault("blobstore.backend", def.BlobStore.Backend)

	v.SetDefault("schema.required_version", def.Schema.RequiredVersion)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	switch cfg.Role {
	case "server", "worker", "scheduler", "all":
	default:
		return fmt.Errorf("role must be one of server|worker|scheduler|all, got %q", cfg.Role)
	}
	if cfg.Queue.MaxConcurrentWorkers < 1 {
		return fmt.Errorf("queue.max_concurrent_workers must be >= 1")
	}
	if cfg.Queue.CompletedRetentionHours <= 0 || cfg.Queue.FailedRetentionHours <= 0 {
		return fmt.Errorf("queue retention hours must be positive")
	}
	if cfg.Ingestion.ChunkSizeChars <= cfg.Ingestion.ChunkOverlapChars {
		return fmt.Errorf("ingestion.chunk_size_chars must exceed chunk_overlap_chars")
	}
	if cfg.Ingestion.MinConceptSimilarity < 0 || cfg.Ingestion.MinConceptSimilarity > 1 {
		return fmt.Errorf("ingestion.min_concept_similarity must be in [0,1]")
	}
	if cfg.Artifacts.InlineThresholdBytes < 0 {
		return fmt.Errorf("artifacts.inline_threshold_bytes must be >= 0")
	}
	if cfg.Streaming.SSEPollIntervalMS <= 0 {
		return fmt.Errorf("streaming.sse_poll_interval_ms must be positive")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	switch cfg.Storage.Backend {
	case "sqlite", "postgres", "clickhouse":
	default:
		return fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}
	switch cfg.BlobStore.Backend {
	case "redis", "s3":
	default:
		return fmt.Errorf("unknown blobstore.backend %q", cfg.BlobStore.Backend)
	}
	return nil
}
