package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Inference  InferenceConfig  `json:"inference"`
	Analysis   AnalysisConfig   `json:"analysis"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// InferenceConfig holds async inference pipeline settings.
type InferenceConfig struct {
	// Mode is "fake" (in-process, Community) or "http" (Pro)
	Mode string `json:"mode"`

	// HTTP pipeline settings
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"-"`

	// PollInterval and Deadline bound the submit/poll loop, in seconds.
	PollIntervalSecs int `json:"pollIntervalSecs"`
	DeadlineSecs     int `json:"deadlineSecs"`
}

// AnalysisConfig holds pipeline-level analysis settings.
type AnalysisConfig struct {
	// SourceWeights overrides the default per-source fusion weights.
	SourceWeights SourceWeights `json:"sourceWeights,omitempty"`

	// ProviderTimeoutSecs bounds each signal provider; a provider that
	// exceeds it degrades to absent for that run.
	ProviderTimeoutSecs int `json:"providerTimeoutSecs"`

	// ThrottleWindowSecs is the minimum interval between two alerts for the
	// same subject.
	ThrottleWindowSecs int `json:"throttleWindowSecs"`

	// SweepWorkers is the per-subject parallelism of a batch sweep.
	SweepWorkers int `json:"sweepWorkers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Inference: InferenceConfig{
			Mode:             "fake",
			PollIntervalSecs: 1,
			DeadlineSecs:     30,
		},
		Analysis: AnalysisConfig{
			ProviderTimeoutSecs: 10,
			ThrottleWindowSecs:  300, // 5 minute cooldown
			SweepWorkers:        8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Inference.Mode = "http"
	cfg.Tracing.Enabled = true
	return cfg
}
