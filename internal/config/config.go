package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Gemini        GeminiConfig        `yaml:"gemini"`
	Redis         RedisConfig         `yaml:"redis"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Firestore     FirestoreConfig     `yaml:"firestore"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Search        SearchConfig        `yaml:"search"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// GeminiConfig is handed to the generative client at construction.
type GeminiConfig struct {
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	Temperature     float64       `yaml:"temperature"`
	TopK            int           `yaml:"top_k"`
	TopP            float64       `yaml:"top_p"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
}

type RedisConfig struct {
	Addresses    []string       `yaml:"addresses"`
	Password     string         `yaml:"password"`
	DB           int            `yaml:"db"`
	PoolSize     int            `yaml:"pool_size"`
	MinIdleConns int            `yaml:"min_idle_conns"`
	DialTimeout  time.Duration  `yaml:"dial_timeout"`
	ReadTimeout  time.Duration  `yaml:"read_timeout"`
	WriteTimeout time.Duration  `yaml:"write_timeout"`
	TTL          CacheTTLConfig `yaml:"ttl"`
}

type CacheTTLConfig struct {
	SearchResults time.Duration `yaml:"search_results"`
	Suggestions   time.Duration `yaml:"suggestions"`
	Trending      time.Duration `yaml:"trending"`
	StaleFallback time.Duration `yaml:"stale_fallback"`
}

type ClickHouseConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

type FirestoreConfig struct {
	ProjectID         string        `yaml:"project_id"`
	CredentialsFile   string        `yaml:"credentials_file"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	HistoryCollection string        `yaml:"history_collection"`
}

type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	TopicSearchEvents string        `yaml:"topic_search_events"`
	TopicDLQ          string        `yaml:"topic_dlq"`
	ConsumerGroup     string        `yaml:"consumer_group"`
	BatchSize         int           `yaml:"batch_size"`
	BatchTimeout      time.Duration `yaml:"batch_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
}

type SearchConfig struct {
	Market              string               `yaml:"market"`
	Currency            string               `yaml:"currency"`
	MaxResults          int                  `yaml:"max_results"`
	MaxSuggestions      int                  `yaml:"max_suggestions"`
	MinSuggestionLength int                  `yaml:"min_suggestion_length"`
	RequireAuth         bool                 `yaml:"require_auth"`
	StaleFallback       bool                 `yaml:"stale_fallback"`
	CircuitBreaker      CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry               RetryConfig          `yaml:"retry"`
	SlowCall            SlowCallConfig       `yaml:"slow_call"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

type SlowCallConfig struct {
	WarningThreshold  time.Duration `yaml:"warning_threshold"`
	CriticalThreshold time.Duration `yaml:"critical_threshold"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

type ObservabilityConfig struct {
	MetricsPort     int    `yaml:"metrics_port"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	LogLevel        string `yaml:"log_level"`
	ServiceName     string `yaml:"service_name"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading env file %s: %w", f, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxConcurrent:   200,
			AllowedOrigins:  []string{"*"},
		},
		Gemini: GeminiConfig{
			Model:           "gemini-pro",
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Temperature:     0.7,
			TopK:            32,
			TopP:            0.95,
			MaxOutputTokens: 1024,
			Timeout:         15 * time.Second,
			RateLimit:       10,
			RateBurst:       5,
		},
		Redis: RedisConfig{
			Addresses:    []string{"localhost:6379"},
			PoolSize:     50,
			MinIdleConns: 5,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
			TTL: CacheTTLConfig{
				SearchResults: 5 * time.Minute,
				Suggestions:   10 * time.Minute,
				Trending:      24 * time.Hour,
				StaleFallback: 6 * time.Hour,
			},
		},
		ClickHouse: ClickHouseConfig{
			Addresses:    []string{"localhost:9000"},
			Database:     "onehub_analytics",
			DialTimeout:  5 * time.Second,
			QueryTimeout: 2 * time.Second,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Firestore: FirestoreConfig{
			RequestTimeout:    2 * time.Second,
			HistoryCollection: "search_history",
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			TopicSearchEvents: "search.events",
			TopicDLQ:          "search.events.dlq",
			ConsumerGroup:     "search-analytics",
			BatchSize:         500,
			BatchTimeout:      1 * time.Second,
			MaxRetries:        3,
		},
		Search: SearchConfig{
			Market:              "India",
			Currency:            "INR",
			MaxResults:          5,
			MaxSuggestions:      5,
			MinSuggestionLength: 3,
			StaleFallback:       true,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      5,
				Interval:         60 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 2,
				InitialWait: 200 * time.Millisecond,
				MaxWait:     2 * time.Second,
				Multiplier:  2.0,
			},
			SlowCall: SlowCallConfig{
				WarningThreshold:  4 * time.Second,
				CriticalThreshold: 10 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
			ServiceName: "onehub-search",
		},
	}
}

// A response never carries more than five results or five suggestions.
const (
	MaxResultsLimit     = 5
	MaxSuggestionsLimit = 5
)

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key required")
	}
	if c.Gemini.Model == "" || c.Gemini.BaseURL == "" {
		return fmt.Errorf("gemini model and base url required")
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("gemini timeout must be positive")
	}
	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("at least one redis address required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker required")
	}
	if c.Search.MaxResults <= 0 || c.Search.MaxResults > MaxResultsLimit {
		return fmt.Errorf("max results must be between 1 and %d", MaxResultsLimit)
	}
	if c.Search.MaxSuggestions <= 0 || c.Search.MaxSuggestions > MaxSuggestionsLimit {
		return fmt.Errorf("max suggestions must be between 1 and %d", MaxSuggestionsLimit)
	}
	if c.Search.MinSuggestionLength < 1 {
		return fmt.Errorf("min suggestion length must be at least 1")
	}
	if c.Search.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt secret required when search.require_auth is set")
	}
	return nil
}
