// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Elastic, Ingestion, Redis, Postgres, Kafka, CORS, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Elastic   ElasticConfig   `yaml:"elastic"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Search    SearchConfig    `yaml:"search"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// ElasticConfig holds the search index connection parameters.
type ElasticConfig struct {
	Addresses     []string      `yaml:"addresses"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Index         string        `yaml:"index"`
	CACertPath    string        `yaml:"caCertPath"`
	StartupProbes int           `yaml:"startupProbes"`
	ProbeDelay    time.Duration `yaml:"probeDelay"`
}

// IngestionConfig controls the one-time CSV load.
type IngestionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CSVPath       string        `yaml:"csvPath"`
	Workers       int           `yaml:"workers"`
	FlushBytes    int           `yaml:"flushBytes"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// SearchConfig controls film search result sizes.
type SearchConfig struct {
	ResultSize int `yaml:"resultSize"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters for the ingestion
// ledger.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents   string `yaml:"searchEvents"`
	IngestComplete string `yaml:"ingestComplete"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// RateLimitConfig caps API requests per client address. Each client gets
// Requests tokens per Window, refilled continuously.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first setting that would keep the service from
// starting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if len(c.Elastic.Addresses) == 0 {
		return errors.New("elastic addresses must not be empty")
	}
	if c.Elastic.Index == "" {
		return errors.New("elastic index must be set")
	}
	if c.Search.ResultSize <= 0 {
		return fmt.Errorf("search result size must be positive, got %d", c.Search.ResultSize)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit needs positive requests and window, got %d per %s", c.RateLimit.Requests, c.RateLimit.Window)
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics port %d collides with server port", c.Metrics.Port)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5400,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  20 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Elastic: ElasticConfig{
			Addresses:     []string{"https://esdb:9200"},
			Username:      "elastic",
			Index:         "films",
			StartupProbes: 10,
			ProbeDelay:    2 * time.Second,
		},
		Ingestion: IngestionConfig{
			Enabled:       true,
			CSVPath:       "datasets/netflix.csv",
			Workers:       2,
			FlushBytes:    1 << 20,
			FlushInterval: 5 * time.Second,
		},
		Search: SearchConfig{
			ResultSize: 8,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "filmsearch",
			User:            "filmsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				SearchEvents:   "film-search-events",
				IngestComplete: "film-ingest-complete",
			},
		},
		CORS: CORSConfig{
			AllowOrigins:     []string{"http://nginx:80"},
			AllowCredentials: true,
			MaxAge:           600,
		},
		RateLimit: RateLimitConfig{
			Requests: 120,
			Window:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FS_* environment variables, plus the ELASTIC_* and
// ESDB_CERT variables used by the container deployment, and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("FS_ELASTIC_ADDRESSES"); v != "" {
		cfg.Elastic.Addresses = strings.Split(v, ",")
	} else if port := os.Getenv("ELASTIC_PORT"); port != "" {
		host := os.Getenv("ELASTIC_HOST")
		if host == "" {
			host = "esdb"
		}
		cfg.Elastic.Addresses = []string{fmt.Sprintf("https://%s:%s", host, port)}
	}
	if v := firstEnv("FS_ELASTIC_USERNAME", "ELASTIC_USERNAME"); v != "" {
		cfg.Elastic.Username = v
	}
	if v := firstEnv("FS_ELASTIC_PASSWORD", "ELASTIC_PASSWORD"); v != "" {
		cfg.Elastic.Password = v
	}
	if v := firstEnv("FS_ELASTIC_INDEX", "ELASTIC_INDEX"); v != "" {
		cfg.Elastic.Index = v
	}
	if v := firstEnv("FS_ELASTIC_CA_CERT", "ESDB_CERT"); v != "" {
		cfg.Elastic.CACertPath = v
	}

	if v := os.Getenv("FS_INGESTION_CSV_PATH"); v != "" {
		cfg.Ingestion.CSVPath = v
	}
	if v := os.Getenv("FS_INGESTION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ingestion.Enabled = b
		}
	}

	if v := os.Getenv("FS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("FS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("FS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("FS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}

	if v := os.Getenv("FS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}

	if v := os.Getenv("FS_CORS_ALLOW_ORIGINS"); v != "" {
		cfg.CORS.AllowOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv("FS_RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Requests = n
			cfg.RateLimit.Enabled = n > 0
		}
	}

	if v := os.Getenv("FS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
