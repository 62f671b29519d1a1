package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Classifier ClassifierConfig
	Extraction ExtractionConfig
	Pipeline   PipelineConfig
	Storage    StorageConfig
	Telemetry  TelemetryConfig
	Profiling  ProfilingConfig
	Printing   PrintingConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Path            string // sqlite file, ":memory:" for an in-memory database
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
}

// RedisConfig holds Redis connection settings. Redis backs the distributed
// run lock; without it runs are serialized in-process only.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	AllowOrigins   []string
	ShredRateLimit int // shred requests per client per minute, 0 disables
}

// ClassifierConfig configures the classification collaborator and the
// orchestrator that calls it
type ClassifierConfig struct {
	Provider             string // ollama, rules
	Endpoint             string
	Model                string
	Timeout              time.Duration // per call
	BatchSize            int
	MaxConcurrency       int
	MaxRetries           int
	RetryBackoff         time.Duration
	LowConfidenceCeiling float64
}

// ExtractionConfig configures section detection and candidate extraction
type ExtractionConfig struct {
	MinLength        int
	MaxHeadingLength int
}

// PipelineConfig configures shredding runs
type PipelineConfig struct {
	LockTTL          time.Duration
	LockPollInterval time.Duration
	RunTimeout       time.Duration
}

// StorageConfig holds S3-compatible object storage settings used to archive
// exported matrices
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	ForcePathStyle  bool
	Prefix          string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled              bool
	ServerAddress        string
	ApplicationName      string
	BasicAuthUser        string
	BasicAuthPassword    string
	Types                []string // cpu, alloc_space, inuse_space, goroutines, mutex_count, ...
	SpanProfiles         bool     // link CPU profiles to trace spans
	MutexProfileFraction int
	BlockProfileRate     int
}

// PrintingConfig holds the headless Chrome settings of the PDF matrix export
type PrintingConfig struct {
	Enabled   bool
	RemoteURL string // devtools websocket of a running browser; empty launches one
	NoSandbox bool   // required when Chrome runs as root in a container
	Timeout   time.Duration
	Paper     string // letter, a4
}

// Load loads configuration from config.toml in the usual locations and from
// SHRED_ environment variables.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit file when path is set.
// Priority (highest to lowest):
// 1. Environment variables with SHRED_ prefix (e.g., SHRED_DATABASE_PASSWORD)
// 2. the config file
// 3. Built-in defaults
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/shredder")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SHRED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			AllowOrigins:   v.GetStringSlice("http.allow_origins"),
			ShredRateLimit: v.GetInt("http.shred_rate_limit"),
		},
		Classifier: ClassifierConfig{
			Provider:             v.GetString("classifier.provider"),
			Endpoint:             v.GetString("classifier.endpoint"),
			Model:                v.GetString("classifier.model"),
			Timeout:              v.GetDuration("classifier.timeout"),
			BatchSize:            v.GetInt("classifier.batch_size"),
			MaxConcurrency:       v.GetInt("classifier.max_concurrency"),
			MaxRetries:           v.GetInt("classifier.max_retries"),
			RetryBackoff:         v.GetDuration("classifier.retry_backoff"),
			LowConfidenceCeiling: v.GetFloat64("classifier.low_confidence_ceiling"),
		},
		Extraction: ExtractionConfig{
			MinLength:        v.GetInt("extraction.min_length"),
			MaxHeadingLength: v.GetInt("extraction.max_heading_length"),
		},
		Pipeline: PipelineConfig{
			LockTTL:          v.GetDuration("pipeline.lock_ttl"),
			LockPollInterval: v.GetDuration("pipeline.lock_poll_interval"),
			RunTimeout:       v.GetDuration("pipeline.run_timeout"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UseSSL:          v.GetBool("storage.use_ssl"),
			ForcePathStyle:  v.GetBool("storage.force_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Profiling: ProfilingConfig{
			Enabled:              v.GetBool("profiling.enabled"),
			ServerAddress:        v.GetString("profiling.server_address"),
			ApplicationName:      v.GetString("profiling.application_name"),
			BasicAuthUser:        v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword:    v.GetString("profiling.basic_auth_password"),
			Types:                v.GetStringSlice("profiling.types"),
			SpanProfiles:         v.GetBool("profiling.span_profiles"),
			MutexProfileFraction: v.GetInt("profiling.mutex_profile_fraction"),
			BlockProfileRate:     v.GetInt("profiling.block_profile_rate"),
		},
		Printing: PrintingConfig{
			Enabled:   v.GetBool("printing.enabled"),
			RemoteURL: v.GetString("printing.remote_url"),
			NoSandbox: v.GetBool("printing.no_sandbox"),
			Timeout:   v.GetDuration("printing.timeout"),
			Paper:     v.GetString("printing.paper"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "shredder"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "shredder.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "shredder"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 20 << 20 // 20MB, solicitations are large
	}

	if cfg.Classifier.Provider == "" {
		cfg.Classifier.Provider = "ollama"
	}
	if cfg.Classifier.Endpoint == "" {
		cfg.Classifier.Endpoint = "http://localhost:11434"
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "llama3.1"
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 60 * time.Second
	}
	if cfg.Classifier.BatchSize == 0 {
		cfg.Classifier.BatchSize = 4
	}
	if cfg.Classifier.MaxConcurrency == 0 {
		cfg.Classifier.MaxConcurrency = 2
	}
	if cfg.Classifier.MaxRetries == 0 {
		cfg.Classifier.MaxRetries = 2
	}
	if cfg.Classifier.RetryBackoff == 0 {
		cfg.Classifier.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Classifier.LowConfidenceCeiling == 0 {
		cfg.Classifier.LowConfidenceCeiling = 0.3
	}

	if cfg.Extraction.MinLength == 0 {
		cfg.Extraction.MinLength = 15
	}
	if cfg.Extraction.MaxHeadingLength == 0 {
		cfg.Extraction.MaxHeadingLength = 120
	}

	// refreshed while a run is active; bounds how long a crashed run blocks the next
	if cfg.Pipeline.LockTTL == 0 {
		cfg.Pipeline.LockTTL = 2 * time.Minute
	}
	if cfg.Pipeline.LockPollInterval == 0 {
		cfg.Pipeline.LockPollInterval = 250 * time.Millisecond
	}
	if cfg.Pipeline.RunTimeout == 0 {
		cfg.Pipeline.RunTimeout = 30 * time.Minute
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "compliance-matrices"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "matrices"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "shredder"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}

	if cfg.Profiling.ServerAddress == "" {
		cfg.Profiling.ServerAddress = "http://localhost:4040"
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = cfg.Telemetry.ServiceName
	}
	if len(cfg.Profiling.Types) == 0 {
		cfg.Profiling.Types = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
	if cfg.Profiling.MutexProfileFraction == 0 {
		cfg.Profiling.MutexProfileFraction = 5
	}
	if cfg.Profiling.BlockProfileRate == 0 {
		cfg.Profiling.BlockProfileRate = 5
	}

	if cfg.Printing.Timeout == 0 {
		cfg.Printing.Timeout = 30 * time.Second
	}
	if cfg.Printing.Paper == "" {
		cfg.Printing.Paper = "letter"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Classifier.Provider {
	case "ollama", "rules":
	default:
		return fmt.Errorf("classifier.provider must be ollama or rules, got %q", c.Classifier.Provider)
	}
	if c.Classifier.BatchSize < 1 {
		return fmt.Errorf("classifier.batch_size must be at least 1")
	}
	if c.Classifier.MaxConcurrency < 1 {
		return fmt.Errorf("classifier.max_concurrency must be at least 1")
	}
	if c.Classifier.MaxRetries < 0 {
		return fmt.Errorf("classifier.max_retries cannot be negative")
	}
	if c.Classifier.LowConfidenceCeiling < 0 || c.Classifier.LowConfidenceCeiling > 1 {
		return fmt.Errorf("classifier.low_confidence_ceiling must be between 0.0 and 1.0, got %f", c.Classifier.LowConfidenceCeiling)
	}
	if c.Extraction.MinLength < 1 {
		return fmt.Errorf("extraction.min_length must be positive")
	}
	if c.Pipeline.LockTTL < time.Second {
		return fmt.Errorf("pipeline.lock_ttl must be at least 1s, got %s", c.Pipeline.LockTTL)
	}

	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	switch c.Printing.Paper {
	case "letter", "a4":
	default:
		return fmt.Errorf("printing.paper must be letter or a4, got %q", c.Printing.Paper)
	}

	if c.Profiling.SpanProfiles && !c.Telemetry.Enabled {
		return fmt.Errorf("profiling.span_profiles requires telemetry.enabled")
	}
	return nil
}

// DSN returns the postgres connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
