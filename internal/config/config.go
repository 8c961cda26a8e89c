package config

import (
	"fmt"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/viper"

	"upqueue/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	S3         S3Config
	HTTPUpload HTTPUploadConfig
	Log        LogConfig
	CORS       CORSConfig
	Queue      QueueConfig
	Policy     PolicyConfig
	Signer     SignerConfig
	Resources  ResourcesConfig
	Results    ResultsConfig
}

// QueueConfig holds upload queue worker settings.
type QueueConfig struct {
	PollIntervalSecs int    `mapstructure:"poll_interval_secs"`
	Concurrency      int    `mapstructure:"concurrency"`
	AttemptTimeout   int    `mapstructure:"attempt_timeout_secs"`
	StaleAfterSecs   int    `mapstructure:"stale_after_secs"`
	NetworkCheck     string `mapstructure:"network_check"`
}

// PolicyConfig holds the default retry policy applied to requests that do not
// carry their own.
type PolicyConfig struct {
	MaxRetries    int    `mapstructure:"max_retries"`
	Network       string `mapstructure:"network"`
	Backoff       string `mapstructure:"backoff"`
	BackoffMillis int64  `mapstructure:"backoff_millis"`
}

// ToPolicy converts the configured defaults into a domain.Policy.
func (p *PolicyConfig) ToPolicy() domain.Policy {
	return domain.Policy{
		MaxRetries:    p.MaxRetries,
		Network:       domain.NetworkPolicy(p.Network),
		Backoff:       domain.BackoffPolicy(p.Backoff),
		BackoffMillis: p.BackoffMillis,
	}
}

// SignerConfig holds signed upload settings. Signing is disabled when Secret is empty.
type SignerConfig struct {
	Name   string        `mapstructure:"name"`
	APIKey string        `mapstructure:"api_key"`
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// ResourcesConfig points at the directory of bundled resources.
type ResourcesConfig struct {
	Dir string `mapstructure:"dir"`
}

// ResultsConfig selects where terminal results are kept for replay.
type ResultsConfig struct {
	Store      string `mapstructure:"store"`
	MemorySize int    `mapstructure:"memory_size"`
	// ReplayWindow and ReplayLimit bound what a new listener is replayed.
	ReplayWindow time.Duration `mapstructure:"replay_window"`
	ReplayLimit  int           `mapstructure:"replay_limit"`
	// Retention is how long finished requests and their results are kept.
	// Zero keeps them forever.
	Retention     time.Duration `mapstructure:"retention"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Name        string        `mapstructure:"name"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
	// AutoMigrate applies the embedded migrations when the server starts.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// S3Config holds AWS S3 settings.
type S3Config struct {
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	MaxFileSize   int64  `mapstructure:"max_file_size"`
	PresignExpiry int64  `mapstructure:"presign_expiry"`
}

// HTTPUploadConfig holds settings for the HTTP upload endpoint transfer.
type HTTPUploadConfig struct {
	URL         string        `mapstructure:"url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	InlineRetry int           `mapstructure:"inline_retry"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from environment variables with the UPQUEUE_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UPQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.environment", "development")

	// DB defaults
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "upqueue")
	v.SetDefault("db.password", "upqueue_secret")
	v.SetDefault("db.name", "upqueue_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 25)
	v.SetDefault("db.max_idle", 10)
	v.SetDefault("db.max_lifetime", "30m")
	v.SetDefault("db.auto_migrate", false)

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "upqueue-uploads")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.key_prefix", "uploads")
	v.SetDefault("s3.max_file_size", "100MB")
	v.SetDefault("s3.presign_expiry", 3600)

	// HTTP upload defaults (empty URL selects the S3 transfer)
	v.SetDefault("http_upload.url", "")
	v.SetDefault("http_upload.timeout", "2m")
	v.SetDefault("http_upload.inline_retry", 0)

	// Log defaults
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")

	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Queue defaults
	v.SetDefault("queue.poll_interval_secs", 5)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.attempt_timeout_secs", 600)
	v.SetDefault("queue.stale_after_secs", 1800)
	v.SetDefault("queue.network_check", "")

	// Policy defaults
	v.SetDefault("policy.max_retries", 5)
	v.SetDefault("policy.network", "any")
	v.SetDefault("policy.backoff", "exponential")
	v.SetDefault("policy.backoff_millis", 120000)

	// Signer defaults
	v.SetDefault("signer.name", "upqueue")
	v.SetDefault("signer.api_key", "")
	v.SetDefault("signer.secret", "")
	v.SetDefault("signer.ttl", "1h")

	v.SetDefault("resources.dir", "resources")

	v.SetDefault("results.store", "postgres")
	v.SetDefault("results.memory_size", 1024)
	v.SetDefault("results.replay_window", "24h")
	v.SetDefault("results.replay_limit", 500)
	v.SetDefault("results.retention", "168h")
	v.SetDefault("results.purge_interval", "1h")

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":                "UPQUEUE_SERVER_PORT",
		"server.read_timeout":        "UPQUEUE_SERVER_READ_TIMEOUT",
		"server.write_timeout":       "UPQUEUE_SERVER_WRITE_TIMEOUT",
		"server.environment":         "UPQUEUE_SERVER_ENVIRONMENT",
		"db.host":                    "UPQUEUE_DB_HOST",
		"db.port":                    "UPQUEUE_DB_PORT",
		"db.user":                    "UPQUEUE_DB_USER",
		"db.password":                "UPQUEUE_DB_PASSWORD",
		"db.name":                    "UPQUEUE_DB_NAME",
		"db.sslmode":                 "UPQUEUE_DB_SSLMODE",
		"db.max_open":                "UPQUEUE_DB_MAX_OPEN",
		"db.max_idle":                "UPQUEUE_DB_MAX_IDLE",
		"db.max_lifetime":            "UPQUEUE_DB_MAX_LIFETIME",
		"db.auto_migrate":            "UPQUEUE_DB_AUTO_MIGRATE",
		"s3.region":                  "UPQUEUE_S3_REGION",
		"s3.bucket":                  "UPQUEUE_S3_BUCKET",
		"s3.endpoint":                "UPQUEUE_S3_ENDPOINT",
		"s3.access_key":              "UPQUEUE_S3_ACCESS_KEY",
		"s3.secret_key":              "UPQUEUE_S3_SECRET_KEY",
		"s3.key_prefix":              "UPQUEUE_S3_KEY_PREFIX",
		"s3.max_file_size":           "UPQUEUE_S3_MAX_FILE_SIZE",
		"s3.presign_expiry":          "UPQUEUE_S3_PRESIGN_EXPIRY",
		"http_upload.url":            "UPQUEUE_HTTP_UPLOAD_URL",
		"http_upload.timeout":        "UPQUEUE_HTTP_UPLOAD_TIMEOUT",
		"http_upload.inline_retry":   "UPQUEUE_HTTP_UPLOAD_INLINE_RETRY",
		"log.level":                  "UPQUEUE_LOG_LEVEL",
		"log.format":                 "UPQUEUE_LOG_FORMAT",
		"cors.allowed_origins":       "UPQUEUE_CORS_ALLOWED_ORIGINS",
		"queue.poll_interval_secs":   "UPQUEUE_QUEUE_POLL_INTERVAL_SECS",
		"queue.concurrency":          "UPQUEUE_QUEUE_CONCURRENCY",
		"queue.attempt_timeout_secs": "UPQUEUE_QUEUE_ATTEMPT_TIMEOUT_SECS",
		"queue.stale_after_secs":     "UPQUEUE_QUEUE_STALE_AFTER_SECS",
		"queue.network_check":        "UPQUEUE_QUEUE_NETWORK_CHECK",
		"policy.max_retries":         "UPQUEUE_POLICY_MAX_RETRIES",
		"policy.network":             "UPQUEUE_POLICY_NETWORK",
		"policy.backoff":             "UPQUEUE_POLICY_BACKOFF",
		"policy.backoff_millis":      "UPQUEUE_POLICY_BACKOFF_MILLIS",
		"signer.name":                "UPQUEUE_SIGNER_NAME",
		"signer.api_key":             "UPQUEUE_SIGNER_API_KEY",
		"signer.secret":              "UPQUEUE_SIGNER_SECRET",
		"signer.ttl":                 "UPQUEUE_SIGNER_TTL",
		"resources.dir":              "UPQUEUE_RESOURCES_DIR",
		"results.store":              "UPQUEUE_RESULTS_STORE",
		"results.memory_size":        "UPQUEUE_RESULTS_MEMORY_SIZE",
		"results.replay_window":      "UPQUEUE_RESULTS_REPLAY_WINDOW",
		"results.replay_limit":       "UPQUEUE_RESULTS_REPLAY_LIMIT",
		"results.retention":          "UPQUEUE_RESULTS_RETENTION",
		"results.purge_interval":     "UPQUEUE_RESULTS_PURGE_INTERVAL",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	maxFileSize, err := units.FromHumanSize(v.GetString("s3.max_file_size"))
	if err != nil {
		return nil, fmt.Errorf("parsing s3.max_file_size: %w", err)
	}

	cfg := &Config{}
	cfg.Server = ServerConfig{
		Port:         v.GetString("server.port"),
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.DB = DBConfig{
		Host:        v.GetString("db.host"),
		Port:        v.GetInt("db.port"),
		User:        v.GetString("db.user"),
		Password:    v.GetString("db.password"),
		Name:        v.GetString("db.name"),
		SSLMode:     v.GetString("db.sslmode"),
		MaxOpen:     v.GetInt("db.max_open"),
		MaxIdle:     v.GetInt("db.max_idle"),
		MaxLifetime: v.GetDuration("db.max_lifetime"),
		AutoMigrate: v.GetBool("db.auto_migrate"),
	}
	cfg.S3 = S3Config{
		Region:        v.GetString("s3.region"),
		Bucket:        v.GetString("s3.bucket"),
		Endpoint:      v.GetString("s3.endpoint"),
		AccessKey:     v.GetString("s3.access_key"),
		SecretKey:     v.GetString("s3.secret_key"),
		KeyPrefix:     v.GetString("s3.key_prefix"),
		MaxFileSize:   maxFileSize,
		PresignExpiry: v.GetInt64("s3.presign_expiry"),
	}
	cfg.HTTPUpload = HTTPUploadConfig{
		URL:         v.GetString("http_upload.url"),
		Timeout:     v.GetDuration("http_upload.timeout"),
		InlineRetry: v.GetInt("http_upload.inline_retry"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}
	// Parse CORS allowed origins from comma-separated string
	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{AllowedOrigins: corsOrigins}

	cfg.Queue = QueueConfig{
		PollIntervalSecs: v.GetInt("queue.poll_interval_secs"),
		Concurrency:      v.GetInt("queue.concurrency"),
		AttemptTimeout:   v.GetInt("queue.attempt_timeout_secs"),
		StaleAfterSecs:   v.GetInt("queue.stale_after_secs"),
		NetworkCheck:     v.GetString("queue.network_check"),
	}
	cfg.Policy = PolicyConfig{
		MaxRetries:    v.GetInt("policy.max_retries"),
		Network:       v.GetString("policy.network"),
		Backoff:       v.GetString("policy.backoff"),
		BackoffMillis: v.GetInt64("policy.backoff_millis"),
	}
	cfg.Signer = SignerConfig{
		Name:   v.GetString("signer.name"),
		APIKey: v.GetString("signer.api_key"),
		Secret: v.GetString("signer.secret"),
		TTL:    v.GetDuration("signer.ttl"),
	}
	cfg.Resources = ResourcesConfig{Dir: v.GetString("resources.dir")}
	cfg.Results = ResultsConfig{
		Store:         v.GetString("results.store"),
		MemorySize:    v.GetInt("results.memory_size"),
		ReplayWindow:  v.GetDuration("results.replay_window"),
		ReplayLimit:   v.GetInt("results.replay_limit"),
		Retention:     v.GetDuration("results.retention"),
		PurgeInterval: v.GetDuration("results.purge_interval"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.Policy.ToPolicy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	switch c.Results.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("results.store must be \"postgres\" or \"memory\", got %q", c.Results.Store)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive")
	}
	if c.Results.Retention > 0 && c.Results.Retention < c.Results.ReplayWindow {
		return fmt.Errorf("results.retention (%s) must not be shorter than results.replay_window (%s)",
			c.Results.Retention, c.Results.ReplayWindow)
	}
	return nil
}
