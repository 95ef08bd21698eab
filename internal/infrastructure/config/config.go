package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Security     SecurityConfig     `mapstructure:"security"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Materializer MaterializerConfig `mapstructure:"materializer"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Notifier     NotifierConfig     `mapstructure:"notifier"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
	RateLimitRequests  int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SchedulerConfig tunes the delivery scheduler
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	BatchSize       int           `mapstructure:"batch_size"`
	Workers         int           `mapstructure:"workers"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	ClaimTimeout    time.Duration `mapstructure:"claim_timeout"`
}

// MaterializerConfig tunes how far ahead occurrences are materialized
type MaterializerConfig struct {
	Horizon       time.Duration `mapstructure:"horizon"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

// Calendar providers
const (
	ProviderGoogle = "google"
	ProviderMemory = "memory"
)

// SyncConfig holds external calendar synchronization configuration
type SyncConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"`
	Interval        time.Duration `mapstructure:"interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MaxCallAttempts int           `mapstructure:"max_call_attempts"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	RecheckInterval time.Duration `mapstructure:"recheck_interval"`
	EventDuration   time.Duration `mapstructure:"event_duration"`
	CalendarID      string        `mapstructure:"calendar_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	RefreshToken    string        `mapstructure:"refresh_token"`
}

// Notifier providers
const (
	NotifierLog = "log"
	NotifierFCM = "fcm"
)

// NotifierConfig holds push delivery configuration
type NotifierConfig struct {
	Provider        string `mapstructure:"provider"`
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
}

// Load loads configuration from various sources
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "Remindly")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "remindly")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "remindly.db")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "30s")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.filename", "")

	// Security defaults
	v.SetDefault("security.cors_allowed_origins", "*")
	v.SetDefault("security.rate_limit_requests", 100)
	v.SetDefault("security.rate_limit_window", "1m")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.scan_interval", "15s")
	v.SetDefault("scheduler.grace_period", "10m")
	v.SetDefault("scheduler.max_attempts", 5)
	v.SetDefault("scheduler.retry_backoff", "30s")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.delivery_timeout", "10s")
	v.SetDefault("scheduler.claim_timeout", "5m")

	// Materializer defaults
	v.SetDefault("materializer.horizon", "720h") // 30 days
	v.SetDefault("materializer.sweep_interval", "1h")
	v.SetDefault("materializer.batch_size", 200)

	// Sync defaults
	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.provider", ProviderGoogle)
	v.SetDefault("sync.interval", "1m")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.call_timeout", "10s")
	v.SetDefault("sync.max_call_attempts", 3)
	v.SetDefault("sync.rate_per_second", 5.0)
	v.SetDefault("sync.burst", 5)
	v.SetDefault("sync.recheck_interval", "15m")
	v.SetDefault("sync.event_duration", "30m")
	v.SetDefault("sync.calendar_id", "primary")

	// Notifier defaults
	v.SetDefault("notifier.provider", NotifierLog)
	v.SetDefault("notifier.topic_prefix", "reminders-")
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "APP_NAME")
	v.BindEnv("app.version", "APP_VERSION")
	v.BindEnv("app.environment", "APP_ENVIRONMENT")
	v.BindEnv("app.debug", "APP_DEBUG")

	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.host", "SERVER_HOST")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	v.BindEnv("server.idle_timeout", "SERVER_IDLE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.ssl_mode", "DB_SSL_MODE")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.auto_migrate", "DB_AUTO_MIGRATE")
	v.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	v.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")
	v.BindEnv("database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")
	v.BindEnv("database.conn_max_idle_time", "DB_CONN_MAX_IDLE_TIME")

	// Logger
	v.BindEnv("logger.level", "LOG_LEVEL")
	v.BindEnv("logger.format", "LOG_FORMAT")
	v.BindEnv("logger.output", "LOG_OUTPUT")
	v.BindEnv("logger.filename", "LOG_FILENAME")

	// Security
	v.BindEnv("security.cors_allowed_origins", "CORS_ALLOWED_ORIGINS")
	v.BindEnv("security.rate_limit_requests", "RATE_LIMIT_REQUESTS")
	v.BindEnv("security.rate_limit_window", "RATE_LIMIT_WINDOW")

	// Metrics
	v.BindEnv("metrics.enabled", "ENABLE_METRICS")
	v.BindEnv("metrics.path", "METRICS_PATH")

	// Scheduler
	v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	v.BindEnv("scheduler.scan_interval", "SCHEDULER_SCAN_INTERVAL")
	v.BindEnv("scheduler.grace_period", "SCHEDULER_GRACE_PERIOD")
	v.BindEnv("scheduler.max_attempts", "SCHEDULER_MAX_ATTEMPTS")
	v.BindEnv("scheduler.retry_backoff", "SCHEDULER_RETRY_BACKOFF")
	v.BindEnv("scheduler.batch_size", "SCHEDULER_BATCH_SIZE")
	v.BindEnv("scheduler.workers", "SCHEDULER_WORKERS")
	v.BindEnv("scheduler.delivery_timeout", "SCHEDULER_DELIVERY_TIMEOUT")
	v.BindEnv("scheduler.claim_timeout", "SCHEDULER_CLAIM_TIMEOUT")

	// Materializer
	v.BindEnv("materializer.horizon", "MATERIALIZER_HORIZON")
	v.BindEnv("materializer.sweep_interval", "MATERIALIZER_SWEEP_INTERVAL")
	v.BindEnv("materializer.batch_size", "MATERIALIZER_BATCH_SIZE")

	// Sync
	v.BindEnv("sync.enabled", "SYNC_ENABLED")
	v.BindEnv("sync.provider", "SYNC_PROVIDER")
	v.BindEnv("sync.interval", "SYNC_INTERVAL")
	v.BindEnv("sync.batch_size", "SYNC_BATCH_SIZE")
	v.BindEnv("sync.call_timeout", "SYNC_CALL_TIMEOUT")
	v.BindEnv("sync.max_call_attempts", "SYNC_MAX_CALL_ATTEMPTS")
	v.BindEnv("sync.rate_per_second", "SYNC_RATE_PER_SECOND")
	v.BindEnv("sync.burst", "SYNC_BURST")
	v.BindEnv("sync.recheck_interval", "SYNC_RECHECK_INTERVAL")
	v.BindEnv("sync.event_duration", "SYNC_EVENT_DURATION")
	v.BindEnv("sync.calendar_id", "GOOGLE_CALENDAR_ID")
	v.BindEnv("sync.credentials_file", "GOOGLE_CREDENTIALS_FILE")
	v.BindEnv("sync.client_id", "GOOGLE_CLIENT_ID")
	v.BindEnv("sync.client_secret", "GOOGLE_CLIENT_SECRET")
	v.BindEnv("sync.refresh_token", "GOOGLE_REFRESH_TOKEN")

	// Notifier
	v.BindEnv("notifier.provider", "NOTIFIER_PROVIDER")
	v.BindEnv("notifier.credentials_file", "FIREBASE_CREDENTIALS_FILE")
	v.BindEnv("notifier.project_id", "FIREBASE_PROJECT_ID")
	v.BindEnv("notifier.topic_prefix", "NOTIFIER_TOPIC_PREFIX")
}

func validateConfig(cfg *Config) error {
	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if cfg.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverSQLite:
		if cfg.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if cfg.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler max attempts must be at least 1")
	}
	if cfg.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler workers must be at least 1")
	}
	if cfg.Scheduler.GracePeriod <= 0 {
		return fmt.Errorf("scheduler grace period must be positive")
	}
	if cfg.Scheduler.DeliveryTimeout <= 0 {
		return fmt.Errorf("scheduler delivery timeout must be positive")
	}
	// A claim released while its delivery is still running gets delivered twice.
	if cfg.Scheduler.ClaimTimeout > 0 && cfg.Scheduler.ClaimTimeout <= cfg.Scheduler.DeliveryTimeout {
		return fmt.Errorf("scheduler claim timeout (%s) must exceed the delivery timeout (%s)",
			cfg.Scheduler.ClaimTimeout, cfg.Scheduler.DeliveryTimeout)
	}
	if cfg.Materializer.Horizon <= 0 {
		return fmt.Errorf("materializer horizon must be positive")
	}

	if cfg.Sync.Enabled {
		switch cfg.Sync.Provider {
		case ProviderGoogle:
			if cfg.Sync.CredentialsFile == "" && cfg.Sync.RefreshToken == "" {
				return fmt.Errorf("google sync requires a credentials file or an oauth refresh token")
			}
		case ProviderMemory:
		default:
			return fmt.Errorf("unsupported sync provider %q", cfg.Sync.Provider)
		}
		if cfg.Sync.RatePerSecond <= 0 {
			return fmt.Errorf("sync rate per second must be positive")
		}
	}

	switch cfg.Notifier.Provider {
	case NotifierLog, NotifierFCM:
	default:
		return fmt.Errorf("unsupported notifier provider %q", cfg.Notifier.Provider)
	}

	return nil
}

// GetDSN returns the database connection string for the configured driver
func (cfg *DatabaseConfig) GetDSN() string {
	if cfg.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", cfg.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// IsDevelopment returns true if the environment is development
func (cfg *AppConfig) IsDevelopment() bool {
	return cfg.Environment == "development"
}

// IsProduction returns true if the environment is production
func (cfg *AppConfig) IsProduction() bool {
	return cfg.Environment == "production"
}
