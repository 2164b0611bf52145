package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"rentmarket/internal/models"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	API           APIConfig           `yaml:"api"`
	Booking       BookingConfig       `yaml:"booking"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Categories    []models.Category   `yaml:"categories"`
}

type BookingConfig struct {
	MaxBookingDays    int                   `yaml:"max_booking_days"`
	MaxAttempts       int                   `yaml:"max_attempts"`
	RetryInitialDelay time.Duration         `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration         `yaml:"retry_max_delay"`
	PaymentGuardTTL   time.Duration         `yaml:"payment_guard_ttl"`
	CompletionSweep   CompletionSweepConfig `yaml:"completion_sweep"`
}

type CompletionSweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type NotificationsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	QueueKey   string        `yaml:"queue_key"`
	MaxRetries int           `yaml:"max_retries"`
	PollEvery  time.Duration `yaml:"poll_every"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	// JWTSecret switches actor resolution from gateway headers to signed bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// WritesPerWindow limits mutating calls per actor.
	WritesPerWindow int           `yaml:"writes_per_window"`
	Window          time.Duration `yaml:"window"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// envOverrides are applied on top of the YAML file. Unset variables leave the
// file value untouched.
type envOverrides struct {
	DatabaseDriver *string `env:"RENTMARKET_DB_DRIVER"`
	DatabasePath   *string `env:"RENTMARKET_DB_PATH"`
	DatabaseDSN    *string `env:"RENTMARKET_DB_DSN"`
	RedisAddress   *string `env:"RENTMARKET_REDIS_ADDRESS"`
	RedisPassword  *string `env:"RENTMARKET_REDIS_PASSWORD"`
	LogLevel       *string `env:"RENTMARKET_LOG_LEVEL"`
	JWTSecret      *string `env:"RENTMARKET_JWT_SECRET"`
	HTTPPort       *int    `env:"RENTMARKET_HTTP_PORT"`
	GRPCPort       *int    `env:"RENTMARKET_GRPC_PORT"`
	OTLPEndpoint   *string `env:"RENTMARKET_OTLP_ENDPOINT"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setString(&c.Database.Driver, o.DatabaseDriver)
	setString(&c.Database.Path, o.DatabasePath)
	setString(&c.Database.DSN, o.DatabaseDSN)
	setString(&c.Redis.Address, o.RedisAddress)
	setString(&c.Redis.Password, o.RedisPassword)
	setString(&c.Logging.Level, o.LogLevel)
	setString(&c.API.Auth.JWTSecret, o.JWTSecret)
	setString(&c.Tracing.Endpoint, o.OTLPEndpoint)
	if o.HTTPPort != nil {
		c.API.HTTP.Port = *o.HTTPPort
	}
	if o.GRPCPort != nil {
		c.API.GRPC.Port = *o.GRPCPort
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "mysql":
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for mysql")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Booking.MaxBookingDays < 1 {
		return errors.New("booking.max_booking_days must be positive")
	}
	if c.Booking.MaxAttempts < 1 {
		return errors.New("booking.max_attempts must be positive")
	}

	return ValidateCategories(c.Categories)
}

func ValidateCategories(categories []models.Category) error {
	ids := make(map[int64]bool)
	names := make(map[string]bool)
	for _, category := range categories {
		if category.ID == 0 {
			return fmt.Errorf("category '%s' has invalid ID 0", category.Name)
		}
		if category.Name == "" {
			return fmt.Errorf("category %d has empty name", category.ID)
		}
		if ids[category.ID] {
			return fmt.Errorf("duplicate category ID found: %d", category.ID)
		}
		if names[category.Name] {
			return fmt.Errorf("duplicate category name found: %s", category.Name)
		}
		ids[category.ID] = true
		names[category.Name] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.WritesPerWindow == 0 {
		c.API.RateLimit.WritesPerWindow = models.RateLimitWrites
	}
	if c.API.RateLimit.Window == 0 {
		c.API.RateLimit.Window = models.RateLimitWindow * time.Second
	}

	// Booking defaults
	if c.Booking.MaxBookingDays == 0 {
		c.Booking.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if c.Booking.MaxAttempts == 0 {
		c.Booking.MaxAttempts = models.DefaultCoordinatorAttempts
	}
	if c.Booking.RetryInitialDelay == 0 {
		c.Booking.RetryInitialDelay = 10 * time.Millisecond
	}
	if c.Booking.RetryMaxDelay == 0 {
		c.Booking.RetryMaxDelay = 200 * time.Millisecond
	}
	if c.Booking.PaymentGuardTTL == 0 {
		c.Booking.PaymentGuardTTL = models.PaymentGuardTTL * time.Second
	}
	if c.Booking.CompletionSweep.Interval == 0 {
		c.Booking.CompletionSweep.Interval = time.Hour
	}

	if c.Notifications.QueueKey == "" {
		c.Notifications.QueueKey = "rentmarket:notifications"
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}
	if c.Notifications.PollEvery == 0 {
		c.Notifications.PollEvery = 30 * time.Second
	}

	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
}
