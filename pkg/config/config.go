package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Public API server configuration
	Server ServerConfig `mapstructure:"server"`

	// Admin API server configuration
	Admin ServerConfig `mapstructure:"admin"`

	// Ledger state storage
	Storage StorageConfig `mapstructure:"storage"`

	// Off-ledger record store
	Records RecordsConfig `mapstructure:"records"`

	// Database configuration, used when records.driver is postgres
	Database DatabaseConfig `mapstructure:"database"`

	Consent ConsentConfig `mapstructure:"consent"`

	Detection DetectionConfig `mapstructure:"detection"`

	// JWT configuration
	JWT JWTConfig `mapstructure:"jwt"`

	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	// Requests per minute per caller, 0 disables
	RateLimit int `mapstructure:"rate_limit"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the ledger state backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// RecordsConfig selects the off-ledger record store
type RecordsConfig struct {
	Driver        string `mapstructure:"driver"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// ConsentConfig holds consent lifecycle settings
type ConsentConfig struct {
	DefaultDurationDays int `mapstructure:"default_duration_days"`
	// Zero disables the eager sweep; expiry is still applied on read
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
}

// DetectionConfig holds suspicious activity detection settings
type DetectionConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// BootstrapConfig controls demo seeding at startup
type BootstrapConfig struct {
	SeedDemoData bool `mapstructure:"seed_demo_data"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MetricsPath    string  `mapstructure:"metrics_path"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Load loads configuration from a .env file, environment variables and config files
func Load() (*Config, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/consent-ledger")

	return load(v)
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("server.rate_limit", 600)

	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 8081)
	v.SetDefault("admin.read_timeout", 30)
	v.SetDefault("admin.write_timeout", 30)
	v.SetDefault("admin.idle_timeout", 120)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.path", "./data/ledger")

	v.SetDefault("records.driver", "memory")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "consent_ledger")
	v.SetDefault("database.user", "consent_ledger")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("consent.default_duration_days", 30)
	v.SetDefault("consent.expiry_sweep_interval", "1m")

	v.SetDefault("detection.threshold", 5)
	v.SetDefault("detection.window", "15m")

	v.SetDefault("jwt.enabled", false)
	v.SetDefault("jwt.issuer", "consent-ledger")
	v.SetDefault("jwt.audience", "consent-ledger-users")

	v.SetDefault("bootstrap.seed_demo_data", true)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.tracing_enabled", false)
	v.SetDefault("monitoring.environment", "development")
	v.SetDefault("monitoring.sampling_rate", 1.0)

	v.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with well-known environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.JWT.SecretKey = jwtSecret
	}

	if encKey := os.Getenv("ENCRYPTION_KEY"); encKey != "" {
		config.Records.EncryptionKey = encKey
	}

	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		config.Database.Password = dbPassword
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Admin.Port <= 0 || config.Admin.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", config.Admin.Port)
	}

	if config.Server.RateLimit < 0 {
		return fmt.Errorf("server rate limit must not be negative")
	}

	switch config.Storage.Driver {
	case "memory":
	case "leveldb":
		if config.Storage.Path == "" {
			return fmt.Errorf("storage path is required for leveldb")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", config.Storage.Driver)
	}

	switch config.Records.Driver {
	case "memory":
	case "postgres":
		if config.Database.Password == "" {
			return fmt.Errorf("database password is required")
		}
	default:
		return fmt.Errorf("unknown records driver: %q", config.Records.Driver)
	}

	if config.Consent.DefaultDurationDays < 1 {
		return fmt.Errorf("consent default duration must be at least one day")
	}

	if config.Consent.ExpirySweepInterval < 0 {
		return fmt.Errorf("consent expiry sweep interval must not be negative")
	}

	if config.Detection.Threshold < 1 {
		return fmt.Errorf("detection threshold must be positive")
	}

	if config.Detection.Window <= 0 {
		return fmt.Errorf("detection window must be positive")
	}

	if config.JWT.Enabled && config.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required when JWT is enabled")
	}

	return nil
}
