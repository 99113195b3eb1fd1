package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values load from an optional
// YAML file first, then ROSTERD_* environment variables override.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Invitations InvitationConfig  `yaml:"invitations"`
	Files       FilesConfig       `yaml:"files"`
	Sweeper     SweeperConfig     `yaml:"sweeper"`
	Logging     LoggingConfig     `yaml:"logging"`
	RateLimits  RateLimitsConfig  `yaml:"rate_limits"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	ReplicaURLs string        `yaml:"replica_urls"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisConfig holds optional Redis configuration for distributed rate limiting
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Enabled reports whether a Redis endpoint is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// AuthConfig holds token and password hashing settings plus the bootstrap
// admin account seeded at startup. Set AdminEmail to "" to disable seeding.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`

	AdminName     string `yaml:"admin_name"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// InvitationConfig holds invitation lifecycle settings
type InvitationConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// FilesConfig holds S3 blob storage settings for file uploads
type FilesConfig struct {
	S3Endpoint   string `yaml:"s3_endpoint"`
	S3Region     string `yaml:"s3_region"`
	S3Bucket     string `yaml:"s3_bucket"`
	S3AccessKey  string `yaml:"s3_access_key"`
	S3SecretKey  string `yaml:"s3_secret_key"`
	S3PathStyle  bool   `yaml:"s3_path_style"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
}

// Enabled reports whether file storage is configured
func (f FilesConfig) Enabled() bool {
	return f.S3Bucket != ""
}

// SweeperConfig controls the expired-assignment reconciliation job
type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level          string `yaml:"level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// RateLimitsConfig holds the per-group request budgets
type RateLimitsConfig struct {
	Auth    RateWindow `yaml:"auth"`
	Roles   RateWindow `yaml:"roles"`
	General RateWindow `yaml:"general"`
}

// RateWindow is a fixed-window request budget
type RateWindow struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LoadConfig loads configuration. When ROSTERD_CONFIG_FILE names a YAML file
// it is read first; environment variables override its values.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("ROSTERD_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			AllowedOrigins:  []string{"*"},
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxConns: 25,
			MinConns: 5,
			Timeout:  30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:      30 * 24 * time.Hour,
			BcryptCost:    12,
			AdminName:     "System Administrator",
			AdminEmail:    "admin@company.com",
			AdminPassword: "Admin@123456",
		},
		Invitations: InvitationConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Files: FilesConfig{
			S3Region:     "us-east-1",
			MaxSizeBytes: 25 << 20,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "@hourly",
		},
		Logging: LoggingConfig{
			Level:          "info",
			MetricsEnabled: true,
		},
		RateLimits: RateLimitsConfig{
			Auth:    RateWindow{Requests: 5, Window: 15 * time.Minute},
			Roles:   RateWindow{Requests: 50, Window: time.Hour},
			General: RateWindow{Requests: 100, Window: 15 * time.Minute},
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("ROSTERD_HOST", c.Server.Host)
	c.Server.Port = getEnv("ROSTERD_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("ROSTERD_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("ROSTERD_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("ROSTERD_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("ROSTERD_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("ROSTERD_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	if origins := getEnv("ROSTERD_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.Server.MaxBodyBytes = getEnvInt64("ROSTERD_MAX_BODY_BYTES", c.Server.MaxBodyBytes)

	c.Database.URL = getEnv("ROSTERD_POSTGRES_URL", c.Database.URL)
	c.Database.ReplicaURLs = getEnv("ROSTERD_POSTGRES_REPLICA_URLS", c.Database.ReplicaURLs)
	c.Database.MaxConns = getEnvInt("ROSTERD_POSTGRES_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("ROSTERD_POSTGRES_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("ROSTERD_POSTGRES_TIMEOUT", c.Database.Timeout)

	c.Redis.URL = getEnv("ROSTERD_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("ROSTERD_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("ROSTERD_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("ROSTERD_REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.Auth.JWTSecret = getEnv("ROSTERD_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = getEnvDuration("ROSTERD_TOKEN_TTL", c.Auth.TokenTTL)
	c.Auth.BcryptCost = getEnvInt("ROSTERD_BCRYPT_COST", c.Auth.BcryptCost)
	c.Auth.AdminName = getEnv("ROSTERD_ADMIN_NAME", c.Auth.AdminName)
	c.Auth.AdminEmail = getEnv("ROSTERD_ADMIN_EMAIL", c.Auth.AdminEmail)
	c.Auth.AdminPassword = getEnv("ROSTERD_ADMIN_PASSWORD", c.Auth.AdminPassword)

	c.Invitations.TTL = getEnvDuration("ROSTERD_INVITATION_TTL", c.Invitations.TTL)

	c.Files.S3Endpoint = getEnv("ROSTERD_S3_ENDPOINT", c.Files.S3Endpoint)
	c.Files.S3Region = getEnv("ROSTERD_S3_REGION", c.Files.S3Region)
	c.Files.S3Bucket = getEnv("ROSTERD_S3_BUCKET", c.Files.S3Bucket)
	c.Files.S3AccessKey = getEnv("ROSTERD_S3_ACCESS_KEY", c.Files.S3AccessKey)
	c.Files.S3SecretKey = getEnv("ROSTERD_S3_SECRET_KEY", c.Files.S3SecretKey)
	c.Files.S3PathStyle = getEnvBool("ROSTERD_S3_PATH_STYLE", c.Files.S3PathStyle)
	c.Files.MaxSizeBytes = getEnvInt64("ROSTERD_FILES_MAX_SIZE_BYTES", c.Files.MaxSizeBytes)

	c.Sweeper.Enabled = getEnvBool("ROSTERD_SWEEPER_ENABLED", c.Sweeper.Enabled)
	c.Sweeper.Schedule = getEnv("ROSTERD_SWEEPER_SCHEDULE", c.Sweeper.Schedule)

	c.Logging.Level = getEnv("ROSTERD_LOG_LEVEL", c.Logging.Level)
	c.Logging.MetricsEnabled = getEnvBool("ROSTERD_METRICS_ENABLED", c.Logging.MetricsEnabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 16 {
		return fmt.Errorf("bcrypt cost must be between 10 and 16")
	}
	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Sweeper.Enabled && c.Sweeper.Schedule == "" {
		return fmt.Errorf("sweeper schedule is required when the sweeper is enabled")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
