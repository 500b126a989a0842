package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Storage     StorageConfig     `yaml:"storage"`
	SES         SESConfig         `yaml:"ses"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	Environment    string   `yaml:"environment"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// IsProduction reports whether diagnostic detail must be hidden from
// error responses.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// AuthConfig points at the external profile service used to authorize
// admin uploads.
type AuthConfig struct {
	ProfileURL      string `yaml:"profile_url"`
	AdminRole       string `yaml:"admin_role"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxRetries      int    `yaml:"max_retries"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c AuthConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long a successful profile lookup is reused.
func (c AuthConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type           string `yaml:"type"` // "memory", "dynamodb" or "postgres"
	DatabaseURL    string `yaml:"database_url"`
	DynamoDBTable  string `yaml:"dynamodb_table"`
	S3Bucket       string `yaml:"s3_bucket"` // upload archive; empty disables it
	AWSRegion      string `yaml:"aws_region"`
	AWSProfile     string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	Endpoint       string `yaml:"endpoint"`    // local DynamoDB / S3 emulators
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// LockTTL bounds how long an upload may hold the catalog lock.
func (c StorageConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// SESConfig holds AWS SES configuration for operator notifications
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromAddress    string `yaml:"from_address"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IngestConfig bounds spreadsheet uploads.
type IngestConfig struct {
	MaxUploadMB int  `yaml:"max_upload_mb"`
	MaxRows     int  `yaml:"max_rows"`
	StrictRows  bool `yaml:"strict_rows"`
}

// MaxUploadBytes converts MaxUploadMB to bytes.
func (c IngestConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// MarketplaceConfig holds registration intake settings
type MarketplaceConfig struct {
	NotifyTo             string  `yaml:"notify_to"`
	NotifyTimeoutSeconds int     `yaml:"notify_timeout_seconds"`
	RateLimitPerMinute   float64 `yaml:"rate_limit_per_minute"`
	RateLimitBurst       int     `yaml:"rate_limit_burst"`
}

// NotifyTimeout returns the budget for one notification send.
func (c MarketplaceConfig) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}

// RedisConfig holds Redis connection settings. An empty URL disables the
// profile cache and the Redis lock backend.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// ShouldRedactPII defaults to true when the key is absent.
func (c LogConfig) ShouldRedactPII() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "development"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}
	if cfg.Auth.TimeoutSeconds == 0 {
		cfg.Auth.TimeoutSeconds = 5
	}
	if cfg.Auth.MaxRetries == 0 {
		cfg.Auth.MaxRetries = 2
	}
	if cfg.Auth.CacheTTLSeconds == 0 {
		cfg.Auth.CacheTTLSeconds = 60
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Storage.DynamoDBTable == "" {
		cfg.Storage.DynamoDBTable = "leadgen-site"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Storage.LockTTLSeconds == 0 {
		cfg.Storage.LockTTLSeconds = 120
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Ingest.MaxUploadMB == 0 {
		cfg.Ingest.MaxUploadMB = 10
	}
	if cfg.Ingest.MaxRows == 0 {
		cfg.Ingest.MaxRows = 5000
	}
	if cfg.Marketplace.NotifyTimeoutSeconds == 0 {
		cfg.Marketplace.NotifyTimeoutSeconds = 15
	}
	if cfg.Marketplace.RateLimitPerMinute == 0 {
		cfg.Marketplace.RateLimitPerMinute = 6
	}
	if cfg.Marketplace.RateLimitBurst == 0 {
		cfg.Marketplace.RateLimitBurst = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PROFILE_SERVICE_URL"); v != "" {
		cfg.Auth.ProfileURL = v
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
		if cfg.Storage.Type == "memory" {
			cfg.Storage.Type = "postgres"
		}
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDBTable = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("UPLOAD_ARCHIVE_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_ADDRESS"); v != "" {
		cfg.SES.FromAddress = v
	}
	if v := os.Getenv("MARKETPLACE_NOTIFY_TO"); v != "" {
		cfg.Marketplace.NotifyTo = v
	}

	return cfg, nil
}
