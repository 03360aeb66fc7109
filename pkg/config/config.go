package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Trust    TrustConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the secret used to validate bearer tokens issued by the auth service.
type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TrustConfig tunes the audit ledger and the two-person approval workflow.
type TrustConfig struct {
	PendingTTL     time.Duration
	SweepInterval  time.Duration
	Retention      time.Duration
	ReauthWindow   time.Duration
	EnforceReauth  bool
	NotifyWorkers  int
	NotifyRetries  int
	NotifyChannel  string
	ExportMaxRows  int
	VerifyMaxRange int64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const devJWTSecret = "dev_secret"

// Validate rejects settings that would weaken the approval workflow.
func (c *Config) Validate() error {
	if c.Env == EnvProduction && (c.JWT.Secret == "" || c.JWT.Secret == devJWTSecret) {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.Trust.PendingTTL <= 0 {
		return errors.New("TRUST_PENDING_TTL must be positive")
	}
	if c.Trust.Retention < 0 {
		return errors.New("TRUST_RETENTION cannot be negative")
	}
	return nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Trust = TrustConfig{
		PendingTTL:     parseDuration(v.GetString("TRUST_PENDING_TTL"), 24*time.Hour),
		SweepInterval:  parseDuration(v.GetString("TRUST_SWEEP_INTERVAL"), time.Minute),
		Retention:      parseDuration(v.GetString("TRUST_RETENTION"), 0),
		ReauthWindow:   parseDuration(v.GetString("TRUST_REAUTH_WINDOW"), 15*time.Minute),
		EnforceReauth:  v.GetBool("TRUST_ENFORCE_REAUTH"),
		NotifyWorkers:  v.GetInt("TRUST_NOTIFY_WORKERS"),
		NotifyRetries:  v.GetInt("TRUST_NOTIFY_RETRIES"),
		NotifyChannel:  v.GetString("TRUST_NOTIFY_CHANNEL"),
		ExportMaxRows:  v.GetInt("TRUST_EXPORT_MAX_ROWS"),
		VerifyMaxRange: v.GetInt64("TRUST_VERIFY_MAX_RANGE"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "mentor_admin")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TRUST_PENDING_TTL", "24h")
	v.SetDefault("TRUST_SWEEP_INTERVAL", "1m")
	v.SetDefault("TRUST_RETENTION", "0s")
	v.SetDefault("TRUST_REAUTH_WINDOW", "15m")
	v.SetDefault("TRUST_ENFORCE_REAUTH", false)
	v.SetDefault("TRUST_NOTIFY_WORKERS", 2)
	v.SetDefault("TRUST_NOTIFY_RETRIES", 3)
	v.SetDefault("TRUST_NOTIFY_CHANNEL", "admin.notifications")
	v.SetDefault("TRUST_EXPORT_MAX_ROWS", 5000)
	v.SetDefault("TRUST_VERIFY_MAX_RANGE", 100000)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
