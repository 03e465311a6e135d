package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Mail     MailConfig     `mapstructure:"mail"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the postgres connection URL.
func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.Name + "?sslmode=" + d.SSLMode
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type StorageConfig struct {
	Driver        string      `mapstructure:"driver"` // local or minio
	UploadDir     string      `mapstructure:"upload_dir"`
	MaxPhotoBytes int64       `mapstructure:"max_photo_bytes"`
	Minio         MinioConfig `mapstructure:"minio"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type MailConfig struct {
	Server        string `mapstructure:"server"`
	Port          int    `mapstructure:"port"`
	UseTLS        bool   `mapstructure:"use_tls"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	DefaultSender string `mapstructure:"default_sender"`
}

// Configured reports whether enough is set to attempt SMTP delivery.
func (m MailConfig) Configured() bool {
	return m.Server != "" && m.Username != "" && m.Password != ""
}

type NotifyConfig struct {
	Queue              string        `mapstructure:"queue"` // memory or redis
	QueueSize          int           `mapstructure:"queue_size"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	RequesterOnOutcome bool          `mapstructure:"requester_on_outcome"`
	RedisAddr          string        `mapstructure:"redis_addr"`
	RedisPassword      string        `mapstructure:"redis_password"`
	RedisDB            int           `mapstructure:"redis_db"`
	RedisKey           string        `mapstructure:"redis_key"`
}

type PolicyConfig struct {
	AllowSelfApproval bool `mapstructure:"allow_self_approval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Load reads configs/.env (if present), configs/config.yaml (if present) and the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// a missing .env is normal outside local development
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unknown server mode %q", c.Server.Mode)
	}
	if c.Auth.JWTSecret == "" {
		if c.Server.Mode == "release" {
			return errors.New("JWT_SECRET is required in release mode")
		}
		c.Auth.JWTSecret = "default_super_secret_key" // development only
	}
	switch c.Storage.Driver {
	case "local", "minio":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Notify.Queue {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown notify queue %q", c.Notify.Queue)
	}
	if c.Notify.MaxAttempts < 1 {
		c.Notify.MaxAttempts = 1
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.upload_dir", "./uploads")
	v.SetDefault("storage.max_photo_bytes", 16*1024*1024)

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.use_tls", true)

	v.SetDefault("notify.queue", "memory")
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.retry_backoff", 2*time.Second)
	v.SetDefault("notify.requester_on_outcome", false)
	v.SetDefault("notify.redis_addr", "localhost:6379")
	v.SetDefault("notify.redis_key", "assetflow:notifications")

	v.SetDefault("policy.allow_self_approval", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.mode", "GIN_MODE")

	// Database
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.name", "DB_NAME")
	_ = v.BindEnv("database.sslmode", "DB_SSLMODE")

	// Auth
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.token_ttl", "TOKEN_TTL")

	// Storage
	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = v.BindEnv("storage.upload_dir", "UPLOAD_DIR")
	_ = v.BindEnv("storage.max_photo_bytes", "MAX_PHOTO_BYTES")
	_ = v.BindEnv("storage.minio.endpoint", "MINIO_ENDPOINT")
	_ = v.BindEnv("storage.minio.access_key", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("storage.minio.secret_key", "MINIO_SECRET_KEY")
	_ = v.BindEnv("storage.minio.bucket", "MINIO_BUCKET")
	_ = v.BindEnv("storage.minio.use_ssl", "MINIO_USE_SSL")

	// Mail
	_ = v.BindEnv("mail.server", "MAIL_SERVER")
	_ = v.BindEnv("mail.port", "MAIL_PORT")
	_ = v.BindEnv("mail.use_tls", "MAIL_USE_TLS")
	_ = v.BindEnv("mail.username", "MAIL_USERNAME")
	_ = v.BindEnv("mail.password", "MAIL_PASSWORD")
	_ = v.BindEnv("mail.default_sender", "MAIL_DEFAULT_SENDER")

	// Notifications
	_ = v.BindEnv("notify.queue", "NOTIFY_QUEUE")
	_ = v.BindEnv("notify.queue_size", "NOTIFY_QUEUE_SIZE")
	_ = v.BindEnv("notify.max_attempts", "NOTIFY_MAX_ATTEMPTS")
	_ = v.BindEnv("notify.retry_backoff", "NOTIFY_RETRY_BACKOFF")
	_ = v.BindEnv("notify.requester_on_outcome", "NOTIFY_REQUESTER_ON_OUTCOME")
	_ = v.BindEnv("notify.redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("notify.redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("notify.redis_db", "REDIS_DB")

	_ = v.BindEnv("policy.allow_self_approval", "ALLOW_SELF_APPROVAL")

	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")

	_ = v.BindEnv("sentry.dsn", "SENTRY_DSN")
	_ = v.BindEnv("sentry.environment", "SENTRY_ENVIRONMENT")
}
