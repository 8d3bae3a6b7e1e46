package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/secure-auth/internal/email"
	"github.com/jwalitptl/secure-auth/internal/lockout"
	"github.com/jwalitptl/secure-auth/internal/middleware"
	"github.com/jwalitptl/secure-auth/internal/model"
	"github.com/jwalitptl/secure-auth/internal/repository/postgres"
	apperrors "github.com/jwalitptl/secure-auth/pkg/errors"
	redismsg "github.com/jwalitptl/secure-auth/pkg/messaging/redis"
	"github.com/jwalitptl/secure-auth/pkg/security"
	"github.com/jwalitptl/secure-auth/pkg/validator"
)

// EnvPrefix namespaces the environment overrides, e.g. SECURE_AUTH_DB_PASSWORD.
const EnvPrefix = "SECURE_AUTH"

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Server    ServerConfig                 `mapstructure:"server"`
	Storage   StorageConfig                `mapstructure:"storage"`
	Database  postgres.Config              `mapstructure:"database"`
	Redis     redismsg.Config              `mapstructure:"redis"`
	Lockout   lockout.Policy               `mapstructure:"lockout"`
	Password  PasswordConfig               `mapstructure:"password"`
	RateLimit middleware.RateLimiterConfig `mapstructure:"rate_limit"`
	Mail      email.Config                 `mapstructure:"mail"`
	Log       LogConfig                    `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	HSTSMaxAge      int           `mapstructure:"hsts_max_age"`
}

// StorageConfig selects where security records live. Events are only
// published when a Redis connection is configured.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	AutoMigrate   bool   `mapstructure:"auto_migrate"`
	PublishEvents bool   `mapstructure:"publish_events"`
}

type PasswordConfig struct {
	Algorithm  string                `mapstructure:"algorithm"`
	BcryptCost int                   `mapstructure:"bcrypt_cost"`
	Argon2     security.Argon2Params `mapstructure:"argon2"`
	Policy     model.PasswordPolicy  `mapstructure:"policy"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// envOverrides are read after the file so secrets never have to be
// written to disk. Empty values leave the file setting in place.
type envOverrides struct {
	Port             int    `envconfig:"PORT"`
	StorageBackend   string `envconfig:"STORAGE_BACKEND"`
	DatabaseHost     string `envconfig:"DB_HOST"`
	DatabasePort     int    `envconfig:"DB_PORT"`
	DatabaseUser     string `envconfig:"DB_USER"`
	DatabasePassword string `envconfig:"DB_PASSWORD"`
	DatabaseName     string `envconfig:"DB_NAME"`
	RedisURL         string `envconfig:"REDIS_URL"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("server.max_body_bytes", 4096)
	v.SetDefault("server.hsts_max_age", 31536000)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.key_prefix", "secure-auth:record:")
	v.SetDefault("storage.auto_migrate", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	policy := lockout.DefaultPolicy()
	v.SetDefault("lockout.threshold", policy.Threshold)
	v.SetDefault("lockout.duration", policy.Duration)

	argon := security.DefaultArgon2Params()
	pw := model.DefaultPasswordPolicy()
	v.SetDefault("password.algorithm", "bcrypt")
	v.SetDefault("password.bcrypt_cost", 12)
	v.SetDefault("password.argon2.memory", argon.Memory)
	v.SetDefault("password.argon2.iterations", argon.Iterations)
	v.SetDefault("password.argon2.parallelism", argon.Parallelism)
	v.SetDefault("password.argon2.salt_length", argon.SaltLength)
	v.SetDefault("password.argon2.key_length", argon.KeyLength)
	v.SetDefault("password.policy.min_length", pw.MinLength)
	v.SetDefault("password.policy.max_length", pw.MaxLength)
	v.SetDefault("password.policy.require_uppercase", pw.RequireUppercase)
	v.SetDefault("password.policy.require_lowercase", pw.RequireLowercase)
	v.SetDefault("password.policy.require_numbers", pw.RequireNumbers)
	v.SetDefault("password.policy.require_special_chars", pw.RequireSpecialChars)

	v.SetDefault("rate_limit.rps", 5)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.ttl", 10*time.Minute)

	v.SetDefault("mail.port", 587)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yml from the working directory, ./config or
// /app/config. An explicit path must exist; a missing search-path file
// falls back to defaults. A .env file, when present, is loaded before
// the environment overrides are applied.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.Configuration("failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Configuration("failed to unmarshal config", err)
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return apperrors.Configuration("failed to read environment", err)
	}

	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.StorageBackend != "" {
		c.Storage.Backend = env.StorageBackend
	}
	if env.DatabaseHost != "" {
		c.Database.Host = env.DatabaseHost
	}
	if env.DatabasePort != 0 {
		c.Database.Port = env.DatabasePort
	}
	if env.DatabaseUser != "" {
		c.Database.User = env.DatabaseUser
	}
	if env.DatabasePassword != "" {
		c.Database.Password = env.DatabasePassword
	}
	if env.DatabaseName != "" {
		c.Database.Name = env.DatabaseName
	}
	if env.RedisURL != "" {
		c.Redis.URL = env.RedisURL
	}
	if env.SMTPPassword != "" {
		c.Mail.Password = env.SMTPPassword
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Lockout.Validate(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return apperrors.Configuration(fmt.Sprintf("unknown storage backend %q", c.Storage.Backend), nil)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperrors.Configuration(fmt.Sprintf("invalid server port %d", c.Server.Port), nil)
	}

	if err := validator.New().Validate(c.Password.Policy); err != nil {
		return apperrors.Configuration("invalid password policy", err)
	}

	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.From == "") {
		return apperrors.Configuration("mail is enabled but host or from address is missing", nil)
	}
	return nil
}

// UsesRedis reports whether a Redis connection must be opened.
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == BackendRedis || c.Storage.PublishEvents
}
