package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/beneficiary/internal/db"
	"github.com/rpattn/beneficiary/internal/domain"

	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// AppConfig is the full process configuration.
type AppConfig struct {
	Database db.Config
	Storage  string

	HTTPAddr        string
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string

	QueueDriver string
	QueueName   string
	QueueBuffer int
	RedisURL    string
	Workers     int

	// IndividualSchema is the JSON schema descriptor for uploaded rows.
	IndividualSchema   string
	EnableMakerChecker bool
}

// Load reads config.yaml from configPath, then applies environment
// overrides. A missing file is not an error.
func Load(configPath string) (AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Database keys keep the DB_ prefix, e.g. DB_HOST, DB_PASSWORD.
	for _, key := range []string{"host", "port", "user", "password", "dbname", "sslmode", "max_conns"} {
		if err := v.BindEnv("database."+key, "DB_"+strings.ToUpper(key)); err != nil {
			return AppConfig{}, fmt.Errorf("failed to bind env for database.%s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return AppConfig{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := AppConfig{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Storage:            strings.ToLower(v.GetString("storage.driver")),
		HTTPAddr:           v.GetString("http.addr"),
		ShutdownTimeout:    v.GetDuration("http.shutdown_timeout"),
		LogLevel:           v.GetString("log.level"),
		LogFormat:          v.GetString("log.format"),
		QueueDriver:        strings.ToLower(v.GetString("queue.driver")),
		QueueName:          v.GetString("queue.name"),
		QueueBuffer:        v.GetInt("queue.buffer"),
		RedisURL:           v.GetString("redis.url"),
		Workers:            v.GetInt("workers"),
		IndividualSchema:   v.GetString("individual.schema"),
		EnableMakerChecker: v.GetBool("individual.enable_maker_checker"),
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := db.DefaultConfig()
	v.SetDefault("database.host", defaults.Host)
	v.SetDefault("database.port", defaults.Port)
	v.SetDefault("database.user", defaults.User)
	v.SetDefault("database.password", defaults.Password)
	v.SetDefault("database.dbname", defaults.DBName)
	v.SetDefault("database.sslmode", defaults.SSLMode)
	v.SetDefault("database.max_conns", 5)

	v.SetDefault("storage.driver", StoragePostgres)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("queue.driver", QueueMemory)
	v.SetDefault("queue.name", "beneficiary:workflow")
	v.SetDefault("queue.buffer", 64)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("workers", 2)
	v.SetDefault("individual.schema", domain.DefaultIndividualSchema)
	v.SetDefault("individual.enable_maker_checker", false)
}

// Validate rejects configurations the server cannot start with.
func (c AppConfig) Validate() error {
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage)
	}
	switch c.QueueDriver {
	case QueueMemory:
	case QueueRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("redis.url is required for the redis queue driver")
		}
	default:
		return fmt.Errorf("unsupported queue driver %q", c.QueueDriver)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if strings.TrimSpace(c.IndividualSchema) == "" {
		return fmt.Errorf("individual.schema must not be empty")
	}
	return nil
}
