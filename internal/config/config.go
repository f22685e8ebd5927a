package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"

	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Auth   AuthConfig   `mapstructure:"auth"`
	CORS   CORSConfig   `mapstructure:"cors"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	DB     DBConfig     `mapstructure:"db"`
	AMQP   AMQPConfig   `mapstructure:"amqp"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type User struct {
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
	Role     string `mapstructure:"role"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []User        `mapstructure:"users"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LedgerConfig struct {
	Backend      string        `mapstructure:"backend"`
	Path         string        `mapstructure:"path"`
	SeedPath     string        `mapstructure:"seed_path"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	LoadAttempts int           `mapstructure:"load_attempts"`
}

type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type AMQPConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	Queue      string `mapstructure:"queue"`
	RoutingKey string `mapstructure:"routing_key"`
	Prefetch   int    `mapstructure:"prefetch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 30*24*time.Hour)
	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("ledger.backend", BackendFile)
	v.SetDefault("ledger.path", "data/violations_report.json")
	v.SetDefault("ledger.seed_path", "")
	v.SetDefault("ledger.store_timeout", 5*time.Second)
	v.SetDefault("ledger.load_attempts", 5)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)

	v.SetDefault("amqp.enabled", false)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "detections")
	v.SetDefault("amqp.queue", "fines-detections")
	v.SetDefault("amqp.routing_key", "detection.created")
	v.SetDefault("amqp.prefetch", 10)
}

// Load reads configuration from defaults, an optional YAML file
// (CONFIG_FILE or ./config.yaml) and FINES_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FINES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	for _, u := range c.Auth.Users {
		if u.Name == "" || u.Password == "" {
			return errors.New("auth.users entries need a name and a password")
		}
		if u.Role != RoleAdmin && u.Role != RoleViewer {
			return fmt.Errorf("auth.users %q: unknown role %q", u.Name, u.Role)
		}
	}

	switch c.Ledger.Backend {
	case BackendFile:
		if c.Ledger.Path == "" {
			return errors.New("ledger.path is required for the file backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}
	if c.Ledger.StoreTimeout <= 0 {
		return errors.New("ledger.store_timeout must be positive")
	}
	if c.Ledger.LoadAttempts < 1 {
		c.Ledger.LoadAttempts = 1
	}

	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return errors.New("amqp.url is required when amqp is enabled")
	}
	return nil
}
