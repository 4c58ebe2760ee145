// Package config loads frontd settings from flags, FRONTD_* environment variables and an
// optional frontd.yaml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FRONTD"

// Config is the resolved service configuration.
type Config struct {
	HTTP    HTTPConfig
	GRPC    GRPCConfig
	Backend BackendConfig
	Login   LoginConfig
	Session SessionConfig
	Cache   CacheConfig
	Redis   RedisConfig
	PG      PGConfig
	Log     LogConfig
	Rate    RateConfig
}

type HTTPConfig struct {
	Addr          string
	SecureCookies bool `mapstructure:"secure_cookies"`
}

type GRPCConfig struct {
	Addr string
}

// BackendConfig points at the content API.
type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

type LoginConfig struct {
	Path string
}

type SessionConfig struct {
	RedirectToLogin bool          `mapstructure:"redirect_to_login"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// CacheConfig controls the permission snapshot cache. A zero TTL keeps entries until logout.
type CacheConfig struct {
	TTL time.Duration
}

// RedisConfig enables the shared snapshot cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PGConfig enables persistent audit events when DSN is set.
type PGConfig struct {
	DSN string
}

type LogConfig struct {
	Level string
}

type RateConfig struct {
	Burst     int
	PerSecond float64 `mapstructure:"per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.secure_cookies", false)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("backend.url", "http://localhost:8000/api/v1")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("login.path", "/login")
	v.SetDefault("session.redirect_to_login", true)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("pg.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("rate.burst", 20)
	v.SetDefault("rate.per_second", 10.0)
}

// Flags declares the command-line overrides. Flag names are the config keys.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file (default: ./frontd.yaml when present)")
	fs.String("http.addr", "", "HTTP listen address")
	fs.String("grpc.addr", "", "gRPC health listen address")
	fs.String("backend.url", "", "content API base URL")
	fs.Duration("backend.timeout", 0, "content API request timeout")
	fs.String("login.path", "", "login route or absolute URL")
	fs.Bool("session.redirect_to_login", true, "redirect unauthenticated navigations to the login route")
	fs.Duration("cache.ttl", 0, "permission snapshot cache TTL")
	fs.String("redis.addr", "", "Redis address for the shared snapshot cache")
	fs.String("pg.dsn", "", "Postgres DSN for audit events")
	fs.String("log.level", "", "log level (debug, info, warn, error)")
	return fs
}

// Load parses args and merges every source.
func Load(name string, args []string) (*Config, error) {
	fs := Flags(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags builds the configuration from an already parsed flag set.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, _ := fs.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("frontd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/frontd")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// only explicitly set flags override env and file
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return nil, bindErr
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

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: backend.url %q is not an absolute URL", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("config: backend.timeout must be positive")
	}
	if c.Login.Path == "" {
		return errors.New("config: login.path is required")
	}
	if c.Rate.Burst <= 0 || c.Rate.PerSecond <= 0 {
		return errors.New("config: rate.burst and rate.per_second must be positive")
	}
	if c.Cache.TTL < 0 {
		return errors.New("config: cache.ttl must not be negative")
	}
	return nil
}
