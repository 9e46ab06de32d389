// Package config loads the server configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Server configures the acceptor and the tick loop.
type Server struct {
	Address          string   `toml:"address"`
	Path             string   `toml:"path"`
	MaxClients       int      `toml:"max_clients"`
	TickRate         float64  `toml:"tick_rate"`
	AuthTimeout      Duration `toml:"auth_timeout"`
	AdmissionBackoff Duration `toml:"admission_backoff"`
	MetricsPath      string   `toml:"metrics_path"`
	CheckOrigin      bool     `toml:"check_origin"`
}

// RateLimit configures the per-connection token bucket for inbound frames.
type RateLimit struct {
	Enabled           bool    `toml:"enabled"`
	MessagesPerSecond float64 `toml:"messages_per_second"`
	Burst             int     `toml:"burst"`
}

// Database configures the database collaborator. An empty Driver disables it.
type Database struct {
	Driver  string `toml:"driver"`
	User    string `toml:"user"`
	Secret  string `toml:"secret"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Name    string `toml:"name"`
	Path    string `toml:"path"`
	Workers int    `toml:"workers"`
}

// Auth selects and configures the credential validator.
type Auth struct {
	Validator     string   `toml:"validator"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	KeyPrefix     string   `toml:"key_prefix"`
	CacheTTL      Duration `toml:"cache_ttl"`
}

// Log configures logging output.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full server configuration.
type Config struct {
	Server    Server    `toml:"server"`
	RateLimit RateLimit `toml:"rate_limit"`
	Database  Database  `toml:"database"`
	Auth      Auth      `toml:"auth"`
	Log       Log       `toml:"log"`
}

// Validator names accepted in Auth.Validator.
const (
	ValidatorStatic = "static"
	ValidatorRedis  = "redis"
	ValidatorSQL    = "sql"
)

// Database drivers accepted in Database.Driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Address:          "0.0.0.0:8080",
			Path:             "/ws",
			MaxClients:       4,
			TickRate:         30,
			AuthTimeout:      Duration(time.Second),
			AdmissionBackoff: Duration(time.Second),
			MetricsPath:      "/metrics",
		},
		RateLimit: RateLimit{
			Enabled:           true,
			MessagesPerSecond: 100,
			Burst:             200,
		},
		Database: Database{
			Port:    5432,
			Workers: 4,
		},
		Auth: Auth{
			Validator: ValidatorStatic,
			KeyPrefix: "session:",
			CacheTTL:  Duration(5 * time.Minute),
		},
		Log: Log{
			Level:  "info",
			Format: "pretty",
		},
	}
}

// Load reads the TOML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("server.path %q must start with /", c.Server.Path))
	}
	if c.Server.MaxClients < 1 {
		errs = append(errs, fmt.Errorf("server.max_clients must be at least 1, got %d", c.Server.MaxClients))
	}
	if c.Server.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("server.tick_rate must be positive, got %v", c.Server.TickRate))
	}
	if c.Server.AuthTimeout <= 0 {
		errs = append(errs, errors.New("server.auth_timeout must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate_limit needs a positive messages_per_second and burst when enabled"))
	}

	switch c.Database.Driver {
	case "", DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Database.Driver != "" && c.Database.Workers < 1 {
		errs = append(errs, fmt.Errorf("database.workers must be at least 1, got %d", c.Database.Workers))
	}

	switch c.Auth.Validator {
	case ValidatorStatic:
	case ValidatorRedis:
		if c.Auth.RedisAddr == "" {
			errs = append(errs, errors.New("auth.redis_addr is required for the redis validator"))
		}
	case ValidatorSQL:
		if c.Database.Driver == "" {
			errs = append(errs, errors.New("the sql validator needs a database.driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth.validator %q", c.Auth.Validator))
	}

	return errors.Join(errs...)
}

// TickPeriod returns the time between two ticks.
func (s Server) TickPeriod() time.Duration {
	return time.Duration(float64(time.Second) / s.TickRate)
}

// DSN returns the data source name for the configured driver.
func (d Database) DSN() string {
	if d.Driver == DriverSQLite {
		return d.Path
	}
	return d.URL()
}

// URL returns the PostgreSQL connection URL.
func (d Database) URL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", d.User, d.Secret, d.Host, d.Port, d.Name)
}

// Redacted returns the data source name with the secret masked, for logging.
func (d Database) Redacted() string {
	if d.Driver == DriverSQLite {
		return d.Path
	}
	return fmt.Sprintf("postgresql://%s:***@%s:%d/%s", d.User, d.Host, d.Port, d.Name)
}

// Duration is a time.Duration that decodes from TOML strings like "1s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
