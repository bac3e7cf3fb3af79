package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kamune-org/keyscope"
)

type Config struct {
	Connection Connection `toml:"connection"`
	Profiles   Profiles   `toml:"profiles"`
	Log        Log        `toml:"log"`
	Metrics    Metrics    `toml:"metrics"`
}

type Connection struct {
	Host      string        `toml:"host"`
	Port      int           `toml:"port"`
	Database  int           `toml:"database"`
	Timeout   time.Duration `toml:"timeout"`
	Databases int           `toml:"databases"`
}

type Profiles struct {
	Path         string `toml:"path"`
	NoPassphrase bool   `toml:"no_passphrase"`
}

type Log struct {
	Level slog.Level `toml:"level"`
}

type Metrics struct {
	// Address serves /metrics from the daemon when set.
	Address string `toml:"address"`
}

func Default() Config {
	return Config{
		Connection: Connection{
			Host:      keyscope.DefaultHost,
			Port:      keyscope.DefaultPort,
			Timeout:   keyscope.DefaultTimeout,
			Databases: keyscope.DefaultDatabases,
		},
		Log: Log{Level: slog.LevelWarn},
	}
}

// DefaultPath returns ~/.config/keyscope/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user's home directory: %w", err)
	}
	return filepath.Join(home, ".config", "keyscope", "config.toml"), nil
}

// Load reads the file at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cfg, nil
	case err != nil:
		return cfg, fmt.Errorf("reading file: %w", err)
	}
	if err = toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Connection.Host == "":
		return errors.New("connection.host is empty")
	case c.Connection.Port < 1 || c.Connection.Port > 65535:
		return fmt.Errorf("connection.port %d out of range", c.Connection.Port)
	case c.Connection.Database < 0:
		return fmt.Errorf("connection.database %d is negative", c.Connection.Database)
	case c.Connection.Timeout <= 0:
		return fmt.Errorf("connection.timeout %s must be positive", c.Connection.Timeout)
	case c.Connection.Databases <= 0:
		return fmt.Errorf("connection.databases %d must be positive", c.Connection.Databases)
	}
	return nil
}

// Merge returns c with every non-zero field of o applied on top. The log
// level is always taken from c.
func (c Config) Merge(o Config) Config {
	set(&c.Connection.Host, o.Connection.Host)
	set(&c.Connection.Port, o.Connection.Port)
	set(&c.Connection.Database, o.Connection.Database)
	set(&c.Connection.Timeout, o.Connection.Timeout)
	set(&c.Connection.Databases, o.Connection.Databases)
	set(&c.Profiles.Path, o.Profiles.Path)
	c.Profiles.NoPassphrase = c.Profiles.NoPassphrase || o.Profiles.NoPassphrase
	set(&c.Metrics.Address, o.Metrics.Address)
	return c
}

func set[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// Endpoint returns the connection section as an endpoint without a secret.
func (c Connection) Endpoint() keyscope.Endpoint {
	return keyscope.Endpoint{Host: c.Host, Port: c.Port, Database: c.Database}
}

// SessionOptions returns the session settings the configuration implies.
func (c Config) SessionOptions() []keyscope.Option {
	return []keyscope.Option{
		keyscope.WithTimeout(c.Connection.Timeout),
		keyscope.WithDatabases(c.Connection.Databases),
	}
}
