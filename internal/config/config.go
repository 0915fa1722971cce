// Package config loads server configuration from a YAML file and
// DNA_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Lobby      LobbyConfig      `mapstructure:"lobby"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	// DSN is the driver-specific connection string. For sqlite this is
	// a file path (or ":memory:").
	DSN string `mapstructure:"dsn"`
}

// ModerationConfig configures the content moderation gate.
type ModerationConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// BlockedWords overrides the built-in denylist when non-empty.
	BlockedWords []string `mapstructure:"blocked_words"`
}

// SweeperConfig configures the inactivity sweeper.
type SweeperConfig struct {
	// Interval between sweep passes. Zero disables the sweeper.
	Interval time.Duration `mapstructure:"interval"`
	// IdleTimeout is how long a session may go without messages before
	// it is auto-closed.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// LobbyConfig holds defaults applied to newly created games.
type LobbyConfig struct {
	DefaultMaxPlayers   int `mapstructure:"default_max_players"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// Load reads configuration from the given file (optional) and the
// environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about;
	// registering every key as a default makes env-only overrides
	// visible to Unmarshal.
	var defaults Config
	defaults.SetDefaults()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	v.SetDefault("database.driver", defaults.Database.Driver)
	v.SetDefault("database.dsn", defaults.Database.DSN)
	v.SetDefault("moderation.enabled", false)
	v.SetDefault("moderation.blocked_words", []string{})
	v.SetDefault("sweeper.interval", defaults.Sweeper.Interval)
	v.SetDefault("sweeper.idle_timeout", defaults.Sweeper.IdleTimeout)
	v.SetDefault("lobby.default_max_players", defaults.Lobby.DefaultMaxPlayers)
	v.SetDefault("lobby.poll_interval_seconds", defaults.Lobby.PollIntervalSeconds)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills in zero-valued fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "pbp.db"
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = time.Minute
	}
	if c.Sweeper.IdleTimeout == 0 {
		c.Sweeper.IdleTimeout = 2 * time.Hour
	}
	if c.Lobby.DefaultMaxPlayers == 0 {
		c.Lobby.DefaultMaxPlayers = 4
	}
	if c.Lobby.PollIntervalSeconds == 0 {
		c.Lobby.PollIntervalSeconds = 300
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Sweeper.Interval < 0 || c.Sweeper.IdleTimeout < 0 {
		return fmt.Errorf("sweeper intervals must not be negative")
	}
	return nil
}
