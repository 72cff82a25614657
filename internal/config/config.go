// Package config loads gamecore settings from defaults, an optional YAML
// file and GAMECORE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GAMECORE_RELAY_URL.
const EnvPrefix = "GAMECORE"

type Config struct {
	Player  PlayerConfig  `mapstructure:"player"`
	Storage StorageConfig `mapstructure:"storage"`
	Session SessionConfig `mapstructure:"session"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
}

// PlayerConfig identifies the local player.
type PlayerConfig struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"display_name"`
}

// StorageConfig configures the local session store.
type StorageConfig struct {
	Path         string        `mapstructure:"path"`
	Namespace    string        `mapstructure:"namespace"`
	MaxTries     int           `mapstructure:"max_tries"`
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
}

type SessionConfig struct {
	ThinkDelay    time.Duration `mapstructure:"think_delay"`
	AIDisplayName string        `mapstructure:"ai_display_name"`
	Seed          uint64        `mapstructure:"seed"`
}

// RelayConfig points the client at a relay backend. An empty URL means
// local play only.
type RelayConfig struct {
	URL              string        `mapstructure:"url"`
	Token            string        `mapstructure:"token"`
	Grace            time.Duration `mapstructure:"grace"`
	ReconnectInitial time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
}

// ServerConfig configures the relay backend started by `gamecore serve`.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	DBPath          string        `mapstructure:"db_path"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RoomMaxAge      time.Duration `mapstructure:"room_max_age"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // console or json
	Output string        `mapstructure:"output"` // stderr, file or both
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures rotated log files.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration. With an empty path, gamecore.yaml is looked
// up in the working directory and ~/.config/gamecore; a missing file is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gamecore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/gamecore")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("player.id", "player")
	v.SetDefault("player.display_name", "Player")

	v.SetDefault("storage.path", "gamecore.db")
	v.SetDefault("storage.namespace", "gamecore/")
	v.SetDefault("storage.max_tries", 4)
	v.SetDefault("storage.retry_initial", "20ms")
	v.SetDefault("storage.retry_max", "1s")

	v.SetDefault("session.think_delay", "600ms")
	v.SetDefault("session.ai_display_name", "Computer")
	v.SetDefault("session.seed", 0)

	v.SetDefault("relay.url", "")
	v.SetDefault("relay.token", "")
	v.SetDefault("relay.grace", "10s")
	v.SetDefault("relay.reconnect_initial", "250ms")
	v.SetDefault("relay.reconnect_max", "15s")
	v.SetDefault("relay.dial_timeout", "10s")
	v.SetDefault("relay.send_timeout", "10s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.db_path", "relay.db")
	v.SetDefault("server.cleanup_interval", "1m")
	v.SetDefault("server.room_max_age", "1h")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file.path", "gamecore.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate checks settings that would otherwise fail later and far from
// their cause.
func (c *Config) Validate() error {
	var errs []error
	if c.Player.ID == "" {
		errs = append(errs, errors.New("player.id must not be empty"))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path must not be empty"))
	}
	if c.Storage.Namespace == "" {
		errs = append(errs, errors.New("storage.namespace must not be empty"))
	}
	if c.Storage.MaxTries < 1 {
		errs = append(errs, errors.New("storage.max_tries must be at least 1"))
	}
	if c.Session.ThinkDelay < 0 {
		errs = append(errs, errors.New("session.think_delay must not be negative"))
	}
	if c.Relay.URL != "" && !strings.HasPrefix(c.Relay.URL, "http://") && !strings.HasPrefix(c.Relay.URL, "https://") {
		errs = append(errs, fmt.Errorf("relay.url must be http or https, got %q", c.Relay.URL))
	}
	if c.Relay.Grace <= 0 {
		errs = append(errs, errors.New("relay.grace must be positive"))
	}
	if c.Relay.SendTimeout <= 0 {
		errs = append(errs, errors.New("relay.send_timeout must be positive"))
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 16 {
		errs = append(errs, errors.New("auth.secret must be at least 16 bytes"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not console or json", c.Log.Format))
	}
	switch c.Log.Output {
	case "stderr", "file", "both":
	default:
		errs = append(errs, fmt.Errorf("log.output %q is not stderr, file or both", c.Log.Output))
	}
	return errors.Join(errs...)
}
