// Package config resolves quizsync settings from defaults, the config file,
// QUIZSYNC_* environment variables (including a .env file) and command flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quizapp/quizsync/internal/logging"
)

// EnvPrefix is prepended to every environment variable key.
const EnvPrefix = "QUIZSYNC"

// FileName is the config file looked up inside the home directory.
const FileName = "config.yaml"

// Config is the resolved configuration.
type Config struct {
	Home     string         `yaml:"-"`
	Local    LocalConfig    `yaml:"local"`
	Remote   RemoteConfig   `yaml:"remote"`
	Identity IdentityConfig `yaml:"identity"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Events   EventsConfig   `yaml:"events"`
	Log      LogConfig      `yaml:"log"`
}

type LocalConfig struct {
	Path string `yaml:"path"`
}

type RemoteConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	MaxAttempts int    `yaml:"max_attempts"`
}

type IdentityConfig struct {
	Session string `yaml:"session"`
}

type DaemonConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Debounce      time.Duration `yaml:"debounce"`
}

type EventsConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Quiet      bool   `yaml:"quiet"`
}

// Logging converts the log section for logging.New.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Quiet:      c.Quiet,
	}
}

// DefaultHome returns ~/.quizsync, or ./.quizsync when the user home
// directory is unknown.
func DefaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil || dir == "" {
		return ".quizsync"
	}
	return filepath.Join(dir, ".quizsync")
}

// NewViper returns a viper instance with defaults and environment binding.
// Relative paths are resolved against home at Load time.
func NewViper() *viper.Viper {
	v := viper.New()
	lc := logging.DefaultConfig()

	v.SetDefault("home", DefaultHome())
	v.SetDefault("local.path", "quizsync.db")
	v.SetDefault("remote.driver", "sqlite3")
	v.SetDefault("remote.dsn", "remote.db")
	v.SetDefault("remote.max_attempts", 5)
	v.SetDefault("identity.session", "session.toml")
	v.SetDefault("daemon.sweep_interval", 30*time.Second)
	v.SetDefault("daemon.debounce", 100*time.Millisecond)
	v.SetDefault("events.port", 8787)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", lc.MaxSizeMB)
	v.SetDefault("log.max_backups", lc.MaxBackups)
	v.SetDefault("log.max_age_days", lc.MaxAgeDays)
	v.SetDefault("log.quiet", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env files and the config file into v and returns the
// resolved Config. A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	// godotenv never overrides variables that are already set.
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	home := v.GetString("home")
	if home == "" {
		return nil, errors.New("home directory is empty")
	}
	if err := loadDotEnv(filepath.Join(home, ".env")); err != nil {
		return nil, err
	}

	v.SetConfigFile(filepath.Join(home, FileName))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Home: home,
		Local: LocalConfig{
			Path: resolve(home, v.GetString("local.path")),
		},
		Remote: RemoteConfig{
			Driver:      v.GetString("remote.driver"),
			DSN:         v.GetString("remote.dsn"),
			MaxAttempts: v.GetInt("remote.max_attempts"),
		},
		Identity: IdentityConfig{
			Session: resolve(home, v.GetString("identity.session")),
		},
		Daemon: DaemonConfig{
			SweepInterval: v.GetDuration("daemon.sweep_interval"),
			Debounce:      v.GetDuration("daemon.debounce"),
		},
		Events: EventsConfig{
			Port: v.GetInt("events.port"),
		},
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			Quiet:      v.GetBool("log.quiet"),
		},
	}
	if cfg.Log.File != "" {
		cfg.Log.File = resolve(home, cfg.Log.File)
	}
	// Only sqlite DSNs are file paths.
	if cfg.Remote.Driver == "sqlite3" && !strings.HasPrefix(cfg.Remote.DSN, "file:") {
		cfg.Remote.DSN = resolve(home, cfg.Remote.DSN)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Remote.Driver {
	case "sqlite3", "libsql", "postgres":
	default:
		return fmt.Errorf("invalid remote.driver %q (want sqlite3, libsql or postgres)", c.Remote.Driver)
	}
	if c.Remote.DSN == "" {
		return errors.New("remote.dsn is required")
	}
	if c.Remote.MaxAttempts <= 0 {
		return fmt.Errorf("remote.max_attempts must be positive, got %d", c.Remote.MaxAttempts)
	}
	if c.Local.Path == "" {
		return errors.New("local.path is required")
	}
	if c.Daemon.SweepInterval <= 0 {
		return fmt.Errorf("daemon.sweep_interval must be positive, got %s", c.Daemon.SweepInterval)
	}
	if c.Daemon.Debounce <= 0 {
		return fmt.Errorf("daemon.debounce must be positive, got %s", c.Daemon.Debounce)
	}
	if c.Events.Port < 0 || c.Events.Port > 65535 {
		return fmt.Errorf("events.port out of range: %d", c.Events.Port)
	}
	return nil
}

// YAML renders the configuration in config file form.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to home/config.yaml. An
// existing file is kept unless force is set.
func WriteDefault(home string, force bool) (string, error) {
	path := filepath.Join(home, FileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("config file already exists: %s", path)
		}
	}

	v := NewViper()
	def := &Config{
		Local:    LocalConfig{Path: v.GetString("local.path")},
		Remote:   RemoteConfig{Driver: v.GetString("remote.driver"), DSN: v.GetString("remote.dsn"), MaxAttempts: v.GetInt("remote.max_attempts")},
		Identity: IdentityConfig{Session: v.GetString("identity.session")},
		Daemon:   DaemonConfig{SweepInterval: v.GetDuration("daemon.sweep_interval"), Debounce: v.GetDuration("daemon.debounce")},
		Events:   EventsConfig{Port: v.GetInt("events.port")},
		Log: LogConfig{
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(home, 0o755); err != nil {
		return "", fmt.Errorf("failed to create home directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func resolve(home, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}
