// Package config loads chat-stream settings.
//
// Values are layered, lowest precedence first:
//  1. Built-in defaults
//  2. Config file ($XDG_CONFIG_HOME/chat-stream/config.yaml, or --config)
//  3. Environment (CHAT_STREAM_DB, CHAT_STREAM_DEBUG, ...)
//  4. Command-line flags bound with BindPFlag
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/possibilities/claude-code-chat-stream/internal/project"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CHAT_STREAM"

// Keys.
const (
	KeyDB                    = "db"
	KeyDebug                 = "debug"
	KeyProjectsRoot          = "projects_root"
	KeyLogFile               = "log_file"
	KeyBusyTimeout           = "busy_timeout"
	KeyReconcileWait         = "reconcile_wait"
	KeyReconcileInterval     = "reconcile_interval"
	KeyPersistMaxAttempts    = "persist_max_attempts"
	KeyPersistInitialBackoff = "persist_initial_backoff"
	KeyPersistMaxBackoff     = "persist_max_backoff"
)

// Config is the effective configuration.
type Config struct {
	DB                    string
	Debug                 bool
	ProjectsRoot          string
	LogFile               string
	BusyTimeout           time.Duration
	ReconcileWait         time.Duration
	ReconcileInterval     time.Duration
	PersistMaxAttempts    int
	PersistInitialBackoff time.Duration
	PersistMaxBackoff     time.Duration
}

// MarshalYAML renders the config under its file keys, with durations in
// the same string form the file accepts.
func (c Config) MarshalYAML() (interface{}, error) {
	return struct {
		DB                    string `yaml:"db"`
		Debug                 bool   `yaml:"debug"`
		ProjectsRoot          string `yaml:"projects_root"`
		LogFile               string `yaml:"log_file"`
		BusyTimeout           string `yaml:"busy_timeout"`
		ReconcileWait         string `yaml:"reconcile_wait"`
		ReconcileInterval     string `yaml:"reconcile_interval"`
		PersistMaxAttempts    int    `yaml:"persist_max_attempts"`
		PersistInitialBackoff string `yaml:"persist_initial_backoff"`
		PersistMaxBackoff     string `yaml:"persist_max_backoff"`
	}{
		DB:                    c.DB,
		Debug:                 c.Debug,
		ProjectsRoot:          c.ProjectsRoot,
		LogFile:               c.LogFile,
		BusyTimeout:           c.BusyTimeout.String(),
		ReconcileWait:         c.ReconcileWait.String(),
		ReconcileInterval:     c.ReconcileInterval.String(),
		PersistMaxAttempts:    c.PersistMaxAttempts,
		PersistInitialBackoff: c.PersistInitialBackoff.String(),
		PersistMaxBackoff:     c.PersistMaxBackoff.String(),
	}, nil
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the built-in defaults. projects_root is resolved
// at Load time so a missing home directory is reported there.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDB, "")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyProjectsRoot, "")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyBusyTimeout, 5*time.Second)
	v.SetDefault(KeyReconcileWait, 150*time.Millisecond)
	v.SetDefault(KeyReconcileInterval, 50*time.Millisecond)
	v.SetDefault(KeyPersistMaxAttempts, 5)
	v.SetDefault(KeyPersistInitialBackoff, 100*time.Millisecond)
	v.SetDefault(KeyPersistMaxBackoff, time.Second)
}

// DefaultDir returns the directory searched for config.yaml.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, "chat-stream"), nil
}

// ReadFile merges a config file into v. An explicit path must exist; the
// default location is optional.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}

	dir, err := DefaultDir()
	if err != nil {
		// No home or XDG dir: run on defaults.
		return nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load resolves v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		DB:                    v.GetString(KeyDB),
		Debug:                 v.GetBool(KeyDebug),
		ProjectsRoot:          v.GetString(KeyProjectsRoot),
		LogFile:               v.GetString(KeyLogFile),
		BusyTimeout:           v.GetDuration(KeyBusyTimeout),
		ReconcileWait:         v.GetDuration(KeyReconcileWait),
		ReconcileInterval:     v.GetDuration(KeyReconcileInterval),
		PersistMaxAttempts:    v.GetInt(KeyPersistMaxAttempts),
		PersistInitialBackoff: v.GetDuration(KeyPersistInitialBackoff),
		PersistMaxBackoff:     v.GetDuration(KeyPersistMaxBackoff),
	}

	if c.ProjectsRoot == "" {
		root, err := project.DefaultRoot()
		if err != nil {
			return nil, err
		}
		c.ProjectsRoot = root
	}
	c.ProjectsRoot = expandHome(c.ProjectsRoot)
	c.DB = expandHome(c.DB)
	c.LogFile = expandHome(c.LogFile)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.ProjectsRoot == "" {
		return fmt.Errorf("%s cannot be empty", KeyProjectsRoot)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%s cannot be negative", KeyBusyTimeout)
	}
	if c.ReconcileWait < 0 {
		return fmt.Errorf("%s cannot be negative", KeyReconcileWait)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("%s must be positive", KeyReconcileInterval)
	}
	if c.PersistMaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", KeyPersistMaxAttempts)
	}
	if c.PersistInitialBackoff <= 0 || c.PersistMaxBackoff < c.PersistInitialBackoff {
		return fmt.Errorf("%s must be positive and no larger than %s", KeyPersistInitialBackoff, KeyPersistMaxBackoff)
	}
	return nil
}

// PersistenceEnabled reports whether a store location is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.DB != ""
}

// OpenLog returns the destination for diagnostic logs: a size-rotated file
// when log_file is set, stderr otherwise. Close the result on shutdown.
func (c *Config) OpenLog() (io.WriteCloser, error) {
	if c.LogFile == "" {
		return nopCloser{os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.LogFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, nil
}

// NewLogger returns a logger with the given component prefix on w.
func NewLogger(w io.Writer, prefix string) *log.Logger {
	return log.New(w, "["+prefix+"] ", log.LstdFlags)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
