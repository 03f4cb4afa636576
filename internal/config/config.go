// Package config loads notemirror settings.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults
//  2. notemirror.yaml, searched in $XDG_CONFIG_HOME/notemirror, ~/.notemirror
//     and the working directory (or the file given with --config)
//  3. NOTEMIRROR_* environment variables, e.g. NOTEMIRROR_AUTH_CLIENT_ID
//  4. command flags bound by the CLI
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "NOTEMIRROR"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

type AuthConfig struct {
	ClientID  string `mapstructure:"client_id"`
	Tenant    string `mapstructure:"tenant"`
	CachePath string `mapstructure:"cache_path"`

	// Token is a fixed access token; it bypasses the device-code login.
	Token string `mapstructure:"token"`
}

type GraphConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	ArchiveTitleMarker string `mapstructure:"archive_title_marker"`
	ArchivePathMarker  string `mapstructure:"archive_path_marker"`
	RootLabel          string `mapstructure:"root_label"`
	Separator          string `mapstructure:"separator"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // sqlite or file
	Path    string `mapstructure:"path"`    // database file
	Dir     string `mapstructure:"dir"`     // file backend directory
}

type ContentConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Dir      string `mapstructure:"dir"`
	Compress bool   `mapstructure:"compress"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Verbose    bool   `mapstructure:"verbose"`
}

type DaemonConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	TriggerFile string        `mapstructure:"trigger_file"`
	RunOnStart  bool          `mapstructure:"run_on_start"`
}

type DashboardConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the complete configuration.
type Config struct {
	Home      string          `mapstructure:"home"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Store     StoreConfig     `mapstructure:"store"`
	Content   ContentConfig   `mapstructure:"content"`
	Log       LogConfig       `mapstructure:"log"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// DefaultHome returns ~/.notemirror.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".notemirror"
	}
	return filepath.Join(home, ".notemirror")
}

// SetDefaults registers every default on v. Paths left empty are resolved
// relative to home by Load.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("home", DefaultHome())

	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.tenant", "common")
	v.SetDefault("auth.cache_path", "")
	v.SetDefault("auth.token", "")

	v.SetDefault("graph.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("graph.concurrency", 4)
	v.SetDefault("graph.max_retries", 2)
	v.SetDefault("graph.timeout", 60*time.Second)

	v.SetDefault("sync.archive_title_marker", "(Archiv)")
	v.SetDefault("sync.archive_path_marker", "/One%20Note/Archiv/")
	v.SetDefault("sync.root_label", "OneNote Notebook")
	v.SetDefault("sync.separator", " > ")

	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("store.dir", "")

	v.SetDefault("content.enabled", true)
	v.SetDefault("content.dir", "")
	v.SetDefault("content.compress", false)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.verbose", false)

	v.SetDefault("daemon.interval", 15*time.Minute)
	v.SetDefault("daemon.trigger_file", "")
	v.SetDefault("daemon.run_on_start", true)

	v.SetDefault("dashboard.addr", "127.0.0.1:8765")
}

// New returns a viper instance with defaults, search paths and environment
// binding configured. configFile, when set, replaces the search.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("notemirror")
		v.SetConfigType("yaml")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "notemirror"))
		}
		v.AddConfigPath(DefaultHome())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes the merged settings.
func Load(v *viper.Viper) (*Config, error) {
	// An explicitly named file must exist; only the search may come up empty.
	if explicit := v.ConfigFileUsed(); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths fills empty paths from Home and expands a leading ~.
func (c *Config) resolvePaths() {
	c.Home = expandHome(c.Home)
	def := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(c.Home, name)
		}
		*p = expandHome(*p)
	}
	def(&c.Auth.CachePath, "token.json")
	def(&c.Store.Path, "notemirror.db")
	def(&c.Store.Dir, "snapshot")
	def(&c.Content.Dir, "page-content")
	def(&c.Daemon.TriggerFile, "sync.trigger")
	if c.Log.File != "" {
		c.Log.File = expandHome(c.Log.File)
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendSQLite, BackendFile:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendSQLite, BackendFile, c.Store.Backend))
	}
	if c.Graph.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("graph.concurrency must be at least 1"))
	}
	if c.Graph.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("graph.max_retries must not be negative"))
	}
	if c.Daemon.Interval < 0 {
		errs = append(errs, fmt.Errorf("daemon.interval must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
