package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings returns the configuration as nested maps keyed like the config
// file. Durations are rendered as strings ("15m0s") so the output can be
// read back. When redact is set, the static token is masked.
func (c *Config) Settings(redact bool) map[string]any {
	token := c.Auth.Token
	if redact && token != "" {
		token = "********"
	}
	return map[string]any{
		"home": c.Home,
		"auth": map[string]any{
			"client_id":  c.Auth.ClientID,
			"tenant":     c.Auth.Tenant,
			"cache_path": c.Auth.CachePath,
			"token":      token,
		},
		"graph": map[string]any{
			"base_url":    c.Graph.BaseURL,
			"concurrency": c.Graph.Concurrency,
			"max_retries": c.Graph.MaxRetries,
			"timeout":     c.Graph.Timeout.String(),
		},
		"sync": map[string]any{
			"archive_title_marker": c.Sync.ArchiveTitleMarker,
			"archive_path_marker":  c.Sync.ArchivePathMarker,
			"root_label":           c.Sync.RootLabel,
			"separator":            c.Sync.Separator,
		},
		"store": map[string]any{
			"backend": c.Store.Backend,
			"path":    c.Store.Path,
			"dir":     c.Store.Dir,
		},
		"content": map[string]any{
			"enabled":  c.Content.Enabled,
			"dir":      c.Content.Dir,
			"compress": c.Content.Compress,
		},
		"log": map[string]any{
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"verbose":      c.Log.Verbose,
		},
		"daemon": map[string]any{
			"interval":     c.Daemon.Interval.String(),
			"trigger_file": c.Daemon.TriggerFile,
			"run_on_start": c.Daemon.RunOnStart,
		},
		"dashboard": map[string]any{
			"addr": c.Dashboard.Addr,
		},
	}
}

// YAML renders Settings as YAML.
func (c *Config) YAML(redact bool) ([]byte, error) {
	data, err := yaml.Marshal(c.Settings(redact))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Starter is the subset of settings `config init` asks for.
type Starter struct {
	ClientID       string
	Tenant         string
	Backend        string
	ContentEnabled bool
	Compress       bool
	Interval       string
}

// WriteStarter writes a minimal config file. It refuses to overwrite an
// existing file unless force is set.
func WriteStarter(path string, s Starter, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	doc := map[string]any{
		"auth": map[string]any{
			"client_id": s.ClientID,
			"tenant":    s.Tenant,
		},
		"store": map[string]any{
			"backend": s.Backend,
		},
		"content": map[string]any{
			"enabled":  s.ContentEnabled,
			"compress": s.Compress,
		},
		"daemon": map[string]any{
			"interval": s.Interval,
		},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	header := []byte("# notemirror configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultStarter returns the values `config init` proposes.
func DefaultStarter() Starter {
	return Starter{
		Tenant:         "common",
		Backend:        BackendSQLite,
		ContentEnabled: true,
		Interval:       "15m",
	}
}
