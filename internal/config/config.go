package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendTmux   = "tmux"
	BackendDryRun = "dry-run"
)

type Config struct {
	SocketPath             string
	DBPath                 string
	LogLevel               string
	LogFile                string
	SentryDSN              string
	Backend                string
	ReadOnly               bool
	StashSession           string
	TargetKind             string
	TargetConnectionRef    string
	TopologyInterval       time.Duration
	ConnectTimeout         time.Duration
	CommandTimeout         time.Duration
	RetryBackoff           []time.Duration
	TargetDownWindow       time.Duration
	TargetDownFailures     int
	TargetRecoverSuccesses int
	JournalTTL             time.Duration
	// Plugin is handed verbatim to the picker at load time.
	Plugin map[string]string
}

func DefaultConfig() Config {
	return Config{
		SocketPath:             defaultSocketPath(),
		DBPath:                 defaultDBPath(),
		LogLevel:               "info",
		Backend:                BackendTmux,
		StashSession:           "_pnp",
		TargetKind:             "local",
		TopologyInterval:       500 * time.Millisecond,
		ConnectTimeout:         3 * time.Second,
		CommandTimeout:         5 * time.Second,
		RetryBackoff:           []time.Duration{100 * time.Millisecond, 250 * time.Millisecond},
		TargetDownWindow:       30 * time.Second,
		TargetDownFailures:     3,
		TargetRecoverSuccesses: 2,
		JournalTTL:             7 * 24 * time.Hour,
		Plugin:                 map[string]string{},
	}
}

type fileConfig struct {
	Socket           string            `toml:"socket"`
	DB               string            `toml:"db"`
	LogLevel         string            `toml:"log_level"`
	LogFile          string            `toml:"log_file"`
	SentryDSN        string            `toml:"sentry_dsn"`
	Backend          string            `toml:"backend"`
	ReadOnly         *bool             `toml:"read_only"`
	StashSession     string            `toml:"stash_session"`
	TopologyInterval time.Duration     `toml:"topology_interval"`
	ConnectTimeout   time.Duration     `toml:"connect_timeout"`
	CommandTimeout   time.Duration     `toml:"command_timeout"`
	RetryBackoff     []time.Duration   `toml:"retry_backoff"`
	JournalTTL       time.Duration     `toml:"journal_ttl"`
	Target           fileTarget        `toml:"target"`
	Plugin           map[string]any    `toml:"plugin"`
}

type fileTarget struct {
	Kind          string `toml:"kind"`
	ConnectionRef string `toml:"connection_ref"`
}

// Load returns the defaults overlaid with the TOML file at path. A missing
// file is only an error when the path was given explicitly.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.apply(data); err != nil {
		return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apply(data []byte) error {
	var fc fileConfig
	md, err := toml.Decode(string(data), &fc)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	setString(&c.SocketPath, expandHome(fc.Socket))
	setString(&c.DBPath, expandHome(fc.DB))
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFile, expandHome(fc.LogFile))
	setString(&c.SentryDSN, fc.SentryDSN)
	setString(&c.Backend, fc.Backend)
	setString(&c.StashSession, fc.StashSession)
	setString(&c.TargetKind, fc.Target.Kind)
	setString(&c.TargetConnectionRef, fc.Target.ConnectionRef)
	if fc.ReadOnly != nil {
		c.ReadOnly = *fc.ReadOnly
	}
	setDuration(&c.TopologyInterval, fc.TopologyInterval)
	setDuration(&c.ConnectTimeout, fc.ConnectTimeout)
	setDuration(&c.CommandTimeout, fc.CommandTimeout)
	setDuration(&c.JournalTTL, fc.JournalTTL)
	if fc.RetryBackoff != nil {
		c.RetryBackoff = fc.RetryBackoff
	}
	plugin, err := pluginOptions(fc.Plugin)
	if err != nil {
		return err
	}
	if c.Plugin == nil {
		c.Plugin = map[string]string{}
	}
	maps.Copy(c.Plugin, plugin)
	return c.Validate()
}

// pluginOptions flattens the [plugin] table into the string map the picker
// reads. Strings, booleans and numbers are accepted.
func pluginOptions(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for key, v := range raw {
		switch v := v.(type) {
		case string:
			out[key] = v
		case bool, int64, float64:
			out[key] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("plugin.%s: expected a string, boolean or number, got %T", key, v)
		}
	}
	return out, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendTmux, BackendDryRun:
	default:
		return fmt.Errorf("backend: unsupported %q", c.Backend)
	}
	switch c.TargetKind {
	case "local", "ssh":
	default:
		return fmt.Errorf("target.kind: unsupported %q", c.TargetKind)
	}
	if c.TargetKind == "ssh" && strings.TrimSpace(c.TargetConnectionRef) == "" {
		return fmt.Errorf("target.connection_ref is required for ssh targets")
	}
	if strings.TrimSpace(c.StashSession) == "" {
		return fmt.Errorf("stash_session must not be empty")
	}
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "pnp", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "pnp.toml"
	}
	return filepath.Join(home, ".config", "pnp", "config.toml")
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "pnp", "pnpd.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pnpd.sock"
	}
	return filepath.Join(home, ".local", "state", "pnp", "pnpd.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pnp.db"
	}
	return filepath.Join(home, ".local", "state", "pnp", "journal.db")
}
