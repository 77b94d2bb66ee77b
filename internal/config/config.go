// Package config loads and saves the discover configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend names known to the configuration.
const (
	BackendFlatpak    = "flatpak"
	BackendPackageKit = "packagekit"
	BackendNative     = "native"
)

// Config represents the complete discover configuration.
type Config struct {
	General  GeneralConfig            `toml:"general"`
	Output   OutputConfig             `toml:"output"`
	Log      LogConfig                `toml:"log"`
	Backends map[string]BackendConfig `toml:"backends"`
	Daemon   DaemonConfig             `toml:"daemon"`
	Aliases  map[string]string        `toml:"aliases"`
}

// GeneralConfig contains general settings.
type GeneralConfig struct {
	// BackendPriority orders backends in search results and name lookups.
	BackendPriority []string `toml:"backend_priority"`

	// AutoConfirm skips confirmation prompts when true (like -y flag).
	AutoConfirm bool `toml:"auto_confirm"`

	// DryRun runs queries but skips commands that change the system.
	DryRun bool `toml:"dry_run"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	// Color enables colored output (respects NO_COLOR env var).
	Color bool `toml:"color"`

	// Unicode enables unicode symbols in output.
	Unicode bool `toml:"unicode"`

	// Verbose enables detailed output.
	Verbose bool `toml:"verbose"`

	// Format is text, json or yaml.
	Format string `toml:"format"`
}

// LogConfig controls the diagnostic log.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`

	// File receives the log as JSON lines. Empty logs to stderr.
	File string `toml:"file,omitempty"`
}

// BackendConfig contains per-backend settings. Unset optional fields take the backend's defaults.
type BackendConfig struct {
	Enabled *bool `toml:"enabled,omitempty"`

	// Installations lists the flatpak scopes to open ("system", "user").
	Installations []string `toml:"installations,omitempty"`

	// InstallationPaths overrides the root directory of a flatpak scope.
	InstallationPaths map[string]string `toml:"installation_paths,omitempty"`

	// RuntimeDeferrals is how many refreshes a flatpak app waits for its runtime's size.
	RuntimeDeferrals *int `toml:"runtime_deferrals,omitempty"`

	// Watch reconciles flatpak apps when their exported desktop files change.
	Watch *bool `toml:"watch,omitempty"`

	// Tool forces the native package tool (apt, dnf, pacman). Empty detects it.
	Tool string `toml:"tool,omitempty"`

	// Bus is the D-Bus the PackageKit daemon is on ("system" or "session").
	Bus string `toml:"bus,omitempty"`
}

// IsEnabled reports whether the backend should be opened. Backends are enabled unless disabled.
func (b BackendConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// DaemonConfig contains settings of the background service.
type DaemonConfig struct {
	// CheckInterval is the time between update checks.
	CheckInterval Duration `toml:"check_interval"`

	// MetricsAddr is where /metrics is served. Empty disables it.
	MetricsAddr string `toml:"metrics_addr,omitempty"`
}

// Duration is a time.Duration written as a string such as "6h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			BackendPriority: []string{BackendFlatpak, BackendPackageKit, BackendNative},
		},
		Output: OutputConfig{
			Color:   true,
			Unicode: true,
			Format:  "text",
		},
		Log: LogConfig{
			Level: "warn",
		},
		Backends: map[string]BackendConfig{
			BackendFlatpak: {
				Installations: []string{"system", "user"},
			},
			BackendPackageKit: {
				Bus: "system",
			},
			// PackageKit already covers distribution packages where it runs.
			BackendNative: {
				Enabled: ptr(false),
			},
		},
		Daemon: DaemonConfig{
			CheckInterval: Duration{6 * time.Hour},
			MetricsAddr:   "127.0.0.1:9464",
		},
		Aliases: map[string]string{},
	}
}

func ptr[T any](v T) *T { return &v }

// Load loads the configuration from the default path.
// If the config file doesn't exist, it returns the default configuration.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads the configuration from a specific path.
// If the config file doesn't exist, it returns the default configuration.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	// Backend tables replace the defaults of the same name, so decode them separately and merge.
	defaults := cfg.Backends
	cfg.Backends = nil
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Backends = mergeBackends(defaults, cfg.Backends)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// mergeBackends overlays the set fields of override on base.
func mergeBackends(base, override map[string]BackendConfig) map[string]BackendConfig {
	out := make(map[string]BackendConfig, len(base)+len(override))
	for name, b := range base {
		out[name] = b
	}
	for name, o := range override {
		b := out[name]
		if o.Enabled != nil {
			b.Enabled = o.Enabled
		}
		if o.Installations != nil {
			b.Installations = o.Installations
		}
		if o.InstallationPaths != nil {
			b.InstallationPaths = o.InstallationPaths
		}
		if o.RuntimeDeferrals != nil {
			b.RuntimeDeferrals = o.RuntimeDeferrals
		}
		if o.Watch != nil {
			b.Watch = o.Watch
		}
		if o.Tool != "" {
			b.Tool = o.Tool
		}
		if o.Bus != "" {
			b.Bus = o.Bus
		}
		out[name] = b
	}
	return out
}

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	var errs []error
	switch c.Output.Format {
	case "", "text", "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("output.format %q: want text, json or yaml", c.Output.Format))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	for name, b := range c.Backends {
		for _, scope := range b.Installations {
			if scope != "system" && scope != "user" {
				errs = append(errs, fmt.Errorf("backends.%s.installations: unknown scope %q", name, scope))
			}
		}
		if b.RuntimeDeferrals != nil && *b.RuntimeDeferrals < 0 {
			errs = append(errs, fmt.Errorf("backends.%s.runtime_deferrals must not be negative", name))
		}
		switch b.Tool {
		case "", "apt", "dnf", "pacman":
		default:
			errs = append(errs, fmt.Errorf("backends.%s.tool %q: want apt, dnf or pacman", name, b.Tool))
		}
		switch b.Bus {
		case "", "system", "session":
		default:
			errs = append(errs, fmt.Errorf("backends.%s.bus %q: want system or session", name, b.Bus))
		}
	}
	if c.Daemon.CheckInterval.Duration < 0 {
		errs = append(errs, errors.New("daemon.check_interval must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Save writes the configuration to the default path.
func (c *Config) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}

// ResolveAlias returns the actual package name for an alias, or the original name if no alias exists.
func (c *Config) ResolveAlias(pkg string) string {
	if alias, ok := c.Aliases[pkg]; ok {
		return alias
	}
	return pkg
}

// ResolveAliases resolves all aliases in a list of package names.
func (c *Config) ResolveAliases(packages []string) []string {
	resolved := make([]string, len(packages))
	for i, pkg := range packages {
		resolved[i] = c.ResolveAlias(pkg)
	}
	return resolved
}

// Backend returns the configuration for a specific backend.
// Returns an empty, enabled config if no configuration exists for the backend.
func (c *Config) Backend(name string) BackendConfig {
	if cfg, ok := c.Backends[name]; ok {
		return cfg
	}
	return BackendConfig{}
}

// EnabledBackends returns the names of the enabled backends, in priority order first.
func (c *Config) EnabledBackends() []string {
	var names []string
	for _, n := range c.General.BackendPriority {
		if c.Backend(n).IsEnabled() && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	var rest []string
	for n, b := range c.Backends {
		if b.IsEnabled() && !slices.Contains(names, n) {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// ShouldUseColor returns true if colored output should be used.
// Respects the NO_COLOR environment variable.
func (c *Config) ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return c.Output.Color
}
