package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	want := []string{BackendFlatpak, BackendPackageKit, BackendNative}
	if !slices.Equal(cfg.General.BackendPriority, want) {
		t.Errorf("BackendPriority = %v, want %v", cfg.General.BackendPriority, want)
	}
	if cfg.General.AutoConfirm {
		t.Error("AutoConfirm should be false by default")
	}
	if cfg.General.DryRun {
		t.Error("DryRun should be false by default")
	}
	if !cfg.Output.Color {
		t.Error("Color should be true by default")
	}
	if cfg.Output.Format != "text" {
		t.Errorf("Format = %q, want text", cfg.Output.Format)
	}
	if cfg.Daemon.CheckInterval.Duration != 6*time.Hour {
		t.Errorf("CheckInterval = %v, want 6h", cfg.Daemon.CheckInterval)
	}
	if cfg.Backend(BackendNative).IsEnabled() {
		t.Error("native backend should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestResolveAlias(t *testing.T) {
	cfg := Default()
	cfg.Aliases["browser"] = "org.mozilla.firefox"

	tests := []struct {
		input    string
		expected string
	}{
		{"browser", "org.mozilla.firefox"},
		{"vim", "vim"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := cfg.ResolveAlias(tt.input); got != tt.expected {
				t.Errorf("ResolveAlias(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolveAliases(t *testing.T) {
	cfg := Default()
	cfg.Aliases["editor"] = "org.kde.kate"

	got := cfg.ResolveAliases([]string{"editor", "htop"})
	want := []string{"org.kde.kate", "htop"}
	if !slices.Equal(got, want) {
		t.Errorf("ResolveAliases() = %v, want %v", got, want)
	}
}

func TestBackend(t *testing.T) {
	cfg := Default()

	flatpak := cfg.Backend(BackendFlatpak)
	if !flatpak.IsEnabled() {
		t.Error("flatpak should be enabled by default")
	}
	if !slices.Equal(flatpak.Installations, []string{"system", "user"}) {
		t.Errorf("Installations = %v", flatpak.Installations)
	}

	unknown := cfg.Backend("snap")
	if !unknown.IsEnabled() {
		t.Error("unconfigured backends are enabled")
	}
}

func TestEnabledBackends(t *testing.T) {
	cfg := Default()
	cfg.Backends["native"] = BackendConfig{Enabled: ptr(true)}
	cfg.Backends["zeta"] = BackendConfig{}
	cfg.Backends["packagekit"] = BackendConfig{Enabled: ptr(false)}

	got := cfg.EnabledBackends()
	want := []string{"flatpak", "native", "zeta"}
	if !slices.Equal(got, want) {
		t.Errorf("EnabledBackends() = %v, want %v", got, want)
	}
}

func TestShouldUseColor(t *testing.T) {
	cfg := Default()

	t.Setenv("NO_COLOR", "")
	if !cfg.ShouldUseColor() {
		t.Error("ShouldUseColor() should be true when color enabled and NO_COLOR unset")
	}

	t.Setenv("NO_COLOR", "1")
	if cfg.ShouldUseColor() {
		t.Error("ShouldUseColor() should be false when NO_COLOR is set")
	}

	t.Setenv("NO_COLOR", "")
	cfg.Output.Color = false
	if cfg.ShouldUseColor() {
		t.Error("ShouldUseColor() should be false when color disabled")
	}
}

func TestLoadSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.General.AutoConfirm = true
	cfg.Aliases["ff"] = "org.mozilla.firefox"
	cfg.Daemon.CheckInterval = Duration{90 * time.Minute}

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if !loaded.General.AutoConfirm {
		t.Error("AutoConfirm should be true after load")
	}
	if loaded.Aliases["ff"] != "org.mozilla.firefox" {
		t.Errorf("alias ff = %q", loaded.Aliases["ff"])
	}
	if loaded.Daemon.CheckInterval.Duration != 90*time.Minute {
		t.Errorf("CheckInterval = %v, want 1h30m", loaded.Daemon.CheckInterval)
	}
	if loaded.Backend(BackendNative).IsEnabled() {
		t.Error("native should stay disabled after a round trip")
	}
}

func TestLoadMergesBackends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[backends.flatpak]
installations = ["user"]
runtime_deferrals = 5

[backends.native]
enabled = true
tool = "pacman"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	flatpak := cfg.Backend(BackendFlatpak)
	if !slices.Equal(flatpak.Installations, []string{"user"}) {
		t.Errorf("Installations = %v, want [user]", flatpak.Installations)
	}
	if flatpak.RuntimeDeferrals == nil || *flatpak.RuntimeDeferrals != 5 {
		t.Errorf("RuntimeDeferrals = %v, want 5", flatpak.RuntimeDeferrals)
	}
	native := cfg.Backend(BackendNative)
	if !native.IsEnabled() || native.Tool != "pacman" {
		t.Errorf("native = %+v, want enabled pacman", native)
	}
	// Untouched tables keep their defaults.
	if cfg.Backend(BackendPackageKit).Bus != "system" {
		t.Errorf("packagekit bus = %q, want system", cfg.Backend(BackendPackageKit).Bus)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"format", "[output]\nformat = \"xml\"\n"},
		{"level", "[log]\nlevel = \"loud\"\n"},
		{"scope", "[backends.flatpak]\ninstallations = [\"global\"]\n"},
		{"tool", "[backends.native]\ntool = \"zypper\"\n"},
		{"deferrals", "[backends.flatpak]\nruntime_deferrals = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadFrom(path)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("LoadFrom() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[daemon]\ncheck_interval = \"often\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() should reject an unparsable duration")
	}
}

func TestLoadNonExistentConfig(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("LoadFrom() should not error for missing file: %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadFrom() should return default config for missing file")
	}
	if !cfg.Output.Color {
		t.Error("missing file should yield defaults")
	}
}
