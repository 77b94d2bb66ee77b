package cli

import (
	"errors"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"discover/internal/config"
	"discover/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose backend and configuration issues",
	Long: `Check the configuration, the history journal and every configured
backend, and report what is unusable and why.

Examples:
  discover doctor               # Run diagnostics`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

// tools are the native programs the backends drive.
var tools = []string{"flatpak", "sudo", "apt-get", "dnf", "pacman"}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	issues := 0

	ui.HeaderMsg("Configuration")
	path := cfgFile
	if path == "" {
		path = config.ConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		ui.MutedMsg("No config file at %s, using defaults", path)
	} else {
		ui.SuccessMsg("Config file: %s", path)
	}
	ui.MutedMsg("  Backend priority: %v", cfg.General.BackendPriority)
	ui.MutedMsg("  Enabled backends: %v", cfg.EnabledBackends())
	if cfg.General.DryRun {
		ui.WarningMsg("Dry run is on: nothing will be changed")
	}

	ui.HeaderMsg("Tools")
	for _, name := range tools {
		if p, err := runner.LookPath(name); err == nil {
			ui.SuccessMsg("%s: %s", name, p)
		} else {
			ui.MutedMsg("%s: not installed", name)
		}
	}

	ui.HeaderMsg("Backends")
	_, err := openCatalog(ctx)
	if err != nil && !errors.Is(err, ErrNoBackends) && !errors.Is(err, ErrBackendUnavailable) {
		ui.ErrorMsg("Loading the catalog failed: %v", err)
		issues++
	}
	if cat != nil {
		for _, b := range cat.Backends() {
			ui.SuccessMsg("%s: %d resources, %d updates", b.DisplayName(), len(b.AllResources()), b.UpdatesCount())
		}
		failed := cat.SetupErrors()
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ui.ErrorMsg("%s: %v", name, failed[name])
			issues++
		}
	}

	ui.HeaderMsg("History")
	if store, err := openJournal(); err != nil {
		ui.WarningMsg("%v", err)
		issues++
	} else if n, err := store.Count(); err == nil {
		ui.SuccessMsg("Journal: %s (%d entries)", config.HistoryPath(), n)
	}

	// Summary
	ui.HeaderMsg("Summary")
	if issues == 0 {
		ui.SuccessMsg("No issues found! discover is ready to use.")
	} else {
		ui.WarningMsg("Found %d issue(s). Some features may not work correctly.", issues)
	}
	return nil
}
