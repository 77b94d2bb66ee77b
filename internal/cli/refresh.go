package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"discover/internal/ui"
	"discover/pkg/resource"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the catalog of every backend",
	Long: `Reload every backend's catalog from its native store and report
how many resources, installed resources and updates each one knows.

Examples:
  discover refresh
  discover refresh -b packagekit`,
	RunE: runRefresh,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for updates",
	Long: `Ask every backend whether updates are available and list them.

Examples:
  discover check
  discover check -o json`,
	RunE: runCheck,
}

// backendSummary is one backend's row in the refresh report.
type backendSummary struct {
	Name      string `json:"name" yaml:"name"`
	Display   string `json:"display_name" yaml:"display_name"`
	Resources int    `json:"resources" yaml:"resources"`
	Installed int    `json:"installed" yaml:"installed"`
	Updates   int    `json:"updates" yaml:"updates"`
}

func runRefresh(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd.Context())
	if err != nil {
		return err
	}

	var rows []backendSummary
	for _, b := range c.Backends() {
		all := b.AllResources()
		installed := 0
		for _, r := range all {
			if r.IsInstalled() {
				installed++
			}
		}
		rows = append(rows, backendSummary{
			Name:      b.Name(),
			Display:   b.DisplayName(),
			Resources: len(all),
			Installed: installed,
			Updates:   b.UpdatesCount(),
		})
	}
	if structured() {
		return emit(rows)
	}

	t := ui.NewTable(ui.Out, "backend", "resources", "installed", "updates")
	for _, r := range rows {
		t.AddRow(ui.BackendName.Sprint(r.Display), strconv.Itoa(r.Resources), strconv.Itoa(r.Installed), strconv.Itoa(r.Updates))
	}
	t.Render()
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	if err := withProgress("Checking for updates", func() error { return c.CheckForUpdates(ctx) }); err != nil {
		return err
	}

	updates := resource.Snapshots(c.UpgradeablePackages())
	if structured() {
		return emit(updates)
	}
	if len(updates) == 0 {
		ui.SuccessMsg("Everything is up to date")
		return nil
	}
	ui.InfoMsg("%d updates available", len(updates))
	ui.PrintResources(ui.Out, updates)
	return nil
}
