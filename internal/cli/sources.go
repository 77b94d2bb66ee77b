package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"discover/internal/ui"
)

var sourcesCmd = &cobra.Command{
	Use:     "sources",
	Aliases: []string{"remotes"},
	Short:   "List and toggle software sources",
	Long: `List the remotes and repositories of every backend, and enable or
disable them.

Examples:
  discover sources                       # List every source
  discover sources disable flathub-beta -b flatpak
  discover sources enable flathub -b flatpak`,
	Args: cobra.NoArgs,
	RunE: runSourcesList,
}

var sourcesEnableCmd = &cobra.Command{
	Use:   "enable [source]",
	Short: "Enable a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSource(cmd, args[0], true)
	},
}

var sourcesDisableCmd = &cobra.Command{
	Use:   "disable [source]",
	Short: "Disable a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSource(cmd, args[0], false)
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesEnableCmd)
	sourcesCmd.AddCommand(sourcesDisableCmd)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}

	srcs := c.Sources(ctx)
	if structured() {
		return emit(srcs)
	}
	if len(srcs) == 0 {
		ui.MutedMsg("No sources found")
		return nil
	}

	t := ui.NewTable(ui.Out, "backend", "name", "scope", "enabled", "url")
	for _, s := range srcs {
		enabled := ui.Installed.Sprint("yes")
		if !s.Enabled {
			enabled = ui.Muted.Sprint("no")
		}
		name := s.Name
		if s.Title != "" && s.Title != s.Name {
			name += " (" + s.Title + ")"
		}
		t.AddRow(ui.BackendName.Sprint(s.Backend), ui.ResourceName.Sprint(name), s.Scope, enabled, s.URL)
	}
	t.Render()
	return nil
}

// setSource toggles source on the backend given with --backend, or on the only backend that has
// a source with that name.
func setSource(cmd *cobra.Command, source string, enabled bool) error {
	ctx := cmd.Context()
	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}

	target := backendName
	if target == "" {
		owners := map[string]bool{}
		for _, s := range c.Sources(ctx) {
			if s.Name == source {
				owners[s.Backend] = true
			}
		}
		switch len(owners) {
		case 0:
			return fmt.Errorf("%w: %s", ErrSourceNotFound, source)
		case 1:
			for b := range owners {
				target = b
			}
		default:
			return fmt.Errorf("%w: %s is offered by several backends, choose one with --backend", ErrAmbiguous, source)
		}
	}

	if err := confirm("Change source " + source + "?"); err != nil {
		return err
	}
	if err := c.SetSourceEnabled(ctx, target, source, enabled); err != nil {
		return err
	}
	// Enabling or disabling a remote changes what is available.
	if err := withProgress("Refreshing catalog", func() error { return c.Refresh(ctx) }); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	if !structured() {
		ui.SuccessMsg("Source %s %s on %s", source, state, target)
	}
	return nil
}
