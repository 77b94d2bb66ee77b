package cli

import (
	"github.com/spf13/cobra"

	"discover/internal/ui"
	"discover/pkg/backend"
	"discover/pkg/resource"
)

var (
	searchInstalled bool
	searchLimit     int
	searchKind      string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search for software",
	Long: `Search every backend for resources whose name or summary contains
the query, case-insensitively. Results are grouped by backend in
priority order.

Examples:
  discover search firefox            # Search every backend
  discover search vim -b packagekit  # Search PackageKit only
  discover search --installed kde    # Search installed resources only
  discover search --kind runtime gnome
  discover search -l 10 editor       # Limit to 10 results`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchInstalled, "installed", false, "search installed resources only")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "limit results (0 = no limit)")
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "only resources of this kind (app, runtime, package)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	f := backend.Filters{Search: args[0], InstalledOnly: searchInstalled}
	if searchKind != "" {
		kind, err := resource.ParseKind(searchKind)
		if err != nil {
			return err
		}
		f.Kind = &kind
	}

	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}

	s := c.Search(ctx, f)
	var (
		found     []*resource.Resource
		truncated bool
	)
	for r := range s.All() {
		found = append(found, r)
		if searchLimit > 0 && len(found) == searchLimit {
			truncated = true
			break
		}
	}
	if err := s.Err(); err != nil && !truncated {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snaps := resource.Snapshots(found)
	if structured() {
		return emit(snaps)
	}
	if len(found) == 0 {
		ui.WarningMsg("No results for '%s'", args[0])
		if hint := suggestions(c.AllResources(), args[0]); len(hint) > 0 {
			ui.MutedMsg("Did you mean: %v", hint)
		}
		return nil
	}
	ui.PrintResources(ui.Out, snaps)
	ui.MutedMsg("\n%d results", len(found))
	return nil
}
