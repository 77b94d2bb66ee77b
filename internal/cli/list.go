package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"discover/internal/ui"
	"discover/pkg/resource"
)

var (
	listLimit   int
	listPattern string
	listUpdates bool
	listAll     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed resources",
	Long: `List installed resources from every backend, or from one with --backend.

Examples:
  discover list                     # Everything installed
  discover list -b flatpak          # Installed Flatpaks
  discover list --updates           # Resources with an update available
  discover list -p kde              # Installed resources matching 'kde'
  discover list --all -l 20         # First 20 known resources, installed or not`,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 0, "limit number of results")
	listCmd.Flags().StringVarP(&listPattern, "pattern", "p", "", "filter by name pattern")
	listCmd.Flags().BoolVarP(&listUpdates, "updates", "u", false, "only resources with an update available")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include resources that are not installed")
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd.Context())
	if err != nil {
		return err
	}

	var items []*resource.Resource
	switch {
	case listUpdates:
		items = c.UpgradeablePackages()
	case listAll:
		items = c.AllResources()
	default:
		for _, r := range c.AllResources() {
			if r.IsInstalled() {
				items = append(items, r)
			}
		}
	}
	items = filterList(items, listPattern, listLimit)

	snaps := resource.Snapshots(items)
	if structured() {
		return emit(snaps)
	}
	ui.PrintResources(ui.Out, snaps)
	ui.MutedMsg("\nTotal: %d resources", len(items))
	return nil
}

// filterList keeps the resources whose name or display name contains pattern, up to limit.
func filterList(rs []*resource.Resource, pattern string, limit int) []*resource.Resource {
	pattern = strings.ToLower(pattern)
	var out []*resource.Resource
	for _, r := range rs {
		if pattern != "" &&
			!strings.Contains(strings.ToLower(r.Name()), pattern) &&
			!strings.Contains(strings.ToLower(r.DisplayName()), pattern) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
