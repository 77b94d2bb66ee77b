package cli

import (
	"github.com/spf13/cobra"

	"discover/internal/tui"
)

var browseCmd = &cobra.Command{
	Use:     "browse",
	Aliases: []string{"tui", "monitor"},
	Short:   "Launch the interactive terminal interface",
	Long: `Launch the interactive terminal user interface.

The interface provides a visual way to:
  - Browse installed resources and pending updates
  - Search every backend
  - Install, remove and update resources
  - Follow and cancel running transactions
  - View the transaction history and backend status

Navigation:
  - Use arrow keys or j/k to navigate
  - Press 1-6 to switch tabs
  - Press / to search, f to filter the current list
  - Press i to install, r to remove, u to update, U to update everything
  - Press c to cancel the selected transaction
  - Press ? for help
  - Press q to quit`,
	Args: cobra.NoArgs,
	RunE: runBrowse,
}

func runBrowse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	// sudo cannot prompt while the interface owns the terminal.
	runner.SetInteractive(false)

	var j tui.Journal
	if journal != nil {
		j = journal
	}
	return tui.Run(ctx, c, j)
}
