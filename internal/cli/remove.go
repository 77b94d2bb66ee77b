package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"discover/internal/ui"
	"discover/pkg/resource"
)

var removeCmd = &cobra.Command{
	Use:     "remove [resources...]",
	Aliases: []string{"uninstall", "rm"},
	Short:   "Remove one or more resources",
	Long: `Remove installed resources.

Examples:
  discover remove org.kde.kate      # Remove an application
  discover remove vim -b native     # Remove the distribution package
  discover remove -y gimp           # Remove without confirmation`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}

	var targets []*resource.Resource
	for _, arg := range args {
		res, err := resolve(ctx, c, arg, removable)
		if err != nil {
			ui.WarningMsg("%v", err)
			continue
		}
		targets = append(targets, res)
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: nothing to remove", ErrNothingToDo)
	}

	printPlan("Removal plan:", targets)
	if err := confirm("Proceed with removal?"); err != nil {
		return err
	}

	txs, err := submit(targets, (*resource.Resource).DisplayName, c.Remove)
	return errors.Join(err, await(ctx, txs))
}
