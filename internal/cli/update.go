package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"discover/internal/ui"
	"discover/pkg/resource"
	"discover/pkg/transaction"
)

var updateCheck bool

var updateCmd = &cobra.Command{
	Use:     "update [resources...]",
	Aliases: []string{"upgrade"},
	Short:   "Apply available updates",
	Long: `Update the named resources, or every resource with an update
available when none are named.

Examples:
  discover update                   # Apply every pending update
  discover update org.kde.kate      # Update one application
  discover update -b flatpak        # Update Flatpaks only
  discover update --check           # Ask the backends for updates first`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&updateCheck, "check", false, "check for updates before applying them")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	if updateCheck {
		if err := withProgress("Checking for updates", func() error { return c.CheckForUpdates(ctx) }); err != nil {
			return err
		}
	}

	var targets []*resource.Resource
	if len(args) == 0 {
		targets = c.UpgradeablePackages()
	}
	for _, arg := range args {
		res, err := resolve(ctx, c, arg, upgradeable)
		if err != nil {
			ui.WarningMsg("%v", err)
			continue
		}
		targets = append(targets, res)
	}
	if len(targets) == 0 {
		if !structured() {
			ui.SuccessMsg("Everything is up to date")
		}
		return nil
	}

	printPlan("Update plan:", targets)
	if err := confirm("Proceed with update?"); err != nil {
		return err
	}

	var txs []*transaction.Transaction
	if len(args) == 0 {
		// Resources that stopped being upgradeable since the plan are skipped by UpdateAll.
		txs, err = c.UpdateAll()
	} else {
		txs, err = submit(targets, (*resource.Resource).DisplayName, c.Update)
	}
	return errors.Join(err, await(ctx, txs))
}
