package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"discover/internal/ui"
	"discover/pkg/resource"
	"discover/pkg/transaction"
)

var (
	installAddons []string
	removeAddons  []string
)

var installCmd = &cobra.Command{
	Use:   "install [resources...]",
	Short: "Install one or more resources",
	Long: `Install resources from whichever backend offers them. When several
backends offer the same name you are asked which one to use; with -y
the backend with the highest priority wins.

Examples:
  discover install org.kde.kate gimp       # Install two applications
  discover install firefox -b flatpak      # Install from Flatpak only
  discover install flatpak://org.gimp.GIMP # Install by locator
  discover install kate --addon org.kde.kate.Plugins
  discover install -y vim                  # Install without confirmation
  discover install code                    # Uses alias if configured`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringSliceVar(&installAddons, "addon", nil, "add-on to install alongside")
	installCmd.Flags().StringSliceVar(&removeAddons, "remove-addon", nil, "add-on to remove")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}

	var (
		targets []*resource.Resource
		missing []error
	)
	for _, arg := range args {
		res, err := resolve(ctx, c, arg, installable)
		if err != nil {
			missing = append(missing, err)
			continue
		}
		targets = append(targets, res)
	}
	for _, err := range missing {
		ui.WarningMsg("%v", err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: nothing to install", ErrNothingToDo)
	}

	printPlan("Installation plan:", targets)
	if err := confirm("Proceed with installation?"); err != nil {
		return err
	}

	addons := transaction.Addons{Install: installAddons, Remove: removeAddons}
	txs, err := submit(targets, (*resource.Resource).DisplayName, func(r *resource.Resource) (*transaction.Transaction, error) {
		return c.Install(r, addons)
	})
	return errors.Join(err, await(ctx, txs))
}

// printPlan lists what is about to change.
func printPlan(title string, rs []*resource.Resource) {
	if structured() {
		return
	}
	ui.InfoMsg("%s", title)
	for _, r := range rs {
		ui.MutedMsg("  - %s %s from %s (%s/%s)", r.DisplayName(), r.Version(), r.Backend(), r.Scope(), r.Origin())
	}
	if cfg.General.DryRun {
		ui.WarningMsg("Dry run: commands that change the system will be skipped")
	}
}
