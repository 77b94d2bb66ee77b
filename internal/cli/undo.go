package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"discover/internal/history"
	"discover/internal/ui"
	"discover/pkg/resource"
	"discover/pkg/transaction"
)

var (
	undoID       string
	undoShowPlan bool
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the last install or removal",
	Long: `Reverse the most recent successful install or removal recorded in the
history: an installed resource is removed, a removed one is installed
again. Updates cannot be undone.

Examples:
  discover undo                 # Undo last reversible transaction
  discover undo --id <id>       # Undo a specific transaction
  discover undo --plan          # Show what would be undone without doing it`,
	Args: cobra.NoArgs,
	RunE: runUndo,
}

func init() {
	undoCmd.Flags().StringVar(&undoID, "id", "", "transaction id from 'discover history -v'")
	undoCmd.Flags().BoolVar(&undoShowPlan, "plan", false, "show what would be undone without executing")
}

func runUndo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	store, err := openJournal()
	if err != nil {
		return err
	}

	entry, err := undoTarget(store)
	if err != nil {
		return err
	}

	loc, err := resource.ParseLocator(entry.Locator)
	if err != nil {
		return fmt.Errorf("history entry %s: %w", entry.ID, err)
	}
	found, err := c.FindByLocator(ctx, loc).Collect()
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, entry.Locator)
	}
	res := found[0]

	ui.InfoMsg("Undo: %s", entry.Summary())
	reverse := entry.ReverseRole()
	ui.MutedMsg("  - %s %s from %s", reverse, res.DisplayName(), res.Backend())
	if undoShowPlan {
		return nil
	}
	if err := confirm("Proceed?"); err != nil {
		return err
	}

	var tx *transaction.Transaction
	switch reverse {
	case transaction.RoleRemove.String():
		if !res.IsInstalled() {
			return fmt.Errorf("%w: %s is not installed", ErrNothingToDo, res.DisplayName())
		}
		tx, err = c.Remove(res)
	default:
		if res.IsInstalled() {
			return fmt.Errorf("%w: %s is already installed", ErrNothingToDo, res.DisplayName())
		}
		tx, err = c.Install(res, transaction.Addons{})
	}
	if err != nil {
		return err
	}
	return await(ctx, []*transaction.Transaction{tx})
}

// undoTarget returns the entry named by --id, or the most recent reversible one.
func undoTarget(store *history.Store) (*history.Entry, error) {
	if undoID == "" {
		entry, err := store.LastUndoable()
		if errors.Is(err, history.ErrNotFound) {
			return nil, ErrNothingToUndo
		}
		return entry, err
	}
	entry, err := store.Get(undoID)
	if err != nil {
		return nil, err
	}
	if !entry.CanUndo() {
		return nil, fmt.Errorf("%w: %s %s cannot be undone", ErrNothingToUndo, entry.Role, entry.DisplayName)
	}
	return entry, nil
}
