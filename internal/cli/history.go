package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"discover/internal/config"
	"discover/internal/history"
	"discover/internal/ui"
)

var (
	historyLimit     int
	historyOlderThan string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show transaction history",
	Long: `Display the journal of finished transactions.

Examples:
  discover history                      # Show recent history
  discover history -l 20                # Show last 20 transactions
  discover history clear                # Forget everything
  discover history prune --older-than 30d`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every history entry",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old history entries",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 10, "number of entries to show")
	historyPruneCmd.Flags().StringVar(&historyOlderThan, "older-than", "90d", "age of the entries to remove (e.g. 12h, 30d)")
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.AddCommand(historyPruneCmd)
}

// openJournal returns the journal opened with the catalog, or opens it on its own.
func openJournal() (*history.Store, error) {
	if journal != nil {
		return journal, nil
	}
	store, err := history.Open(config.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	journal = store
	return store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openJournal()
	if err != nil {
		return err
	}

	entries, err := store.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if structured() {
		return emit(entries)
	}

	if len(entries) == 0 {
		ui.MutedMsg("No history entries found")
		return nil
	}

	ui.HeaderMsg("Transaction History")

	for i, entry := range entries {
		status := ui.Success.Sprint(entry.Status)
		if !entry.Succeeded() {
			status = ui.Error.Sprint(entry.Status)
		}

		reverseIndicator := ""
		if entry.CanUndo() {
			reverseIndicator = " " + ui.Cyan("[reversible]")
		}

		ui.Println("%2d. %s %s %s [%s] (%s)%s",
			i+1,
			ui.Muted.Sprint(humanize.Time(entry.Timestamp)),
			ui.Bold(entry.Role),
			ui.ResourceName.Sprint(entry.DisplayName),
			ui.Cyan(entry.Backend),
			status,
			reverseIndicator,
		)

		if cfg.Output.Verbose {
			ui.MutedMsg("    %s  %s  %s", entry.FormatTime(), entry.Locator, entry.ID)
		}
		if entry.Error != "" {
			ui.MutedMsg("    Error: %s", entry.Error)
		}
	}

	total, _ := store.Count()
	ui.MutedMsg("\nShowing %d of %d total entries", len(entries), total)

	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	store, err := openJournal()
	if err != nil {
		return err
	}
	if err := confirm("Remove every history entry?"); err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	ui.SuccessMsg("History cleared")
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	age, err := parseAge(historyOlderThan)
	if err != nil {
		return err
	}
	store, err := openJournal()
	if err != nil {
		return err
	}
	n, err := store.Prune(age)
	if err != nil {
		return err
	}
	ui.SuccessMsg("Removed %d %s older than %s", n, plural(n, "entry", "entries"), historyOlderThan)
	return nil
}

// parseAge parses a Go duration, also accepting whole days such as "30d".
func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
