package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"discover/internal/ui"
	"discover/pkg/catalog"
)

var actionsCmd = &cobra.Command{
	Use:   "actions [name]",
	Short: "List or run backend actions",
	Long: `Backends offer actions such as checking for updates. Without a name
the actions are listed; with one, every backend offering it runs it.

Examples:
  discover actions                        # List actions
  discover actions check-updates          # Run on every backend
  discover actions check-updates -b flatpak`,
	Args: cobra.MaximumNArgs(1),
	RunE: runActions,
}

// actionInfo is the structured form of one action.
type actionInfo struct {
	Backend  string `json:"backend" yaml:"backend"`
	Name     string `json:"name" yaml:"name"`
	Text     string `json:"text" yaml:"text"`
	Shortcut string `json:"shortcut,omitempty" yaml:"shortcut,omitempty"`
}

func runActions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	actions := c.MessageActions()

	if len(args) == 0 {
		infos := make([]actionInfo, 0, len(actions))
		for _, a := range actions {
			infos = append(infos, actionInfo{Backend: a.Backend, Name: a.Name, Text: a.Text, Shortcut: a.Shortcut})
		}
		if structured() {
			return emit(infos)
		}
		t := ui.NewTable(ui.Out, "backend", "action", "description", "shortcut")
		for _, a := range infos {
			t.AddRow(ui.BackendName.Sprint(a.Backend), ui.ResourceName.Sprint(a.Name), a.Text, a.Shortcut)
		}
		t.Render()
		return nil
	}

	var matched []catalog.Action
	for _, a := range actions {
		if a.Name == args[0] {
			matched = append(matched, a)
		}
	}
	if len(matched) == 0 {
		return fmt.Errorf("unknown action %q; run 'discover actions' to list them", args[0])
	}
	for _, a := range matched {
		err := withProgress(fmt.Sprintf("%s (%s)", a.Text, a.Backend), func() error { return a.Run(ctx) })
		if err != nil {
			return fmt.Errorf("%s on %s: %w", a.Name, a.Backend, err)
		}
		if !structured() {
			ui.SuccessMsg("%s (%s)", a.Text, a.Backend)
		}
	}
	return nil
}
