package cli

import (
	"os"

	"github.com/mattn/go-isatty"

	"discover/internal/ui"
)

// interactive reports whether prompts and spinners can be shown.
func interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// structured reports whether the command should print JSON or YAML instead of text.
func structured() bool {
	return ui.Structured(cfg.Output.Format)
}

// withProgress runs fn behind a spinner when the output is a terminal and the format is text.
func withProgress(message string, fn func() error) error {
	if structured() || !interactive() {
		return fn()
	}
	sp := ui.NewSpinner(message)
	sp.Start()
	err := fn()
	sp.Stop()
	return err
}

// confirm asks before changing the system unless -y or --dry-run was given. Without a terminal
// it refuses rather than blocking on a prompt nobody sees.
func confirm(prompt string) error {
	if cfg.General.AutoConfirm || cfg.General.DryRun {
		return nil
	}
	if !interactive() {
		return ErrAborted
	}
	ok, err := ui.Confirm(prompt, true)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}

// emit prints v in the structured format chosen with --output.
func emit(v any) error {
	return ui.Encode(ui.Out, cfg.Output.Format, v)
}
