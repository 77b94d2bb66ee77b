// Package native adapts the distribution package manager (apt, dnf or pacman) to the backend
// contract by driving its command-line tools.
package native

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Package is one package as reported by a tool. Sizes are in bytes; zero means unknown.
type Package struct {
	Name      string
	Version   string
	Arch      string
	Repo      string
	Summary   string
	Installed bool
	Size      uint64
}

// Tool is the command-line surface of one package manager. Mutating methods stream the tool's
// output lines to onLine.
type Tool interface {
	Name() string
	DisplayName() string
	Binary() string

	ListInstalled(ctx context.Context) ([]Package, error)
	ListUpgradable(ctx context.Context) ([]Package, error)
	Search(ctx context.Context, query string, onPackage func(Package)) error
	Info(ctx context.Context, name string) (*Package, error)
	IsInstalled(ctx context.Context, name string) (bool, error)

	Install(ctx context.Context, names []string, onLine func(string)) error
	Remove(ctx context.Context, names []string, onLine func(string)) error
	Upgrade(ctx context.Context, names []string, onLine func(string)) error
	Refresh(ctx context.Context) error
}

// Runner is the part of the executor the tools use.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
	Lines(ctx context.Context, onLine func(string), name string, args ...string) error
	RunSudo(ctx context.Context, onLine func(string), name string, args ...string) error
}

// baseTool carries what every tool shares.
type baseTool struct {
	name        string
	displayName string
	binary      string
	run         Runner
}

func (b *baseTool) Name() string        { return b.name }
func (b *baseTool) DisplayName() string { return b.displayName }
func (b *baseTool) Binary() string      { return b.binary }

// NewTool returns the tool called name ("apt", "dnf" or "pacman").
func NewTool(name string, run Runner) (Tool, error) {
	switch name {
	case "apt":
		return NewAPT(run), nil
	case "dnf":
		return NewDNF(run), nil
	case "pacman":
		return NewPacman(run), nil
	}
	return nil, fmt.Errorf("unsupported package tool %q", name)
}

// parseSize parses human-readable sizes such as "12.5 MiB" or "3.4 M".
func parseSize(s string) uint64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return n
}

// capture records every line while forwarding it.
func capture(onLine func(string)) (func(string), *strings.Builder) {
	var sb strings.Builder
	return func(line string) {
		sb.WriteString(line)
		sb.WriteByte('\n')
		if onLine != nil {
			onLine(line)
		}
	}, &sb
}
