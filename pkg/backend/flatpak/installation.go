// Package flatpak adapts Flatpak installations (system and per-user) to the backend contract.
package flatpak

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"discover/pkg/resource"
)

// ErrNotInstalled is returned by Installation.InstalledRef when the ref is not deployed.
var ErrNotInstalled = errors.New("ref not installed")

// Ref is a flatpak reference: kind/name/arch/branch.
type Ref struct {
	Kind   resource.Kind
	Name   string
	Arch   string
	Branch string
}

// ParseRef parses "app/org.example.Foo/x86_64/stable".
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 4 || parts[1] == "" {
		return Ref{}, fmt.Errorf("invalid flatpak ref %q", s)
	}
	var kind resource.Kind
	switch parts[0] {
	case "app":
		kind = resource.KindApp
	case "runtime":
		kind = resource.KindRuntime
	default:
		return Ref{}, fmt.Errorf("invalid flatpak ref kind %q", parts[0])
	}
	return Ref{Kind: kind, Name: parts[1], Arch: parts[2], Branch: parts[3]}, nil
}

// String renders the ref.
func (r Ref) String() string {
	return strings.Join([]string{r.Kind.String(), r.Name, r.Arch, r.Branch}, "/")
}

// refFor builds the ref of a resource from what is known about it.
func refFor(res *resource.Resource) Ref {
	return Ref{Kind: res.Kind(), Name: res.Name(), Arch: res.Arch(), Branch: res.Branch()}
}

// Remote is a configured remote of an installation.
type Remote struct {
	Name     string
	Title    string
	URL      string
	Disabled bool
	// AppstreamDir holds appstream.xml.gz and the icons of the remote.
	AppstreamDir string
}

// InstalledRef is a deployed ref.
type InstalledRef struct {
	Ref
	Origin        string
	Commit        string
	Version       string
	InstalledSize uint64
}

// Phase is the stage a native operation reports progress for.
type Phase int

const (
	PhaseDownloading Phase = iota
	PhaseCommitting
)

// ProgressFunc receives native progress updates.
type ProgressFunc func(phase Phase, percent int)

// Installation is one flatpak installation root. Calls may block on disk or network and honour ctx.
type Installation interface {
	IsUser() bool
	Path() string

	ListRemotes(ctx context.Context) ([]Remote, error)
	SetRemoteEnabled(ctx context.Context, name string, enabled bool) error

	ListInstalledRefs(ctx context.Context, kind resource.Kind) ([]InstalledRef, error)
	InstalledRef(ctx context.Context, ref Ref) (*InstalledRef, error)
	ListRefsForUpdate(ctx context.Context) ([]InstalledRef, error)

	FetchRemoteMetadata(ctx context.Context, remote string, ref Ref) ([]byte, error)
	FetchRemoteSize(ctx context.Context, remote string, ref Ref) (download, installed uint64, err error)

	Install(ctx context.Context, remote string, ref Ref, progress ProgressFunc) error
	Update(ctx context.Context, ref Ref, progress ProgressFunc) error
	Uninstall(ctx context.Context, ref Ref, progress ProgressFunc) error
}

func scopeOf(inst Installation) resource.Scope {
	if inst.IsUser() {
		return resource.ScopeUser
	}
	return resource.ScopeSystem
}
