// Package resource defines the installable unit shared by every backend: its composite identity,
// its locator form and the mutable record each backend owns.
package resource

import (
	"errors"
	"fmt"
	"strings"
)

// Scope tells whether a resource is managed per-system or per-user.
type Scope int

const (
	ScopeSystem Scope = iota
	ScopeUser
)

// String returns the identity segment for the scope.
func (s Scope) String() string {
	if s == ScopeUser {
		return "user"
	}
	return "system"
}

// ParseScope parses "system" or "user".
func ParseScope(s string) (Scope, error) {
	switch s {
	case "system":
		return ScopeSystem, nil
	case "user":
		return ScopeUser, nil
	}
	return ScopeSystem, fmt.Errorf("unknown scope %q", s)
}

// Kind is the category of an installable unit.
type Kind int

const (
	// KindApp is a desktop application.
	KindApp Kind = iota
	// KindRuntime is a shared base that applications run on.
	KindRuntime
	// KindPackage is a distribution package that is neither.
	KindPackage
)

// String returns the identity segment for the kind.
func (k Kind) String() string {
	switch k {
	case KindRuntime:
		return "runtime"
	case KindPackage:
		return "package"
	}
	return "app"
}

// ParseKind parses "app", "runtime" or "package".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "app":
		return KindApp, nil
	case "runtime":
		return KindRuntime, nil
	case "package":
		return KindPackage, nil
	}
	return KindApp, fmt.Errorf("unknown resource kind %q", s)
}

// DefaultBranch is used by technologies without a branch concept.
const DefaultBranch = "default"

// Identity is the composite key of a resource. Two resources with equal identities are the same record.
type Identity struct {
	Scope   Scope
	Backend string
	Origin  string
	Kind    Kind
	Name    string
	Branch  string
}

// String renders the unique id: scope/backend/origin/kind/name/branch.
func (id Identity) String() string {
	return strings.Join([]string{
		id.Scope.String(), id.Backend, id.Origin, id.Kind.String(), id.Name, id.Branch,
	}, "/")
}

// URL renders the addressable locator form: backend://scope/origin/kind/name/branch.
func (id Identity) URL() string {
	return id.Backend + "://" + strings.Join([]string{
		id.Scope.String(), id.Origin, id.Kind.String(), id.Name, id.Branch,
	}, "/")
}

// Complete reports whether origin and branch are known. Entries discovered only from a desktop
// file may lack both until matching remote metadata shows up.
func (id Identity) Complete() bool {
	return id.Origin != "" && id.Branch != ""
}

// ParseIdentity parses the unique id form produced by String.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 6 {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	scope, err := ParseScope(parts[0])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	kind, err := ParseKind(parts[3])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if parts[1] == "" || parts[4] == "" {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return Identity{
		Scope:   scope,
		Backend: parts[1],
		Origin:  parts[2],
		Kind:    kind,
		Name:    parts[4],
		Branch:  parts[5],
	}, nil
}

var (
	// ErrInvalidIdentity is returned when a unique id cannot be parsed.
	ErrInvalidIdentity = errors.New("invalid resource identity")
	// ErrInvalidLocator is returned when a locator cannot be parsed.
	ErrInvalidLocator = errors.New("invalid resource locator")
)

// Locator addresses a resource from outside the process. It is either a full identity
// (flatpak://system/flathub/app/org.example.Foo/stable) or a bare name (flatpak://org.example.Foo).
type Locator struct {
	Scheme   string
	Name     string
	Identity *Identity
}

// ParseLocator parses a scheme-qualified locator.
func ParseLocator(raw string) (Locator, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" || rest == "" {
		return Locator{}, fmt.Errorf("%w: %q", ErrInvalidLocator, raw)
	}
	rest = strings.Trim(rest, "/")
	parts := strings.Split(rest, "/")

	switch len(parts) {
	case 1:
		return Locator{Scheme: scheme, Name: parts[0]}, nil
	case 5:
		id, err := ParseIdentity(strings.Join([]string{parts[0], scheme, parts[1], parts[2], parts[3], parts[4]}, "/"))
		if err != nil {
			return Locator{}, fmt.Errorf("%w: %q", ErrInvalidLocator, raw)
		}
		return Locator{Scheme: scheme, Name: id.Name, Identity: &id}, nil
	}
	return Locator{}, fmt.Errorf("%w: %q", ErrInvalidLocator, raw)
}

// String renders the locator back to its textual form.
func (l Locator) String() string {
	if l.Identity != nil {
		return l.Identity.URL()
	}
	return l.Scheme + "://" + l.Name
}

// Matches reports whether the locator addresses the given identity.
func (l Locator) Matches(id Identity) bool {
	if l.Identity != nil {
		return *l.Identity == id
	}
	return id.Name == l.Name
}
