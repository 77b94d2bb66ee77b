package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"discover/internal/ui"
	"discover/pkg/backend"
	"discover/pkg/catalog"
	"discover/pkg/resource"
)

// maxSuggestions caps the "did you mean" list.
const maxSuggestions = 3

// matches returns the resources arg names: a locator, or a package name, display name or
// appstream id compared case-insensitively. The short name "kate" also matches "org.kde.kate".
// Results keep catalog order, so the preferred backend comes first.
func matches(ctx context.Context, c *catalog.Catalog, arg string) ([]*resource.Resource, error) {
	if strings.Contains(arg, "://") {
		loc, err := resource.ParseLocator(arg)
		if err != nil {
			return nil, err
		}
		return c.FindByLocator(ctx, loc).Collect()
	}

	arg = cfg.ResolveAlias(arg)
	found, err := c.Search(ctx, backend.Filters{Search: arg}).Collect()
	if err != nil {
		return nil, err
	}
	var out []*resource.Resource
	for _, r := range found {
		if namedBy(r, arg) {
			out = append(out, r)
		}
	}
	return out, nil
}

func namedBy(r *resource.Resource, arg string) bool {
	name := r.Name()
	if strings.EqualFold(name, arg) ||
		strings.EqualFold(r.DisplayName(), arg) ||
		strings.EqualFold(r.AppstreamID(), arg) ||
		strings.EqualFold(strings.TrimSuffix(r.AppstreamID(), ".desktop"), arg) {
		return true
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return strings.EqualFold(name[i+1:], arg)
	}
	return false
}

// resolve picks the one resource arg refers to among those accepted by keep. Several candidates
// are offered in a menu on a terminal; otherwise the first in backend priority wins.
func resolve(ctx context.Context, c *catalog.Catalog, arg string, keep func(*resource.Resource) bool) (*resource.Resource, error) {
	found, err := matches(ctx, c, arg)
	if err != nil {
		return nil, err
	}
	var candidates []*resource.Resource
	for _, r := range found {
		if keep == nil || keep(r) {
			candidates = append(candidates, r)
		}
	}

	switch {
	case len(candidates) == 0 && len(found) > 0:
		return nil, fmt.Errorf("%w: %s is %s", ErrNothingToDo, arg, describeState(found[0].State()))
	case len(candidates) == 0:
		return nil, notFound(c, arg)
	case len(candidates) == 1 || cfg.General.AutoConfirm || !interactive() || structured():
		return candidates[0], nil
	}

	picked, err := ui.SelectResource(resource.Snapshots(candidates), fmt.Sprintf("Several resources match %q", arg))
	if err != nil {
		return nil, err
	}
	for _, r := range candidates {
		if r.UniqueID() == picked.UniqueID {
			return r, nil
		}
	}
	return nil, notFound(c, arg)
}

// notFound builds ErrResourceNotFound with the closest known names.
func notFound(c *catalog.Catalog, arg string) error {
	if s := suggestions(c.AllResources(), arg); len(s) > 0 {
		return fmt.Errorf("%w: %s (did you mean %s?)", ErrResourceNotFound, arg, strings.Join(s, ", "))
	}
	return fmt.Errorf("%w: %s", ErrResourceNotFound, arg)
}

type packageNames []*resource.Resource

func (p packageNames) String(i int) string { return p[i].Name() }
func (p packageNames) Len() int            { return len(p) }

// suggestions returns up to maxSuggestions distinct names fuzzily close to arg.
func suggestions(rs []*resource.Resource, arg string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range fuzzy.FindFrom(arg, packageNames(rs)) {
		name := rs[m.Index].Name()
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

// Predicates for resolve.
func installable(r *resource.Resource) bool { return r.State() == resource.StateNone }
func removable(r *resource.Resource) bool   { return r.IsInstalled() }
func upgradeable(r *resource.Resource) bool {
	return r.State() == resource.StateUpgradeAvailable
}

func describeState(s resource.State) string {
	switch s {
	case resource.StateNone:
		return "not installed"
	case resource.StateUpgradeAvailable:
		return "installed"
	case resource.StateInstalling, resource.StateRemoving:
		return "busy"
	}
	return s.String()
}
