package native

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"discover/internal/executor"
	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/stream"
)

// Name is the backend name and locator scheme.
const Name = "native"

// Backend exposes the packages of the distribution's own package manager. Resources are keyed by
// package name with the tool name as origin.
type Backend struct {
	*backend.Base

	tool Tool

	refreshMu sync.Mutex

	// loop-owned
	byName     map[string]*resource.Resource
	upgradable map[string]string
}

var _ backend.Backend = (*Backend)(nil)

// New creates the backend over tool. A nil tool reports a setup failure.
func New(logger *zap.Logger, tool Tool) *Backend {
	display := "Distribution packages"
	if tool != nil {
		display = tool.DisplayName()
	}
	b := &Backend{
		Base:       backend.NewBase(Name, display, logger),
		tool:       tool,
		byName:     make(map[string]*resource.Resource),
		upgradable: make(map[string]string),
	}
	if tool == nil {
		b.FailSetup(errors.New("no package tool"))
	}
	return b
}

// Open picks the tool named toolName, or the distribution's own when toolName is empty, and
// creates the backend. A missing tool becomes the setup error of the returned backend.
func Open(logger *zap.Logger, exec *executor.Executor, toolName string) *Backend {
	fail := func(err error) *Backend {
		b := New(logger, nil)
		b.FailSetup(err)
		return b
	}

	if toolName == "" {
		distro, err := DetectDistro()
		if err != nil {
			return fail(err)
		}
		if toolName, err = distro.ToolFor(); err != nil {
			return fail(err)
		}
	}
	tool, err := NewTool(toolName, exec)
	if err != nil {
		return fail(err)
	}
	if _, err := exec.LookPath(tool.Binary()); err != nil {
		return fail(fmt.Errorf("%s not found: %w", tool.Binary(), err))
	}
	return New(logger, tool)
}

func (b *Backend) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.Loop.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// merge records p and returns the resource for its name. A package reported as installed
// promotes the resource; one that is not never demotes it. Runs on the loop.
func (b *Backend) merge(p Package) *resource.Resource {
	if p.Name == "" {
		return nil
	}
	r, ok := b.byName[p.Name]
	if !ok {
		r = resource.New(resource.Identity{
			Scope:   resource.ScopeSystem,
			Backend: Name,
			Origin:  b.tool.Name(),
			Kind:    resource.KindPackage,
			Name:    p.Name,
			Branch:  resource.DefaultBranch,
		})
		existing, _ := b.Table.Add(r)
		r = existing
		b.byName[p.Name] = r
	}
	if p.Arch != "" {
		r.SetArch(p.Arch)
	}
	if p.Summary != "" {
		r.SetComment(p.Summary)
	}

	switch {
	case p.Installed:
		if p.Version != "" {
			r.SetVersion(p.Version)
		}
		if r.State() == resource.StateNone {
			r.SetState(resource.StateInstalled)
		}
		r.SetInstalledSize(p.Size)
		r.SetSize(p.Size)
	case r.State() == resource.StateNone:
		if p.Version != "" {
			r.SetVersion(p.Version)
		}
		r.SetDownloadSize(p.Size)
		r.SetSize(p.Size)
	}
	return r
}

// RefreshCatalog reloads the installed packages and then the pending upgrades.
func (b *Backend) RefreshCatalog(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if !b.IsValid() {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ctx, cancel := b.bind(ctx)
		defer cancel()
		b.reload(ctx)
	}()
	return done
}

func (b *Backend) reload(ctx context.Context) {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	b.AcquireFetching()
	defer b.ReleaseFetching()

	start := time.Now()
	pkgs, err := b.tool.ListInstalled(ctx)
	if err != nil {
		b.Logger.Warn("failed to list installed packages", zap.String("tool", b.tool.Name()), zap.Error(err))
		return
	}

	if err := b.Loop.Do(ctx, func() {
		seen := make(map[string]bool, len(pkgs))
		for _, p := range pkgs {
			p.Installed = true
			b.merge(p)
			seen[p.Name] = true
		}
		for name, r := range b.byName {
			if seen[name] {
				continue
			}
			if s := r.State(); s == resource.StateInstalled || s == resource.StateUpgradeAvailable {
				r.SetState(resource.StateNone)
				r.ResetSize()
			}
		}
	}); err != nil {
		return
	}

	b.fetchUpgradable(ctx)
	_ = b.Loop.Do(ctx, func() { b.Publish(backend.EventResourcesChanged) })
	b.Logger.Debug("installed packages loaded",
		zap.Int("packages", len(pkgs)),
		zap.Duration("took", time.Since(start)))
}

// fetchUpgradable asks the tool for pending upgrades and marks them.
func (b *Backend) fetchUpgradable(ctx context.Context) {
	pkgs, err := b.tool.ListUpgradable(ctx)
	if err != nil {
		b.Logger.Warn("failed to list upgrades", zap.String("tool", b.tool.Name()), zap.Error(err))
		return
	}
	_ = b.Loop.Do(ctx, func() {
		b.upgradable = make(map[string]string, len(pkgs))
		for _, p := range pkgs {
			if r, ok := b.byName[p.Name]; ok && r.IsInstalled() {
				b.upgradable[p.Name] = p.Version
			}
		}
		for name, r := range b.byName {
			_, pending := b.upgradable[name]
			switch {
			case pending && r.State() == resource.StateInstalled:
				r.SetState(resource.StateUpgradeAvailable)
			case !pending && r.State() == resource.StateUpgradeAvailable:
				r.SetState(resource.StateInstalled)
			}
		}
		b.Updater().Recompute()
	})
}

// Search runs the tool's search. Matches are streamed as the tool prints them; cancelling the
// stream kills the tool.
func (b *Backend) Search(ctx context.Context, f backend.Filters) *stream.Stream {
	query := strings.TrimSpace(f.Search)
	if !b.IsValid() || query == "" || f.InstalledOnly || f.Upgradeable {
		return b.SearchTable(f, nil)
	}

	s, sink := stream.Open(ctx, Name+":search")
	go func() {
		qctx, cancel := b.bind(sink.Context())
		defer cancel()

		seen := make(map[*resource.Resource]bool)
		err := b.tool.Search(qctx, query, func(p Package) {
			// installed state comes from the installed list
			p.Installed = false
			var r *resource.Resource
			if b.Loop.Do(qctx, func() { r = b.merge(p) }) != nil || r == nil || seen[r] {
				return
			}
			seen[r] = true
			if matchesTerms(r, f) {
				sink.Send(r)
			}
		})
		if err != nil && qctx.Err() == nil {
			b.Logger.Warn("search failed", zap.String("query", query), zap.Error(err))
		}
		sink.Close(err)
	}()
	return s
}

// matchesTerms reports whether r matches every word of the query. The tools treat words as
// separate terms, so "text editor" finds "editor for text".
func matchesTerms(r *resource.Resource, f backend.Filters) bool {
	for _, term := range strings.Fields(f.Search) {
		g := f
		g.Search = term
		if !backend.Matches(r, g) {
			return false
		}
	}
	return true
}

// FindByLocator resolves native:// locators through the tool's package info.
func (b *Backend) FindByLocator(ctx context.Context, loc resource.Locator) *stream.Stream {
	if loc.Scheme != Name || !b.IsValid() {
		return stream.Empty(Name + ":locator")
	}
	s, sink := stream.Open(ctx, Name+":locator")
	go func() {
		qctx, cancel := b.bind(sink.Context())
		defer cancel()

		p, err := b.tool.Info(qctx, loc.Name)
		if err != nil {
			var te *ToolError
			if errors.As(err, &te) && te.Kind == ErrorNotFound {
				err = nil
			}
			sink.Close(err)
			return
		}
		var found *resource.Resource
		_ = b.Loop.Do(qctx, func() {
			if r := b.merge(*p); r != nil && loc.Matches(r.Identity()) {
				found = r
			}
		})
		if found != nil {
			sink.Send(found)
		}
		sink.Close(nil)
	}()
	return s
}

// MessageActions offers a database refresh.
func (b *Backend) MessageActions() []backend.Action {
	return []backend.Action{{
		Name:     "refresh-database",
		Text:     "Refresh Package Database",
		Shortcut: "Ctrl+R",
		Run: func(ctx context.Context) error {
			<-b.CheckForUpdates(ctx)
			return ctx.Err()
		},
	}}
}

// CheckForUpdates refreshes the tool's database and reloads the pending upgrades.
func (b *Backend) CheckForUpdates(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if !b.IsValid() {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ctx, cancel := b.bind(ctx)
		defer cancel()

		b.AcquireFetching()
		defer b.ReleaseFetching()

		if err := b.tool.Refresh(ctx); err != nil {
			b.Logger.Warn("failed to refresh package database", zap.String("tool", b.tool.Name()), zap.Error(err))
		}
		b.fetchUpgradable(ctx)
	}()
	return done
}
