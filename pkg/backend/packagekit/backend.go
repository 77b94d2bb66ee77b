package packagekit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/stream"
)

// Name is the backend name and locator scheme.
const Name = "packagekit"

// Backend exposes distribution packages known to the PackageKit daemon. Resources are keyed by
// package name; the installed and newest available package ids of each name are tracked on the loop.
type Backend struct {
	*backend.Base

	daemon Daemon

	refreshMu sync.Mutex

	// loop-owned
	byName    map[string]*resource.Resource
	installed map[string]string
	available map[string]string
	updates   map[string]string
}

var _ backend.Backend = (*Backend)(nil)

// New creates the backend over a connected daemon. A nil daemon reports a setup failure.
func New(logger *zap.Logger, daemon Daemon) *Backend {
	b := &Backend{
		Base:      backend.NewBase(Name, "PackageKit", logger),
		daemon:    daemon,
		byName:    make(map[string]*resource.Resource),
		installed: make(map[string]string),
		available: make(map[string]string),
		updates:   make(map[string]string),
	}
	if daemon == nil {
		b.FailSetup(errors.New("packagekit daemon not available"))
	}
	return b
}

// Open connects to the daemon on bus and creates the backend. Connection failures become the
// setup error of the returned backend.
func Open(ctx context.Context, logger *zap.Logger, bus string) *Backend {
	d, err := Connect(ctx, bus)
	if err != nil {
		b := New(logger, nil)
		b.FailSetup(err)
		return b
	}
	return New(logger, d)
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

// mergePackage records p and returns the resource for its name. Runs on the loop.
func (b *Backend) mergePackage(p Package) *resource.Resource {
	pid, err := ParsePackageID(p.ID)
	if err != nil {
		b.Logger.Warn("ignoring malformed package", zap.String("package", p.ID), zap.Error(err))
		return nil
	}

	r, ok := b.byName[pid.Name]
	if !ok {
		r = resource.New(resource.Identity{
			Scope:   resource.ScopeSystem,
			Backend: Name,
			Origin:  pid.Repo(),
			Kind:    resource.KindPackage,
			Name:    pid.Name,
			Branch:  resource.DefaultBranch,
		})
		r.SetArch(pid.Arch)
		existing, _ := b.Table.Add(r)
		r = existing
		b.byName[pid.Name] = r
	}
	if p.Summary != "" {
		r.SetComment(p.Summary)
	}

	switch p.Info {
	case InfoInstalled:
		b.installed[pid.Name] = p.ID
		r.SetVersion(pid.Version)
		if r.State() == resource.StateNone {
			r.SetState(resource.StateInstalled)
		}
	case InfoAvailable:
		b.available[pid.Name] = p.ID
		if r.State() == resource.StateNone {
			r.SetVersion(pid.Version)
		}
	}
	return r
}

// RefreshCatalog reloads the package list and then the pending updates.
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
	var pkgs []Package
	if err := b.daemon.GetPackages(ctx, FilterArch, func(p Package) { pkgs = append(pkgs, p) }); err != nil {
		b.Logger.Warn("failed to load package list", zap.Error(err))
		return
	}

	if err := b.Loop.Do(ctx, func() {
		b.installed = make(map[string]string)
		b.available = make(map[string]string)
		for _, p := range pkgs {
			b.mergePackage(p)
		}
		for name, r := range b.byName {
			if _, ok := b.installed[name]; ok {
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

	b.fetchUpdates(ctx)
	_ = b.Loop.Do(ctx, func() { b.Publish(backend.EventResourcesChanged) })
	b.Logger.Debug("package list loaded",
		zap.Int("packages", len(pkgs)),
		zap.Duration("took", time.Since(start)))
}

// fetchUpdates asks the daemon for pending updates and marks them upgradeable.
func (b *Backend) fetchUpdates(ctx context.Context) {
	var pkgs []Package
	if err := b.daemon.GetUpdates(ctx, FilterArch, func(p Package) { pkgs = append(pkgs, p) }); err != nil {
		b.Logger.Warn("failed to get updates", zap.Error(err))
		return
	}
	_ = b.Loop.Do(ctx, func() {
		b.updates = make(map[string]string)
		for _, p := range pkgs {
			pid, err := ParsePackageID(p.ID)
			if err != nil {
				continue
			}
			if r, ok := b.byName[pid.Name]; ok && r.IsInstalled() {
				b.updates[pid.Name] = p.ID
			}
		}
		for name, r := range b.byName {
			_, pending := b.updates[name]
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

// fetchDetails fills in the sizes of rs. Failures are logged and leave sizes unresolved.
func (b *Backend) fetchDetails(ctx context.Context, rs []*resource.Resource) {
	var ids []string
	_ = b.Loop.Do(ctx, func() {
		for _, r := range rs {
			if r.Size() > 0 {
				continue
			}
			if id := b.packageID(r); id != "" {
				ids = append(ids, id)
			}
		}
	})
	if len(ids) == 0 {
		return
	}

	var details []Details
	if err := b.daemon.GetDetails(ctx, ids, func(d Details) { details = append(details, d) }); err != nil {
		b.Logger.Warn("failed to get package details", zap.Int("packages", len(ids)), zap.Error(err))
		return
	}
	_ = b.Loop.Do(ctx, func() {
		for _, d := range details {
			b.applyDetails(d)
		}
	})
}

// applyDetails runs on the loop.
func (b *Backend) applyDetails(d Details) {
	pid, err := ParsePackageID(d.PackageID)
	if err != nil {
		return
	}
	r, ok := b.byName[pid.Name]
	if !ok {
		return
	}
	if d.Summary != "" {
		r.SetComment(d.Summary)
	}
	if b.installed[pid.Name] == d.PackageID {
		r.SetInstalledSize(d.Size)
	} else {
		r.SetDownloadSize(d.Size)
	}
	r.SetSize(d.Size)
}

// packageID returns the id that describes r best: installed if it is, else the newest available.
// Runs on the loop.
func (b *Backend) packageID(r *resource.Resource) string {
	if id, ok := b.installed[r.Name()]; ok && r.IsInstalled() {
		return id
	}
	return b.available[r.Name()]
}

// Search asks the daemon to match package names, then summaries. Matches are streamed as they
// arrive and each resource is sent once; cancelling the stream cancels the daemon query.
func (b *Backend) Search(ctx context.Context, f backend.Filters) *stream.Stream {
	terms := strings.Fields(f.Search)
	if !b.IsValid() || len(terms) == 0 {
		return b.SearchTable(f, nil)
	}
	local := f
	local.Search = ""

	s, sink := stream.Open(ctx, Name+":search")
	go func() {
		qctx, cancel := b.bind(sink.Context())
		defer cancel()

		var hits []*resource.Resource
		seen := make(map[*resource.Resource]bool)
		onPackage := func(p Package) {
			var r *resource.Resource
			if b.Loop.Do(qctx, func() { r = b.mergePackage(p) }) != nil || r == nil || seen[r] {
				return
			}
			seen[r] = true
			if backend.Matches(r, local) && sink.Send(r) {
				hits = append(hits, r)
			}
		}
		err := b.daemon.SearchNames(qctx, FilterArch, terms, onPackage)
		if err == nil {
			err = b.daemon.SearchDetails(qctx, FilterArch, terms, onPackage)
		}
		if err != nil && qctx.Err() == nil {
			b.Logger.Warn("search failed", zap.Strings("terms", terms), zap.Error(err))
		}
		sink.Close(err)
		if len(hits) > 0 && b.Loop.Context().Err() == nil {
			b.fetchDetails(b.Loop.Context(), hits)
		}
	}()
	return s
}

// FindByLocator resolves packagekit:// locators by asking the daemon for the name.
func (b *Backend) FindByLocator(ctx context.Context, loc resource.Locator) *stream.Stream {
	if loc.Scheme != Name || !b.IsValid() {
		return stream.Empty(Name + ":locator")
	}
	s, sink := stream.Open(ctx, Name+":locator")
	go func() {
		qctx, cancel := b.bind(sink.Context())
		defer cancel()

		var pkgs []Package
		err := b.daemon.Resolve(qctx, FilterNone, []string{loc.Name}, func(p Package) { pkgs = append(pkgs, p) })
		if err != nil {
			sink.Close(err)
			return
		}
		var found *resource.Resource
		_ = b.Loop.Do(qctx, func() {
			for _, p := range pkgs {
				b.mergePackage(p)
			}
			if r, ok := b.byName[loc.Name]; ok && loc.Matches(r.Identity()) {
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

// CheckForUpdates refreshes the daemon cache and reloads the pending updates.
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

		if err := b.daemon.RefreshCache(ctx, false); err != nil {
			b.Logger.Warn("failed to refresh package cache", zap.Error(err))
		}
		b.fetchUpdates(ctx)
	}()
	return done
}

// Close stops the loop and disconnects from the daemon.
func (b *Backend) Close() error {
	err := b.Base.Close()
	if b.daemon != nil {
		if cerr := b.daemon.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close daemon: %w", cerr))
		}
	}
	return err
}
