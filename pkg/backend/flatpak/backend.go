package flatpak

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"discover/internal/executor"
	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/stream"
)

// Name is the backend name and locator scheme.
const Name = "flatpak"

// Options configures the flatpak backend.
type Options struct {
	// RuntimeDeferrals is how many refreshes an app waits for its runtime to show up before it is
	// sized on its own.
	RuntimeDeferrals int
	// Watch reconciles installed apps when the exported desktop files change.
	Watch bool
	// Debounce delays reconciliation after a burst of file events.
	Debounce time.Duration
}

// DefaultOptions returns the defaults used when the configuration is silent.
func DefaultOptions() Options {
	return Options{RuntimeDeferrals: 3, Watch: true, Debounce: 500 * time.Millisecond}
}

// Backend aggregates the system and user flatpak installations.
type Backend struct {
	*backend.Base

	installs []Installation
	opts     Options

	refreshMu sync.Mutex

	mu        sync.Mutex
	deferrals map[string]int
}

var (
	_ backend.Backend        = (*Backend)(nil)
	_ backend.SourcesBackend = (*Backend)(nil)
)

// New creates the backend over already opened installations. With none it reports a setup failure.
func New(logger *zap.Logger, installs []Installation, opts Options) *Backend {
	if opts.RuntimeDeferrals < 0 {
		opts.RuntimeDeferrals = 0
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultOptions().Debounce
	}
	b := &Backend{
		Base:      backend.NewBase(Name, "Flatpak", logger),
		installs:  installs,
		opts:      opts,
		deferrals: make(map[string]int),
	}
	if len(installs) == 0 {
		b.FailSetup(errors.New("no flatpak installation available"))
		return b
	}
	if opts.Watch {
		go b.watch(b.Loop.Context())
	}
	return b
}

// Open opens the installations named in scopes ("system", "user") through the flatpak tool.
// paths optionally overrides the root of a scope.
func Open(ctx context.Context, logger *zap.Logger, exec *executor.Executor, scopes []string, paths map[string]string, opts Options) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	var installs []Installation
	var errs []error
	for _, name := range scopes {
		scope, err := resource.ParseScope(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		inst, err := OpenInstallation(ctx, exec, scope, paths[name])
		if err != nil {
			logger.Warn("flatpak installation unavailable", zap.String("scope", name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		installs = append(installs, inst)
	}
	b := New(logger, installs, opts)
	if len(installs) == 0 && len(errs) > 0 {
		b.FailSetup(errors.Join(errs...))
	}
	return b
}

func (b *Backend) installFor(scope resource.Scope) Installation {
	for _, inst := range b.installs {
		if scopeOf(inst) == scope {
			return inst
		}
	}
	return nil
}

// bind ties ctx to the backend lifetime so Close cancels native calls.
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

// Search matches applications by name and summary. Runtimes are never returned.
func (b *Backend) Search(_ context.Context, f backend.Filters) *stream.Stream {
	return b.SearchTable(f, func(r *resource.Resource) bool {
		return r.Kind() == resource.KindApp
	})
}

// FindByLocator resolves flatpak:// locators.
func (b *Backend) FindByLocator(_ context.Context, loc resource.Locator) *stream.Stream {
	return b.FindInTable(loc)
}

// MessageActions offers a manual update check.
func (b *Backend) MessageActions() []backend.Action {
	return []backend.Action{{
		Name:     "check-updates",
		Text:     "Check for Updates",
		Shortcut: "Ctrl+R",
		Run: func(ctx context.Context) error {
			<-b.CheckForUpdates(ctx)
			return ctx.Err()
		},
	}}
}

// Sources lists the remotes of every installation.
func (b *Backend) Sources(ctx context.Context) ([]backend.Source, error) {
	var out []backend.Source
	for _, inst := range b.installs {
		remotes, err := inst.ListRemotes(ctx)
		if err != nil {
			return nil, fmt.Errorf("list remotes: %w", err)
		}
		for _, r := range remotes {
			out = append(out, backend.Source{
				Backend: Name,
				Name:    r.Name,
				Title:   r.Title,
				URL:     r.URL,
				Scope:   scopeOf(inst).String(),
				Enabled: !r.Disabled,
			})
		}
	}
	return out, nil
}

// SetSourceEnabled enables or disables the remote called name in every installation that has it.
func (b *Backend) SetSourceEnabled(ctx context.Context, name string, enabled bool) error {
	found := false
	for _, inst := range b.installs {
		remotes, err := inst.ListRemotes(ctx)
		if err != nil {
			return fmt.Errorf("list remotes: %w", err)
		}
		for _, r := range remotes {
			if r.Name != name {
				continue
			}
			found = true
			if err := inst.SetRemoteEnabled(ctx, name, enabled); err != nil {
				return fmt.Errorf("remote %s: %w", name, err)
			}
		}
	}
	if !found {
		return fmt.Errorf("%w: remote %s", backend.ErrUnknownResource, name)
	}
	return nil
}
