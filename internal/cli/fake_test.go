package cli

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/stream"
	"discover/pkg/transaction"
)

// system is the installed state shared by every fakeBackend opened over it, so changes made by
// one command are seen by the next one, like a real package database.
type system struct {
	mu       sync.Mutex
	display  map[string]string
	states   map[string]resource.State
	sources  []backend.Source
	failNext bool
}

func newSystem() *system {
	return &system{
		display: map[string]string{
			"org.kde.kate":     "Kate",
			"org.gimp.GIMP":    "GIMP",
			"org.mozilla.fire": "Firefox",
		},
		states: map[string]resource.State{
			"org.kde.kate":     resource.StateNone,
			"org.gimp.GIMP":    resource.StateUpgradeAvailable,
			"org.mozilla.fire": resource.StateInstalled,
		},
		sources: []backend.Source{
			{Backend: "fake", Name: "main", Title: "Main", URL: "https://example.org/repo", Enabled: true},
		},
	}
}

func (s *system) state(name string) resource.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[name]
}

// fakeBackend serves the system's resources and applies transactions to it.
type fakeBackend struct {
	*backend.Base
	sys *system
}

var (
	_ backend.Backend        = (*fakeBackend)(nil)
	_ backend.SourcesBackend = (*fakeBackend)(nil)
)

func newFakeBackend(sys *system) *fakeBackend {
	return &fakeBackend{Base: backend.NewBase("fake", "Fake", zap.NewNop()), sys: sys}
}

func (b *fakeBackend) RefreshCatalog(context.Context) <-chan struct{} {
	b.sys.mu.Lock()
	names := make([]string, 0, len(b.sys.states))
	for name := range b.sys.states {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r := resource.New(resource.Identity{
			Scope:   resource.ScopeSystem,
			Backend: b.Name(),
			Origin:  "main",
			Kind:    resource.KindApp,
			Name:    name,
			Branch:  "stable",
		})
		r.SetDisplayName(b.sys.display[name])
		r.SetComment(b.sys.display[name] + " application")
		r.SetVersion("1.0")
		r, _ = b.Table.Add(r)
		r.SetState(b.sys.states[name])
	}
	b.sys.mu.Unlock()

	b.Updater().Recompute()
	done := make(chan struct{})
	close(done)
	return done
}

func (b *fakeBackend) Search(_ context.Context, f backend.Filters) *stream.Stream {
	return b.SearchTable(f, nil)
}

func (b *fakeBackend) FindByLocator(_ context.Context, loc resource.Locator) *stream.Stream {
	return b.FindInTable(loc)
}

func (b *fakeBackend) CheckForUpdates(context.Context) <-chan struct{} {
	b.Updater().Recompute()
	done := make(chan struct{})
	close(done)
	return done
}

func (b *fakeBackend) start(res *resource.Resource, role transaction.Role, addons transaction.Addons) (*transaction.Transaction, error) {
	if !b.Owns(res) {
		return nil, backend.ErrUnknownResource
	}
	tx := transaction.New(b.Loop.Context(), b.Name(), res, role, addons)
	_ = tx.SetStatus(transaction.StatusDownloading)
	tx.SetProgress(50)

	b.Loop.Post(func() {
		b.sys.mu.Lock()
		fail := b.sys.failNext
		b.sys.failNext = false
		b.sys.mu.Unlock()
		if fail {
			_ = tx.Fail(errors.New("disk full"))
			return
		}

		next := resource.StateInstalled
		if role == transaction.RoleRemove {
			next = resource.StateNone
		}
		b.sys.mu.Lock()
		b.sys.states[res.Name()] = next
		b.sys.mu.Unlock()
		res.SetState(next)
		b.Updater().Recompute()
		_ = tx.SetStatus(transaction.StatusCommitting)
		_ = tx.SetStatus(transaction.StatusDone)
	})
	return tx, nil
}

func (b *fakeBackend) Install(res *resource.Resource, addons transaction.Addons) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleInstall, addons)
}

func (b *fakeBackend) Remove(res *resource.Resource) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleRemove, transaction.Addons{})
}

func (b *fakeBackend) Update(res *resource.Resource) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleUpdate, transaction.Addons{})
}

func (b *fakeBackend) MessageActions() []backend.Action {
	return []backend.Action{{
		Name: "check-updates",
		Text: "Check for Updates",
		Run: func(ctx context.Context) error {
			<-b.CheckForUpdates(ctx)
			return nil
		},
	}}
}

func (b *fakeBackend) Sources(context.Context) ([]backend.Source, error) {
	b.sys.mu.Lock()
	defer b.sys.mu.Unlock()
	return slices.Clone(b.sys.sources), nil
}

func (b *fakeBackend) SetSourceEnabled(_ context.Context, name string, enabled bool) error {
	b.sys.mu.Lock()
	defer b.sys.mu.Unlock()
	for i := range b.sys.sources {
		if b.sys.sources[i].Name == name {
			b.sys.sources[i].Enabled = enabled
			return nil
		}
	}
	return backend.ErrUnknownResource
}
