package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/stream"
	"discover/pkg/transaction"
)

// fakeBackend serves a fixed table. Transactions complete when release is closed.
type fakeBackend struct {
	*backend.Base

	refreshes atomic.Int32
	closed    atomic.Bool

	mu       sync.Mutex
	block    chan struct{}
	release  chan struct{}
	upgrades []string
}

var _ backend.Backend = (*fakeBackend)(nil)

func newFakeBackend(name string, apps ...string) *fakeBackend {
	b := &fakeBackend{Base: backend.NewBase(name, name, zap.NewNop())}
	for _, app := range apps {
		b.add(app, resource.StateNone)
	}
	return b
}

func brokenBackend(name string) *fakeBackend {
	b := newFakeBackend(name)
	b.FailSetup(errors.New("no installation"))
	return b
}

func (b *fakeBackend) add(name string, state resource.State) *resource.Resource {
	r := resource.New(resource.Identity{
		Scope:   resource.ScopeSystem,
		Backend: b.Name(),
		Origin:  "repo",
		Kind:    resource.KindApp,
		Name:    name,
		Branch:  "stable",
	})
	r.SetComment(name + " application")
	r.SetState(state)
	r, _ = b.Table.Add(r)
	return r
}

func (b *fakeBackend) RefreshCatalog(context.Context) <-chan struct{} {
	done := make(chan struct{})
	b.mu.Lock()
	block := b.block
	b.mu.Unlock()
	go func() {
		defer close(done)
		b.AcquireFetching()
		defer b.ReleaseFetching()
		if block != nil {
			<-block
		}
		b.refreshes.Add(1)
	}()
	return done
}

func (b *fakeBackend) Search(_ context.Context, f backend.Filters) *stream.Stream {
	return b.SearchTable(f, nil)
}

func (b *fakeBackend) FindByLocator(_ context.Context, loc resource.Locator) *stream.Stream {
	return b.FindInTable(loc)
}

func (b *fakeBackend) CheckForUpdates(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Loop.Do(ctx, func() {
			b.mu.Lock()
			names := b.upgrades
			b.mu.Unlock()
			for _, n := range names {
				if r := b.ResourceByPackageName(n); r != nil && r.State() == resource.StateInstalled {
					r.SetState(resource.StateUpgradeAvailable)
				}
			}
			b.Updater().Recompute()
		})
	}()
	return done
}

func (b *fakeBackend) start(res *resource.Resource, role transaction.Role, addons transaction.Addons) (*transaction.Transaction, error) {
	if !b.Owns(res) {
		return nil, backend.ErrUnknownResource
	}
	tx := transaction.New(b.Loop.Context(), b.Name(), res, role, addons)
	_ = tx.SetStatus(transaction.StatusDownloading)

	b.mu.Lock()
	release := b.release
	b.mu.Unlock()
	go func() {
		if release != nil {
			select {
			case <-release:
			case <-tx.Context().Done():
				return
			}
		}
		b.Loop.Post(func() {
			switch role {
			case transaction.RoleRemove:
				res.SetState(resource.StateNone)
			default:
				res.SetState(resource.StateInstalled)
			}
			b.Updater().Recompute()
			_ = tx.SetStatus(transaction.StatusCommitting)
			_ = tx.SetStatus(transaction.StatusDone)
		})
	}()
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
	return []backend.Action{{Name: "check", Text: "Check for Updates", Run: func(ctx context.Context) error {
		<-b.CheckForUpdates(ctx)
		return nil
	}}}
}

func (b *fakeBackend) Close() error {
	b.closed.Store(true)
	return b.Base.Close()
}

// fakeSourcesBackend also lists remotes.
type fakeSourcesBackend struct {
	*fakeBackend

	mu      sync.Mutex
	sources []backend.Source
}

func (b *fakeSourcesBackend) Sources(context.Context) ([]backend.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Source(nil), b.sources...), nil
}

func (b *fakeSourcesBackend) SetSourceEnabled(_ context.Context, name string, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.sources {
		if b.sources[i].Name == name {
			b.sources[i].Enabled = enabled
			return nil
		}
	}
	return errors.New("no such remote")
}
