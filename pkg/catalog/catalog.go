// Package catalog aggregates every configured backend into one resource catalog. It fans queries
// out to the backends, routes transactions to the backend that owns the target resource and keeps
// the combined update count.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"discover/pkg/backend"
	"discover/pkg/event"
	"discover/pkg/resource"
	"discover/pkg/stream"
	"discover/pkg/transaction"
)

var (
	// ErrUnknownBackend is returned when no registered backend has the requested name or scheme.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrNoSources is returned when a backend has no listable sources.
	ErrNoSources = errors.New("backend has no sources")
)

// lowestPriority is where backends missing from the priority list sort.
const lowestPriority = 999

// Catalog is the aggregated view over the registered backends. It never writes resource state;
// each backend stays the only writer of its resources.
type Catalog struct {
	logger   *zap.Logger
	listener *transaction.Listener
	priority map[string]int
	updates  *UpdatesModel
	bus      *event.Bus[backend.Event]

	mu       sync.RWMutex
	backends []backend.Backend
	failed   map[string]error
	unsubs   []func()
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithPriority orders backends by name; earlier names come first. Backends not listed keep their
// registration order after the listed ones.
func WithPriority(names ...string) Option {
	return func(c *Catalog) {
		for i, n := range names {
			if _, ok := c.priority[n]; !ok {
				c.priority[n] = i
			}
		}
	}
}

// WithListener submits transactions through l instead of a private listener.
func WithListener(l *transaction.Listener) Option {
	return func(c *Catalog) { c.listener = l }
}

// New creates an empty catalog.
func New(logger *zap.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		logger:   logger.Named("catalog"),
		priority: make(map[string]int),
		bus:      event.New[backend.Event](),
		failed:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.listener == nil {
		c.listener = transaction.NewListener(logger.Named("transactions"))
	}
	c.updates = newUpdatesModel(c.Backends)
	c.unsubs = append(c.unsubs, c.listener.Subscribe(func(ev transaction.Event) {
		if ev.Status.Terminal() {
			c.updates.Recompute()
		}
	}))
	return c
}

// Register adds backends. Backends whose setup failed are logged and left out; the catalog keeps
// working with the rest.
func (c *Catalog) Register(bs ...backend.Backend) {
	c.mu.Lock()
	for _, b := range bs {
		if b == nil {
			continue
		}
		if !b.IsValid() {
			c.failed[b.Name()] = b.SetupError()
			c.logger.Warn("skipping backend", zap.String("backend", b.Name()), zap.Error(b.SetupError()))
			continue
		}
		c.backends = append(c.backends, b)
		c.unsubs = append(c.unsubs, b.Subscribe(c.forward))
	}
	slices.SortStableFunc(c.backends, func(a, b backend.Backend) int {
		return c.rank(a.Name()) - c.rank(b.Name())
	})
	c.mu.Unlock()

	c.updates.Recompute()
}

func (c *Catalog) rank(name string) int {
	if p, ok := c.priority[name]; ok {
		return p
	}
	return lowestPriority
}

func (c *Catalog) forward(ev backend.Event) {
	if ev.Kind == backend.EventUpdatesChanged {
		c.updates.Recompute()
	}
	c.bus.Publish(ev)
}

// Backends returns the usable backends in priority order.
func (c *Catalog) Backends() []backend.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.backends)
}

// Backend returns the registered backend called name.
func (c *Catalog) Backend(name string) (backend.Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// SetupErrors returns why the skipped backends are unusable, by backend name.
func (c *Catalog) SetupErrors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.failed))
	for k, v := range c.failed {
		out[k] = v
	}
	return out
}

// Listener returns the transaction listener.
func (c *Catalog) Listener() *transaction.Listener { return c.listener }

// Updates returns the combined update model.
func (c *Catalog) Updates() *UpdatesModel { return c.updates }

// Subscribe registers h for the events of every backend.
func (c *Catalog) Subscribe(h func(backend.Event)) func() { return c.bus.Subscribe(h) }

// Search asks every backend and concatenates the results in backend order.
func (c *Catalog) Search(ctx context.Context, f backend.Filters) *stream.Stream {
	bs := c.Backends()
	streams := make([]*stream.Stream, 0, len(bs))
	for _, b := range bs {
		streams = append(streams, b.Search(ctx, f))
	}
	return stream.Concat(ctx, "catalog:"+f.Search, streams...)
}

// FindByLocator routes loc to the backend whose name is its scheme.
func (c *Catalog) FindByLocator(ctx context.Context, loc resource.Locator) *stream.Stream {
	b, ok := c.Backend(loc.Scheme)
	if !ok {
		return stream.Failed(loc.String(), fmt.Errorf("%w: %s", ErrUnknownBackend, loc.Scheme))
	}
	return b.FindByLocator(ctx, loc)
}

// ResourceByPackageName returns the first backend's resource with the given name, or nil.
func (c *Catalog) ResourceByPackageName(name string) *resource.Resource {
	for _, b := range c.Backends() {
		if r := b.ResourceByPackageName(name); r != nil {
			return r
		}
	}
	return nil
}

// AllResources concatenates every backend's resources.
func (c *Catalog) AllResources() []*resource.Resource {
	var out []*resource.Resource
	for _, b := range c.Backends() {
		out = append(out, b.AllResources()...)
	}
	return out
}

// UpgradeablePackages concatenates every backend's upgradeable resources.
func (c *Catalog) UpgradeablePackages() []*resource.Resource {
	var out []*resource.Resource
	for _, b := range c.Backends() {
		out = append(out, b.UpgradeablePackages()...)
	}
	return out
}

// UpdatesCount sums every backend's update count.
func (c *Catalog) UpdatesCount() int {
	n := 0
	for _, b := range c.Backends() {
		n += b.UpdatesCount()
	}
	return n
}

// IsFetching reports whether any backend is refreshing.
func (c *Catalog) IsFetching() bool {
	return slices.ContainsFunc(c.Backends(), backend.Backend.IsFetching)
}

// Refresh reloads every backend's catalog concurrently and waits for all of them.
func (c *Catalog) Refresh(ctx context.Context) error {
	return c.fanOut(ctx, func(b backend.Backend) <-chan struct{} { return b.RefreshCatalog(ctx) })
}

// CheckForUpdates asks every backend for updates concurrently and waits for all of them.
func (c *Catalog) CheckForUpdates(ctx context.Context) error {
	err := c.fanOut(ctx, func(b backend.Backend) <-chan struct{} { return b.CheckForUpdates(ctx) })
	c.updates.Recompute()
	return err
}

func (c *Catalog) fanOut(ctx context.Context, start func(backend.Backend) <-chan struct{}) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, b := range c.Backends() {
		g.Go(func() error {
			select {
			case <-start(b):
				return nil
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", b.Name(), ctx.Err())
			}
		})
	}
	return g.Wait()
}

func (c *Catalog) owner(res *resource.Resource) (backend.Backend, error) {
	if res == nil {
		return nil, backend.ErrUnknownResource
	}
	b, ok := c.Backend(res.Backend())
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", backend.ErrUnknownResource, ErrUnknownBackend, res.Backend())
	}
	return b, nil
}

// Install installs res through its owning backend.
func (c *Catalog) Install(res *resource.Resource, addons transaction.Addons) (*transaction.Transaction, error) {
	b, err := c.owner(res)
	if err != nil {
		return nil, err
	}
	return c.listener.Submit(res, func() (*transaction.Transaction, error) { return b.Install(res, addons) })
}

// Remove removes res through its owning backend.
func (c *Catalog) Remove(res *resource.Resource) (*transaction.Transaction, error) {
	b, err := c.owner(res)
	if err != nil {
		return nil, err
	}
	return c.listener.Submit(res, func() (*transaction.Transaction, error) { return b.Remove(res) })
}

// Update upgrades res through its owning backend.
func (c *Catalog) Update(res *resource.Resource) (*transaction.Transaction, error) {
	b, err := c.owner(res)
	if err != nil {
		return nil, err
	}
	return c.listener.Submit(res, func() (*transaction.Transaction, error) { return b.Update(res) })
}

// UpdateAll starts an update for every upgradeable resource. Resources that cannot be updated are
// reported in the joined error; the others still start.
func (c *Catalog) UpdateAll() ([]*transaction.Transaction, error) {
	var (
		txs  []*transaction.Transaction
		errs []error
	)
	for _, r := range c.UpgradeablePackages() {
		tx, err := c.Update(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.UniqueID(), err))
			continue
		}
		txs = append(txs, tx)
	}
	return txs, errors.Join(errs...)
}

// Reviews returns the review service of the backend owning res.
func (c *Catalog) Reviews(res *resource.Resource) backend.Reviews {
	if b, err := c.owner(res); err == nil {
		return b.Reviews()
	}
	return backend.NoReviews{}
}

// Action is a backend action labelled with the backend offering it.
type Action struct {
	Backend string
	backend.Action
}

// MessageActions concatenates every backend's actions.
func (c *Catalog) MessageActions() []Action {
	var out []Action
	for _, b := range c.Backends() {
		for _, a := range b.MessageActions() {
			out = append(out, Action{Backend: b.Name(), Action: a})
		}
	}
	return out
}

// Sources lists the sources of every backend that has them. A backend that fails to list is
// logged and skipped.
func (c *Catalog) Sources(ctx context.Context) []backend.Source {
	var out []backend.Source
	for _, b := range c.Backends() {
		sb, ok := b.(backend.SourcesBackend)
		if !ok {
			continue
		}
		srcs, err := sb.Sources(ctx)
		if err != nil {
			c.logger.Warn("failed to list sources", zap.String("backend", b.Name()), zap.Error(err))
			continue
		}
		out = append(out, srcs...)
	}
	return out
}

// SetSourceEnabled enables or disables a source of the named backend.
func (c *Catalog) SetSourceEnabled(ctx context.Context, backendName, source string, enabled bool) error {
	b, ok := c.Backend(backendName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, backendName)
	}
	sb, ok := b.(backend.SourcesBackend)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSources, backendName)
	}
	return sb.SetSourceEnabled(ctx, source, enabled)
}

// Close cancels live transactions and closes every backend.
func (c *Catalog) Close() error {
	c.listener.CancelAll()

	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	bs := c.backends
	c.backends = nil
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	var errs []error
	for _, b := range bs {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
