package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"discover/pkg/event"
	"discover/pkg/resource"
	"discover/pkg/stream"
)

// Base provides the plumbing shared by every adapter: identification, setup state, the fetching
// counter, the resource table, the updater, the serial loop and the event bus.
type Base struct {
	name        string
	displayName string

	Logger *zap.Logger
	Loop   *Loop
	Table  *Table

	updater  *Updater
	bus      *event.Bus[Event]
	setupErr error

	mu       sync.Mutex
	fetching int
}

// NewBase creates the shared state of an adapter and starts its loop.
func NewBase(name, displayName string, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Base{
		name:        name,
		displayName: displayName,
		Logger:      logger.Named(name),
		Loop:        NewLoop(context.Background()),
		Table:       NewTable(),
		bus:         event.New[Event](),
	}
	b.updater = NewUpdater(b.Table, func(n int) {
		b.bus.Publish(Event{Backend: b.name, Kind: EventUpdatesChanged, Updates: n})
	})
	return b
}

// Name returns the short identifier.
func (b *Base) Name() string { return b.name }

// DisplayName returns the human-readable name.
func (b *Base) DisplayName() string { return b.displayName }

// IsValid returns false after a setup failure.
func (b *Base) IsValid() bool { return b.setupErr == nil }

// SetupError returns the setup failure, or nil.
func (b *Base) SetupError() error { return b.setupErr }

// FailSetup marks the backend unusable. Call it only from the constructor.
func (b *Base) FailSetup(err error) {
	b.setupErr = fmt.Errorf("%w: %s: %w", ErrSetup, b.name, err)
	b.Logger.Warn("backend unavailable", zap.Error(err))
}

// IsFetching reports whether at least one refresh is running.
func (b *Base) IsFetching() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetching > 0
}

// AcquireFetching marks the start of a refresh. Calls nest; only the outermost one notifies.
func (b *Base) AcquireFetching() {
	b.mu.Lock()
	b.fetching++
	first := b.fetching == 1
	b.mu.Unlock()

	if first {
		b.bus.Publish(Event{Backend: b.name, Kind: EventFetchingChanged, Fetching: true})
	}
}

// ReleaseFetching marks the end of a refresh started with AcquireFetching.
func (b *Base) ReleaseFetching() {
	b.mu.Lock()
	if b.fetching == 0 {
		b.mu.Unlock()
		b.Logger.DPanic("unbalanced ReleaseFetching")
		return
	}
	b.fetching--
	last := b.fetching == 0
	b.mu.Unlock()

	if last {
		b.bus.Publish(Event{Backend: b.name, Kind: EventFetchingChanged, Fetching: false})
	}
}

// Updater returns the update tracker.
func (b *Base) Updater() *Updater { return b.updater }

// UpdatesCount returns the number of upgradeable resources.
func (b *Base) UpdatesCount() int { return b.updater.Count() }

// UpgradeablePackages returns the upgradeable resources.
func (b *Base) UpgradeablePackages() []*resource.Resource { return b.updater.List() }

// AllResources returns every resource in discovery order.
func (b *Base) AllResources() []*resource.Resource { return b.Table.Snapshot() }

// ResourceByPackageName returns the first resource named name, or nil.
func (b *Base) ResourceByPackageName(name string) *resource.Resource {
	return b.Table.Find(func(r *resource.Resource) bool { return r.Name() == name })
}

// Reviews returns NoReviews. Adapters with a review service override it.
func (b *Base) Reviews() Reviews { return NoReviews{} }

// Subscribe registers h for backend events.
func (b *Base) Subscribe(h func(Event)) func() { return b.bus.Subscribe(h) }

// Publish sends a backend event.
func (b *Base) Publish(kind EventKind) {
	b.bus.Publish(Event{Backend: b.name, Kind: kind, Fetching: b.IsFetching(), Updates: b.updater.Count()})
}

// Owns reports whether res belongs to this backend's table.
func (b *Base) Owns(res *resource.Resource) bool {
	if res == nil || res.Backend() != b.name {
		return false
	}
	cur, ok := b.Table.Get(res.UniqueID())
	return ok && cur == res
}

// SearchTable answers a search from the current table snapshot.
func (b *Base) SearchTable(f Filters, match func(*resource.Resource) bool) *stream.Stream {
	label := b.name + ":" + f.Search
	return stream.FromSlice(label, b.Table.Filter(func(r *resource.Resource) bool {
		if match != nil && !match(r) {
			return false
		}
		return Matches(r, f)
	}))
}

// FindInTable answers a locator lookup from the current table snapshot.
func (b *Base) FindInTable(loc resource.Locator) *stream.Stream {
	label := loc.String()
	if loc.Scheme != b.name {
		return stream.Empty(label)
	}
	r := b.Table.Find(func(r *resource.Resource) bool { return loc.Matches(r.Identity()) })
	if r == nil {
		return stream.Empty(label)
	}
	return stream.FromSlice(label, []*resource.Resource{r})
}

// Close stops the loop, cancelling outstanding native calls.
func (b *Base) Close() error {
	b.Loop.Close()
	return nil
}

// Matches reports whether r satisfies f. Text matching is case-insensitive on name, display name and
// comment.
func Matches(r *resource.Resource, f Filters) bool {
	if f.Kind != nil && r.Kind() != *f.Kind {
		return false
	}
	if f.InstalledOnly && !r.IsInstalled() {
		return false
	}
	if f.Upgradeable && r.State() != resource.StateUpgradeAvailable {
		return false
	}
	if f.Search == "" {
		return true
	}

	fold := cases.Fold()
	needle := fold.String(f.Search)
	for _, hay := range []string{r.Name(), r.DisplayName(), r.Comment()} {
		if strings.Contains(fold.String(hay), needle) {
			return true
		}
	}
	return false
}
