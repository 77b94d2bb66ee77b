// Package backend defines the uniform contract every package technology adapter implements, and the
// building blocks adapters share: the per-backend serial loop, the resource table and the updater.
package backend

import (
	"context"

	"discover/pkg/resource"
	"discover/pkg/stream"
	"discover/pkg/transaction"
)

// Backend is the translator between one native package technology and the uniform resource and
// transaction model. A backend exclusively owns the resources it creates and is their only writer.
type Backend interface {
	// Identification.

	// Name returns the short identifier, also used as the locator scheme (e.g., "flatpak").
	Name() string

	// DisplayName returns a human-readable name.
	DisplayName() string

	// Setup state.

	// IsValid returns false when the native installation could not be set up.
	IsValid() bool

	// SetupError returns why the backend is unusable, or nil.
	SetupError() error

	// Catalog.

	// IsFetching reports whether a catalog refresh is in progress.
	IsFetching() bool

	// RefreshCatalog reloads the catalog asynchronously. The returned channel is closed when done.
	RefreshCatalog(ctx context.Context) <-chan struct{}

	// Search matches resources case-insensitively against name and summary.
	Search(ctx context.Context, f Filters) *stream.Stream

	// FindByLocator returns zero or one resource addressed by loc.
	FindByLocator(ctx context.Context, loc resource.Locator) *stream.Stream

	// ResourceByPackageName returns the first resource with the given technology name, or nil.
	ResourceByPackageName(name string) *resource.Resource

	// AllResources returns every known resource in discovery order.
	AllResources() []*resource.Resource

	// Updates.

	// UpgradeablePackages returns the resources with an upgrade available.
	UpgradeablePackages() []*resource.Resource

	// UpdatesCount returns the number of resources with an upgrade available.
	UpdatesCount() int

	// CheckForUpdates asks the native layer for updates. The returned channel is closed when done.
	CheckForUpdates(ctx context.Context) <-chan struct{}

	// Updater returns the backend's update tracker.
	Updater() *Updater

	// Transactions. Each returns a live transaction immediately; the work happens asynchronously.

	// Install installs res with the selected add-ons.
	Install(res *resource.Resource, addons transaction.Addons) (*transaction.Transaction, error)

	// Remove uninstalls res.
	Remove(res *resource.Resource) (*transaction.Transaction, error)

	// Update upgrades an installed res.
	Update(res *resource.Resource) (*transaction.Transaction, error)

	// Extras.

	// Reviews returns the rating and review service for this technology.
	Reviews() Reviews

	// MessageActions returns user-invocable commands such as "check for updates".
	MessageActions() []Action

	// Subscribe registers h for backend-level events.
	Subscribe(h func(Event)) func()

	// Close cancels outstanding native calls and stops the backend's loop.
	Close() error
}

// SourcesBackend is implemented by backends whose remotes or repositories can be listed and toggled.
type SourcesBackend interface {
	Sources(ctx context.Context) ([]Source, error)
	SetSourceEnabled(ctx context.Context, name string, enabled bool) error
}

// Source is a remote or repository a backend pulls resources from.
type Source struct {
	Backend string `json:"backend" yaml:"backend"`
	Name    string `json:"name" yaml:"name"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Scope   string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}
