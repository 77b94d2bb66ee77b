package backend

import (
	"context"
	"errors"

	"discover/pkg/resource"
)

// Filters narrows a search.
type Filters struct {
	Search        string
	Kind          *resource.Kind
	InstalledOnly bool
	Upgradeable   bool
}

// EventKind is the kind of a backend event.
type EventKind int

const (
	// EventFetchingChanged is published when a refresh starts or ends.
	EventFetchingChanged EventKind = iota
	// EventUpdatesChanged is published when the update count changes.
	EventUpdatesChanged
	// EventResourcesChanged is published when resources were added, removed or rekeyed.
	EventResourcesChanged
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventFetchingChanged:
		return "fetching"
	case EventUpdatesChanged:
		return "updates"
	}
	return "resources"
}

// Event is a backend-level notification.
type Event struct {
	Backend  string
	Kind     EventKind
	Fetching bool
	Updates  int
}

// Action is a user-invocable command offered by a backend.
type Action struct {
	Name     string
	Text     string
	Shortcut string
	Run      func(ctx context.Context) error
}

// Rating is the aggregated score of a resource.
type Rating struct {
	Average float64 `json:"average" yaml:"average"`
	Count   int     `json:"count" yaml:"count"`
}

// Review is one user review.
type Review struct {
	Author  string `json:"author" yaml:"author"`
	Summary string `json:"summary" yaml:"summary"`
	Text    string `json:"text,omitempty" yaml:"text,omitempty"`
	Rating  int    `json:"rating" yaml:"rating"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Reviews is the rating and review service of a technology.
type Reviews interface {
	Rating(ctx context.Context, res *resource.Resource) (Rating, error)
	Reviews(ctx context.Context, res *resource.Resource) ([]Review, error)
}

// NoReviews is used by technologies without a review service.
type NoReviews struct{}

// Rating always returns an empty rating.
func (NoReviews) Rating(context.Context, *resource.Resource) (Rating, error) {
	return Rating{}, nil
}

// Reviews always returns ErrUnsupported.
func (NoReviews) Reviews(context.Context, *resource.Resource) ([]Review, error) {
	return nil, ErrUnsupported
}

var (
	// ErrSetup is wrapped by setup failures. The backend is unusable but others keep working.
	ErrSetup = errors.New("backend setup failed")
	// ErrUnknownResource is returned for resources not owned by the backend.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrBusy is returned when the backend cannot accept work, e.g. after Close.
	ErrBusy = errors.New("backend busy")
	// ErrNotInstalled is returned when removing or updating a resource that is not installed.
	ErrNotInstalled = errors.New("resource is not installed")
	// ErrAlreadyInstalled is returned when installing an installed resource.
	ErrAlreadyInstalled = errors.New("resource is already installed")
	// ErrUnsupported is returned for operations a technology does not offer.
	ErrUnsupported = errors.New("operation not supported")
)
