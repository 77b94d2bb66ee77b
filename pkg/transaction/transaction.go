// Package transaction models one in-flight install, remove or update operation and the listener that
// keeps the set of live transactions.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"discover/pkg/event"
	"discover/pkg/resource"
)

// Role is what a transaction does to its resource.
type Role int

const (
	RoleInstall Role = iota
	RoleRemove
	RoleUpdate
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleRemove:
		return "remove"
	case RoleUpdate:
		return "update"
	}
	return "install"
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	switch s {
	case "install":
		return RoleInstall, nil
	case "remove":
		return RoleRemove, nil
	case "update":
		return RoleUpdate, nil
	}
	return RoleInstall, fmt.Errorf("unknown transaction role %q", s)
}

// Status is the position of a transaction in its state machine:
// None -> Downloading -> Committing -> Done, with Cancelled reachable from any non-terminal state
// and Failed from Downloading or Committing.
type Status int

const (
	StatusNone Status = iota
	StatusDownloading
	StatusCommitting
	StatusDone
	StatusCancelled
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDownloading:
		return "downloading"
	case StatusCommitting:
		return "committing"
	case StatusDone:
		return "done"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	}
	return "none"
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusFailed
}

// canMove reports whether from -> to is a legal transition. Forward moves may skip a phase
// (a removal has nothing to download) but never go back.
func canMove(from, to Status) bool {
	if from.Terminal() || from == to {
		return false
	}
	switch to {
	case StatusDownloading:
		return from == StatusNone
	case StatusCommitting:
		return from == StatusNone || from == StatusDownloading
	case StatusDone:
		return from == StatusCommitting
	case StatusFailed:
		return from == StatusDownloading || from == StatusCommitting
	case StatusCancelled:
		return true
	}
	return false
}

var (
	// ErrInvalidTransition is returned when a status change would break the state machine.
	ErrInvalidTransition = errors.New("invalid transaction status transition")
	// ErrInProgress is returned when a resource already has a live transaction.
	ErrInProgress = errors.New("a transaction is already in progress for this resource")
	// ErrNotFound is returned when no live transaction has the given id.
	ErrNotFound = errors.New("transaction not found")
	// ErrCancelled is the reason attached to a cancelled transaction.
	ErrCancelled = errors.New("transaction cancelled")
)

// Addons selects optional add-ons to install or remove alongside the main resource.
type Addons struct {
	Install []string
	Remove  []string
}

// Empty reports whether no add-on changes are requested.
func (a Addons) Empty() bool { return len(a.Install) == 0 && len(a.Remove) == 0 }

// Event is published for every status or progress change of a transaction.
type Event struct {
	Transaction *Transaction
	Status      Status
	Progress    int
	Err         error
}

// Transaction is one operation against one resource. Its status is driven by the owning backend.
type Transaction struct {
	id      string
	res     *resource.Resource
	role    Role
	addons  Addons
	backend string
	created time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	bus    *event.Bus[Event]

	mu       sync.Mutex
	status   Status
	progress int
	err      error
	finished time.Time
}

// New creates a transaction in status None. ctx bounds the native work; it is cancelled when the
// transaction reaches a terminal status.
func New(ctx context.Context, backend string, res *resource.Resource, role Role, addons Addons) *Transaction {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithCancelCause(ctx)
	return &Transaction{
		id:      uuid.NewString(),
		res:     res,
		role:    role,
		addons:  addons,
		backend: backend,
		created: time.Now(),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		bus:     event.New[Event](),
	}
}

func (t *Transaction) ID() string                   { return t.id }
func (t *Transaction) Resource() *resource.Resource { return t.res }
func (t *Transaction) Role() Role                   { return t.role }
func (t *Transaction) Addons() Addons               { return t.addons }
func (t *Transaction) Backend() string              { return t.backend }
func (t *Transaction) Created() time.Time           { return t.created }

// Context is cancelled when the transaction is cancelled or finishes.
func (t *Transaction) Context() context.Context { return t.ctx }

// Done is closed when the transaction reaches a terminal status.
func (t *Transaction) Done() <-chan struct{} { return t.done }

// Status returns the current status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the completion percentage, 0-100.
func (t *Transaction) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Err returns the failure reason of a failed or cancelled transaction.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Finished returns when the transaction reached its terminal status, zero while it is live.
func (t *Transaction) Finished() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// SetStatus moves the transaction to s.
func (t *Transaction) SetStatus(s Status) error {
	return t.move(s, nil)
}

// SetProgress records the completion percentage. Progress of a finished transaction is ignored.
func (t *Transaction) SetProgress(p int) {
	p = max(0, min(p, 100))

	t.mu.Lock()
	if t.status.Terminal() || t.progress == p {
		t.mu.Unlock()
		return
	}
	t.progress = p
	ev := Event{Transaction: t, Status: t.status, Progress: p}
	t.mu.Unlock()

	t.bus.Publish(ev)
}

// Fail moves the transaction to Failed with the native reason.
func (t *Transaction) Fail(reason error) error {
	if reason == nil {
		reason = errors.New("unknown failure")
	}
	return t.move(StatusFailed, reason)
}

// Cancel moves a live transaction to Cancelled and cancels its native work. It returns false if the
// transaction had already finished.
func (t *Transaction) Cancel() bool {
	return t.move(StatusCancelled, ErrCancelled) == nil
}

func (t *Transaction) move(to Status, reason error) error {
	t.mu.Lock()
	from := t.status
	if !canMove(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.status = to
	if reason != nil {
		t.err = reason
	}
	if to == StatusDone {
		t.progress = 100
	}
	if to.Terminal() {
		t.finished = time.Now()
	}
	ev := Event{Transaction: t, Status: to, Progress: t.progress, Err: t.err}
	t.mu.Unlock()

	if to.Terminal() {
		t.cancel(reason)
	}
	// Subscribers see the terminal event before Wait returns.
	t.bus.Publish(ev)
	if to.Terminal() {
		close(t.done)
	}
	return nil
}

// Subscribe registers h for every change of this transaction.
func (t *Transaction) Subscribe(h func(Event)) func() {
	return t.bus.Subscribe(h)
}

// Wait blocks until the transaction finishes or ctx is done, and returns the final status.
func (t *Transaction) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.done:
		return t.Status(), nil
	case <-ctx.Done():
		return t.Status(), ctx.Err()
	}
}
