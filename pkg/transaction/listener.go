package transaction

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"discover/pkg/event"
	"discover/pkg/resource"
)

// Recorder persists finished transactions.
type Recorder interface {
	Record(tx *Transaction) error
}

// Observer is told about every finished transaction, for metrics.
type Observer interface {
	ObserveTransaction(tx *Transaction)
}

// StartFunc launches the native work for a reserved resource and returns the live transaction.
type StartFunc func() (*Transaction, error)

type entry struct {
	tx    *Transaction
	unsub func()
	once  sync.Once
}

// Listener owns every live transaction. At most one live transaction targets a resource; a second
// request for the same resource is rejected with ErrInProgress. Finished transactions are dropped
// after being handed to the recorder and observer.
type Listener struct {
	logger   *zap.Logger
	recorder Recorder
	observer Observer
	bus      *event.Bus[Event]

	mu       sync.Mutex
	reserved map[string]bool
	byRes    map[string]*entry
	byID     map[string]*entry
	idle     chan struct{}
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithRecorder hands finished transactions to r.
func WithRecorder(r Recorder) ListenerOption {
	return func(l *Listener) { l.recorder = r }
}

// WithObserver hands finished transactions to o.
func WithObserver(o Observer) ListenerOption {
	return func(l *Listener) { l.observer = o }
}

// NewListener creates an empty listener.
func NewListener(logger *zap.Logger, opts ...ListenerOption) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{
		logger:   logger,
		bus:      event.New[Event](),
		reserved: make(map[string]bool),
		byRes:    make(map[string]*entry),
		byID:     make(map[string]*entry),
		idle:     make(chan struct{}),
	}
	close(l.idle)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit reserves res, runs start and tracks the returned transaction until it finishes.
func (l *Listener) Submit(res *resource.Resource, start StartFunc) (*Transaction, error) {
	uid := res.UniqueID()

	l.mu.Lock()
	if l.reserved[uid] {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInProgress, uid)
	}
	l.reserved[uid] = true
	l.mu.Unlock()

	tx, err := start()
	if err != nil {
		l.mu.Lock()
		delete(l.reserved, uid)
		l.mu.Unlock()
		return nil, err
	}

	e := &entry{tx: tx}
	l.mu.Lock()
	l.byRes[uid] = e
	l.byID[tx.ID()] = e
	if len(l.byID) == 1 {
		l.idle = make(chan struct{})
	}
	l.mu.Unlock()

	l.logger.Debug("transaction started",
		zap.String("id", tx.ID()),
		zap.String("backend", tx.Backend()),
		zap.String("role", tx.Role().String()),
		zap.String("resource", uid))

	e.unsub = tx.Subscribe(func(ev Event) {
		if ev.Status.Terminal() {
			l.finish(uid, e, ev)
			return
		}
		l.bus.Publish(ev)
	})

	// start may have driven the transaction to completion before we subscribed.
	if st := tx.Status(); st.Terminal() {
		l.finish(uid, e, Event{Transaction: tx, Status: st, Progress: tx.Progress(), Err: tx.Err()})
	}
	return tx, nil
}

func (l *Listener) finish(uid string, e *entry, ev Event) {
	e.once.Do(func() {
		if e.unsub != nil {
			e.unsub()
		}

		l.mu.Lock()
		delete(l.reserved, uid)
		delete(l.byRes, uid)
		delete(l.byID, e.tx.ID())
		idle := len(l.byID) == 0
		l.mu.Unlock()

		l.logger.Debug("transaction finished",
			zap.String("id", e.tx.ID()),
			zap.String("status", ev.Status.String()),
			zap.Error(ev.Err))

		if l.recorder != nil {
			if err := l.recorder.Record(e.tx); err != nil {
				l.logger.Warn("failed to record transaction", zap.String("id", e.tx.ID()), zap.Error(err))
			}
		}
		if l.observer != nil {
			l.observer.ObserveTransaction(e.tx)
		}
		l.bus.Publish(ev)

		if idle {
			l.mu.Lock()
			if len(l.byID) == 0 {
				select {
				case <-l.idle:
				default:
					close(l.idle)
				}
			}
			l.mu.Unlock()
		}
	})
}

// Subscribe registers h for events of every live transaction, including the terminal one.
func (l *Listener) Subscribe(h func(Event)) func() {
	return l.bus.Subscribe(h)
}

// Active returns the live transactions, oldest first.
func (l *Listener) Active() []*Transaction {
	l.mu.Lock()
	out := make([]*Transaction, 0, len(l.byID))
	for _, e := range l.byID {
		out = append(out, e.tx)
	}
	l.mu.Unlock()

	slices.SortFunc(out, func(a, b *Transaction) int {
		return a.Created().Compare(b.Created())
	})
	return out
}

// ActiveFor returns the live transaction targeting the resource with unique id uid, or nil.
func (l *Listener) ActiveFor(uid string) *Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.byRes[uid]; ok {
		return e.tx
	}
	return nil
}

// Busy reports whether the resource is reserved by a transaction being started or running.
func (l *Listener) Busy(uid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved[uid]
}

// Cancel cancels the live transaction with the given id.
func (l *Listener) Cancel(id string) error {
	l.mu.Lock()
	e, ok := l.byID[id]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.tx.Cancel() {
		return fmt.Errorf("%w: %s already finished", ErrInvalidTransition, id)
	}
	return nil
}

// CancelAll cancels every live transaction.
func (l *Listener) CancelAll() {
	for _, tx := range l.Active() {
		tx.Cancel()
	}
}

// Wait blocks until no transaction is live or ctx is done.
func (l *Listener) Wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
