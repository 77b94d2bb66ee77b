package backend

import (
	"context"
	"sync"
)

// Loop runs the tasks of one backend one at a time, in submission order. Table mutations and
// native callbacks of a backend all go through its loop, so no two of them ever run concurrently.
type Loop struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	exited chan struct{}
}

// NewLoop starts a loop. Its context is the cancellation token for the backend's native calls.
func NewLoop(parent context.Context) *Loop {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.exited)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 || l.ctx.Err() != nil {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}

// Context is cancelled when the loop is closed.
func (l *Loop) Context() context.Context { return l.ctx }

// Post queues fn. It returns false if the loop is closed; fn is then never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it. It must not be called from a loop task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrBusy
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.exited:
		select {
		case <-done:
			return nil
		default:
			return ErrBusy
		}
	}
}

// Close cancels the loop context, drops queued tasks and waits for the running task to return.
// It must not be called from a loop task.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.exited
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	l.cancel()
	<-l.exited
}
