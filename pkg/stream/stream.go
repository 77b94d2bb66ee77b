// Package stream delivers search results from backends to consumers, either as a fixed snapshot or
// incrementally while a backend is still producing them.
package stream

import (
	"context"
	"errors"
	"iter"
	"sync"

	"discover/pkg/resource"
)

const bufferSize = 32

// Stream is the consumer side of a result set. A stream finishes exactly once, either because the
// producer closed it or because it was cancelled.
type Stream struct {
	label  string
	ch     chan *resource.Resource
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Sink is the producer side of an incremental stream.
type Sink struct {
	s    *Stream
	once sync.Once
}

// Open creates an incrementally fed stream. Cancelling ctx or the stream cancels the sink's context.
func Open(ctx context.Context, label string) (*Stream, *Sink) {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		label:  label,
		ch:     make(chan *resource.Resource, bufferSize),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return s, &Sink{s: s}
}

// FromSlice returns an already finished stream holding rs. An empty slice yields an empty stream.
func FromSlice(label string, rs []*resource.Resource) *Stream {
	s, sink := Open(context.Background(), label)
	s.ch = make(chan *resource.Resource, len(rs))
	for _, r := range rs {
		s.ch <- r
	}
	sink.Close(nil)
	return s
}

// Empty returns a finished stream with no results.
func Empty(label string) *Stream {
	return FromSlice(label, nil)
}

// Failed returns a finished stream with no results that reports err.
func Failed(label string, err error) *Stream {
	s, sink := Open(context.Background(), label)
	sink.Close(err)
	return s
}

// Label names the producer, for logging.
func (s *Stream) Label() string { return s.label }

// Done is closed once the producer has finished.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Cancel asks the producer to stop. Results already buffered may still be read.
func (s *Stream) Cancel() { s.cancel() }

// Cancelled reports whether the stream was cancelled.
func (s *Stream) Cancelled() bool { return s.ctx.Err() != nil }

// Err returns the error the producer closed with.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// All iterates over results until the producer finishes or the stream is cancelled.
// Breaking out of the loop cancels the stream.
func (s *Stream) All() iter.Seq[*resource.Resource] {
	return func(yield func(*resource.Resource) bool) {
		for {
			select {
			case r, ok := <-s.ch:
				if !ok {
					return
				}
				if !yield(r) {
					s.Cancel()
					return
				}
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// Collect drains the stream. On cancellation it returns what was received and the context error.
func (s *Stream) Collect() ([]*resource.Resource, error) {
	var out []*resource.Resource
	for r := range s.All() {
		out = append(out, r)
	}
	if err := s.Err(); err != nil {
		return out, err
	}
	if s.Cancelled() {
		select {
		case <-s.done:
		default:
			return out, context.Cause(s.ctx)
		}
	}
	return out, nil
}

// Context is the cancellation token the producer threads into its native calls.
func (k *Sink) Context() context.Context { return k.s.ctx }

// Send delivers one result. It returns false once the stream was cancelled or closed.
// Send and Close must be called from the same producer.
func (k *Sink) Send(r *resource.Resource) bool {
	select {
	case <-k.s.done:
		return false
	default:
	}
	select {
	case k.s.ch <- r:
		return true
	case <-k.s.ctx.Done():
		return false
	}
}

// Close finishes the stream. Only the first call has an effect.
func (k *Sink) Close(err error) {
	k.once.Do(func() {
		k.s.mu.Lock()
		k.s.err = err
		k.s.mu.Unlock()
		close(k.s.ch)
		close(k.s.done)
	})
}

// Concat joins streams in order: every result of streams[0], then streams[1], and so on.
// Cancelling the result cancels every input. Errors of individual inputs are joined; cancellation
// of an input is not an error.
func Concat(ctx context.Context, label string, streams ...*Stream) *Stream {
	out, sink := Open(ctx, label)
	stop := context.AfterFunc(sink.Context(), func() {
		for _, s := range streams {
			s.Cancel()
		}
	})

	go func() {
		defer stop()
		var errs []error
		for i, s := range streams {
			for r := range s.All() {
				if !sink.Send(r) {
					for _, rest := range streams[i:] {
						rest.Cancel()
					}
					sink.Close(nil)
					return
				}
			}
			select {
			case <-s.Done():
			case <-s.ctx.Done():
			}
			if err := s.Err(); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
		sink.Close(errors.Join(errs...))
	}()
	return out
}
