package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRecorder struct {
	mu  sync.Mutex
	txs []*Transaction
	err error
}

func (m *memRecorder) Record(tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
	return m.err
}

type countObserver struct{ n int }

func (c *countObserver) ObserveTransaction(*Transaction) { c.n++ }

func startOf(tx *Transaction) StartFunc {
	return func() (*Transaction, error) { return tx, nil }
}

func TestSubmitRejectsSecondTransaction(t *testing.T) {
	l := NewListener(zap.NewNop())
	res := newRes("foo")

	first := New(context.Background(), "test", res, RoleInstall, Addons{})
	_, err := l.Submit(res, startOf(first))
	require.NoError(t, err)
	assert.Same(t, first, l.ActiveFor(res.UniqueID()))

	called := false
	_, err = l.Submit(res, func() (*Transaction, error) {
		called = true
		return New(context.Background(), "test", res, RoleRemove, Addons{}), nil
	})
	assert.ErrorIs(t, err, ErrInProgress)
	assert.False(t, called, "start must not run for a rejected submission")

	require.NoError(t, first.SetStatus(StatusCommitting))
	require.NoError(t, first.SetStatus(StatusDone))

	assert.Nil(t, l.ActiveFor(res.UniqueID()))
	second := New(context.Background(), "test", res, RoleRemove, Addons{})
	_, err = l.Submit(res, startOf(second))
	assert.NoError(t, err)
}

func TestSubmitStartFailureReleasesReservation(t *testing.T) {
	l := NewListener(nil)
	res := newRes("foo")
	boom := errors.New("not installed")

	_, err := l.Submit(res, func() (*Transaction, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.Busy(res.UniqueID()))
	assert.Empty(t, l.Active())
}

func TestListenerForwardsAndDropsFinished(t *testing.T) {
	rec := &memRecorder{}
	obs := &countObserver{}
	l := NewListener(zap.NewNop(), WithRecorder(rec), WithObserver(obs))

	var statuses []Status
	l.Subscribe(func(ev Event) { statuses = append(statuses, ev.Status) })

	res := newRes("foo")
	tx := New(context.Background(), "test", res, RoleInstall, Addons{})
	_, err := l.Submit(res, startOf(tx))
	require.NoError(t, err)
	assert.Len(t, l.Active(), 1)

	require.NoError(t, tx.SetStatus(StatusDownloading))
	require.NoError(t, tx.Fail(errors.New("disk full")))

	assert.Equal(t, []Status{StatusDownloading, StatusFailed}, statuses)
	assert.Empty(t, l.Active())
	assert.Len(t, rec.txs, 1)
	assert.Equal(t, 1, obs.n)
}

func TestSubmitAlreadyFinished(t *testing.T) {
	rec := &memRecorder{}
	l := NewListener(nil, WithRecorder(rec))
	res := newRes("foo")

	_, err := l.Submit(res, func() (*Transaction, error) {
		tx := New(context.Background(), "test", res, RoleRemove, Addons{})
		_ = tx.SetStatus(StatusCommitting)
		_ = tx.SetStatus(StatusDone)
		return tx, nil
	})
	require.NoError(t, err)
	assert.Empty(t, l.Active())
	assert.Len(t, rec.txs, 1)
}

func TestRecorderErrorIsAbsorbed(t *testing.T) {
	l := NewListener(zap.NewNop(), WithRecorder(&memRecorder{err: errors.New("db closed")}))
	res := newRes("foo")
	tx := New(context.Background(), "test", res, RoleInstall, Addons{})
	_, err := l.Submit(res, startOf(tx))
	require.NoError(t, err)

	assert.True(t, tx.Cancel())
	assert.Empty(t, l.Active())
}

func TestListenerCancel(t *testing.T) {
	l := NewListener(nil)
	res := newRes("foo")
	tx := New(context.Background(), "test", res, RoleInstall, Addons{})
	_, err := l.Submit(res, startOf(tx))
	require.NoError(t, err)

	assert.ErrorIs(t, l.Cancel("nope"), ErrNotFound)
	require.NoError(t, l.Cancel(tx.ID()))
	assert.Equal(t, StatusCancelled, tx.Status())
	assert.ErrorIs(t, l.Cancel(tx.ID()), ErrNotFound)
}

func TestListenerWait(t *testing.T) {
	l := NewListener(nil)
	require.NoError(t, l.Wait(context.Background()))

	a, b := newRes("a"), newRes("b")
	txA := New(context.Background(), "test", a, RoleInstall, Addons{})
	txB := New(context.Background(), "test", b, RoleInstall, Addons{})
	_, err := l.Submit(a, startOf(txA))
	require.NoError(t, err)
	_, err = l.Submit(b, startOf(txB))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)

	go l.CancelAll()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, l.Wait(ctx2))
}
