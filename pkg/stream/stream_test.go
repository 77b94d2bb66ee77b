package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discover/pkg/resource"
)

func res(name string) *resource.Resource {
	return resource.New(resource.Identity{Backend: "test", Origin: "o", Name: name, Branch: resource.DefaultBranch})
}

func names(rs []*resource.Resource) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Name())
	}
	return out
}

func TestFromSlice(t *testing.T) {
	s := FromSlice("fixed", []*resource.Resource{res("a"), res("b")})
	got, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(got))
	assert.Equal(t, "fixed", s.Label())
}

func TestEmptyIsNotAnError(t *testing.T) {
	got, err := Empty("none").Collect()
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestIncrementalStream(t *testing.T) {
	s, sink := Open(context.Background(), "incremental")
	go func() {
		for _, n := range []string{"a", "b", "c"} {
			sink.Send(res(n))
		}
		sink.Close(nil)
	}()

	got, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names(got))
}

func TestCancelStopsProducer(t *testing.T) {
	s, sink := Open(context.Background(), "slow")
	produced := make(chan int, 1)
	go func() {
		n := 0
		for sink.Send(res("x")) {
			n++
		}
		sink.Close(nil)
		produced <- n
	}()

	for range s.All() {
		break
	}
	assert.True(t, s.Cancelled())

	select {
	case <-produced:
	case <-time.After(time.Second):
		t.Fatal("producer was not stopped by cancellation")
	}
	assert.ErrorIs(t, sink.Context().Err(), context.Canceled)
}

func TestParentContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, sink := Open(ctx, "child")
	cancel()

	assert.True(t, s.Cancelled())
	assert.False(t, sink.Send(res("late")))
	got, err := s.Collect()
	assert.Empty(t, got)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseOnce(t *testing.T) {
	s, sink := Open(context.Background(), "x")
	boom := errors.New("boom")
	sink.Close(boom)
	sink.Close(nil)
	assert.ErrorIs(t, s.Err(), boom)
	assert.False(t, sink.Send(res("late")))
}

func TestConcatOrder(t *testing.T) {
	a := FromSlice("a", []*resource.Resource{res("a1"), res("a2")})

	b, sinkB := Open(context.Background(), "b")
	go func() {
		sinkB.Send(res("b1"))
		sinkB.Close(nil)
	}()

	c := FromSlice("c", []*resource.Resource{res("c1")})

	got, err := Concat(context.Background(), "all", a, b, c).Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "b1", "c1"}, names(got))
}

func TestConcatJoinsErrors(t *testing.T) {
	boom := errors.New("backend down")
	got, err := Concat(context.Background(), "all",
		Failed("bad", boom),
		FromSlice("good", []*resource.Resource{res("ok")}),
	).Collect()

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"ok"}, names(got))
}

func TestConcatCancelPropagates(t *testing.T) {
	a, sinkA := Open(context.Background(), "a")
	b, _ := Open(context.Background(), "b")

	all := Concat(context.Background(), "all", a, b)
	all.Cancel()

	require.Eventually(t, func() bool {
		return a.Cancelled() && b.Cancelled()
	}, time.Second, 5*time.Millisecond)
	assert.False(t, sinkA.Send(res("late")))
}
