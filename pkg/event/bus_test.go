package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := New[int]()

	var got []string
	bus.Subscribe(func(v int) { got = append(got, "a") })
	bus.Subscribe(func(v int) { got = append(got, "b") })

	bus.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := New[string]()

	calls := 0
	unsub := bus.Subscribe(func(string) { calls++ })
	bus.Publish("x")
	unsub()
	unsub()
	bus.Publish("y")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Count())
}

func TestBusHandlerMayUnsubscribeDuringPublish(t *testing.T) {
	bus := New[int]()

	var unsub func()
	calls := 0
	unsub = bus.Subscribe(func(int) {
		calls++
		unsub()
	})

	bus.Publish(1)
	bus.Publish(2)
	assert.Equal(t, 1, calls)
}
