package catalog

import (
	"sync"

	"discover/pkg/backend"
	"discover/pkg/event"
	"discover/pkg/resource"
)

// UpdatesModel is the combined update state of every backend. It is recomputed when a backend
// reports a changed count and when a transaction finishes.
type UpdatesModel struct {
	backends func() []backend.Backend
	bus      *event.Bus[int]

	mu    sync.Mutex
	count int
	list  []*resource.Resource
}

func newUpdatesModel(backends func() []backend.Backend) *UpdatesModel {
	return &UpdatesModel{backends: backends, bus: event.New[int]()}
}

// Recompute refreshes the count and list. Subscribers are told when the count or the set of
// upgradeable resources changed.
func (m *UpdatesModel) Recompute() {
	var (
		n    int
		list []*resource.Resource
	)
	for _, b := range m.backends() {
		n += b.UpdatesCount()
		list = append(list, b.UpgradeablePackages()...)
	}

	m.mu.Lock()
	changed := n != m.count || !backend.SameResources(list, m.list)
	m.count = n
	m.list = list
	m.mu.Unlock()

	if changed {
		m.bus.Publish(n)
	}
}

// Count returns the combined number of pending updates.
func (m *UpdatesModel) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// List returns the upgradeable resources of every backend.
func (m *UpdatesModel) List() []*resource.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*resource.Resource, len(m.list))
	copy(out, m.list)
	return out
}

// Subscribe registers h for count changes.
func (m *UpdatesModel) Subscribe(h func(count int)) func() {
	return m.bus.Subscribe(h)
}
