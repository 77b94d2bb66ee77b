package backend

import (
	"sync"

	"discover/pkg/resource"
)

// Updater tracks the resources of one backend that have an upgrade available.
type Updater struct {
	table  *Table
	notify func(count int)

	mu    sync.RWMutex
	list  []*resource.Resource
	count int
}

// NewUpdater creates an updater over table. notify is called whenever the set of upgradeable
// resources changes, even when its size does not.
func NewUpdater(table *Table, notify func(count int)) *Updater {
	return &Updater{table: table, notify: notify}
}

// Recompute rescans the table and reports whether the upgradeable set changed.
func (u *Updater) Recompute() bool {
	list := u.table.Filter(func(r *resource.Resource) bool {
		return r.State() == resource.StateUpgradeAvailable
	})

	u.mu.Lock()
	changed := len(list) != u.count || !SameResources(list, u.list)
	u.list = list
	u.count = len(list)
	u.mu.Unlock()

	if changed && u.notify != nil {
		u.notify(len(list))
	}
	return changed
}

// Count returns the number of upgradeable resources at the last recompute.
func (u *Updater) Count() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.count
}

// List returns the upgradeable resources at the last recompute.
func (u *Updater) List() []*resource.Resource {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]*resource.Resource, len(u.list))
	copy(out, u.list)
	return out
}

// SameResources reports whether a and b hold the same resources, by unique id and ignoring order.
func SameResources(a, b []*resource.Resource) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]int, len(a))
	for _, r := range a {
		ids[r.UniqueID()]++
	}
	for _, r := range b {
		id := r.UniqueID()
		if ids[id] == 0 {
			return false
		}
		ids[id]--
	}
	return true
}
