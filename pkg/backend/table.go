package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"discover/pkg/resource"
)

// ErrIdentityTaken is returned by Rekey when another resource already owns the target identity.
var ErrIdentityTaken = errors.New("identity already taken")

// Table maps unique ids to the resources of one backend, keeping discovery order.
// Only the owning backend writes it, from its loop; anyone may read.
type Table struct {
	mu   sync.RWMutex
	byID map[string]*resource.Resource
	seq  uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{byID: make(map[string]*resource.Resource)}
}

// Get returns the resource with the given unique id.
func (t *Table) Get(uid string) (*resource.Resource, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[uid]
	return r, ok
}

// Add inserts r unless a resource with the same unique id exists. It returns the resource that owns
// the id afterwards and whether r was inserted.
func (t *Table) Add(r *resource.Resource) (*resource.Resource, bool) {
	uid := r.UniqueID()

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byID[uid]; ok {
		return existing, false
	}
	t.seq++
	r.SetSeq(t.seq)
	t.byID[uid] = r
	return r, true
}

// Rekey changes the identity of r, keeping its discovery order.
func (t *Table) Rekey(r *resource.Resource, id resource.Identity) error {
	oldUID := r.UniqueID()
	newUID := id.String()
	if oldUID == newUID {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byID[oldUID]; !ok || cur != r {
		return fmt.Errorf("%w: %s", ErrUnknownResource, oldUID)
	}
	if other, ok := t.byID[newUID]; ok && other != r {
		return fmt.Errorf("%w: %s", ErrIdentityTaken, newUID)
	}
	delete(t.byID, oldUID)
	r.SetIdentity(id)
	t.byID[newUID] = r
	return nil
}

// Remove deletes the resource with the given unique id.
func (t *Table) Remove(uid string) {
	t.mu.Lock()
	delete(t.byID, uid)
	t.mu.Unlock()
}

// Len returns the number of resources.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Snapshot returns the resources in discovery order. Entries may change after it returns.
func (t *Table) Snapshot() []*resource.Resource {
	t.mu.RLock()
	out := make([]*resource.Resource, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, r)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b *resource.Resource) int {
		return compareUint(a.Seq(), b.Seq())
	})
	return out
}

// Find returns the first resource in discovery order that satisfies match.
func (t *Table) Find(match func(*resource.Resource) bool) *resource.Resource {
	for _, r := range t.Snapshot() {
		if match(r) {
			return r
		}
	}
	return nil
}

// Filter returns every resource in discovery order that satisfies match.
func (t *Table) Filter(match func(*resource.Resource) bool) []*resource.Resource {
	var out []*resource.Resource
	for _, r := range t.Snapshot() {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
