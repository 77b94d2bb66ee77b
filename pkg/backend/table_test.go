package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discover/pkg/resource"
)

func ident(name, origin, branch string) resource.Identity {
	return resource.Identity{Backend: "test", Origin: origin, Kind: resource.KindApp, Name: name, Branch: branch}
}

func TestTableAddKeepsOneInstancePerID(t *testing.T) {
	tbl := NewTable()
	a := resource.New(ident("foo", "repo", "stable"))
	got, added := tbl.Add(a)
	assert.True(t, added)
	assert.Same(t, a, got)

	dup := resource.New(ident("foo", "repo", "stable"))
	got, added = tbl.Add(dup)
	assert.False(t, added)
	assert.Same(t, a, got)
	assert.Equal(t, 1, tbl.Len())
}

func TestTableSnapshotDiscoveryOrder(t *testing.T) {
	tbl := NewTable()
	for _, n := range []string{"c", "a", "b"} {
		tbl.Add(resource.New(ident(n, "repo", "stable")))
	}

	var names []string
	for _, r := range tbl.Snapshot() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestTableRekey(t *testing.T) {
	tbl := NewTable()
	partial := resource.New(ident("foo", "", ""))
	tbl.Add(partial)
	other := resource.New(ident("bar", "repo", "stable"))
	tbl.Add(other)

	full := ident("foo", "repo", "stable")
	require.NoError(t, tbl.Rekey(partial, full))

	_, ok := tbl.Get(ident("foo", "", "").String())
	assert.False(t, ok)
	got, ok := tbl.Get(full.String())
	require.True(t, ok)
	assert.Same(t, partial, got)
	assert.Equal(t, "foo", tbl.Snapshot()[0].Name(), "rekey keeps discovery order")

	assert.ErrorIs(t, tbl.Rekey(partial, other.Identity()), ErrIdentityTaken)
	assert.ErrorIs(t, tbl.Rekey(resource.New(ident("ghost", "r", "b")), full), ErrUnknownResource)
}

func TestUpdaterRecompute(t *testing.T) {
	tbl := NewTable()
	a := resource.New(ident("a", "repo", "stable"))
	b := resource.New(ident("b", "repo", "stable"))
	tbl.Add(a)
	tbl.Add(b)

	var notified []int
	u := NewUpdater(tbl, func(n int) { notified = append(notified, n) })

	assert.False(t, u.Recompute())
	a.SetState(resource.StateUpgradeAvailable)
	assert.True(t, u.Recompute())
	assert.False(t, u.Recompute())
	b.SetState(resource.StateUpgradeAvailable)
	u.Recompute()

	assert.Equal(t, []int{1, 2}, notified)
	assert.Equal(t, 2, u.Count())
	assert.Len(t, u.List(), 2)
}

func TestUpdaterNotifiesWhenSetChangesAtSameCount(t *testing.T) {
	tbl := NewTable()
	a := resource.New(ident("a", "repo", "stable"))
	b := resource.New(ident("b", "repo", "stable"))
	tbl.Add(a)
	tbl.Add(b)

	var notified []int
	u := NewUpdater(tbl, func(n int) { notified = append(notified, n) })

	a.SetState(resource.StateUpgradeAvailable)
	require.True(t, u.Recompute())

	a.SetState(resource.StateInstalled)
	b.SetState(resource.StateUpgradeAvailable)
	assert.True(t, u.Recompute(), "a different upgradeable resource is a change")
	assert.Equal(t, []int{1, 1}, notified)

	list := u.List()
	require.Len(t, list, 1)
	assert.Same(t, b, list[0])
}
