package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/transaction"
)

func names(bs []backend.Backend) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Name())
	}
	return out
}

func uids(rs []*resource.Resource) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.UniqueID())
	}
	return out
}

func newTestCatalog(t *testing.T, opts ...Option) *Catalog {
	t.Helper()
	c := New(zap.NewNop(), opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func collect(t *testing.T, c *Catalog, f backend.Filters) []*resource.Resource {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rs, err := c.Search(ctx, f).Collect()
	require.NoError(t, err)
	return rs
}

func waitTx(t *testing.T, tx *transaction.Transaction) transaction.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := tx.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestRegisterOrdersByPriority(t *testing.T) {
	c := newTestCatalog(t, WithPriority("packagekit", "flatpak"))

	broken := brokenBackend("snap")
	t.Cleanup(func() { _ = broken.Close() })
	c.Register(newFakeBackend("flatpak"), newFakeBackend("native"), broken, newFakeBackend("packagekit"))

	if diff := cmp.Diff([]string{"packagekit", "flatpak", "native"}, names(c.Backends())); diff != "" {
		t.Errorf("backend order mismatch (-want +got):\n%s", diff)
	}
	errs := c.SetupErrors()
	require.Contains(t, errs, "snap")
	assert.ErrorIs(t, errs["snap"], backend.ErrSetup)

	_, ok := c.Backend("snap")
	assert.False(t, ok)
}

func TestRegisterWithoutPriorityKeepsOrder(t *testing.T) {
	c := newTestCatalog(t)
	c.Register(newFakeBackend("b"), newFakeBackend("a"))
	c.Register(newFakeBackend("c"))

	if diff := cmp.Diff([]string{"b", "a", "c"}, names(c.Backends())); diff != "" {
		t.Errorf("backend order mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchConcatenatesInBackendOrder(t *testing.T) {
	c := newTestCatalog(t)
	first := newFakeBackend("first", "Firefox", "Krita", "Firewall")
	second := newFakeBackend("second", "bonfire", "Gimp", "FIREWORKS")
	c.Register(first, second)

	want := []string{
		"system/first/repo/app/Firefox/stable",
		"system/first/repo/app/Firewall/stable",
		"system/second/repo/app/bonfire/stable",
		"system/second/repo/app/FIREWORKS/stable",
	}
	if diff := cmp.Diff(want, uids(collect(t, c, backend.Filters{Search: "fire"}))); diff != "" {
		t.Errorf("search results mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, collect(t, c, backend.Filters{Search: "nothing-matches"}))
	assert.Len(t, collect(t, c, backend.Filters{}), 6)
}

func TestSearchWithoutBackends(t *testing.T) {
	c := newTestCatalog(t)
	assert.Empty(t, collect(t, c, backend.Filters{Search: "fire"}))
}

func TestResourceByPackageNameFirstMatch(t *testing.T) {
	c := newTestCatalog(t)
	first := newFakeBackend("first", "Krita")
	second := newFakeBackend("second", "Krita", "Gimp")
	c.Register(first, second)

	assert.Equal(t, "first", c.ResourceByPackageName("Krita").Backend())
	assert.Equal(t, "second", c.ResourceByPackageName("Gimp").Backend())
	assert.Nil(t, c.ResourceByPackageName("Inkscape"))
	assert.Len(t, c.AllResources(), 3)
}

func TestFindByLocatorRoutesByScheme(t *testing.T) {
	c := newTestCatalog(t)
	c.Register(newFakeBackend("first", "Krita"), newFakeBackend("second", "Krita"))
	ctx := t.Context()

	loc, err := resource.ParseLocator("second://system/repo/app/Krita/stable")
	require.NoError(t, err)
	rs, err := c.FindByLocator(ctx, loc).Collect()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"system/second/repo/app/Krita/stable"}, uids(rs)); diff != "" {
		t.Errorf("locator mismatch (-want +got):\n%s", diff)
	}

	loc, _ = resource.ParseLocator("snap://Krita")
	_, err = c.FindByLocator(ctx, loc).Collect()
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestUpdatesModel(t *testing.T) {
	c := newTestCatalog(t)
	first := newFakeBackend("first")
	second := newFakeBackend("second")
	first.add("Krita", resource.StateInstalled)
	first.add("Gimp", resource.StateInstalled)
	second.add("Inkscape", resource.StateInstalled)
	first.upgrades = []string{"Krita", "Gimp"}
	second.upgrades = []string{"Inkscape"}
	c.Register(first, second)

	var (
		mu     sync.Mutex
		counts []int
	)
	c.Updates().Subscribe(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})

	require.NoError(t, c.CheckForUpdates(t.Context()))

	assert.Equal(t, 3, c.UpdatesCount())
	assert.Equal(t, 3, c.Updates().Count())
	assert.ElementsMatch(t, uids(c.UpgradeablePackages()), uids(c.Updates().List()))

	mu.Lock()
	require.NotEmpty(t, counts)
	assert.Equal(t, 3, counts[len(counts)-1])
	mu.Unlock()

	txs, err := c.UpdateAll()
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for _, tx := range txs {
		assert.Equal(t, transaction.StatusDone, waitTx(t, tx))
	}
	require.Eventually(t, func() bool { return c.Updates().Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, c.UpgradeablePackages())
}

func TestUpdatesModelNotifiesWhenSetChangesAtSameCount(t *testing.T) {
	c := newTestCatalog(t)
	b := newFakeBackend("first")
	krita := b.add("Krita", resource.StateInstalled)
	b.add("Gimp", resource.StateInstalled)
	b.upgrades = []string{"Krita"}
	c.Register(b)

	var (
		mu     sync.Mutex
		counts []int
	)
	c.Updates().Subscribe(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})
	published := func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), counts...)
	}

	require.NoError(t, c.CheckForUpdates(t.Context()))
	assert.Equal(t, []int{1}, published())

	krita.SetState(resource.StateInstalled)
	b.mu.Lock()
	b.upgrades = []string{"Gimp"}
	b.mu.Unlock()
	require.NoError(t, c.CheckForUpdates(t.Context()))

	assert.Equal(t, []int{1, 1}, published())
	list := c.Updates().List()
	require.Len(t, list, 1)
	assert.Equal(t, "Gimp", list[0].Name())
}

func TestInstallRejectsSecondTransaction(t *testing.T) {
	c := newTestCatalog(t)
	b := newFakeBackend("first", "Krita")
	b.release = make(chan struct{})
	c.Register(b)
	krita := c.ResourceByPackageName("Krita")

	tx, err := c.Install(krita, transaction.Addons{})
	require.NoError(t, err)
	assert.Same(t, tx, c.Listener().ActiveFor(krita.UniqueID()))

	_, err = c.Install(krita, transaction.Addons{})
	assert.ErrorIs(t, err, transaction.ErrInProgress)
	_, err = c.Remove(krita)
	assert.ErrorIs(t, err, transaction.ErrInProgress)
	assert.Equal(t, transaction.StatusDownloading, tx.Status())

	close(b.release)
	assert.Equal(t, transaction.StatusDone, waitTx(t, tx))
	require.NoError(t, c.Listener().Wait(t.Context()))
	assert.Equal(t, resource.StateInstalled, krita.State())

	tx, err = c.Remove(krita)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusDone, waitTx(t, tx))
}

func TestInstallUnknownBackend(t *testing.T) {
	c := newTestCatalog(t)
	c.Register(newFakeBackend("first", "Krita"))

	stray := resource.New(resource.Identity{Backend: "snap", Name: "Krita", Branch: "stable"})
	_, err := c.Install(stray, transaction.Addons{})
	assert.ErrorIs(t, err, backend.ErrUnknownResource)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = c.Update(nil)
	assert.ErrorIs(t, err, backend.ErrUnknownResource)
}

func TestRefreshWaitsForEveryBackend(t *testing.T) {
	c := newTestCatalog(t)
	first := newFakeBackend("first")
	second := newFakeBackend("second")
	c.Register(first, second)

	require.NoError(t, c.Refresh(t.Context()))
	assert.EqualValues(t, 1, first.refreshes.Load())
	assert.EqualValues(t, 1, second.refreshes.Load())
	assert.False(t, c.IsFetching())
}

func TestRefreshHonoursContext(t *testing.T) {
	c := newTestCatalog(t)
	slow := newFakeBackend("slow")
	slow.block = make(chan struct{})
	c.Register(newFakeBackend("fast"), slow)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(slow.block)
}

func TestMessageActionsAreLabelled(t *testing.T) {
	c := newTestCatalog(t)
	c.Register(newFakeBackend("first"), newFakeBackend("second"))

	actions := c.MessageActions()
	require.Len(t, actions, 2)
	assert.Equal(t, "first", actions[0].Backend)
	assert.Equal(t, "second", actions[1].Backend)
	assert.Equal(t, "Check for Updates", actions[1].Text)
	require.NoError(t, actions[0].Run(t.Context()))
}

func TestSources(t *testing.T) {
	c := newTestCatalog(t)
	remotes := &fakeSourcesBackend{
		fakeBackend: newFakeBackend("flatpak"),
		sources: []backend.Source{
			{Backend: "flatpak", Name: "flathub", Enabled: true},
			{Backend: "flatpak", Name: "kdeapps", Enabled: true},
		},
	}
	c.Register(newFakeBackend("native"), remotes)

	require.NoError(t, c.SetSourceEnabled(t.Context(), "flatpak", "kdeapps", false))
	want := []backend.Source{
		{Backend: "flatpak", Name: "flathub", Enabled: true},
		{Backend: "flatpak", Name: "kdeapps", Enabled: false},
	}
	if diff := cmp.Diff(want, c.Sources(t.Context())); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}

	assert.ErrorIs(t, c.SetSourceEnabled(t.Context(), "native", "main", false), ErrNoSources)
	assert.ErrorIs(t, c.SetSourceEnabled(t.Context(), "snap", "main", false), ErrUnknownBackend)
}

func TestCloseCancelsAndClosesBackends(t *testing.T) {
	c := New(zap.NewNop())
	b := newFakeBackend("first", "Krita")
	b.release = make(chan struct{})
	c.Register(b)

	tx, err := c.Install(c.ResourceByPackageName("Krita"), transaction.Addons{})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, transaction.StatusCancelled, tx.Status())
	assert.True(t, b.closed.Load())
	assert.Empty(t, c.Backends())
}

func TestSharedListener(t *testing.T) {
	l := transaction.NewListener(zap.NewNop())
	c := newTestCatalog(t, WithListener(l))
	assert.Same(t, l, c.Listener())
}
