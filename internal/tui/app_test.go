package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discover/internal/history"
	"discover/pkg/backend"
	"discover/pkg/event"
	"discover/pkg/resource"
	"discover/pkg/stream"
	"discover/pkg/transaction"
)

type fakeCatalog struct {
	resources []*resource.Resource
	listener  *transaction.Listener
	bus       *event.Bus[backend.Event]
	installed []string
	removed   []string
	checks    int
}

func newFakeCatalog() *fakeCatalog {
	c := &fakeCatalog{
		listener: transaction.NewListener(nil),
		bus:      event.New[backend.Event](),
	}
	c.add("org.kde.kate", "Kate", resource.StateInstalled)
	c.add("org.gimp.GIMP", "GIMP", resource.StateUpgradeAvailable)
	c.add("org.mozilla.firefox", "Firefox", resource.StateNone)
	return c
}

func (c *fakeCatalog) add(name, display string, state resource.State) {
	r := resource.New(resource.Identity{
		Scope: resource.ScopeSystem, Backend: "flatpak", Origin: "flathub",
		Kind: resource.KindApp, Name: name, Branch: "stable",
	})
	r.SetDisplayName(display)
	r.SetState(state)
	c.resources = append(c.resources, r)
}

func (c *fakeCatalog) Backends() []backend.Backend             { return nil }
func (c *fakeCatalog) SetupErrors() map[string]error           { return map[string]error{"snap": errors.New("no snapd")} }
func (c *fakeCatalog) Listener() *transaction.Listener         { return c.listener }
func (c *fakeCatalog) Subscribe(h func(backend.Event)) func() { return c.bus.Subscribe(h) }
func (c *fakeCatalog) AllResources() []*resource.Resource      { return c.resources }

func (c *fakeCatalog) UpgradeablePackages() []*resource.Resource {
	var out []*resource.Resource
	for _, r := range c.resources {
		if r.State() == resource.StateUpgradeAvailable {
			out = append(out, r)
		}
	}
	return out
}

func (c *fakeCatalog) Search(_ context.Context, f backend.Filters) *stream.Stream {
	var out []*resource.Resource
	for _, r := range c.resources {
		if backend.Matches(r, f) {
			out = append(out, r)
		}
	}
	return stream.FromSlice("fake", out)
}

func (c *fakeCatalog) CheckForUpdates(context.Context) error {
	c.checks++
	return nil
}

func (c *fakeCatalog) submit(res *resource.Resource, role transaction.Role) (*transaction.Transaction, error) {
	return c.listener.Submit(res, func() (*transaction.Transaction, error) {
		return transaction.New(context.Background(), "flatpak", res, role, transaction.Addons{}), nil
	})
}

func (c *fakeCatalog) Install(res *resource.Resource, _ transaction.Addons) (*transaction.Transaction, error) {
	c.installed = append(c.installed, res.Name())
	return c.submit(res, transaction.RoleInstall)
}

func (c *fakeCatalog) Remove(res *resource.Resource) (*transaction.Transaction, error) {
	c.removed = append(c.removed, res.Name())
	return c.submit(res, transaction.RoleRemove)
}

func (c *fakeCatalog) Update(res *resource.Resource) (*transaction.Transaction, error) {
	return c.submit(res, transaction.RoleUpdate)
}

func (c *fakeCatalog) UpdateAll() ([]*transaction.Transaction, error) {
	var txs []*transaction.Transaction
	for _, r := range c.UpgradeablePackages() {
		tx, err := c.Update(r)
		if err != nil {
			return txs, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

type fakeJournal []history.Entry

func (j fakeJournal) List(int) ([]history.Entry, error) { return j, nil }

func newTestApp(t *testing.T) (*App, *fakeCatalog) {
	t.Helper()
	cat := newFakeCatalog()
	a := NewApp(t.Context(), cat, fakeJournal{{ID: "1", Role: "install", Status: "done", DisplayName: "Kate", Backend: "flatpak"}})
	a.Init()
	t.Cleanup(func() {
		a.Close()
		cat.listener.CancelAll()
	})
	a.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return a, cat
}

func press(a *App, keys ...string) {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		a.Update(msg)
	}
}

func names(rs []*resource.Resource) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Name())
	}
	return out
}

func TestReloadListsInstalledAndUpdates(t *testing.T) {
	a, _ := newTestApp(t)

	assert.Equal(t, []string{"org.kde.kate", "org.gimp.GIMP"}, names(a.installed))
	assert.Equal(t, []string{"org.gimp.GIMP"}, names(a.updates))
}

func TestFuzzyFilter(t *testing.T) {
	a, _ := newTestApp(t)

	a.filterText = "gmp"
	assert.Equal(t, []string{"org.gimp.GIMP"}, names(a.ListItems()))

	a.filterText = "zzz"
	assert.Empty(t, a.ListItems())
}

func TestCursorClamps(t *testing.T) {
	a, _ := newTestApp(t)

	a.MoveCursor(10)
	assert.Equal(t, 1, a.Cursor())
	a.MoveCursor(-10)
	assert.Equal(t, 0, a.Cursor())

	a.GoToBottom()
	assert.Equal(t, "org.gimp.GIMP", a.SelectedResource().Name())
}

func TestTabs(t *testing.T) {
	a, _ := newTestApp(t)

	press(a, "3")
	assert.Equal(t, ViewUpdates, a.activeView)
	a.NextTab()
	assert.Equal(t, ViewTransactions, a.activeView)
	a.SetTab(0)
	a.PrevTab()
	assert.Equal(t, ViewBackends, a.activeView)
}

func TestSearchAndInstall(t *testing.T) {
	a, cat := newTestApp(t)

	press(a, "/")
	require.True(t, a.inputMode)
	press(a, "f", "i", "r", "e")
	a.inputValue = "fire"

	a.FinishInput()
	require.Equal(t, "fire", a.searchQuery)
	msg := a.search(a.searchQuery)()
	a.Update(msg)
	require.Equal(t, []string{"org.mozilla.firefox"}, names(a.searchResults))

	press(a, "i")
	require.True(t, a.showConfirm)
	assert.Contains(t, a.confirmTitle, "Install Firefox")
	press(a, "y")

	assert.Equal(t, []string{"org.mozilla.firefox"}, cat.installed)
	assert.Len(t, a.transactions, 1)
	assert.Contains(t, a.successMsg, "Installing Firefox")
}

func TestStaleSearchResultsIgnored(t *testing.T) {
	a, _ := newTestApp(t)
	a.searchQuery = "kate"

	a.Update(searchResultsMsg{query: "old", results: a.installed})
	assert.Empty(t, a.searchResults)
}

func TestInstalledResourceCannotBeInstalled(t *testing.T) {
	a, cat := newTestApp(t)

	press(a, "i")
	assert.False(t, a.showConfirm)
	assert.Empty(t, cat.installed)

	press(a, "r")
	require.True(t, a.showConfirm)
	press(a, "n")
	assert.Empty(t, cat.removed)
}

func TestCancelTransaction(t *testing.T) {
	a, cat := newTestApp(t)

	tx, err := cat.Update(cat.resources[1])
	require.NoError(t, err)
	a.Reload()

	press(a, "4", "c")
	assert.Equal(t, transaction.StatusCancelled, tx.Status())

	a.Update(transactionMsg{ev: transaction.Event{Transaction: tx, Status: transaction.StatusCancelled}})
	assert.Empty(t, a.transactions)
	assert.Contains(t, a.errorMsg, "cancelled")
}

func TestUpdateAll(t *testing.T) {
	a, _ := newTestApp(t)

	press(a, "U")
	require.True(t, a.showConfirm)
	press(a, "y")
	assert.Equal(t, "Started 1 updates", a.successMsg)
	assert.Len(t, a.transactions, 1)
}

func TestCheckForUpdates(t *testing.T) {
	a, cat := newTestApp(t)

	cmd := a.checkForUpdates()
	a.Update(cmd())
	assert.Equal(t, 1, cat.checks)
	assert.Equal(t, "1 updates available", a.successMsg)
}

func TestViewsRender(t *testing.T) {
	a, _ := newTestApp(t)
	a.Update(a.loadHistory()())

	for i := range a.tabs {
		a.SetTab(i)
		out := a.View()
		assert.NotEmpty(t, out)
	}

	a.SetTab(4)
	assert.Contains(t, a.View(), "Kate")
	a.SetTab(5)
	assert.Contains(t, a.View(), "no snapd")

	a.SetTab(0)
	press(a, "enter")
	require.Equal(t, ViewDetails, a.activeView)
	out := a.View()
	assert.True(t, strings.Contains(out, "flatpak://system/flathub/app/org.kde.kate/stable"))
	press(a, "esc")
	assert.Equal(t, ViewInstalled, a.activeView)
}
