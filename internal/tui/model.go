package tui

import (
	"context"

	"github.com/sahilm/fuzzy"

	"discover/internal/history"
	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/stream"
	"discover/pkg/transaction"
)

// Catalog is what the TUI needs from the aggregated catalog.
type Catalog interface {
	Backends() []backend.Backend
	SetupErrors() map[string]error
	Listener() *transaction.Listener
	Subscribe(h func(backend.Event)) func()
	AllResources() []*resource.Resource
	UpgradeablePackages() []*resource.Resource
	Search(ctx context.Context, f backend.Filters) *stream.Stream
	CheckForUpdates(ctx context.Context) error
	Install(res *resource.Resource, addons transaction.Addons) (*transaction.Transaction, error)
	Remove(res *resource.Resource) (*transaction.Transaction, error)
	Update(res *resource.Resource) (*transaction.Transaction, error)
	UpdateAll() ([]*transaction.Transaction, error)
}

// Journal lists past transactions.
type Journal interface {
	List(limit int) ([]history.Entry, error)
}

// View represents different views in the TUI
type View int

const (
	ViewInstalled View = iota
	ViewSearch
	ViewUpdates
	ViewTransactions
	ViewHistory
	ViewBackends
	ViewDetails
	ViewHelp
)

// Tab represents a navigable tab
type Tab struct {
	Name string
	View View
}

// DefaultTabs returns the default tab configuration
func DefaultTabs() []Tab {
	return []Tab{
		{Name: "Installed", View: ViewInstalled},
		{Name: "Search", View: ViewSearch},
		{Name: "Updates", View: ViewUpdates},
		{Name: "Transactions", View: ViewTransactions},
		{Name: "History", View: ViewHistory},
		{Name: "Backends", View: ViewBackends},
	}
}

// Model holds the application state
type Model struct {
	// Core state
	ready    bool
	quitting bool

	// Dimensions
	width  int
	height int

	// Navigation
	tabs       []Tab
	activeTab  int
	activeView View
	prevView   View

	// Data
	catalog        Catalog
	journal        Journal
	installed      []*resource.Resource
	searchResults  []*resource.Resource
	updates        []*resource.Resource
	transactions   []*transaction.Transaction
	historyEntries []history.Entry
	selected       *resource.Resource

	// UI state
	loading      bool
	loadingMsg   string
	errorMsg     string
	successMsg   string
	filterText   string
	searchQuery  string
	inputMode    bool
	inputPrompt  string
	inputValue   string
	inputHandler func(string)

	// Cursor positions for each view
	cursors map[View]int

	// Scroll offsets for each view
	scrolls map[View]int

	// Styles and keys
	styles *Styles
	keys   KeyMap

	// Confirmation dialog
	showConfirm   bool
	confirmTitle  string
	confirmAction func()
}

// NewModel creates a new TUI model
func NewModel(cat Catalog, journal Journal) *Model {
	return &Model{
		tabs:       DefaultTabs(),
		activeView: ViewInstalled,
		catalog:    cat,
		journal:    journal,
		cursors:    make(map[View]int),
		scrolls:    make(map[View]int),
		styles:     DefaultStyles(),
		keys:       DefaultKeyMap(),
	}
}

// Reload re-reads the in-memory catalog state. Search results are kept.
func (m *Model) Reload() {
	var installed []*resource.Resource
	for _, r := range m.catalog.AllResources() {
		if r.IsInstalled() {
			installed = append(installed, r)
		}
	}
	m.installed = installed
	m.updates = m.catalog.UpgradeablePackages()
	m.transactions = m.catalog.Listener().Active()
	m.clampCursors()
}

func (m *Model) clampCursors() {
	for v, pos := range m.cursors {
		n := m.itemCount(v)
		if pos >= n {
			m.cursors[v] = max(0, n-1)
		}
		if m.scrolls[v] > m.cursors[v] {
			m.scrolls[v] = m.cursors[v]
		}
	}
}

// SetSize sets the terminal size
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// CurrentTab returns the current tab
func (m *Model) CurrentTab() Tab {
	if m.activeTab >= 0 && m.activeTab < len(m.tabs) {
		return m.tabs[m.activeTab]
	}
	return m.tabs[0]
}

// Cursor returns the cursor position for the current view
func (m *Model) Cursor() int {
	return m.cursors[m.activeView]
}

// SetCursor sets the cursor position for the current view
func (m *Model) SetCursor(pos int) {
	m.cursors[m.activeView] = pos
}

// Scroll returns the scroll offset for the current view
func (m *Model) Scroll() int {
	return m.scrolls[m.activeView]
}

// SetScroll sets the scroll offset for the current view
func (m *Model) SetScroll(offset int) {
	m.scrolls[m.activeView] = offset
}

// VisibleHeight returns the height available for list content
func (m *Model) VisibleHeight() int {
	// Account for header (2), tabs (1), footer (2), padding (2)
	return max(1, m.height-7)
}

// ListItems returns the resources listed by the current view, filtered.
func (m *Model) ListItems() []*resource.Resource {
	return m.itemsFor(m.activeView)
}

func (m *Model) itemsFor(v View) []*resource.Resource {
	switch v {
	case ViewInstalled:
		return filterResources(m.installed, m.filterText)
	case ViewSearch:
		return m.searchResults
	case ViewUpdates:
		return filterResources(m.updates, m.filterText)
	}
	return nil
}

func (m *Model) itemCount(v View) int {
	switch v {
	case ViewTransactions:
		return len(m.transactions)
	case ViewHistory:
		return len(m.historyEntries)
	}
	return len(m.itemsFor(v))
}

// resourceNames adapts a resource list to fuzzy.Source.
type resourceNames []*resource.Resource

func (r resourceNames) String(i int) string { return r[i].DisplayName() + " " + r[i].Name() }
func (r resourceNames) Len() int            { return len(r) }

// filterResources keeps the resources fuzzily matching pattern, best match first.
func filterResources(rs []*resource.Resource, pattern string) []*resource.Resource {
	if pattern == "" {
		return rs
	}
	matches := fuzzy.FindFrom(pattern, resourceNames(rs))
	out := make([]*resource.Resource, 0, len(matches))
	for _, match := range matches {
		out = append(out, rs[match.Index])
	}
	return out
}

// SelectedResource returns the resource under the cursor.
func (m *Model) SelectedResource() *resource.Resource {
	if m.activeView == ViewDetails {
		return m.selected
	}
	items := m.ListItems()
	cursor := m.Cursor()
	if cursor >= 0 && cursor < len(items) {
		return items[cursor]
	}
	return nil
}

// SelectedTransaction returns the live transaction under the cursor.
func (m *Model) SelectedTransaction() *transaction.Transaction {
	if m.activeView != ViewTransactions {
		return nil
	}
	cursor := m.Cursor()
	if cursor >= 0 && cursor < len(m.transactions) {
		return m.transactions[cursor]
	}
	return nil
}

// MoveCursor moves the cursor by delta, clamping to valid range
func (m *Model) MoveCursor(delta int) {
	n := m.itemCount(m.activeView)
	if n == 0 {
		return
	}

	newPos := max(0, min(m.Cursor()+delta, n-1))
	m.SetCursor(newPos)

	// Adjust scroll to keep cursor visible
	visibleHeight := m.VisibleHeight()
	scroll := m.Scroll()

	if newPos < scroll {
		m.SetScroll(newPos)
	} else if newPos >= scroll+visibleHeight {
		m.SetScroll(newPos - visibleHeight + 1)
	}
}

// GoToTop moves cursor to the top
func (m *Model) GoToTop() {
	m.SetCursor(0)
	m.SetScroll(0)
}

// GoToBottom moves cursor to the bottom
func (m *Model) GoToBottom() {
	n := m.itemCount(m.activeView)
	if n == 0 {
		return
	}
	m.SetCursor(n - 1)
	if visibleHeight := m.VisibleHeight(); n > visibleHeight {
		m.SetScroll(n - visibleHeight)
	}
}

// NextTab switches to the next tab
func (m *Model) NextTab() {
	m.SetTab((m.activeTab + 1) % len(m.tabs))
}

// PrevTab switches to the previous tab
func (m *Model) PrevTab() {
	m.SetTab((m.activeTab + len(m.tabs) - 1) % len(m.tabs))
}

// SetTab switches to a specific tab by index
func (m *Model) SetTab(index int) {
	if index >= 0 && index < len(m.tabs) {
		m.activeTab = index
		m.activeView = m.tabs[m.activeTab].View
	}
}

// ShowDetails shows the details view for the selected resource
func (m *Model) ShowDetails() {
	if res := m.SelectedResource(); res != nil {
		m.selected = res
		m.prevView = m.activeView
		m.activeView = ViewDetails
	}
}

// ToggleHelp shows or hides the help view.
func (m *Model) ToggleHelp() {
	if m.activeView == ViewHelp {
		m.GoBack()
		return
	}
	m.prevView = m.activeView
	m.activeView = ViewHelp
}

// GoBack returns to the previous view
func (m *Model) GoBack() {
	if m.activeView == ViewDetails || m.activeView == ViewHelp {
		m.activeView = m.prevView
	}
}

// SetLoading sets the loading state
func (m *Model) SetLoading(loading bool, msg string) {
	m.loading = loading
	m.loadingMsg = msg
}

// SetError sets an error message
func (m *Model) SetError(msg string) {
	m.errorMsg = msg
	m.successMsg = ""
}

// SetSuccess sets a success message
func (m *Model) SetSuccess(msg string) {
	m.successMsg = msg
	m.errorMsg = ""
}

// ClearMessages clears all messages
func (m *Model) ClearMessages() {
	m.errorMsg = ""
	m.successMsg = ""
}

// StartInput starts input mode
func (m *Model) StartInput(prompt string, handler func(string)) {
	m.inputMode = true
	m.inputPrompt = prompt
	m.inputValue = ""
	m.inputHandler = handler
}

// FinishInput finishes input mode and calls the handler
func (m *Model) FinishInput() {
	handler, value := m.inputHandler, m.inputValue
	m.CancelInput()
	if handler != nil {
		handler(value)
	}
}

// CancelInput cancels input mode
func (m *Model) CancelInput() {
	m.inputMode = false
	m.inputPrompt = ""
	m.inputValue = ""
	m.inputHandler = nil
}

// ShowConfirm shows a confirmation dialog
func (m *Model) ShowConfirm(title string, action func()) {
	m.showConfirm = true
	m.confirmTitle = title
	m.confirmAction = action
}

// ConfirmYes executes the confirmation action
func (m *Model) ConfirmYes() {
	action := m.confirmAction
	m.ConfirmNo()
	if action != nil {
		action()
	}
}

// ConfirmNo cancels the confirmation
func (m *Model) ConfirmNo() {
	m.showConfirm = false
	m.confirmTitle = ""
	m.confirmAction = nil
}
