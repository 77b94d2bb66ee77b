package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"discover/internal/history"
	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/transaction"
)

// tickInterval bounds how stale the views get when events are dropped.
const tickInterval = time.Second

// Messages for async operations
type (
	catalogChangedMsg struct{}

	transactionMsg struct {
		ev transaction.Event
	}

	searchResultsMsg struct {
		query   string
		results []*resource.Resource
		err     error
	}

	historyLoadedMsg struct {
		entries []history.Entry
		err     error
	}

	refreshDoneMsg struct {
		err error
	}

	tickMsg time.Time
)

// App wraps the Model with bubbletea components
type App struct {
	*Model

	ctx    context.Context
	cancel context.CancelFunc

	spinner   spinner.Model
	textInput textinput.Model
	progress  progress.Model
	help      help.Model

	events chan tea.Msg
	unsubs []func()
}

// NewApp creates a new TUI application
func NewApp(ctx context.Context, cat Catalog, journal Journal) *App {
	ctx, cancel := context.WithCancel(ctx)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	ti := textinput.New()
	ti.Placeholder = "Type to search..."
	ti.CharLimit = 100
	ti.Width = 40

	pr := progress.New(progress.WithDefaultGradient(), progress.WithWidth(30))

	return &App{
		Model:     NewModel(cat, journal),
		ctx:       ctx,
		cancel:    cancel,
		spinner:   sp,
		textInput: ti,
		progress:  pr,
		help:      help.New(),
		events:    make(chan tea.Msg, 64),
	}
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	a.unsubs = append(a.unsubs,
		a.catalog.Subscribe(func(backend.Event) { a.notify(catalogChangedMsg{}) }),
		a.catalog.Listener().Subscribe(func(ev transaction.Event) { a.notify(transactionMsg{ev: ev}) }),
	)
	a.Reload()

	return tea.Batch(
		a.spinner.Tick,
		a.waitForEvent(),
		a.loadHistory(),
		tick(),
	)
}

// Close detaches the app from the catalog.
func (a *App) Close() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
	a.cancel()
}

// notify forwards a catalog event without ever blocking the publisher. Dropped events are
// caught up by the next tick.
func (a *App) notify(msg tea.Msg) {
	select {
	case a.events <- msg:
	default:
	}
}

func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-a.events:
			return msg
		case <-a.ctx.Done():
			return nil
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.SetSize(msg.Width, msg.Height)
		a.help.Width = msg.Width
		a.ready = true

	case tea.KeyMsg:
		return a, a.handleKey(msg)

	case catalogChangedMsg:
		a.Reload()
		cmds = append(cmds, a.waitForEvent())

	case transactionMsg:
		a.Reload()
		if msg.ev.Status.Terminal() {
			a.reportFinished(msg.ev)
			cmds = append(cmds, a.loadHistory())
		}
		cmds = append(cmds, a.waitForEvent())

	case tickMsg:
		a.Reload()
		cmds = append(cmds, tick())

	case searchResultsMsg:
		a.SetLoading(false, "")
		if msg.query != a.searchQuery {
			break
		}
		if msg.err != nil {
			a.SetError(msg.err.Error())
		}
		a.searchResults = msg.results
		a.cursors[ViewSearch] = 0
		a.scrolls[ViewSearch] = 0

	case historyLoadedMsg:
		if msg.err == nil {
			a.historyEntries = msg.entries
		}

	case refreshDoneMsg:
		a.SetLoading(false, "")
		if msg.err != nil {
			a.SetError(msg.err.Error())
		} else {
			a.SetSuccess(fmt.Sprintf("%d updates available", len(a.catalog.UpgradeablePackages())))
		}
		a.Reload()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	// Handle confirmation dialog first
	if a.showConfirm {
		switch msg.String() {
		case "y", "Y", "enter":
			a.ConfirmYes()
		case "n", "N", "esc", "q":
			a.ConfirmNo()
		}
		return nil
	}

	// Handle input mode
	if a.inputMode {
		switch msg.String() {
		case "enter":
			prompt := a.inputPrompt
			a.FinishInput()
			if prompt == searchPrompt && a.searchQuery != "" {
				return a.search(a.searchQuery)
			}
			return nil
		case "esc":
			a.CancelInput()
			return nil
		}
		var cmd tea.Cmd
		a.textInput, cmd = a.textInput.Update(msg)
		a.inputValue = a.textInput.Value()
		return cmd
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		a.quitting = true
		a.Close()
		return tea.Quit

	case key.Matches(msg, a.keys.Help):
		a.ToggleHelp()

	case key.Matches(msg, a.keys.Tabs):
		a.SetTab(int(msg.Runes[0] - '1'))
		if a.activeView == ViewSearch && a.searchQuery == "" {
			a.startSearch()
		}
	case key.Matches(msg, a.keys.Left):
		a.PrevTab()
	case key.Matches(msg, a.keys.Right):
		a.NextTab()

	case key.Matches(msg, a.keys.Back):
		a.GoBack()
		a.ClearMessages()

	case key.Matches(msg, a.keys.Up):
		a.MoveCursor(-1)
	case key.Matches(msg, a.keys.Down):
		a.MoveCursor(1)
	case key.Matches(msg, a.keys.PageUp):
		a.MoveCursor(-a.VisibleHeight())
	case key.Matches(msg, a.keys.PageDown):
		a.MoveCursor(a.VisibleHeight())
	case key.Matches(msg, a.keys.Top):
		a.GoToTop()
	case key.Matches(msg, a.keys.Bottom):
		a.GoToBottom()

	case key.Matches(msg, a.keys.Enter):
		a.ShowDetails()

	case key.Matches(msg, a.keys.Search):
		a.SetTab(int(ViewSearch))
		a.startSearch()

	case key.Matches(msg, a.keys.Filter):
		if a.activeView == ViewInstalled || a.activeView == ViewUpdates {
			a.startFilter()
		}

	case key.Matches(msg, a.keys.Refresh):
		a.SetLoading(true, "Checking for updates...")
		return a.checkForUpdates()

	case key.Matches(msg, a.keys.Install):
		if res := a.SelectedResource(); res != nil && !res.IsInstalled() {
			a.ShowConfirm(fmt.Sprintf("Install %s from %s?", res.DisplayName(), res.Backend()), func() {
				a.started("Installing", res)(a.catalog.Install(res, transaction.Addons{}))
			})
		}

	case key.Matches(msg, a.keys.Remove):
		if res := a.SelectedResource(); res != nil && res.IsInstalled() {
			a.ShowConfirm(fmt.Sprintf("Remove %s?", res.DisplayName()), func() {
				a.started("Removing", res)(a.catalog.Remove(res))
			})
		}

	case key.Matches(msg, a.keys.Update):
		if res := a.SelectedResource(); res != nil && res.State() == resource.StateUpgradeAvailable {
			a.started("Updating", res)(a.catalog.Update(res))
		}

	case key.Matches(msg, a.keys.UpdateAll):
		if n := len(a.updates); n > 0 {
			a.ShowConfirm(fmt.Sprintf("Update %d resources?", n), func() {
				txs, err := a.catalog.UpdateAll()
				if err != nil {
					a.SetError(err.Error())
				} else {
					a.SetSuccess(fmt.Sprintf("Started %d updates", len(txs)))
				}
				a.Reload()
			})
		}

	case key.Matches(msg, a.keys.CancelTx):
		if tx := a.SelectedTransaction(); tx != nil {
			if err := a.catalog.Listener().Cancel(tx.ID()); err != nil {
				a.SetError(err.Error())
			}
		}
	}
	return nil
}

// started reports the outcome of submitting a transaction.
func (a *App) started(verb string, res *resource.Resource) func(*transaction.Transaction, error) {
	return func(_ *transaction.Transaction, err error) {
		if err != nil {
			a.SetError(err.Error())
			return
		}
		a.SetSuccess(fmt.Sprintf("%s %s...", verb, res.DisplayName()))
		a.Reload()
	}
}

func (a *App) reportFinished(ev transaction.Event) {
	name := ev.Transaction.Resource().DisplayName()
	role := ev.Transaction.Role().String()
	switch ev.Status {
	case transaction.StatusDone:
		a.SetSuccess(fmt.Sprintf("%s %s: done", role, name))
	case transaction.StatusCancelled:
		a.SetError(fmt.Sprintf("%s %s: cancelled", role, name))
	case transaction.StatusFailed:
		a.SetError(fmt.Sprintf("%s %s failed: %v", role, name, ev.Err))
	}
}

// View implements tea.Model
func (a *App) View() string {
	if !a.ready {
		return "Loading..."
	}
	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(a.renderHeader())
	b.WriteString("\n")
	b.WriteString(a.renderTabs())
	b.WriteString("\n")
	b.WriteString(a.renderContent())
	b.WriteString(a.renderFooter())

	if a.showConfirm {
		return a.renderWithDialog()
	}
	return b.String()
}

// renderHeader renders the header bar
func (a *App) renderHeader() string {
	title := a.styles.Header.Render(" Discover ")
	if n := len(a.updates); n > 0 {
		title += " " + Badge(fmt.Sprintf("%d updates", n), ColorWarning)
	}

	var right string
	switch {
	case a.loading:
		right = a.spinner.View() + " " + a.loadingMsg
	case a.errorMsg != "":
		right = a.styles.Error.Render(a.errorMsg)
	case a.successMsg != "":
		right = a.styles.Success.Render(a.successMsg)
	}

	padding := max(0, a.width-lipgloss.Width(title)-lipgloss.Width(right)-2)
	return title + strings.Repeat(" ", padding) + right
}

// renderTabs renders the tab bar
func (a *App) renderTabs() string {
	var tabs []string
	for i, tab := range a.tabs {
		style := a.styles.TabInactive
		if i == a.activeTab {
			style = a.styles.TabActive
		}
		label := fmt.Sprintf("[%d] %s", i+1, tab.Name)
		switch tab.View {
		case ViewUpdates:
			label += fmt.Sprintf(" (%d)", len(a.updates))
		case ViewTransactions:
			label += fmt.Sprintf(" (%d)", len(a.transactions))
		}
		tabs = append(tabs, style.Render(label))
	}

	return lipgloss.NewStyle().
		Width(a.width).
		Background(ColorBgAlt).
		Padding(0, 1).
		Render(strings.Join(tabs, " "))
}

// renderContent renders the main content area
func (a *App) renderContent() string {
	var content string
	switch a.activeView {
	case ViewInstalled:
		content = a.renderResourceList(a.ListItems(), "Installed")
	case ViewSearch:
		content = a.renderSearchView()
	case ViewUpdates:
		content = a.renderResourceList(a.ListItems(), "Updates")
	case ViewTransactions:
		content = a.renderTransactionsView()
	case ViewHistory:
		content = a.renderHistoryView()
	case ViewBackends:
		content = a.renderBackendsView()
	case ViewDetails:
		content = a.renderDetailsView()
	case ViewHelp:
		content = a.help.FullHelpView(a.keys.FullHelp())
	}

	return lipgloss.NewStyle().
		Width(a.width).
		Height(max(0, a.height-5)).
		Render(content)
}

func (a *App) renderResourceList(items []*resource.Resource, title string) string {
	var b strings.Builder

	titleStr := fmt.Sprintf("%s (%d)", title, len(items))
	if a.filterText != "" {
		titleStr += " - Filter: " + a.filterText
	}
	if a.inputMode && a.inputPrompt == filterPrompt {
		titleStr = a.styles.InputPrompt.Render(filterPrompt) + a.textInput.View()
	}
	b.WriteString(a.styles.Title.Render(titleStr))
	b.WriteString("\n\n")

	if len(items) == 0 {
		b.WriteString(a.styles.Description.Render("Nothing here"))
		return b.String()
	}
	b.WriteString(a.renderLines(len(items), func(i int, selected bool) string {
		return a.renderResourceLine(items[i], selected)
	}))
	return b.String()
}

// renderLines renders the visible window of a list.
func (a *App) renderLines(n int, line func(i int, selected bool) string) string {
	var b strings.Builder

	visibleHeight := a.VisibleHeight()
	scroll := a.Scroll()
	cursor := a.Cursor()
	end := min(n, scroll+visibleHeight)

	for i := scroll; i < end; i++ {
		b.WriteString(line(i, i == cursor))
		b.WriteString("\n")
	}
	if n > visibleHeight {
		b.WriteString(a.styles.Description.Render(fmt.Sprintf("\n  (%d/%d)", cursor+1, n)))
	}
	return b.String()
}

func (a *App) cursorMark(selected bool) string {
	if selected {
		return a.styles.ListItemSelected.Render("> ")
	}
	return "  "
}

func (a *App) renderResourceLine(res *resource.Resource, selected bool) string {
	snap := res.Snapshot()

	name := lipgloss.NewStyle().Foreground(ColorText).Render(snap.DisplayName)
	if selected {
		name = a.styles.ResourceName.Render(snap.DisplayName)
	}
	version := a.styles.ResourceVersion.Render(snap.Version)
	state := StateStyle(snap.State).Render(snap.State)
	badge := BackendBadge(snap.Backend, snap.Scope)

	used := lipgloss.Width(name) + lipgloss.Width(version) + lipgloss.Width(state) + lipgloss.Width(badge) + 12
	desc := a.styles.ResourceDesc.Render(truncate(snap.Comment, a.width-used))

	return fmt.Sprintf("%s%-30s %s %s %s %s", a.cursorMark(selected), name, version, state, badge, desc)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

const (
	searchPrompt = "Search: "
	filterPrompt = "Filter: "
)

func (a *App) renderSearchView() string {
	var b strings.Builder

	switch {
	case a.inputMode && a.inputPrompt == searchPrompt:
		b.WriteString(a.styles.InputPrompt.Render(searchPrompt))
		b.WriteString(a.textInput.View())
	case a.searchQuery != "":
		b.WriteString(a.styles.Title.Render(fmt.Sprintf("Results for '%s' (%d)", a.searchQuery, len(a.searchResults))))
	default:
		b.WriteString(a.styles.Title.Render("Search"))
		b.WriteString("\n")
		b.WriteString(a.styles.Description.Render("Press / to search every backend"))
	}
	b.WriteString("\n\n")

	if len(a.searchResults) > 0 {
		b.WriteString(a.renderLines(len(a.searchResults), func(i int, selected bool) string {
			return a.renderResourceLine(a.searchResults[i], selected)
		}))
	} else if a.searchQuery != "" && !a.loading {
		b.WriteString(a.styles.Description.Render("No results found"))
	}
	return b.String()
}

func (a *App) renderTransactionsView() string {
	var b strings.Builder

	b.WriteString(a.styles.Title.Render("Transactions"))
	b.WriteString("\n\n")

	if len(a.transactions) == 0 {
		b.WriteString(a.styles.Description.Render("No transaction in progress"))
		return b.String()
	}
	b.WriteString(a.renderLines(len(a.transactions), func(i int, selected bool) string {
		tx := a.transactions[i]
		return fmt.Sprintf("%s%-8s %-30s %-12s %s %3d%%",
			a.cursorMark(selected),
			tx.Role(),
			tx.Resource().DisplayName(),
			tx.Status(),
			a.progress.ViewAs(float64(tx.Progress())/100),
			tx.Progress())
	}))
	return b.String()
}

func (a *App) renderHistoryView() string {
	var b strings.Builder

	b.WriteString(a.styles.Title.Render("History"))
	b.WriteString("\n\n")

	if len(a.historyEntries) == 0 {
		b.WriteString(a.styles.Description.Render("No history entries"))
		return b.String()
	}
	b.WriteString(a.renderLines(len(a.historyEntries), func(i int, selected bool) string {
		e := a.historyEntries[i]
		status := a.styles.Success.Render(e.Status)
		if !e.Succeeded() {
			status = a.styles.Error.Render(e.Status)
		}
		return fmt.Sprintf("%s%s  %-8s %-30s %s  %s",
			a.cursorMark(selected),
			humanize.Time(e.Timestamp),
			e.Role,
			truncate(e.DisplayName, 30),
			BackendBadge(e.Backend, ""),
			status)
	}))
	return b.String()
}

func (a *App) renderBackendsView() string {
	var b strings.Builder

	b.WriteString(a.styles.Title.Render("Backends"))
	b.WriteString("\n\n")

	for _, be := range a.catalog.Backends() {
		status := a.styles.Success.Render("ready")
		if be.IsFetching() {
			status = a.spinner.View() + " refreshing"
		}
		fmt.Fprintf(&b, "  %s %-28s %s  %d resources, %d updates\n",
			BackendBadge(be.Name(), ""),
			be.DisplayName(),
			status,
			len(be.AllResources()),
			be.UpdatesCount())
	}
	for name, err := range a.catalog.SetupErrors() {
		fmt.Fprintf(&b, "  %s %s\n", BackendBadge(name, ""), a.styles.Error.Render(err.Error()))
	}
	return b.String()
}

func (a *App) renderDetailsView() string {
	var b strings.Builder

	if a.selected == nil {
		return a.styles.Error.Render("Nothing selected")
	}
	snap := a.selected.Snapshot()

	b.WriteString(a.styles.Title.Render(snap.DisplayName))
	b.WriteString(" ")
	b.WriteString(BackendBadge(snap.Backend, snap.Scope))
	b.WriteString("\n\n")

	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(a.styles.Subtitle.Render(fmt.Sprintf("%-15s", label)))
		b.WriteString(value)
		b.WriteString("\n")
	}
	field("Summary", snap.Comment)
	field("Locator", snap.URL)
	field("Origin", snap.Origin)
	field("Branch", snap.Branch)
	field("Version", a.styles.ResourceVersion.Render(snap.Version))
	field("State", StateStyle(snap.State).Render(snap.State))
	field("Runtime", snap.Runtime)
	if snap.Size > 0 {
		field("Size", humanize.Bytes(snap.Size))
	}

	b.WriteString("\n")
	b.WriteString(a.styles.Subtitle.Render("Actions"))
	b.WriteString("\n")
	switch {
	case snap.State == resource.StateUpgradeAvailable.String():
		b.WriteString("  [u] Update\n  [r] Remove\n")
	case a.selected.IsInstalled():
		b.WriteString("  [r] Remove\n")
	default:
		b.WriteString("  [i] Install\n")
	}
	b.WriteString("  [esc] Back\n")
	return b.String()
}

// renderFooter renders the footer bar
func (a *App) renderFooter() string {
	return lipgloss.NewStyle().
		Width(a.width).
		Background(ColorBgAlt).
		Padding(0, 1).
		Render(a.help.ShortHelpView(a.keys.ShortHelp()))
}

// renderWithDialog renders the confirmation dialog over the screen
func (a *App) renderWithDialog() string {
	dialog := a.styles.Dialog.Render(
		a.styles.DialogTitle.Render(a.confirmTitle) + "\n\n" +
			a.styles.DialogButton.Render("[Y]es") + " " +
			lipgloss.NewStyle().Foreground(ColorMuted).Render("[N]o"),
	)

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, dialog,
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(ColorBg))
}

// startSearch initiates search input
func (a *App) startSearch() {
	a.textInput.SetValue("")
	a.textInput.Focus()
	a.StartInput(searchPrompt, func(query string) {
		a.searchQuery = strings.TrimSpace(query)
		if a.searchQuery != "" {
			a.SetLoading(true, "Searching...")
		}
	})
}

// startFilter initiates filter input
func (a *App) startFilter() {
	a.textInput.SetValue(a.filterText)
	a.textInput.Focus()
	a.StartInput(filterPrompt, func(filter string) {
		a.filterText = filter
		a.SetCursor(0)
		a.SetScroll(0)
	})
}

// Async commands

func (a *App) search(query string) tea.Cmd {
	return func() tea.Msg {
		results, err := a.catalog.Search(a.ctx, backend.Filters{Search: query}).Collect()
		return searchResultsMsg{query: query, results: results, err: err}
	}
}

func (a *App) checkForUpdates() tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg{err: a.catalog.CheckForUpdates(a.ctx)}
	}
}

func (a *App) loadHistory() tea.Cmd {
	return func() tea.Msg {
		if a.journal == nil {
			return historyLoadedMsg{}
		}
		entries, err := a.journal.List(100)
		return historyLoadedMsg{entries: entries, err: err}
	}
}

// Run starts the TUI application
func Run(ctx context.Context, cat Catalog, journal Journal) error {
	app := NewApp(ctx, cat, journal)
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
