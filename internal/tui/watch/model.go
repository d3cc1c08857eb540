package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/events"
)

const maxEventLog = 200

// Model is the bubbletea model for the watch TUI.
type Model struct {
	apiURL string
	token  string
	filter events.Filter

	width  int
	height int

	health    HealthState
	scheduler SchedulerState
	accounts  map[string]*AccountState
	eventLog  []events.Event // newest first

	ticker  Ticker
	spinner Spinner
	theme   Theme

	accountTable table.Model
	stream       viewport.Model

	hubEvents chan events.Event
	lastID    *int64

	lastError string
}

// New creates a watch model for the service at apiURL. A non-empty filter
// limits the feed to matching event types.
func New(apiURL, token string, filter events.Filter) *Model {
	return &Model{
		apiURL:       apiURL,
		token:        token,
		filter:       filter,
		accounts:     make(map[string]*AccountState),
		ticker:       NewTicker(),
		theme:        NewDefaultTheme(),
		accountTable: newAccountTable(),
		hubEvents:    make(chan events.Event, 100),
		lastID:       new(int64),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.filter, m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.stream, cmd = m.stream.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.accountTable.SetWidth(m.width - 6)
		m.stream.Width = m.width - 6
		m.stream.Height = max(m.height/3, 3)
		m.stream.SetContent(formatEventLog(m.eventLog, m.theme))

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Billing = msg.Billing
		m.health.Routing = msg.Routing
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event feed disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.filter, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })
	}

	return m, nil
}

// applyEvent folds one feed event into the model state.
func (m *Model) applyEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.spinner.OnEvent(e.At)

	updateSchedulerState(&m.scheduler, e)
	updateAccountState(m.accounts, e)
	m.accountTable.SetRows(accountRows(m.accounts))
	m.stream.SetContent(formatEventLog(m.eventLog, m.theme))

	m.health.Connected = true
	m.lastError = ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to switchboard..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width, time.Now()),
		renderScheduler(m.scheduler, m.theme, m.width),
		renderCredit(m.accountTable, m.accounts, m.theme, m.width),
		renderEventStream(m.stream.View(), len(m.eventLog) == 0, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll events"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
