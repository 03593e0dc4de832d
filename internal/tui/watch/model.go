package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ibam-learn/enrollgw/internal/eventlog"
)

type tagCounts struct {
	memberships int
	courses     int
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	baseURL string

	width  int
	height int

	// State
	health    HealthState
	tags      tagCounts
	total     int
	eventLog  []eventlog.Event
	seen      map[string]bool
	lastError string

	// Live indicators
	ticker  Ticker
	spinner Spinner

	decisions table.Model
	theme     Theme
}

// New creates a new watch TUI model polling the gateway at baseURL.
func New(baseURL string) *Model {
	return &Model{
		baseURL:   baseURL,
		seen:      make(map[string]bool),
		ticker:    NewTicker(),
		spinner:   NewSpinner(),
		decisions: newDecisionTable(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return fetchStatus(m.baseURL) },
		func() tea.Msg { return fetchHealth(m.baseURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.decisions.SetWidth(m.width - 6)

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case statusMsg:
		// Light the spinner only when unseen decisions arrive.
		for _, e := range msg.RecentEvents {
			if !m.seen[e.ID] {
				m.seen[e.ID] = true
				m.spinner.OnEvent()
			}
		}
		m.eventLog = msg.RecentEvents
		m.total = msg.TotalProcessed
		m.tags = tagCounts{
			memberships: len(msg.MembershipTags),
			courses:     len(msg.CourseTags),
		}
		m.decisions.SetRows(decisionRows(m.eventLog, m.theme))
		m.health.Connected = true
		m.lastError = ""

		return m, tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
			return fetchStatus(m.baseURL)
		})

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.EventsLogged = msg.EventsLogged
		m.health.Connected = true
		m.health.LastCheck = time.Now()

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.baseURL)
		})

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		// Retry polling in 3s
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return fetchStatus(m.baseURL)
		})
	}

	m.decisions, cmd = m.decisions.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := renderHeader(m.health, m.tags, m.ticker, m.spinner, m.theme, m.width)

	decisionsView := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("WEBHOOK DECISIONS"),
			m.decisions.View(),
		),
	)

	totals := m.theme.Dim.Render(fmt.Sprintf(" %d webhooks processed", m.total))

	// Error bar
	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll Decisions")

	parts := []string{header, decisionsView, totals}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
