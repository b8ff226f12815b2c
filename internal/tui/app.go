package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/1broseidon/vsyncd/internal/ipc"
)

type statusMsg struct {
	data *ipc.StatusData
	err  error
}

type dumpMsg struct {
	text string
	err  error
}

type tickMsg time.Time

// model is the root bubbletea model for the monitor.
type model struct {
	src      Source
	interval time.Duration

	status   *ipc.StatusData
	lastErr  error
	selected int
	paused   bool

	// Dump overlay for the selected display.
	dump     string
	showDump bool

	width  int
	height int
}

func newModel(src Source, interval time.Duration) model {
	return model{src: src, interval: interval}
}

func (m model) poll() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		data, err := src.GetStatus()
		return statusMsg{data: data, err: err}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetchDump() tea.Cmd {
	src := m.src
	id, ok := m.selectedID()
	return func() tea.Msg {
		var sel *int
		if ok {
			sel = &id
		}
		text, err := src.Dump(sel)
		return dumpMsg{text: text, err: err}
	}
}

func (m model) selectedID() (int, bool) {
	if m.status == nil || len(m.status.Displays) == 0 {
		return 0, false
	}
	return m.status.Displays[m.selected].ID, true
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.tick())
}

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showDump {
			switch msg.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "esc", "d", "enter":
				m.showDump = false
			}
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			m.moveSelection(-1)
		case "down", "j":
			m.moveSelection(1)
		case "p", " ":
			m.paused = !m.paused
		case "r":
			return m, m.poll()
		case "d":
			return m, m.fetchDump()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		if m.paused {
			return m, m.tick()
		}
		return m, tea.Batch(m.poll(), m.tick())

	case statusMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.status = msg.data
			m.clampSelection()
		}
		return m, nil

	case dumpMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.dump = msg.text
		m.showDump = true
		return m, nil
	}
	return m, nil
}

func (m *model) moveSelection(delta int) {
	if m.status == nil || len(m.status.Displays) == 0 {
		return
	}
	n := len(m.status.Displays)
	m.selected = (m.selected + delta + n) % n
}

func (m *model) clampSelection() {
	if m.status == nil || len(m.status.Displays) == 0 {
		m.selected = 0
		return
	}
	if m.selected >= len(m.status.Displays) {
		m.selected = len(m.status.Displays) - 1
	}
}

// View implements tea.Model.
func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	header := renderHeader(m.status, m.lastErr, m.paused, m.width)
	help := renderHelpBar(m.showDump, m.width)

	bodyHeight := m.height - lipgloss.Height(header) - lipgloss.Height(help)
	if bodyHeight < 1 {
		bodyHeight = 1
	}

	var body string
	switch {
	case m.showDump:
		body = renderDump(m.dump, m.width, bodyHeight)
	case m.status == nil:
		body = renderPlaceholder("waiting for daemon...", m.width, bodyHeight)
	default:
		body = lipgloss.JoinVertical(lipgloss.Left,
			renderDisplayTable(m.status.Displays, m.selected, m.width),
			renderDetail(m.status, m.selected, m.width),
		)
		body = lipgloss.NewStyle().Height(bodyHeight).MaxHeight(bodyHeight).Render(body)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, help)
}
