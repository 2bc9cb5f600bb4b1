// Package live implements the --ui=live trace dashboard: a bubbletea program
// that renders the event stream a rehosting run produces (SMC dispatches,
// RPCs, world switches) as a scrolling, tagged viewport, as an alternative to
// internal/ui/colorize's static line-at-a-time output.
package live

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zboralski/tzrehost/internal/trace"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	pcStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tagStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

const headerHeight = 1

type eventMsg *trace.Event

// Model is the dashboard's bubbletea model. Construct with New and pass to
// Run, or drive it directly in tests via Update/View.
type Model struct {
	viewport viewport.Model
	events   []*trace.Event
	incoming <-chan *trace.Event
	ready    bool
}

// New builds a dashboard model that reads events off incoming as they arrive.
func New(incoming <-chan *trace.Event) Model {
	return Model{incoming: incoming}
}

func waitForEvent(ch <-chan *trace.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.incoming)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight
		}
		m.viewport.SetContent(m.render())

	case eventMsg:
		if msg == nil {
			return m, nil
		}
		m.events = append(m.events, msg)
		if m.ready {
			m.viewport.SetContent(m.render())
			m.viewport.GotoBottom()
		}
		return m, waitForEvent(m.incoming)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "tzrehost: waiting for trace events..."
	}
	header := headerStyle.Render(fmt.Sprintf(" tzrehost trace — %d events ", len(m.events)))
	return header + "\n" + m.viewport.View()
}

// render formats the accumulated events as the viewport's scrollback
// content: one line per event, program-counter, tags, name, then detail.
func (m Model) render() string {
	var b strings.Builder
	for _, e := range m.events {
		tags := tagStyle.Render(strings.Join(e.Tags.Strings(), " "))
		pc := pcStyle.Render(fmt.Sprintf("%#010x", e.PC))
		fmt.Fprintf(&b, "%s %-40s %-20s %s\n", pc, tags, e.Name, e.Detail)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run starts the live dashboard in the alternate screen buffer, blocking
// until the user quits (q or ctrl+c). Closing incoming stops new events from
// arriving but does not end the program.
func Run(incoming <-chan *trace.Event) error {
	p := tea.NewProgram(New(incoming), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
