// Command pollwatch-tui is a terminal dashboard for a running pollwatchd,
// showing each named poll's current phase alongside a scrolling log of its
// recent tick history.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/pollwatch/pkg/poll"
	"github.com/rmax-ai/pollwatch/pkg/pollapi"
)

const (
	pollRate       = time.Second
	maxHistory     = 20
	viewportHeight = 20
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle = lipgloss.NewStyle().Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	eventTimeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(20)
	eventNameStyle = lipgloss.NewStyle().Width(20).Bold(true)

	resolvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	rejectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	otherStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

type historyEntry struct {
	pollName string
	record   pollapi.HistoryRecord
}

type tickMsg time.Time

type dataMsg struct {
	statuses map[string]poll.Tick[string]
	history  []historyEntry
	err      error
}

type model struct {
	client   *pollapi.Client
	names    []string
	spinner  spinner.Model
	viewport viewport.Model
	statuses map[string]poll.Tick[string]
	history  []historyEntry
	err      error
	ready    bool
}

func initialModel(client *pollapi.Client, names []string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	vp := viewport.New(100, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	return model{
		client:   client,
		names:    names,
		spinner:  s,
		viewport: vp,
		statuses: make(map[string]poll.Tick[string]),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchData(), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, m.fetchData(), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.statuses = msg.statuses
			m.history = msg.history
			m.updateViewportContent()
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder
	for _, e := range m.history {
		ts := e.record.At.Format("15:04:05")

		var phaseStr string
		switch poll.Phase(e.record.Phase) {
		case poll.PhaseResolved, poll.PhaseReconnect:
			phaseStr = resolvedStyle.Render(string(e.record.Phase))
		case poll.PhaseRejected:
			phaseStr = rejectedStyle.Render(string(e.record.Phase))
		default:
			phaseStr = otherStyle.Render(string(e.record.Phase))
		}

		detail := e.record.Value
		if e.record.Error != "" {
			detail = e.record.Error
		}

		line := fmt.Sprintf("%s %s %s %s\n",
			eventTimeStyle.Render(ts),
			eventNameStyle.Render(e.pollName),
			phaseStr,
			subtleStyle.Render(detail),
		)
		sb.WriteString(line)
	}
	m.viewport.SetContent(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Initializing...", m.spinner.View())
	}

	var statusList strings.Builder
	statusList.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Polls") + "\n\n")

	if len(m.statuses) == 0 {
		statusList.WriteString(subtleStyle.Render("No polls registered."))
	} else {
		names := make([]string, 0, len(m.statuses))
		for name := range m.statuses {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			tick := m.statuses[name]
			statusList.WriteString(fmt.Sprintf("• %s — %s (%s)\n", statusStyle.Render(name), tick.Phase, tick.Interval))
		}
	}

	topPane := paneStyle.Render(statusList.String())
	header := headerStyle.Render(fmt.Sprintf("%s Tick History", m.spinner.View()))
	bottomPane := m.viewport.View()

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d polls", len(m.statuses)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, bottomPane, footer)
}

func (m model) fetchData() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		statuses := make(map[string]poll.Tick[string], len(m.names))
		var history []historyEntry

		for _, name := range m.names {
			tick, err := m.client.Status(ctx, name)
			if err != nil {
				return dataMsg{err: err}
			}
			statuses[name] = tick

			records, err := m.client.History(ctx, name, maxHistory)
			if err != nil {
				return dataMsg{err: err}
			}
			for _, r := range records {
				history = append(history, historyEntry{pollName: name, record: r})
			}
		}

		sort.Slice(history, func(i, j int) bool {
			return history[i].record.At.After(history[j].record.At)
		})
		if len(history) > maxHistory {
			history = history[:maxHistory]
		}

		return dataMsg{statuses: statuses, history: history}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8099", "pollwatchd HTTP address")
	flag.Parse()

	names := flag.Args()
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pollwatch-tui [-addr URL] <poll-name>...")
		os.Exit(2)
	}

	client := pollapi.NewClient(*addr)
	p := tea.NewProgram(initialModel(client, names), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
