package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	cbqn "github.com/wippyai/cbqn-go"
	"github.com/wippyai/cbqn-go/errors"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	engineErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFB86C"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyLimit = 500

type entry struct {
	err    error
	source string
	result string
}

type replModel struct {
	ctx      context.Context
	hist     *history
	backend  string
	entries  []entry
	recall   []string
	input    textinput.Model
	view     viewport.Model
	recallAt int
	ready    bool
	busy     bool
}

type evalResultMsg struct {
	entry entry
}

type historyMsg struct {
	lines []string
}

func newReplModel(ctx context.Context, hist *history) *replModel {
	ti := textinput.New()
	ti.Prompt = "   "
	ti.Placeholder = "BQN expression"
	ti.Focus()

	name, err := cbqn.BackendName()
	if err != nil {
		name = "?"
	}
	return &replModel{
		ctx:     ctx,
		hist:    hist,
		backend: name,
		input:   ti,
	}
}

func (m *replModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadHistory)
}

func (m *replModel) loadHistory() tea.Msg {
	if m.hist == nil {
		return historyMsg{}
	}
	lines, err := m.hist.recent(m.ctx, historyLimit)
	if err != nil {
		return evalResultMsg{entry: entry{err: err}}
	}
	return historyMsg{lines: lines}
}

func (m *replModel) evaluate(src string) tea.Cmd {
	return func() tea.Msg {
		out, err := evaluate(src)
		if m.hist != nil {
			if herr := m.hist.add(m.ctx, src, err != nil); herr != nil && err == nil {
				err = herr
			}
		}
		return evalResultMsg{entry: entry{source: src, result: out, err: err}}
	}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - 4
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d", "esc":
			return m, tea.Quit

		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if src == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.recall = append(m.recall, src)
			m.recallAt = len(m.recall)
			m.input.Reset()
			return m, m.evaluate(src)

		case "up":
			if m.recallAt > 0 {
				m.recallAt--
				m.input.SetValue(m.recall[m.recallAt])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.recallAt < len(m.recall) {
				m.recallAt++
				if m.recallAt == len(m.recall) {
					m.input.Reset()
				} else {
					m.input.SetValue(m.recall[m.recallAt])
					m.input.CursorEnd()
				}
			}
			return m, nil

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}

	case historyMsg:
		m.recall = append(msg.lines, m.recall...)
		m.recallAt = len(m.recall)

	case evalResultMsg:
		m.busy = false
		m.entries = append(m.entries, msg.entry)
		m.refresh()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *replModel) refresh() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, e := range m.entries {
		if e.source != "" {
			b.WriteString(sourceStyle.Render("   " + e.source))
			b.WriteString("\n")
		}
		b.WriteString(renderResult(e))
		b.WriteString("\n")
	}
	m.view.SetContent(b.String())
	m.view.GotoBottom()
}

// renderResult styles engine errors apart from failures on the Go side.
func renderResult(e entry) string {
	switch {
	case e.err == nil:
		return resultStyle.Render(e.result)
	case errors.IsEngine(e.err):
		return engineErrorStyle.Render(e.err.Error())
	case errors.KindOf(e.err) == errors.KindCallback:
		return errorStyle.Render(fmt.Sprintf("host function: %v", e.err))
	default:
		return errorStyle.Render(fmt.Sprintf("Error: %v", e.err))
	}
}

func (m *replModel) View() string {
	if !m.ready {
		return "Starting..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("CBQN"))
	b.WriteString(" ")
	b.WriteString(m.backend)
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	help := "enter evaluate • ↑/↓ history • pgup/pgdown scroll • esc quit"
	if m.busy {
		help = "evaluating..."
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func runInteractive(ctx context.Context, hist *history) error {
	p := tea.NewProgram(newReplModel(ctx, hist), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
