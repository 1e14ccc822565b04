// Package tui is an interactive terminal classifier: type a description,
// see the label distribution.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crimson-sun/doccat/internal/engine/maxent"
)

const (
	maxHistory  = 10
	maxOutcomes = 5
	labelWidth  = 16
)

// Classifier is the TUI-facing subset of the engine.
type Classifier interface {
	Classify(text string) (maxent.Result, error)
}

type entry struct {
	text        string
	label       string
	probability float64
}

// Model is the Bubble Tea model.
type Model struct {
	clf     Classifier
	summary string
	input   textinput.Model
	bar     progress.Model

	query    string
	outcomes []maxent.Outcome // ranked
	oov      int
	history  []entry // newest first
	recall   int     // history index shown in the input, -1 for none
	status   string
	width    int
	ready    bool
}

// New creates the model. summary is shown under the title.
func New(clf Classifier, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe a shipment and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		clf:     clf,
		summary: summary,
		input:   ti,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		recall:  -1,
		status:  "Ready.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.bar.Width = max(10, min(40, msg.Width-labelWidth-12))
		m.input.Width = max(10, msg.Width-6)
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			m.classify(strings.TrimSpace(m.input.Value()))
			return m, nil
		case tea.KeyEsc:
			m.input.Reset()
			m.recall = -1
			return m, nil
		case tea.KeyUp:
			if m.recall+1 < len(m.history) {
				m.recall++
				m.input.SetValue(m.history[m.recall].text)
				m.input.CursorEnd()
			}
			return m, nil
		case tea.KeyDown:
			if m.recall > 0 {
				m.recall--
				m.input.SetValue(m.history[m.recall].text)
				m.input.CursorEnd()
			} else if m.recall == 0 {
				m.recall = -1
				m.input.Reset()
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) classify(text string) {
	if text == "" {
		return
	}
	res, err := m.clf.Classify(text)
	if err != nil {
		m.status = "Error: " + err.Error()
		m.outcomes = nil
		return
	}
	m.query = text
	m.outcomes = res.Ranked()
	m.oov = len(res.OutOfVocabulary)
	m.history = append([]entry{{text: text, label: res.Label(), probability: res.Probability()}}, m.history...)
	if len(m.history) > maxHistory {
		m.history = m.history[:maxHistory]
	}
	m.recall = -1
	m.input.Reset()
	m.status = fmt.Sprintf("%s (%.1f%%)", res.Label(), res.Probability()*100)
	if m.oov > 0 {
		m.status += fmt.Sprintf(", %d unknown feature(s) ignored", m.oov)
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("doccat") + "\n")
	b.WriteString(dimStyle.Render(m.summary) + "\n")
	b.WriteString(boxStyle.Render(m.renderOutcomes()) + "\n")
	b.WriteString(boxStyle.Render(m.input.View()) + "\n")
	if h := m.renderHistory(); h != "" {
		b.WriteString(h + "\n")
	}
	b.WriteString(statusStyle.Render(m.status))
	return b.String()
}

func (m Model) renderOutcomes() string {
	if len(m.outcomes) == 0 {
		return "No classification yet."
	}
	lines := []string{fmt.Sprintf("%q", m.query), ""}
	for i, o := range m.outcomes {
		if i == maxOutcomes {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("... %d more", len(m.outcomes)-maxOutcomes)))
			break
		}
		label := labelStyle.Render(truncate(o.Label, labelWidth))
		if i == 0 {
			label = bestStyle.Render(truncate(o.Label, labelWidth))
		}
		lines = append(lines, label+" "+m.bar.ViewAs(o.Probability))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return ""
	}
	lines := []string{dimStyle.Render("history")}
	for i, h := range m.history {
		line := fmt.Sprintf("  %-*s %5.1f%%  %s", labelWidth, truncate(h.label, labelWidth), h.probability*100, h.text)
		if i == m.recall {
			line = bestStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	bestStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Width(labelWidth)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
