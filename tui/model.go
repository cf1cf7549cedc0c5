// Package tui is the interactive terminal chat.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mukasc/genexus-ai-assistant/chat"
	"github.com/mukasc/genexus-ai-assistant/domain"
)

// Answerer is the TUI-facing subset of the chat service.
type Answerer interface {
	Answer(ctx context.Context, question string) (chat.Response, error)
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleError
)

// turn is one rendered exchange line. History is only displayed; it is
// never sent back to the model.
type turn struct {
	role    role
	text    string
	sources []chat.Source
}

type answerMsg struct {
	resp chat.Response
	err  error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx      context.Context
	answerer Answerer
	title    string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	history []turn
	status  string
	busy    bool
	ready   bool
}

func New(ctx context.Context, answerer Answerer, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Pergunte algo sobre GeneXus..."
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		ctx:      ctx,
		answerer: answerer,
		title:    title,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   "Type a question and press Enter. Ctrl+C quits.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, qh := queryBoxStyle.GetFrameSize()
		_, hh := historyBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 + hh // title, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-1)
		m.input.Width = max(10, msg.Width-6)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			return m.submit()
		}

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.history = append(m.history, turn{role: roleError, text: describe(msg.err)})
			m.status = "The last question failed. Try again or rephrase it."
		} else {
			m.history = append(m.history, turn{role: roleAssistant, text: msg.resp.Answer, sources: msg.resp.Sources})
			m.status = fmt.Sprintf("Answered from %d chunks (%s).", len(msg.resp.Sources), msg.resp.Template)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	question := strings.TrimSpace(m.input.Value())
	if question == "" {
		m.status = "Type a question first."
		return m, nil
	}

	m.input.Reset()
	m.history = append(m.history, turn{role: roleUser, text: question})
	m.busy = true
	m.status = "Thinking..."
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.ask(question))
}

func (m Model) ask(question string) tea.Cmd {
	ctx, answerer := m.ctx, m.answerer
	return func() tea.Msg {
		resp, err := answerer.Answer(ctx, question)
		return answerMsg{resp: resp, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render(m.title)
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		historyBoxStyle.Render(m.viewport.View()) + "\n" +
		queryBoxStyle.Render(m.input.View()) + "\n" +
		status
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return helpStyle.Render("No messages yet.")
	}
	width := max(20, m.viewport.Width-2)
	body := lipgloss.NewStyle().Width(width)

	var sb strings.Builder
	for i, t := range m.history {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		switch t.role {
		case roleUser:
			sb.WriteString(userStyle.Render("You"))
		case roleAssistant:
			sb.WriteString(assistantStyle.Render("Assistant"))
		case roleError:
			sb.WriteString(errorStyle.Render("Error"))
		}
		sb.WriteString("\n")
		sb.WriteString(body.Render(t.text))
		for _, src := range t.sources {
			line := fmt.Sprintf("  [%s] %s", src.Kind, src.Source)
			if src.Page > 0 {
				line += fmt.Sprintf(" p.%d", src.Page)
			}
			sb.WriteString("\n")
			sb.WriteString(helpStyle.Render(line))
		}
	}
	return sb.String()
}

// describe turns the error taxonomy into a message for the screen.
func describe(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return "Type a question first."
	case errors.Is(err, domain.ErrEmbeddingService):
		return "The embedding service failed: " + err.Error()
	case errors.Is(err, domain.ErrGeneration):
		return "The language model failed: " + err.Error()
	case errors.Is(err, domain.ErrIndexUnavailable):
		return "The index is unavailable, run `gxa ingest` first: " + err.Error()
	default:
		return err.Error()
	}
}

// Run starts the chat screen and blocks until the user quits or ctx ends.
func Run(ctx context.Context, answerer Answerer, title string) error {
	program := tea.NewProgram(New(ctx, answerer, title), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run chat ui: %w", err)
	}
	return nil
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	assistantStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	errorStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	spinnerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
