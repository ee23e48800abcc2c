// Package tui implements the terminal chat front end on top of bubbletea.
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
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ent0n29/plantdoc/internal/chat"
	"github.com/ent0n29/plantdoc/internal/conversation"
)

// Backend is the slice of chat.Service the terminal UI needs.
type Backend interface {
	Ask(ctx context.Context, sessionID, query string) (chat.Exchange, error)
	Clear(sessionID string) error
}

const (
	headerHeight = 3
	footerHeight = 2
	inputHeight  = 2
	placeholder  = "Describe your plant's symptoms... (Enter to send, Ctrl+L to clear, Esc to quit)"
)

type styles struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Failed    lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style
	Spinner   lipgloss.Style
}

func defaultStyles() styles {
	green := lipgloss.Color("#2E7D32")
	return styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(green),
		Subtitle:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#60A5FA")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(green),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#B3261E")),
		Status:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#B3261E")).Bold(true),
		Spinner:   lipgloss.NewStyle().Foreground(green),
	}
}

type entry struct {
	turn    conversation.Turn
	failed  bool
	sources []string
}

type (
	exchangeMsg chat.Exchange
	inputErrMsg struct{ err error }
	clearedMsg  struct{}
)

// Model is the bubbletea model for one chat session.
type Model struct {
	backend   Backend
	sessionID string
	ctx       context.Context

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   styles

	history []entry
	pending string
	loading bool
	status  string
	err     error
	width   int
	ready   bool
}

func New(ctx context.Context, backend Backend, sessionID string) Model {
	st := defaultStyles()

	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.Spinner

	return Model{
		backend:   backend,
		sessionID: sessionID,
		ctx:       ctx,
		input:     ti,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		renderer:  newRenderer(80),
		styles:    st,
	}
}

func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// Run starts the full-screen chat until the user quits or ctx ends.
func Run(ctx context.Context, backend Backend, sessionID string) error {
	p := tea.NewProgram(New(ctx, backend, sessionID), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlL:
			if m.loading {
				m.status = "Wait for the current answer before clearing."
				return m, nil
			}
			return m, m.clearCmd()
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			return m.submit()
		}
		if !m.loading {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		h := msg.Height - headerHeight - footerHeight - inputHeight
		if h < 3 {
			h = 3
		}
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = h
		m.input.Width = msg.Width - 4
		if m.renderer != nil {
			m.renderer = newRenderer(msg.Width - 6)
		}
		m.ready = true
		m.refresh()

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case exchangeMsg:
		m.loading = false
		m.pending = ""
		m.err = nil
		m.status = ""
		m.history = append(m.history, entry{turn: msg.User})
		e := entry{turn: msg.Assistant, failed: msg.Failed}
		for _, src := range msg.Sources {
			e.sources = append(e.sources, src.URI)
		}
		m.history = append(m.history, e)
		if msg.Failed && msg.Retryable {
			m.status = "The agent call failed; you can ask again."
		}
		m.refresh()

	case inputErrMsg:
		m.loading = false
		m.pending = ""
		m.err = msg.err
		m.refresh()

	case clearedMsg:
		m.history = nil
		m.err = nil
		m.status = "Conversation cleared."
		m.refresh()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	query := strings.TrimSpace(m.input.Value())
	if query == "" {
		m.err = chat.ErrEmptyQuery
		return m, nil
	}
	m.input.Reset()
	m.loading = true
	m.pending = query
	m.err = nil
	m.status = ""
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.askCmd(query))
}

func (m Model) askCmd(query string) tea.Cmd {
	backend, ctx, id := m.backend, m.ctx, m.sessionID
	return func() tea.Msg {
		ex, err := backend.Ask(ctx, id, query)
		if err != nil {
			return inputErrMsg{err: err}
		}
		return exchangeMsg(ex)
	}
}

func (m Model) clearCmd() tea.Cmd {
	backend, id := m.backend, m.sessionID
	return func() tea.Msg {
		if err := backend.Clear(id); err != nil {
			return inputErrMsg{err: err}
		}
		return clearedMsg{}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	var b strings.Builder
	for _, e := range m.history {
		switch e.turn.Role {
		case conversation.RoleUser:
			b.WriteString(m.styles.User.Render("You"))
			b.WriteString("\n")
			b.WriteString(e.turn.Content)
			b.WriteString("\n\n")
		default:
			b.WriteString(m.styles.Assistant.Render("Diagnostician"))
			b.WriteString("\n")
			if e.failed {
				b.WriteString(m.styles.Failed.Render(e.turn.Content))
				b.WriteString("\n\n")
				continue
			}
			b.WriteString(m.markdown(e.turn.Content))
			for _, src := range e.sources {
				b.WriteString(m.styles.Subtitle.Render("  ↳ " + src))
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}
	if m.pending != "" {
		b.WriteString(m.styles.User.Render("You"))
		b.WriteString("\n")
		b.WriteString(m.pending)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) markdown(text string) string {
	if m.renderer == nil {
		return text + "\n"
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("🌿 Plant Disease Diagnostician"))
	b.WriteString("\n")
	b.WriteString(m.styles.Subtitle.Render("Ask about symptoms, diseases and treatments."))
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	switch {
	case m.loading:
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), m.styles.Status.Render("Analyzing your plant's condition...")))
	case m.err != nil:
		b.WriteString(m.styles.Error.Render("Error: " + m.err.Error()))
	case m.status != "":
		b.WriteString(m.styles.Status.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

// RenderMarkdown renders an answer for a plain terminal. It falls back to
// the raw text when no renderer can be built.
func RenderMarkdown(text string, width int) string {
	if width <= 0 {
		width = 80
	}
	r := newRenderer(width)
	if r == nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}
