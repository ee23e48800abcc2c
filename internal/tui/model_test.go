package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/plantdoc/internal/agent"
	"github.com/ent0n29/plantdoc/internal/chat"
	"github.com/ent0n29/plantdoc/internal/conversation"
	"github.com/ent0n29/plantdoc/internal/session"
)

type fakeBackend struct {
	exchange chat.Exchange
	askErr   error
	clearErr error
	asked    []string
	cleared  int
}

func (f *fakeBackend) Ask(_ context.Context, _ string, query string) (chat.Exchange, error) {
	f.asked = append(f.asked, query)
	if f.askErr != nil {
		return chat.Exchange{}, f.askErr
	}
	return f.exchange, nil
}

func (f *fakeBackend) Clear(string) error {
	f.cleared++
	return f.clearErr
}

func newTestModel(b Backend) Model {
	m := New(context.Background(), b, "s1")
	m.renderer = nil
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

// drain runs cmd and any nested batch, returning the first message of type T.
func drain[T any](t *testing.T, cmd tea.Cmd) T {
	t.Helper()
	var zero T
	if cmd == nil {
		t.Fatalf("cmd is nil, want %T", zero)
	}
	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		switch msg := c().(type) {
		case T:
			return msg
		case tea.BatchMsg:
			queue = append(queue, msg...)
		}
	}
	t.Fatalf("no %T produced", zero)
	return zero
}

func turn(role conversation.Role, content string) conversation.Turn {
	return conversation.Turn{ID: content, Role: role, Content: content, CreatedAt: time.Now()}
}

func typeQuery(m Model, q string) Model {
	m.input.SetValue(q)
	return m
}

func TestSubmitAsksAndRendersExchange(t *testing.T) {
	b := &fakeBackend{exchange: chat.Exchange{
		User:      turn(conversation.RoleUser, "What diseases affect tomato plants?"),
		Assistant: turn(conversation.RoleAssistant, "Early blight and late blight."),
		Sources:   []agent.Source{{URI: "https://example.org/tomato"}},
	}}
	m := typeQuery(newTestModel(b), "What diseases affect tomato plants?")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.True(t, m.loading)
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.View(), "Analyzing")

	msg := drain[exchangeMsg](t, cmd)
	assert.Equal(t, []string{"What diseases affect tomato plants?"}, b.asked)

	next, _ = m.Update(msg)
	m = next.(Model)
	assert.False(t, m.loading)
	require.Len(t, m.history, 2)
	out := m.renderHistory()
	assert.Contains(t, out, "Early blight and late blight.")
	assert.Contains(t, out, "https://example.org/tomato")
}

func TestSubmitEmptyQueryShowsInlineError(t *testing.T) {
	b := &fakeBackend{}
	m := typeQuery(newTestModel(b), "   ")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.False(t, m.loading)
	assert.ErrorIs(t, m.err, chat.ErrEmptyQuery)
	assert.Empty(t, b.asked)
	assert.Contains(t, m.View(), "Error: ")
}

func TestSubmitIgnoredWhileLoading(t *testing.T) {
	b := &fakeBackend{}
	m := newTestModel(b)
	m.loading = true
	m = typeQuery(m, "another")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, b.asked)
}

func TestInputErrorFromBackend(t *testing.T) {
	b := &fakeBackend{askErr: session.ErrNotInitialized}
	m := typeQuery(newTestModel(b), "hello")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	msg := drain[inputErrMsg](t, cmd)
	next, _ := m.Update(msg)
	m = next.(Model)
	assert.False(t, m.loading)
	assert.True(t, errors.Is(m.err, session.ErrNotInitialized))
	assert.Empty(t, m.history)
}

func TestFailedExchangeRendersFailureTurn(t *testing.T) {
	b := &fakeBackend{exchange: chat.Exchange{
		User:      turn(conversation.RoleUser, "q"),
		Assistant: turn(conversation.RoleAssistant, chat.FailurePrefix+"upstream down"),
		Failed:    true,
		Retryable: true,
	}}
	m := typeQuery(newTestModel(b), "q")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	next, _ := m.Update(drain[exchangeMsg](t, cmd))
	m = next.(Model)

	assert.Contains(t, m.renderHistory(), "upstream down")
	assert.Contains(t, m.View(), "ask again")
}

func TestCtrlLClearsHistory(t *testing.T) {
	b := &fakeBackend{}
	m := newTestModel(b)
	m.history = []entry{{turn: turn(conversation.RoleUser, "old question")}}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	msg := drain[clearedMsg](t, cmd)
	next, _ := m.Update(msg)
	m = next.(Model)

	assert.Equal(t, 1, b.cleared)
	assert.Empty(t, m.history)
	assert.False(t, strings.Contains(m.renderHistory(), "old question"))
	assert.Contains(t, m.View(), "Conversation cleared.")
}

func TestEscQuits(t *testing.T) {
	m := newTestModel(&fakeBackend{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}
