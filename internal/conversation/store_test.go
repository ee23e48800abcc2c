package conversation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roleContent struct {
	Role    Role
	Content string
}

func summarize(turns []Turn) []roleContent {
	out := make([]roleContent, 0, len(turns))
	for _, t := range turns {
		out = append(out, roleContent{Role: t.Role, Content: t.Content})
	}
	return out
}

func TestStoreAppendPreservesOrder(t *testing.T) {
	s := NewStore()
	u := s.Append(RoleUser, "What is early blight?")
	a := s.Append(RoleAssistant, "A fungal disease of tomatoes.")

	require.NotEmpty(t, u.ID)
	require.NotEqual(t, u.ID, a.ID)
	assert.True(t, a.CreatedAt.After(u.CreatedAt))

	want := []roleContent{
		{Role: RoleUser, Content: "What is early blight?"},
		{Role: RoleAssistant, Content: "A fungal disease of tomatoes."},
	}
	if diff := cmp.Diff(want, summarize(s.Turns())); diff != "" {
		t.Fatalf("Turns() mismatch (-want +got):\n%s", diff)
	}

	last, ok := s.Last()
	require.True(t, ok)
	if diff := cmp.Diff(a, last, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("Last() mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreTurnsReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append(RoleUser, "original")

	turns := s.Turns()
	turns[0].Content = "mutated"

	assert.Equal(t, "original", s.Turns()[0].Content)
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.Append(RoleUser, "q")
		s.Append(RoleAssistant, "a")
	}
	require.Equal(t, 10, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Turns())
	_, ok := s.Last()
	assert.False(t, ok)

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestStoreCloseDiscardsLateAppends(t *testing.T) {
	s := NewStore()
	s.Append(RoleUser, "Why are my basil leaves spotted?")
	s.Close()
	assert.Equal(t, 0, s.Len())

	turn := s.Append(RoleAssistant, "Likely downy mildew.")
	assert.Equal(t, "Likely downy mildew.", turn.Content)
	assert.Equal(t, 0, s.Len())
	_, ok := s.Last()
	assert.False(t, ok)
}
