package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNewRequiresCredential(t *testing.T) {
	_, err := New(context.Background(), Config{Mode: "mock"}, "   ")
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestNewMockUsesProfileAndTrace(t *testing.T) {
	a, err := New(context.Background(), Config{Mode: "mock", TraceMode: TraceDebug}, "key")
	require.NoError(t, err)

	resp, err := a.Ask(context.Background(), "What diseases affect tomato plants?")
	require.NoError(t, err)
	assert.Contains(t, resp.Raw, "plant_disease_diagnostician > Tomato plants")
	assert.Contains(t, resp.Raw, "User > What diseases affect tomato plants?")
	assert.Contains(t, resp.Raw, "### Created new session")
	assert.NotEmpty(t, resp.Sources)
}

func TestNewHTTPRequiresURL(t *testing.T) {
	_, err := New(context.Background(), Config{Mode: "http"}, "key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(context.Background(), Config{Mode: "carrier-pigeon"}, "key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported agent mode")
}

func TestNewModelOverridesProfile(t *testing.T) {
	a, err := New(context.Background(), Config{Mode: "mock", Model: "gemini-test", TraceMode: TraceVerbose}, "key")
	require.NoError(t, err)

	resp, err := a.Ask(context.Background(), "hi")
	require.NoError(t, err)
	assert.Contains(t, resp.Raw, "model_version='gemini-test'")
}

func TestMockAgentHonorsCanceledContext(t *testing.T) {
	a := NewMockAgent(Profile{Name: "x"}, TraceOff)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Ask(ctx, "hello")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMockAgentTraceOffReturnsPlainText(t *testing.T) {
	a := NewMockAgent(Profile{Name: "x"}, TraceOff)
	resp, err := a.Ask(context.Background(), "Why are my rose leaves turning yellow?")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Raw, "Yellowing leaves"))
}

func TestGroundingSourcesDeduplicates(t *testing.T) {
	res := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			GroundingMetadata: &genai.GroundingMetadata{
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{URI: "https://extension.example/blight", Title: "Blight"}},
					{Web: &genai.GroundingChunkWeb{URI: "https://extension.example/blight", Title: "Blight again"}},
					{Web: nil},
					{Web: &genai.GroundingChunkWeb{URI: "https://garden.example/mildew", Title: "Mildew"}},
				},
			},
		}},
	}

	got := groundingSources(res)
	assert.Equal(t, []Source{
		{Title: "Blight", URI: "https://extension.example/blight"},
		{Title: "Mildew", URI: "https://garden.example/mildew"},
	}, got)
	assert.Nil(t, groundingSources(&genai.GenerateContentResponse{}))
}
