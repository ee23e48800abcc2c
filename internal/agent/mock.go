package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockAgent returns deterministic plant-care replies without network access.
type MockAgent struct {
	profile Profile
	tracer  *tracer
}

func NewMockAgent(profile Profile, trace TraceMode) *MockAgent {
	return &MockAgent{
		profile: profile,
		tracer:  newTracer(trace, profile.Name, profile.Model),
	}
}

func (a *MockAgent) Ask(ctx context.Context, query string) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(query)
	return Response{
		Raw:   a.tracer.render(query, text),
		Model: "mock",
		Sources: []Source{{
			Title: "Plant disease basics",
			URI:   "https://example.org/plant-disease-basics",
		}},
	}, nil
}

func buildMockReply(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.Contains(q, "tomato"):
		return "Tomato plants are commonly affected by early blight, late blight, septoria leaf spot and fusarium wilt.\n\nRotate crops, water at the base and remove infected leaves promptly."
	case strings.Contains(q, "yellow"):
		return "Yellowing leaves usually point to overwatering, poor drainage or nitrogen deficiency.\n\nCheck soil moisture before feeding."
	case strings.Contains(q, "mildew") || strings.Contains(q, "white powder"):
		return "Powdery mildew affects cucurbits, roses, lilacs and many ornamentals.\n\nImprove air flow and treat with sulfur or potassium bicarbonate."
	case q == "":
		return "Please describe the plant and its symptoms."
	default:
		return fmt.Sprintf("Here is what I found about %q: inspect leaves, stems and roots for spots, wilting or discoloration, and isolate affected plants.", strings.TrimSpace(query))
	}
}
