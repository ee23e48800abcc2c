package agent

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiAgent answers through a Gemini chat configured with the profile's
// system instruction and, when enabled, Google Search grounding.
type GeminiAgent struct {
	profile Profile
	chat    *genai.Chat
	tracer  *tracer
}

func NewGeminiAgent(ctx context.Context, apiKey string, profile Profile, trace TraceMode) (*GeminiAgent, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(profile.Instruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(profile.Instruction, genai.RoleUser)
	}
	if profile.HasTool("google_search") {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	chat, err := client.Chats.Create(ctx, profile.Model, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("create gemini chat: %w", err)
	}

	return &GeminiAgent{
		profile: profile,
		chat:    chat,
		tracer:  newTracer(trace, profile.Name, profile.Model),
	}, nil
}

func (a *GeminiAgent) Ask(ctx context.Context, query string) (Response, error) {
	res, err := a.chat.SendMessage(ctx, genai.Part{Text: query})
	if err != nil {
		return Response{}, fmt.Errorf("gemini send message: %w", err)
	}
	if res == nil {
		return Response{Model: a.profile.Model}, nil
	}

	text := res.Text()
	raw := text
	if strings.TrimSpace(text) != "" {
		raw = a.tracer.render(query, text)
	}
	return Response{
		Raw:     raw,
		Model:   a.profile.Model,
		Sources: groundingSources(res),
	}, nil
}

func groundingSources(res *genai.GenerateContentResponse) []Source {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0] == nil {
		return nil
	}
	meta := res.Candidates[0].GroundingMetadata
	if meta == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(meta.GroundingChunks))
	var out []Source
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		if _, ok := seen[chunk.Web.URI]; ok {
			continue
		}
		seen[chunk.Web.URI] = struct{}{}
		out = append(out, Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
	}
	return out
}
