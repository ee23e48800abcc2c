package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type httpAskRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// HTTPAgent forwards questions to an agent service speaking a small JSON
// protocol. Replies may be a JSON object, plain text, SSE or NDJSON.
type HTTPAgent struct {
	url        string
	credential string
	sessionID  string
	client     *http.Client
}

// NewHTTPAgent returns an agent bound to url. No client timeout is set; the
// caller's context bounds the round trip.
func NewHTTPAgent(url, credential string) *HTTPAgent {
	return &HTTPAgent{
		url:        strings.TrimSpace(url),
		credential: credential,
		sessionID:  uuid.NewString(),
		client:     &http.Client{},
	}
}

func (a *HTTPAgent) Ask(ctx context.Context, query string) (Response, error) {
	payload, err := json.Marshal(httpAskRequest{SessionID: a.sessionID, Query: query})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.credential)

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return consumeSSE(res.Body)
	case strings.Contains(ct, "application/x-ndjson"):
		return consumeNDJSON(res.Body)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return Response{Raw: string(body)}, nil
	}
	return Response{
		Raw:     extractText(obj),
		Model:   stringField(obj, "model"),
		Sources: extractSources(obj),
	}, nil
}

func consumeSSE(body io.Reader) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		out.WriteString(deltaOf(data))
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Raw: out.String()}, nil
}

func consumeNDJSON(body io.Reader) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.TrimSpace(line) == "[DONE]" {
			continue
		}
		out.WriteString(deltaOf(line))
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Raw: out.String()}, nil
}

func deltaOf(line string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &obj); err != nil {
		return line
	}
	return extractText(obj)
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "answer", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func extractSources(obj map[string]any) []Source {
	items, ok := obj["sources"].([]any)
	if !ok {
		return nil
	}
	var out []Source
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		uri := stringField(m, "uri")
		if uri == "" {
			uri = stringField(m, "url")
		}
		if uri == "" {
			continue
		}
		out = append(out, Source{Title: stringField(m, "title"), URI: uri})
	}
	return out
}
