package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/plantdoc/internal/agent"
	"github.com/ent0n29/plantdoc/internal/chat"
	"github.com/ent0n29/plantdoc/internal/config"
	"github.com/ent0n29/plantdoc/internal/normalize"
	"github.com/ent0n29/plantdoc/internal/observability"
	"github.com/ent0n29/plantdoc/internal/protocol"
	"github.com/ent0n29/plantdoc/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(newTestAPI(t).Router())
	t.Cleanup(ts.Close)
	return ts
}

func newTestAPI(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		AgentMode:                "mock",
		AgentTraceMode:           "debug",
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout, func(ctx context.Context, credential string) (agent.Agent, error) {
		return agent.New(ctx, agent.Config{Mode: "mock", TraceMode: agent.TraceDebug}, credential)
	})
	metrics := observability.NewMetricsWith("test_httpapi", prometheus.NewRegistry())
	svc := chat.NewService(sessions, normalize.New(""), metrics, nil)
	return New(cfg, sessions, svc, metrics, nil)
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	return res.StatusCode, payload
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	status, created := doJSON(t, http.MethodPost, ts.URL+"/v1/session", nil)
	require.Equal(t, http.StatusCreated, status)
	id, _ := created["session_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, false, created["initialized"])
	return id
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)
	base := ts.URL + "/v1/session/" + id

	status, payload := doJSON(t, http.MethodPost, base+"/ask", map[string]string{"query": "What diseases affect tomato plants?"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "not_initialized", payload["code"])

	status, payload = doJSON(t, http.MethodPost, base+"/init", map[string]string{"api_key": "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "missing_credential", payload["code"])

	status, payload = doJSON(t, http.MethodPost, base+"/init", map[string]string{"api_key": "AIzaTestKey"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, payload["initialized"])
	assert.NotContains(t, payload, "credential")

	status, payload = doJSON(t, http.MethodPost, base+"/ask", map[string]string{"query": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "empty_query", payload["code"])

	status, payload = doJSON(t, http.MethodPost, base+"/ask", map[string]string{"query": "What diseases affect tomato plants?"})
	require.Equal(t, http.StatusOK, status)
	assistant, _ := payload["assistant"].(map[string]any)
	content, _ := assistant["content"].(string)
	assert.True(t, strings.HasPrefix(content, "Tomato plants"), content)
	assert.NotContains(t, content, "plant_disease_diagnostician >")
	assert.NotContains(t, content, "User >")
	assert.Equal(t, normalize.MethodLabeled, payload["method"])

	status, payload = doJSON(t, http.MethodGet, base+"/conversation", nil)
	require.Equal(t, http.StatusOK, status)
	turns, _ := payload["turns"].([]any)
	require.Len(t, turns, 2)
	first, _ := turns[0].(map[string]any)
	assert.Equal(t, "user", first["role"])

	status, _ = doJSON(t, http.MethodDelete, base+"/conversation", nil)
	require.Equal(t, http.StatusOK, status)
	_, payload = doJSON(t, http.MethodGet, base+"/conversation", nil)
	assert.Empty(t, payload["turns"])

	status, payload = doJSON(t, http.MethodPost, base+"/end", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ended", payload["status"])
	assert.Equal(t, false, payload["initialized"])

	status, payload = doJSON(t, http.MethodPost, base+"/ask", map[string]string{"query": "hello"})
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "session_ended", payload["code"])
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	status, payload := doJSON(t, http.MethodGet, ts.URL+"/v1/session/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "session_not_found", payload["code"])

	status, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/session/nope/end", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSessionStatusChecks(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	status, payload := doJSON(t, http.MethodGet, ts.URL+"/v1/session/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "mock", payload["agent_mode"])
	assert.Equal(t, "debug", payload["trace_mode"])

	checks, _ := payload["checks"].([]any)
	require.NotEmpty(t, checks)
	ids := make(map[string]string)
	for _, c := range checks {
		m, _ := c.(map[string]any)
		ids[m["id"].(string)] = m["status"].(string)
	}
	assert.Equal(t, "warn", ids["agent_initialized"])
	assert.Equal(t, "warn", ids["agent_mode"])
}

func TestUIRoutes(t *testing.T) {
	ts := newTestServer(t)
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rootRes, err := client.Get(ts.URL + "/")
	require.NoError(t, err)
	defer rootRes.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, rootRes.StatusCode)
	assert.Equal(t, "/ui/", rootRes.Header.Get("Location"))

	uiRes, err := http.Get(ts.URL + "/ui/")
	require.NoError(t, err)
	defer uiRes.Body.Close()
	require.Equal(t, http.StatusOK, uiRes.StatusCode)

	body, err := io.ReadAll(uiRes.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `id="question"`)
	assert.Contains(t, string(body), `id="api-key"`)
}

func TestHealthAndPerf(t *testing.T) {
	ts := newTestServer(t)

	status, payload := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", payload["status"])

	status, payload = doJSON(t, http.MethodGet, ts.URL+"/readyz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", payload["status"])

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/perf/latency", nil)
	assert.Equal(t, http.StatusOK, status)
}

func dialWS(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=" + sessionID
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	var hello map[string]any
	readWS(t, conn, &hello)
	require.Equal(t, string(protocol.TypeSystemEvent), hello["type"])
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(out))
}

func TestWebSocketAskAndClear(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)
	status, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/session/"+id+"/init", map[string]string{"api_key": "AIzaTestKey"})
	require.Equal(t, http.StatusOK, status)

	conn := dialWS(t, ts, id)
	require.NoError(t, conn.WriteJSON(protocol.ClientAsk{Type: protocol.TypeClientAsk, SessionID: id, Query: "Why are my leaves yellow?"}))

	var busy protocol.AssistantBusy
	readWS(t, conn, &busy)
	assert.Equal(t, protocol.TypeAssistantBusy, busy.Type)
	assert.True(t, busy.Busy)

	var userTurn, assistantTurn protocol.TurnAppended
	readWS(t, conn, &userTurn)
	readWS(t, conn, &assistantTurn)
	assert.Equal(t, "user", userTurn.Role)
	assert.Equal(t, "Why are my leaves yellow?", userTurn.Content)
	assert.Equal(t, "assistant", assistantTurn.Role)
	assert.True(t, strings.HasPrefix(assistantTurn.Content, "Yellowing leaves"), assistantTurn.Content)
	assert.NotEmpty(t, assistantTurn.Sources)

	readWS(t, conn, &busy)
	assert.False(t, busy.Busy)

	require.NoError(t, conn.WriteJSON(protocol.ClientClear{Type: protocol.TypeClientClear, SessionID: id}))
	var cleared protocol.ConversationCleared
	readWS(t, conn, &cleared)
	assert.Equal(t, protocol.TypeConversationCleared, cleared.Type)

	status, payload := doJSON(t, http.MethodGet, ts.URL+"/v1/session/"+id+"/conversation", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, payload["turns"])
}

func TestWebSocketReportsInputErrors(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)
	conn := dialWS(t, ts, id)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"wat"}`)))
	var ev protocol.ErrorEvent
	readWS(t, conn, &ev)
	assert.Equal(t, "invalid_client_message", ev.Code)

	require.NoError(t, conn.WriteJSON(protocol.ClientAsk{Type: protocol.TypeClientAsk, SessionID: id, Query: "hello"}))
	var busy protocol.AssistantBusy
	readWS(t, conn, &busy)
	require.True(t, busy.Busy)
	readWS(t, conn, &ev)
	assert.Equal(t, "not_initialized", ev.Code)
	readWS(t, conn, &busy)
	assert.False(t, busy.Busy)

	require.NoError(t, conn.WriteJSON(protocol.ClientAsk{Type: protocol.TypeClientAsk, SessionID: "other", Query: "hello"}))
	readWS(t, conn, &ev)
	assert.Equal(t, "session_mismatch", ev.Code)
}

func sessionActivity(t *testing.T, ts *httptest.Server, id string) time.Time {
	t.Helper()
	res, err := http.Get(ts.URL + "/v1/session/" + id)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var payload struct {
		Session session.Session `json:"session"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	return payload.Session.LastActivityAt
}

func TestWebSocketMessagesKeepSessionActive(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)
	conn := dialWS(t, ts, id)

	before := sessionActivity(t, ts, id)
	time.Sleep(20 * time.Millisecond)

	// A mismatched ask never reaches the session manager's request path.
	require.NoError(t, conn.WriteJSON(protocol.ClientAsk{Type: protocol.TypeClientAsk, SessionID: "other", Query: "hello"}))
	var ev protocol.ErrorEvent
	readWS(t, conn, &ev)
	require.Equal(t, "session_mismatch", ev.Code)

	assert.True(t, sessionActivity(t, ts, id).After(before))
}

func TestAskOutlivesClientDisconnect(t *testing.T) {
	srv := newTestAPI(t)
	router := srv.Router()
	sess := srv.sessions.Create()
	_, err := srv.sessions.Initialize(context.Background(), sess.ID, "AIzaTestKey")
	require.NoError(t, err)

	gone, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/session/"+sess.ID+"/ask",
		strings.NewReader(`{"query":"What diseases affect tomato plants?"}`)).WithContext(gone)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ex chat.Exchange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ex))
	assert.False(t, ex.Failed, ex.Assistant.Content)
	assert.True(t, strings.HasPrefix(ex.Assistant.Content, "Tomato plants"), ex.Assistant.Content)
}

func TestChatRoutesWithoutChatService(t *testing.T) {
	cfg := config.Config{SessionInactivityTimeout: time.Minute, AgentMode: "mock", AgentTraceMode: "off"}
	sessions := session.NewManager(cfg.SessionInactivityTimeout, nil)
	metrics := observability.NewMetricsWith("test_httpapi_nochat", prometheus.NewRegistry())
	router := New(cfg, sessions, nil, metrics, nil).Router()
	id := sessions.Create().ID

	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodPost, "/v1/session/" + id + "/ask", `{"query":"hello"}`},
		{http.MethodGet, "/v1/session/" + id + "/conversation", ""},
		{http.MethodDelete, "/v1/session/" + id + "/conversation", ""},
		{http.MethodGet, "/v1/session/ws?session_id=" + id, ""},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, http.StatusNotImplemented, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestWebSocketRequiresSession(t *testing.T) {
	ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/session/ws")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
