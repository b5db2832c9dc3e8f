package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portfolio-chat-backend/internal/config"
	"portfolio-chat-backend/internal/render"
	"portfolio-chat-backend/internal/types"
)

var siteFiles = map[string]string{
	"topics.yaml": `
default_topic: about
topics:
  - id: about
    title: About
    icon: UserIcon
  - id: projects
    title: Projects
`,
	"about/initialMessage.md":       "# Hi\n\nI'm **Roberto**.",
	"about/responses/01.md":         "About one.",
	"projects/initialMessage.md":    "# Projects",
	"projects/responses/01.md":      "First project.",
	"projects/responses/02.md":      "Second project.",
	"projects/followUps/01.md":      "Show me your GitHub",
	"questions.yaml":                "questions:\n  - id: team\n    question: Which team?\n    answers: [madrid, real madrid]\n",
	"phrases.yaml":                  "fallbacks:\n  - Interesting!\ndisclaimers:\n  - Answers are pre-written.\n",
	"rules/content-rules.json":      `{"rules":[{"id":"lambda","trigger":"lambda","description":"Lambda","contentFile":"aws-lambda.md","priority":1}]}`,
	"rules/responses/aws-lambda.md": "# Lambda\n\nServerless notes.",
}

func writeSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range siteFiles {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func testConfig(t *testing.T, submissionURL string) config.Config {
	return config.Config{
		AllowedOrigin:         "*",
		ContentDir:            writeSite(t),
		Renderer:              render.NameSimple,
		OwnerName:             "Roberto",
		OwnerEmail:            "roberto@example.com",
		SubmissionEndpoint:    submissionURL,
		SubmissionTimeout:     2 * time.Second,
		SubmissionMaxAttempts: 3,
		SubmissionBaseDelay:   time.Millisecond,
		TypingChunk:           4,
		SessionIdleTTL:        time.Hour,
		SessionEvictInterval:  time.Minute,
		DefaultTheme:          "claude",
		Themes:                []string{"default", "dark", "claude"},
		ShowThemeSelector:     true,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, sid, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid != "" {
		req.Header.Set(SessionHeader, sid)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func chat(t *testing.T, s *Server, sid, msg string) types.ChatResponse {
	t.Helper()
	b, _ := json.Marshal(types.ChatRequest{Message: msg})
	rr := do(t, s, http.MethodPost, "/api/chat", sid, string(b))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHealthAndTopics(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))

	rr := do(t, s, http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/api/topics", "", "")
	var topics types.TopicsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &topics))
	require.Equal(t, "about", topics.Default)
	require.Len(t, topics.Topics, 2)
	require.Equal(t, "UserIcon", topics.Topics[0].Icon)

	rr = do(t, s, http.MethodGet, "/api/topics/about", "", "")
	var topic types.TopicResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &topic))
	require.Equal(t, "# Hi\n\nI'm **Roberto**.", topic.InitialMessage)
	require.Contains(t, topic.HTML, "<h1>Hi</h1>")
	require.Contains(t, topic.HTML, "<strong>Roberto</strong>")

	rr = do(t, s, http.MethodGet, "/api/topics/poetry", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestChatAssignsSession(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))
	rr := do(t, s, http.MethodPost, "/api/chat", "", `{"message":"tell me about lambda"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	sid := rr.Header().Get(SessionHeader)
	require.NotEmpty(t, sid)
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.Equal(t, sid, cookie.Value)

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, sid, resp.SessionID)
	require.Equal(t, "content", resp.Kind)
	require.Equal(t, "lambda", resp.RuleID)
	require.Contains(t, resp.HTML, "<h1>Lambda</h1>")

	rr = do(t, s, http.MethodPost, "/api/chat", sid, `{"message":"   "}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = do(t, s, http.MethodPost, "/api/chat", sid, `{"message":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChatContactFlowDelivers(t *testing.T) {
	var got atomic.Value
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got.Store(body)
		_, _ = w.Write([]byte(`{"message":"Message sent successfully!","requestId":"req-7"}`))
	}))
	defer endpoint.Close()

	s := newTestServer(t, testConfig(t, endpoint.URL))
	sid := "visitor-1"

	require.Equal(t, "collecting_name", chat(t, s, sid, "contact roberto").Step)
	require.Equal(t, "collecting_email", chat(t, s, sid, "Jane Doe").Step)
	require.Equal(t, "collecting_email", chat(t, s, sid, "not-an-email").Step)
	require.Equal(t, "collecting_message", chat(t, s, sid, "jane@example.com").Step)
	require.Equal(t, "verifying_human", chat(t, s, sid, "Hello Roberto!").Step)

	resp := chat(t, s, sid, "Real Madrid")
	require.Equal(t, "complete", resp.Step)
	require.Equal(t, "send_email", resp.Action)
	require.Equal(t, "req-7", resp.RequestID)
	require.True(t, resp.Sent)
	require.Empty(t, resp.DeliveryError)

	body := got.Load().(map[string]any)
	require.Equal(t, "Jane Doe", body["name"])
	require.Equal(t, "Hello Roberto!", body["message"])
	require.Equal(t, true, body["verificationPassed"])
}

func TestChatSessionFromBody(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))
	send := func(msg string) types.ChatResponse {
		b, _ := json.Marshal(types.ChatRequest{SessionID: "body-sid", Message: msg})
		rr := do(t, s, http.MethodPost, "/api/chat", "", string(b))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.Equal(t, "body-sid", rr.Header().Get(SessionHeader))
		var resp types.ChatResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return resp
	}

	first := send("contact roberto")
	require.Equal(t, "body-sid", first.SessionID)
	require.Equal(t, "collecting_name", first.Step)
	require.Equal(t, "collecting_email", send("Jane Doe").Step)
	require.Equal(t, "collecting_message", send("jane@example.com").Step)

	// A header still wins over the body.
	b, _ := json.Marshal(types.ChatRequest{SessionID: "body-sid", Message: "hello there"})
	rr := do(t, s, http.MethodPost, "/api/chat", "header-sid", string(b))
	require.Equal(t, "header-sid", rr.Header().Get(SessionHeader))
}

func TestChatFailureIsReported(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))
	sid := "visitor-2"
	for _, msg := range []string{"contact roberto", "Jane Doe", "jane@example.com", "Hello"} {
		chat(t, s, sid, msg)
	}
	resp := chat(t, s, sid, "Real Madrid")
	require.Equal(t, "error", resp.Step)
	require.False(t, resp.Sent)
	require.Equal(t, "Email delivery isn't set up on this site right now.", resp.DeliveryError)
}

func TestChatStream(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))
	rr := do(t, s, http.MethodPost, "/api/chat/stream", "v1", `{"message":"next","topic":"projects"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "First project.", rr.Body.String())
	require.Equal(t, "topic", rr.Header().Get("X-Reply-Kind"))
	require.True(t, rr.Flushed)

	rr = do(t, s, http.MethodPost, "/api/chat/stream", "v1", `{"message":"next","topic":"projects"}`)
	require.Equal(t, "Second project.", rr.Body.String())
}

func TestChatStreamStopsWhenClientLeaves(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.TypingChunk = 1
	cfg.TypingDelay = time.Hour
	s := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":"next","topic":"projects"}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Router().ServeHTTP(rr, req)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	require.Equal(t, "F", rr.Body.String())
}

func TestResetAndHistory(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))
	chat(t, s, "v1", "hello there")

	rr := do(t, s, http.MethodGet, "/api/chat/history", "v1", "")
	var hist types.HistoryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 2)
	require.Equal(t, "user", hist.Messages[0].Role)
	require.Equal(t, "fallback", hist.Messages[1].Kind)

	rr = do(t, s, http.MethodPost, "/api/chat/reset", "v1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, s, http.MethodGet, "/api/chat/history", "v1", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	require.Empty(t, hist.Messages)
}

func TestForgetSession(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))
	rr := do(t, s, http.MethodPost, "/api/theme", "v2", `{"theme":"dark"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, s.sessions.Len())

	rr = do(t, s, http.MethodDelete, "/api/session", "v2", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Zero(t, s.sessions.Len())
	require.Contains(t, rr.Header().Get("Set-Cookie"), "Max-Age=0")

	rr = do(t, s, http.MethodGet, "/api/themes", "v2", "")
	var themes types.ThemesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &themes))
	require.Equal(t, "claude", themes.Current)
}

func TestContentEndpoints(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))

	rr := do(t, s, http.MethodGet, "/api/content/rules", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"contentFile":"aws-lambda.md"`)

	rr = do(t, s, http.MethodGet, "/api/content/rules/aws-lambda.md", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "# Lambda\n\nServerless notes.", rr.Body.String())

	rr = do(t, s, http.MethodGet, "/api/content/rules/missing.md", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, s, http.MethodGet, "/api/content/rules/notes.txt", "", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodGet, "/api/content/match?q=AWS+Lambda!", "", "")
	var match struct {
		Normalized string `json:"normalized"`
		Matches    []struct {
			ID string `json:"id"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &match))
	require.Equal(t, "awslambda", match.Normalized)
	require.Len(t, match.Matches, 1)

	rr = do(t, s, http.MethodGet, "/api/disclaimer", "", "")
	require.JSONEq(t, `{"disclaimer":"Answers are pre-written."}`, rr.Body.String())
}

func TestThemes(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))

	var themes types.ThemesResponse
	rr := do(t, s, http.MethodGet, "/api/themes", "v1", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &themes))
	require.Equal(t, "claude", themes.Current)
	require.True(t, themes.ShowSelector)

	rr = do(t, s, http.MethodPost, "/api/theme", "v1", `{"theme":"dark"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, s, http.MethodPost, "/api/theme", "v1", `{"theme":"neon"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodGet, "/api/themes", "v1", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &themes))
	require.Equal(t, "dark", themes.Current)

	rr = do(t, s, http.MethodGet, "/api/themes", "v2", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &themes))
	require.Equal(t, "claude", themes.Current)
}

func TestSetThemeBodyIsCapped(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))
	body := `{"theme":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rr := do(t, s, http.MethodPost, "/api/theme", "v1", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid JSON body")
}

func TestStaticFiles(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.StaticDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StaticDir, "index.html"), []byte("<h1>portfolio</h1>"), 0o644))
	s := newTestServer(t, cfg)

	rr := do(t, s, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "portfolio")
}

func TestNewServerRejectsTerminalRenderer(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Renderer = render.NameTerminal
	_, err := NewServer(cfg)
	require.Error(t, err)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig(t, ""))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
