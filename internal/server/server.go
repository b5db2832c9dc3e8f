package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"portfolio-chat-backend/internal/assistant"
	"portfolio-chat-backend/internal/config"
	"portfolio-chat-backend/internal/contact"
	"portfolio-chat-backend/internal/content"
	"portfolio-chat-backend/internal/dialogue"
	"portfolio-chat-backend/internal/render"
	"portfolio-chat-backend/internal/store"
	"portfolio-chat-backend/internal/types"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

type Server struct {
	router    *chi.Mux
	cfg       config.Config
	assistant *assistant.Assistant
	sessions  *store.MemoryStore
	renderer  render.Renderer
	source    content.Source
	watcher   *content.Watcher
}

// Deps are the pieces NewServer assembles from the content directory.
type Deps struct {
	Assistant *assistant.Assistant
	Sessions  *store.MemoryStore
	Renderer  render.Renderer
	// Source serves raw rule response files.
	Source  content.Source
	Watcher *content.Watcher
}

// NewServer loads the site content named by cfg and wires the chat API.
func NewServer(cfg config.Config) (*Server, error) {
	if cfg.Renderer == render.NameTerminal {
		return nil, errors.New("the terminal renderer is only available to the chat command")
	}
	renderer, err := render.New(cfg.Renderer)
	if err != nil {
		return nil, err
	}
	site, err := LoadSite(cfg)
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Assistant: site.Assistant,
		Sessions:  site.Sessions,
		Renderer:  renderer,
		Source:    site.Source,
	}
	if cfg.WatchContent && cfg.ContentBaseURL == "" {
		w, err := content.NewWatcher(site.Matcher, cfg.ContentPath("rules", "content-rules.json"), cfg.ContentPath("rules", "responses"))
		if err != nil {
			log.Warn().Err(err).Msg("content watcher disabled")
		} else {
			deps.Watcher = w
		}
	}
	return newServer(cfg, deps), nil
}

// Site is the loaded content plus the assistant built on it.
type Site struct {
	Assistant *assistant.Assistant
	Sessions  *store.MemoryStore
	Matcher   *content.Matcher
	Source    content.Source
}

// LoadSite reads topics, questions, phrases and rules from cfg.ContentDir.
// A missing rules file only disables keyword matching.
func LoadSite(cfg config.Config) (*Site, error) {
	fsys := os.DirFS(cfg.ContentDir)

	catalog, err := content.LoadCatalog(fsys, "topics.yaml")
	if err != nil {
		return nil, err
	}
	bank, err := dialogue.LoadQuestions(fsys, "questions.yaml")
	if err != nil {
		return nil, err
	}
	phrases, err := content.LoadPhrases(fsys, "phrases.yaml")
	if err != nil {
		return nil, err
	}
	rules, err := content.LoadRules(fsys, "rules/content-rules.json")
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Warn().Str("dir", cfg.ContentDir).Msg("no content rules found; keyword matching disabled")
	}

	var source content.Source = content.NewFSSource(fsys, "rules/responses")
	if cfg.ContentBaseURL != "" {
		hs, err := content.NewHTTPSource(cfg.ContentBaseURL, 10*time.Second)
		if err != nil {
			return nil, err
		}
		source = hs
	}
	matcher := content.NewMatcher(rules, source)

	var submitter assistant.Submitter
	if cfg.SubmissionEndpoint != "" {
		client, err := contact.NewClient(contact.ClientConfig{
			Endpoint:     cfg.SubmissionEndpoint,
			Timeout:      cfg.SubmissionTimeout,
			MaxAttempts:  cfg.SubmissionMaxAttempts,
			BaseDelay:    cfg.SubmissionBaseDelay,
			TokenURL:     cfg.SubmissionTokenURL,
			ClientID:     cfg.SubmissionClientID,
			ClientSecret: cfg.SubmissionClientSecret,
			Scopes:       cfg.SubmissionScopes,
		})
		if err != nil {
			return nil, err
		}
		submitter = client
	}

	sessions := store.NewMemoryStore(cfg.SessionMaxMessages)
	a, err := assistant.New(assistant.Options{
		Sessions:  sessions,
		Machine:   dialogue.NewMachine(cfg.OwnerName, cfg.OwnerEmail, bank),
		Catalog:   catalog,
		Matcher:   matcher,
		Phrases:   phrases,
		Submitter: submitter,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("topics", len(catalog.Topics())).
		Int("questions", bank.Len()).
		Int("rules", len(rules)).
		Msg("content loaded")

	return &Site{Assistant: a, Sessions: sessions, Matcher: matcher, Source: source}, nil
}

func newServer(cfg config.Config, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", SessionHeader},
		ExposedHeaders:   []string{SessionHeader, "X-Reply-Kind", "X-Dialogue-Step"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:    r,
		cfg:       cfg,
		assistant: deps.Assistant,
		sessions:  deps.Sessions,
		renderer:  deps.Renderer,
		source:    deps.Source,
		watcher:   deps.Watcher,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/topics", s.handleTopics)
	s.router.Get("/api/topics/{topic}", s.handleTopic)
	s.router.Post("/api/chat", s.handleChat)
	s.router.Post("/api/chat/stream", s.handleChatStream)
	s.router.Post("/api/chat/reset", s.handleChatReset)
	s.router.Get("/api/chat/history", s.handleChatHistory)
	s.router.Delete("/api/session", s.handleForgetSession)
	s.router.Get("/api/content/rules", s.handleRules)
	s.router.Get("/api/content/rules/{filename}", s.handleRuleFile)
	s.router.Get("/api/content/match", s.handleMatch)
	s.router.Get("/api/disclaimer", s.handleDisclaimer)
	s.router.Get("/api/themes", s.handleThemes)
	s.router.Post("/api/theme", s.handleSetTheme)
	if s.cfg.StaticDir != "" {
		s.router.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func topicSummary(t *content.Topic) types.TopicSummary {
	return types.TopicSummary{ID: t.ID, Title: t.Title, Icon: t.Icon, Description: t.Description}
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	resp := types.TopicsResponse{Default: s.assistant.DefaultTopic().ID}
	for _, t := range s.assistant.Topics() {
		resp.Topics = append(resp.Topics, topicSummary(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	t, ok := s.assistant.Topic(chi.URLParam(r, "topic"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown topic")
		return
	}
	writeJSON(w, http.StatusOK, types.TopicResponse{
		TopicSummary:   topicSummary(t),
		InitialMessage: t.InitialMessage,
		HTML:           s.html(t.InitialMessage),
		FollowUps:      t.FollowUps,
	})
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (types.ChatRequest, bool) {
	var req types.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	return req, true
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, sid string, req types.ChatRequest) (assistant.Reply, bool) {
	reply, err := s.assistant.Reply(r.Context(), sid, assistant.Request{Message: req.Message, Topic: req.Topic})
	if errors.Is(err, assistant.ErrEmptyMessage) {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return reply, false
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", sid).Msg("chat reply failed")
		s.writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return reply, false
	}
	return reply, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	sid := s.getOrCreateSessionID(w, r, req.SessionID)
	reply, ok := s.reply(w, r, sid, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, types.ChatResponse{
		SessionID: sid,
		Reply:     reply.Text,
		HTML:      s.html(reply.Text),
		Kind:      string(reply.Kind),
		Topic:     reply.Topic,
		FollowUps: reply.FollowUps,
		Step:      string(reply.Step),
		Action:    string(reply.Action),
		RuleID:    reply.RuleID,
		RequestID: reply.RequestID,
		Sent:      reply.Sent,

		DeliveryError: reply.Failure,
	})
}

// handleChatStream writes the reply a few characters at a time. The client
// closing the connection stops the stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	sid := s.getOrCreateSessionID(w, r, req.SessionID)
	reply, ok := s.reply(w, r, sid, req)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Reply-Kind", string(reply.Kind))
	if reply.Step != "" {
		w.Header().Set("X-Dialogue-Step", string(reply.Step))
	}

	ctx := r.Context()
	for chunk := range assistant.Chunks(reply.Text, s.cfg.TypingChunk) {
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		flusher.Flush()
		if !sleepCtx(ctx, s.cfg.TypingDelay) {
			log.Debug().Str("session_id", sid).Msg("stream stopped by client")
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	sid := s.getOrCreateSessionID(w, r, "")
	s.assistant.Reset(sid)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "sessionId": sid})
}

// handleForgetSession drops everything kept for the caller, theme included,
// and expires the cookie.
func (s *Server) handleForgetSession(w http.ResponseWriter, r *http.Request) {
	if sid := getSessionID(r); sid != "" {
		s.sessions.Reset(sid)
	}
	ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sid := s.getOrCreateSessionID(w, r, "")
	resp := types.HistoryResponse{SessionID: sid, Messages: []types.HistoryMessage{}}
	for _, m := range s.assistant.History(sid) {
		resp.Messages = append(resp.Messages, types.HistoryMessage{
			Role:    m.Role,
			Content: m.Content,
			Kind:    m.Kind,
			Topic:   m.Topic,
			At:      m.At.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, content.RuleSet{Rules: s.assistant.Rules()})
}

func (s *Server) handleRuleFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !content.ValidFileName(name) {
		s.writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	text, err := s.source.Fetch(r.Context(), name)
	if err != nil {
		log.Debug().Err(err).Str("file", name).Msg("rule response not found")
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	matches := s.assistant.Matches(q)
	if matches == nil {
		matches = []content.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":      q,
		"normalized": content.Normalize(q),
		"matches":    matches,
	})
}

func (s *Server) handleDisclaimer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.DisclaimerResponse{Disclaimer: s.assistant.Disclaimer()})
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	sid := s.getOrCreateSessionID(w, r, "")
	current := s.cfg.DefaultTheme
	_ = s.sessions.WithSession(sid, func(sess *store.Session) error {
		if sess.Theme != "" {
			current = sess.Theme
		}
		return nil
	})
	writeJSON(w, http.StatusOK, types.ThemesResponse{
		Themes:       s.cfg.Themes,
		Default:      s.cfg.DefaultTheme,
		Current:      current,
		ShowSelector: s.cfg.ShowThemeSelector,
	})
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req types.ThemeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.cfg.HasTheme(req.Theme) {
		s.writeError(w, http.StatusBadRequest, "unknown theme")
		return
	}
	sid := s.getOrCreateSessionID(w, r, "")
	_ = s.sessions.WithSession(sid, func(sess *store.Session) error {
		sess.Theme = req.Theme
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]string{"theme": req.Theme})
}

// html renders markdown for the browser. Rendering problems drop the HTML
// field; the plain text is always sent.
func (s *Server) html(markdown string) string {
	if s.renderer == nil {
		return ""
	}
	out, err := s.renderer.Render(markdown)
	if err != nil {
		log.Warn().Err(err).Msg("markdown render failed")
		return ""
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, types.ErrorResponse{Error: msg})
}
