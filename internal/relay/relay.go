// Package relay is the contact submission endpoint: it validates what the
// chat dialogue collected, tells the site owner and keeps a record.
package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"portfolio-chat-backend/internal/store"
	"portfolio-chat-backend/internal/types"
)

const (
	maxNameLength    = 100
	maxMessageLength = 5000
	maxEmailLength   = 254
	maxBodyBytes     = 64 << 10

	defaultListLimit = 50
	maxListLimit     = 500
)

// Input is a decoded submission body after trimming.
type Input struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	Message            string `json:"message"`
	VerificationPassed bool   `json:"verificationPassed"`
	Timestamp          string `json:"timestamp"`
}

// Validate returns the first problem with in, or "" when it is acceptable.
func Validate(in Input) string {
	switch {
	case in.Name == "":
		return "Name is required"
	case in.Email == "":
		return "Email is required"
	case in.Message == "":
		return "Message is required"
	case utf8.RuneCountInString(in.Name) > maxNameLength:
		return "Name is too long (max 100 characters)"
	case utf8.RuneCountInString(in.Message) > maxMessageLength:
		return "Message is too long (max 5000 characters)"
	case !plausibleEmail(in.Email):
		return "Invalid email format"
	case utf8.RuneCountInString(in.Email) > maxEmailLength:
		return "Email address is too long"
	case !in.VerificationPassed:
		return "Human verification required"
	}
	return ""
}

func plausibleEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return strings.Contains(email[at+1:], ".")
}

// Recorder keeps submissions. store.DatabaseStore and
// store.FileSubmissionStore both satisfy it.
type Recorder interface {
	SaveSubmission(ctx context.Context, s store.Submission) error
}

// Archive is a Recorder that can also read its records back.
type Archive interface {
	ListRecent(ctx context.Context, limit int) ([]store.Submission, error)
	GetSubmission(ctx context.Context, requestID string) (*store.Submission, error)
}

type Options struct {
	AllowedOrigin string
	RatePerMinute int
	Burst         int
	// TrustProxy makes X-Forwarded-For / X-Real-IP the client address for
	// rate limiting. Only set it behind a proxy that overwrites them.
	TrustProxy bool
	// AdminToken enables GET /submissions for bearers of this token. Empty
	// leaves the listing routes unregistered.
	AdminToken string
}

type Handler struct {
	router   *chi.Mux
	notifier Notifier
	recorder Recorder
	limiter  *ipLimiter
	token    string
	now      func() time.Time
	newID    func() string
}

// New builds the relay. recorder may be nil.
func New(notifier Notifier, recorder Recorder, opts Options) *Handler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	h := &Handler{
		router:   chi.NewRouter(),
		notifier: notifier,
		recorder: recorder,
		token:    opts.AdminToken,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if opts.RatePerMinute > 0 {
		h.limiter = newIPLimiter(opts.RatePerMinute, opts.Burst)
	}

	if opts.TrustProxy {
		h.router.Use(middleware.RealIP)
	}
	h.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{opts.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	h.router.Get("/health", h.handleHealth)
	h.router.Post("/submit", h.handleSubmit)
	h.router.Post("/prod/submit", h.handleSubmit)
	if h.token != "" {
		h.router.Group(func(r chi.Router) {
			r.Use(h.requireToken)
			r.Get("/submissions", h.handleListSubmissions)
			r.Get("/submissions/{requestID}", h.handleGetSubmission)
		})
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// pinger is implemented by recorders backed by a database.
type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.recorder.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			log.Warn().Err(err).Msg("recorder health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	requestID := h.newID()
	logger := log.With().Str("request_id", requestID).Logger()
	ip := clientIP(r)

	if h.limiter != nil && !h.limiter.allow(ip) {
		logger.Warn().Str("ip", ip).Msg("submission rate limited")
		writeError(w, http.StatusTooManyRequests, "Too many requests", requestID)
		return
	}

	var in Input
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		logger.Warn().Err(err).Msg("invalid submission body")
		writeError(w, http.StatusBadRequest, "Invalid JSON format", requestID)
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Message = strings.TrimSpace(in.Message)
	submittedAt := h.now().UTC()
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(in.Timestamp)); err == nil {
		submittedAt = ts.UTC()
	} else {
		in.Timestamp = submittedAt.Format("2006-01-02T15:04:05.000Z")
	}

	logger.Info().Str("name", in.Name).Str("email", in.Email).Msg("processing submission")

	if problem := Validate(in); problem != "" {
		logger.Warn().Str("reason", problem).Msg("submission rejected")
		writeError(w, http.StatusBadRequest, problem, requestID)
		return
	}

	rec := store.Submission{
		RequestID:   requestID,
		Name:        in.Name,
		Email:       in.Email,
		Message:     in.Message,
		ClientIP:    ip,
		SubmittedAt: submittedAt,
	}
	h.record(r.Context(), rec)

	if err := h.notifier.Notify(r.Context(), FormatNotification(in, requestID)); err != nil {
		logger.Error().Err(err).Msg("notification failed")
		writeError(w, http.StatusInternalServerError, "Failed to send notification", requestID)
		return
	}
	rec.Notified = true
	h.record(r.Context(), rec)

	logger.Info().Msg("submission delivered")
	writeJSON(w, http.StatusOK, types.SubmitResponse{Message: "Message sent successfully!", RequestID: requestID})
}

// record never fails the request; losing the copy is better than losing
// the notification.
func (h *Handler) record(ctx context.Context, s store.Submission) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.SaveSubmission(ctx, s); err != nil {
		log.Warn().Err(err).Str("request_id", s.RequestID).Msg("failed to record submission")
	}
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) archive(w http.ResponseWriter) (Archive, bool) {
	a, ok := h.recorder.(Archive)
	if !ok {
		writeError(w, http.StatusNotFound, "Submissions are not recorded", "")
	}
	return a, ok
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	a, ok := h.archive(w)
	if !ok {
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = min(n, maxListLimit)
	}
	subs, err := a.ListRecent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list submissions")
		writeError(w, http.StatusInternalServerError, "Failed to list submissions", "")
		return
	}
	if subs == nil {
		subs = []store.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	a, ok := h.archive(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "requestID")
	sub, err := a.GetSubmission(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("request_id", id).Msg("failed to load submission")
		writeError(w, http.StatusInternalServerError, "Failed to load submission", id)
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "Submission not found", id)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg, requestID string) {
	writeJSON(w, code, types.ErrorResponse{Error: msg, RequestID: requestID})
}
