package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// CookieName is the name of the session cookie
	CookieName = "portfolio_session"
	// SessionHeader carries the session id for clients without cookies.
	SessionHeader = "X-Session-Id"
)

// SetSessionCookie sets an HTTP-only session cookie that lives as long as an
// idle session is kept in memory.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// ClearSessionCookie removes the session cookie
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// getSessionID looks at the cookie, then the header, then the sessionId
// query parameter.
func getSessionID(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if sid := r.Header.Get(SessionHeader); sid != "" {
		return sid
	}
	return r.URL.Query().Get("sessionId")
}

// getOrCreateSessionID returns the caller's session id, minting one when the
// request has none. fallback is the id a client sent in the request body; it
// is used only when the cookie, header and query carry nothing. The id is
// always echoed in the response header.
func (s *Server) getOrCreateSessionID(w http.ResponseWriter, r *http.Request, fallback string) string {
	sid := getSessionID(r)
	if sid == "" {
		sid = strings.TrimSpace(fallback)
	}
	if sid == "" || len(sid) > 128 {
		sid = uuid.NewString()
		log.Debug().Str("session_id", sid).Str("path", r.URL.Path).Msg("new session")
	}
	SetSessionCookie(w, r, sid, s.cfg.SessionIdleTTL)
	w.Header().Set(SessionHeader, sid)
	return sid
}
