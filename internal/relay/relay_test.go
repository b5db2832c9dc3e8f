package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portfolio-chat-backend/internal/store"
	"portfolio-chat-backend/internal/types"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (c *captureNotifier) Notify(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

type memRecorder struct {
	mu   sync.Mutex
	subs map[string]store.Submission
}

func (m *memRecorder) SaveSubmission(_ context.Context, s store.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = map[string]store.Submission{}
	}
	m.subs[s.RequestID] = s
	return nil
}

func newTestHandler(n Notifier, rec Recorder, opts Options) *Handler {
	h := New(n, rec, opts)
	h.newID = func() string { return "req-1" }
	return h
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const validBody = `{"name":"  Jane Doe ","email":"jane@example.com","message":"Hi!","verificationPassed":true,"timestamp":"2024-01-01T00:00:00.000Z"}`

func TestSubmitDelivers(t *testing.T) {
	n := &captureNotifier{}
	rec := &memRecorder{}
	h := newTestHandler(n, rec, Options{})

	for _, path := range []string{"/submit", "/prod/submit"} {
		rr := post(t, h, path, validBody)
		require.Equal(t, http.StatusOK, rr.Code, path)

		var resp types.SubmitResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, "Message sent successfully!", resp.Message)
		require.Equal(t, "req-1", resp.RequestID)
	}

	require.Len(t, n.sent, 2)
	require.Equal(t, "Contact Form: Jane Doe", n.sent[0].Subject)
	require.Equal(t, "jane@example.com", n.sent[0].ReplyTo)
	require.Contains(t, n.sent[0].Body, "Name: Jane Doe\nEmail: jane@example.com\n\nMessage:\nHi!")
	require.Contains(t, n.sent[0].Body, "Submitted: 2024-01-01T00:00:00.000Z")
	require.Contains(t, n.sent[0].Body, "Request ID: req-1")
	require.True(t, strings.HasSuffix(n.sent[0].Body, "Reply directly to jane@example.com to respond to Jane Doe."))

	saved := rec.subs["req-1"]
	require.True(t, saved.Notified)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), saved.SubmittedAt)
}

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"email":"a@b.co","message":"m","verificationPassed":true}`, "Name is required"},
		{`{"name":"Jane","message":"m","verificationPassed":true}`, "Email is required"},
		{`{"name":"Jane","email":"a@b.co","message":"   ","verificationPassed":true}`, "Message is required"},
		{`{"name":"` + strings.Repeat("x", 101) + `","email":"a@b.co","message":"m","verificationPassed":true}`, "Name is too long (max 100 characters)"},
		{`{"name":"Jane","email":"a@b.co","message":"` + strings.Repeat("m", 5001) + `","verificationPassed":true}`, "Message is too long (max 5000 characters)"},
		{`{"name":"Jane","email":"jane.example.com","message":"m","verificationPassed":true}`, "Invalid email format"},
		{`{"name":"Jane","email":"jane@localhost","message":"m","verificationPassed":true}`, "Invalid email format"},
		{`{"name":"Jane","email":"` + strings.Repeat("a", 250) + `@b.co","message":"m","verificationPassed":true}`, "Email address is too long"},
		{`{"name":"Jane","email":"a@b.co","message":"m"}`, "Human verification required"},
		{`{not json`, "Invalid JSON format"},
	}
	n := &captureNotifier{}
	h := newTestHandler(n, nil, Options{})
	for _, tc := range cases {
		rr := post(t, h, "/submit", tc.body)
		require.Equal(t, http.StatusBadRequest, rr.Code, tc.want)
		var resp types.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, tc.want, resp.Error)
		require.Equal(t, "req-1", resp.RequestID)
	}
	require.Empty(t, n.sent)
}

func TestSubmitNotifyFailure(t *testing.T) {
	rec := &memRecorder{}
	h := newTestHandler(&captureNotifier{err: errors.New("smtp down")}, rec, Options{})
	rr := post(t, h, "/submit", validBody)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "Failed to send notification")
	require.False(t, rec.subs["req-1"].Notified)
}

func TestSubmitRateLimited(t *testing.T) {
	h := newTestHandler(&captureNotifier{}, nil, Options{RatePerMinute: 1, Burst: 2})
	require.Equal(t, http.StatusOK, post(t, h, "/submit", validBody).Code)
	require.Equal(t, http.StatusOK, post(t, h, "/submit", validBody).Code)
	rr := post(t, h, "/submit", validBody)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Contains(t, rr.Body.String(), "Too many requests")

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(validBody))
	req.RemoteAddr = "203.0.113.9:5555"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	require.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimitIgnoresForwardedHeaders(t *testing.T) {
	send := func(h http.Handler, i int) int {
		req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(validBody))
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	h := newTestHandler(&captureNotifier{}, nil, Options{RatePerMinute: 1, Burst: 1})
	accepted := 0
	for i := range 20 {
		if send(h, i) == http.StatusOK {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)

	// Behind a trusted proxy the forwarded address is the client.
	h = newTestHandler(&captureNotifier{}, nil, Options{RatePerMinute: 1, Burst: 1, TrustProxy: true})
	require.Equal(t, http.StatusOK, send(h, 1))
	require.Equal(t, http.StatusOK, send(h, 2))
	require.Equal(t, http.StatusTooManyRequests, send(h, 2))
}

func TestSubmitDefaultsTimestamp(t *testing.T) {
	n := &captureNotifier{}
	h := newTestHandler(n, nil, Options{})
	h.now = func() time.Time { return time.Date(2025, 8, 25, 8, 47, 33, 494e6, time.UTC) }
	rr := post(t, h, "/submit", `{"name":"Jane Doe","email":"jane@example.com","message":"Hi","verificationPassed":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, n.sent[0].Body, "Submitted: 2025-08-25T08:47:33.494Z")
}

func TestSMTPNotifierBuildsMessage(t *testing.T) {
	s, err := NewSMTPNotifier(SMTPConfig{Host: "mail.example.com", To: []string{"owner@example.com"}, Username: "u", Password: "p"})
	require.NoError(t, err)

	var gotAddr string
	var gotMsg []byte
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		require.Equal(t, "owner@example.com", from)
		require.Equal(t, []string{"owner@example.com"}, to)
		return nil
	}

	n := FormatNotification(Input{Name: "Jane\r\nBcc: evil@example.com", Email: "jane@example.com", Message: "Hi", Timestamp: "t"}, "req-1")
	require.NoError(t, s.Notify(context.Background(), n))
	require.Equal(t, "mail.example.com:587", gotAddr)

	headers, body, ok := strings.Cut(string(gotMsg), "\r\n\r\n")
	require.True(t, ok)
	require.Contains(t, headers, "Reply-To: jane@example.com\r\n")
	require.Contains(t, headers, "Subject: Contact Form: Jane  Bcc: evil@example.com\r\n")
	require.NotContains(t, headers, "\r\nBcc:")
	require.True(t, strings.HasPrefix(body, "Contact Form Submission\r\n"))

	_, err = NewSMTPNotifier(SMTPConfig{To: []string{"x@example.com"}})
	require.Error(t, err)
}

func TestValidateAcceptsGoodInput(t *testing.T) {
	require.Empty(t, Validate(Input{Name: "Jane", Email: "jane@example.com", Message: "Hi", VerificationPassed: true}))
}

type pingRecorder struct {
	memRecorder
	err error
}

func (p *pingRecorder) Ping(context.Context) error { return p.err }

func TestHealthChecksRecorder(t *testing.T) {
	get := func(h http.Handler) int {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rr.Code
	}

	require.Equal(t, http.StatusOK, get(newTestHandler(&captureNotifier{}, &memRecorder{}, Options{})))
	require.Equal(t, http.StatusOK, get(newTestHandler(&captureNotifier{}, &pingRecorder{}, Options{})))
	require.Equal(t, http.StatusServiceUnavailable,
		get(newTestHandler(&captureNotifier{}, &pingRecorder{err: errors.New("down")}, Options{})))
}

func TestListSubmissions(t *testing.T) {
	rec := store.NewFileSubmissionStore(filepath.Join(t.TempDir(), "submissions.json"))
	h := New(&captureNotifier{}, rec, Options{AdminToken: "s3cret"})
	ids := []string{"req-a", "req-b", "req-c"}
	next := 0
	h.newID = func() string { next++; return ids[next-1] }
	for range ids {
		require.Equal(t, http.StatusOK, post(t, h, "/submit", validBody).Code)
	}

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusUnauthorized, get("/submissions", "").Code)
	require.Equal(t, http.StatusUnauthorized, get("/submissions", "wrong").Code)

	rr := get("/submissions?limit=2", "s3cret")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Submissions []store.Submission `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Submissions, 2)
	require.Equal(t, "req-c", list.Submissions[0].RequestID)
	require.True(t, list.Submissions[0].Notified)
	require.Equal(t, "Jane Doe", list.Submissions[0].Name)

	require.Equal(t, http.StatusBadRequest, get("/submissions?limit=abc", "s3cret").Code)

	rr = get("/submissions/req-a", "s3cret")
	require.Equal(t, http.StatusOK, rr.Code)
	var one store.Submission
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &one))
	require.Equal(t, "jane@example.com", one.Email)

	require.Equal(t, http.StatusNotFound, get("/submissions/req-z", "s3cret").Code)
}

func TestListSubmissionsNeedsTokenAndArchive(t *testing.T) {
	get := func(h http.Handler) int {
		req := httptest.NewRequest(http.MethodGet, "/submissions", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	// No token configured: the route does not exist.
	require.Equal(t, http.StatusNotFound, get(newTestHandler(&captureNotifier{}, &memRecorder{}, Options{})))
	// memRecorder cannot list what it saved.
	require.Equal(t, http.StatusNotFound, get(newTestHandler(&captureNotifier{}, &memRecorder{}, Options{AdminToken: "s3cret"})))
	require.Equal(t, http.StatusNotFound, get(newTestHandler(&captureNotifier{}, nil, Options{AdminToken: "s3cret"})))
}
