// Package contact delivers visitor messages collected by the chat dialogue
// to the submission endpoint.
package contact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Submission is the JSON body posted to the endpoint.
type Submission struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	Message            string `json:"message"`
	VerificationPassed bool   `json:"verificationPassed"`
	Timestamp          string `json:"timestamp"`
}

// Receipt is the endpoint's success body.
type Receipt struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// ErrorBody is the endpoint's failure body.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// APIError is a failed submission. StatusCode is zero when no HTTP response
// was received (network failure, timeout).
type APIError struct {
	Message    string
	StatusCode int
	Code       string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "contact api: " + e.Message
	}
	return fmt.Sprintf("contact api: %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether sending the same submission again may succeed.
func (e *APIError) Retryable() bool {
	if e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500
}

type ClientConfig struct {
	Endpoint    string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration

	// Optional OAuth2 client credentials for endpoints behind an
	// authorizer. Ignored when TokenURL is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type Client struct {
	endpoint    string
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("submission endpoint is not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
		httpClient = cc.Client(ctx)
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		endpoint:    cfg.Endpoint,
		httpClient:  httpClient,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}, nil
}

// Submit posts s, retrying transient failures with exponential backoff.
// Client errors other than 429 are returned immediately.
func (c *Client) Submit(ctx context.Context, s Submission) (*Receipt, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.baseDelay << c.maxAttempts
	b.MaxElapsedTime = 0

	var receipt *Receipt
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.post(ctx, s)
		if err == nil {
			receipt = r
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("contact submission failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &APIError{Message: "Request cancelled."}
		}
		return nil, err
	}
	return receipt, nil
}

func (c *Client) post(ctx context.Context, s Submission) (*Receipt, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "encode submission")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build submission request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &APIError{Message: "Request timed out. Please try again."}
		}
		return nil, &APIError{Message: "Network error. Please check your connection."}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, &APIError{Message: "Invalid response from server", StatusCode: resp.StatusCode}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var r Receipt
		if err := json.Unmarshal(raw, &r); err != nil || r.Message == "" || r.RequestID == "" {
			// A 2xx without a proper receipt is treated like a transport
			// failure so it gets retried.
			return nil, &APIError{Message: "Invalid response format from server"}
		}
		return &r, nil
	}

	var eb ErrorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return nil, &APIError{Message: "Invalid response from server", StatusCode: resp.StatusCode}
	}
	msg := eb.Error
	if msg == "" {
		msg = "Unknown error occurred"
	}
	return nil, &APIError{Message: msg, StatusCode: resp.StatusCode, Code: eb.Code, RequestID: eb.RequestID}
}

// FriendlyMessage turns a submission error into text for the visitor.
func FriendlyMessage(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode == 0 {
		return "Connection failed. Please check your internet and try again."
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		switch {
		case strings.Contains(apiErr.Message, "Name is required"):
			return "Please provide your name."
		case strings.Contains(apiErr.Message, "Email is required"):
			return "Please provide your email address."
		case strings.Contains(apiErr.Message, "Invalid email format"):
			return "Please check your email address format."
		case strings.Contains(apiErr.Message, "Message is required"):
			return "Please provide a message."
		case strings.Contains(apiErr.Message, "Human verification required"):
			return "Please complete the verification question."
		}
		return "Please check your information and try again."
	case http.StatusTooManyRequests:
		return "You're sending messages too quickly. Please wait a moment and try again."
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "Server error occurred. Please try again in a few minutes."
	}
	return "Something went wrong. Please try again."
}

// IsRetryable reports whether err is worth offering the visitor a resend.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
