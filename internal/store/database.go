package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"portfolio-chat-backend/internal/db"
)

// Submission is one delivered contact message as the relay records it.
type Submission struct {
	RequestID   string    `json:"requestId"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Message     string    `json:"message"`
	ClientIP    string    `json:"clientIp,omitempty"`
	Notified    bool      `json:"notified"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// DatabaseStore stores contact submissions in PostgreSQL
type DatabaseStore struct {
	db *db.DB
}

func NewDatabaseStore(database *db.DB) *DatabaseStore {
	return &DatabaseStore{db: database}
}

// Ping reports whether the database is reachable.
func (ds *DatabaseStore) Ping(ctx context.Context) error {
	return ds.db.HealthCheck(ctx)
}

// SaveSubmission inserts s, or refreshes the notified flag when the request
// id is already stored.
func (ds *DatabaseStore) SaveSubmission(ctx context.Context, s Submission) error {
	if s.RequestID == "" || s.Email == "" {
		return fmt.Errorf("request_id and email are required")
	}

	query := `
		INSERT INTO contact_submissions (request_id, name, email, message, client_ip, notified, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id)
		DO UPDATE SET notified = EXCLUDED.notified
	`
	_, err := ds.db.ExecContext(ctx, query, s.RequestID, s.Name, s.Email, s.Message, s.ClientIP, s.Notified, s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

// GetSubmission returns nil, nil when no submission has the id.
func (ds *DatabaseStore) GetSubmission(ctx context.Context, requestID string) (*Submission, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	var s Submission
	query := `
		SELECT request_id, name, email, message, client_ip, notified, submitted_at
		FROM contact_submissions
		WHERE request_id = $1
	`
	err := ds.db.QueryRowContext(ctx, query, requestID).Scan(
		&s.RequestID,
		&s.Name,
		&s.Email,
		&s.Message,
		&s.ClientIP,
		&s.Notified,
		&s.SubmittedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &s, nil
}

// ListRecent returns up to limit submissions, newest first.
func (ds *DatabaseStore) ListRecent(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ds.db.QueryContext(ctx, `
		SELECT request_id, name, email, message, client_ip, notified, submitted_at
		FROM contact_submissions
		ORDER BY submitted_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.RequestID, &s.Name, &s.Email, &s.Message, &s.ClientIP, &s.Notified, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return out, nil
}
