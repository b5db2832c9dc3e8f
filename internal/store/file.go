package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileSubmissionStore keeps contact submissions in a single JSON file, for
// relays running without a database.
type FileSubmissionStore struct {
	mu   sync.Mutex
	path string
}

func NewFileSubmissionStore(path string) *FileSubmissionStore {
	return &FileSubmissionStore{path: path}
}

func (f *FileSubmissionStore) SaveSubmission(_ context.Context, s Submission) error {
	if s.RequestID == "" || s.Email == "" {
		return fmt.Errorf("request_id and email are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.readLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i := range all {
		if all[i].RequestID == s.RequestID {
			all[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, s)
	}
	return f.writeLocked(all)
}

// ListRecent returns up to limit submissions, newest first.
func (f *FileSubmissionStore) ListRecent(_ context.Context, limit int) ([]Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Submission, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetSubmission returns nil, nil when requestID is unknown.
func (f *FileSubmissionStore) GetSubmission(_ context.Context, requestID string) (*Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].RequestID == requestID {
			s := all[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (f *FileSubmissionStore) readLocked() ([]Submission, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var all []Submission
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	return all, nil
}

func (f *FileSubmissionStore) writeLocked(all []Submission) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	// Visitor emails live here; keep the file private.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
