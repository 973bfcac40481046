// Package store persists session resumption handles. The backend keeps the
// resumable context for roughly a day, so a stored handle lets a desktop
// client pick a conversation back up after a restart.
package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no handle is stored for a session.
var ErrNotFound = errors.New("store: handle not found")

// HandleRecord is the freshest resumption handle known for one session.
type HandleRecord struct {
	SessionID string    `json:"session_id"`
	Handle    string    `json:"handle"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HandleStore persists one handle per session. Each save replaces the
// previous handle; handles are never accumulated.
type HandleStore interface {
	// Save upserts the handle for a session.
	Save(ctx context.Context, sessionID, handle string) error

	// Latest returns the stored handle for a session, or ErrNotFound.
	Latest(ctx context.Context, sessionID string) (HandleRecord, error)

	// Delete removes a session's handle. Deleting a missing session is not
	// an error.
	Delete(ctx context.Context, sessionID string) error

	// Prune drops handles older than maxAge; the backend has discarded
	// their context anyway. It returns the number removed.
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
}

// MemoryStore is an in-process HandleStore for single-machine deployments
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]HandleRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]HandleRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, sessionID, handle string) error {
	if sessionID == "" || handle == "" {
		return errors.New("store: session id and handle are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = HandleRecord{
		SessionID: sessionID,
		Handle:    handle,
		UpdatedAt: s.now(),
	}
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, sessionID string) (HandleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return HandleRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	return nil
}

func (s *MemoryStore) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
