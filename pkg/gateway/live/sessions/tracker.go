// Package sessions tracks active live sessions for drain and shutdown.
package sessions

import (
	"context"
	"sync"
)

// Handle exposes the two operations shutdown needs from a running session.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

type Tracker struct {
	mu     sync.Mutex
	active map[string]*entry
	wg     sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]*entry)}
}

// Register adds a session and returns its unregister func. Registering the
// same session ID again displaces the previous registration.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	e := &entry{handle: h}

	t.mu.Lock()
	old := t.active[sessionID]
	t.active[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}
	return func() { t.unregister(sessionID, e) }
}

func (t *Tracker) unregister(sessionID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.active[sessionID] == e {
			delete(t.active, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// WarnAll sends a warning frame to every active session. Callbacks run
// outside the tracker lock.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	for _, h := range t.handles() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll tears down every active session.
func (t *Tracker) CancelAll() (canceled int) {
	for _, h := range t.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or the
// context expires. Reports whether the tracker drained in time.
func (t *Tracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.active))
	for _, e := range t.active {
		out = append(out, e.handle)
	}
	return out
}
