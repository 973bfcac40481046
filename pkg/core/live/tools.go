package live

import (
	"sync"
	"time"

	"github.com/deskmate-ai/deskmate/pkg/core/types"
)

// invocationTracker matches tool results to outstanding backend requests.
// A session may have several invocations outstanding at once; results may
// arrive in any order and are paired purely by invocation id.
type invocationTracker struct {
	mu      sync.Mutex
	pending map[string]*pendingInvocation
}

type pendingInvocation struct {
	req   types.ToolInvocationRequest
	timer *time.Timer
}

func newInvocationTracker() *invocationTracker {
	return &invocationTracker{
		pending: make(map[string]*pendingInvocation),
	}
}

// track registers an invocation. If timeout is positive, onTimeout fires
// after it elapses unless the invocation is resolved first.
func (t *invocationTracker) track(req types.ToolInvocationRequest, timeout time.Duration, onTimeout func(req types.ToolInvocationRequest)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := &pendingInvocation{req: req}
	if timeout > 0 {
		id := req.ID
		p.timer = time.AfterFunc(timeout, func() {
			if t.resolve(id) {
				onTimeout(req)
			}
		})
	}
	t.pending[req.ID] = p
}

// resolve removes an invocation and stops its timer. It reports whether the
// id was outstanding.
func (t *invocationTracker) resolve(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[id]
	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(t.pending, id)
	return true
}

// cancel resolves the given ids without firing timeouts, for backend-issued
// withdrawals. Unknown ids are ignored.
func (t *invocationTracker) cancel(ids []string) {
	for _, id := range ids {
		t.resolve(id)
	}
}

// drain stops all timers and clears the tracker.
func (t *invocationTracker) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(t.pending, id)
	}
}

// outstanding returns the number of unanswered invocations.
func (t *invocationTracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
