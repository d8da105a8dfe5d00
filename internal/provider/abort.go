package provider

import (
	"context"
	"sync"
)

// abortRegistry tracks the cancel func for each in-flight Chat call by
// session id, so Abort can cancel promptly without the caller needing to
// thread a context handle back out of Chat.
type abortRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newAbortRegistry() *abortRegistry {
	return &abortRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *abortRegistry) track(ctx context.Context, sessionID string) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[sessionID] = cancel
	r.mu.Unlock()
	return ctx
}

func (r *abortRegistry) untrack(sessionID string) {
	r.mu.Lock()
	delete(r.cancels, sessionID)
	r.mu.Unlock()
}

func (r *abortRegistry) abort(sessionID string) {
	r.mu.Lock()
	cancel, ok := r.cancels[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
