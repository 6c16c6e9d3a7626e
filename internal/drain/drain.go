// Package drain tracks in-flight relays so shutdown can let them finish.
package drain

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
)

// Tracker holds the draining flag and the number of relays still running.
// idle is closed while no relay runs and replaced when the first one starts.
type Tracker struct {
	draining atomic.Bool

	mu     sync.Mutex
	relays int64
	idle   chan struct{}
}

// New returns an idle Tracker that is not draining.
func New() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{idle: idle}
}

// Start marks the process as draining.
func (t *Tracker) Start() { t.draining.Store(true) }

// IsDraining reports whether draining is in progress.
func (t *Tracker) IsDraining() bool { return t.draining.Load() }

// InFlight returns the number of relays in progress.
func (t *Tracker) InFlight() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.relays
}

// WaitForZero blocks until no relay is in progress or ctx ends. It reports
// whether the tracker went idle.
func (t *Tracker) WaitForZero(ctx context.Context) bool {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Tracker) begin() {
	t.mu.Lock()
	if t.relays == 0 {
		t.idle = make(chan struct{})
	}
	t.relays++
	t.mu.Unlock()
}

func (t *Tracker) end() {
	t.mu.Lock()
	if t.relays > 0 {
		t.relays--
		if t.relays == 0 {
			close(t.idle)
		}
	}
	t.mu.Unlock()
}

// Middleware refuses new requests with 503 once draining has started and
// counts the ones it lets through.
func (t *Tracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if t.IsDraining() {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Connection", "close")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"Server is shutting down"}`))
				return
			}
			t.begin()
			defer t.end()
			next.ServeHTTP(w, r)
		})
	}
}
