// Package health serves liveness and readiness probes.
//
// Checks are evaluated in rounds by Run. A check turns unhealthy only after
// FailureThreshold consecutive failures and recovers on the first success.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// FailureThreshold is the number of consecutive failures that mark a check unhealthy.
const FailureThreshold = 3

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

type check struct {
	name    string
	kind    Kind
	timeout time.Duration
	fn      CheckFunc

	mu       sync.Mutex
	failures int
	lastErr  error
}

func (c *check) observe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.failures = 0
		c.lastErr = nil
		return
	}
	c.failures++
	c.lastErr = err
}

// failure returns the last error when the check is over the threshold.
func (c *check) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures >= FailureThreshold {
		return c.lastErr
	}
	return nil
}

// Registry holds checks and the process readiness flag. The zero value is
// not ready and has no checks.
type Registry struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Add registers a check. It is safe to call concurrently with Run.
func (h *Registry) Add(kind Kind, name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, &check{name: name, kind: kind, timeout: timeout, fn: fn})
}

// SetReady flips the process readiness flag, e.g. false while draining.
func (h *Registry) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Ready reports the readiness flag.
func (h *Registry) Ready() bool {
	return h.ready.Load()
}

func (h *Registry) snapshot() []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.checks)
}

// Check runs every check once, concurrently.
func (h *Registry) Check(ctx context.Context) {
	var g errgroup.Group
	for _, c := range h.snapshot() {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			c.observe(c.fn(cctx))
			return nil
		})
	}
	_ = g.Wait()
}

// Run checks every interval until ctx is done.
func (h *Registry) Run(ctx context.Context, interval time.Duration) error {
	h.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			h.Check(ctx)
		}
	}
}

func (h *Registry) failures(kind Kind) map[string]string {
	out := map[string]string{}
	for _, c := range h.snapshot() {
		if c.kind != kind {
			continue
		}
		if err := c.failure(); err != nil {
			out[c.name] = err.Error()
		}
	}
	return out
}

// Live serves /livez.
func (h *Registry) Live(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, true, h.failures(Liveness))
}

// ReadyHandler serves /readyz. It fails while the readiness flag is down.
func (h *Registry) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.Ready(), h.failures(Readiness))
}

func writeStatus(w http.ResponseWriter, ready bool, failures map[string]string) {
	status, code := "ok", http.StatusOK
	switch {
	case len(failures) > 0:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case !ready:
		status, code = "not ready", http.StatusServiceUnavailable
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(failures) == 0 {
			return
		}
		e.Field("failures", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for name, msg := range failures {
					e.Field(name, func(e *jx.Encoder) { e.Str(msg) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
