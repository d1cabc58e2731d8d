// Package health serves the /livez and /readyz probes.
//
// Every check runs in its own goroutine. A check flips to failing after
// FailureThreshold consecutive errors and back after SuccessThreshold
// consecutive successes, so a single slow ping does not drain the pod.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// Option tunes a single check.
type Option func(*probe)

// WithTimeout bounds one run of the check. Default 2s.
func WithTimeout(d time.Duration) Option {
	return func(p *probe) { p.timeout = d }
}

// WithThresholds sets the consecutive failure and success counts needed to
// change state. Defaults are 3 and 1.
func WithThresholds(failures, successes int) Option {
	return func(p *probe) {
		p.failureThreshold = max(failures, 1)
		p.successThreshold = max(successes, 1)
	}
}

// probe is a registered check. The counters are owned by the goroutine that
// calls run; healthy and lastErr are read by the HTTP handlers.
type probe struct {
	name             string
	check            CheckFunc
	timeout          time.Duration
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails     int
	successes int
}

func newProbe(name string, check CheckFunc, opts []Option) *probe {
	p := &probe{
		name:             name,
		check:            check,
		timeout:          2 * time.Second,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(p)
	}
	p.healthy.Store(true)
	return p
}

// run executes the check once and reports whether the state flipped.
func (p *probe) run(ctx context.Context) (changed bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)
	was := p.healthy.Load()
	if err != nil {
		p.successes = 0
		p.fails++
		if p.fails >= p.failureThreshold {
			p.healthy.Store(false)
		}
	} else {
		p.fails = 0
		p.successes++
		if p.successes >= p.successThreshold {
			p.healthy.Store(true)
		}
	}
	return was != p.healthy.Load()
}

func (p *probe) failure() string {
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error()
	}
	return "check is failing"
}

// Health aggregates liveness and readiness checks.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true).
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Liveness registers a check that restarts the process when failing.
func (h *Health) Liveness(name string, check CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, check, opts))
}

// Readiness registers a check that takes the instance out of rotation when failing.
func (h *Health) Readiness(name string, check CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, check, opts))
}

// Start runs every registered check now and then at interval until Stop or
// until ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go h.loop(ctx, p, interval)
	}
}

func (h *Health) loop(ctx context.Context, p *probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if p.run(ctx) {
			if p.healthy.Load() {
				h.lg.Info("Health check recovered", zap.String("check", p.name))
			} else {
				h.lg.Warn("Health check failing", zap.String("check", p.name), zap.String("error", p.failure()))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the check goroutines. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the instance ready after startup, or not ready while draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the instance is marked ready and every readiness check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(h.snapshot(false))) == 0
}

// Mount registers GET /livez and GET /readyz.
func (h *Health) Mount(r chi.Router) {
	r.Get("/livez", h.LiveEndpoint)
	r.Get("/readyz", h.ReadyEndpoint)
}

// LiveEndpoint answers 200 while every liveness check passes, 503 otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(h.snapshot(true)))
}

// ReadyEndpoint answers 200 when the instance is ready, 503 otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(h.snapshot(false))
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func (h *Health) snapshot(live bool) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if live {
		return append([]*probe(nil), h.liveness...)
	}
	return append([]*probe(nil), h.readiness...)
}

func (h *Health) failures(probes []*probe) map[string]string {
	out := make(map[string]string)
	for _, p := range probes {
		if !p.healthy.Load() {
			out[p.name] = p.failure()
		}
	}
	return out
}

// writeStatus writes {"status":"ok"} or {"status":"unhealthy","checks":{...}}.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	status, text := http.StatusOK, "ok"
	if len(failures) > 0 {
		status, text = http.StatusServiceUnavailable, "unhealthy"
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(text) })
		if len(failures) == 0 {
			return
		}
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
