package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the per-client request limit.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

// Decision is the outcome of one Limiter call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

// RateLimit rejects requests over the limit with 429. Every response carries
// the X-RateLimit-* headers. A failing Limiter lets the request through.
func RateLimit(cfg RateLimitConfig, limiter Limiter) Middleware {
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = ClientIP
	}
	limit := strconv.Itoa(cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := limiter.Allow(r.Context(), keyOf(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				retry := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeProblem(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MemoryLimiter is a sliding window limiter local to the process. The
// previous window's count is weighted by how much of it still overlaps.
type MemoryLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

// NewMemoryLimiter creates a MemoryLimiter.
func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		max:     cfg.Max,
		window:  cfg.Window,
		windows: make(map[string]*slidingWindow),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sw, ok := l.windows[key]
	if !ok {
		sw = &slidingWindow{currStart: now.Truncate(l.window)}
		l.windows[key] = sw
	}
	if elapsed := now.Sub(sw.currStart); elapsed >= l.window {
		if elapsed >= 2*l.window {
			sw.prevCount = 0
		} else {
			sw.prevCount = sw.currCount
		}
		sw.currCount = 0
		sw.currStart = now.Truncate(l.window)
	}

	overlap := max(1-now.Sub(sw.currStart).Seconds()/l.window.Seconds(), 0)
	effective := sw.prevCount*overlap + sw.currCount
	d := Decision{ResetAt: sw.currStart.Add(l.window)}
	if effective >= float64(l.max) {
		return d, nil
	}
	sw.currCount++
	d.Allowed = true
	d.Remaining = max(int(float64(l.max)-effective-1), 0)
	return d, nil
}

// Sweep drops windows idle for two periods.
func (l *MemoryLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, sw := range l.windows {
		if now.Sub(sw.currStart) >= 2*l.window {
			delete(l.windows, key)
		}
	}
}

// Run sweeps idle windows every two periods until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// RedisLimiter is a fixed window limiter shared by every API replica.
type RedisLimiter struct {
	client redis.UniversalClient
	max    int
	window time.Duration
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(client redis.UniversalClient, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{client: client, max: cfg.Max, window: cfg.Window}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	redisKey := "bytekart:ratelimit:" + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.PExpire(ctx, redisKey, l.window)
		return nil
	}); err != nil {
		return Decision{}, errors.Wrap(err, "count request")
	}

	count := int(incr.Val())
	return Decision{
		Allowed:   count <= l.max,
		Remaining: max(l.max-count, 0),
		ResetAt:   start.Add(l.window),
	}, nil
}
