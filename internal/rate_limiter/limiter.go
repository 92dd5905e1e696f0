// Package ratelimiter throttles HTTP requests per authenticated user,
// or per client IP when the request carries no identity.
package ratelimiter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/johndosdos/huddle/internal/auth"
)

// CleanupOpts controls how long an idle caller keeps its bucket.
type CleanupOpts struct {
	TTL      time.Duration
	Interval time.Duration
}

// Key names the bucket a request is charged to.
type Key string

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per caller.
type Limiter struct {
	mu      sync.Mutex
	buckets map[Key]*bucket
	rate    rate.Limit
	burst   int
	opts    CleanupOpts
	Cancel  context.CancelFunc
}

// New allows each caller requests per window, bursting up to requests.
// Call Cancel to stop the cleanup goroutine.
func New(requests int, window time.Duration, opts CleanupOpts) *Limiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.TTL <= 0 {
		opts.TTL = 3 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	rl := &Limiter{
		buckets: make(map[Key]*bucket),
		rate:    rate.Every(window / time.Duration(requests)),
		burst:   requests,
		opts:    opts,
		Cancel:  cancel,
	}
	go rl.cleanup(ctx)
	return rl
}

func (rl *Limiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for k, b := range rl.buckets {
				if time.Since(b.lastSeen) > rl.opts.TTL {
					delete(rl.buckets, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// KeyFor charges authenticated requests to their user and anonymous
// ones to the client IP.
func KeyFor(r *http.Request) Key {
	if id, err := auth.GetIdentity(r.Context()); err == nil {
		return Key("user:" + id.UserID.String())
	}
	return Key("ip:" + ClientIP(r))
}

// ClientIP returns the last X-Forwarded-For hop, else the remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[len(ips)-1])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		slog.Warn("invalid remote address", "remote_addr", r.RemoteAddr)
		return r.RemoteAddr
	}
	return host
}

// Reserve takes a token for k. When none is left it reports how long the
// caller should wait instead.
func (rl *Limiter) Reserve(k Key) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[k]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[k] = b
	}
	now := time.Now()
	b.lastSeen = now

	res := b.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Allow is Reserve without the wait.
func (rl *Limiter) Allow(k Key) bool {
	ok, _ := rl.Reserve(k)
	return ok
}

// Middleware rejects requests over budget with 429 and Retry-After. Mount
// it after auth.Middleware so authenticated callers get their own bucket.
func (rl *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := KeyFor(r)
		ok, wait := rl.Reserve(k)
		if !ok {
			slog.WarnContext(r.Context(), "rate limit exceeded",
				"key", k,
				"path", r.URL.Path,
				"method", r.Method)

			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "Too many requests. Try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
