package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"
)

const staleAfter = 10 * time.Minute

type Config struct {
	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond float64
	Burst             int
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client address.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*client
	swept   time.Time
	now     func() time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, clients: map[string]*client{}, now: time.Now}
}

func (l *Limiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > staleAfter {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > staleAfter {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Handler rejects requests over the client's rate with 429 and a
// Retry-After header.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := l.get(clientIP(r))

		reservation := limiter.Reserve()
		if !reservation.OK() {
			tooManyRequests(w, r, 0)
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			tooManyRequests(w, r, int(delay.Seconds())+1)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
		next.ServeHTTP(w, r)
	})
}

// clientIP uses RemoteAddr only, forwarded headers can be spoofed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func tooManyRequests(w http.ResponseWriter, r *http.Request, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]any{
		"code":    http.StatusTooManyRequests,
		"message": "rate limit exceeded",
	})
}
