package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig allows Requests per Window for each client IP.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// IdleTTL is how long an idle client's limiter is kept.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig is 300 requests per 15 minutes.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 300,
		Window:   15 * time.Minute,
	}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	d := DefaultRateLimitConfig()
	if c.Requests <= 0 {
		c.Requests = d.Requests
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = c.Window
	}
	return c
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client. The full window's quota is
// available as burst and refills evenly across the window.
type ipLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newIPLimiter(cfg RateLimitConfig) *ipLimiter {
	return &ipLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Every(cfg.Window / time.Duration(cfg.Requests)),
		burst:     cfg.Requests,
		idleTTL:   cfg.IdleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *ipLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimit limits each client IP to cfg.Requests per cfg.Window.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	cfg = cfg.withDefaults()
	store := newIPLimiter(cfg)
	limitHeader := strconv.Itoa(cfg.Requests)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := store.get(c.RealIP())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			if !lim.Allow() {
				wait := lim.Reserve()
				delay := wait.Delay()
				wait.Cancel()
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, please try again later")
			}

			h.Set("X-RateLimit-Remaining", strconv.Itoa(int(lim.Tokens())))
			return next(c)
		}
	}
}
