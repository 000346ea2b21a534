package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/port"
	appLogger "github.com/arklim/authguard/internal/infra/logger"
)

const (
	rateLimitProblemType  = "urn:authguard:problem:rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter enforces sliding-window limits backed by a port.RateLimitStore.
// Store failures fail open.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

type windowState struct {
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules in order.
// The first exhausted rule rejects the request; otherwise the tightest window drives the headers.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if len(active) == 0 || rl == nil || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var tightest *windowState

		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			state, err := rl.check(c, rule, fmt.Sprintf("%s:%s", rule.Name, identifier), now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("identifier", appLogger.MaskIP(identifier)),
					zap.Error(err),
				)
				continue
			}

			if !state.allowed {
				writeRateLimitHeaders(c, state)
				rl.reject(c, rule, state)
				return
			}

			if tightest == nil || state.remaining < tightest.remaining ||
				(state.remaining == tightest.remaining && state.reset.Before(tightest.reset)) {
				snapshot := state
				tightest = &snapshot
			}
		}

		if tightest != nil {
			writeRateLimitHeaders(c, *tightest)
		}

		c.Next()
	}
}

func (rl *RateLimiter) check(c *gin.Context, rule RateLimitRule, key string, now time.Time) (windowState, error) {
	ctx := c.Request.Context()

	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return windowState{}, err
	}

	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return windowState{}, err
	}

	oldest, hasAttempts, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return windowState{}, err
	}

	state := windowState{
		allowed: true,
		limit:   rule.Limit,
		reset:   now.Add(rule.Window),
	}
	if hasAttempts {
		state.reset = oldest.Add(rule.Window)
	}
	state.retryAfter = max(state.reset.Sub(now), 0)

	if count >= rule.Limit {
		state.allowed = false
		return state, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return windowState{}, err
	}

	state.remaining = max(rule.Limit-count-1, 0)
	return state, nil
}

func (rl *RateLimiter) reject(c *gin.Context, rule RateLimitRule, state windowState) {
	retrySeconds := retryAfterSeconds(state.retryAfter)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	rl.logger.Info("rate limit exceeded",
		zap.String("rule", rule.Name),
		zap.String("path", instance),
		zap.Int("retry_after", retrySeconds),
	)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", retrySeconds),
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    GetTraceID(c),
	})
}

func writeRateLimitHeaders(c *gin.Context, state windowState) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(state.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(state.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(state.reset.Unix(), 10))

	if !state.allowed {
		headers.Set("Retry-After", strconv.Itoa(retryAfterSeconds(state.retryAfter)))
	}
}

func retryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 0)
}
