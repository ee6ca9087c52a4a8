package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"vouch/internal/transport/http/shared"
	"vouch/pkg/requestcontext"
)

// Middleware applies a Limiter to authenticated requests, keyed by user ID.
// Limiter failures fail open so a Redis outage degrades to unthrottled
// service rather than a hard outage.
type Middleware struct {
	limiter  Limiter
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the middleware into a pass-through (testing and demo
// environments).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func NewMiddleware(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		userID := requestcontext.UserID(ctx)
		key := userID.String()
		if userID.IsNil() {
			key = r.RemoteAddr
		}

		result, err := m.limiter.Allow(ctx, key)
		if err != nil {
			m.logger.Error("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			shared.WriteJSON(w, http.StatusTooManyRequests, shared.ErrorResponse{
				Error:   "rate_limited",
				Message: "request rate limit exceeded, slow down",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
