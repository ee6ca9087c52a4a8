package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	id "vouch/pkg/domain"
	"vouch/pkg/requestcontext"
)

type limiterFunc func(ctx context.Context, key string) (*Result, error)

func (f limiterFunc) Allow(ctx context.Context, key string) (*Result, error) {
	return f(ctx, key)
}

type MiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *MiddlewareSuite) serve(m *Middleware, ctx context.Context) *httptest.ResponseRecorder {
	var reached bool
	handler := m.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code == http.StatusNoContent {
		assert.True(s.T(), reached)
	} else {
		assert.False(s.T(), reached)
	}
	return rec
}

func (s *MiddlewareSuite) TestAllowedRequestPassesWithHeaders() {
	m := NewMiddleware(limiterFunc(func(context.Context, string) (*Result, error) {
		return &Result{Allowed: true, Limit: 10, Remaining: 7}, nil
	}), s.logger)

	ctx := requestcontext.WithUserID(context.Background(), id.NewUserID())
	rec := s.serve(m, ctx)

	assert.Equal(s.T(), http.StatusNoContent, rec.Code)
	assert.Equal(s.T(), "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(s.T(), "7", rec.Header().Get("X-RateLimit-Remaining"))
}

func (s *MiddlewareSuite) TestExceededRequestGets429() {
	m := NewMiddleware(limiterFunc(func(context.Context, string) (*Result, error) {
		return &Result{Allowed: false, Limit: 10, Remaining: 0, RetryAfter: 42 * time.Second}, nil
	}), s.logger)

	ctx := requestcontext.WithUserID(context.Background(), id.NewUserID())
	rec := s.serve(m, ctx)

	assert.Equal(s.T(), http.StatusTooManyRequests, rec.Code)
	assert.Equal(s.T(), "42", rec.Header().Get("Retry-After"))
	assert.Contains(s.T(), rec.Body.String(), "rate_limited")
}

func (s *MiddlewareSuite) TestLimiterKeyedByUser() {
	userID := id.NewUserID()
	var seenKey string
	m := NewMiddleware(limiterFunc(func(_ context.Context, key string) (*Result, error) {
		seenKey = key
		return &Result{Allowed: true, Limit: 10, Remaining: 9}, nil
	}), s.logger)

	s.serve(m, requestcontext.WithUserID(context.Background(), userID))
	assert.Equal(s.T(), userID.String(), seenKey)
}

func (s *MiddlewareSuite) TestLimiterFailureFailsOpen() {
	m := NewMiddleware(limiterFunc(func(context.Context, string) (*Result, error) {
		return nil, errors.New("redis down")
	}), s.logger)

	ctx := requestcontext.WithUserID(context.Background(), id.NewUserID())
	rec := s.serve(m, ctx)
	assert.Equal(s.T(), http.StatusNoContent, rec.Code)
}

func (s *MiddlewareSuite) TestDisabledSkipsLimiter() {
	var called bool
	m := NewMiddleware(limiterFunc(func(context.Context, string) (*Result, error) {
		called = true
		return &Result{Allowed: false}, nil
	}), s.logger, WithDisabled(true))

	rec := s.serve(m, context.Background())
	assert.Equal(s.T(), http.StatusNoContent, rec.Code)
	assert.False(s.T(), called)
}
