// Package audit exposes the read side of the audit trail: filtered listing,
// criteria search and compliance report generation.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/cache"
)

// QueryLimits tunes the per-client throttle on the search surface.
type QueryLimits struct {
	Requests int
	Window   time.Duration
}

func (l *QueryLimits) withDefaults() {
	if l.Requests <= 0 {
		l.Requests = 100
	}
	if l.Window <= 0 {
		l.Window = time.Minute
	}
}

// Service answers audit trail queries. Each caller is identified by a client
// id and throttled independently; the limiter is injected so tests can reset
// it deterministically.
type Service struct {
	repo      audit.Repository
	limiter   cache.RateLimiter
	limits    QueryLimits
	validator *validator.Validate
	logger    *slog.Logger
}

// NewService wires the query surface. limiter may be nil, which disables
// throttling (used by internal callers and tests).
func NewService(repo audit.Repository, limiter cache.RateLimiter, limits QueryLimits, logger *slog.Logger) *Service {
	limits.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		limiter:   limiter,
		limits:    limits,
		validator: validator.New(),
		logger:    logger,
	}
}

// GetByID returns one record.
func (s *Service) GetByID(ctx context.Context, id string) (*audit.Record, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns records matching the filter, newest first.
func (s *Service) List(ctx context.Context, clientID string, filter audit.Filter) ([]*audit.Record, error) {
	if err := s.throttle(ctx, clientID); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

// Search runs a criteria search, newest first, capped at the criteria limit.
func (s *Service) Search(ctx context.Context, clientID string, criteria audit.SearchCriteria) ([]*audit.Record, error) {
	if err := s.throttle(ctx, clientID); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(criteria); err != nil {
		return nil, errors.NewValidationError("INVALID_CRITERIA", "criteria validation failed").WithCause(err)
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Search(ctx, criteria)
}

// PurgeOlderThan deletes records past the retention cutoff and returns the
// number removed. This is the only path that ever removes audit records.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("retention purge completed",
			"cutoff", cutoff, "removed", removed)
	}
	return removed, nil
}

func (s *Service) throttle(ctx context.Context, clientID string) error {
	if s.limiter == nil || clientID == "" {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, clientID, s.limits.Requests, s.limits.Window)
	if err != nil {
		// Limiter trouble must not take down the query surface.
		s.logger.Warn("rate limiter unavailable, allowing request",
			"client_id", clientID, "error", err)
		return nil
	}
	if !allowed {
		return errors.NewBusinessError("RATE_LIMITED", "query rate limit exceeded").
			WithDetails(map[string]interface{}{"client_id": clientID})
	}
	return nil
}
