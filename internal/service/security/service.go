package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
)

// ResolutionRequest carries one workflow transition for a security event.
type ResolutionRequest struct {
	EventID    uuid.UUID            `validate:"required"`
	To         security.EventStatus `validate:"required"`
	ResolvedBy string               `validate:"required,max=255"`
	Notes      string               `validate:"max=4000"`
}

// Service exposes the security incident workflow: reading open incidents and
// moving them through the resolution state machine.
type Service struct {
	repo      security.Repository
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo security.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, validator: validator.New(), logger: logger, now: time.Now}
}

// Get returns one event by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*security.Event, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByStatus returns up to limit events in the given workflow state, newest
// first.
func (s *Service) ListByStatus(ctx context.Context, status security.EventStatus, limit int) ([]*security.Event, error) {
	return s.repo.ListByStatus(ctx, status, limit)
}

// Resolve moves an event to a new workflow state. Unknown ids surface as
// not-found; transitions the state machine forbids surface as business errors
// and leave the stored event untouched.
func (s *Service) Resolve(ctx context.Context, req ResolutionRequest) (*security.Event, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, errors.NewValidationError("INVALID_RESOLUTION", "resolution request validation failed").WithCause(err)
	}

	event, err := s.repo.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	previous := event.Status
	if err := event.Transition(req.To, req.ResolvedBy, req.Notes, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, event); err != nil {
		return nil, err
	}

	s.logger.Info("security event transitioned",
		"event_id", event.ID,
		"from", previous,
		"to", event.Status,
		"actor", req.ResolvedBy)
	return event, nil
}
