package security

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
	"github.com/scoopworks/retail-audit-backend/internal/domain/security"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/repository"
)

func storedEvent(t *testing.T, repo *repository.MemorySecurityRepository) *security.Event {
	t.Helper()
	event, err := security.NewEvent(security.Draft{
		EventType:   "BRUTE_FORCE",
		Severity:    security.SeverityHigh,
		ActorUserID: "u-9",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, repo.Store(context.Background(), event))
	return event
}

func TestResolveStampsResolution(t *testing.T) {
	repo := repository.NewMemorySecurityRepository()
	svc := NewService(repo, nil)
	event := storedEvent(t, repo)

	resolved, err := svc.Resolve(context.Background(), ResolutionRequest{EventID: event.ID, To: security.StatusResolved, ResolvedBy: "analyst-1", Notes: "confirmed and blocked"})
	require.NoError(t, err)

	assert.Equal(t, security.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "analyst-1", resolved.ResolvedBy)
	assert.Equal(t, "confirmed and blocked", resolved.Notes)
	require.NoError(t, resolved.Validate())

	stored, err := repo.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, security.StatusResolved, stored.Status)
}

func TestResolveRejectsInvalidRequest(t *testing.T) {
	repo := repository.NewMemorySecurityRepository()
	svc := NewService(repo, nil)
	event := storedEvent(t, repo)

	_, err := svc.Resolve(context.Background(), ResolutionRequest{EventID: event.ID, To: security.StatusResolved})
	require.Error(t, err, "missing resolver identity")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	stored, err := repo.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, security.StatusOpen, stored.Status)
}

func TestResolveUnknownIDIsNotFound(t *testing.T) {
	repo := repository.NewMemorySecurityRepository()
	svc := NewService(repo, nil)

	_, err := svc.Resolve(context.Background(), ResolutionRequest{EventID: uuid.New(), To: security.StatusResolved, ResolvedBy: "analyst-1", Notes: ""})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestResolveRejectsForbiddenTransition(t *testing.T) {
	repo := repository.NewMemorySecurityRepository()
	svc := NewService(repo, nil)
	event := storedEvent(t, repo)

	_, err := svc.Resolve(context.Background(), ResolutionRequest{EventID: event.ID, To: security.StatusResolved, ResolvedBy: "analyst-1", Notes: "done"})
	require.NoError(t, err)

	// RESOLVED is terminal.
	_, err = svc.Resolve(context.Background(), ResolutionRequest{EventID: event.ID, To: security.StatusInvestigating, ResolvedBy: "analyst-2", Notes: ""})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBusiness))

	stored, err := repo.GetByID(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, security.StatusResolved, stored.Status, "failed transition leaves the event unchanged")
}

func TestResolveEscalateThenInvestigateClearsResolution(t *testing.T) {
	repo := repository.NewMemorySecurityRepository()
	svc := NewService(repo, nil)
	event := storedEvent(t, repo)

	_, err := svc.Resolve(context.Background(), ResolutionRequest{EventID: event.ID, To: security.StatusEscalated, ResolvedBy: "analyst-1", Notes: "needs senior review"})
	require.NoError(t, err)

	back, err := svc.Resolve(context.Background(), ResolutionRequest{EventID: event.ID, To: security.StatusInvestigating, ResolvedBy: "analyst-2", Notes: ""})
	require.NoError(t, err)
	assert.Nil(t, back.ResolvedAt)
	assert.Empty(t, back.ResolvedBy)
	require.NoError(t, back.Validate())
}
