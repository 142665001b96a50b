package audit

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoopworks/retail-audit-backend/internal/domain/audit"
	"github.com/scoopworks/retail-audit-backend/internal/domain/errors"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/cache"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/repository"
)

func seedRecords(t *testing.T, repo *repository.MemoryAuditRepository, drafts ...audit.Draft) []*audit.Record {
	t.Helper()
	out := make([]*audit.Record, 0, len(drafts))
	for _, draft := range drafts {
		rec, err := audit.NewRecord(draft)
		require.NoError(t, err)
		require.NoError(t, repo.Store(context.Background(), rec))
		out = append(out, rec)
	}
	return out
}

func baseTime() time.Time {
	return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
}

func seedMixed(t *testing.T, repo *repository.MemoryAuditRepository) {
	t.Helper()
	at := baseTime()
	seedRecords(t, repo,
		audit.Draft{ActorUserID: "u-1", Action: audit.ActionLogin, Resource: audit.ResourceUser,
			Status: audit.StatusSuccess, Message: "user logged in: u-1",
			Tags: []string{"AUTHENTICATION"}, CreatedAt: at},
		audit.Draft{ActorUserID: "u-2", Action: audit.ActionCreate, Resource: audit.ResourcePOSTransaction,
			Status: audit.StatusSuccess, Message: "POS transaction recorded: tx-1",
			Tags: []string{"SALES", "TRANSACTION"}, CreatedAt: at.Add(time.Minute)},
		audit.Draft{ActorUserID: "u-1", Action: audit.ActionError, Resource: audit.ResourceSystem,
			Status: audit.StatusFailure, Message: "system error: disk full",
			Tags: []string{"SYSTEM_ERROR", "ERROR_HANDLING"}, CreatedAt: at.Add(2 * time.Minute)},
	)
}

func TestSearchEmptyCriteriaNewestFirst(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	seedMixed(t, repo)
	svc := NewService(repo, nil, QueryLimits{}, nil)

	got, err := svc.Search(context.Background(), "", audit.SearchCriteria{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		return got[i].CreatedAt.After(got[j].CreatedAt)
	}), "results must be newest first")
}

func TestSearchEnforcesLimit(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	at := baseTime()
	for i := 0; i < 10; i++ {
		seedRecords(t, repo, audit.Draft{
			ActorUserID: fmt.Sprintf("u-%d", i),
			Action:      audit.ActionLogin, Resource: audit.ResourceUser,
			Status: audit.StatusSuccess, Message: "login",
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		})
	}
	svc := NewService(repo, nil, QueryLimits{}, nil)

	got, err := svc.Search(context.Background(), "", audit.SearchCriteria{Limit: 4})
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, "u-9", got[0].ActorUserID, "limit keeps the newest records")
}

func TestSearchRejectsInvalidCriteria(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	svc := NewService(repo, nil, QueryLimits{}, nil)
	ctx := context.Background()

	cases := []audit.SearchCriteria{
		{Limit: 0},
		{Limit: -1},
		{Limit: 10001},
	}
	for _, criteria := range cases {
		_, err := svc.Search(ctx, "", criteria)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	}

	from := baseTime()
	to := from.Add(-time.Hour)
	_, err := svc.Search(ctx, "", audit.SearchCriteria{Limit: 10, From: &from, To: &to})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestSearchKeywordsMatchMessageAndTags(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	seedMixed(t, repo)
	svc := NewService(repo, nil, QueryLimits{}, nil)
	ctx := context.Background()

	// Case-insensitive substring of the message.
	got, err := svc.Search(ctx, "", audit.SearchCriteria{Keywords: []string{"DISK FULL"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audit.ActionError, got[0].Action)

	// Exact tag membership.
	got, err = svc.Search(ctx, "", audit.SearchCriteria{Keywords: []string{"SALES"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audit.ResourcePOSTransaction, got[0].Resource)

	// Keywords OR together, then AND with field filters.
	got, err = svc.Search(ctx, "", audit.SearchCriteria{
		Keywords:     []string{"SALES", "disk"},
		ActorUserIDs: []string{"u-1"},
		Limit:        10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u-1", got[0].ActorUserID)
}

// Keyword search must agree with a brute-force scan using the criteria's own
// reference predicate.
func TestSearchAgreesWithBruteForce(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	at := baseTime()
	messages := []string{
		"user logged in: alice", "Stock registered: sk-1", "invoice generated: inv-2",
		"system error: timeout while LOGGING", "security event: brute force",
	}
	tagSets := [][]string{
		{"AUTHENTICATION"}, {"INVENTORY", "PRODUCTION"}, {"INVENTORY", "FINANCE"},
		{"SYSTEM_ERROR"}, {"SECURITY", "HIGH"},
	}
	for i, msg := range messages {
		seedRecords(t, repo, audit.Draft{
			ActorUserID: fmt.Sprintf("u-%d", i%2),
			Action:      audit.ActionCreate, Resource: audit.ResourceSystem,
			Status: audit.StatusSuccess, Message: msg, Tags: tagSets[i],
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		})
	}
	svc := NewService(repo, nil, QueryLimits{}, nil)

	criteria := audit.SearchCriteria{
		Keywords: []string{"logg", "INVENTORY", "nonexistent"},
		Limit:    100,
	}
	got, err := svc.Search(context.Background(), "", criteria)
	require.NoError(t, err)

	all, err := repo.List(context.Background(), audit.Filter{Limit: 100})
	require.NoError(t, err)
	var want []*audit.Record
	for _, r := range all {
		if criteria.Matches(r) {
			want = append(want, r)
		}
	}
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
	}
}

func TestListAppliesFilterAndPagination(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	at := baseTime()
	for i := 0; i < 6; i++ {
		status := audit.StatusSuccess
		if i%2 == 0 {
			status = audit.StatusFailure
		}
		seedRecords(t, repo, audit.Draft{
			ActorUserID: "u-1", Action: audit.ActionLogin, Resource: audit.ResourceUser,
			Status: status, Message: "login",
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		})
	}
	svc := NewService(repo, nil, QueryLimits{}, nil)

	got, err := svc.List(context.Background(), "", audit.Filter{
		Status: audit.StatusFailure, Limit: 2, Offset: 1,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, audit.StatusFailure, r.Status)
	}
}

func TestSearchThrottlesPerClient(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	limiter := cache.NewLocalRateLimiter()
	svc := NewService(repo, limiter, QueryLimits{Requests: 2, Window: time.Minute}, nil)
	ctx := context.Background()

	criteria := audit.SearchCriteria{Limit: 10}
	for i := 0; i < 2; i++ {
		_, err := svc.Search(ctx, "client-a", criteria)
		require.NoError(t, err)
	}
	_, err := svc.Search(ctx, "client-a", criteria)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBusiness))

	// Other clients are unaffected.
	_, err = svc.Search(ctx, "client-b", criteria)
	assert.NoError(t, err)

	// Reset restores the throttled client deterministically.
	require.NoError(t, limiter.Reset(ctx, "client-a"))
	_, err = svc.Search(ctx, "client-a", criteria)
	assert.NoError(t, err)
}

func TestPurgeOlderThan(t *testing.T) {
	repo := repository.NewMemoryAuditRepository()
	at := baseTime()
	seedRecords(t, repo,
		audit.Draft{Action: audit.ActionLogin, Resource: audit.ResourceUser,
			Status: audit.StatusSuccess, CreatedAt: at.Add(-48 * time.Hour)},
		audit.Draft{Action: audit.ActionLogin, Resource: audit.ResourceUser,
			Status: audit.StatusSuccess, CreatedAt: at},
	)
	svc := NewService(repo, nil, QueryLimits{}, nil)

	removed, err := svc.PurgeOlderThan(context.Background(), at.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, repo.Len())
}
