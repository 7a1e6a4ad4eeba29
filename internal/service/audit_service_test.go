package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/logger"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository/memstore"
)

func newAuditFixture(t *testing.T) (*AuditService, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return NewAuditService(store, logger.Nop()), store
}

func TestLogActionValidatesEntry(t *testing.T) {
	svc, _ := newAuditFixture(t)

	err := svc.LogAction(context.Background(), &repository.AuditLog{
		EntityType: "approval_workflow",
		ActorID:    "user-1",
	})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))

	err = svc.LogAction(context.Background(), &repository.AuditLog{
		ActionType: repository.ActionApproval,
		EntityType: "approval_workflow",
		EntityID:   "wf-1",
		ActorID:    "user-1",
		Changes:    map[string]any{"decision": "approve"},
	})
	require.NoError(t, err)
}

func TestLogActionSurfacesWriteFailure(t *testing.T) {
	svc, store := newAuditFixture(t)
	store.SetAuditFailure(true)

	err := svc.LogAction(context.Background(), &repository.AuditLog{
		ActionType: repository.ActionApproval,
		EntityType: "approval_workflow",
		EntityID:   "wf-1",
		ActorID:    "user-1",
	})
	assert.Equal(t, apperrors.ErrCodeAuditWrite, apperrors.CodeOf(err))
	assert.True(t, apperrors.Retryable(err))
}

func TestGetEntityHistoryNewestFirst(t *testing.T) {
	svc, _ := newAuditFixture(t)

	for _, action := range []repository.ActionType{
		repository.ActionWorkflowCreated,
		repository.ActionApproval,
		repository.ActionRejection,
	} {
		err := svc.LogAction(context.Background(), &repository.AuditLog{
			ActionType: action,
			EntityType: "approval_workflow",
			EntityID:   "wf-1",
			ActorID:    "user-1",
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	err := svc.LogAction(context.Background(), &repository.AuditLog{
		ActionType: repository.ActionBatchCreated,
		EntityType: "disbursement_batch",
		EntityID:   "batch-1",
		ActorID:    "user-2",
	})
	require.NoError(t, err)

	history, err := svc.GetEntityHistory(context.Background(), "approval_workflow", "wf-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, repository.ActionRejection, history[0].ActionType)
	assert.Equal(t, repository.ActionWorkflowCreated, history[2].ActionType)

	_, err = svc.GetEntityHistory(context.Background(), "", "wf-1")
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestGetAuditTrailHonorsFilter(t *testing.T) {
	svc, _ := newAuditFixture(t)

	for i := 0; i < 5; i++ {
		err := svc.LogAction(context.Background(), &repository.AuditLog{
			ActionType: repository.ActionApproval,
			EntityType: "approval_workflow",
			EntityID:   "wf-1",
			ActorID:    "user-1",
		})
		require.NoError(t, err)
	}

	limited, err := svc.GetAuditTrail(context.Background(), repository.AuditFilter{
		EntityID: "wf-1",
		Limit:    2,
	})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = svc.GetAuditTrail(context.Background(), repository.AuditFilter{
		StartDate: time.Now(),
		EndDate:   time.Now().Add(-time.Hour),
	})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestGetActionSummary(t *testing.T) {
	svc, _ := newAuditFixture(t)

	entries := []repository.ActionType{
		repository.ActionApproval,
		repository.ActionApproval,
		repository.ActionRejection,
	}
	for _, action := range entries {
		err := svc.LogAction(context.Background(), &repository.AuditLog{
			ActionType: action,
			EntityType: "approval_workflow",
			EntityID:   "wf-1",
			ActorID:    "user-1",
		})
		require.NoError(t, err)
	}

	summary, err := svc.GetActionSummary(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(2), summary.ByAction[repository.ActionApproval])
	assert.Equal(t, int64(1), summary.ByAction[repository.ActionRejection])
}
