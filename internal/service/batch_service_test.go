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

func newBatchFixture(t *testing.T) (*BatchService, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := NewBatchService(store, store, nil, logger.Nop())
	return svc, store
}

func TestValidateBatchSumsPerOrganization(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 10_000)

	result, err := svc.ValidateBatch(context.Background(), []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 6_000},
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 6_000},
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.Items[0].OK)
	assert.False(t, result.Items[1].OK)
	assert.Contains(t, result.Items[1].Reason, "remaining")
}

func TestValidateBatchFlagsUnknownOrganization(t *testing.T) {
	svc, _ := newBatchFixture(t)

	result, err := svc.ValidateBatch(context.Background(), []BatchItemInput{
		{OrganizationID: "org-ghost", FiscalYear: 2026, Amount: 1_000},
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Items[0].Reason, "no allocation")
}

func TestCreateBatchDisbursement(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 50_000)
	store.SeedAllocation("org-b", 2026, 50_000)

	batch, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000, Purpose: "seed subsidy"},
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 5_000, Purpose: "equipment"},
		{OrganizationID: "org-b", FiscalYear: 2026, Amount: 20_000, Purpose: "training"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(35_000), batch.TotalAmount)
	assert.Equal(t, 2, batch.OrganizationCount)
	assert.Equal(t, repository.BatchPending, batch.Status)
	assert.NotEmpty(t, batch.BatchNumber)
	require.Len(t, batch.Items, 3)
	for _, item := range batch.Items {
		assert.Equal(t, repository.ItemPending, item.Status)
	}

	trail, err := store.List(context.Background(), repository.AuditFilter{EntityID: batch.ID})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, repository.ActionBatchCreated, trail[0].ActionType)
}

func TestCreateBatchRejectsInvalidItemsWithoutPersisting(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 50_000)

	_, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000},
		{OrganizationID: "org-ghost", FiscalYear: 2026, Amount: 5_000},
	})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))

	batches, err := store.ListBatchesBetween(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestProcessBatchCompletes(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 50_000)
	store.SeedOrganizationBudget("org-a", "region-7", 2026, 100_000)

	batch, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000},
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 15_000},
	})
	require.NoError(t, err)

	processed, err := svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	require.NoError(t, err)
	assert.Equal(t, repository.BatchCompleted, processed.Status)
	require.NotNil(t, processed.CompletedAt)
	for _, item := range processed.Items {
		assert.Equal(t, repository.ItemSucceeded, item.Status)
		assert.NotNil(t, item.ExecutedAt)
	}

	alloc, err := store.GetAllocation(context.Background(), "org-a", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), alloc.Utilized)

	budget, err := store.GetOrganizationBudget(context.Background(), "org-a", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(125_000), budget.Amount)

	summary, err := store.Summary(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.ByAction[repository.ActionDisbursement])
	assert.Equal(t, int64(1), summary.ByAction[repository.ActionBatchCompleted])
}

func TestProcessBatchPartialFailureAndRetry(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 50_000)
	store.SeedOrganizationBudget("org-a", "region-7", 2026, 0)
	store.SeedAllocation("org-b", 2026, 50_000)
	store.SeedOrganizationBudget("org-b", "region-7", 2026, 0)

	batch, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000},
		{OrganizationID: "org-b", FiscalYear: 2026, Amount: 20_000},
	})
	require.NoError(t, err)

	// Drain org-b's allocation after creation so its item fails at execution.
	store.SeedAllocation("org-b", 2026, 1_000)

	failedBatch, err := svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	require.NoError(t, err)
	assert.Equal(t, repository.BatchFailed, failedBatch.Status)
	assert.Nil(t, failedBatch.CompletedAt)

	var itemA, itemB *repository.DisbursementItem
	for _, item := range failedBatch.Items {
		switch item.OrganizationID {
		case "org-a":
			itemA = item
		case "org-b":
			itemB = item
		}
	}
	require.NotNil(t, itemA)
	require.NotNil(t, itemB)
	assert.Equal(t, repository.ItemSucceeded, itemA.Status)
	assert.Equal(t, repository.ItemFailed, itemB.Status)
	require.NotNil(t, itemB.FailureReason)
	assert.Contains(t, *itemB.FailureReason, "remaining")

	// A failed batch stays re-enterable through ProcessBatch while the
	// blocking condition persists.
	stillFailed, err := svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	require.NoError(t, err)
	assert.Equal(t, repository.BatchFailed, stillFailed.Status)

	// Retry with the allocation restored: only org-b is re-executed.
	store.SeedAllocation("org-b", 2026, 50_000)
	retried, err := svc.RetryFailedItems(context.Background(), batch.ID, "user-finance")
	require.NoError(t, err)
	assert.Equal(t, repository.BatchCompleted, retried.Status)
	require.NotNil(t, retried.CompletedAt)

	allocA, err := store.GetAllocation(context.Background(), "org-a", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), allocA.Utilized, "succeeded item must not run twice")

	budgetB, err := store.GetOrganizationBudget(context.Background(), "org-b", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), budgetB.Amount)
}

func TestRetryRequiresFailedBatch(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 50_000)
	store.SeedOrganizationBudget("org-a", "region-7", 2026, 0)

	batch, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000},
	})
	require.NoError(t, err)

	_, err = svc.RetryFailedItems(context.Background(), batch.ID, "user-finance")
	assert.Equal(t, apperrors.ErrCodeBatchNotFailed, apperrors.CodeOf(err))

	_, err = svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	require.NoError(t, err)

	_, err = svc.RetryFailedItems(context.Background(), batch.ID, "user-finance")
	assert.Equal(t, apperrors.ErrCodeBatchNotFailed, apperrors.CodeOf(err))
}

func TestProcessBatchRejectsCompletedBatch(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 50_000)
	store.SeedOrganizationBudget("org-a", "region-7", 2026, 0)

	batch, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000},
	})
	require.NoError(t, err)

	_, err = svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	require.NoError(t, err)

	_, err = svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
}

func TestLaggingPassCannotDisburseItemTwice(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 50_000)
	store.SeedOrganizationBudget("org-a", "region-7", 2026, 0)

	batch, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000},
	})
	require.NoError(t, err)

	done, err := svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	require.NoError(t, err)
	require.Equal(t, repository.BatchCompleted, done.Status)

	// A second pass that read the batch before the first one finished would
	// hand the same item to the store again; the store must treat it as a
	// no-op once the item succeeded.
	err = store.ExecuteItem(context.Background(), repository.ItemExecutionInput{
		BatchID:        batch.ID,
		ItemID:         done.Items[0].ID,
		OrganizationID: "org-a",
		FiscalYear:     2026,
		Amount:         10_000,
		Audit: &repository.AuditLog{
			ActionType: repository.ActionDisbursement,
			EntityType: "disbursement_item",
			EntityID:   done.Items[0].ID,
			ActorID:    "user-finance",
		},
	})
	require.NoError(t, err)

	alloc, err := store.GetAllocation(context.Background(), "org-a", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), alloc.Utilized)

	summary, err := store.Summary(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.ByAction[repository.ActionDisbursement])

	// The completed batch can no longer transition back to processing.
	err = store.MarkBatchProcessing(context.Background(), batch.ID)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
}

func TestPassInterruptedBeforeFinalizeCanBeRetried(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 50_000)
	store.SeedOrganizationBudget("org-a", "region-7", 2026, 0)

	batch, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000},
	})
	require.NoError(t, err)

	// The audit store goes down mid-pass: the item fails and finalize errors
	// out, leaving the batch in processing.
	store.SetAuditFailure(true)
	_, err = svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAuditWrite, apperrors.CodeOf(err))

	stuck, err := svc.GetBatchStatus(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.BatchProcessing, stuck.Status)

	// Once the store recovers the same call drives the batch to completion.
	store.SetAuditFailure(false)
	done, err := svc.ProcessBatch(context.Background(), batch.ID, "user-finance")
	require.NoError(t, err)
	assert.Equal(t, repository.BatchCompleted, done.Status)

	alloc, err := store.GetAllocation(context.Background(), "org-a", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), alloc.Utilized)
}

func TestGetBatchSummary(t *testing.T) {
	svc, store := newBatchFixture(t)
	store.SeedAllocation("org-a", 2026, 100_000)
	store.SeedOrganizationBudget("org-a", "region-7", 2026, 0)

	first, err := svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 10_000},
	})
	require.NoError(t, err)
	_, err = svc.ProcessBatch(context.Background(), first.ID, "user-finance")
	require.NoError(t, err)

	_, err = svc.CreateBatchDisbursement(context.Background(), "user-finance", []BatchItemInput{
		{OrganizationID: "org-a", FiscalYear: 2026, Amount: 5_000},
	})
	require.NoError(t, err)

	summary, err := svc.GetBatchSummary(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalBatches)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.InFlight)
	assert.Equal(t, int64(15_000), summary.TotalAmount)
	assert.Equal(t, int64(10_000), summary.DisbursedAmount)
}
