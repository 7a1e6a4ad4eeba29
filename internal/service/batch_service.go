package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/logger"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
)

// BatchService orchestrates disbursement batches: upfront validation, batch
// creation, item-by-item processing with independent outcomes, and retry of
// failed items.
type BatchService struct {
	batches  BatchStore
	ledger   LedgerStore
	notifier Notifier
	log      *logger.Logger
}

// NewBatchService creates a new BatchService. notifier may be nil.
func NewBatchService(batches BatchStore, ledger LedgerStore, notifier Notifier, log *logger.Logger) *BatchService {
	return &BatchService{
		batches:  batches,
		ledger:   ledger,
		notifier: notifier,
		log:      log,
	}
}

// BatchItemInput is one requested payout in a batch submission.
type BatchItemInput struct {
	OrganizationID  string
	FiscalYear      int
	Amount          int64
	Purpose         string
	ReferenceNumber string
}

// ── Validation ────────────────────────────────────────────────────────────────

// ValidateBatch checks every item without mutating state. Items for the same
// organization are summed, so a batch cannot pass validation while its
// combined items exceed the organization's remaining allocation.
func (s *BatchService) ValidateBatch(ctx context.Context, items []BatchItemInput) (*repository.ValidationResult, error) {
	if len(items) == 0 {
		return nil, apperrors.InvalidInput("items", "batch requires at least one item")
	}

	result := &repository.ValidationResult{Valid: true}
	committed := map[string]int64{}

	for i, item := range items {
		v := repository.ItemValidation{Index: i, OrganizationID: item.OrganizationID, OK: true}

		switch {
		case item.OrganizationID == "":
			v.OK = false
			v.Reason = "organization_id is required"
		case item.Amount <= 0:
			v.OK = false
			v.Reason = "amount must be positive"
		case item.FiscalYear <= 0:
			v.OK = false
			v.Reason = "fiscal_year is required"
		}

		if v.OK {
			key := item.OrganizationID + "|" + fmt.Sprint(item.FiscalYear)
			alloc, err := s.ledger.GetAllocation(ctx, item.OrganizationID, item.FiscalYear)
			switch {
			case apperrors.CodeOf(err) == apperrors.ErrCodeNotFound:
				v.OK = false
				v.Reason = fmt.Sprintf("organization %s has no allocation for fiscal year %d", item.OrganizationID, item.FiscalYear)
			case err != nil:
				return nil, err
			case alloc.Remaining() < committed[key]+item.Amount:
				v.OK = false
				v.Reason = fmt.Sprintf("organization %s has %d remaining, batch items need %d",
					item.OrganizationID, alloc.Remaining(), committed[key]+item.Amount)
			default:
				committed[key] += item.Amount
			}
		}

		if !v.OK {
			result.Valid = false
		}
		result.Items = append(result.Items, v)
	}

	return result, nil
}

// ── Creation ──────────────────────────────────────────────────────────────────

// CreateBatchDisbursement validates and persists a new batch. Creation is
// all-or-nothing: any invalid item rejects the whole submission and nothing
// is stored.
func (s *BatchService) CreateBatchDisbursement(ctx context.Context, createdBy string, items []BatchItemInput) (*repository.DisbursementBatch, error) {
	if createdBy == "" {
		return nil, apperrors.InvalidInput("created_by", "created_by is required")
	}

	validation, err := s.ValidateBatch(ctx, items)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		for _, v := range validation.Items {
			if !v.OK {
				return nil, apperrors.Newf(apperrors.ErrCodeValidation,
					"item %d invalid: %s", v.Index, v.Reason)
			}
		}
	}

	var total int64
	orgs := map[string]bool{}
	batchItems := make([]*repository.DisbursementItem, 0, len(items))
	for _, item := range items {
		total += item.Amount
		orgs[item.OrganizationID] = true
		batchItems = append(batchItems, &repository.DisbursementItem{
			OrganizationID:  item.OrganizationID,
			FiscalYear:      item.FiscalYear,
			Amount:          item.Amount,
			Purpose:         item.Purpose,
			ReferenceNumber: item.ReferenceNumber,
			Status:          repository.ItemPending,
		})
	}

	batch := &repository.DisbursementBatch{
		BatchNumber:       newBatchNumber(time.Now()),
		TotalAmount:       total,
		OrganizationCount: len(orgs),
		Status:            repository.BatchPending,
		CreatedBy:         createdBy,
		Items:             batchItems,
	}

	audit := &repository.AuditLog{
		ActionType: repository.ActionBatchCreated,
		EntityType: "disbursement_batch",
		ActorID:    createdBy,
		Changes: map[string]any{
			"batch_number":       batch.BatchNumber,
			"total_amount":       batch.TotalAmount,
			"item_count":         len(batch.Items),
			"organization_count": batch.OrganizationCount,
		},
	}

	if err := s.batches.CreateBatch(ctx, batch, audit); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("batch_id", batch.ID).
		Str("batch_number", batch.BatchNumber).
		Int64("total_amount", batch.TotalAmount).
		Int("items", len(batch.Items)).
		Msg("Disbursement batch created")

	s.publish(ctx, "batch_created", batch.ID, createdBy, map[string]any{
		"batch_number": batch.BatchNumber,
		"total_amount": batch.TotalAmount,
	})

	return batch, nil
}

// newBatchNumber builds a human-readable unique batch number.
func newBatchNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("DB-%s-%s", now.Format("20060102"), suffix)
}

// ── Processing ────────────────────────────────────────────────────────────────

// ProcessBatch executes every non-succeeded item of a batch. Each item runs
// in its own transaction, so one failed payout never rolls back the others.
// The batch completes only when every item succeeded. Re-invoking on a failed
// batch, or on a batch stuck in processing after an interrupted pass, retries
// only the items that have not succeeded yet.
func (s *BatchService) ProcessBatch(ctx context.Context, batchID, actorID string) (*repository.DisbursementBatch, error) {
	batch, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == repository.BatchCompleted {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"batch %s is %s and cannot be processed", batch.BatchNumber, batch.Status)
	}
	return s.runPass(ctx, batch, actorID)
}

// RetryFailedItems re-runs only the non-succeeded items of a failed batch.
// Succeeded items are never re-executed, so retry cannot double-disburse.
func (s *BatchService) RetryFailedItems(ctx context.Context, batchID, actorID string) (*repository.DisbursementBatch, error) {
	batch, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != repository.BatchFailed {
		return nil, apperrors.Newf(apperrors.ErrCodeBatchNotFailed,
			"batch %s is %s; only failed batches can be retried", batch.BatchNumber, batch.Status)
	}
	return s.runPass(ctx, batch, actorID)
}

// runPass executes all non-succeeded items and finalizes the batch status.
func (s *BatchService) runPass(ctx context.Context, batch *repository.DisbursementBatch, actorID string) (*repository.DisbursementBatch, error) {
	if err := s.batches.MarkBatchProcessing(ctx, batch.ID); err != nil {
		return nil, err
	}

	succeeded := 0
	failed := 0
	for _, item := range batch.Items {
		if item.Status == repository.ItemSucceeded {
			succeeded++
			continue
		}

		err := s.batches.ExecuteItem(ctx, repository.ItemExecutionInput{
			BatchID:        batch.ID,
			ItemID:         item.ID,
			OrganizationID: item.OrganizationID,
			FiscalYear:     item.FiscalYear,
			Amount:         item.Amount,
			Audit: &repository.AuditLog{
				ActionType: repository.ActionDisbursement,
				EntityType: "disbursement_item",
				EntityID:   item.ID,
				ActorID:    actorID,
				Changes: map[string]any{
					"organization_id": item.OrganizationID,
					"amount":          item.Amount,
					"fiscal_year":     item.FiscalYear,
				},
				Metadata: map[string]any{
					"batch_id":     batch.ID,
					"batch_number": batch.BatchNumber,
				},
			},
		})
		if err != nil {
			failed++
			reason := apperrors.MessageOf(err)
			s.log.Warn().Err(err).
				Str("batch_id", batch.ID).
				Str("item_id", item.ID).
				Str("organization_id", item.OrganizationID).
				Msg("Disbursement item failed")
			if markErr := s.batches.MarkItemFailed(ctx, item.ID, reason); markErr != nil {
				return nil, markErr
			}
			continue
		}
		succeeded++
	}

	status := repository.BatchCompleted
	action := repository.ActionBatchCompleted
	event := "batch_completed"
	if failed > 0 {
		status = repository.BatchFailed
		action = repository.ActionBatchFailed
		event = "batch_failed"
	}

	audit := &repository.AuditLog{
		ActionType: action,
		EntityType: "disbursement_batch",
		EntityID:   batch.ID,
		ActorID:    actorID,
		Changes: map[string]any{
			"batch_number": batch.BatchNumber,
			"succeeded":    succeeded,
			"failed":       failed,
		},
	}
	if err := s.batches.FinalizeBatch(ctx, batch.ID, status, audit); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("batch_id", batch.ID).
		Str("status", string(status)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("Batch processing pass finished")

	s.publish(ctx, event, batch.ID, actorID, map[string]any{
		"batch_number": batch.BatchNumber,
		"succeeded":    succeeded,
		"failed":       failed,
	})

	return s.batches.GetBatch(ctx, batch.ID)
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetBatchStatus returns a batch with its items.
func (s *BatchService) GetBatchStatus(ctx context.Context, batchID string) (*repository.DisbursementBatch, error) {
	return s.batches.GetBatch(ctx, batchID)
}

// GetBatchSummary aggregates batch activity over a period. DisbursedAmount
// counts only succeeded items.
func (s *BatchService) GetBatchSummary(ctx context.Context, start, end time.Time) (*repository.BatchSummary, error) {
	if end.Before(start) {
		return nil, apperrors.InvalidInput("end_date", "end_date precedes start_date")
	}

	batches, err := s.batches.ListBatchesBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	summary := &repository.BatchSummary{StartDate: start, EndDate: end}
	for _, batch := range batches {
		summary.TotalBatches++
		summary.TotalAmount += batch.TotalAmount
		switch batch.Status {
		case repository.BatchCompleted:
			summary.Completed++
		case repository.BatchFailed:
			summary.Failed++
		default:
			summary.InFlight++
		}
		for _, item := range batch.Items {
			if item.Status == repository.ItemSucceeded {
				summary.DisbursedAmount += item.Amount
			}
		}
	}
	return summary, nil
}

func (s *BatchService) publish(ctx context.Context, eventType, entityID, actorID string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishBudgetEvent(ctx, eventType, entityID, actorID, payload)
}
