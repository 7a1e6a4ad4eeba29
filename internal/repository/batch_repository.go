package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/database"
)

// BatchRepository manages disbursement batches and their items. Batch
// creation and each item execution are single transactions so a partial
// failure never leaves a half-applied payout.
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new BatchRepository.
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateBatch inserts the batch, its items and the creation audit row in
// one transaction.
func (r *BatchRepository) CreateBatch(ctx context.Context, batch *DisbursementBatch, audit *AuditLog) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		batchQuery := `
			INSERT INTO disbursement_batches
			    (batch_number, total_amount, organization_count, status, created_by)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, batchQuery,
			batch.BatchNumber,
			batch.TotalAmount,
			batch.OrganizationCount,
			batch.Status,
			batch.CreatedBy,
		).Scan(&batch.ID, &batch.CreatedAt, &batch.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to create disbursement batch")
		}

		itemQuery := `
			INSERT INTO disbursement_items
			    (batch_id, organization_id, fiscal_year, amount,
			     purpose, reference_number, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`
		for _, item := range batch.Items {
			item.BatchID = batch.ID
			err := tx.QueryRow(ctx, itemQuery,
				item.BatchID,
				item.OrganizationID,
				item.FiscalYear,
				item.Amount,
				item.Purpose,
				item.ReferenceNumber,
				item.Status,
			).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to create disbursement item")
			}
		}

		audit.EntityID = batch.ID
		return insertAuditTx(ctx, tx, audit)
	})
}

// GetBatch retrieves a batch and its items.
func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*DisbursementBatch, error) {
	batch, err := scanBatch(r.db.QueryRow(ctx, batchSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("disbursement_batch", id)
	}
	if err != nil {
		return nil, err
	}

	items, err := r.getItems(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	batch.Items = items
	return batch, nil
}

// MarkBatchProcessing flips the batch to processing. The transition is
// conditional on the current status so a completed batch can never re-enter
// processing.
func (r *BatchRepository) MarkBatchProcessing(ctx context.Context, id string) error {
	var returnedID string
	err := r.db.QueryRow(ctx, `
		UPDATE disbursement_batches
		SET status     = 'processing',
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'failed', 'processing')
		RETURNING id
	`, id).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		var status BatchStatus
		err := r.db.QueryRow(ctx, `
			SELECT status FROM disbursement_batches WHERE id = $1
		`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("disbursement_batch", id)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to mark batch processing")
		}
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"batch %s is %s and cannot be processed", id, status)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to mark batch processing")
	}
	return nil
}

// ExecuteItem applies one payout in its own transaction: claim the item row,
// lock and debit the organization's allocation, credit the organization
// budget, and append the audit row. Any failure rolls the whole item back.
// The item claim is conditional on the item not having succeeded yet, so a
// concurrent pass that already disbursed it turns this call into a no-op.
func (r *BatchRepository) ExecuteItem(ctx context.Context, in ItemExecutionInput) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE disbursement_items
			SET status         = 'succeeded',
			    failure_reason = NULL,
			    executed_at    = NOW(),
			    updated_at     = NOW()
			WHERE id = $1 AND status <> 'succeeded'
		`, in.ItemID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to claim disbursement item")
		}
		if ct.RowsAffected() == 0 {
			return nil
		}

		alloc := &BudgetAllocation{}
		err = tx.QueryRow(ctx, `
			SELECT id, organization_id, fiscal_year, allocated, utilized, updated_at
			FROM budget_allocations
			WHERE organization_id = $1 AND fiscal_year = $2
			FOR UPDATE
		`, in.OrganizationID, in.FiscalYear).Scan(
			&alloc.ID, &alloc.OrganizationID, &alloc.FiscalYear,
			&alloc.Allocated, &alloc.Utilized, &alloc.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("budget_allocation", in.OrganizationID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to lock budget allocation")
		}

		if alloc.Remaining() < in.Amount {
			return apperrors.Newf(apperrors.ErrCodeValidation,
				"organization %s has %d remaining, item needs %d",
				in.OrganizationID, alloc.Remaining(), in.Amount)
		}

		_, err = tx.Exec(ctx, `
			UPDATE budget_allocations
			SET utilized   = utilized + $1,
			    updated_at = NOW()
			WHERE id = $2
		`, in.Amount, alloc.ID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to debit allocation")
		}

		var orgBudgetID string
		err = tx.QueryRow(ctx, `
			UPDATE organization_budgets
			SET amount     = amount + $1,
			    updated_at = NOW()
			WHERE organization_id = $2 AND fiscal_year = $3
			RETURNING id
		`, in.Amount, in.OrganizationID, in.FiscalYear).Scan(&orgBudgetID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("organization_budget", in.OrganizationID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to credit organization budget")
		}

		return insertAuditTx(ctx, tx, in.Audit)
	})
}

// MarkItemFailed records an item failure with its reason.
func (r *BatchRepository) MarkItemFailed(ctx context.Context, itemID, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE disbursement_items
		SET status         = 'failed',
		    failure_reason = $2,
		    updated_at     = NOW()
		WHERE id = $1
	`, itemID, reason)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to mark item failed")
	}
	return nil
}

// FinalizeBatch sets the terminal status for a processing pass and appends
// the completion audit row in the same transaction. completed_at is only
// stamped when every item succeeded.
func (r *BatchRepository) FinalizeBatch(ctx context.Context, id string, status BatchStatus, audit *AuditLog) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var completedAt *time.Time
		if status == BatchCompleted {
			now := time.Now()
			completedAt = &now
		}

		var returnedID string
		err := tx.QueryRow(ctx, `
			UPDATE disbursement_batches
			SET status       = $2,
			    completed_at = $3,
			    updated_at   = NOW()
			WHERE id = $1
			RETURNING id
		`, id, status, completedAt).Scan(&returnedID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("disbursement_batch", id)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to finalize batch")
		}

		return insertAuditTx(ctx, tx, audit)
	})
}

// ListBatchesBetween returns batches (with items) created in the period.
func (r *BatchRepository) ListBatchesBetween(ctx context.Context, start, end time.Time) ([]*DisbursementBatch, error) {
	rows, err := r.db.Query(ctx, batchSelect+`
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
	`, start, end)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to list batches")
	}
	defer rows.Close()

	var batches []*DisbursementBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan batch")
		}
		batches = append(batches, batch)
	}

	for _, batch := range batches {
		items, err := r.getItems(ctx, batch.ID)
		if err != nil {
			return nil, err
		}
		batch.Items = items
	}
	return batches, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const batchSelect = `
	SELECT id, batch_number, total_amount, organization_count, status,
	       created_by, created_at, completed_at, updated_at
	FROM disbursement_batches`

func scanBatch(row rowScanner) (*DisbursementBatch, error) {
	b := &DisbursementBatch{}
	err := row.Scan(
		&b.ID,
		&b.BatchNumber,
		&b.TotalAmount,
		&b.OrganizationCount,
		&b.Status,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.CompletedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BatchRepository) getItems(ctx context.Context, batchID string) ([]*DisbursementItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, batch_id, organization_id, fiscal_year, amount,
		       purpose, reference_number, status, failure_reason,
		       executed_at, created_at, updated_at
		FROM disbursement_items
		WHERE batch_id = $1
		ORDER BY created_at ASC, id ASC
	`, batchID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to get batch items")
	}
	defer rows.Close()

	var items []*DisbursementItem
	for rows.Next() {
		item := &DisbursementItem{}
		err := rows.Scan(
			&item.ID,
			&item.BatchID,
			&item.OrganizationID,
			&item.FiscalYear,
			&item.Amount,
			&item.Purpose,
			&item.ReferenceNumber,
			&item.Status,
			&item.FailureReason,
			&item.ExecutedAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan disbursement item")
		}
		items = append(items, item)
	}
	return items, nil
}
