package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/database"
)

// LedgerRepository reads the monetary ledger entities. All writes to these
// tables happen inside workflow or batch transactions (applyMutationTx,
// BatchRepository.ExecuteItem) so every change carries its audit row.
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetRegionBudget retrieves a region's budget for a fiscal year.
func (r *LedgerRepository) GetRegionBudget(ctx context.Context, regionID string, fiscalYear int) (*RegionBudget, error) {
	query := `
		SELECT id, region_id, fiscal_year, amount, utilized, updated_at
		FROM region_budgets
		WHERE region_id = $1 AND fiscal_year = $2
	`

	b := &RegionBudget{}
	err := r.db.QueryRow(ctx, query, regionID, fiscalYear).Scan(
		&b.ID, &b.RegionID, &b.FiscalYear, &b.Amount, &b.Utilized, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("region_budget", regionID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to get region budget")
	}
	return b, nil
}

// GetOrganizationBudget retrieves an organization's budget for a fiscal year.
func (r *LedgerRepository) GetOrganizationBudget(ctx context.Context, organizationID string, fiscalYear int) (*OrganizationBudget, error) {
	query := `
		SELECT id, organization_id, region_id, fiscal_year, amount, utilized, updated_at
		FROM organization_budgets
		WHERE organization_id = $1 AND fiscal_year = $2
	`

	b := &OrganizationBudget{}
	err := r.db.QueryRow(ctx, query, organizationID, fiscalYear).Scan(
		&b.ID, &b.OrganizationID, &b.RegionID, &b.FiscalYear, &b.Amount, &b.Utilized, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("organization_budget", organizationID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to get organization budget")
	}
	return b, nil
}

// GetAllocation retrieves an organization's disbursable allocation.
func (r *LedgerRepository) GetAllocation(ctx context.Context, organizationID string, fiscalYear int) (*BudgetAllocation, error) {
	query := `
		SELECT id, organization_id, fiscal_year, allocated, utilized, updated_at
		FROM budget_allocations
		WHERE organization_id = $1 AND fiscal_year = $2
	`

	a := &BudgetAllocation{}
	err := r.db.QueryRow(ctx, query, organizationID, fiscalYear).Scan(
		&a.ID, &a.OrganizationID, &a.FiscalYear, &a.Allocated, &a.Utilized, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("budget_allocation", organizationID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to get budget allocation")
	}
	return a, nil
}

// applyMutationTx applies the budget change for an approved workflow inside
// the caller's transaction.
func applyMutationTx(ctx context.Context, tx pgx.Tx, m *LedgerMutation) error {
	switch m.RequestType {
	case RequestBudgetIncrease:
		var id string
		err := tx.QueryRow(ctx, `
			UPDATE region_budgets
			SET amount     = amount + $1,
			    updated_at = NOW()
			WHERE region_id = $2 AND fiscal_year = $3
			RETURNING id
		`, m.Amount, m.RegionID, m.FiscalYear).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("region_budget", m.RegionID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to increase region budget")
		}
		return nil

	case RequestLargeDisbursement:
		var id string
		err := tx.QueryRow(ctx, `
			UPDATE organization_budgets
			SET utilized   = utilized + $1,
			    updated_at = NOW()
			WHERE organization_id = $2 AND fiscal_year = $3
			RETURNING id
		`, m.Amount, m.OrganizationID, m.FiscalYear).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("organization_budget", m.OrganizationID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to record disbursement against organization budget")
		}
		return nil

	case RequestSpecialAllocation:
		_, err := tx.Exec(ctx, `
			INSERT INTO budget_allocations (organization_id, fiscal_year, allocated, utilized)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (organization_id, fiscal_year)
			DO UPDATE SET allocated  = budget_allocations.allocated + EXCLUDED.allocated,
			              updated_at = NOW()
		`, m.OrganizationID, m.FiscalYear, m.Amount)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to grant special allocation")
		}
		return nil
	}

	return apperrors.Newf(apperrors.ErrCodeInternal, "no ledger mutation defined for request type %s", m.RequestType)
}
