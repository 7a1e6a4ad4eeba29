// Package service holds the business orchestration for budget approvals,
// disbursement batches and audit reporting. Services sequence store calls
// and build the audit rows; the stores own the transaction boundaries.
package service

import (
	"context"
	"time"

	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
)

// WorkflowStore persists approval workflows and their decisions.
// Implemented by repository.WorkflowRepository and memstore.Store.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, req *repository.BudgetRequest, wf *repository.ApprovalWorkflow, steps []*repository.ApprovalStep, audit *repository.AuditLog) error
	GetWorkflow(ctx context.Context, id string) (*repository.ApprovalWorkflow, error)
	GetWorkflowSteps(ctx context.Context, workflowID string) ([]*repository.ApprovalStep, error)
	GetStepDecisions(ctx context.Context, workflowID string) ([]*repository.StepDecision, error)
	ApplyDecision(ctx context.Context, in repository.DecisionInput) (*repository.DecisionOutcome, error)
	EscalateCurrentStep(ctx context.Context, in repository.EscalationInput) (*repository.ApprovalWorkflow, error)
	ListPendingByRole(ctx context.Context, role repository.Role) ([]*repository.PendingApproval, error)
}

// LedgerStore reads the monetary ledger entities. Writes happen inside
// workflow and batch transactions.
type LedgerStore interface {
	GetRegionBudget(ctx context.Context, regionID string, fiscalYear int) (*repository.RegionBudget, error)
	GetOrganizationBudget(ctx context.Context, organizationID string, fiscalYear int) (*repository.OrganizationBudget, error)
	GetAllocation(ctx context.Context, organizationID string, fiscalYear int) (*repository.BudgetAllocation, error)
}

// AuditStore appends and reads the immutable audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditLog) error
	List(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditLog, error)
	Summary(ctx context.Context, start, end time.Time) (*repository.ActionSummary, error)
}

// BatchStore persists disbursement batches and executes their items.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *repository.DisbursementBatch, audit *repository.AuditLog) error
	GetBatch(ctx context.Context, id string) (*repository.DisbursementBatch, error)
	MarkBatchProcessing(ctx context.Context, id string) error
	ExecuteItem(ctx context.Context, in repository.ItemExecutionInput) error
	MarkItemFailed(ctx context.Context, itemID, reason string) error
	FinalizeBatch(ctx context.Context, id string, status repository.BatchStatus, audit *repository.AuditLog) error
	ListBatchesBetween(ctx context.Context, start, end time.Time) ([]*repository.DisbursementBatch, error)
}

// Notifier publishes domain events for the notifications service. Publishing
// is best-effort; implementations never return errors to the caller.
type Notifier interface {
	PublishBudgetEvent(ctx context.Context, eventType, entityID, actorID string, payload map[string]any)
}
