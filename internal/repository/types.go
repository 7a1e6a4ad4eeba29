// Package repository holds the domain model and the Postgres repositories
// for the budget-approvals core.
package repository

import (
	"strings"
	"time"
)

// ── Roles ─────────────────────────────────────────────────────────────────────

// Role is a canonical approver role. Raw role strings from the external
// auth layer are resolved to this closed set once at the boundary.
type Role string

const (
	RoleRequester      Role = "requester"
	RoleRegionalAdmin  Role = "regional_admin"
	RoleFinanceOfficer Role = "finance_officer"
	RoleSuperAdmin     Role = "super_admin"
)

// roleAliases maps normalized raw role strings to canonical roles.
var roleAliases = map[string]Role{
	"requester":       RoleRequester,
	"org_member":      RoleRequester,
	"regional_admin":  RoleRegionalAdmin,
	"regional admin":  RoleRegionalAdmin,
	"region_admin":    RoleRegionalAdmin,
	"finance_officer": RoleFinanceOfficer,
	"finance officer": RoleFinanceOfficer,
	"finance":         RoleFinanceOfficer,
	"super_admin":     RoleSuperAdmin,
	"super admin":     RoleSuperAdmin,
	"superadmin":      RoleSuperAdmin,
}

// CanonicalRole resolves a raw role string to its canonical role. The
// second return is false when the role is unknown.
func CanonicalRole(raw string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	role, ok := roleAliases[key]
	return role, ok
}

// ── Request types and statuses ────────────────────────────────────────────────

// RequestType enumerates the workflow-gated operations.
type RequestType string

const (
	RequestBudgetIncrease    RequestType = "budget_increase"
	RequestLargeDisbursement RequestType = "large_disbursement"
	RequestSpecialAllocation RequestType = "special_allocation"
)

// ValidRequestType reports whether rt is one of the known request types.
func ValidRequestType(rt RequestType) bool {
	switch rt {
	case RequestBudgetIncrease, RequestLargeDisbursement, RequestSpecialAllocation:
		return true
	}
	return false
}

// WorkflowStatus is the overall workflow state.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowApproved   WorkflowStatus = "approved"
	WorkflowRejected   WorkflowStatus = "rejected"
)

// Terminal reports whether the status accepts no further transitions.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowApproved || s == WorkflowRejected
}

// Decision is a single approver's verdict on a step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// RequestStatus is the lifecycle state of a budget request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// ── Workflow entities ─────────────────────────────────────────────────────────

// BudgetRequest records what was asked for. It is created with its workflow
// and finalized by the engine on the terminal decision; never deleted.
type BudgetRequest struct {
	ID             string        `json:"id"`
	RegionID       string        `json:"region_id"`
	OrganizationID string        `json:"organization_id"`
	RequestType    RequestType   `json:"request_type"`
	Amount         int64         `json:"amount"`
	FiscalYear     int           `json:"fiscal_year"`
	Reason         string        `json:"reason"`
	Status         RequestStatus `json:"status"`
	RequestedBy    string        `json:"requested_by"`
	RequestedAt    time.Time     `json:"requested_at"`
	ProcessedBy    *string       `json:"processed_by,omitempty"`
	ProcessedAt    *time.Time    `json:"processed_at,omitempty"`
}

// ApprovalWorkflow is one in-flight approval process. Step definitions are
// snapshotted from the policy at creation so later policy edits never
// reinterpret in-flight workflows. CurrentStep is a zero-based index and is
// monotonically non-decreasing.
type ApprovalWorkflow struct {
	ID             string         `json:"id"`
	RequestID      string         `json:"request_id"`
	RequestType    RequestType    `json:"request_type"`
	RegionID       string         `json:"region_id"`
	OrganizationID string         `json:"organization_id"`
	Amount         int64          `json:"amount"`
	FiscalYear     int            `json:"fiscal_year"`
	PolicyVersion  int            `json:"policy_version"`
	Status         WorkflowStatus `json:"status"`
	TotalSteps     int            `json:"total_steps"`
	CurrentStep    int            `json:"current_step"`
	SubmittedBy    string         `json:"submitted_by"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ApprovalStep is a snapshotted step definition within a workflow.
// EscalatedFrom holds the original role when the step was escalated.
type ApprovalStep struct {
	ID                string    `json:"id"`
	WorkflowID        string    `json:"workflow_id"`
	StepOrder         int       `json:"step_order"`
	RequiredRole      Role      `json:"required_role"`
	RequiredApprovers int       `json:"required_approvers"`
	IsFinal           bool      `json:"is_final"`
	EscalatedFrom     *Role     `json:"escalated_from,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StepDecision is one approver's recorded verdict. At most one decision per
// (workflow, step, actor); quorum counts distinct approving actors whose
// role matches the step's current required role.
type StepDecision struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	StepOrder  int       `json:"step_order"`
	Decision   Decision  `json:"decision"`
	ActorID    string    `json:"actor_id"`
	ActorRole  Role      `json:"actor_role"`
	Notes      *string   `json:"notes,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// PendingApproval is the read-side projection served to approvers.
type PendingApproval struct {
	WorkflowID        string      `json:"workflow_id"`
	RequestID         string      `json:"request_id"`
	RequestType       RequestType `json:"request_type"`
	OrganizationID    string      `json:"organization_id"`
	RegionID          string      `json:"region_id"`
	Amount            int64       `json:"amount"`
	StepOrder         int         `json:"step_order"`
	RequiredRole      Role        `json:"required_role"`
	RequiredApprovers int         `json:"required_approvers"`
	ApprovalsRecorded int         `json:"approvals_recorded"`
	SubmittedAt       time.Time   `json:"submitted_at"`
}

// ── Ledger entities ───────────────────────────────────────────────────────────

// RegionBudget is the region-level money pool for one fiscal year.
type RegionBudget struct {
	ID         string    `json:"id"`
	RegionID   string    `json:"region_id"`
	FiscalYear int       `json:"fiscal_year"`
	Amount     int64     `json:"amount"`
	Utilized   int64     `json:"utilized"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OrganizationBudget is an organization's budget within a region.
type OrganizationBudget struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	RegionID       string    `json:"region_id"`
	FiscalYear     int       `json:"fiscal_year"`
	Amount         int64     `json:"amount"`
	Utilized       int64     `json:"utilized"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BudgetAllocation is the disbursable envelope for an organization.
type BudgetAllocation struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	FiscalYear     int       `json:"fiscal_year"`
	Allocated      int64     `json:"allocated"`
	Utilized       int64     `json:"utilized"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Remaining is the amount still disbursable from the allocation.
func (a *BudgetAllocation) Remaining() int64 {
	return a.Allocated - a.Utilized
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// ActionType classifies audit log entries.
type ActionType string

const (
	ActionWorkflowCreated ActionType = "workflow_created"
	ActionApproval        ActionType = "approval"
	ActionRejection       ActionType = "rejection"
	ActionEscalation      ActionType = "escalation"
	ActionAllocation      ActionType = "allocation"
	ActionDecisionDenied  ActionType = "decision_denied"
	ActionBatchCreated    ActionType = "batch_created"
	ActionDisbursement    ActionType = "disbursement"
	ActionBatchCompleted  ActionType = "batch_completed"
	ActionBatchFailed     ActionType = "batch_failed"
)

// AuditLog is one immutable, append-only record. No update or delete
// operation exists anywhere in this codebase.
type AuditLog struct {
	ID         string         `json:"id"`
	ActionType ActionType     `json:"action_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Changes    map[string]any `json:"changes,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditFilter narrows audit trail reads. Zero-valued fields are ignored.
type AuditFilter struct {
	EntityType string
	EntityID   string
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}

// ActionSummary aggregates audit activity over a period.
type ActionSummary struct {
	StartDate time.Time            `json:"start_date"`
	EndDate   time.Time            `json:"end_date"`
	Total     int64                `json:"total"`
	ByAction  map[ActionType]int64 `json:"by_action"`
}

// ── Disbursement batches ──────────────────────────────────────────────────────

// BatchStatus is the overall batch state.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// ItemStatus is the state of a single disbursement item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
)

// DisbursementBatch groups payouts processed and audited as one logical
// unit with independent item-level outcomes. TotalAmount always equals the
// sum of item amounts.
type DisbursementBatch struct {
	ID                string              `json:"id"`
	BatchNumber       string              `json:"batch_number"`
	TotalAmount       int64               `json:"total_amount"`
	OrganizationCount int                 `json:"organization_count"`
	Status            BatchStatus         `json:"status"`
	CreatedBy         string              `json:"created_by"`
	CreatedAt         time.Time           `json:"created_at"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt         time.Time           `json:"updated_at"`
	Items             []*DisbursementItem `json:"items"`
}

// DisbursementItem is one payout within a batch.
type DisbursementItem struct {
	ID              string     `json:"id"`
	BatchID         string     `json:"batch_id"`
	OrganizationID  string     `json:"organization_id"`
	FiscalYear      int        `json:"fiscal_year"`
	Amount          int64      `json:"amount"`
	Purpose         string     `json:"purpose"`
	ReferenceNumber string     `json:"reference_number"`
	Status          ItemStatus `json:"status"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ItemValidation is the per-item result of batch validation.
type ItemValidation struct {
	Index          int    `json:"index"`
	OrganizationID string `json:"organization_id"`
	OK             bool   `json:"ok"`
	Reason         string `json:"reason,omitempty"`
}

// ValidationResult reports batch validation without mutating state.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Items []ItemValidation `json:"items"`
}

// BatchSummary aggregates batch activity over a period.
type BatchSummary struct {
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	TotalBatches    int       `json:"total_batches"`
	Completed       int       `json:"completed"`
	Failed          int       `json:"failed"`
	InFlight        int       `json:"in_flight"`
	TotalAmount     int64     `json:"total_amount"`
	DisbursedAmount int64     `json:"disbursed_amount"`
}

// ── Transactional inputs/outcomes ────────────────────────────────────────────

// LedgerMutation describes the budget change applied when a workflow
// reaches final approval. Applied in the same transaction as the status
// flip.
type LedgerMutation struct {
	RequestType    RequestType
	RegionID       string
	OrganizationID string
	FiscalYear     int
	Amount         int64
	RequestID      string
}

// DecisionInput carries everything a store needs to record one decision
// atomically: the decision itself, the audit row for the decision, and the
// mutation plus its audit row to apply only if this decision completes the
// workflow.
type DecisionInput struct {
	WorkflowID    string
	StepOrder     int
	Decision      Decision
	ActorID       string
	ActorRole     Role
	Notes         *string
	DecisionAudit *AuditLog
	Mutation      *LedgerMutation
	MutationAudit *AuditLog
}

// DecisionOutcome reports what the decision did.
type DecisionOutcome struct {
	Workflow          *ApprovalWorkflow `json:"workflow"`
	StepSatisfied     bool              `json:"step_satisfied"`
	WorkflowCompleted bool              `json:"workflow_completed"`
	ApprovalsAtStep   int               `json:"approvals_at_step"`
}

// EscalationInput carries an escalation and its audit row. The next role
// tier is resolved by the store under the workflow lock.
type EscalationInput struct {
	WorkflowID string
	Reason     string
	ActorID    string
	Audit      *AuditLog
}

// ItemExecutionInput carries one disbursement item execution: debit the
// allocation, credit the organization budget, mark the item succeeded and
// append the audit row, all in one transaction.
type ItemExecutionInput struct {
	BatchID        string
	ItemID         string
	OrganizationID string
	FiscalYear     int
	Amount         int64
	Audit          *AuditLog
}
