package service

import (
	"context"
	"time"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/logger"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
)

// ApprovalService orchestrates the multi-step approval workflow: policy
// matching at submission, step decisions with quorum, escalation, and the
// ledger mutation on final approval.
type ApprovalService struct {
	workflows WorkflowStore
	audit     AuditStore
	policies  *repository.PolicySet
	notifier  Notifier
	log       *logger.Logger
}

// NewApprovalService creates a new ApprovalService. notifier may be nil.
func NewApprovalService(
	workflows WorkflowStore,
	audit AuditStore,
	policies *repository.PolicySet,
	notifier Notifier,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		workflows: workflows,
		audit:     audit,
		policies:  policies,
		notifier:  notifier,
		log:       log,
	}
}

// ── Workflow creation ─────────────────────────────────────────────────────────

// CreateWorkflowInput is a budget request submission.
type CreateWorkflowInput struct {
	RegionID       string
	OrganizationID string
	RequestType    repository.RequestType
	Amount         int64
	FiscalYear     int
	Reason         string
	RequestedBy    string
}

// WorkflowStatusView is the full read-side view of one workflow.
type WorkflowStatusView struct {
	Workflow  *repository.ApprovalWorkflow `json:"workflow"`
	Steps     []*repository.ApprovalStep   `json:"steps"`
	Decisions []*repository.StepDecision   `json:"decisions"`
}

// CreateWorkflow matches the request against the policy set, snapshots the
// matched steps and persists the request, workflow and steps as one unit.
func (s *ApprovalService) CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (*repository.ApprovalWorkflow, []*repository.ApprovalStep, error) {
	if !repository.ValidRequestType(in.RequestType) {
		return nil, nil, apperrors.InvalidInput("request_type", "unknown request type")
	}
	if in.Amount <= 0 {
		return nil, nil, apperrors.InvalidInput("amount", "amount must be positive")
	}
	if in.RegionID == "" {
		return nil, nil, apperrors.InvalidInput("region_id", "region_id is required")
	}
	if in.OrganizationID == "" {
		return nil, nil, apperrors.InvalidInput("organization_id", "organization_id is required")
	}
	if in.FiscalYear <= 0 {
		return nil, nil, apperrors.InvalidInput("fiscal_year", "fiscal_year is required")
	}
	if in.RequestedBy == "" {
		return nil, nil, apperrors.InvalidInput("requested_by", "requested_by is required")
	}

	policy, ok := s.policies.Match(in.RequestType, in.Amount)
	if !ok {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeNoMatchingPolicy,
			"no approval policy covers %s for amount %d", in.RequestType, in.Amount)
	}

	req := &repository.BudgetRequest{
		RegionID:       in.RegionID,
		OrganizationID: in.OrganizationID,
		RequestType:    in.RequestType,
		Amount:         in.Amount,
		FiscalYear:     in.FiscalYear,
		Reason:         in.Reason,
		Status:         repository.RequestPending,
		RequestedBy:    in.RequestedBy,
	}

	wf := &repository.ApprovalWorkflow{
		RequestType:    in.RequestType,
		RegionID:       in.RegionID,
		OrganizationID: in.OrganizationID,
		Amount:         in.Amount,
		FiscalYear:     in.FiscalYear,
		PolicyVersion:  s.policies.Version(),
		Status:         repository.WorkflowPending,
		TotalSteps:     len(policy.Steps),
		CurrentStep:    0,
		SubmittedBy:    in.RequestedBy,
	}

	steps := policy.Snapshot("", time.Now())

	audit := &repository.AuditLog{
		ActionType: repository.ActionWorkflowCreated,
		EntityType: "approval_workflow",
		ActorID:    in.RequestedBy,
		Changes: map[string]any{
			"request_type":   string(in.RequestType),
			"amount":         in.Amount,
			"fiscal_year":    in.FiscalYear,
			"policy":         policy.Name,
			"policy_version": s.policies.Version(),
			"total_steps":    len(policy.Steps),
		},
		Metadata: map[string]any{
			"region_id":       in.RegionID,
			"organization_id": in.OrganizationID,
		},
	}

	if err := s.workflows.CreateWorkflow(ctx, req, wf, steps, audit); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("request_type", string(wf.RequestType)).
		Int64("amount", wf.Amount).
		Str("policy", policy.Name).
		Int("total_steps", wf.TotalSteps).
		Msg("Approval workflow created")

	s.publish(ctx, "workflow_submitted", wf.ID, in.RequestedBy, map[string]any{
		"request_type": string(wf.RequestType),
		"amount":       wf.Amount,
	})

	return wf, steps, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// DecisionRequest is one approver's verdict on the workflow's current step.
type DecisionRequest struct {
	WorkflowID string
	StepOrder  int
	Decision   repository.Decision
	ActorID    string
	ActorRole  repository.Role
	Notes      *string
}

// ProcessStep records a decision on the workflow's current step. Approvals
// count toward the step quorum; a rejection terminates the workflow. When
// the final step's quorum is met, the budget change is applied in the same
// transaction as the status flip.
func (s *ApprovalService) ProcessStep(ctx context.Context, in DecisionRequest) (*repository.DecisionOutcome, error) {
	if in.Decision != repository.DecisionApprove && in.Decision != repository.DecisionReject {
		return nil, apperrors.InvalidInput("decision", "decision must be approve or reject")
	}
	if in.ActorID == "" {
		return nil, apperrors.InvalidInput("actor_id", "actor_id is required")
	}
	if in.Decision == repository.DecisionReject && (in.Notes == nil || *in.Notes == "") {
		return nil, apperrors.InvalidInput("notes", "rejection requires a reason")
	}

	wf, err := s.workflows.GetWorkflow(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}

	action := repository.ActionApproval
	if in.Decision == repository.DecisionReject {
		action = repository.ActionRejection
	}

	input := repository.DecisionInput{
		WorkflowID: in.WorkflowID,
		StepOrder:  in.StepOrder,
		Decision:   in.Decision,
		ActorID:    in.ActorID,
		ActorRole:  in.ActorRole,
		Notes:      in.Notes,
		DecisionAudit: &repository.AuditLog{
			ActionType: action,
			EntityType: "approval_workflow",
			EntityID:   in.WorkflowID,
			ActorID:    in.ActorID,
			Changes: map[string]any{
				"decision":   string(in.Decision),
				"step_order": in.StepOrder,
				"actor_role": string(in.ActorRole),
			},
		},
	}
	if in.Notes != nil {
		input.DecisionAudit.Metadata = map[string]any{"notes": *in.Notes}
	}

	if in.Decision == repository.DecisionApprove {
		input.Mutation = &repository.LedgerMutation{
			RequestType:    wf.RequestType,
			RegionID:       wf.RegionID,
			OrganizationID: wf.OrganizationID,
			FiscalYear:     wf.FiscalYear,
			Amount:         wf.Amount,
			RequestID:      wf.RequestID,
		}
		input.MutationAudit = &repository.AuditLog{
			ActionType: repository.ActionAllocation,
			EntityType: mutationEntityType(wf.RequestType),
			EntityID:   mutationEntityID(wf),
			ActorID:    in.ActorID,
			Changes: map[string]any{
				"request_type": string(wf.RequestType),
				"amount":       wf.Amount,
				"fiscal_year":  wf.FiscalYear,
			},
			Metadata: map[string]any{"workflow_id": wf.ID},
		}
	}

	outcome, err := s.workflows.ApplyDecision(ctx, input)
	if err != nil {
		s.recordDeniedDecision(ctx, in, err)
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", in.WorkflowID).
		Str("decision", string(in.Decision)).
		Str("actor_id", in.ActorID).
		Int("step_order", in.StepOrder).
		Bool("workflow_completed", outcome.WorkflowCompleted).
		Msg("Decision recorded")

	switch {
	case in.Decision == repository.DecisionReject:
		s.publish(ctx, "workflow_rejected", in.WorkflowID, in.ActorID, map[string]any{
			"step_order": in.StepOrder,
		})
	case outcome.WorkflowCompleted:
		s.publish(ctx, "workflow_approved", in.WorkflowID, in.ActorID, map[string]any{
			"request_type": string(wf.RequestType),
			"amount":       wf.Amount,
		})
	}

	return outcome, nil
}

// recordDeniedDecision appends a best-effort audit row for a rejected
// precondition (wrong role, duplicate, terminal workflow). The denial itself
// already failed, so an audit failure here is only logged.
func (s *ApprovalService) recordDeniedDecision(ctx context.Context, in DecisionRequest, cause error) {
	code := apperrors.CodeOf(cause)
	switch code {
	case apperrors.ErrCodeInvalidActorRole,
		apperrors.ErrCodeDuplicateDecision,
		apperrors.ErrCodeWorkflowNotActive:
	default:
		return
	}

	entry := &repository.AuditLog{
		ActionType: repository.ActionDecisionDenied,
		EntityType: "approval_workflow",
		EntityID:   in.WorkflowID,
		ActorID:    in.ActorID,
		Changes: map[string]any{
			"decision":   string(in.Decision),
			"step_order": in.StepOrder,
			"actor_role": string(in.ActorRole),
			"reason":     string(code),
		},
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("workflow_id", in.WorkflowID).
			Msg("Failed to record denied decision")
	}
}

// ── Escalation ────────────────────────────────────────────────────────────────

// EscalateWorkflow raises the current step's required role to the next tier.
func (s *ApprovalService) EscalateWorkflow(ctx context.Context, workflowID, actorID, reason string) (*repository.ApprovalWorkflow, error) {
	if reason == "" {
		return nil, apperrors.InvalidInput("reason", "escalation reason is required")
	}

	wf, err := s.workflows.EscalateCurrentStep(ctx, repository.EscalationInput{
		WorkflowID: workflowID,
		Reason:     reason,
		ActorID:    actorID,
		Audit: &repository.AuditLog{
			ActionType: repository.ActionEscalation,
			EntityType: "approval_workflow",
			EntityID:   workflowID,
			ActorID:    actorID,
			Changes:    map[string]any{"reason": reason},
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", workflowID).
		Str("actor_id", actorID).
		Msg("Workflow escalated")

	s.publish(ctx, "workflow_escalated", workflowID, actorID, map[string]any{
		"reason": reason,
	})

	return wf, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetWorkflowStatus returns the workflow with its step snapshots and every
// recorded decision.
func (s *ApprovalService) GetWorkflowStatus(ctx context.Context, workflowID string) (*WorkflowStatusView, error) {
	wf, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps, err := s.workflows.GetWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	decisions, err := s.workflows.GetStepDecisions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return &WorkflowStatusView{Workflow: wf, Steps: steps, Decisions: decisions}, nil
}

// GetPendingApprovals returns active workflows whose current step is gated
// on the role, oldest first.
func (s *ApprovalService) GetPendingApprovals(ctx context.Context, role repository.Role) ([]*repository.PendingApproval, error) {
	return s.workflows.ListPendingByRole(ctx, role)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *ApprovalService) publish(ctx context.Context, eventType, entityID, actorID string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishBudgetEvent(ctx, eventType, entityID, actorID, payload)
}

func mutationEntityType(rt repository.RequestType) string {
	switch rt {
	case repository.RequestBudgetIncrease:
		return "region_budget"
	case repository.RequestLargeDisbursement:
		return "organization_budget"
	default:
		return "budget_allocation"
	}
}

func mutationEntityID(wf *repository.ApprovalWorkflow) string {
	if wf.RequestType == repository.RequestBudgetIncrease {
		return wf.RegionID
	}
	return wf.OrganizationID
}
