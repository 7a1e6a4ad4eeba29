package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/database"
)

// uniqueViolation is the Postgres error code for unique constraint breaches.
const uniqueViolation = "23505"

// WorkflowRepository manages budget requests, workflow instances, step
// snapshots and step decisions. Workflow creation and decision processing
// are each a single transaction.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// CreateWorkflow inserts the budget request, the workflow and its step
// snapshots, plus the creation audit row, in one transaction.
func (r *WorkflowRepository) CreateWorkflow(
	ctx context.Context,
	req *BudgetRequest,
	wf *ApprovalWorkflow,
	steps []*ApprovalStep,
	audit *AuditLog,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		reqQuery := `
			INSERT INTO budget_requests
			    (region_id, organization_id, request_type, amount,
			     fiscal_year, reason, status, requested_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, requested_at
		`
		err := tx.QueryRow(ctx, reqQuery,
			req.RegionID,
			req.OrganizationID,
			req.RequestType,
			req.Amount,
			req.FiscalYear,
			req.Reason,
			req.Status,
			req.RequestedBy,
		).Scan(&req.ID, &req.RequestedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to create budget request")
		}

		wf.RequestID = req.ID
		wfQuery := `
			INSERT INTO approval_workflows
			    (request_id, request_type, region_id, organization_id,
			     amount, fiscal_year, policy_version, status,
			     total_steps, current_step, submitted_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, submitted_at, created_at, updated_at
		`
		err = tx.QueryRow(ctx, wfQuery,
			wf.RequestID,
			wf.RequestType,
			wf.RegionID,
			wf.OrganizationID,
			wf.Amount,
			wf.FiscalYear,
			wf.PolicyVersion,
			wf.Status,
			wf.TotalSteps,
			wf.CurrentStep,
			wf.SubmittedBy,
		).Scan(&wf.ID, &wf.SubmittedAt, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to create approval workflow")
		}

		stepQuery := `
			INSERT INTO approval_steps
			    (workflow_id, step_order, required_role,
			     required_approvers, is_final)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`
		for _, step := range steps {
			step.WorkflowID = wf.ID
			err := tx.QueryRow(ctx, stepQuery,
				step.WorkflowID,
				step.StepOrder,
				step.RequiredRole,
				step.RequiredApprovers,
				step.IsFinal,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to create approval step")
			}
		}

		audit.EntityID = wf.ID
		return insertAuditTx(ctx, tx, audit)
	})
}

// GetWorkflow retrieves a workflow by id.
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*ApprovalWorkflow, error) {
	wf, err := scanWorkflow(r.db.QueryRow(ctx, workflowSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_workflow", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to get workflow")
	}
	return wf, nil
}

// GetWorkflowSteps returns a workflow's step snapshots ordered by step_order.
func (r *WorkflowRepository) GetWorkflowSteps(ctx context.Context, workflowID string) ([]*ApprovalStep, error) {
	query := `
		SELECT id, workflow_id, step_order, required_role,
		       required_approvers, is_final, escalated_from,
		       created_at, updated_at
		FROM approval_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to get approval steps")
	}
	defer rows.Close()

	var steps []*ApprovalStep
	for rows.Next() {
		s := &ApprovalStep{}
		err := rows.Scan(
			&s.ID,
			&s.WorkflowID,
			&s.StepOrder,
			&s.RequiredRole,
			&s.RequiredApprovers,
			&s.IsFinal,
			&s.EscalatedFrom,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// GetStepDecisions returns all decisions recorded on a workflow, oldest-first.
func (r *WorkflowRepository) GetStepDecisions(ctx context.Context, workflowID string) ([]*StepDecision, error) {
	query := `
		SELECT id, workflow_id, step_order, decision,
		       actor_id, actor_role, notes, decided_at
		FROM step_decisions
		WHERE workflow_id = $1
		ORDER BY decided_at ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to get step decisions")
	}
	defer rows.Close()

	var decisions []*StepDecision
	for rows.Next() {
		d := &StepDecision{}
		err := rows.Scan(
			&d.ID,
			&d.WorkflowID,
			&d.StepOrder,
			&d.Decision,
			&d.ActorID,
			&d.ActorRole,
			&d.Notes,
			&d.DecidedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan step decision")
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// ApplyDecision records one decision atomically. The workflow row is locked
// for the whole transaction so concurrent approvers serialize; the quorum
// check runs after the lock is held. Duplicate decisions surface from the
// (workflow_id, step_order, actor_id) unique index, not a pre-check.
func (r *WorkflowRepository) ApplyDecision(ctx context.Context, in DecisionInput) (*DecisionOutcome, error) {
	outcome := &DecisionOutcome{}

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wf, err := scanWorkflow(tx.QueryRow(ctx, workflowSelect+` WHERE id = $1 FOR UPDATE`, in.WorkflowID))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("approval_workflow", in.WorkflowID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to lock workflow")
		}

		if wf.Status.Terminal() {
			return apperrors.Newf(apperrors.ErrCodeWorkflowNotActive,
				"workflow is %s and accepts no further decisions", wf.Status)
		}
		if in.StepOrder != wf.CurrentStep {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"decision targets step %d but workflow is at step %d", in.StepOrder, wf.CurrentStep)
		}

		step := &ApprovalStep{}
		stepQuery := `
			SELECT id, workflow_id, step_order, required_role,
			       required_approvers, is_final, escalated_from,
			       created_at, updated_at
			FROM approval_steps
			WHERE workflow_id = $1 AND step_order = $2
		`
		err = tx.QueryRow(ctx, stepQuery, wf.ID, wf.CurrentStep).Scan(
			&step.ID, &step.WorkflowID, &step.StepOrder, &step.RequiredRole,
			&step.RequiredApprovers, &step.IsFinal, &step.EscalatedFrom,
			&step.CreatedAt, &step.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("approval_step", wf.ID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to load current step")
		}

		if in.ActorRole != step.RequiredRole {
			return apperrors.Newf(apperrors.ErrCodeInvalidActorRole,
				"step %d requires role %s", step.StepOrder, step.RequiredRole)
		}

		insertQuery := `
			INSERT INTO step_decisions
			    (workflow_id, step_order, decision, actor_id, actor_role, notes)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`
		var decisionID string
		err = tx.QueryRow(ctx, insertQuery,
			wf.ID, wf.CurrentStep, in.Decision, in.ActorID, in.ActorRole, in.Notes,
		).Scan(&decisionID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return apperrors.Newf(apperrors.ErrCodeDuplicateDecision,
					"actor %s already decided step %d", in.ActorID, wf.CurrentStep)
			}
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to record decision")
		}

		now := time.Now()

		if in.Decision == DecisionReject {
			if err := r.completeWorkflowTx(ctx, tx, wf, WorkflowRejected, in.ActorID, now); err != nil {
				return err
			}
			outcome.Workflow = wf
			if err := insertAuditTx(ctx, tx, in.DecisionAudit); err != nil {
				return err
			}
			return nil
		}

		// Quorum: distinct approving actors at this step whose role matches
		// the step's current required role. Decisions recorded before an
		// escalation keep their original role and so stop counting.
		var approvals int
		countQuery := `
			SELECT COUNT(DISTINCT actor_id)
			FROM step_decisions
			WHERE workflow_id = $1
			  AND step_order = $2
			  AND decision = 'approve'
			  AND actor_role = $3
		`
		err = tx.QueryRow(ctx, countQuery, wf.ID, wf.CurrentStep, step.RequiredRole).Scan(&approvals)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to count step approvals")
		}
		outcome.ApprovalsAtStep = approvals

		switch {
		case approvals < step.RequiredApprovers:
			// Step not yet satisfied; first decision moves pending → in_progress.
			if wf.Status == WorkflowPending {
				if err := r.setWorkflowProgressTx(ctx, tx, wf, wf.CurrentStep, now); err != nil {
					return err
				}
			}

		case step.IsFinal:
			outcome.StepSatisfied = true
			outcome.WorkflowCompleted = true
			if err := r.completeWorkflowTx(ctx, tx, wf, WorkflowApproved, in.ActorID, now); err != nil {
				return err
			}
			if in.Mutation != nil {
				if err := applyMutationTx(ctx, tx, in.Mutation); err != nil {
					return err
				}
			}
			if in.MutationAudit != nil {
				if err := insertAuditTx(ctx, tx, in.MutationAudit); err != nil {
					return err
				}
			}

		default:
			outcome.StepSatisfied = true
			if err := r.setWorkflowProgressTx(ctx, tx, wf, wf.CurrentStep+1, now); err != nil {
				return err
			}
		}

		outcome.Workflow = wf
		return insertAuditTx(ctx, tx, in.DecisionAudit)
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// EscalateCurrentStep moves the workflow's current step to the next role
// tier without requiring the skipped tier's quorum.
func (r *WorkflowRepository) EscalateCurrentStep(ctx context.Context, in EscalationInput) (*ApprovalWorkflow, error) {
	var result *ApprovalWorkflow

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wf, err := scanWorkflow(tx.QueryRow(ctx, workflowSelect+` WHERE id = $1 FOR UPDATE`, in.WorkflowID))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("approval_workflow", in.WorkflowID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to lock workflow")
		}

		if wf.Status.Terminal() {
			return apperrors.Newf(apperrors.ErrCodeWorkflowNotActive,
				"workflow is %s and cannot be escalated", wf.Status)
		}

		var currentRole Role
		err = tx.QueryRow(ctx,
			`SELECT required_role FROM approval_steps WHERE workflow_id = $1 AND step_order = $2`,
			wf.ID, wf.CurrentStep,
		).Scan(&currentRole)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to load current step role")
		}

		nextRole, ok := NextEscalationRole(currentRole)
		if !ok {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"step role %s is already the highest escalation tier", currentRole)
		}

		_, err = tx.Exec(ctx, `
			UPDATE approval_steps
			SET required_role  = $3,
			    escalated_from = $4,
			    updated_at     = NOW()
			WHERE workflow_id = $1 AND step_order = $2
		`, wf.ID, wf.CurrentStep, nextRole, currentRole)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to escalate step")
		}

		if wf.Status == WorkflowPending {
			if err := r.setWorkflowProgressTx(ctx, tx, wf, wf.CurrentStep, time.Now()); err != nil {
				return err
			}
		}

		result = wf
		return insertAuditTx(ctx, tx, in.Audit)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListPendingByRole returns active workflows whose current step requires
// the given role, oldest submission first.
func (r *WorkflowRepository) ListPendingByRole(ctx context.Context, role Role) ([]*PendingApproval, error) {
	query := `
		SELECT w.id, w.request_id, w.request_type, w.organization_id, w.region_id,
		       w.amount, w.current_step, s.required_role, s.required_approvers,
		       (SELECT COUNT(DISTINCT d.actor_id)
		        FROM step_decisions d
		        WHERE d.workflow_id = w.id
		          AND d.step_order = w.current_step
		          AND d.decision = 'approve'
		          AND d.actor_role = s.required_role),
		       w.submitted_at
		FROM approval_workflows w
		JOIN approval_steps s
		  ON s.workflow_id = w.id AND s.step_order = w.current_step
		WHERE w.status IN ('pending', 'in_progress')
		  AND s.required_role = $1
		ORDER BY w.submitted_at ASC
	`

	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to list pending approvals")
	}
	defer rows.Close()

	var pending []*PendingApproval
	for rows.Next() {
		p := &PendingApproval{}
		err := rows.Scan(
			&p.WorkflowID,
			&p.RequestID,
			&p.RequestType,
			&p.OrganizationID,
			&p.RegionID,
			&p.Amount,
			&p.StepOrder,
			&p.RequiredRole,
			&p.RequiredApprovers,
			&p.ApprovalsRecorded,
			&p.SubmittedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan pending approval")
		}
		pending = append(pending, p)
	}
	return pending, nil
}

// ── transactional helpers ─────────────────────────────────────────────────────

// completeWorkflowTx flips the workflow to a terminal status and finalizes
// its budget request in the same transaction.
func (r *WorkflowRepository) completeWorkflowTx(
	ctx context.Context,
	tx pgx.Tx,
	wf *ApprovalWorkflow,
	status WorkflowStatus,
	actorID string,
	now time.Time,
) error {
	_, err := tx.Exec(ctx, `
		UPDATE approval_workflows
		SET status       = $2,
		    completed_at = $3,
		    updated_at   = NOW()
		WHERE id = $1
	`, wf.ID, status, now)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to complete workflow")
	}

	requestStatus := RequestApproved
	if status == WorkflowRejected {
		requestStatus = RequestRejected
	}
	_, err = tx.Exec(ctx, `
		UPDATE budget_requests
		SET status       = $2,
		    processed_by = $3,
		    processed_at = $4
		WHERE id = $1
	`, wf.RequestID, requestStatus, actorID, now)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to finalize budget request")
	}

	wf.Status = status
	wf.CompletedAt = &now
	return nil
}

// setWorkflowProgressTx advances current_step (or keeps it) and marks the
// workflow in_progress.
func (r *WorkflowRepository) setWorkflowProgressTx(
	ctx context.Context,
	tx pgx.Tx,
	wf *ApprovalWorkflow,
	step int,
	now time.Time,
) error {
	_, err := tx.Exec(ctx, `
		UPDATE approval_workflows
		SET current_step = $2,
		    status       = 'in_progress',
		    updated_at   = NOW()
		WHERE id = $1
	`, wf.ID, step)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to advance workflow")
	}
	wf.CurrentStep = step
	wf.Status = WorkflowInProgress
	wf.UpdatedAt = now
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const workflowSelect = `
	SELECT id, request_id, request_type, region_id, organization_id,
	       amount, fiscal_year, policy_version, status,
	       total_steps, current_step,
	       submitted_by, submitted_at, completed_at,
	       created_at, updated_at
	FROM approval_workflows`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*ApprovalWorkflow, error) {
	wf := &ApprovalWorkflow{}
	err := row.Scan(
		&wf.ID,
		&wf.RequestID,
		&wf.RequestType,
		&wf.RegionID,
		&wf.OrganizationID,
		&wf.Amount,
		&wf.FiscalYear,
		&wf.PolicyVersion,
		&wf.Status,
		&wf.TotalSteps,
		&wf.CurrentStep,
		&wf.SubmittedBy,
		&wf.SubmittedAt,
		&wf.CompletedAt,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}
