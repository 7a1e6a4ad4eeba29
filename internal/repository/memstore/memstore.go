// Package memstore is a mutex-guarded in-memory implementation of the
// service store interfaces. It mirrors the transactional semantics of the
// Postgres repositories (all-or-nothing per operation) and backs the
// service tests.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
)

// Store holds all state behind one mutex; each exported operation is a
// single critical section, matching the per-operation transaction boundary
// of the Postgres repositories.
type Store struct {
	mu sync.Mutex

	requests  map[string]*repository.BudgetRequest
	workflows map[string]*repository.ApprovalWorkflow
	steps     map[string][]*repository.ApprovalStep // keyed by workflow id
	decisions map[string][]*repository.StepDecision // keyed by workflow id

	regionBudgets map[string]*repository.RegionBudget      // region|year
	orgBudgets    map[string]*repository.OrganizationBudget // org|year
	allocations   map[string]*repository.BudgetAllocation  // org|year

	batches map[string]*repository.DisbursementBatch
	audit   []*repository.AuditLog

	failAudit bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		requests:      map[string]*repository.BudgetRequest{},
		workflows:     map[string]*repository.ApprovalWorkflow{},
		steps:         map[string][]*repository.ApprovalStep{},
		decisions:     map[string][]*repository.StepDecision{},
		regionBudgets: map[string]*repository.RegionBudget{},
		orgBudgets:    map[string]*repository.OrganizationBudget{},
		allocations:   map[string]*repository.BudgetAllocation{},
		batches:       map[string]*repository.DisbursementBatch{},
	}
}

// SetAuditFailure makes every audited write fail with AuditWriteFailure, so
// tests can verify that business mutations roll back with the audit row.
func (s *Store) SetAuditFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAudit = fail
}

func yearKey(id string, fiscalYear int) string {
	return id + "|" + strconv.Itoa(fiscalYear)
}

// ── Seeding (test setup) ──────────────────────────────────────────────────────

// SeedRegionBudget installs a region budget row.
func (s *Store) SeedRegionBudget(regionID string, fiscalYear int, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regionBudgets[yearKey(regionID, fiscalYear)] = &repository.RegionBudget{
		ID: uuid.NewString(), RegionID: regionID, FiscalYear: fiscalYear,
		Amount: amount, UpdatedAt: time.Now(),
	}
}

// SeedOrganizationBudget installs an organization budget row.
func (s *Store) SeedOrganizationBudget(orgID, regionID string, fiscalYear int, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgBudgets[yearKey(orgID, fiscalYear)] = &repository.OrganizationBudget{
		ID: uuid.NewString(), OrganizationID: orgID, RegionID: regionID,
		FiscalYear: fiscalYear, Amount: amount, UpdatedAt: time.Now(),
	}
}

// SeedAllocation installs a budget allocation row.
func (s *Store) SeedAllocation(orgID string, fiscalYear int, allocated int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations[yearKey(orgID, fiscalYear)] = &repository.BudgetAllocation{
		ID: uuid.NewString(), OrganizationID: orgID, FiscalYear: fiscalYear,
		Allocated: allocated, UpdatedAt: time.Now(),
	}
}

// ── WorkflowStore ─────────────────────────────────────────────────────────────

// CreateWorkflow persists the request, workflow, step snapshots and the
// creation audit row as one unit.
func (s *Store) CreateWorkflow(
	ctx context.Context,
	req *repository.BudgetRequest,
	wf *repository.ApprovalWorkflow,
	steps []*repository.ApprovalStep,
	audit *repository.AuditLog,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAudit {
		return apperrors.New(apperrors.ErrCodeAuditWrite, "audit store unavailable")
	}

	now := time.Now()
	req.ID = uuid.NewString()
	req.RequestedAt = now
	s.requests[req.ID] = req

	wf.ID = uuid.NewString()
	wf.RequestID = req.ID
	wf.SubmittedAt = now
	wf.CreatedAt = now
	wf.UpdatedAt = now
	s.workflows[wf.ID] = wf

	for _, step := range steps {
		step.ID = uuid.NewString()
		step.WorkflowID = wf.ID
	}
	s.steps[wf.ID] = steps

	audit.EntityID = wf.ID
	s.appendAuditLocked(audit)
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*repository.ApprovalWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, apperrors.NotFound("approval_workflow", id)
	}
	copied := *wf
	return &copied, nil
}

// GetWorkflowSteps returns the workflow's step snapshots in order.
func (s *Store) GetWorkflowSteps(ctx context.Context, workflowID string) ([]*repository.ApprovalStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, ok := s.steps[workflowID]
	if !ok {
		return nil, apperrors.NotFound("approval_workflow", workflowID)
	}
	out := make([]*repository.ApprovalStep, len(steps))
	for i, step := range steps {
		copied := *step
		out[i] = &copied
	}
	return out, nil
}

// GetStepDecisions returns all recorded decisions, oldest-first.
func (s *Store) GetStepDecisions(ctx context.Context, workflowID string) ([]*repository.StepDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*repository.StepDecision, 0, len(s.decisions[workflowID]))
	for _, d := range s.decisions[workflowID] {
		copied := *d
		out = append(out, &copied)
	}
	return out, nil
}

// ApplyDecision implements the decision transaction: validations run first,
// then all writes apply together, so a failed validation leaves no trace.
func (s *Store) ApplyDecision(ctx context.Context, in repository.DecisionInput) (*repository.DecisionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[in.WorkflowID]
	if !ok {
		return nil, apperrors.NotFound("approval_workflow", in.WorkflowID)
	}
	if wf.Status.Terminal() {
		return nil, apperrors.Newf(apperrors.ErrCodeWorkflowNotActive,
			"workflow is %s and accepts no further decisions", wf.Status)
	}
	if in.StepOrder != wf.CurrentStep {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"decision targets step %d but workflow is at step %d", in.StepOrder, wf.CurrentStep)
	}

	var step *repository.ApprovalStep
	for _, st := range s.steps[wf.ID] {
		if st.StepOrder == wf.CurrentStep {
			step = st
			break
		}
	}
	if step == nil {
		return nil, apperrors.NotFound("approval_step", wf.ID)
	}

	if in.ActorRole != step.RequiredRole {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidActorRole,
			"step %d requires role %s", step.StepOrder, step.RequiredRole)
	}

	for _, d := range s.decisions[wf.ID] {
		if d.StepOrder == wf.CurrentStep && d.ActorID == in.ActorID {
			return nil, apperrors.Newf(apperrors.ErrCodeDuplicateDecision,
				"actor %s already decided step %d", in.ActorID, wf.CurrentStep)
		}
	}

	if s.failAudit {
		return nil, apperrors.New(apperrors.ErrCodeAuditWrite, "audit store unavailable")
	}

	outcome := &repository.DecisionOutcome{}
	now := time.Now()

	// Pre-compute what this decision does so ledger lookups can fail
	// before any state changes (the Postgres path gets this via rollback).
	willComplete := false
	willAdvance := false
	if in.Decision == repository.DecisionApprove {
		approvals := 1
		seen := map[string]bool{in.ActorID: true}
		for _, d := range s.decisions[wf.ID] {
			if d.StepOrder == wf.CurrentStep &&
				d.Decision == repository.DecisionApprove &&
				d.ActorRole == step.RequiredRole &&
				!seen[d.ActorID] {
				seen[d.ActorID] = true
				approvals++
			}
		}
		outcome.ApprovalsAtStep = approvals
		if approvals >= step.RequiredApprovers {
			outcome.StepSatisfied = true
			if step.IsFinal {
				willComplete = true
			} else {
				willAdvance = true
			}
		}
		if willComplete && in.Mutation != nil {
			if err := s.checkMutationLocked(in.Mutation); err != nil {
				return nil, err
			}
		}
	}

	s.decisions[wf.ID] = append(s.decisions[wf.ID], &repository.StepDecision{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		StepOrder:  wf.CurrentStep,
		Decision:   in.Decision,
		ActorID:    in.ActorID,
		ActorRole:  in.ActorRole,
		Notes:      in.Notes,
		DecidedAt:  now,
	})

	switch {
	case in.Decision == repository.DecisionReject:
		s.completeWorkflowLocked(wf, repository.WorkflowRejected, in.ActorID, now)

	case willComplete:
		outcome.WorkflowCompleted = true
		s.completeWorkflowLocked(wf, repository.WorkflowApproved, in.ActorID, now)
		if in.Mutation != nil {
			s.applyMutationLocked(in.Mutation, now)
		}
		if in.MutationAudit != nil {
			s.appendAuditLocked(in.MutationAudit)
		}

	case willAdvance:
		wf.CurrentStep++
		wf.Status = repository.WorkflowInProgress
		wf.UpdatedAt = now

	default:
		if wf.Status == repository.WorkflowPending {
			wf.Status = repository.WorkflowInProgress
			wf.UpdatedAt = now
		}
	}

	s.appendAuditLocked(in.DecisionAudit)

	copied := *wf
	outcome.Workflow = &copied
	return outcome, nil
}

func (s *Store) completeWorkflowLocked(wf *repository.ApprovalWorkflow, status repository.WorkflowStatus, actorID string, now time.Time) {
	wf.Status = status
	wf.CompletedAt = &now
	wf.UpdatedAt = now

	if req, ok := s.requests[wf.RequestID]; ok {
		if status == repository.WorkflowApproved {
			req.Status = repository.RequestApproved
		} else {
			req.Status = repository.RequestRejected
		}
		req.ProcessedBy = &actorID
		req.ProcessedAt = &now
	}
}

// EscalateCurrentStep moves the current step to the next role tier.
func (s *Store) EscalateCurrentStep(ctx context.Context, in repository.EscalationInput) (*repository.ApprovalWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[in.WorkflowID]
	if !ok {
		return nil, apperrors.NotFound("approval_workflow", in.WorkflowID)
	}
	if wf.Status.Terminal() {
		return nil, apperrors.Newf(apperrors.ErrCodeWorkflowNotActive,
			"workflow is %s and cannot be escalated", wf.Status)
	}

	var step *repository.ApprovalStep
	for _, st := range s.steps[wf.ID] {
		if st.StepOrder == wf.CurrentStep {
			step = st
			break
		}
	}
	if step == nil {
		return nil, apperrors.NotFound("approval_step", wf.ID)
	}

	nextRole, ok := repository.NextEscalationRole(step.RequiredRole)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"step role %s is already the highest escalation tier", step.RequiredRole)
	}

	if s.failAudit {
		return nil, apperrors.New(apperrors.ErrCodeAuditWrite, "audit store unavailable")
	}

	previous := step.RequiredRole
	step.RequiredRole = nextRole
	step.EscalatedFrom = &previous
	step.UpdatedAt = time.Now()

	if wf.Status == repository.WorkflowPending {
		wf.Status = repository.WorkflowInProgress
	}
	wf.UpdatedAt = time.Now()

	s.appendAuditLocked(in.Audit)

	copied := *wf
	return &copied, nil
}

// ListPendingByRole returns active workflows gated on the role, oldest first.
func (s *Store) ListPendingByRole(ctx context.Context, role repository.Role) ([]*repository.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*repository.PendingApproval
	for _, wf := range s.workflows {
		if wf.Status.Terminal() {
			continue
		}
		var step *repository.ApprovalStep
		for _, st := range s.steps[wf.ID] {
			if st.StepOrder == wf.CurrentStep {
				step = st
				break
			}
		}
		if step == nil || step.RequiredRole != role {
			continue
		}

		approvals := map[string]bool{}
		for _, d := range s.decisions[wf.ID] {
			if d.StepOrder == wf.CurrentStep &&
				d.Decision == repository.DecisionApprove &&
				d.ActorRole == step.RequiredRole {
				approvals[d.ActorID] = true
			}
		}

		pending = append(pending, &repository.PendingApproval{
			WorkflowID:        wf.ID,
			RequestID:         wf.RequestID,
			RequestType:       wf.RequestType,
			OrganizationID:    wf.OrganizationID,
			RegionID:          wf.RegionID,
			Amount:            wf.Amount,
			StepOrder:         wf.CurrentStep,
			RequiredRole:      step.RequiredRole,
			RequiredApprovers: step.RequiredApprovers,
			ApprovalsRecorded: len(approvals),
			SubmittedAt:       wf.SubmittedAt,
		})
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].SubmittedAt.Before(pending[j].SubmittedAt)
	})
	return pending, nil
}

// ── LedgerStore ───────────────────────────────────────────────────────────────

// GetRegionBudget retrieves a region budget.
func (s *Store) GetRegionBudget(ctx context.Context, regionID string, fiscalYear int) (*repository.RegionBudget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.regionBudgets[yearKey(regionID, fiscalYear)]
	if !ok {
		return nil, apperrors.NotFound("region_budget", regionID)
	}
	copied := *b
	return &copied, nil
}

// GetOrganizationBudget retrieves an organization budget.
func (s *Store) GetOrganizationBudget(ctx context.Context, orgID string, fiscalYear int) (*repository.OrganizationBudget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.orgBudgets[yearKey(orgID, fiscalYear)]
	if !ok {
		return nil, apperrors.NotFound("organization_budget", orgID)
	}
	copied := *b
	return &copied, nil
}

// GetAllocation retrieves a budget allocation.
func (s *Store) GetAllocation(ctx context.Context, orgID string, fiscalYear int) (*repository.BudgetAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[yearKey(orgID, fiscalYear)]
	if !ok {
		return nil, apperrors.NotFound("budget_allocation", orgID)
	}
	copied := *a
	return &copied, nil
}

func (s *Store) checkMutationLocked(m *repository.LedgerMutation) error {
	switch m.RequestType {
	case repository.RequestBudgetIncrease:
		if _, ok := s.regionBudgets[yearKey(m.RegionID, m.FiscalYear)]; !ok {
			return apperrors.NotFound("region_budget", m.RegionID)
		}
	case repository.RequestLargeDisbursement:
		if _, ok := s.orgBudgets[yearKey(m.OrganizationID, m.FiscalYear)]; !ok {
			return apperrors.NotFound("organization_budget", m.OrganizationID)
		}
	}
	return nil
}

func (s *Store) applyMutationLocked(m *repository.LedgerMutation, now time.Time) {
	switch m.RequestType {
	case repository.RequestBudgetIncrease:
		b := s.regionBudgets[yearKey(m.RegionID, m.FiscalYear)]
		b.Amount += m.Amount
		b.UpdatedAt = now

	case repository.RequestLargeDisbursement:
		b := s.orgBudgets[yearKey(m.OrganizationID, m.FiscalYear)]
		b.Utilized += m.Amount
		b.UpdatedAt = now

	case repository.RequestSpecialAllocation:
		key := yearKey(m.OrganizationID, m.FiscalYear)
		if a, ok := s.allocations[key]; ok {
			a.Allocated += m.Amount
			a.UpdatedAt = now
		} else {
			s.allocations[key] = &repository.BudgetAllocation{
				ID:             uuid.NewString(),
				OrganizationID: m.OrganizationID,
				FiscalYear:     m.FiscalYear,
				Allocated:      m.Amount,
				UpdatedAt:      now,
			}
		}
	}
}

// ── AuditStore ────────────────────────────────────────────────────────────────

// Append inserts one audit row.
func (s *Store) Append(ctx context.Context, entry *repository.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAudit {
		return apperrors.New(apperrors.ErrCodeAuditWrite, "audit store unavailable")
	}
	s.appendAuditLocked(entry)
	return nil
}

func (s *Store) appendAuditLocked(entry *repository.AuditLog) {
	if entry == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	copied := *entry
	s.audit = append(s.audit, &copied)
}

// List returns audit rows matching the filter, newest-first.
func (s *Store) List(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.AuditLog
	for _, e := range s.audit {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if !filter.StartDate.IsZero() && e.CreatedAt.Before(filter.StartDate) {
			continue
		}
		if !filter.EndDate.IsZero() && e.CreatedAt.After(filter.EndDate) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Summary aggregates audit rows per action type over a period.
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*repository.ActionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &repository.ActionSummary{
		StartDate: start,
		EndDate:   end,
		ByAction:  map[repository.ActionType]int64{},
	}
	for _, e := range s.audit {
		if e.CreatedAt.Before(start) || e.CreatedAt.After(end) {
			continue
		}
		summary.ByAction[e.ActionType]++
		summary.Total++
	}
	return summary, nil
}

// ── BatchStore ────────────────────────────────────────────────────────────────

// CreateBatch persists the batch, items and creation audit row as one unit.
func (s *Store) CreateBatch(ctx context.Context, batch *repository.DisbursementBatch, audit *repository.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAudit {
		return apperrors.New(apperrors.ErrCodeAuditWrite, "audit store unavailable")
	}

	now := time.Now()
	batch.ID = uuid.NewString()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	for _, item := range batch.Items {
		item.ID = uuid.NewString()
		item.BatchID = batch.ID
		item.CreatedAt = now
		item.UpdatedAt = now
	}
	s.batches[batch.ID] = batch

	audit.EntityID = batch.ID
	s.appendAuditLocked(audit)
	return nil
}

// GetBatch retrieves a batch with its items.
func (s *Store) GetBatch(ctx context.Context, id string) (*repository.DisbursementBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBatchLocked(id)
}

func (s *Store) getBatchLocked(id string) (*repository.DisbursementBatch, error) {
	batch, ok := s.batches[id]
	if !ok {
		return nil, apperrors.NotFound("disbursement_batch", id)
	}
	copied := *batch
	copied.Items = make([]*repository.DisbursementItem, len(batch.Items))
	for i, item := range batch.Items {
		itemCopy := *item
		copied.Items[i] = &itemCopy
	}
	return &copied, nil
}

// MarkBatchProcessing flips the batch to processing. Completed batches
// never re-enter processing.
func (s *Store) MarkBatchProcessing(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return apperrors.NotFound("disbursement_batch", id)
	}
	if batch.Status == repository.BatchCompleted {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"batch %s is %s and cannot be processed", batch.BatchNumber, batch.Status)
	}
	batch.Status = repository.BatchProcessing
	batch.UpdatedAt = time.Now()
	return nil
}

// ExecuteItem applies one payout atomically: validations first, then the
// debit, credit, item update and audit row together. An item that already
// succeeded is never re-executed, so a racing pass cannot disburse it twice.
func (s *Store) ExecuteItem(ctx context.Context, in repository.ItemExecutionInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[in.BatchID]
	if !ok {
		return apperrors.NotFound("disbursement_batch", in.BatchID)
	}
	var item *repository.DisbursementItem
	for _, it := range batch.Items {
		if it.ID == in.ItemID {
			item = it
			break
		}
	}
	if item == nil {
		return apperrors.NotFound("disbursement_item", in.ItemID)
	}
	if item.Status == repository.ItemSucceeded {
		return nil
	}

	alloc, ok := s.allocations[yearKey(in.OrganizationID, in.FiscalYear)]
	if !ok {
		return apperrors.NotFound("budget_allocation", in.OrganizationID)
	}
	if alloc.Remaining() < in.Amount {
		return apperrors.Newf(apperrors.ErrCodeValidation,
			"organization %s has %d remaining, item needs %d",
			in.OrganizationID, alloc.Remaining(), in.Amount)
	}
	orgBudget, ok := s.orgBudgets[yearKey(in.OrganizationID, in.FiscalYear)]
	if !ok {
		return apperrors.NotFound("organization_budget", in.OrganizationID)
	}
	if s.failAudit {
		return apperrors.New(apperrors.ErrCodeAuditWrite, "audit store unavailable")
	}

	now := time.Now()
	alloc.Utilized += in.Amount
	alloc.UpdatedAt = now
	orgBudget.Amount += in.Amount
	orgBudget.UpdatedAt = now

	item.Status = repository.ItemSucceeded
	item.FailureReason = nil
	item.ExecutedAt = &now
	item.UpdatedAt = now

	s.appendAuditLocked(in.Audit)
	return nil
}

// MarkItemFailed records an item failure with its reason.
func (s *Store) MarkItemFailed(ctx context.Context, itemID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, batch := range s.batches {
		for _, item := range batch.Items {
			if item.ID == itemID {
				item.Status = repository.ItemFailed
				item.FailureReason = &reason
				item.UpdatedAt = time.Now()
				return nil
			}
		}
	}
	return apperrors.NotFound("disbursement_item", itemID)
}

// FinalizeBatch sets the terminal status of a processing pass.
func (s *Store) FinalizeBatch(ctx context.Context, id string, status repository.BatchStatus, audit *repository.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return apperrors.NotFound("disbursement_batch", id)
	}
	if s.failAudit {
		return apperrors.New(apperrors.ErrCodeAuditWrite, "audit store unavailable")
	}

	now := time.Now()
	batch.Status = status
	if status == repository.BatchCompleted {
		batch.CompletedAt = &now
	}
	batch.UpdatedAt = now

	s.appendAuditLocked(audit)
	return nil
}

// ListBatchesBetween returns batches created in the period, newest-first.
func (s *Store) ListBatchesBetween(ctx context.Context, start, end time.Time) ([]*repository.DisbursementBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.DisbursementBatch
	for id, batch := range s.batches {
		if batch.CreatedAt.Before(start) || batch.CreatedAt.After(end) {
			continue
		}
		copied, _ := s.getBatchLocked(id)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
