package repository

import (
	"fmt"
	"time"
)

// PolicyStep defines one step of an approval policy. Step order is the
// slice index.
type PolicyStep struct {
	Role              Role
	RequiredApprovers int
	IsFinal           bool
}

// ApprovalPolicy routes a request type and amount bracket to an ordered
// list of approval steps. MinAmount is inclusive; MaxAmount is exclusive,
// with zero meaning unbounded.
type ApprovalPolicy struct {
	Name        string
	RequestType RequestType
	MinAmount   int64
	MaxAmount   int64
	Steps       []PolicyStep
}

// matches reports whether the policy covers the request type and amount.
func (p *ApprovalPolicy) matches(rt RequestType, amount int64) bool {
	if p.RequestType != rt {
		return false
	}
	if amount < p.MinAmount {
		return false
	}
	if p.MaxAmount > 0 && amount >= p.MaxAmount {
		return false
	}
	return true
}

// PolicySet is an immutable, versioned collection of policies. Policies are
// evaluated in declaration order; the first match wins. Workflows snapshot
// the matched steps at creation, so edits to a future policy version never
// reinterpret in-flight workflows.
type PolicySet struct {
	version  int
	policies []ApprovalPolicy
}

// NewPolicySet validates and freezes a set of policies.
func NewPolicySet(version int, policies ...ApprovalPolicy) (*PolicySet, error) {
	for _, p := range policies {
		if !ValidRequestType(p.RequestType) {
			return nil, fmt.Errorf("policy %q: unknown request type %q", p.Name, p.RequestType)
		}
		if len(p.Steps) == 0 {
			return nil, fmt.Errorf("policy %q: no steps", p.Name)
		}
		for i, s := range p.Steps {
			if s.RequiredApprovers < 1 {
				return nil, fmt.Errorf("policy %q step %d: required approvers must be >= 1", p.Name, i)
			}
			final := i == len(p.Steps)-1
			if s.IsFinal != final {
				return nil, fmt.Errorf("policy %q step %d: is_final must be set on the last step only", p.Name, i)
			}
		}
	}
	return &PolicySet{version: version, policies: policies}, nil
}

// Version returns the policy set version snapshotted into workflows.
func (s *PolicySet) Version() int { return s.version }

// Match returns the first policy covering the request type and amount, or
// false when none does.
func (s *PolicySet) Match(rt RequestType, amount int64) (*ApprovalPolicy, bool) {
	for i := range s.policies {
		if s.policies[i].matches(rt, amount) {
			return &s.policies[i], true
		}
	}
	return nil, false
}

// Snapshot builds the step rows for a new workflow from a matched policy.
func (p *ApprovalPolicy) Snapshot(workflowID string, now time.Time) []*ApprovalStep {
	steps := make([]*ApprovalStep, 0, len(p.Steps))
	for i, def := range p.Steps {
		steps = append(steps, &ApprovalStep{
			WorkflowID:        workflowID,
			StepOrder:         i,
			RequiredRole:      def.Role,
			RequiredApprovers: def.RequiredApprovers,
			IsFinal:           def.IsFinal,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return steps
}

// DefaultPolicies is the seed policy set. Amounts are in centavos.
func DefaultPolicies() *PolicySet {
	set, err := NewPolicySet(1,
		ApprovalPolicy{
			Name:        "budget_increase_standard",
			RequestType: RequestBudgetIncrease,
			MaxAmount:   100_000,
			Steps: []PolicyStep{
				{Role: RoleRegionalAdmin, RequiredApprovers: 1},
				{Role: RoleSuperAdmin, RequiredApprovers: 1, IsFinal: true},
			},
		},
		ApprovalPolicy{
			Name:        "budget_increase_major",
			RequestType: RequestBudgetIncrease,
			MinAmount:   100_000,
			Steps: []PolicyStep{
				{Role: RoleRegionalAdmin, RequiredApprovers: 1},
				{Role: RoleFinanceOfficer, RequiredApprovers: 1},
				{Role: RoleSuperAdmin, RequiredApprovers: 2, IsFinal: true},
			},
		},
		ApprovalPolicy{
			Name:        "large_disbursement_standard",
			RequestType: RequestLargeDisbursement,
			MaxAmount:   50_000,
			Steps: []PolicyStep{
				{Role: RoleFinanceOfficer, RequiredApprovers: 1, IsFinal: true},
			},
		},
		ApprovalPolicy{
			Name:        "large_disbursement_major",
			RequestType: RequestLargeDisbursement,
			MinAmount:   50_000,
			Steps: []PolicyStep{
				{Role: RoleFinanceOfficer, RequiredApprovers: 1},
				{Role: RoleSuperAdmin, RequiredApprovers: 1, IsFinal: true},
			},
		},
		ApprovalPolicy{
			Name:        "special_allocation_all",
			RequestType: RequestSpecialAllocation,
			Steps: []PolicyStep{
				{Role: RoleRegionalAdmin, RequiredApprovers: 1},
				{Role: RoleFinanceOfficer, RequiredApprovers: 1},
				{Role: RoleSuperAdmin, RequiredApprovers: 1, IsFinal: true},
			},
		},
	)
	if err != nil {
		// The seed set is static; a validation failure here is a programming error.
		panic(err)
	}
	return set
}

// escalationLadder orders the role tiers escalation may advance through.
var escalationLadder = []Role{RoleRegionalAdmin, RoleFinanceOfficer, RoleSuperAdmin}

// NextEscalationRole returns the role tier above r, or false when r is
// already the highest tier (or not on the ladder).
func NextEscalationRole(r Role) (Role, bool) {
	for i, tier := range escalationLadder {
		if tier == r && i < len(escalationLadder)-1 {
			return escalationLadder[i+1], true
		}
	}
	return "", false
}
