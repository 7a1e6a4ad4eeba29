package service

import (
	"context"
	"time"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/logger"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
)

// AuditService exposes the append-only audit trail. Entries written through
// workflow and batch transactions also land here; this service covers
// standalone appends and all reads.
type AuditService struct {
	audit AuditStore
	log   *logger.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(audit AuditStore, log *logger.Logger) *AuditService {
	return &AuditService{audit: audit, log: log}
}

// LogAction appends one audit entry. A write failure is surfaced as a
// retryable audit error; callers inside a transaction abort on it.
func (s *AuditService) LogAction(ctx context.Context, entry *repository.AuditLog) error {
	if entry.ActionType == "" {
		return apperrors.InvalidInput("action_type", "action_type is required")
	}
	if entry.EntityType == "" {
		return apperrors.InvalidInput("entity_type", "entity_type is required")
	}
	if entry.ActorID == "" {
		return apperrors.InvalidInput("actor_id", "actor_id is required")
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Error().Err(err).
			Str("action_type", string(entry.ActionType)).
			Str("entity_id", entry.EntityID).
			Msg("Audit append failed")
		return err
	}
	return nil
}

// GetAuditTrail returns audit entries matching the filter, newest-first.
func (s *AuditService) GetAuditTrail(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditLog, error) {
	if filter.Limit < 0 {
		return nil, apperrors.InvalidInput("limit", "limit must not be negative")
	}
	if !filter.StartDate.IsZero() && !filter.EndDate.IsZero() && filter.EndDate.Before(filter.StartDate) {
		return nil, apperrors.InvalidInput("end_date", "end_date precedes start_date")
	}
	return s.audit.List(ctx, filter)
}

// GetEntityHistory returns the full recorded history of one entity,
// newest-first.
func (s *AuditService) GetEntityHistory(ctx context.Context, entityType, entityID string) ([]*repository.AuditLog, error) {
	if entityType == "" {
		return nil, apperrors.InvalidInput("entity_type", "entity_type is required")
	}
	if entityID == "" {
		return nil, apperrors.InvalidInput("entity_id", "entity_id is required")
	}
	return s.audit.List(ctx, repository.AuditFilter{
		EntityType: entityType,
		EntityID:   entityID,
	})
}

// GetActionSummary aggregates audit activity per action type over a period.
func (s *AuditService) GetActionSummary(ctx context.Context, start, end time.Time) (*repository.ActionSummary, error) {
	if end.Before(start) {
		return nil, apperrors.InvalidInput("end_date", "end_date precedes start_date")
	}
	return s.audit.Summary(ctx, start, end)
}
