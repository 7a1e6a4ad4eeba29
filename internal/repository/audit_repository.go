package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sora960/paragas-agrikonek-sub003/internal/apperrors"
	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/database"
)

// AuditRepository appends and reads immutable audit log rows. The table
// carries a delete-prevention trigger; append is the only mutation exposed.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// queryer is satisfied by both *database.DB and pgx.Tx, so audit rows can
// be appended inside a caller's transaction.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Append inserts one audit row outside any caller transaction.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditLog) error {
	return insertAuditTx(ctx, r.db, entry)
}

// insertAuditTx inserts one audit row on the given queryer. Business
// repositories call this inside their own transactions so a mutation never
// commits without its audit row.
func insertAuditTx(ctx context.Context, q queryer, entry *AuditLog) error {
	changesJSON, err := marshalJSONMap(entry.Changes)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeAuditWrite, "failed to marshal audit changes")
	}
	metadataJSON, err := marshalJSONMap(entry.Metadata)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeAuditWrite, "failed to marshal audit metadata")
	}

	query := `
		INSERT INTO audit_log
		    (action_type, entity_type, entity_id, actor_id, changes, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err = q.QueryRow(ctx, query,
		entry.ActionType,
		entry.EntityType,
		entry.EntityID,
		entry.ActorID,
		changesJSON,
		metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeAuditWrite, "failed to append audit log entry")
	}
	return nil
}

// List returns audit rows matching the filter, newest-first.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*AuditLog, error) {
	query := `
		SELECT id, action_type, entity_type, entity_id, actor_id,
		       changes, metadata, created_at
		FROM audit_log
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2 = '' OR entity_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC
		LIMIT $5
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.Query(ctx, query,
		filter.EntityType,
		filter.EntityID,
		nullTime(filter.StartDate),
		nullTime(filter.EndDate),
		limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to query audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// Summary aggregates audit rows per action type over a period.
func (r *AuditRepository) Summary(ctx context.Context, start, end time.Time) (*ActionSummary, error) {
	query := `
		SELECT action_type, COUNT(*)
		FROM audit_log
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY action_type
	`

	rows, err := r.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "failed to summarize audit log")
	}
	defer rows.Close()

	summary := &ActionSummary{
		StartDate: start,
		EndDate:   end,
		ByAction:  map[ActionType]int64{},
	}
	for rows.Next() {
		var action ActionType
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit summary row")
		}
		summary.ByAction[action] = count
		summary.Total += count
	}
	return summary, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*AuditLog, error) {
	var entries []*AuditLog
	for rows.Next() {
		entry := &AuditLog{}
		var changesJSON, metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.ActionType,
			&entry.EntityType,
			&entry.EntityID,
			&entry.ActorID,
			&changesJSON,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
		}

		if err := unmarshalJSONMap(changesJSON, &entry.Changes); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit changes")
		}
		if err := unmarshalJSONMap(metadataJSON, &entry.Metadata); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func marshalJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalJSONMap(b []byte, dst *map[string]any) error {
	if b == nil {
		return nil
	}
	return json.Unmarshal(b, dst)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
