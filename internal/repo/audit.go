package repo

import (
	"context"

	"github.com/DevanaGroup/titanium/internal/domain"
)

const auditColumns = `id,ts,action,COALESCE(detail,''),COALESCE(subject_id,''),COALESCE(subject_title,''),actor_id,COALESCE(changes_json,'')`

// ListAuditEvents returns the newest events first, capped at limit.
func (r Repo) ListAuditEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.Detail, &e.SubjectID, &e.SubjectTitle, &e.ActorID, &e.Changes); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AuditEventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) AuditEventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.Detail, &e.SubjectID, &e.SubjectTitle, &e.ActorID, &e.Changes); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestAuditEventID returns the current tail of the audit trail.
func (r Repo) LatestAuditEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_events`).Scan(&id)
	return id, err
}
