package store

import (
	"context"
	"fmt"
	"time"
)

// RecordAudit appends an immutable audit event. A zero CreatedAt stamps the
// event with the current time.
func (s *Store) RecordAudit(ctx context.Context, event AuditEvent) error {
	details := event.Details
	if details == "" {
		details = "{}"
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (actor, action, target, details, origin, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		event.Actor, event.Action, event.Target, details, event.Origin,
		formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// PurgeAuditBefore bulk-deletes audit events older than the cutoff and
// returns the number removed.
func (s *Store) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit rows affected: %w", err)
	}
	return affected, nil
}

// AuditEventsForTarget returns the audit trail for one target, newest first.
func (s *Store) AuditEventsForTarget(ctx context.Context, target string) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, target, details, origin, created_at
         FROM audit_events WHERE target = ? ORDER BY id DESC`, target)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event     AuditEvent
			createdAt string
		)
		if err := rows.Scan(&event.ID, &event.Actor, &event.Action, &event.Target,
			&event.Details, &event.Origin, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.CreatedAt = parseTime(createdAt)
		events = append(events, event)
	}
	return events, rows.Err()
}
