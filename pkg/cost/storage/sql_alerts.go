package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/costtrack/pkg/cost/alerts"
	"mercator-hq/costtrack/pkg/scope"
)

// Alerts returns an alert sink backed by the store's database. The partial
// unique index on open alerts keeps Open idempotent across processes.
func (s *SQLStore) Alerts() alerts.Sink {
	return &sqlAlerts{s: s}
}

type sqlAlerts struct {
	s *SQLStore
}

func (a *sqlAlerts) Open(ctx context.Context, ref scope.Ref, alertType string, severity alerts.Severity, message string) (bool, error) {
	res, err := a.s.db.ExecContext(ctx, a.s.q(`INSERT INTO alerts
			(id, scope_kind, scope_id, alert_type, severity, message, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		uuid.NewString(), string(ref.Kind), ref.ID, alertType, string(severity), message, a.s.now().Unix())
	if err != nil {
		return false, mapError(fmt.Errorf("failed to open alert on %s: %w", ref, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *sqlAlerts) Close(ctx context.Context, ref scope.Ref, alertType string) (bool, error) {
	res, err := a.s.db.ExecContext(ctx, a.s.q(`UPDATE alerts SET closed_at = ?
		WHERE scope_kind = ? AND scope_id = ? AND alert_type = ? AND closed_at IS NULL`),
		a.s.now().Unix(), string(ref.Kind), ref.ID, alertType)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to close alert on %s: %w", ref, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *sqlAlerts) ListOpen(ctx context.Context, alertType string) ([]alerts.Alert, error) {
	rows, err := a.s.db.QueryContext(ctx, a.s.q(`SELECT id, scope_kind, scope_id, severity, message, opened_at
		FROM alerts WHERE alert_type = ? AND closed_at IS NULL
		ORDER BY scope_kind, scope_id`), alertType)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var (
			al            alerts.Alert
			id, kind, sev string
			openedAt      int64
		)
		if err := rows.Scan(&id, &kind, &al.Scope.ID, &sev, &al.Message, &openedAt); err != nil {
			return nil, err
		}
		if al.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		al.Scope.Kind = scope.Kind(kind)
		al.Type = alertType
		al.Severity = alerts.Severity(sev)
		al.OpenedAt = time.Unix(openedAt, 0).UTC()
		out = append(out, al)
	}
	return out, mapError(rows.Err())
}
