package alert

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"bloodbank/internal/inventory/models"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
)

// PostgresAlertStore persists alerts in PostgreSQL. A partial unique index on
// (alert_type, blood_bank, blood_group) WHERE NOT resolved enforces the dedup
// invariant; the insert relies on ON CONFLICT DO NOTHING against it.
type PostgresAlertStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed alert store.
func NewPostgres(db *sql.DB) *PostgresAlertStore {
	return &PostgresAlertStore{db: db}
}

func (s *PostgresAlertStore) RaiseIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	query := `
		INSERT INTO alerts (alert_id, alert_type, blood_bank, blood_group,
			message, severity, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NOW())
		ON CONFLICT (alert_type, blood_bank, blood_group) WHERE NOT resolved
		DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(alert.ID), string(alert.Type), alert.BloodBank,
		alert.Group.String(), alert.Message, string(alert.Severity),
	)
	if err != nil {
		return false, fmt.Errorf("raise alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("raise alert: rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresAlertStore) Resolve(ctx context.Context, alertID domain.AlertID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET resolved = TRUE WHERE alert_id = $1`, uuid.UUID(alertID))
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve alert: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresAlertStore) ListUnresolved(ctx context.Context) ([]*models.Alert, error) {
	query := `
		SELECT alert_id, alert_type, blood_bank, blood_group, message,
			severity, resolved, created_at
		FROM alerts
		WHERE NOT resolved
		ORDER BY created_at ASC, alert_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unresolved alerts: %w", err)
	}
	defer rows.Close()

	var unresolved []*models.Alert
	for rows.Next() {
		var (
			a        models.Alert
			alertID  uuid.UUID
			aType    string
			group    string
			severity string
		)
		if err := rows.Scan(&alertID, &aType, &a.BloodBank, &group, &a.Message,
			&severity, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.ID = domain.AlertID(alertID)
		a.Type = models.AlertType(aType)
		a.Group = domain.BloodGroup(group)
		a.Severity = models.Severity(severity)
		unresolved = append(unresolved, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return unresolved, nil
}
