package donor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bloodbank/internal/inventory/models"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
)

// PostgresDonorStore persists donor records in PostgreSQL.
type PostgresDonorStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed donor store.
func NewPostgres(db *sql.DB) *PostgresDonorStore {
	return &PostgresDonorStore{db: db}
}

func (s *PostgresDonorStore) Create(ctx context.Context, donor *models.Donor) error {
	query := `
		INSERT INTO donors (donor_id, name, blood_group, age, active,
			last_donation_date, total_donations, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(donor.ID), donor.Name, donor.Group.String(), donor.Age,
		donor.Active, nullTime(donor.LastDonationDate), donor.TotalDonations,
		donor.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("create donor: %w", err)
	}
	return nil
}

func (s *PostgresDonorStore) Get(ctx context.Context, donorID domain.DonorID) (*models.Donor, error) {
	query := `
		SELECT donor_id, name, blood_group, age, active,
			last_donation_date, total_donations, registered_at
		FROM donors WHERE donor_id = $1
	`
	var (
		donor models.Donor
		dID   uuid.UUID
		group string
		last  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(donorID)).Scan(
		&dID, &donor.Name, &group, &donor.Age, &donor.Active,
		&last, &donor.TotalDonations, &donor.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get donor: %w", err)
	}
	donor.ID = domain.DonorID(dID)
	donor.Group = domain.BloodGroup(group)
	if last.Valid {
		donor.LastDonationDate = &last.Time
	}
	return &donor, nil
}

func (s *PostgresDonorStore) RecordDonation(ctx context.Context, donorID domain.DonorID, when time.Time) error {
	query := `
		UPDATE donors
		SET last_donation_date = $1, total_donations = total_donations + 1
		WHERE donor_id = $2
	`
	res, err := s.db.ExecContext(ctx, query, when, uuid.UUID(donorID))
	if err != nil {
		return fmt.Errorf("record donation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record donation: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresDonorStore) Deactivate(ctx context.Context, donorID domain.DonorID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE donors SET active = FALSE WHERE donor_id = $1`, uuid.UUID(donorID))
	if err != nil {
		return fmt.Errorf("deactivate donor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate donor: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
