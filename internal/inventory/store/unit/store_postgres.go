package unit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"bloodbank/internal/inventory/models"
	"bloodbank/internal/inventory/ports"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
)

// PostgresUnitStore persists blood units in PostgreSQL. The reservation
// compare-and-set is a conditional single-row UPDATE on the status column;
// no wider lock is ever taken.
type PostgresUnitStore struct {
	db    *sql.DB
	clock Clock
}

// PostgresOption configures a PostgresUnitStore.
type PostgresOption func(*PostgresUnitStore)

// WithPostgresClock sets the clock function for testability.
func WithPostgresClock(clock Clock) PostgresOption {
	return func(s *PostgresUnitStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed unit store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresUnitStore {
	s := &PostgresUnitStore{
		db:    db,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const unitColumns = `unit_id, blood_bank, blood_group, component, quantity,
	collection_date, expiration_date, status, test_status, storage_location,
	donor_id, created_at, updated_at`

func (s *PostgresUnitStore) Create(ctx context.Context, unit *models.BloodUnit) error {
	now := s.clock()
	query := `
		INSERT INTO blood_units (` + unitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(unit.ID), unit.BloodBank, unit.Group.String(), unit.Component.String(),
		unit.Quantity, unit.CollectionDate, unit.ExpirationDate,
		string(unit.Status), string(unit.TestStatus), nullString(unit.StorageLocation),
		nullUUID(uuid.UUID(unit.DonorID)), now, now,
	)
	if err != nil {
		return fmt.Errorf("create blood unit: %w", err)
	}
	return nil
}

func (s *PostgresUnitStore) Get(ctx context.Context, unitID domain.UnitID) (*models.BloodUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM blood_units WHERE unit_id = $1`
	unit, err := scanUnit(s.db.QueryRowContext(ctx, query, uuid.UUID(unitID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get blood unit: %w", err)
	}
	return unit, nil
}

func (s *PostgresUnitStore) FindCandidates(ctx context.Context, filter ports.CandidateFilter) ([]*models.BloodUnit, error) {
	groups := make([]string, 0, len(filter.Groups))
	for _, g := range filter.Groups {
		groups = append(groups, g.String())
	}

	query := `
		SELECT ` + unitColumns + `
		FROM blood_units
		WHERE status = 'Available'
		  AND test_status = 'Cleared'
		  AND expiration_date > $1
		  AND blood_group = ANY($2)
		  AND component = $3
		  AND ($4 = '' OR blood_bank = $4)
		ORDER BY expiration_date ASC, unit_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query,
		filter.Now, pq.Array(groups), filter.Component.String(), filter.BloodBank)
	if err != nil {
		return nil, fmt.Errorf("find candidate units: %w", err)
	}
	defer rows.Close()

	var candidates []*models.BloodUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate unit: %w", err)
		}
		candidates = append(candidates, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate units: %w", err)
	}
	return candidates, nil
}

func (s *PostgresUnitStore) Reserve(ctx context.Context, unitID domain.UnitID) error {
	return s.transition(ctx, unitID, models.UnitAvailable, models.UnitReserved, sentinel.ErrConflict)
}

func (s *PostgresUnitStore) Release(ctx context.Context, unitID domain.UnitID) error {
	return s.transition(ctx, unitID, models.UnitReserved, models.UnitAvailable, sentinel.ErrInvalidState)
}

func (s *PostgresUnitStore) MarkUsed(ctx context.Context, unitID domain.UnitID) error {
	return s.transition(ctx, unitID, models.UnitReserved, models.UnitUsed, sentinel.ErrInvalidState)
}

// transition performs the conditional status update. A zero row count means
// either the unit does not exist or its status moved; a follow-up existence
// probe distinguishes the two so callers get the right sentinel.
func (s *PostgresUnitStore) transition(ctx context.Context, unitID domain.UnitID, from, to models.UnitStatus, miss error) error {
	query := `
		UPDATE blood_units
		SET status = $1, updated_at = $2
		WHERE unit_id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query, string(to), s.clock(), uuid.UUID(unitID), string(from))
	if err != nil {
		return fmt.Errorf("transition unit %s to %s: %w", unitID, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition unit %s: rows affected: %w", unitID, err)
	}
	if affected == 0 {
		var exists bool
		probe := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM blood_units WHERE unit_id = $1)`, uuid.UUID(unitID))
		if err := probe.Scan(&exists); err != nil {
			return fmt.Errorf("probe unit %s: %w", unitID, err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return miss
	}
	return nil
}

func (s *PostgresUnitStore) SetTestStatus(ctx context.Context, unitID domain.UnitID, from, to models.TestStatus) error {
	query := `
		UPDATE blood_units
		SET test_status = $1, updated_at = $2
		WHERE unit_id = $3 AND test_status = $4
	`
	res, err := s.db.ExecContext(ctx, query, string(to), s.clock(), uuid.UUID(unitID), string(from))
	if err != nil {
		return fmt.Errorf("set test status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set test status: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresUnitStore) Quarantine(ctx context.Context, unitID domain.UnitID) error {
	query := `
		UPDATE blood_units
		SET status = 'Quarantine', updated_at = $1
		WHERE unit_id = $2 AND status IN ('Available', 'Reserved')
	`
	res, err := s.db.ExecContext(ctx, query, s.clock(), uuid.UUID(unitID))
	if err != nil {
		return fmt.Errorf("quarantine unit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("quarantine unit: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresUnitStore) ExpireStale(ctx context.Context, today time.Time) ([]domain.UnitID, error) {
	query := `
		UPDATE blood_units
		SET status = 'Expired', updated_at = $1
		WHERE expiration_date < $2 AND status IN ('Available', 'Reserved')
		RETURNING unit_id
	`
	rows, err := s.db.QueryContext(ctx, query, s.clock(), today)
	if err != nil {
		return nil, fmt.Errorf("expire stale units: %w", err)
	}
	defer rows.Close()

	var expired []domain.UnitID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan expired unit id: %w", err)
		}
		expired = append(expired, domain.UnitID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired unit ids: %w", err)
	}
	return expired, nil
}

func (s *PostgresUnitStore) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.BloodUnit, error) {
	query := `
		SELECT ` + unitColumns + `
		FROM blood_units
		WHERE status = 'Available' AND expiration_date < $1
		ORDER BY expiration_date ASC, unit_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring units: %w", err)
	}
	defer rows.Close()

	var expiring []*models.BloodUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expiring unit: %w", err)
		}
		expiring = append(expiring, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expiring units: %w", err)
	}
	return expiring, nil
}

func (s *PostgresUnitStore) CountAvailable(ctx context.Context) (map[models.StockKey]int, error) {
	query := `
		SELECT blood_bank, blood_group, COUNT(*)
		FROM blood_units
		WHERE status = 'Available' AND test_status = 'Cleared'
		GROUP BY blood_bank, blood_group
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count available units: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.StockKey]int)
	for rows.Next() {
		var bank, group string
		var count int
		if err := rows.Scan(&bank, &group, &count); err != nil {
			return nil, fmt.Errorf("scan stock count: %w", err)
		}
		counts[models.StockKey{BloodBank: bank, Group: domain.BloodGroup(group)}] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*models.BloodUnit, error) {
	var (
		unit     models.BloodUnit
		unitID   uuid.UUID
		group    string
		comp     string
		status   string
		test     string
		location sql.NullString
		donorID  uuid.NullUUID
	)
	err := row.Scan(&unitID, &unit.BloodBank, &group, &comp, &unit.Quantity,
		&unit.CollectionDate, &unit.ExpirationDate, &status, &test, &location,
		&donorID, &unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		return nil, err
	}
	unit.ID = domain.UnitID(unitID)
	unit.Group = domain.BloodGroup(group)
	unit.Component = domain.Component(comp)
	unit.Status = models.UnitStatus(status)
	unit.TestStatus = models.TestStatus(test)
	unit.StorageLocation = location.String
	if donorID.Valid {
		unit.DonorID = domain.DonorID(donorID.UUID)
	}
	return &unit, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}
