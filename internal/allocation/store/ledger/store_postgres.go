package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bloodbank/internal/allocation/models"
	"bloodbank/internal/allocation/ports"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
)

// PostgresLedgerStore persists requests and allocations in PostgreSQL.
// Finalize and CancelRequest run inside a single transaction so the unit
// status change made by the caller and the ledger rows land together.
type PostgresLedgerStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

const requestColumns = `request_id, blood_group, component, required_units,
	fulfilled_units, urgency, priority, status, blood_bank, created_at,
	fulfilled_at`

func (s *PostgresLedgerStore) CreateRequest(ctx context.Context, request *models.Request) error {
	query := `
		INSERT INTO blood_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(request.ID), request.Group.String(), request.Component.String(),
		request.RequiredUnits, request.FulfilledUnits, string(request.Urgency),
		request.Priority, string(request.Status), nullString(request.BloodBank),
		request.CreatedAt, nullTimePtr(request.FulfilledAt),
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *PostgresLedgerStore) GetRequest(ctx context.Context, requestID domain.RequestID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM blood_requests WHERE request_id = $1`
	request, err := scanRequest(s.db.QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return request, nil
}

func (s *PostgresLedgerStore) ListOpen(ctx context.Context) ([]*models.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM blood_requests
		WHERE status IN ('Pending', 'Processing', 'Partially_Fulfilled')
		ORDER BY created_at ASC, request_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open requests: %w", err)
	}
	defer rows.Close()

	var open []*models.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan open request: %w", err)
		}
		open = append(open, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open requests: %w", err)
	}
	return open, nil
}

func (s *PostgresLedgerStore) Finalize(ctx context.Context, params ports.FinalizeParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer tx.Rollback()

	for _, unitID := range params.UnitIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO allocations (allocation_id, request_id, unit_id, allocated_at, delivery_status)
			VALUES ($1, $2, $3, $4, 'Pending')
		`, uuid.New(), uuid.UUID(params.RequestID), uuid.UUID(unitID), params.Now)
		if err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE blood_requests
		SET status = $1,
		    fulfilled_units = fulfilled_units + $2,
		    fulfilled_at = CASE WHEN $1 = 'Fulfilled' THEN $3 ELSE fulfilled_at END
		WHERE request_id = $4
	`, string(params.Status), len(params.UnitIDs), params.Now, uuid.UUID(params.RequestID))
	if err != nil {
		return fmt.Errorf("update request on finalize: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

func (s *PostgresLedgerStore) ActiveAllocations(ctx context.Context, requestID domain.RequestID) ([]*models.Allocation, error) {
	query := `
		SELECT allocation_id, request_id, unit_id, allocated_at, delivery_status
		FROM allocations
		WHERE request_id = $1 AND delivery_status IN ('Pending', 'In_Transit')
		ORDER BY allocated_at ASC, allocation_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("list active allocations: %w", err)
	}
	defer rows.Close()

	var active []*models.Allocation
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		active = append(active, alloc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return active, nil
}

func (s *PostgresLedgerStore) GetAllocation(ctx context.Context, allocationID domain.AllocationID) (*models.Allocation, error) {
	query := `
		SELECT allocation_id, request_id, unit_id, allocated_at, delivery_status
		FROM allocations WHERE allocation_id = $1
	`
	alloc, err := scanAllocation(s.db.QueryRowContext(ctx, query, uuid.UUID(allocationID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get allocation: %w", err)
	}
	return alloc, nil
}

func (s *PostgresLedgerStore) SetDeliveryStatus(ctx context.Context, allocationID domain.AllocationID, from, to models.DeliveryStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE allocations SET delivery_status = $1
		WHERE allocation_id = $2 AND delivery_status = $3
	`, string(to), uuid.UUID(allocationID), string(from))
	if err != nil {
		return fmt.Errorf("set delivery status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set delivery status: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresLedgerStore) CancelRequest(ctx context.Context, requestID domain.RequestID) ([]domain.UnitID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE blood_requests SET status = 'Cancelled'
		WHERE request_id = $1 AND status IN ('Pending', 'Processing', 'Partially_Fulfilled')
	`, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("cancel request: rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		probe := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM blood_requests WHERE request_id = $1)`, uuid.UUID(requestID))
		if err := probe.Scan(&exists); err != nil {
			return nil, fmt.Errorf("probe request: %w", err)
		}
		if !exists {
			return nil, sentinel.ErrNotFound
		}
		return nil, sentinel.ErrInvalidState
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE allocations SET delivery_status = 'Cancelled'
		WHERE request_id = $1 AND delivery_status IN ('Pending', 'In_Transit')
		RETURNING unit_id
	`, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("cancel allocations: %w", err)
	}
	defer rows.Close()

	var released []domain.UnitID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan released unit id: %w", err)
		}
		released = append(released, domain.UnitID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate released unit ids: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}
	return released, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var (
		request   models.Request
		requestID uuid.UUID
		group     string
		comp      string
		urgency   string
		status    string
		bank      sql.NullString
		fulfilled sql.NullTime
	)
	err := row.Scan(&requestID, &group, &comp, &request.RequiredUnits,
		&request.FulfilledUnits, &urgency, &request.Priority, &status,
		&bank, &request.CreatedAt, &fulfilled)
	if err != nil {
		return nil, err
	}
	request.ID = domain.RequestID(requestID)
	request.Group = domain.BloodGroup(group)
	request.Component = domain.Component(comp)
	request.Urgency = models.Urgency(urgency)
	request.Status = models.RequestStatus(status)
	request.BloodBank = bank.String
	if fulfilled.Valid {
		request.FulfilledAt = &fulfilled.Time
	}
	return &request, nil
}

func scanAllocation(row rowScanner) (*models.Allocation, error) {
	var (
		alloc    models.Allocation
		allocID  uuid.UUID
		reqID    uuid.UUID
		unitID   uuid.UUID
		delivery string
	)
	if err := row.Scan(&allocID, &reqID, &unitID, &alloc.AllocatedAt, &delivery); err != nil {
		return nil, err
	}
	alloc.ID = domain.AllocationID(allocID)
	alloc.RequestID = domain.RequestID(reqID)
	alloc.UnitID = domain.UnitID(unitID)
	alloc.DeliveryStatus = models.DeliveryStatus(delivery)
	return &alloc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
