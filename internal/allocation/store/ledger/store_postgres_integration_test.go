//go:build integration

package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bloodbank/internal/allocation/models"
	"bloodbank/internal/allocation/ports"
	"bloodbank/internal/allocation/store/ledger"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
	"bloodbank/pkg/testutil/containers"
)

var day0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type PostgresLedgerStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ledger.PostgresLedgerStore
}

func TestPostgresLedgerStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerStoreSuite))
}

func (s *PostgresLedgerStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = ledger.NewPostgres(s.postgres.DB)
}

func (s *PostgresLedgerStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "blood_requests", "allocations")
	s.Require().NoError(err)
}

func (s *PostgresLedgerStoreSuite) newRequest(required int) *models.Request {
	return &models.Request{
		ID:            domain.NewRequestID(),
		Group:         domain.GroupAPos,
		Component:     domain.ComponentWholeBlood,
		RequiredUnits: required,
		Urgency:       models.UrgencyMedium,
		Status:        models.RequestPending,
		CreatedAt:     day0,
	}
}

func (s *PostgresLedgerStoreSuite) TestFinalizeAtomicity() {
	ctx := context.Background()
	request := s.newRequest(2)
	s.Require().NoError(s.store.CreateRequest(ctx, request))

	unitIDs := []domain.UnitID{domain.NewUnitID(), domain.NewUnitID()}
	err := s.store.Finalize(ctx, ports.FinalizeParams{
		RequestID: request.ID,
		Status:    models.RequestFulfilled,
		UnitIDs:   unitIDs,
		Now:       day0,
	})
	s.Require().NoError(err)

	got, err := s.store.GetRequest(ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestFulfilled, got.Status)
	s.Equal(2, got.FulfilledUnits)
	s.Require().NotNil(got.FulfilledAt)

	active, err := s.store.ActiveAllocations(ctx, request.ID)
	s.Require().NoError(err)
	s.Len(active, 2)
}

func (s *PostgresLedgerStoreSuite) TestFinalizeUnknownRequestWritesNothing() {
	ctx := context.Background()

	err := s.store.Finalize(ctx, ports.FinalizeParams{
		RequestID: domain.NewRequestID(),
		Status:    models.RequestFulfilled,
		UnitIDs:   []domain.UnitID{domain.NewUnitID()},
		Now:       day0,
	})
	s.Require().Error(err)

	var count int
	row := s.postgres.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM allocations")
	s.Require().NoError(row.Scan(&count))
	s.Equal(0, count, "no allocation rows survive a failed finalize")
}

func (s *PostgresLedgerStoreSuite) TestCancelRequestReleasesActiveUnits() {
	ctx := context.Background()
	request := s.newRequest(3)
	s.Require().NoError(s.store.CreateRequest(ctx, request))

	unitIDs := []domain.UnitID{domain.NewUnitID(), domain.NewUnitID()}
	s.Require().NoError(s.store.Finalize(ctx, ports.FinalizeParams{
		RequestID: request.ID,
		Status:    models.RequestPartiallyFulfilled,
		UnitIDs:   unitIDs,
		Now:       day0,
	}))

	released, err := s.store.CancelRequest(ctx, request.ID)
	s.Require().NoError(err)
	s.ElementsMatch(unitIDs, released)

	got, err := s.store.GetRequest(ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestCancelled, got.Status)

	active, err := s.store.ActiveAllocations(ctx, request.ID)
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *PostgresLedgerStoreSuite) TestCancelClosedRequest() {
	ctx := context.Background()
	request := s.newRequest(1)
	s.Require().NoError(s.store.CreateRequest(ctx, request))
	s.Require().NoError(s.store.Finalize(ctx, ports.FinalizeParams{
		RequestID: request.ID,
		Status:    models.RequestFulfilled,
		UnitIDs:   []domain.UnitID{domain.NewUnitID()},
		Now:       day0,
	}))

	_, err := s.store.CancelRequest(ctx, request.ID)
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresLedgerStoreSuite) TestListOpenOrdering() {
	ctx := context.Background()

	second := s.newRequest(1)
	second.CreatedAt = day0.Add(time.Hour)
	first := s.newRequest(1)
	s.Require().NoError(s.store.CreateRequest(ctx, second))
	s.Require().NoError(s.store.CreateRequest(ctx, first))

	closed := s.newRequest(1)
	s.Require().NoError(s.store.CreateRequest(ctx, closed))
	s.Require().NoError(s.store.Finalize(ctx, ports.FinalizeParams{
		RequestID: closed.ID,
		Status:    models.RequestFulfilled,
		UnitIDs:   []domain.UnitID{domain.NewUnitID()},
		Now:       day0,
	}))

	open, err := s.store.ListOpen(ctx)
	s.Require().NoError(err)
	s.Require().Len(open, 2)
	s.Equal(first.ID, open[0].ID)
	s.Equal(second.ID, open[1].ID)
}
