//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bloodledger/internal/transfer/models"
	"bloodledger/internal/transfer/store"
	"bloodledger/internal/transfer/store/postgres"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
	"bloodledger/pkg/platform/sentinel"
	"bloodledger/pkg/testutil/containers"
)

type RequestStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.PostgresStore
	ctx      context.Context
	now      time.Time
}

func TestRequestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RequestStoreSuite))
}

func (s *RequestStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *RequestStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "transfer_requests"))
}

func (s *RequestStoreSuite) newRequest(code string, destination domain.HospitalID, units int) *models.TransferRequest {
	r, err := models.NewTransferRequest(
		domain.RequestRecordID(uuid.New()), code, destination,
		domain.BloodGroupOPos, domain.ComponentRBC, units,
		nil, "", uuid.New(), s.now)
	s.Require().NoError(err)
	return r
}

// TestCreateUniqueCode verifies the code unique index surfaces collisions.
func (s *RequestStoreSuite) TestCreateUniqueCode() {
	dest := domain.HospitalID(uuid.New())

	r := s.newRequest("#REQ1001", dest, 5)
	s.Require().NoError(s.store.Create(s.ctx, r))

	dup := s.newRequest("#REQ1001", dest, 8)
	s.Require().ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrAlreadyExists)

	got, err := s.store.GetByCode(s.ctx, "#REQ1001")
	s.Require().NoError(err)
	s.Equal(r.ID, got.ID)
	s.Equal(5, got.Units)
}

// TestRoundTrip verifies nullable columns survive a full lifecycle.
func (s *RequestStoreSuite) TestRoundTrip() {
	preferred := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	r, err := models.NewTransferRequest(
		domain.RequestRecordID(uuid.New()), "#REQ2001", domain.HospitalID(uuid.New()),
		domain.BloodGroupABNeg, domain.ComponentPlatelets, 4,
		&preferred, "icu restock", uuid.New(), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, r))

	stored, err := s.store.GetByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.True(stored.SourceHospitalID.IsZero())
	s.Require().NotNil(stored.PreferredDate)
	s.True(stored.PreferredDate.Equal(preferred))
	s.Equal("icu restock", stored.Note)
	s.Nil(stored.ApprovedAt)

	source := domain.HospitalID(uuid.New())
	approver := uuid.New()
	stored.ApplyApproval(source, approver, s.now.Add(time.Hour))
	s.Require().NoError(s.store.Update(s.ctx, stored))

	again, err := s.store.GetByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, again.Status)
	s.Equal(source, again.SourceHospitalID)
	s.Equal(approver, *again.ApprovedBy)
	s.Require().NotNil(again.ApprovedAt)
	s.EqualValues(2, again.Version)
}

// TestConcurrentTransition verifies racing writers from the same snapshot
// commit at most once.
func (s *RequestStoreSuite) TestConcurrentTransition() {
	r := s.newRequest("#REQ3001", domain.HospitalID(uuid.New()), 10)
	s.Require().NoError(s.store.Create(s.ctx, r))

	const goroutines = 20
	var wg sync.WaitGroup
	var successes, conflicts atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := r.Clone()
			snap.ApplyApproval(domain.HospitalID(uuid.New()), uuid.New(), s.now)
			switch err := s.store.Update(s.ctx, snap); {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrVersionMismatch):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.EqualValues(1, successes.Load())
	s.EqualValues(goroutines-1, conflicts.Load())
}

// TestExecuteSerializes verifies the row-lock callback admits exactly one
// state transition under contention.
func (s *RequestStoreSuite) TestExecuteSerializes() {
	r := s.newRequest("#REQ4001", domain.HospitalID(uuid.New()), 10)
	source := domain.HospitalID(uuid.New())
	r.ApplyApproval(source, uuid.New(), s.now)
	s.Require().NoError(s.store.Create(s.ctx, r))
	s.Require().NoError(s.store.Update(s.ctx, r))

	const goroutines = 10
	var wg sync.WaitGroup
	var fulfilled, conflicted atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, r.ID,
				func(req *models.TransferRequest) error { return req.CanFulfill() },
				func(req *models.TransferRequest) { req.ApplyFulfillment(uuid.New(), s.now) })
			switch {
			case err == nil:
				fulfilled.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicted.Add(1)
			}
		}()
	}
	wg.Wait()

	s.EqualValues(1, fulfilled.Load())
	s.EqualValues(goroutines-1, conflicted.Load())

	stored, err := s.store.GetByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFulfilled, stored.Status)
}

// TestListing verifies involvement scoping and filters against real SQL.
func (s *RequestStoreSuite) TestListing() {
	hospitalA := domain.HospitalID(uuid.New())
	hospitalB := domain.HospitalID(uuid.New())

	first := s.newRequest("#REQ5001", hospitalA, 3)
	s.Require().NoError(s.store.Create(s.ctx, first))
	second := s.newRequest("#REQ5002", hospitalA, 7)
	s.Require().NoError(s.store.Create(s.ctx, second))
	third := s.newRequest("#REQ5003", hospitalB, 5)
	s.Require().NoError(s.store.Create(s.ctx, third))

	first.ApplyApproval(hospitalB, uuid.New(), s.now)
	s.Require().NoError(s.store.Update(s.ctx, first))

	s.Run("involved hospital matches either side", func() {
		rows, total, err := s.store.List(s.ctx, store.Filter{InvolvedHospital: &hospitalB}, store.Page{Number: 1, Size: 10, Sort: "created_at"})
		s.Require().NoError(err)
		s.Equal(2, total)
		s.Len(rows, 2)
	})

	s.Run("filters by status", func() {
		pending := models.StatusPending
		_, total, err := s.store.List(s.ctx, store.Filter{Status: &pending}, store.Page{Number: 1, Size: 10})
		s.Require().NoError(err)
		s.Equal(2, total)
	})

	s.Run("sorts by units descending", func() {
		rows, _, err := s.store.List(s.ctx, store.Filter{}, store.Page{Number: 1, Size: 10, Sort: "-units"})
		s.Require().NoError(err)
		s.Equal(7, rows[0].Units)
	})
}

func (s *RequestStoreSuite) TestDeleteFreesCode() {
	r := s.newRequest("#REQ6001", domain.HospitalID(uuid.New()), 2)
	s.Require().NoError(s.store.Create(s.ctx, r))

	s.Require().NoError(s.store.Delete(s.ctx, r.ID))
	_, err := s.store.GetByID(s.ctx, r.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	recreated := s.newRequest("#REQ6001", domain.HospitalID(uuid.New()), 4)
	s.Require().NoError(s.store.Create(s.ctx, recreated))
}
