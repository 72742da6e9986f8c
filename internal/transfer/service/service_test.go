package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"bloodledger/internal/hospital"
	invmodels "bloodledger/internal/inventory/models"
	invmemory "bloodledger/internal/inventory/store/memory"
	"bloodledger/internal/transfer/models"
	"bloodledger/internal/transfer/store"
	"bloodledger/internal/transfer/store/memory"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
	"bloodledger/pkg/platform/audit"
	auditmemory "bloodledger/pkg/platform/audit/store/memory"
	"bloodledger/pkg/platform/tx"
	"bloodledger/pkg/requestcontext"
)

type TransferServiceSuite struct {
	suite.Suite
	svc       *Service
	requests  *memory.InMemory
	ledgers   *invmemory.InMemory
	trail     *auditmemory.InMemoryStore
	directory *hospital.InMemory

	// destination asks, source supplies
	destination domain.HospitalID
	source      domain.HospitalID
	now         time.Time
}

func TestTransferServiceSuite(t *testing.T) {
	suite.Run(t, new(TransferServiceSuite))
}

func (s *TransferServiceSuite) SetupTest() {
	s.requests = memory.NewInMemory()
	s.ledgers = invmemory.NewInMemory()
	s.trail = auditmemory.NewInMemoryStore()
	s.destination = domain.HospitalID(uuid.New())
	s.source = domain.HospitalID(uuid.New())
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s.directory = hospital.NewInMemory(
		hospital.Hospital{ID: s.destination, Name: "General"},
		hospital.Hospital{ID: s.source, Name: "Mercy"},
	)
	s.svc = New(s.requests, s.ledgers, s.directory, tx.NewMemoryRunner(),
		WithAudit(audit.NewPublisher(s.trail)))
}

func invBatch(units int, expiresAt time.Time) invmodels.Batch {
	return invmodels.Batch{
		ID:          domain.BatchID(uuid.New()),
		Units:       units,
		CollectedAt: expiresAt.AddDate(0, 0, -42),
		ExpiresAt:   expiresAt,
	}
}

func (s *TransferServiceSuite) ctxFor(actor domain.Actor) context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	return requestcontext.WithActor(ctx, actor)
}

func (s *TransferServiceSuite) asHospital(id domain.HospitalID) context.Context {
	return s.ctxFor(domain.Actor{Role: domain.RoleHospital, ID: uuid.New(), HospitalID: id})
}

func (s *TransferServiceSuite) asAdmin() context.Context {
	return s.ctxFor(domain.Actor{Role: domain.RoleAdmin, ID: uuid.New()})
}

// stockSource seeds the source hospital's O+ red cell ledger.
func (s *TransferServiceSuite) stockSource(units int, expiresAt time.Time) {
	ledger, err := s.ledgers.FindOrCreate(context.Background(), s.source, domain.BloodGroupOPos, domain.ComponentRBC)
	s.Require().NoError(err)
	ledger.AddBatch(invBatch(units, expiresAt))
	s.Require().NoError(s.ledgers.Update(requestcontext.WithTime(context.Background(), s.now), ledger))
}

func (s *TransferServiceSuite) createRequest(units int) *models.TransferRequest {
	r, err := s.svc.Create(s.asHospital(s.destination), CreateInput{
		BloodGroup: domain.BloodGroupOPos,
		Component:  domain.ComponentRBC,
		Units:      units,
	})
	s.Require().NoError(err)
	return r
}

func (s *TransferServiceSuite) approve(r *models.TransferRequest) *models.TransferRequest {
	approved, err := s.svc.Approve(s.asHospital(s.source), r.ID, s.source)
	s.Require().NoError(err)
	return approved
}

func (s *TransferServiceSuite) TestCreate() {
	s.Run("hospital requests for itself", func() {
		r := s.createRequest(5)
		s.Equal(s.destination, r.DestinationHospitalID)
		s.True(r.SourceHospitalID.IsZero())
		s.Equal(models.StatusPending, r.Status)
		s.True(domain.IsRequestCode(r.Code))

		events, err := s.trail.ListByRequest(context.Background(), r.ID)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventTransferRequested), events[0].Action)
	})

	s.Run("admin must name the destination", func() {
		_, err := s.svc.Create(s.asAdmin(), CreateInput{
			BloodGroup: domain.BloodGroupOPos,
			Component:  domain.ComponentRBC,
			Units:      3,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		r, err := s.svc.Create(s.asAdmin(), CreateInput{
			DestinationHospitalID: s.destination,
			BloodGroup:            domain.BloodGroupOPos,
			Component:             domain.ComponentRBC,
			Units:                 3,
		})
		s.Require().NoError(err)
		s.Equal(s.destination, r.DestinationHospitalID)
	})

	s.Run("hospital cannot request for another hospital", func() {
		_, err := s.svc.Create(s.asHospital(s.destination), CreateInput{
			DestinationHospitalID: s.source,
			BloodGroup:            domain.BloodGroupOPos,
			Component:             domain.ComponentRBC,
			Units:                 3,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("donor role is rejected", func() {
		_, err := s.svc.Create(s.ctxFor(domain.Actor{Role: domain.RoleDonor, ID: uuid.New()}), CreateInput{
			BloodGroup: domain.BloodGroupOPos,
			Component:  domain.ComponentRBC,
			Units:      3,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown hospital is not found", func() {
		_, err := s.svc.Create(s.asAdmin(), CreateInput{
			DestinationHospitalID: domain.HospitalID(uuid.New()),
			BloodGroup:            domain.BloodGroupOPos,
			Component:             domain.ComponentRBC,
			Units:                 3,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("zero units fail validation", func() {
		_, err := s.svc.Create(s.asHospital(s.destination), CreateInput{
			BloodGroup: domain.BloodGroupOPos,
			Component:  domain.ComponentRBC,
			Units:      0,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *TransferServiceSuite) TestListScoping() {
	r := s.createRequest(5)

	s.Run("destination sees its request", func() {
		rows, total, err := s.svc.List(s.asHospital(s.destination), store.Filter{}, store.Page{})
		s.Require().NoError(err)
		s.Equal(1, total)
		s.Equal(r.ID, rows[0].ID)
	})

	s.Run("unbound source sees nothing yet", func() {
		_, total, err := s.svc.List(s.asHospital(s.source), store.Filter{}, store.Page{})
		s.Require().NoError(err)
		s.Zero(total)
	})

	s.Run("source sees the request once approval binds it", func() {
		s.stockSource(20, s.now.AddDate(0, 0, 30))
		s.approve(r)
		_, total, err := s.svc.List(s.asHospital(s.source), store.Filter{}, store.Page{})
		s.Require().NoError(err)
		s.Equal(1, total)
	})

	s.Run("admin sees everything", func() {
		_, total, err := s.svc.List(s.asAdmin(), store.Filter{}, store.Page{})
		s.Require().NoError(err)
		s.Equal(1, total)
	})

	s.Run("donor role is rejected", func() {
		_, _, err := s.svc.List(s.ctxFor(domain.Actor{Role: domain.RoleDonor}), store.Filter{}, store.Page{})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *TransferServiceSuite) TestGet() {
	r := s.createRequest(5)

	got, err := s.svc.Get(s.asHospital(s.destination), r.ID)
	s.Require().NoError(err)
	s.Equal(r.Code, got.Code)

	_, err = s.svc.Get(s.asHospital(s.source), r.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.Get(s.asAdmin(), domain.RequestRecordID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *TransferServiceSuite) TestApprove() {
	s.Run("source hospital approves and is bound", func() {
		s.stockSource(20, s.now.AddDate(0, 0, 30))
		r := s.createRequest(15)

		approved := s.approve(r)
		s.Equal(models.StatusApproved, approved.Status)
		s.Equal(s.source, approved.SourceHospitalID)

		events, err := s.trail.ListByRequest(context.Background(), r.ID)
		s.Require().NoError(err)
		s.Equal(string(audit.EventTransferApproved), events[len(events)-1].Action)
	})

	s.Run("approval does not move stock", func() {
		ledger, err := s.ledgers.GetByKey(context.Background(), s.source, domain.BloodGroupOPos, domain.ComponentRBC)
		s.Require().NoError(err)
		s.Equal(20, ledger.TotalUnits())
	})

	s.Run("insufficient stock blocks approval with counts", func() {
		r := s.createRequest(25)
		_, err := s.svc.Approve(s.asHospital(s.source), r.ID, s.source)
		s.Require().True(dErrors.HasCode(err, dErrors.CodeInsufficientStock))
		s.Contains(err.Error(), "have 20, need 25")

		stored, err := s.svc.Get(s.asAdmin(), r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, stored.Status)
	})

	s.Run("another hospital cannot approve for the source", func() {
		r := s.createRequest(1)
		_, err := s.svc.Approve(s.asHospital(s.destination), r.ID, s.source)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("source equal to destination fails validation", func() {
		r := s.createRequest(1)
		_, err := s.svc.Approve(s.asAdmin(), r.ID, s.destination)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("re-approving with the same source is a no-op", func() {
		r := s.createRequest(2)
		first := s.approve(r)
		second, err := s.svc.Approve(s.asHospital(s.source), r.ID, s.source)
		s.Require().NoError(err)
		s.Equal(first.Version, second.Version)
	})

	s.Run("approving with a different source conflicts", func() {
		third := domain.HospitalID(uuid.New())
		s.directory.Add(hospital.Hospital{ID: third, Name: "St. Jude"})

		r := s.createRequest(2)
		s.approve(r)
		_, err := s.svc.Approve(s.asHospital(third), r.ID, third)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *TransferServiceSuite) TestReject() {
	s.Run("destination rejects a pending request", func() {
		r := s.createRequest(5)
		rejected, err := s.svc.Reject(s.asHospital(s.destination), r.ID, "sourced locally")
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, rejected.Status)
		s.Equal("sourced locally", rejected.Note)
	})

	s.Run("source rejects an approved request", func() {
		s.stockSource(20, s.now.AddDate(0, 0, 30))
		r := s.createRequest(5)
		s.approve(r)
		rejected, err := s.svc.Reject(s.asHospital(s.source), r.ID, "stock reserved for surgery")
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, rejected.Status)
	})

	s.Run("re-rejecting is a no-op", func() {
		r := s.createRequest(5)
		_, err := s.svc.Reject(s.asAdmin(), r.ID, "first")
		s.Require().NoError(err)
		again, err := s.svc.Reject(s.asAdmin(), r.ID, "second")
		s.Require().NoError(err)
		s.Equal("first", again.Note)
	})

	s.Run("uninvolved hospital cannot reject", func() {
		r := s.createRequest(5)
		_, err := s.svc.Reject(s.asHospital(s.source), r.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *TransferServiceSuite) TestCancel() {
	s.Run("destination cancels a pending request", func() {
		r := s.createRequest(5)
		cancelled, err := s.svc.Cancel(s.asHospital(s.destination), r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, cancelled.Status)
	})

	s.Run("source cannot cancel", func() {
		s.stockSource(20, s.now.AddDate(0, 0, 30))
		r := s.createRequest(5)
		s.approve(r)
		_, err := s.svc.Cancel(s.asHospital(s.source), r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("approved requests cannot be cancelled", func() {
		r := s.createRequest(5)
		s.approve(r)
		_, err := s.svc.Cancel(s.asHospital(s.destination), r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("re-cancelling is a no-op", func() {
		r := s.createRequest(5)
		_, err := s.svc.Cancel(s.asAdmin(), r.ID)
		s.Require().NoError(err)
		_, err = s.svc.Cancel(s.asAdmin(), r.ID)
		s.Require().NoError(err)
	})
}

func (s *TransferServiceSuite) TestFulfill() {
	expiry := s.now.AddDate(0, 0, 30)

	s.Run("moves units with their expiry and marks fulfilled", func() {
		s.stockSource(20, expiry)
		r := s.createRequest(15)
		s.approve(r)

		fulfilled, err := s.svc.Fulfill(s.asHospital(s.source), r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusFulfilled, fulfilled.Status)

		src, err := s.ledgers.GetByKey(context.Background(), s.source, domain.BloodGroupOPos, domain.ComponentRBC)
		s.Require().NoError(err)
		s.Equal(5, src.TotalUnits())

		dst, err := s.ledgers.GetByKey(context.Background(), s.destination, domain.BloodGroupOPos, domain.ComponentRBC)
		s.Require().NoError(err)
		s.Equal(15, dst.TotalUnits())
		s.Require().Len(dst.Batches, 1)
		s.True(dst.Batches[0].ExpiresAt.Equal(expiry))
		s.Contains(dst.Batches[0].Note, r.Code)

		events, err := s.trail.ListByRequest(context.Background(), r.ID)
		s.Require().NoError(err)
		last := events[len(events)-1]
		s.Equal(string(audit.EventTransferFulfilled), last.Action)
		s.Equal(15, last.Units)
	})

	s.Run("consumes earliest expiry first across batches", func() {
		soon := s.now.AddDate(0, 0, 3)
		later := s.now.AddDate(0, 0, 40)
		s.stockSource(4, later)
		s.stockSource(6, soon)

		r := s.createRequest(8)
		s.approve(r)
		_, err := s.svc.Fulfill(s.asHospital(s.source), r.ID)
		s.Require().NoError(err)

		src, err := s.ledgers.GetByKey(context.Background(), s.source, domain.BloodGroupOPos, domain.ComponentRBC)
		s.Require().NoError(err)
		s.Equal(2, src.TotalUnits())
		// the soon-expiring batch was drained first; the remainder expires later
		s.Require().Len(src.Batches, 1)
		s.True(src.Batches[0].ExpiresAt.Equal(later))

		dst, err := s.ledgers.GetByKey(context.Background(), s.destination, domain.BloodGroupOPos, domain.ComponentRBC)
		s.Require().NoError(err)
		s.Equal(8, dst.TotalUnits())
	})

	s.Run("shortage at fulfillment is authoritative", func() {
		s.stockSource(10, expiry)
		r := s.createRequest(10)
		s.approve(r)

		// stock drains between approval and fulfillment
		ledger, err := s.ledgers.GetByKey(context.Background(), s.source, domain.BloodGroupOPos, domain.ComponentRBC)
		s.Require().NoError(err)
		_, shortage := invmodels.Allocate(ledger, 8)
		s.Require().Zero(shortage)
		s.Require().NoError(s.ledgers.Update(requestcontext.WithTime(context.Background(), s.now), ledger))

		_, err = s.svc.Fulfill(s.asHospital(s.source), r.ID)
		s.Require().True(dErrors.HasCode(err, dErrors.CodeInsufficientStock))

		stored, err := s.svc.Get(s.asAdmin(), r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, stored.Status)
	})

	s.Run("destination cannot fulfill", func() {
		s.stockSource(20, expiry)
		r := s.createRequest(1)
		s.approve(r)
		_, err := s.svc.Fulfill(s.asHospital(s.destination), r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("pending requests cannot be fulfilled", func() {
		r := s.createRequest(1)
		_, err := s.svc.Fulfill(s.asAdmin(), r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("refulfilling conflicts and moves nothing twice", func() {
		s.stockSource(10, expiry)
		r := s.createRequest(4)
		s.approve(r)
		_, err := s.svc.Fulfill(s.asHospital(s.source), r.ID)
		s.Require().NoError(err)

		before, err := s.ledgers.GetByKey(context.Background(), s.destination, domain.BloodGroupOPos, domain.ComponentRBC)
		s.Require().NoError(err)

		_, err = s.svc.Fulfill(s.asHospital(s.source), r.ID)
		s.Require().True(dErrors.HasCode(err, dErrors.CodeConflict))

		after, err := s.ledgers.GetByKey(context.Background(), s.destination, domain.BloodGroupOPos, domain.ComponentRBC)
		s.Require().NoError(err)
		s.Equal(before.TotalUnits(), after.TotalUnits())
	})
}

// TestConcurrentFulfill verifies exactly one racing fulfiller wins.
func (s *TransferServiceSuite) TestConcurrentFulfill() {
	s.stockSource(20, s.now.AddDate(0, 0, 30))
	r := s.createRequest(15)
	s.approve(r)

	const racers = 10
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Fulfill(s.asHospital(s.source), r.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case dErrors.HasCode(err, dErrors.CodeConflict):
			conflicts++
		}
	}
	s.Equal(1, wins)
	s.Equal(racers-1, conflicts)

	// units moved exactly once
	src, err := s.ledgers.GetByKey(context.Background(), s.source, domain.BloodGroupOPos, domain.ComponentRBC)
	s.Require().NoError(err)
	s.Equal(5, src.TotalUnits())
	dst, err := s.ledgers.GetByKey(context.Background(), s.destination, domain.BloodGroupOPos, domain.ComponentRBC)
	s.Require().NoError(err)
	s.Equal(15, dst.TotalUnits())
}

// interleavingStore wraps the request store and runs a hook on the first
// GetByID after arming, so a test can inject a competing transition while a
// fulfillment is between its read and its final write.
type interleavingStore struct {
	*memory.InMemory
	armed  atomic.Bool
	once   sync.Once
	onRead func()
}

func (s *interleavingStore) GetByID(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error) {
	if s.armed.Load() {
		s.once.Do(s.onRead)
	}
	return s.InMemory.GetByID(ctx, id)
}

// TestRejectDuringFulfillmentIsSerialized pins the transactional boundary of
// the whole workflow: a rejection issued mid-fulfillment must wait for the
// fulfillment to commit, then fail on the Fulfilled status. It must never
// land in between, which would leave the request Rejected with the stock
// already moved.
func (s *TransferServiceSuite) TestRejectDuringFulfillmentIsSerialized() {
	wrapped := &interleavingStore{InMemory: s.requests}
	svc := New(wrapped, s.ledgers, s.directory, tx.NewMemoryRunner(),
		WithAudit(audit.NewPublisher(s.trail)))

	s.stockSource(20, s.now.AddDate(0, 0, 30))
	r := s.createRequest(15)
	s.approve(r)

	rejectErr := make(chan error, 1)
	wrapped.onRead = func() {
		go func() {
			_, err := svc.Reject(s.asHospital(s.destination), r.ID, "sourced locally")
			rejectErr <- err
		}()
		// let the rejection reach the boundary and block on it
		time.Sleep(50 * time.Millisecond)
	}
	wrapped.armed.Store(true)

	fulfilled, err := svc.Fulfill(s.asHospital(s.source), r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFulfilled, fulfilled.Status)

	err = <-rejectErr
	s.Require().True(dErrors.HasCode(err, dErrors.CodeConflict))

	stored, err := svc.Get(s.asAdmin(), r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusFulfilled, stored.Status)

	src, err := s.ledgers.GetByKey(context.Background(), s.source, domain.BloodGroupOPos, domain.ComponentRBC)
	s.Require().NoError(err)
	s.Equal(5, src.TotalUnits())
	dst, err := s.ledgers.GetByKey(context.Background(), s.destination, domain.BloodGroupOPos, domain.ComponentRBC)
	s.Require().NoError(err)
	s.Equal(15, dst.TotalUnits())
}

func (s *TransferServiceSuite) TestDelete() {
	r := s.createRequest(5)

	s.Run("hospitals cannot delete", func() {
		err := s.svc.Delete(s.asHospital(s.destination), r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("admin deletes in any status", func() {
		s.Require().NoError(s.svc.Delete(s.asAdmin(), r.ID))
		_, err := s.svc.Get(s.asAdmin(), r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
