package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/internal/events"
	"foodlink/internal/events/mocks"
	"foodlink/internal/matching/metrics"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

// flakyNotifications fails Merge while down is set.
type flakyNotifications struct {
	*store.Notifications
	down atomic.Bool
}

func (f *flakyNotifications) Merge(ctx context.Context, n *models.DonorNotification) (*models.DonorNotification, error) {
	if f.down.Load() {
		return nil, errors.New("store: unavailable")
	}
	return f.Notifications.Merge(ctx, n)
}

// flakyRequests fails the next failReleases calls to Release.
type flakyRequests struct {
	*store.Requests
	failReleases atomic.Int32
}

func (f *flakyRequests) Release(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID, ifVersion int64) (*models.RecipientRequest, error) {
	if f.failReleases.Add(-1) >= 0 {
		return nil, errors.New("store: unavailable")
	}
	return f.Requests.Release(ctx, recipient, donation, ifVersion)
}

type MatchingSuite struct {
	suite.Suite
	ctx           context.Context
	ctrl          *gomock.Controller
	log           *events.MemoryLog
	metrics       *metrics.Metrics
	donations     *store.Donations
	requests      *flakyRequests
	tasks         *store.Tasks
	notifications *flakyNotifications
	service       *Service

	donation  *models.Donation
	recipient models.Recipient
	vik, val  models.Volunteer
}

func TestMatchingSuite(t *testing.T) {
	suite.Run(t, new(MatchingSuite))
}

var now = time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)

func (s *MatchingSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.ctrl = gomock.NewController(s.T())
	rs := records.NewInMemoryStore(0)
	s.donations = store.NewDonations(rs)
	s.requests = &flakyRequests{Requests: store.NewRequests(rs)}
	s.tasks = store.NewTasks(rs)
	s.notifications = &flakyNotifications{Notifications: store.NewNotifications(rs)}
	s.log = events.NewMemoryLog()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = s.newService(s.log)

	d, err := models.NewDonation(domain.NewDonationID(), domain.Actor{Name: "Dana"}, domain.DonorID(uuid.New()), models.DonationDetails{
		FoodName: "Veg Biryani",
		FoodType: "Cooked",
		Quantity: models.Quantity{Amount: 10, Unit: "Kg"},
		Window:   models.PickupWindow{Date: "2024-03-15", TimeFrom: "09:00", TimeTo: "11:00"},
		Location: models.Location{Address: "12 MG Road", Pincode: "560001"},
	}, now)
	s.Require().NoError(err)
	s.Require().NoError(s.donations.Create(s.ctx, d))
	s.donation = d
	s.recipient = models.Recipient{ID: domain.RecipientID(uuid.New()), Name: "Ravi", Phone: "555-0101"}
	s.vik = models.Volunteer{ID: domain.VolunteerID(uuid.New()), Name: "Vik"}
	s.val = models.Volunteer{ID: domain.VolunteerID(uuid.New()), Name: "Val"}
}

func (s *MatchingSuite) newService(pub events.Publisher) *Service {
	svc, err := New(s.donations, s.requests, s.tasks, s.notifications,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithPublisher(pub),
	)
	s.Require().NoError(err)
	return svc
}

func (s *MatchingSuite) claim(mode models.FulfillmentMode) *ClaimResult {
	res, err := s.service.ClaimDonation(s.ctx, s.recipient, s.donation.DonorID, s.donation.ID, mode)
	s.Require().NoError(err)
	return res
}

func (s *MatchingSuite) TestNew() {
	_, err := New(nil, s.requests, s.tasks, s.notifications)
	s.Error(err)
}

func (s *MatchingSuite) TestClaimDonation() {
	s.Run("writes request and donor notification then publishes", func() {
		pub := mocks.NewMockPublisher(s.ctrl)
		svc := s.newService(pub)
		pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e events.DonationEvent) error {
			s.Equal(events.TypeDonationClaimed, e.Type)
			s.Equal(s.recipient.ID, e.RecipientID)
			s.Equal(models.ModeSelfPickup, e.Mode)
			return nil
		})

		res, err := svc.ClaimDonation(s.ctx, s.recipient, s.donation.DonorID, s.donation.ID, models.ModeSelfPickup)
		s.Require().NoError(err)
		s.False(res.AlreadyRequested)
		s.Equal(models.DeliveryPending, res.Request.Status)

		req, err := s.requests.Get(s.ctx, s.recipient.ID, s.donation.ID)
		s.Require().NoError(err)
		s.Equal(s.donation.FoodName, req.Donation.FoodName)

		n, err := s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
		s.Require().NoError(err)
		s.Equal("Ravi", n.RecipientName)
		s.Equal(models.ModeSelfPickup, n.Mode)
		s.Equal(models.DeliveryPending, n.FoodStatus)
	})

	s.Run("duplicate claim changes nothing", func() {
		before, err := s.requests.Get(s.ctx, s.recipient.ID, s.donation.ID)
		s.Require().NoError(err)

		res := s.claim(models.ModeVolunteerAssisted)
		s.True(res.AlreadyRequested)
		s.Equal(models.ModeSelfPickup, res.Request.Mode, "existing request is returned as is")

		after, err := s.requests.Get(s.ctx, s.recipient.ID, s.donation.ID)
		s.Require().NoError(err)
		s.Equal(before.Version, after.Version)
		s.Equal(1, len(s.listRequests()))
	})

	s.Run("unknown donation", func() {
		_, err := s.service.ClaimDonation(s.ctx, s.recipient, s.donation.DonorID, domain.NewDonationID(), models.ModeSelfPickup)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown mode", func() {
		_, err := s.service.ClaimDonation(s.ctx, s.recipient, s.donation.DonorID, s.donation.ID, "Drone")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *MatchingSuite) listRequests() []*models.RecipientRequest {
	out, err := s.service.ListRequests(s.ctx, s.recipient.ID)
	s.Require().NoError(err)
	return out
}

func (s *MatchingSuite) TestClaimPartialFailureConvergesOnRetry() {
	s.notifications.down.Store(true)
	_, err := s.service.ClaimDonation(s.ctx, s.recipient, s.donation.DonorID, s.donation.ID, models.ModeVolunteerAssisted)
	s.True(dErrors.HasCode(err, dErrors.CodePartialReplication))
	s.True(dErrors.Retryable(err))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.PartialReplication.WithLabelValues(opClaim, "donor notification")))

	_, err = s.requests.Get(s.ctx, s.recipient.ID, s.donation.ID)
	s.Require().NoError(err, "the recipient's request is authoritative and survives")
	_, err = s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.notifications.down.Store(false)
	res := s.claim(models.ModeVolunteerAssisted)
	s.True(res.AlreadyRequested)

	n, err := s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
	s.Require().NoError(err)
	s.Equal("Ravi", n.RecipientName)
	s.Len(s.log.Events(), 1, "the claim was logged when the request was written")
}

func (s *MatchingSuite) TestProjectorRepairsClaimWithoutRetry() {
	projector := events.NewNotificationProjector(s.notifications.Notifications)
	svc := s.newService(events.NewMemoryLog(events.WithSink(projector.Sink())))

	s.notifications.down.Store(true)
	_, err := svc.ClaimDonation(s.ctx, s.recipient, s.donation.DonorID, s.donation.ID, models.ModeVolunteerAssisted)
	s.True(dErrors.HasCode(err, dErrors.CodePartialReplication))

	n, err := s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
	s.Require().NoError(err)
	s.Equal("Ravi", n.RecipientName)
	s.Equal(s.donation.FoodName, n.FoodName)
	s.Equal(models.ModeVolunteerAssisted, n.Mode)

	s.notifications.down.Store(false)
	_, err = svc.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
	s.Require().NoError(err)
	s.notifications.down.Store(true)
	s.Require().NoError(svc.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID))

	_, err = svc.AcceptTask(s.ctx, s.val, s.recipient.ID, s.donation.ID)
	s.True(dErrors.HasCode(err, dErrors.CodePartialReplication))
	n, err = s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
	s.Require().NoError(err)
	s.Equal("Val", n.VolunteerName)
	s.Equal("Ravi", n.RecipientName)
}

func (s *MatchingSuite) TestAcceptTask() {
	s.claim(models.ModeVolunteerAssisted)

	task, err := s.service.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
	s.Require().NoError(err)
	s.Equal(models.TaskID(s.recipient.ID, s.donation.ID), task.ID())
	s.Equal(models.DeliveryPending, task.FoodStatus)
	s.Equal("12 MG Road", task.Donation.Location.Address)

	n, err := s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
	s.Require().NoError(err)
	s.Equal("Vik", n.VolunteerName)
	s.Equal("Ravi", n.RecipientName, "volunteer merge keeps recipient identity")

	s.Run("same volunteer again is idempotent", func() {
		again, err := s.service.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
		s.Require().NoError(err)
		s.Equal(task.ID(), again.ID())
		tasks, err := s.service.ListTasks(s.ctx, s.vik.ID)
		s.Require().NoError(err)
		s.Len(tasks, 1)
	})

	s.Run("another volunteer is refused", func() {
		_, err := s.service.AcceptTask(s.ctx, s.val, s.recipient.ID, s.donation.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClaimed))
		tasks, err := s.service.ListTasks(s.ctx, s.val.ID)
		s.Require().NoError(err)
		s.Empty(tasks)
	})

	s.Run("claimed requests leave the work queue", func() {
		open, err := s.service.ListOpenRequests(s.ctx)
		s.Require().NoError(err)
		s.Empty(open)
	})
}

func (s *MatchingSuite) TestConcurrentAcceptHasOneWinner() {
	s.claim(models.ModeVolunteerAssisted)

	const contenders = 16
	var wins, refused atomic.Int32
	var wg sync.WaitGroup
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := models.Volunteer{ID: domain.VolunteerID(uuid.New()), Name: "V"}
			_, err := s.service.AcceptTask(s.ctx, v, s.recipient.ID, s.donation.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAlreadyClaimed):
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(contenders-1), refused.Load())
}

func (s *MatchingSuite) TestAcceptSelfPickupIsRefused() {
	s.claim(models.ModeSelfPickup)
	_, err := s.service.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.AcceptTask(s.ctx, s.vik, domain.RecipientID(uuid.New()), s.donation.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *MatchingSuite) TestRejectRequest() {
	s.claim(models.ModeVolunteerAssisted)
	_, err := s.service.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
	s.Require().NoError(err)

	err = s.service.RejectRequest(s.ctx, s.recipient.ID, s.donation.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyClaimed), "held requests cannot be withdrawn")

	s.Require().NoError(s.service.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID))
	s.Require().NoError(s.service.RejectRequest(s.ctx, s.recipient.ID, s.donation.ID))
	s.Empty(s.listRequests())

	err = s.service.RejectRequest(s.ctx, s.recipient.ID, s.donation.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *MatchingSuite) TestCancelTask() {
	s.claim(models.ModeVolunteerAssisted)
	task, err := s.service.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
	s.Require().NoError(err)

	s.Run("delivered tasks cannot be cancelled", func() {
		_, err := s.tasks.SetFoodStatus(s.ctx, task, models.DeliveryDelivered)
		s.Require().NoError(err)

		err = s.service.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		got, err := s.tasks.Get(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID)
		s.Require().NoError(err)
		s.Equal(models.DeliveryDelivered, got.FoodStatus)

		_, err = s.tasks.SetFoodStatus(s.ctx, task, models.DeliveryPending)
		s.Require().NoError(err)
	})

	s.Run("pending task is removed and the request reopens", func() {
		s.Require().NoError(s.service.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID))

		_, err := s.tasks.Get(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)

		open, err := s.service.ListOpenRequests(s.ctx)
		s.Require().NoError(err)
		s.Len(open, 1)

		_, err = s.service.AcceptTask(s.ctx, s.val, s.recipient.ID, s.donation.ID)
		s.NoError(err, "another volunteer may take the released request")

		n, err := s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
		s.Require().NoError(err)
		s.Equal("Val", n.VolunteerName)
		s.Equal("Ravi", n.RecipientName)
		s.Equal(s.recipient.ID, n.RecipientID)
		s.Equal(s.donation.FoodName, n.FoodName)
		s.Equal(models.ModeVolunteerAssisted, n.Mode)
		s.Equal(models.DeliveryPending, n.FoodStatus)
	})

	s.Run("unknown task", func() {
		err := s.service.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *MatchingSuite) TestCancelFinishesAfterReleaseFailure() {
	s.claim(models.ModeVolunteerAssisted)
	_, err := s.service.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
	s.Require().NoError(err)

	s.requests.failReleases.Store(1)
	err = s.service.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID)
	s.True(dErrors.HasCode(err, dErrors.CodePartialReplication))
	s.True(dErrors.Retryable(err))
	_, err = s.tasks.Get(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.service.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID))
	req, err := s.requests.Get(s.ctx, s.recipient.ID, s.donation.ID)
	s.Require().NoError(err)
	s.False(req.IsClaimed())
	_, err = s.notifications.Get(s.ctx, s.donation.DonorID, s.donation.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	err = s.service.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "nothing left to cancel")

	_, err = s.service.AcceptTask(s.ctx, s.val, s.recipient.ID, s.donation.ID)
	s.NoError(err, "the claim is free again")
}

func (s *MatchingSuite) TestDeliveredRequestCannotBeAccepted() {
	s.claim(models.ModeVolunteerAssisted)
	_, err := s.requests.SetStatus(s.ctx, s.recipient.ID, s.donation.ID, models.DeliveryDelivered)
	s.Require().NoError(err)

	_, err = s.service.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	tasks, err := s.service.ListTasks(s.ctx, s.vik.ID)
	s.Require().NoError(err)
	s.Empty(tasks)
}

func (s *MatchingSuite) TestEventLogRecordsWorkflow() {
	s.claim(models.ModeVolunteerAssisted)
	_, err := s.service.AcceptTask(s.ctx, s.vik, s.recipient.ID, s.donation.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.service.CancelTask(s.ctx, s.vik.ID, s.recipient.ID, s.donation.ID))

	var types []events.Type
	for _, e := range s.log.Events() {
		types = append(types, e.Type)
	}
	s.Equal([]events.Type{events.TypeDonationClaimed, events.TypeTaskAccepted, events.TypeTaskCancelled}, types)
}
