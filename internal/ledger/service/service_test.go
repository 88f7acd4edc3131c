package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/internal/events"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

var now = time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)

// racyDonations loses the first n Replace calls.
type racyDonations struct {
	*store.Donations
	conflicts int
}

func (r *racyDonations) Replace(ctx context.Context, d *models.Donation) error {
	if r.conflicts > 0 {
		r.conflicts--
		return sentinel.ErrConflict
	}
	return r.Donations.Replace(ctx, d)
}

type fakeSigner struct{}

func (fakeSigner) PresignImageUpload(_ context.Context, donor domain.DonorID, _ string) (*ImageUpload, error) {
	ref := "s3://foodlink-assets/images/" + donor.String() + "/photo"
	return &ImageUpload{Ref: ref, UploadURL: "https://assets.test/put", ExpiresAt: now.Add(15 * time.Minute)}, nil
}

type LedgerSuite struct {
	suite.Suite
	ctx       context.Context
	donor     domain.Actor
	donorID   domain.DonorID
	donations *racyDonations
	log       *events.MemoryLog
	service   *Service
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.donorID = domain.DonorID(uuid.New())
	s.donor = domain.Actor{ID: s.donorID.String(), Role: domain.RoleDonor, Name: "Dana"}
	s.donations = &racyDonations{Donations: store.NewDonations(records.NewInMemoryStore(0))}
	s.log = events.NewMemoryLog()

	svc, err := New(s.donations,
		WithPublisher(s.log),
		WithImageSigner(fakeSigner{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.service = svc
}

func details() models.DonationDetails {
	return models.DonationDetails{
		FoodName: "Chapati",
		FoodType: "Cooked",
		Quantity: models.Quantity{Amount: 40, Unit: "pieces"},
		Window:   models.PickupWindow{Date: "2024-03-15", TimeFrom: "18:00", TimeTo: "20:00"},
		Location: models.Location{Address: "7 Church St", Pincode: "560001"},
	}
}

func (s *LedgerSuite) TestScheduleDonation() {
	s.Run("writes a pending record and appends an event", func() {
		d, err := s.service.ScheduleDonation(s.ctx, s.donor, details())
		s.Require().NoError(err)
		s.Equal(models.LedgerPending, d.LedgerStatus)
		s.Equal("Dana", d.DonorName)
		s.Equal(now, d.CreatedAt)

		got, err := s.service.GetDonation(s.ctx, s.donorID, d.ID)
		s.Require().NoError(err)
		s.Equal(d.FoodName, got.FoodName)

		evs := s.log.Events()
		s.Require().Len(evs, 1)
		s.Equal(events.TypeDonationScheduled, evs[0].Type)
		s.Equal(d.ID, evs[0].DonationID)
	})

	s.Run("only donors schedule", func() {
		actor := domain.Actor{ID: uuid.NewString(), Role: domain.RoleRecipient}
		_, err := s.service.ScheduleDonation(s.ctx, actor, details())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("invalid window is rejected", func() {
		in := details()
		in.Window.TimeTo = "17:00"
		_, err := s.service.ScheduleDonation(s.ctx, s.donor, in)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *LedgerSuite) TestGetMissing() {
	_, err := s.service.GetDonation(s.ctx, s.donorID, domain.NewDonationID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LedgerSuite) TestListings() {
	first, err := s.service.ScheduleDonation(s.ctx, s.donor, details())
	s.Require().NoError(err)
	other := domain.Actor{ID: uuid.NewString(), Role: domain.RoleDonor, Name: "Omar"}
	_, err = s.service.ScheduleDonation(s.ctx, other, details())
	s.Require().NoError(err)
	_, err = s.donations.SetLedgerStatus(s.ctx, s.donorID, first.ID, models.LedgerDelivered, now)
	s.Require().NoError(err)

	own, err := s.service.ListDonations(s.ctx, s.donorID)
	s.Require().NoError(err)
	s.Len(own, 1)

	available, err := s.service.ListAvailable(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(available, 1)
	s.Equal("Omar", available[0].DonorName)
}

func (s *LedgerSuite) TestUpdateDonation() {
	d, err := s.service.ScheduleDonation(s.ctx, s.donor, details())
	s.Require().NoError(err)

	s.Run("retries a lost race", func() {
		s.donations.conflicts = 1
		name := "Phulka"
		updated, err := s.service.UpdateDonation(s.ctx, s.donorID, d.ID, models.DonationEdit{FoodName: &name})
		s.Require().NoError(err)
		s.Equal("Phulka", updated.FoodName)
		s.Equal(d.CreatedAt, updated.CreatedAt)
	})

	s.Run("gives up after repeated conflicts", func() {
		s.donations.conflicts = maxEditAttempts
		name := "Roti"
		_, err := s.service.UpdateDonation(s.ctx, s.donorID, d.ID, models.DonationEdit{FoodName: &name})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("empty edit", func() {
		_, err := s.service.UpdateDonation(s.ctx, s.donorID, d.ID, models.DonationEdit{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *LedgerSuite) TestRequestImageUpload() {
	up, err := s.service.RequestImageUpload(s.ctx, s.donorID, "image/png")
	s.Require().NoError(err)
	s.Contains(up.Ref, s.donorID.String())

	_, err = s.service.RequestImageUpload(s.ctx, s.donorID, "text/html")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	bare, err := New(s.donations)
	s.Require().NoError(err)
	_, err = bare.RequestImageUpload(s.ctx, s.donorID, "image/png")
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
