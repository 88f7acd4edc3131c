// Package service owns the donor's donation ledger: scheduling, edits and the
// listings recipients browse.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/internal/events"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

type DonationStore interface {
	Create(ctx context.Context, d *models.Donation) error
	Get(ctx context.Context, donor domain.DonorID, id domain.DonationID) (*models.Donation, error)
	Replace(ctx context.Context, d *models.Donation) error
	ListByDonor(ctx context.Context, donor domain.DonorID) ([]*models.Donation, error)
	ListByLedgerStatus(ctx context.Context, status models.LedgerStatus) ([]*models.Donation, error)
}

// ImageUpload is a presigned slot for a donation photo. Ref goes into the
// donation's image_ref once the client has uploaded.
type ImageUpload struct {
	Ref       string    `json:"image_ref"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ImageSigner interface {
	PresignImageUpload(ctx context.Context, donor domain.DonorID, contentType string) (*ImageUpload, error)
}

const maxEditAttempts = 3

type Service struct {
	donations DonationStore
	images    ImageSigner
	publisher events.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithImageSigner enables RequestImageUpload.
func WithImageSigner(signer ImageSigner) Option {
	return func(s *Service) {
		s.images = signer
	}
}

func New(donations DonationStore, opts ...Option) (*Service, error) {
	if donations == nil {
		return nil, errors.New("ledger service requires a donation store")
	}
	s := &Service{
		donations: donations,
		publisher: events.Discard{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("foodlink/ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScheduleDonation validates details and writes a new Pending donation under
// a fresh id.
func (s *Service) ScheduleDonation(ctx context.Context, donor domain.Actor, details models.DonationDetails) (_ *models.Donation, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.schedule")
	defer func() { endSpan(span, err) }()

	donorID, err := donor.DonorID()
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	d, err := models.NewDonation(domain.NewDonationID(), donor, donorID, details, now)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("donation_id", d.ID.String()))

	if err := s.donations.Create(ctx, d); err != nil {
		return nil, store.DomainError(err, "donation")
	}
	s.logger.InfoContext(ctx, "donation scheduled",
		"donation_id", d.ID.String(),
		"donor_id", donorID.String(),
		"food_name", d.FoodName,
	)

	e := events.New(events.TypeDonationScheduled, donorID, d.ID, now)
	e.FoodName = d.FoodName
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to append donation event",
			"type", e.Type,
			"donation_id", d.ID.String(),
			"error", err,
		)
	}
	return d, nil
}

func (s *Service) GetDonation(ctx context.Context, donor domain.DonorID, id domain.DonationID) (*models.Donation, error) {
	d, err := s.donations.Get(ctx, donor, id)
	if err != nil {
		return nil, store.DomainError(err, "donation")
	}
	return d, nil
}

func (s *Service) ListDonations(ctx context.Context, donor domain.DonorID) ([]*models.Donation, error) {
	list, err := s.donations.ListByDonor(ctx, donor)
	if err != nil {
		return nil, store.DomainError(err, "donation")
	}
	return list, nil
}

// ListAvailable lists Pending donations across every donor.
func (s *Service) ListAvailable(ctx context.Context) ([]*models.Donation, error) {
	list, err := s.donations.ListByLedgerStatus(ctx, models.LedgerPending)
	if err != nil {
		return nil, store.DomainError(err, "donation")
	}
	return list, nil
}

// UpdateDonation applies an edit by the owning donor. Copies already held by
// recipients and volunteers keep the snapshot they claimed.
func (s *Service) UpdateDonation(ctx context.Context, donor domain.DonorID, id domain.DonationID, edit models.DonationEdit) (_ *models.Donation, err error) {
	ctx, span := s.tracer.Start(ctx, "ledger.update", trace.WithAttributes(
		attribute.String("donation_id", id.String()),
	))
	defer func() { endSpan(span, err) }()

	for range maxEditAttempts {
		current, err := s.donations.Get(ctx, donor, id)
		if err != nil {
			return nil, store.DomainError(err, "donation")
		}
		updated, err := current.ApplyEdit(edit, requestcontext.Now(ctx))
		if err != nil {
			return nil, err
		}
		err = s.donations.Replace(ctx, updated)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, store.DomainError(err, "donation")
		}
		s.logger.InfoContext(ctx, "donation edited", "donation_id", id.String())
		return updated, nil
	}
	return nil, dErrors.New(dErrors.CodeConflict, "donation kept changing; retry")
}

// RequestImageUpload hands the donor a presigned slot for a donation photo.
func (s *Service) RequestImageUpload(ctx context.Context, donor domain.DonorID, contentType string) (*ImageUpload, error) {
	if s.images == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "image uploads are not configured")
	}
	switch contentType {
	case "image/jpeg", "image/png", "image/webp":
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "content type must be image/jpeg, image/png or image/webp")
	}
	up, err := s.images.PresignImageUpload(ctx, donor, contentType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "image storage unavailable")
	}
	return up, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
