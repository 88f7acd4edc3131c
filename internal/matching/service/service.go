// Package service turns recipient claims and volunteer acceptances into the
// cross-owner records of the donation workflow.
//
// Every write is an independent call to the record store. The record owned by
// the acting party (RecipientRequest for claims, the claim on it for accepts)
// is written first and is authoritative. The event for it is appended to the
// donation log straight away, so the notification projector sees the action
// even when the copies held by the other parties fail to follow. Such a
// failure is reported as CodePartialReplication and a retry converges on the
// same end state because every document id is deterministic.
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
	"foodlink/internal/events"
	"foodlink/internal/matching/metrics"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
)

// DonationReader loads donor-owned donation records.
type DonationReader interface {
	Get(ctx context.Context, donor domain.DonorID, id domain.DonationID) (*models.Donation, error)
}

type RequestStore interface {
	Create(ctx context.Context, req *models.RecipientRequest) error
	Get(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID) (*models.RecipientRequest, error)
	Claim(ctx context.Context, req *models.RecipientRequest, volunteer domain.VolunteerID, at time.Time, ifVersion int64) (*models.RecipientRequest, error)
	Release(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID, ifVersion int64) (*models.RecipientRequest, error)
	Delete(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID, ifVersion int64) error
	ListByRecipient(ctx context.Context, recipient domain.RecipientID) ([]*models.RecipientRequest, error)
	ListUnclaimed(ctx context.Context) ([]*models.RecipientRequest, error)
}

type TaskStore interface {
	Put(ctx context.Context, t *models.VolunteerTask) error
	Get(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donation domain.DonationID) (*models.VolunteerTask, error)
	Delete(ctx context.Context, t *models.VolunteerTask, ifVersion int64) error
	ListByVolunteer(ctx context.Context, volunteer domain.VolunteerID) ([]*models.VolunteerTask, error)
}

type NotificationStore interface {
	Merge(ctx context.Context, n *models.DonorNotification) (*models.DonorNotification, error)
	Get(ctx context.Context, donor domain.DonorID, donation domain.DonationID) (*models.DonorNotification, error)
	Delete(ctx context.Context, donor domain.DonorID, donation domain.DonationID) error
	ListByDonor(ctx context.Context, donor domain.DonorID) ([]*models.DonorNotification, error)
	ListByDonation(ctx context.Context, donation domain.DonationID) ([]*models.DonorNotification, error)
}

// maxCASAttempts bounds re-reads when a conditional write loses a race that
// did not change the outcome (for example a status toggle bumping the version).
const maxCASAttempts = 3

// Operation names used for metrics and spans.
const (
	opClaim  = "claim"
	opAccept = "accept"
	opReject = "reject"
	opCancel = "cancel"
)

// Service coordinates claims, acceptances, rejections and cancellations.
type Service struct {
	donations     DonationReader
	requests      RequestStore
	tasks         TaskStore
	notifications NotificationStore
	publisher     events.Publisher
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher appends every completed action to the donation event log.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(donations DonationReader, requests RequestStore, tasks TaskStore, notifications NotificationStore, opts ...Option) (*Service, error) {
	if donations == nil || requests == nil || tasks == nil || notifications == nil {
		return nil, errors.New("matching service requires donation, request, task and notification stores")
	}
	s := &Service{
		donations:     donations,
		requests:      requests,
		tasks:         tasks,
		notifications: notifications,
		publisher:     events.Discard{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("foodlink/matching"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) startSpan(ctx context.Context, op string, donation domain.DonationID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "matching."+op, trace.WithAttributes(
		attribute.String("donation_id", donation.String()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

// publish appends e to the log. The authoritative record is already written,
// so a failure is logged and counted rather than returned.
func (s *Service) publish(ctx context.Context, e events.DonationEvent) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.metrics.IncrementPublishFailure()
		s.logger.WarnContext(ctx, "failed to append donation event",
			"type", e.Type,
			"donation_id", e.DonationID.String(),
			"error", err,
		)
	}
}

// partial reports a fan-out write that failed after the primary record was
// written.
func (s *Service) partial(ctx context.Context, op, target string, err error) error {
	s.metrics.IncrementPartialReplication(op, target)
	s.logger.ErrorContext(ctx, "partial replication",
		"op", op,
		"target", target,
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodePartialReplication, op+" incomplete: "+target+" not updated; retry to finish")
}
