// Package service keeps the delivery status aligned across the volunteer's
// task, the recipient's request and every donor notification for a donation.
//
// The volunteer's or recipient's own record is written first and its failure
// is returned. Donor notifications are a read model: they are found by a scan
// across all donors, updated concurrently, and a failure on one never stops
// the others.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/internal/events"
	"foodlink/internal/statussync/metrics"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

type TaskStore interface {
	Get(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donation domain.DonationID) (*models.VolunteerTask, error)
	SetFoodStatus(ctx context.Context, t *models.VolunteerTask, status models.DeliveryStatus) (*models.VolunteerTask, error)
	ListByVolunteer(ctx context.Context, volunteer domain.VolunteerID) ([]*models.VolunteerTask, error)
}

type RequestStore interface {
	Get(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID) (*models.RecipientRequest, error)
	SetStatus(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID, status models.DeliveryStatus) (*models.RecipientRequest, error)
}

type NotificationStore interface {
	ListByDonation(ctx context.Context, donation domain.DonationID) ([]*models.DonorNotification, error)
	SetFoodStatus(ctx context.Context, donor domain.DonorID, donation domain.DonationID, status models.DeliveryStatus, at time.Time) error
}

type LedgerStore interface {
	Get(ctx context.Context, donor domain.DonorID, id domain.DonationID) (*models.Donation, error)
	SetLedgerStatus(ctx context.Context, donor domain.DonorID, id domain.DonationID, status models.LedgerStatus, at time.Time) (*models.Donation, error)
}

// DefaultFanOut bounds concurrent notification updates.
const DefaultFanOut = 8

// Change asks for donation's status to become Status. RecipientID selects
// the volunteer's task when the volunteer carries the same donation for
// more than one recipient; otherwise it may be left empty.
type Change struct {
	DonationID  domain.DonationID
	RecipientID domain.RecipientID
	Status      string
}

// Result reports what a status change touched.
type Result struct {
	Status string `json:"status"`
	// Unchanged is set when the actor's record already had Status.
	Unchanged bool `json:"unchanged"`
	// NotificationsUpdated and NotificationsFailed count the donor fan-out.
	NotificationsUpdated int `json:"notifications_updated"`
	NotificationsFailed  int `json:"notifications_failed"`
}

type Service struct {
	tasks         TaskStore
	requests      RequestStore
	notifications NotificationStore
	ledger        LedgerStore
	publisher     events.Publisher
	fanOut        int
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

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithFanOut sets how many notification updates run at once.
func WithFanOut(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

func New(tasks TaskStore, requests RequestStore, notifications NotificationStore, ledger LedgerStore, opts ...Option) (*Service, error) {
	if tasks == nil || requests == nil || notifications == nil || ledger == nil {
		return nil, errors.New("status service requires task, request, notification and ledger stores")
	}
	s := &Service{
		tasks:         tasks,
		requests:      requests,
		notifications: notifications,
		ledger:        ledger,
		publisher:     events.Discard{},
		fanOut:        DefaultFanOut,
		logger:        slog.Default(),
		tracer:        otel.Tracer("foodlink/statussync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetDeliveryStatus applies a status change on behalf of actor. Volunteers
// and recipients drive the shared Pending/Delivered status; donors drive only
// their own ledger status, which also allows InTransit.
func (s *Service) SetDeliveryStatus(ctx context.Context, actor domain.Actor, change Change) (res *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "statussync.SetDeliveryStatus", trace.WithAttributes(
		attribute.String("donation_id", change.DonationID.String()),
		attribute.String("role", actor.Role.String()),
		attribute.String("status", change.Status),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()

	switch actor.Role {
	case domain.RoleVolunteer:
		id, err := actor.VolunteerID()
		if err != nil {
			return nil, err
		}
		status, err := models.ParseDeliveryStatus(change.Status)
		if err != nil {
			return nil, err
		}
		return s.setByVolunteer(ctx, id, change, status)
	case domain.RoleRecipient:
		id, err := actor.RecipientID()
		if err != nil {
			return nil, err
		}
		status, err := models.ParseDeliveryStatus(change.Status)
		if err != nil {
			return nil, err
		}
		return s.setByRecipient(ctx, id, change.DonationID, status)
	case domain.RoleDonor:
		id, err := actor.DonorID()
		if err != nil {
			return nil, err
		}
		status, err := models.ParseLedgerStatus(change.Status)
		if err != nil {
			return nil, err
		}
		return s.setLedger(ctx, id, change.DonationID, status)
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "status cannot be changed by role "+actor.Role.String())
	}
}

// ToggleDeliveryStatus flips the actor's current status between Pending and
// Delivered.
func (s *Service) ToggleDeliveryStatus(ctx context.Context, actor domain.Actor, donationID domain.DonationID, recipientID domain.RecipientID) (*Result, error) {
	current, err := s.currentStatus(ctx, actor, donationID, recipientID)
	if err != nil {
		return nil, err
	}
	return s.SetDeliveryStatus(ctx, actor, Change{DonationID: donationID, RecipientID: recipientID, Status: current})
}

func (s *Service) currentStatus(ctx context.Context, actor domain.Actor, donationID domain.DonationID, recipientID domain.RecipientID) (string, error) {
	switch actor.Role {
	case domain.RoleVolunteer:
		id, err := actor.VolunteerID()
		if err != nil {
			return "", err
		}
		task, err := s.findTask(ctx, id, donationID, recipientID)
		if err != nil {
			return "", err
		}
		return task.FoodStatus.Toggled().String(), nil
	case domain.RoleRecipient:
		id, err := actor.RecipientID()
		if err != nil {
			return "", err
		}
		req, err := s.requests.Get(ctx, id, donationID)
		if err != nil {
			return "", store.DomainError(err, "request")
		}
		return req.Status.Toggled().String(), nil
	case domain.RoleDonor:
		id, err := actor.DonorID()
		if err != nil {
			return "", err
		}
		d, err := s.ledger.Get(ctx, id, donationID)
		if err != nil {
			return "", store.DomainError(err, "donation")
		}
		return d.LedgerStatus.Toggled().String(), nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "status cannot be changed by role "+actor.Role.String())
	}
}

func (s *Service) findTask(ctx context.Context, volunteer domain.VolunteerID, donationID domain.DonationID, recipientID domain.RecipientID) (*models.VolunteerTask, error) {
	if !recipientID.IsNil() {
		task, err := s.tasks.Get(ctx, volunteer, recipientID, donationID)
		return task, store.DomainError(err, "task")
	}
	all, err := s.tasks.ListByVolunteer(ctx, volunteer)
	if err != nil {
		return nil, store.DomainError(err, "task")
	}
	var match *models.VolunteerTask
	for _, t := range all {
		if t.Donation.DonationID != donationID {
			continue
		}
		if match != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "several tasks for this donation; recipient_id is required")
		}
		match = t
	}
	if match == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "task not found")
	}
	return match, nil
}

// setByVolunteer writes the task, then the recipient's request, then every
// donor notification. Re-sending the current status skips the task write but
// still re-runs the downstream writes, which is how an earlier partial
// fan-out is finished.
func (s *Service) setByVolunteer(ctx context.Context, volunteer domain.VolunteerID, change Change, status models.DeliveryStatus) (*Result, error) {
	task, err := s.findTask(ctx, volunteer, change.DonationID, change.RecipientID)
	if err != nil {
		return nil, err
	}
	res := &Result{Status: status.String(), Unchanged: task.FoodStatus == status}
	if !res.Unchanged {
		if _, err := s.tasks.SetFoodStatus(ctx, task, status); err != nil {
			return nil, store.DomainError(err, "task")
		}
	}
	s.metrics.IncrementChange(domain.RoleVolunteer.String(), status.String())
	s.publishChange(ctx, task.Donation.DonorID, change.DonationID, status)

	_, err = s.requests.SetStatus(ctx, task.Recipient.ID, change.DonationID, status)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "task updated but recipient request was not",
			"donation_id", change.DonationID.String(),
			"recipient_id", task.Recipient.ID.String(),
			"error", err,
		)
		return nil, dErrors.Wrap(store.DomainError(err, "request"), dErrors.CodePartialReplication,
			"task updated but recipient request was not; retry to finish")
	}

	s.fanOutNotifications(ctx, change.DonationID, status, res)
	return res, nil
}

// setByRecipient covers self pickup. While a volunteer holds the request the
// volunteer reports delivery instead.
func (s *Service) setByRecipient(ctx context.Context, recipient domain.RecipientID, donationID domain.DonationID, status models.DeliveryStatus) (*Result, error) {
	req, err := s.requests.Get(ctx, recipient, donationID)
	if err != nil {
		return nil, store.DomainError(err, "request")
	}
	if req.IsClaimed() {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "a volunteer is delivering this donation and reports its status")
	}
	res := &Result{Status: status.String(), Unchanged: req.Status == status}
	if !res.Unchanged {
		if _, err := s.requests.SetStatus(ctx, recipient, donationID, status); err != nil {
			return nil, store.DomainError(err, "request")
		}
	}
	s.metrics.IncrementChange(domain.RoleRecipient.String(), status.String())
	s.publishChange(ctx, req.Donation.DonorID, donationID, status)

	s.fanOutNotifications(ctx, donationID, status, res)
	return res, nil
}

// setLedger changes only the donor's own history status.
func (s *Service) setLedger(ctx context.Context, donor domain.DonorID, donationID domain.DonationID, status models.LedgerStatus) (*Result, error) {
	d, err := s.ledger.Get(ctx, donor, donationID)
	if err != nil {
		return nil, store.DomainError(err, "donation")
	}
	res := &Result{Status: status.String(), Unchanged: d.LedgerStatus == status}
	if res.Unchanged {
		return res, nil
	}
	if _, err := s.ledger.SetLedgerStatus(ctx, donor, donationID, status, requestcontext.Now(ctx)); err != nil {
		return nil, store.DomainError(err, "donation")
	}
	s.metrics.IncrementChange(domain.RoleDonor.String(), status.String())
	return res, nil
}

// fanOutNotifications scans all donors for notifications of the donation and
// sets foodStatus on each. Missing documents are skipped; failures are
// logged and counted into res.
func (s *Service) fanOutNotifications(ctx context.Context, donationID domain.DonationID, status models.DeliveryStatus, res *Result) {
	start := time.Now()
	defer s.metrics.ObserveFanOut(start)

	found, err := s.notifications.ListByDonation(ctx, donationID)
	if err != nil {
		s.metrics.IncrementFanOut("failed")
		res.NotificationsFailed++
		s.logger.WarnContext(ctx, "donor notification scan failed",
			"donation_id", donationID.String(),
			"error", err,
		)
		return
	}

	now := requestcontext.Now(ctx)
	var updated, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.fanOut)
	for _, n := range found {
		g.Go(func() error {
			err := s.notifications.SetFoodStatus(ctx, n.DonorID, donationID, status, now)
			switch {
			case err == nil:
				updated.Add(1)
				s.metrics.IncrementFanOut("updated")
			case errors.Is(err, sentinel.ErrNotFound):
				s.metrics.IncrementFanOut("missing")
			default:
				failed.Add(1)
				s.metrics.IncrementFanOut("failed")
				s.logger.WarnContext(ctx, "donor notification update failed",
					"donation_id", donationID.String(),
					"donor_id", n.DonorID.String(),
					"error", err,
				)
			}
			return nil
		})
	}
	// workers report through the counters and always return nil
	g.Wait()
	res.NotificationsUpdated += int(updated.Load())
	res.NotificationsFailed += int(failed.Load())
}

func (s *Service) publishChange(ctx context.Context, donor domain.DonorID, donationID domain.DonationID, status models.DeliveryStatus) {
	e := events.New(events.TypeStatusChanged, donor, donationID, requestcontext.Now(ctx))
	e.Status = status
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "failed to append status event",
			"donation_id", donationID.String(),
			"error", err,
		)
	}
}
