package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"foodlink/internal/donation/models"
	"foodlink/internal/platform/kafka/consumer"
	"foodlink/pkg/domain"
	"foodlink/pkg/platform/sentinel"
)

// NotificationWriter is the notification repository as the projector uses it.
type NotificationWriter interface {
	Merge(ctx context.Context, n *models.DonorNotification) (*models.DonorNotification, error)
	SetFoodStatus(ctx context.Context, donor domain.DonorID, donation domain.DonationID, status models.DeliveryStatus, at time.Time) error
	Delete(ctx context.Context, donor domain.DonorID, donation domain.DonationID) error
}

// NotificationProjector folds events into the donor's DonorNotification. Each
// event only upserts the fields it owns, so replays and duplicates converge on
// the same document.
type NotificationProjector struct {
	notifications NotificationWriter
	logger        *slog.Logger
	applied       *prometheus.CounterVec
}

type ProjectorOption func(*NotificationProjector)

func WithProjectorLogger(logger *slog.Logger) ProjectorOption {
	return func(p *NotificationProjector) { p.logger = logger }
}

// WithProjectorMetrics registers a counter of applied events by type.
func WithProjectorMetrics(reg prometheus.Registerer) ProjectorOption {
	return func(p *NotificationProjector) {
		p.applied = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodlink_notification_projector_events_total",
			Help: "Donation events applied to donor notifications, by type and outcome",
		}, []string{"type", "outcome"})
		reg.MustRegister(p.applied)
	}
}

func NewNotificationProjector(notifications NotificationWriter, opts ...ProjectorOption) *NotificationProjector {
	p := &NotificationProjector{notifications: notifications, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply projects one event.
func (p *NotificationProjector) Apply(ctx context.Context, e DonationEvent) error {
	err := p.apply(ctx, e)
	outcome := "applied"
	if err != nil {
		outcome = "failed"
	}
	if p.applied != nil {
		p.applied.WithLabelValues(string(e.Type), outcome).Inc()
	}
	return err
}

func (p *NotificationProjector) apply(ctx context.Context, e DonationEvent) error {
	base := models.DonorNotification{DonorID: e.DonorID, DonationID: e.DonationID, UpdatedAt: e.OccurredAt}
	base.FoodName = e.FoodName
	base.RecipientID, base.RecipientName, base.RecipientPhone = e.RecipientID, e.RecipientName, e.RecipientPhone
	base.Mode = e.Mode
	base.FoodStatus = e.Status
	switch e.Type {
	case TypeDonationClaimed:
		_, err := p.notifications.Merge(ctx, &base)
		return err
	case TypeTaskAccepted:
		// the claim fields come along; a cancel may have removed them
		n := base
		n.VolunteerID, n.VolunteerName, n.VolunteerPhone = e.VolunteerID, e.VolunteerName, e.VolunteerPhone
		_, err := p.notifications.Merge(ctx, &n)
		return err
	case TypeTaskCancelled:
		err := p.notifications.Delete(ctx, e.DonorID, e.DonationID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return err
	case TypeStatusChanged:
		// a status change never creates a notification
		err := p.notifications.SetFoodStatus(ctx, e.DonorID, e.DonationID, e.Status, e.OccurredAt)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return err
	default:
		// scheduled and rejected leave the notification alone
		return nil
	}
}

// Handle consumes an event from the log. Undecodable messages are skipped so
// they are committed rather than redelivered forever.
func (p *NotificationProjector) Handle(ctx context.Context, msg *consumer.Message) error {
	e, err := Decode(msg.Value)
	if err != nil {
		p.logger.WarnContext(ctx, "skipping undecodable donation event",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	return p.Apply(ctx, e)
}

// Sink adapts the projector to a MemoryLog.
func (p *NotificationProjector) Sink() Sink {
	return p.Apply
}
