package store

import (
	"context"
	"time"

	"foodlink/internal/donation/models"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
)

// Notifications persists the donor-owned DonorNotification read model.
type Notifications struct {
	records records.Store
}

func NewNotifications(rs records.Store) *Notifications {
	return &Notifications{records: rs}
}

// Merge upserts the populated fields of n into the donor's notification.
func (s *Notifications) Merge(ctx context.Context, n *models.DonorNotification) (*models.DonorNotification, error) {
	doc, err := s.records.Merge(ctx, NotificationKey(n.DonorID, n.DonationID), notificationFields(n))
	if err != nil {
		return nil, err
	}
	return toNotification(doc)
}

// Replace rewrites the whole notification body.
func (s *Notifications) Replace(ctx context.Context, n *models.DonorNotification) (*models.DonorNotification, error) {
	doc, err := s.records.Set(ctx, NotificationKey(n.DonorID, n.DonationID), notificationFields(n))
	if err != nil {
		return nil, err
	}
	return toNotification(doc)
}

func (s *Notifications) Get(ctx context.Context, donor domain.DonorID, donation domain.DonationID) (*models.DonorNotification, error) {
	doc, err := s.records.Get(ctx, NotificationKey(donor, donation))
	if err != nil {
		return nil, err
	}
	return toNotification(doc)
}

// SetFoodStatus updates an existing notification; sentinel.ErrNotFound if
// there is none.
func (s *Notifications) SetFoodStatus(ctx context.Context, donor domain.DonorID, donation domain.DonationID, status models.DeliveryStatus, at time.Time) error {
	_, err := s.records.Update(ctx, NotificationKey(donor, donation), records.Fields{
		fFoodStatus: status.String(),
		fUpdatedAt:  formatTime(at),
	}, records.AnyVersion)
	return err
}

func (s *Notifications) Delete(ctx context.Context, donor domain.DonorID, donation domain.DonationID) error {
	return s.records.Delete(ctx, NotificationKey(donor, donation), records.AnyVersion)
}

func (s *Notifications) ListByDonor(ctx context.Context, donor domain.DonorID) ([]*models.DonorNotification, error) {
	docs, err := s.records.List(ctx, NotificationsPath(donor))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toNotification)
}

// ListByDonation scans every donor for notifications about one donation.
func (s *Notifications) ListByDonation(ctx context.Context, donation domain.DonationID) ([]*models.DonorNotification, error) {
	docs, err := s.records.QueryGroup(ctx, SubNotifications, fDonationID, donation.String())
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toNotification)
}
