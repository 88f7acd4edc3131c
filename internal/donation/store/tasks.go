package store

import (
	"context"

	"foodlink/internal/donation/models"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
)

// Tasks persists volunteer-owned VolunteerTasks.
type Tasks struct {
	records records.Store
}

func NewTasks(rs records.Store) *Tasks {
	return &Tasks{records: rs}
}

// Put writes the task, replacing any earlier copy. Re-acceptance by the same
// volunteer rewrites an identical body.
func (s *Tasks) Put(ctx context.Context, t *models.VolunteerTask) error {
	doc, err := s.records.Set(ctx, TaskKey(t.Volunteer.ID, t.Recipient.ID, t.Donation.DonationID), taskFields(t))
	if err != nil {
		return err
	}
	t.Version = doc.Version
	return nil
}

func (s *Tasks) Get(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donation domain.DonationID) (*models.VolunteerTask, error) {
	doc, err := s.records.Get(ctx, TaskKey(volunteer, recipient, donation))
	if err != nil {
		return nil, err
	}
	return toTask(doc)
}

func (s *Tasks) SetFoodStatus(ctx context.Context, t *models.VolunteerTask, status models.DeliveryStatus) (*models.VolunteerTask, error) {
	doc, err := s.records.Update(ctx, TaskKey(t.Volunteer.ID, t.Recipient.ID, t.Donation.DonationID),
		records.Fields{fFoodStatus: status.String()}, records.AnyVersion)
	if err != nil {
		return nil, err
	}
	return toTask(doc)
}

// Delete removes the task if it is still at ifVersion.
func (s *Tasks) Delete(ctx context.Context, t *models.VolunteerTask, ifVersion int64) error {
	return s.records.Delete(ctx, TaskKey(t.Volunteer.ID, t.Recipient.ID, t.Donation.DonationID), ifVersion)
}

func (s *Tasks) ListByVolunteer(ctx context.Context, volunteer domain.VolunteerID) ([]*models.VolunteerTask, error) {
	docs, err := s.records.List(ctx, TasksPath(volunteer))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toTask)
}

// ListByDonation scans every volunteer for tasks on one donation.
func (s *Tasks) ListByDonation(ctx context.Context, donation domain.DonationID) ([]*models.VolunteerTask, error) {
	docs, err := s.records.QueryGroup(ctx, SubTask, fDonationID, donation.String())
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toTask)
}
