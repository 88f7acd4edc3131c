package service

import (
	"context"

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/pkg/domain"
)

// ListOpenRequests is the volunteer work queue: VolunteerAssisted requests
// that are still pending and that nobody holds.
func (s *Service) ListOpenRequests(ctx context.Context) ([]*models.RecipientRequest, error) {
	all, err := s.requests.ListUnclaimed(ctx)
	if err != nil {
		return nil, store.DomainError(err, "request")
	}
	open := make([]*models.RecipientRequest, 0, len(all))
	for _, r := range all {
		if r.Mode == models.ModeVolunteerAssisted && r.Status == models.DeliveryPending {
			open = append(open, r)
		}
	}
	return open, nil
}

func (s *Service) ListRequests(ctx context.Context, recipient domain.RecipientID) ([]*models.RecipientRequest, error) {
	out, err := s.requests.ListByRecipient(ctx, recipient)
	return out, store.DomainError(err, "request")
}

func (s *Service) ListTasks(ctx context.Context, volunteer domain.VolunteerID) ([]*models.VolunteerTask, error) {
	out, err := s.tasks.ListByVolunteer(ctx, volunteer)
	return out, store.DomainError(err, "task")
}

func (s *Service) ListNotifications(ctx context.Context, donor domain.DonorID) ([]*models.DonorNotification, error) {
	out, err := s.notifications.ListByDonor(ctx, donor)
	return out, store.DomainError(err, "notification")
}
