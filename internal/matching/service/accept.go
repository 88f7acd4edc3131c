package service

import (
	"context"
	"errors"
	"time"

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/internal/events"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

// AcceptTask gives a VolunteerAssisted request to volunteer. The claim on the
// request is a compare-and-set, so of several volunteers accepting at once
// exactly one wins and the rest get CodeAlreadyClaimed. The holder accepting
// again rewrites the same task and notification.
func (s *Service) AcceptTask(ctx context.Context, volunteer models.Volunteer, recipient domain.RecipientID, donationID domain.DonationID) (task *models.VolunteerTask, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opAccept, donationID)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveDuration(opAccept, start)
	}()

	req, err := s.claim(ctx, volunteer.ID, recipient, donationID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	s.publish(ctx, acceptEvent(req, volunteer, now))

	task, err = models.NewVolunteerTask(volunteer, req, now)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Put(ctx, task); err != nil {
		return nil, s.partial(ctx, opAccept, "volunteer task", store.DomainError(err, "task"))
	}
	if _, err := s.notifications.Merge(ctx, acceptNotification(req, volunteer, now)); err != nil {
		return nil, s.partial(ctx, opAccept, "donor notification", store.DomainError(err, "notification"))
	}

	s.metrics.IncrementOutcome(opAccept, "accepted")
	s.logger.InfoContext(ctx, "task accepted",
		"donation_id", donationID.String(),
		"recipient_id", recipient.String(),
		"volunteer_id", volunteer.ID.String(),
	)
	return task, nil
}

// acceptNotification carries the claim fields as well as the volunteer's, so
// a notification removed by an earlier cancel comes back whole.
func acceptNotification(req *models.RecipientRequest, volunteer models.Volunteer, now time.Time) *models.DonorNotification {
	n := claimNotification(req, now)
	n.VolunteerID = volunteer.ID
	n.VolunteerName = volunteer.Name
	n.VolunteerPhone = volunteer.Phone
	return n
}

func acceptEvent(req *models.RecipientRequest, volunteer models.Volunteer, now time.Time) events.DonationEvent {
	e := claimEvent(req, now).WithVolunteer(volunteer)
	e.Type = events.TypeTaskAccepted
	return e
}

// claim sets claimedBy on the request, retrying when the version moved for a
// reason that leaves the request unclaimed.
func (s *Service) claim(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donationID domain.DonationID) (*models.RecipientRequest, error) {
	for range maxCASAttempts {
		req, err := s.requests.Get(ctx, recipient, donationID)
		if err != nil {
			return nil, store.DomainError(err, "request")
		}
		if err := req.CanAccept(volunteer); err != nil {
			if dErrors.HasCode(err, dErrors.CodeAlreadyClaimed) {
				s.metrics.IncrementOutcome(opAccept, "already_claimed")
			}
			return nil, err
		}
		if req.ClaimedBy == volunteer {
			s.metrics.IncrementOutcome(opAccept, "reaccepted")
			return req, nil
		}

		claimed, err := s.requests.Claim(ctx, req, volunteer, requestcontext.Now(ctx), req.Version)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, store.DomainError(err, "request")
		}
		return claimed, nil
	}
	return nil, dErrors.New(dErrors.CodeConflict, "request kept changing while accepting; retry")
}

// CancelTask withdraws volunteer from a task that is not yet delivered. The
// task is deleted, the claim on the request is released so another volunteer
// can accept, and every donor notification for the donation is removed. A
// cancel that stopped after deleting the task is finished by calling it again.
func (s *Service) CancelTask(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donationID domain.DonationID) (err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opCancel, donationID)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveDuration(opCancel, start)
	}()

	task, err := s.deleteTask(ctx, volunteer, recipient, donationID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		task, err = s.orphanedClaim(ctx, volunteer, recipient, donationID, err)
	}
	if err != nil {
		return err
	}
	if err := s.release(ctx, volunteer, recipient, donationID); err != nil {
		return s.partial(ctx, opCancel, "recipient request", err)
	}
	e := events.New(events.TypeTaskCancelled, task.Donation.DonorID, donationID, requestcontext.Now(ctx)).
		WithRecipient(task.Recipient).
		WithVolunteer(task.Volunteer)
	s.publish(ctx, e)
	s.removeNotifications(ctx, donationID)

	s.metrics.IncrementOutcome(opCancel, "cancelled")
	s.logger.InfoContext(ctx, "task cancelled",
		"donation_id", donationID.String(),
		"recipient_id", recipient.String(),
		"volunteer_id", volunteer.String(),
	)
	return nil
}

// orphanedClaim looks for a claim volunteer still holds after its task is
// gone. It stands in for the deleted task so the cancel can finish; with no
// such claim the original not-found error stands.
func (s *Service) orphanedClaim(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donationID domain.DonationID, notFound error) (*models.VolunteerTask, error) {
	req, err := s.requests.Get(ctx, recipient, donationID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, store.DomainError(err, "request")
	}
	if req.ClaimedBy != volunteer {
		return nil, notFound
	}
	if req.Status == models.DeliveryDelivered {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "request already delivered and cannot be cancelled")
	}
	s.logger.InfoContext(ctx, "finishing interrupted cancel",
		"donation_id", donationID.String(),
		"volunteer_id", volunteer.String(),
	)
	return &models.VolunteerTask{
		Volunteer: models.Volunteer{ID: volunteer},
		Recipient: req.Recipient,
		Donation:  req.Donation,
	}, nil
}

// deleteTask removes the task unless it is delivered. The delete is
// conditional on the version the guard saw, so a concurrent delivery wins.
func (s *Service) deleteTask(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donationID domain.DonationID) (*models.VolunteerTask, error) {
	for range maxCASAttempts {
		task, err := s.tasks.Get(ctx, volunteer, recipient, donationID)
		if err != nil {
			return nil, store.DomainError(err, "task")
		}
		if err := task.CanCancel(); err != nil {
			s.metrics.IncrementOutcome(opCancel, "delivered")
			return nil, err
		}
		err = s.tasks.Delete(ctx, task, task.Version)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, store.DomainError(err, "task")
		}
		return task, nil
	}
	return nil, dErrors.New(dErrors.CodeConflict, "task kept changing while cancelling; retry")
}

// release clears the volunteer's claim. A request that is gone or held by
// someone else needs nothing.
func (s *Service) release(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donationID domain.DonationID) error {
	for range maxCASAttempts {
		req, err := s.requests.Get(ctx, recipient, donationID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		if err != nil {
			return store.DomainError(err, "request")
		}
		if req.ClaimedBy != volunteer {
			return nil
		}
		_, err = s.requests.Release(ctx, recipient, donationID, req.Version)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		return store.DomainError(err, "request")
	}
	return dErrors.New(dErrors.CodeConflict, "request kept changing while releasing; retry")
}

// removeNotifications deletes every donor notification for the donation.
// Failures are logged; the loop never stops early.
func (s *Service) removeNotifications(ctx context.Context, donationID domain.DonationID) {
	found, err := s.notifications.ListByDonation(ctx, donationID)
	if err != nil {
		s.metrics.IncrementPartialReplication(opCancel, "donor notification")
		s.logger.WarnContext(ctx, "could not scan donor notifications", "donation_id", donationID.String(), "error", err)
		return
	}
	for _, n := range found {
		err := s.notifications.Delete(ctx, n.DonorID, donationID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncrementPartialReplication(opCancel, "donor notification")
			s.logger.WarnContext(ctx, "could not remove donor notification",
				"donation_id", donationID.String(),
				"donor_id", n.DonorID.String(),
				"error", err,
			)
		}
	}
}
