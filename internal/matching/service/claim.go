package service

import (
	"context"
	"errors"
	"time"

	"foodlink/internal/donation/models"
	"foodlink/internal/donation/store"
	"foodlink/internal/events"
	"foodlink/pkg/domain"
	"foodlink/pkg/platform/sentinel"
	"foodlink/pkg/requestcontext"
)

// ClaimResult is the outcome of ClaimDonation. AlreadyRequested marks a
// duplicate claim; Request is then the existing request.
type ClaimResult struct {
	Request          *models.RecipientRequest
	AlreadyRequested bool
}

// ClaimDonation records recipient's interest in a donation and tells the
// donor. A second claim by the same recipient changes nothing and reports
// AlreadyRequested; it only rewrites the donor notification if that is
// missing, which is how a claim that failed part-way is finished.
func (s *Service) ClaimDonation(ctx context.Context, recipient models.Recipient, donor domain.DonorID, donationID domain.DonationID, mode models.FulfillmentMode) (result *ClaimResult, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opClaim, donationID)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveDuration(opClaim, start)
	}()

	if _, err := models.ParseFulfillmentMode(string(mode)); err != nil {
		return nil, err
	}
	donation, err := s.donations.Get(ctx, donor, donationID)
	if err != nil {
		return nil, store.DomainError(err, "donation")
	}
	now := requestcontext.Now(ctx)

	req, err := models.NewRecipientRequest(donation, recipient, mode, now)
	if err != nil {
		return nil, err
	}

	err = s.requests.Create(ctx, req)
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return s.duplicateClaim(ctx, recipient.ID, donationID)
	}
	if err != nil {
		s.metrics.IncrementOutcome(opClaim, "failed")
		return nil, store.DomainError(err, "request")
	}
	s.publish(ctx, claimEvent(req, now))

	if _, err := s.notifications.Merge(ctx, claimNotification(req, now)); err != nil {
		s.metrics.IncrementOutcome(opClaim, "partial")
		return nil, s.partial(ctx, opClaim, "donor notification", store.DomainError(err, "notification"))
	}

	s.metrics.IncrementOutcome(opClaim, "created")
	s.logger.InfoContext(ctx, "donation claimed",
		"donation_id", donationID.String(),
		"recipient_id", recipient.ID.String(),
		"fulfillment_mode", string(mode),
	)
	return &ClaimResult{Request: req}, nil
}

func (s *Service) duplicateClaim(ctx context.Context, recipient domain.RecipientID, donationID domain.DonationID) (*ClaimResult, error) {
	existing, err := s.requests.Get(ctx, recipient, donationID)
	if err != nil {
		return nil, store.DomainError(err, "request")
	}
	s.metrics.IncrementOutcome(opClaim, "duplicate")

	_, err = s.notifications.Get(ctx, existing.Donation.DonorID, donationID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		now := requestcontext.Now(ctx)
		if _, err := s.notifications.Merge(ctx, claimNotification(existing, now)); err != nil {
			return nil, s.partial(ctx, opClaim, "donor notification", store.DomainError(err, "notification"))
		}
		s.logger.InfoContext(ctx, "repaired missing donor notification on duplicate claim",
			"donation_id", donationID.String(),
			"recipient_id", recipient.String(),
		)
	case err != nil:
		// the request exists; an unreadable notification is the donor's concern
		s.logger.WarnContext(ctx, "could not check donor notification on duplicate claim", "error", err)
	}
	return &ClaimResult{Request: existing, AlreadyRequested: true}, nil
}

func claimNotification(req *models.RecipientRequest, now time.Time) *models.DonorNotification {
	return &models.DonorNotification{
		DonorID:        req.Donation.DonorID,
		DonationID:     req.Donation.DonationID,
		FoodName:       req.Donation.FoodName,
		RecipientID:    req.Recipient.ID,
		RecipientName:  req.Recipient.Name,
		RecipientPhone: req.Recipient.Phone,
		Mode:           req.Mode,
		FoodStatus:     req.Status,
		UpdatedAt:      now,
	}
}

func claimEvent(req *models.RecipientRequest, now time.Time) events.DonationEvent {
	e := events.New(events.TypeDonationClaimed, req.Donation.DonorID, req.Donation.DonationID, now).
		WithRecipient(req.Recipient)
	e.FoodName = req.Donation.FoodName
	e.Mode = req.Mode
	e.Status = req.Status
	return e
}

// RejectRequest withdraws the recipient's request. The donor notification is
// left as it is. A request a volunteer holds cannot be withdrawn until the
// volunteer cancels.
func (s *Service) RejectRequest(ctx context.Context, recipient domain.RecipientID, donationID domain.DonationID) (err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, opReject, donationID)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveDuration(opReject, start)
	}()

	for range maxCASAttempts {
		req, err := s.requests.Get(ctx, recipient, donationID)
		if err != nil {
			return store.DomainError(err, "request")
		}
		if err := req.CanReject(); err != nil {
			s.metrics.IncrementOutcome(opReject, "already_claimed")
			return err
		}
		err = s.requests.Delete(ctx, recipient, donationID, req.Version)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			return store.DomainError(err, "request")
		}

		s.metrics.IncrementOutcome(opReject, "rejected")
		s.logger.InfoContext(ctx, "request rejected",
			"donation_id", donationID.String(),
			"recipient_id", recipient.String(),
		)
		e := events.New(events.TypeRequestRejected, req.Donation.DonorID, donationID, requestcontext.Now(ctx)).
			WithRecipient(req.Recipient)
		s.publish(ctx, e)
		return nil
	}
	return store.DomainError(sentinel.ErrConflict, "request")
}
