package store

import (
	"context"
	"time"

	"foodlink/internal/donation/models"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
)

// Requests persists recipient-owned RecipientRequests.
type Requests struct {
	records records.Store
}

func NewRequests(rs records.Store) *Requests {
	return &Requests{records: rs}
}

// Create writes the request if absent and returns sentinel.ErrAlreadyUsed
// otherwise.
func (s *Requests) Create(ctx context.Context, req *models.RecipientRequest) error {
	doc, err := s.records.Create(ctx, RequestKey(req.Recipient.ID, req.Donation.DonationID), requestFields(req))
	if err != nil {
		return err
	}
	req.Version = doc.Version
	return nil
}

func (s *Requests) Get(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID) (*models.RecipientRequest, error) {
	doc, err := s.records.Get(ctx, RequestKey(recipient, donation))
	if err != nil {
		return nil, err
	}
	return toRequest(doc)
}

// Claim sets claimedBy if the request is still at ifVersion. A lost race
// surfaces as sentinel.ErrConflict.
func (s *Requests) Claim(ctx context.Context, req *models.RecipientRequest, volunteer domain.VolunteerID, at time.Time, ifVersion int64) (*models.RecipientRequest, error) {
	doc, err := s.records.Update(ctx, RequestKey(req.Recipient.ID, req.Donation.DonationID), records.Fields{
		fClaimedBy: volunteer.String(),
		fClaimedAt: formatTime(at),
	}, ifVersion)
	if err != nil {
		return nil, err
	}
	return toRequest(doc)
}

// Release clears the claim if the request is still at ifVersion.
func (s *Requests) Release(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID, ifVersion int64) (*models.RecipientRequest, error) {
	doc, err := s.records.Update(ctx, RequestKey(recipient, donation), records.Fields{
		fClaimedBy: "",
		fClaimedAt: "",
	}, ifVersion)
	if err != nil {
		return nil, err
	}
	return toRequest(doc)
}

func (s *Requests) SetStatus(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID, status models.DeliveryStatus) (*models.RecipientRequest, error) {
	doc, err := s.records.Update(ctx, RequestKey(recipient, donation), records.Fields{fStatus: status.String()}, records.AnyVersion)
	if err != nil {
		return nil, err
	}
	return toRequest(doc)
}

func (s *Requests) Delete(ctx context.Context, recipient domain.RecipientID, donation domain.DonationID, ifVersion int64) error {
	return s.records.Delete(ctx, RequestKey(recipient, donation), ifVersion)
}

func (s *Requests) ListByRecipient(ctx context.Context, recipient domain.RecipientID) ([]*models.RecipientRequest, error) {
	docs, err := s.records.List(ctx, RequestsPath(recipient))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toRequest)
}

// ListUnclaimed scans every recipient for requests nobody holds.
func (s *Requests) ListUnclaimed(ctx context.Context) ([]*models.RecipientRequest, error) {
	docs, err := s.records.QueryGroup(ctx, SubAvailableFood, fClaimedBy, "")
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toRequest)
}

// ListByDonation scans every recipient for requests on one donation.
func (s *Requests) ListByDonation(ctx context.Context, donation domain.DonationID) ([]*models.RecipientRequest, error) {
	docs, err := s.records.QueryGroup(ctx, SubAvailableFood, fDonationID, donation.String())
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toRequest)
}
