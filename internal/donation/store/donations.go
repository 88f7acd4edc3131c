package store

import (
	"context"
	"time"

	"foodlink/internal/donation/models"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
)

// Donations persists donor-owned DonationRecords.
type Donations struct {
	records records.Store
}

func NewDonations(rs records.Store) *Donations {
	return &Donations{records: rs}
}

// Create writes a new donation; sentinel.ErrAlreadyUsed if the id is taken.
func (s *Donations) Create(ctx context.Context, d *models.Donation) error {
	doc, err := s.records.Create(ctx, DonationKey(d.DonorID, d.ID), donationFields(d))
	if err != nil {
		return err
	}
	d.Version = doc.Version
	return nil
}

func (s *Donations) Get(ctx context.Context, donor domain.DonorID, id domain.DonationID) (*models.Donation, error) {
	doc, err := s.records.Get(ctx, DonationKey(donor, id))
	if err != nil {
		return nil, err
	}
	return toDonation(doc)
}

// Replace rewrites the record if it is still at d.Version.
func (s *Donations) Replace(ctx context.Context, d *models.Donation) error {
	doc, err := s.records.Update(ctx, DonationKey(d.DonorID, d.ID), donationFields(d), d.Version)
	if err != nil {
		return err
	}
	d.Version = doc.Version
	return nil
}

func (s *Donations) SetLedgerStatus(ctx context.Context, donor domain.DonorID, id domain.DonationID, status models.LedgerStatus, at time.Time) (*models.Donation, error) {
	doc, err := s.records.Update(ctx, DonationKey(donor, id), records.Fields{
		fLedgerStatus: status.String(),
		fUpdatedAt:    formatTime(at),
	}, records.AnyVersion)
	if err != nil {
		return nil, err
	}
	return toDonation(doc)
}

func (s *Donations) ListByDonor(ctx context.Context, donor domain.DonorID) ([]*models.Donation, error) {
	docs, err := s.records.List(ctx, SchedulePath(donor))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toDonation)
}

// ListByLedgerStatus scans every donor's schedule.
func (s *Donations) ListByLedgerStatus(ctx context.Context, status models.LedgerStatus) ([]*models.Donation, error) {
	docs, err := s.records.QueryGroup(ctx, SubSchedule, fLedgerStatus, status.String())
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, toDonation)
}
