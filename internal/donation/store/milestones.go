package store

import (
	"context"
	"errors"

	"foodlink/internal/donation/models"
	"foodlink/internal/records"
	"foodlink/pkg/domain"
	"foodlink/pkg/platform/sentinel"
)

// Milestones persists the derived per-donor MilestoneState.
type Milestones struct {
	records records.Store
}

func NewMilestones(rs records.Store) *Milestones {
	return &Milestones{records: rs}
}

// Get returns the stored state, or a zero state at version 0 if the donor has
// none yet.
func (s *Milestones) Get(ctx context.Context, donor domain.DonorID) (*models.MilestoneState, error) {
	doc, err := s.records.Get(ctx, MilestoneKey(donor))
	if errors.Is(err, sentinel.ErrNotFound) {
		return &models.MilestoneState{DonorID: donor}, nil
	}
	if err != nil {
		return nil, err
	}
	return toMilestone(doc)
}

// Save writes m if the stored state is still at m.Version. Version 0 means
// the state must not exist yet. Both races surface as sentinel.ErrConflict.
func (s *Milestones) Save(ctx context.Context, m *models.MilestoneState) error {
	fields, err := milestoneFields(m)
	if err != nil {
		return err
	}
	key := MilestoneKey(m.DonorID)

	var doc *records.Document
	if m.Version == 0 {
		doc, err = s.records.Create(ctx, key, fields)
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return sentinel.ErrConflict
		}
	} else {
		if len(m.Certificates) == 0 {
			fields[fCertificates] = ""
		}
		doc, err = s.records.Update(ctx, key, fields, m.Version)
	}
	if err != nil {
		return err
	}
	m.Version = doc.Version
	return nil
}
