package models

import (
	"time"

	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
)

// TaskID is the volunteer task document id for a recipient's request.
func TaskID(recipient domain.RecipientID, donation domain.DonationID) string {
	return recipient.String() + "_" + donation.String()
}

// VolunteerTask is the volunteer-owned transport job for a VolunteerAssisted
// request.
type VolunteerTask struct {
	Volunteer  Volunteer        `json:"volunteer"`
	Recipient  Recipient        `json:"recipient"`
	Donation   DonationSnapshot `json:"donation"`
	FoodStatus DeliveryStatus   `json:"food_status" validate:"required,oneof=Pending Delivered"`
	AcceptedAt time.Time        `json:"accepted_at"`
	Version    int64            `json:"-"`
}

func (t *VolunteerTask) ID() string {
	return TaskID(t.Recipient.ID, t.Donation.DonationID)
}

// NewVolunteerTask builds a Pending task from an accepted request.
func NewVolunteerTask(volunteer Volunteer, req *RecipientRequest, now time.Time) (*VolunteerTask, error) {
	t := &VolunteerTask{
		Volunteer:  volunteer,
		Recipient:  req.Recipient,
		Donation:   req.Donation,
		FoodStatus: DeliveryPending,
		AcceptedAt: now,
	}
	if err := Validate(t); err != nil {
		return nil, err
	}
	return t, nil
}

// CanCancel refuses once the food has been delivered.
func (t *VolunteerTask) CanCancel() error {
	if t.FoodStatus == DeliveryDelivered {
		return dErrors.New(dErrors.CodeInvalidTransition, "task already delivered and cannot be cancelled")
	}
	return nil
}
