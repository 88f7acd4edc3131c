package models

import (
	"time"

	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
)

// Recipient is the identity and contact snapshot a recipient attaches to a claim.
type Recipient struct {
	ID      domain.RecipientID `json:"recipient_id" validate:"required"`
	Name    string             `json:"recipient_name" validate:"required,max=120"`
	Phone   string             `json:"recipient_phone,omitempty" validate:"omitempty,max=32"`
	Address string             `json:"recipient_address,omitempty" validate:"omitempty,max=256"`
}

// Volunteer is the identity snapshot carried by tasks and notifications.
type Volunteer struct {
	ID    domain.VolunteerID `json:"volunteer_id" validate:"required"`
	Name  string             `json:"volunteer_name" validate:"required,max=120"`
	Phone string             `json:"volunteer_phone,omitempty" validate:"omitempty,max=32"`
}

// RecipientRequest is the recipient-owned claim on a donation. Its document
// id is the donation id, so a recipient holds at most one request per
// donation.
//
// Invariants:
//   - ClaimedBy is set only for VolunteerAssisted requests
//   - ClaimedBy changes only through a versioned compare-and-set, so at most
//     one volunteer holds the request at a time
type RecipientRequest struct {
	Donation    DonationSnapshot   `json:"donation"`
	Recipient   Recipient          `json:"recipient"`
	Mode        FulfillmentMode    `json:"fulfillment_mode" validate:"required,oneof=SelfPickup VolunteerAssisted"`
	Status      DeliveryStatus     `json:"status" validate:"required,oneof=Pending Delivered"`
	RequestedAt time.Time          `json:"requested_at"`
	ClaimedBy   domain.VolunteerID `json:"claimed_by,omitzero"`
	ClaimedAt   time.Time          `json:"claimed_at,omitzero"`
	Version     int64              `json:"-"`
}

// NewRecipientRequest builds a Pending request for donation.
func NewRecipientRequest(donation *Donation, recipient Recipient, mode FulfillmentMode, now time.Time) (*RecipientRequest, error) {
	r := &RecipientRequest{
		Donation:    donation.Snapshot(),
		Recipient:   recipient,
		Mode:        mode,
		Status:      DeliveryPending,
		RequestedAt: now,
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RecipientRequest) IsClaimed() bool {
	return !r.ClaimedBy.IsNil()
}

// CanAccept reports whether volunteer may take the request. Re-acceptance by
// the current holder is allowed so retries converge; nobody accepts food that
// has already been delivered.
func (r *RecipientRequest) CanAccept(volunteer domain.VolunteerID) error {
	if r.Mode != ModeVolunteerAssisted {
		return dErrors.New(dErrors.CodeValidation, "request does not need volunteer transport")
	}
	if r.Status == DeliveryDelivered {
		return dErrors.New(dErrors.CodeInvalidTransition, "request already delivered")
	}
	if r.IsClaimed() && r.ClaimedBy != volunteer {
		return dErrors.New(dErrors.CodeAlreadyClaimed, "request already accepted by another volunteer")
	}
	return nil
}

// CanReject reports whether the recipient may withdraw the request.
func (r *RecipientRequest) CanReject() error {
	if r.IsClaimed() {
		return dErrors.New(dErrors.CodeAlreadyClaimed, "a volunteer has accepted this request; ask them to cancel first")
	}
	return nil
}
