// Package events is the append-only log of donation workflow actions and the
// projector that rebuilds DonorNotification from it.
//
// Workflow services write their records directly and then append an event.
// The projector replays the log into the donor's notification so a fan-out
// step that failed part-way is repaired without a retry by the caller.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"foodlink/internal/donation/models"
	"foodlink/pkg/domain"
)

// Type names a workflow action.
type Type string

const (
	TypeDonationScheduled Type = "donation.scheduled"
	TypeDonationClaimed   Type = "donation.claimed"
	TypeRequestRejected   Type = "request.rejected"
	TypeTaskAccepted      Type = "task.accepted"
	TypeTaskCancelled     Type = "task.cancelled"
	TypeStatusChanged     Type = "status.changed"
)

// DonationEvent is one entry in the log. Only the fields relevant to Type are
// populated.
type DonationEvent struct {
	ID             domain.EventID         `json:"event_id"`
	Type           Type                   `json:"type"`
	DonationID     domain.DonationID      `json:"donation_id"`
	DonorID        domain.DonorID         `json:"donor_id"`
	FoodName       string                 `json:"food_name,omitempty"`
	RecipientID    domain.RecipientID     `json:"recipient_id,omitzero"`
	RecipientName  string                 `json:"recipient_name,omitempty"`
	RecipientPhone string                 `json:"recipient_phone,omitempty"`
	Mode           models.FulfillmentMode `json:"fulfillment_mode,omitempty"`
	VolunteerID    domain.VolunteerID     `json:"volunteer_id,omitzero"`
	VolunteerName  string                 `json:"volunteer_name,omitempty"`
	VolunteerPhone string                 `json:"volunteer_phone,omitempty"`
	Status         models.DeliveryStatus  `json:"status,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
	RequestID      string                 `json:"request_id,omitempty"`
}

// New stamps an event with a fresh id and time.
func New(typ Type, donor domain.DonorID, donation domain.DonationID, at time.Time) DonationEvent {
	return DonationEvent{
		ID:         domain.NewEventID(),
		Type:       typ,
		DonorID:    donor,
		DonationID: donation,
		OccurredAt: at,
	}
}

func (e DonationEvent) WithRecipient(r models.Recipient) DonationEvent {
	e.RecipientID, e.RecipientName, e.RecipientPhone = r.ID, r.Name, r.Phone
	return e
}

func (e DonationEvent) WithVolunteer(v models.Volunteer) DonationEvent {
	e.VolunteerID, e.VolunteerName, e.VolunteerPhone = v.ID, v.Name, v.Phone
	return e
}

// Key partitions the log by donation so one donation's events stay ordered.
func (e DonationEvent) Key() []byte {
	return []byte(e.DonationID.String())
}

func Encode(e DonationEvent) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.Type, err)
	}
	return b, nil
}

func Decode(b []byte) (DonationEvent, error) {
	var e DonationEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return DonationEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" || e.DonationID.IsNil() {
		return DonationEvent{}, fmt.Errorf("decode event: type and donation_id are required")
	}
	return e, nil
}
