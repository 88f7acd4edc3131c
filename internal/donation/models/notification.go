package models

import (
	"time"

	"foodlink/pkg/domain"
)

// DonorNotification is the donor's read-model of what happened to one
// donation. It may lag or be missing; RecipientRequest and VolunteerTask are
// authoritative.
type DonorNotification struct {
	DonorID        domain.DonorID     `json:"donor_id"`
	DonationID     domain.DonationID  `json:"donation_id"`
	FoodName       string             `json:"food_name,omitempty"`
	RecipientID    domain.RecipientID `json:"recipient_id,omitzero"`
	RecipientName  string             `json:"recipient_name,omitempty"`
	RecipientPhone string             `json:"recipient_phone,omitempty"`
	Mode           FulfillmentMode    `json:"fulfillment_mode,omitempty"`
	VolunteerID    domain.VolunteerID `json:"volunteer_id,omitzero"`
	VolunteerName  string             `json:"volunteer_name,omitempty"`
	VolunteerPhone string             `json:"volunteer_phone,omitempty"`
	FoodStatus     DeliveryStatus     `json:"food_status,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}
