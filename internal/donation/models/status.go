package models

import (
	dErrors "foodlink/pkg/domain-errors"
)

// DeliveryStatus is the workflow status shared by RecipientRequest.status,
// VolunteerTask.foodStatus and DonorNotification.foodStatus.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "Pending"
	DeliveryDelivered DeliveryStatus = "Delivered"
)

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "delivery status must be Pending or Delivered")
	}
	return st, nil
}

func (s DeliveryStatus) IsValid() bool {
	return s == DeliveryPending || s == DeliveryDelivered
}

// Toggled flips Pending and Delivered.
func (s DeliveryStatus) Toggled() DeliveryStatus {
	if s == DeliveryDelivered {
		return DeliveryPending
	}
	return DeliveryDelivered
}

func (s DeliveryStatus) String() string { return string(s) }

// LedgerStatus is the donor's own view of a scheduled donation. It is a
// separate state machine from DeliveryStatus and is never propagated.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "Pending"
	LedgerInTransit LedgerStatus = "InTransit"
	LedgerDelivered LedgerStatus = "Delivered"
)

func ParseLedgerStatus(s string) (LedgerStatus, error) {
	st := LedgerStatus(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "ledger status must be Pending, InTransit or Delivered")
	}
	return st, nil
}

func (s LedgerStatus) IsValid() bool {
	switch s {
	case LedgerPending, LedgerInTransit, LedgerDelivered:
		return true
	}
	return false
}

// Toggled flips between Pending and Delivered; InTransit toggles to Delivered.
func (s LedgerStatus) Toggled() LedgerStatus {
	if s == LedgerDelivered {
		return LedgerPending
	}
	return LedgerDelivered
}

func (s LedgerStatus) String() string { return string(s) }

// FulfillmentMode says how food reaches the recipient.
type FulfillmentMode string

const (
	ModeSelfPickup        FulfillmentMode = "SelfPickup"
	ModeVolunteerAssisted FulfillmentMode = "VolunteerAssisted"
)

func ParseFulfillmentMode(s string) (FulfillmentMode, error) {
	m := FulfillmentMode(s)
	if m != ModeSelfPickup && m != ModeVolunteerAssisted {
		return "", dErrors.New(dErrors.CodeValidation, "fulfillment mode must be SelfPickup or VolunteerAssisted")
	}
	return m, nil
}

func (m FulfillmentMode) String() string { return string(m) }
