package models

import (
	"time"

	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
)

// Layouts used by the pickup window.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type PickupWindow struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeFrom string `json:"time_from" validate:"required,datetime=15:04"`
	TimeTo   string `json:"time_to" validate:"required,datetime=15:04"`
}

// Day returns the pickup date, or the zero time if it does not parse.
func (w PickupWindow) Day() time.Time {
	t, _ := time.Parse(DateLayout, w.Date)
	return t
}

type Location struct {
	Address string `json:"address" validate:"required,max=256"`
	Pincode string `json:"pincode" validate:"required,numeric,min=4,max=10"`
}

// Donation is the donor-owned DonationRecord, the single source of truth for
// what was offered.
//
// Invariants:
//   - ID, DonorID and CreatedAt never change after scheduling
//   - the pickup window starts before it ends
//   - LedgerStatus is the donor's own history status; workflow copies carry
//     their own DeliveryStatus
type Donation struct {
	ID           domain.DonationID `json:"donation_id" validate:"required"`
	DonorID      domain.DonorID    `json:"donor_id" validate:"required"`
	DonorName    string            `json:"donor_name" validate:"required,max=120"`
	DonorPhone   string            `json:"donor_phone" validate:"omitempty,max=32"`
	FoodName     string            `json:"food_name" validate:"required,max=120"`
	FoodType     string            `json:"food_type" validate:"required,max=60"`
	Quantity     Quantity          `json:"quantity"`
	Window       PickupWindow      `json:"pickup_window"`
	Location     Location          `json:"location"`
	ImageRef     string            `json:"image_ref,omitempty" validate:"omitempty,url"`
	LedgerStatus LedgerStatus      `json:"donor_ledger_status" validate:"required,oneof=Pending InTransit Delivered"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Version      int64             `json:"-"`
}

// DonationDetails is the caller-authored part of a donation.
type DonationDetails struct {
	FoodName   string
	FoodType   string
	Quantity   Quantity
	Window     PickupWindow
	Location   Location
	ImageRef   string
	DonorPhone string
}

// NewDonation builds a validated Pending donation.
func NewDonation(id domain.DonationID, donor domain.Actor, donorID domain.DonorID, details DonationDetails, now time.Time) (*Donation, error) {
	if id.IsNil() || donorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "donation and donor ids are required")
	}
	d := &Donation{
		ID:           id,
		DonorID:      donorID,
		DonorName:    donor.Name,
		DonorPhone:   details.DonorPhone,
		FoodName:     details.FoodName,
		FoodType:     details.FoodType,
		Quantity:     details.Quantity,
		Window:       details.Window,
		Location:     details.Location,
		ImageRef:     details.ImageRef,
		LedgerStatus: LedgerPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// DonationEdit is an administrative edit by the owning donor. Nil fields are
// left unchanged.
type DonationEdit struct {
	FoodName *string
	FoodType *string
	Quantity *Quantity
	Window   *PickupWindow
	Location *Location
	ImageRef *string
}

func (e DonationEdit) IsEmpty() bool {
	return e.FoodName == nil && e.FoodType == nil && e.Quantity == nil &&
		e.Window == nil && e.Location == nil && e.ImageRef == nil
}

// ApplyEdit returns a copy of d with the edit applied and revalidated.
func (d Donation) ApplyEdit(e DonationEdit, now time.Time) (*Donation, error) {
	if e.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeValidation, "edit changes nothing")
	}
	if e.FoodName != nil {
		d.FoodName = *e.FoodName
	}
	if e.FoodType != nil {
		d.FoodType = *e.FoodType
	}
	if e.Quantity != nil {
		d.Quantity = *e.Quantity
	}
	if e.Window != nil {
		d.Window = *e.Window
	}
	if e.Location != nil {
		d.Location = *e.Location
	}
	if e.ImageRef != nil {
		d.ImageRef = *e.ImageRef
	}
	d.UpdatedAt = now
	if err := Validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Snapshot copies the attributes that travel with requests and tasks.
func (d *Donation) Snapshot() DonationSnapshot {
	return DonationSnapshot{
		DonationID: d.ID,
		DonorID:    d.DonorID,
		DonorName:  d.DonorName,
		DonorPhone: d.DonorPhone,
		FoodName:   d.FoodName,
		FoodType:   d.FoodType,
		Quantity:   d.Quantity,
		Window:     d.Window,
		Location:   d.Location,
		ImageRef:   d.ImageRef,
	}
}

// DonationSnapshot is the denormalized copy of a donation held by the
// recipient and volunteer. It is taken at claim time and never refreshed.
type DonationSnapshot struct {
	DonationID domain.DonationID `json:"donation_id" validate:"required"`
	DonorID    domain.DonorID    `json:"donor_id" validate:"required"`
	DonorName  string            `json:"donor_name"`
	DonorPhone string            `json:"donor_phone,omitempty"`
	FoodName   string            `json:"food_name" validate:"required"`
	FoodType   string            `json:"food_type"`
	Quantity   Quantity          `json:"quantity"`
	Window     PickupWindow      `json:"pickup_window"`
	Location   Location          `json:"location"`
	ImageRef   string            `json:"image_ref,omitempty"`
}
