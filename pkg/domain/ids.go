// Package domain holds the typed identifiers and small value types shared by
// every workflow package. Identifiers are parsed once at trust boundaries so
// services never handle raw strings.
package domain

import (
	"github.com/google/uuid"

	dErrors "foodlink/pkg/domain-errors"
)

type (
	DonorID     uuid.UUID
	RecipientID uuid.UUID
	VolunteerID uuid.UUID
	DonationID  uuid.UUID
	EventID     uuid.UUID
)

func (id DonorID) String() string     { return uuid.UUID(id).String() }
func (id RecipientID) String() string { return uuid.UUID(id).String() }
func (id VolunteerID) String() string { return uuid.UUID(id).String() }
func (id DonationID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string     { return uuid.UUID(id).String() }

func (id DonorID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id RecipientID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id VolunteerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DonationID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// Text marshaling lets ids appear as strings in JSON bodies and event payloads.
func (id DonorID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id RecipientID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id VolunteerID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id DonationID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }

func (id *DonorID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RecipientID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *VolunteerID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *DonationID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EventID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }

// NewDonationID assigns the identity of a freshly scheduled donation.
func NewDonationID() DonationID { return DonationID(uuid.New()) }

// NewEventID assigns the identity of a workflow event.
func NewEventID() EventID { return EventID(uuid.New()) }

func ParseDonorID(s string) (DonorID, error) {
	u, err := parseUUID(s, "donor_id")
	return DonorID(u), err
}

func ParseRecipientID(s string) (RecipientID, error) {
	u, err := parseUUID(s, "recipient_id")
	return RecipientID(u), err
}

func ParseVolunteerID(s string) (VolunteerID, error) {
	u, err := parseUUID(s, "volunteer_id")
	return VolunteerID(u), err
}

func ParseDonationID(s string) (DonationID, error) {
	u, err := parseUUID(s, "donation_id")
	return DonationID(u), err
}

// maxIDLength bounds input before parsing; the longest accepted uuid form
// ("urn:uuid:" prefix) is 45 bytes.
const maxIDLength = 64

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be nil")
	}
	return u, nil
}
