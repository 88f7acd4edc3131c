package domain

import dErrors "foodlink/pkg/domain-errors"

// Role is the party an authenticated actor acts as. The identity collaborator
// assigns it; the core only reads it.
type Role string

const (
	RoleDonor     Role = "donor"
	RoleRecipient Role = "recipient"
	RoleVolunteer Role = "volunteer"
)

var validRoles = map[Role]bool{
	RoleDonor:     true,
	RoleRecipient: true,
	RoleVolunteer: true,
}

// ParseRole constructs a Role from token claims or request input.
//
// Errors: CodeInvalidInput when the value is empty or unsupported.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

func (r Role) IsValid() bool {
	return validRoles[r]
}

func (r Role) String() string {
	return string(r)
}

// Actor is the authenticated caller of a workflow operation. Every actor id is
// a uuid; the role decides which typed id the services derive from it.
type Actor struct {
	ID   string
	Role Role
	Name string
}

func (a Actor) DonorID() (DonorID, error) {
	if a.Role != RoleDonor {
		return DonorID{}, dErrors.New(dErrors.CodeForbidden, "actor is not a donor")
	}
	return ParseDonorID(a.ID)
}

func (a Actor) RecipientID() (RecipientID, error) {
	if a.Role != RoleRecipient {
		return RecipientID{}, dErrors.New(dErrors.CodeForbidden, "actor is not a recipient")
	}
	return ParseRecipientID(a.ID)
}

func (a Actor) VolunteerID() (VolunteerID, error) {
	if a.Role != RoleVolunteer {
		return VolunteerID{}, dErrors.New(dErrors.CodeForbidden, "actor is not a volunteer")
	}
	return ParseVolunteerID(a.ID)
}
