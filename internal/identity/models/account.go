package models

import (
	"strings"
	"time"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

// Account is a directory entry: an authenticated identity plus its role tag.
//
// Invariants:
//   - Role is one of the closed role set
//   - Role changes only through an approved RoleChangeRequest (or the
//     bootstrap admin at startup)
type Account struct {
	ID        id.AccountID `json:"id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	PhotoURL  string       `json:"photo_url,omitempty"`
	Role      id.Role      `json:"role"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewAccount registers accountID with the default user role.
func NewAccount(accountID id.AccountID, name, email, photoURL string, now time.Time) (*Account, error) {
	if accountID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account id is required")
	}
	return &Account{
		ID:        accountID,
		Name:      strings.TrimSpace(name),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		PhotoURL:  strings.TrimSpace(photoURL),
		Role:      id.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ApplyRole sets the role tag.
func (a *Account) ApplyRole(role id.Role, now time.Time) {
	a.Role = role
	a.UpdatedAt = now
}

// RegisterRequest is the body of POST /me. Name and email default to the
// bearer token's claims when omitted.
type RegisterRequest struct {
	Name     string `json:"name" validate:"max=120"`
	Email    string `json:"email" validate:"omitempty,email"`
	PhotoURL string `json:"photo_url" validate:"omitempty,url"`
}

func (r *RegisterRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.PhotoURL = strings.TrimSpace(r.PhotoURL)
	return nil
}
