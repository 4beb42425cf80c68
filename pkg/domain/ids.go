// Package domain holds shared value types used across modules.
//
// IDs are distinct named types over uuid.UUID so an AccountID can never be
// passed where a DonationID is expected. Construct them from external input
// with the Parse functions; those reject empty, malformed and nil UUIDs.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "replate/pkg/domain-errors"
)

type (
	AccountID     uuid.UUID
	DonationID    uuid.UUID
	RequestID     uuid.UUID
	PickupID      uuid.UUID
	ReviewID      uuid.UUID
	RoleRequestID uuid.UUID
)

func (id AccountID) String() string     { return uuid.UUID(id).String() }
func (id DonationID) String() string    { return uuid.UUID(id).String() }
func (id RequestID) String() string     { return uuid.UUID(id).String() }
func (id PickupID) String() string      { return uuid.UUID(id).String() }
func (id ReviewID) String() string      { return uuid.UUID(id).String() }
func (id RoleRequestID) String() string { return uuid.UUID(id).String() }

func (id AccountID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id DonationID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PickupID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ReviewID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id RoleRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// New* helpers mint random IDs for freshly created aggregates.
func NewAccountID() AccountID         { return AccountID(uuid.New()) }
func NewDonationID() DonationID       { return DonationID(uuid.New()) }
func NewRequestID() RequestID         { return RequestID(uuid.New()) }
func NewPickupID() PickupID           { return PickupID(uuid.New()) }
func NewReviewID() ReviewID           { return ReviewID(uuid.New()) }
func NewRoleRequestID() RoleRequestID { return RoleRequestID(uuid.New()) }

func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account id")
	return AccountID(u), err
}

func ParseDonationID(s string) (DonationID, error) {
	u, err := parseUUID(s, "donation id")
	return DonationID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request id")
	return RequestID(u), err
}

func ParsePickupID(s string) (PickupID, error) {
	u, err := parseUUID(s, "pickup id")
	return PickupID(u), err
}

func ParseReviewID(s string) (ReviewID, error) {
	u, err := parseUUID(s, "review id")
	return ReviewID(u), err
}

func ParseRoleRequestID(s string) (RoleRequestID, error) {
	u, err := parseUUID(s, "role request id")
	return RoleRequestID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	return u, nil
}

// Text marshaling keeps IDs as canonical UUID strings in JSON bodies and
// audit payloads.
func (id AccountID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id DonationID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id RequestID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id PickupID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id ReviewID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id RoleRequestID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *AccountID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *DonationID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RequestID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PickupID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ReviewID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RoleRequestID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
