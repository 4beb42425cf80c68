package models

import (
	"fmt"
	"strings"
	"time"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestAccepted RequestStatus = "Accepted"
	RequestRejected RequestStatus = "Rejected"
)

// Rejection reasons written by the ledger itself.
const (
	ReasonSiblingAccepted = "Another request was accepted"
	ReasonWithdrawn       = "Withdrawn by charity"
)

// Request is a charity's claim on one donation.
//
// Invariants:
//   - Created only while the donation is Available
//   - At most one non-Rejected request per (donation, charity)
//   - At most one Accepted request per donation, enforced when accepting
//   - Accepted and Rejected are terminal
type Request struct {
	ID                id.RequestID  `json:"id"`
	DonationID        id.DonationID `json:"donation_id"`
	CharityID         id.AccountID  `json:"charity_id"`
	RestaurantID      id.AccountID  `json:"restaurant_id"`
	RequesterName     string        `json:"requester_name"`
	PreferredPickupAt *time.Time    `json:"preferred_pickup_at,omitempty"`
	Note              string        `json:"note,omitempty"`
	Status            RequestStatus `json:"status"`
	RejectionReason   string        `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	DecidedAt         *time.Time    `json:"decided_at,omitempty"`
}

// NewRequest builds a Pending request against d. The caller checks
// d.CanReceiveRequests inside the same unit of work.
func NewRequest(d *Donation, charity id.AccountID, requesterName string, preferred *time.Time, note string, now time.Time) *Request {
	return &Request{
		ID:                id.NewRequestID(),
		DonationID:        d.ID,
		CharityID:         charity,
		RestaurantID:      d.OwnerID,
		RequesterName:     strings.TrimSpace(requesterName),
		PreferredPickupAt: preferred,
		Note:              strings.TrimSpace(note),
		Status:            RequestPending,
		CreatedAt:         now,
	}
}

// Live reports whether the request still blocks a new one from the same charity.
func (r *Request) Live() bool {
	return r.Status != RequestRejected
}

// CanDecide checks that the request is still Pending.
func (r *Request) CanDecide() error {
	if r.Status != RequestPending {
		return dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("request is %s, must be %s", r.Status, RequestPending))
	}
	return nil
}

func (r *Request) ApplyAccept(now time.Time) {
	r.Status = RequestAccepted
	r.DecidedAt = &now
}

func (r *Request) ApplyReject(reason string, now time.Time) {
	r.Status = RequestRejected
	r.RejectionReason = strings.TrimSpace(reason)
	r.DecidedAt = &now
}
