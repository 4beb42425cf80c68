package models

import (
	"fmt"
	"strings"
	"time"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

type RoleRequestStatus string

const (
	RoleRequestPending  RoleRequestStatus = "Pending"
	RoleRequestApproved RoleRequestStatus = "Approved"
	RoleRequestRejected RoleRequestStatus = "Rejected"
)

// RoleChangeRequest asks an admin to change the requester's role.
//
// Invariants:
//   - RequestedRole is restaurant or charity; admin is never requestable
//   - At most one Pending request per requester
//   - Pending is the only non-terminal status; a decision is recorded once
//   - PaymentReference, when set, is the processor's receipt reference
type RoleChangeRequest struct {
	ID               id.RoleRequestID  `json:"id"`
	RequesterID      id.AccountID      `json:"requester_id"`
	RequestedRole    id.Role           `json:"requested_role"`
	OrganizationName string            `json:"organization_name"`
	SupportingInfo   string            `json:"supporting_info"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	AmountPaid       int64             `json:"amount_paid,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	Status           RoleRequestStatus `json:"status"`
	DecisionReason   string            `json:"decision_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	DecidedAt        *time.Time        `json:"decided_at,omitempty"`
	DecidedBy        *id.AccountID     `json:"decided_by,omitempty"`
}

// Requestable reports whether role may be asked for through a role request.
func Requestable(role id.Role) bool {
	return role == id.RoleRestaurant || role == id.RoleCharity
}

func NewRoleChangeRequest(requester id.AccountID, role id.Role, organization, info string, now time.Time) (*RoleChangeRequest, error) {
	if !Requestable(role) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("role %q cannot be requested", role))
	}
	organization = strings.TrimSpace(organization)
	if organization == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "organization name is required")
	}
	return &RoleChangeRequest{
		ID:               id.NewRoleRequestID(),
		RequesterID:      requester,
		RequestedRole:    role,
		OrganizationName: organization,
		SupportingInfo:   strings.TrimSpace(info),
		Status:           RoleRequestPending,
		CreatedAt:        now,
	}, nil
}

// CanDecide checks that the request is still Pending.
// Use with ApplyApproval or ApplyRejection inside the transaction callback.
func (r *RoleChangeRequest) CanDecide() error {
	if r.Status != RoleRequestPending {
		return dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("role request is %s, must be %s", r.Status, RoleRequestPending))
	}
	return nil
}

// ApplyApproval marks the request approved. Call CanDecide first.
func (r *RoleChangeRequest) ApplyApproval(admin id.AccountID, now time.Time) {
	r.Status = RoleRequestApproved
	r.DecidedAt = &now
	r.DecidedBy = &admin
}

// ApplyRejection marks the request rejected. Call CanDecide first.
func (r *RoleChangeRequest) ApplyRejection(admin id.AccountID, reason string, now time.Time) {
	r.Status = RoleRequestRejected
	r.DecisionReason = strings.TrimSpace(reason)
	r.DecidedAt = &now
	r.DecidedBy = &admin
}

// RecordPayment stores the receipt reference and amount, never card details.
func (r *RoleChangeRequest) RecordPayment(reference string, amount int64, currency string) {
	r.PaymentReference = reference
	r.AmountPaid = amount
	r.Currency = currency
}

// Transaction is one row of the role-payment history.
type Transaction struct {
	RoleRequestID    id.RoleRequestID  `json:"role_request_id"`
	TransactionID    string            `json:"transaction_id"`
	RequesterID      id.AccountID      `json:"requester_id"`
	OrganizationName string            `json:"organization_name"`
	SupportingInfo   string            `json:"supporting_info"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           RoleRequestStatus `json:"status"`
	Date             time.Time         `json:"date"`
}

// AsTransaction projects a paid request into the history view. ok is false
// for requests that carried no payment.
func (r *RoleChangeRequest) AsTransaction() (Transaction, bool) {
	if r.PaymentReference == "" {
		return Transaction{}, false
	}
	return Transaction{
		RoleRequestID:    r.ID,
		TransactionID:    r.PaymentReference,
		RequesterID:      r.RequesterID,
		OrganizationName: r.OrganizationName,
		SupportingInfo:   r.SupportingInfo,
		Amount:           r.AmountPaid,
		Currency:         r.Currency,
		Status:           r.Status,
		Date:             r.CreatedAt,
	}, true
}

// SubmitRoleRequest is the body of POST /role-requests. PaymentToken is the
// intent token returned by POST /role-requests/intent and is required for
// roles that carry a fee.
type SubmitRoleRequest struct {
	RequestedRole    string `json:"requested_role" validate:"required,oneof=restaurant charity"`
	OrganizationName string `json:"organization_name" validate:"required,max=200"`
	SupportingInfo   string `json:"supporting_info" validate:"max=2000"`
	PaymentToken     string `json:"payment_token"`
}

func (r *SubmitRoleRequest) Validate() error {
	r.OrganizationName = strings.TrimSpace(r.OrganizationName)
	r.SupportingInfo = strings.TrimSpace(r.SupportingInfo)
	r.PaymentToken = strings.TrimSpace(r.PaymentToken)
	if r.OrganizationName == "" {
		return dErrors.New(dErrors.CodeValidation, "organization_name is required")
	}
	return nil
}

// PaymentIntentRequest is the body of POST /role-requests/intent.
type PaymentIntentRequest struct {
	RequestedRole string `json:"requested_role" validate:"required,oneof=restaurant charity"`
}

func (r *PaymentIntentRequest) Validate() error {
	r.RequestedRole = strings.ToLower(strings.TrimSpace(r.RequestedRole))
	return nil
}

// DecideRoleRequest is the optional body of PATCH /role-requests/{id}/reject.
type DecideRoleRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (r *DecideRoleRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}
