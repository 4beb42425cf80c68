package audit

import (
	"context"
	"time"

	id "replate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers directory changes: role grants, account removal.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers denied or suspicious actions.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers the donation lifecycle itself.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	// ActorID is the account that performed the action.
	ActorID   id.AccountID
	ActorRole id.Role
	// Subject is the aggregate the action touched, e.g. a donation ID.
	Subject string
	Action  string
	// Decision is the resulting state, e.g. "Requested" after an acceptance.
	Decision string
	Reason   string
	// RelatedIDs lists secondary aggregates, e.g. sibling requests rejected by
	// an acceptance.
	RelatedIDs []string
	RequestID  string
	Client     string
	ClientIP   string
}

type AuditEvent string

const (
	// Donation catalog
	EventDonationCreated  AuditEvent = "donation_created"
	EventDonationUpdated  AuditEvent = "donation_updated"
	EventDonationDeleted  AuditEvent = "donation_deleted"
	EventDonationVerified AuditEvent = "donation_verified"
	EventDonationRejected AuditEvent = "donation_rejected"
	EventDonationFeatured AuditEvent = "donation_featured"

	// Request ledger
	EventRequestSubmitted AuditEvent = "request_submitted"
	EventRequestAccepted  AuditEvent = "request_accepted"
	EventRequestRejected  AuditEvent = "request_rejected"
	EventRequestCancelled AuditEvent = "request_cancelled"

	// Pickup coordinator
	EventPickupAssigned  AuditEvent = "pickup_assigned"
	EventPickupConfirmed AuditEvent = "pickup_confirmed"

	// Review gate
	EventReviewSubmitted AuditEvent = "review_submitted"
	EventReviewDeleted   AuditEvent = "review_deleted"
	EventReviewDenied    AuditEvent = "review_denied"

	// Identity directory
	EventAccountRegistered   AuditEvent = "account_registered"
	EventAccountDeleted      AuditEvent = "account_deleted"
	EventRoleRequested       AuditEvent = "role_requested"
	EventRoleRequestApproved AuditEvent = "role_request_approved"
	EventRoleRequestRejected AuditEvent = "role_request_rejected"
	EventRoleChanged         AuditEvent = "role_changed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAccountRegistered:   CategoryCompliance,
	EventAccountDeleted:      CategoryCompliance,
	EventRoleRequestApproved: CategoryCompliance,
	EventRoleRequestRejected: CategoryCompliance,
	EventRoleChanged:         CategoryCompliance,

	EventReviewDenied: CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. The PostgreSQL store writes to the outbox inside
// the caller's transaction when one is present in ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
