// Package access decides whether an actor may perform an operation.
//
// Role differences live in one permission table rather than in branches spread
// across services. Each entry either grants the operation outright or grants
// it only when the actor owns the target.
package access

import (
	"fmt"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

// Actor is the caller of a service operation, passed explicitly.
type Actor struct {
	ID   id.AccountID
	Role id.Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == id.RoleAdmin
}

// Authenticated reports whether the actor carries both an identity and a
// valid role.
func (a Actor) Authenticated() bool {
	return !a.ID.IsNil() && a.Role.IsValid()
}

// Operation names a guarded action.
type Operation string

const (
	OpDonationCreate    Operation = "donation.create"
	OpDonationUpdate    Operation = "donation.update"
	OpDonationDelete    Operation = "donation.delete"
	OpDonationVerify    Operation = "donation.verify"
	OpDonationReject    Operation = "donation.reject"
	OpDonationFeature   Operation = "donation.feature"
	OpDonationListAll   Operation = "donation.list_all"
	OpRequestSubmit     Operation = "request.submit"
	OpRequestAccept     Operation = "request.accept"
	OpRequestReject     Operation = "request.reject"
	OpRequestCancel     Operation = "request.cancel"
	OpRequestList       Operation = "request.list_for_donation"
	OpRequestMine       Operation = "request.list_mine"
	OpRequestIncoming   Operation = "request.list_incoming"
	OpPickupConfirm     Operation = "pickup.confirm"
	OpPickupMine        Operation = "pickup.list_mine"
	OpReviewSubmit      Operation = "review.submit"
	OpReviewDelete      Operation = "review.delete"
	OpReviewMine        Operation = "review.list_mine"
	OpFavoriteManage    Operation = "favorite.manage"
	OpRoleRequest       Operation = "role_request.submit"
	OpRoleRequestList   Operation = "role_request.list_all"
	OpRoleRequestDecide Operation = "role_request.decide"
	OpAccountList       Operation = "account.list"
	OpAccountDelete     Operation = "account.delete"
)

// Target describes the resource an operation acts on. OwnerID is the account
// that owns it: the donation's restaurant, the request's charity, the
// pickup's assigned charity or the review's author.
type Target struct {
	OwnerID id.AccountID
}

// Self is the target for operations on the actor's own data.
func Self(actor Actor) *Target {
	return &Target{OwnerID: actor.ID}
}

// Owned builds a target owned by ownerID.
func Owned(ownerID id.AccountID) *Target {
	return &Target{OwnerID: ownerID}
}

type grant uint8

const (
	deny grant = iota
	allowAny
	allowOwn
)

var permissions = map[id.Role]map[Operation]grant{
	id.RoleRestaurant: {
		OpDonationCreate:  allowAny,
		OpDonationUpdate:  allowOwn,
		OpDonationDelete:  allowOwn,
		OpRequestAccept:   allowOwn,
		OpRequestReject:   allowOwn,
		OpRequestList:     allowOwn,
		OpRequestIncoming: allowAny,
		OpReviewDelete:    allowOwn,
		OpReviewMine:      allowAny,
		OpFavoriteManage:  allowAny,
		OpRoleRequest:     allowAny,
	},
	id.RoleCharity: {
		OpRequestSubmit:  allowAny,
		OpRequestCancel:  allowOwn,
		OpRequestMine:    allowAny,
		OpPickupConfirm:  allowOwn,
		OpPickupMine:     allowAny,
		OpReviewSubmit:   allowAny,
		OpReviewDelete:   allowOwn,
		OpReviewMine:     allowAny,
		OpFavoriteManage: allowAny,
		OpRoleRequest:    allowAny,
	},
	id.RoleUser: {
		OpReviewSubmit:   allowAny,
		OpReviewDelete:   allowOwn,
		OpReviewMine:     allowAny,
		OpFavoriteManage: allowAny,
		OpRoleRequest:    allowAny,
	},
	id.RoleAdmin: {
		OpDonationVerify:    allowAny,
		OpDonationReject:    allowAny,
		OpDonationFeature:   allowAny,
		OpDonationListAll:   allowAny,
		OpRequestList:       allowAny,
		OpReviewDelete:      allowAny,
		OpReviewMine:        allowAny,
		OpFavoriteManage:    allowAny,
		OpRoleRequestList:   allowAny,
		OpRoleRequestDecide: allowAny,
		OpAccountList:       allowAny,
		OpAccountDelete:     allowAny,
	},
}

// CanPerform reports whether actor may perform op on target. target may be
// nil for operations that are not scoped to a resource; ownership-gated
// operations then deny.
func CanPerform(actor Actor, op Operation, target *Target) bool {
	if !actor.Authenticated() {
		return false
	}
	switch permissions[actor.Role][op] {
	case allowAny:
		return true
	case allowOwn:
		return target != nil && !target.OwnerID.IsNil() && target.OwnerID == actor.ID
	default:
		return false
	}
}

// Authorize is CanPerform as an error: Unauthenticated when the actor has no
// identity or role, Forbidden when the table denies.
func Authorize(actor Actor, op Operation, target *Target) error {
	if !actor.Authenticated() {
		return dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	if !CanPerform(actor, op, target) {
		return dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("role %s may not perform %s", actor.Role, op))
	}
	return nil
}
