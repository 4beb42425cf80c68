package service

import (
	"context"
	"errors"
	"fmt"

	"replate/internal/access"
	"replate/internal/identity/models"
	"replate/internal/payment"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/platform/sentinel"
	"replate/pkg/requestcontext"
)

// CreatePaymentIntent opens a payment for a paid role. Free roles are a
// validation error since there is nothing to pay.
func (s *Service) CreatePaymentIntent(ctx context.Context, actor access.Actor, role id.Role) (payment.Intent, error) {
	if err := access.Authorize(actor, access.OpRoleRequest, access.Self(actor)); err != nil {
		return payment.Intent{}, err
	}
	fee := s.fees[role]
	if fee == 0 {
		return payment.Intent{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("role %s does not require payment", role))
	}
	intent, err := s.payments.CreateIntent(ctx, fee, s.currency)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create payment intent",
			"error", err,
			"account_id", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return payment.Intent{}, err
	}
	return intent, nil
}

// SubmitRoleRequest files a Pending request. For paid roles the payment token
// is confirmed with the processor first and only its receipt reference and
// amount are stored.
func (s *Service) SubmitRoleRequest(ctx context.Context, actor access.Actor, in models.SubmitRoleRequest) (*models.RoleChangeRequest, error) {
	if err := access.Authorize(actor, access.OpRoleRequest, access.Self(actor)); err != nil {
		return nil, err
	}
	role, err := id.ParseRole(in.RequestedRole)
	if err != nil || !models.Requestable(role) {
		return nil, dErrors.New(dErrors.CodeValidation, "requested_role must be restaurant or charity")
	}
	if role == actor.Role {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("account already has role %s", role))
	}

	var receipt payment.Receipt
	if fee := s.fees[role]; fee > 0 {
		if in.PaymentToken == "" {
			return nil, dErrors.New(dErrors.CodePaymentRequired, fmt.Sprintf("role %s requires payment", role))
		}
		receipt, err = s.payments.ConfirmIntent(ctx, in.PaymentToken)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return nil, dErrors.New(dErrors.CodePaymentRequired, "payment not found")
			}
			return nil, err
		}
		if !receipt.Paid() || receipt.Amount < fee {
			return nil, dErrors.New(dErrors.CodePaymentRequired, "payment has not been completed")
		}
	}

	// One receipt backs at most one request across all accounts.
	key := actor.ID.String()
	if receipt.Reference != "" {
		key = "payment:" + receipt.Reference
	}
	var created *models.RoleChangeRequest
	err = s.tx.RunInTx(ctx, key, func(txCtx context.Context) error {
		if receipt.Reference != "" {
			if err := s.ensurePaymentUnused(txCtx, receipt.Reference); err != nil {
				return err
			}
		}
		req, err := models.NewRoleChangeRequest(actor.ID, role, in.OrganizationName, in.SupportingInfo, requestcontext.Now(txCtx))
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, err.Error())
		}
		if receipt.Reference != "" {
			req.RecordPayment(receipt.Reference, receipt.Amount, receipt.Currency)
		}
		if err := s.requests.Create(txCtx, req); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "a role request is already pending or the payment was already used")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create role request")
		}
		created = req
		return s.emit(txCtx, audit.Event{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    string(audit.EventRoleRequested),
			Subject:   req.ID.String(),
			Decision:  string(role),
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) ensurePaymentUnused(ctx context.Context, reference string) error {
	_, err := s.requests.FindByPaymentReference(ctx, reference)
	switch {
	case err == nil:
		return dErrors.New(dErrors.CodeConflict, "payment was already used for a role request")
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check payment reference")
	}
}

// ListRoleRequests returns every request for admins and the caller's own
// requests otherwise, newest first.
func (s *Service) ListRoleRequests(ctx context.Context, actor access.Actor) ([]*models.RoleChangeRequest, error) {
	if !actor.Authenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	var filter *id.AccountID
	if !access.CanPerform(actor, access.OpRoleRequestList, nil) {
		filter = &actor.ID
	}
	reqs, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list role requests")
	}
	return reqs, nil
}

// ListTransactions is the payment history: role requests that carried a
// payment, scoped like ListRoleRequests.
func (s *Service) ListTransactions(ctx context.Context, actor access.Actor) ([]models.Transaction, error) {
	reqs, err := s.ListRoleRequests(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(reqs))
	for _, r := range reqs {
		if tx, ok := r.AsTransaction(); ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

// ApproveRoleRequest approves a Pending request and applies the requested role
// to the requester in the same unit of work.
func (s *Service) ApproveRoleRequest(ctx context.Context, actor access.Actor, reqID id.RoleRequestID) (*models.RoleChangeRequest, error) {
	if err := access.Authorize(actor, access.OpRoleRequestDecide, nil); err != nil {
		return nil, err
	}
	var decided *models.RoleChangeRequest
	err := s.tx.RunInTx(ctx, reqID.String(), func(txCtx context.Context) error {
		req, err := s.requests.FindForUpdate(txCtx, reqID)
		if err != nil {
			return wrapRoleRequestErr(err, "failed to load role request")
		}
		if err := req.CanDecide(); err != nil {
			return err
		}
		if _, err := s.accounts.FindByID(txCtx, req.RequesterID); err != nil {
			return wrapAccountErr(err, "failed to load requester")
		}

		req.ApplyApproval(actor.ID, requestcontext.Now(txCtx))
		if err := s.requests.Update(txCtx, req); err != nil {
			return wrapRoleRequestErr(err, "failed to approve role request")
		}
		if err := s.SetRole(txCtx, req.RequesterID, req.RequestedRole); err != nil {
			return err
		}
		decided = req
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventRoleRequestApproved),
			Subject:    req.ID.String(),
			Decision:   string(req.Status),
			RelatedIDs: []string{req.RequesterID.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}

// RejectRoleRequest rejects a Pending request. The directory is unchanged.
func (s *Service) RejectRoleRequest(ctx context.Context, actor access.Actor, reqID id.RoleRequestID, reason string) (*models.RoleChangeRequest, error) {
	if err := access.Authorize(actor, access.OpRoleRequestDecide, nil); err != nil {
		return nil, err
	}
	var decided *models.RoleChangeRequest
	err := s.tx.RunInTx(ctx, reqID.String(), func(txCtx context.Context) error {
		req, err := s.requests.FindForUpdate(txCtx, reqID)
		if err != nil {
			return wrapRoleRequestErr(err, "failed to load role request")
		}
		if err := req.CanDecide(); err != nil {
			return err
		}
		req.ApplyRejection(actor.ID, reason, requestcontext.Now(txCtx))
		if err := s.requests.Update(txCtx, req); err != nil {
			return wrapRoleRequestErr(err, "failed to reject role request")
		}
		decided = req
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventRoleRequestRejected),
			Subject:    req.ID.String(),
			Decision:   string(req.Status),
			Reason:     req.DecisionReason,
			RelatedIDs: []string{req.RequesterID.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}
