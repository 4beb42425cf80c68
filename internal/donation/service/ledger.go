package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"replate/internal/access"
	"replate/internal/donation/models"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/platform/sentinel"
	"replate/pkg/requestcontext"
)

// Arbitration outcomes recorded by metrics.
const (
	outcomeWon   = "won"
	outcomeLost  = "lost"
	outcomeError = "error"
)

// SubmitRequest records a charity's claim on an Available donation.
func (s *Service) SubmitRequest(ctx context.Context, actor access.Actor, donationID id.DonationID, in models.SubmitRequestRequest) (*models.Request, error) {
	if err := access.Authorize(actor, access.OpRequestSubmit, nil); err != nil {
		return nil, err
	}
	name := s.requesterName(ctx, actor.ID)

	var created *models.Request
	err := s.tx.RunInTx(ctx, donationID.String(), func(txCtx context.Context) error {
		d, err := s.lockDonation(txCtx, donationID)
		if err != nil {
			return err
		}
		if err := d.CanReceiveRequests(); err != nil {
			return err
		}
		existing, err := s.requests.ListByDonation(txCtx, donationID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load requests")
		}
		for _, r := range existing {
			if r.CharityID == actor.ID && r.Live() {
				return duplicateRequest(r)
			}
		}
		r := models.NewRequest(d, actor.ID, name, in.PreferredPickupAt, in.Note, requestcontext.Now(txCtx))
		if err := s.requests.Create(txCtx, r); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeDuplicateRequest, "charity already has an open request on this donation")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request")
		}
		created = r
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventRequestSubmitted),
			Subject:    d.ID.String(),
			Decision:   string(r.Status),
			RelatedIDs: []string{r.ID.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RequestsSubmitted.Inc()
	return created, nil
}

func duplicateRequest(r *models.Request) error {
	return dErrors.New(dErrors.CodeDuplicateRequest,
		"charity already has a "+string(r.Status)+" request on this donation")
}

func (s *Service) requesterName(ctx context.Context, accountID id.AccountID) string {
	if s.directory == nil {
		return ""
	}
	name, err := s.directory.DisplayName(ctx, accountID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve requester name",
			"error", err,
			"account_id", accountID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return ""
	}
	return name
}

// AcceptRequest is the arbitration step. In one unit of work keyed by the
// donation it accepts the request, rejects every Pending sibling, moves the
// donation to Requested and assigns a pickup. Of two concurrent accepts on
// the same donation exactly one succeeds; the other sees InvalidTransition.
func (s *Service) AcceptRequest(ctx context.Context, actor access.Actor, requestID id.RequestID) (result *models.AcceptResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "donation.AcceptRequest",
		trace.WithAttributes(attribute.String("request.id", requestID.String())))
	defer func() {
		outcome := outcomeWon
		switch {
		case dErrors.HasCode(err, dErrors.CodeInvalidTransition):
			outcome = outcomeLost
		case err != nil:
			outcome = outcomeError
		}
		s.metrics.ObserveArbitration(start, outcome)
		endSpan(span, err)
	}()

	if err := authorizeRole(actor, access.OpRequestAccept); err != nil {
		return nil, err
	}
	head, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, wrapStoreErr(err, "request", "failed to load request")
	}
	donationID := head.DonationID
	span.SetAttributes(attribute.String("donation.id", donationID.String()))

	res := &models.AcceptResult{}
	err = s.tx.RunInTx(ctx, donationID.String(), func(txCtx context.Context) error {
		d, err := s.lockDonation(txCtx, donationID)
		if err != nil {
			return err
		}
		if err := authorizeDonation(actor, access.OpRequestAccept, d); err != nil {
			return err
		}
		r, err := s.requests.FindByID(txCtx, requestID)
		if err != nil {
			return wrapStoreErr(err, "request", "failed to load request")
		}
		if err := r.CanDecide(); err != nil {
			return err
		}
		if err := d.CanAccept(); err != nil {
			return err
		}

		now := requestcontext.Now(txCtx)
		r.ApplyAccept(now)
		if err := s.requests.Update(txCtx, r, models.RequestPending); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeInvalidTransition, "donation already has an accepted request")
			}
			return wrapStoreErr(err, "request", "failed to accept request")
		}
		siblings, err := s.requests.RejectPending(txCtx, donationID, r.ID, models.ReasonSiblingAccepted, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reject competing requests")
		}
		d.ApplyRequested(now)
		if err := s.donations.Update(txCtx, d, models.DonationAvailable); err != nil {
			return wrapStoreErr(err, "donation", "failed to update donation")
		}
		p := models.NewPickup(r, d, now)
		if err := s.pickups.Create(txCtx, p); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeInvalidTransition, "donation already has a pickup")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to assign pickup")
		}

		rejectedIDs := make([]string, 0, len(siblings)+1)
		rejectedIDs = append(rejectedIDs, r.ID.String())
		for _, sib := range siblings {
			rejectedIDs = append(rejectedIDs, sib.ID.String())
		}
		if err := s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventRequestAccepted),
			Subject:    d.ID.String(),
			Decision:   string(d.Status),
			RelatedIDs: rejectedIDs,
		}); err != nil {
			return err
		}
		if err := s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventPickupAssigned),
			Subject:    p.ID.String(),
			Decision:   string(p.Status),
			RelatedIDs: []string{d.ID.String(), p.CharityID.String()},
		}); err != nil {
			return err
		}

		res.Accepted = r
		res.Rejected = siblings
		res.Donation = d
		res.Pickup = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Rejected == nil {
		res.Rejected = []*models.Request{}
	}
	s.invalidate(ctx, donationID)
	s.metrics.IncrementTransition(string(res.Donation.Status))
	s.logger.InfoContext(ctx, "request accepted",
		"donation_id", donationID,
		"request_id", requestcontext.RequestID(ctx),
		"accepted_request", requestID,
		"rejected_siblings", len(res.Rejected),
	)
	return res, nil
}

// RejectRequest declines one Pending request. The donation stays Available.
func (s *Service) RejectRequest(ctx context.Context, actor access.Actor, requestID id.RequestID, reason string) (*models.Request, error) {
	if err := authorizeRole(actor, access.OpRequestReject); err != nil {
		return nil, err
	}
	head, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, wrapStoreErr(err, "request", "failed to load request")
	}
	var rejected *models.Request
	err = s.tx.RunInTx(ctx, head.DonationID.String(), func(txCtx context.Context) error {
		d, err := s.lockDonation(txCtx, head.DonationID)
		if err != nil {
			return err
		}
		if err := authorizeDonation(actor, access.OpRequestReject, d); err != nil {
			return err
		}
		r, err := s.closeRequest(txCtx, requestID, reason)
		if err != nil {
			return err
		}
		rejected = r
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventRequestRejected),
			Subject:    d.ID.String(),
			Decision:   string(r.Status),
			Reason:     r.RejectionReason,
			RelatedIDs: []string{r.ID.String(), r.CharityID.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// CancelRequest lets a charity withdraw its own Pending request. The request
// ends Rejected with a withdrawal reason, so the charity may submit again.
func (s *Service) CancelRequest(ctx context.Context, actor access.Actor, requestID id.RequestID) (*models.Request, error) {
	if err := authorizeRole(actor, access.OpRequestCancel); err != nil {
		return nil, err
	}
	head, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, wrapStoreErr(err, "request", "failed to load request")
	}
	if err := access.Authorize(actor, access.OpRequestCancel, access.Owned(head.CharityID)); err != nil {
		return nil, err
	}
	var cancelled *models.Request
	err = s.tx.RunInTx(ctx, head.DonationID.String(), func(txCtx context.Context) error {
		if _, err := s.lockDonation(txCtx, head.DonationID); err != nil {
			return err
		}
		r, err := s.closeRequest(txCtx, requestID, models.ReasonWithdrawn)
		if err != nil {
			return err
		}
		cancelled = r
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventRequestCancelled),
			Subject:    r.DonationID.String(),
			Decision:   string(r.Status),
			Reason:     r.RejectionReason,
			RelatedIDs: []string{r.ID.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// closeRequest moves a Pending request to Rejected inside a unit of work
// that already holds the donation.
func (s *Service) closeRequest(ctx context.Context, requestID id.RequestID, reason string) (*models.Request, error) {
	r, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, wrapStoreErr(err, "request", "failed to load request")
	}
	if err := r.CanDecide(); err != nil {
		return nil, err
	}
	r.ApplyReject(reason, requestcontext.Now(ctx))
	if err := s.requests.Update(ctx, r, models.RequestPending); err != nil {
		return nil, wrapStoreErr(err, "request", "failed to reject request")
	}
	return r, nil
}

// ListRequestsForDonation returns every request on a donation in submission
// order. Only the owning restaurant and admins may look.
func (s *Service) ListRequestsForDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) ([]*models.Request, error) {
	if err := authorizeRole(actor, access.OpRequestList); err != nil {
		return nil, err
	}
	d, err := s.donations.FindByID(ctx, donationID)
	if err != nil {
		return nil, wrapStoreErr(err, "donation", "failed to load donation")
	}
	if err := authorizeDonation(actor, access.OpRequestList, d); err != nil {
		return nil, err
	}
	out, err := s.requests.ListByDonation(ctx, donationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return out, nil
}

// ListMyRequests returns the charity's own requests, newest first.
func (s *Service) ListMyRequests(ctx context.Context, actor access.Actor) ([]*models.Request, error) {
	if err := access.Authorize(actor, access.OpRequestMine, nil); err != nil {
		return nil, err
	}
	out, err := s.requests.ListByCharity(ctx, actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return out, nil
}

// ListIncomingRequests returns requests on the restaurant's donations, newest first.
func (s *Service) ListIncomingRequests(ctx context.Context, actor access.Actor) ([]*models.Request, error) {
	if err := access.Authorize(actor, access.OpRequestIncoming, nil); err != nil {
		return nil, err
	}
	out, err := s.requests.ListByRestaurant(ctx, actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return out, nil
}

// ListLatestRequests is the public activity feed. limit is clamped to the
// configured maximum.
func (s *Service) ListLatestRequests(ctx context.Context, limit int) ([]*models.Request, error) {
	if limit <= 0 || limit > s.latestLimit {
		limit = s.latestLimit
	}
	out, err := s.requests.ListLatest(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return out, nil
}
