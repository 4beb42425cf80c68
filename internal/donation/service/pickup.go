package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"replate/internal/access"
	"replate/internal/donation/models"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/requestcontext"
)

// ConfirmPickup marks the assigned charity's pickup as collected and moves the
// donation to PickedUp in the same unit of work.
func (s *Service) ConfirmPickup(ctx context.Context, actor access.Actor, pickupID id.PickupID) (_ *models.Pickup, err error) {
	ctx, span := s.tracer.Start(ctx, "donation.ConfirmPickup",
		trace.WithAttributes(attribute.String("pickup.id", pickupID.String())))
	defer func() { endSpan(span, err) }()

	if err := authorizeRole(actor, access.OpPickupConfirm); err != nil {
		return nil, err
	}
	head, err := s.pickups.FindByID(ctx, pickupID)
	if err != nil {
		return nil, wrapStoreErr(err, "pickup", "failed to load pickup")
	}
	if err := access.Authorize(actor, access.OpPickupConfirm, access.Owned(head.CharityID)); err != nil {
		return nil, err
	}

	var confirmed *models.Pickup
	err = s.tx.RunInTx(ctx, head.DonationID.String(), func(txCtx context.Context) error {
		d, err := s.lockDonation(txCtx, head.DonationID)
		if err != nil {
			return err
		}
		p, err := s.pickups.FindByID(txCtx, pickupID)
		if err != nil {
			return wrapStoreErr(err, "pickup", "failed to load pickup")
		}
		if err := p.CanConfirm(); err != nil {
			return err
		}
		if err := d.CanPickUp(); err != nil {
			return err
		}
		now := requestcontext.Now(txCtx)
		p.ApplyConfirm(now)
		if err := s.pickups.Update(txCtx, p, models.PickupAssigned); err != nil {
			return wrapStoreErr(err, "pickup", "failed to confirm pickup")
		}
		d.ApplyPickedUp(now)
		if err := s.donations.Update(txCtx, d, models.DonationRequested); err != nil {
			return wrapStoreErr(err, "donation", "failed to update donation")
		}
		confirmed = p
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventPickupConfirmed),
			Subject:    p.ID.String(),
			Decision:   string(p.Status),
			RelatedIDs: []string{d.ID.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, head.DonationID)
	s.metrics.PickupsConfirmed.Inc()
	s.metrics.IncrementTransition(string(models.DonationPickedUp))
	return confirmed, nil
}

// ListPickupsForCharity returns the charity's pickups joined with the donation
// details it needs to collect them.
func (s *Service) ListPickupsForCharity(ctx context.Context, actor access.Actor) ([]models.PickupView, error) {
	if err := access.Authorize(actor, access.OpPickupMine, nil); err != nil {
		return nil, err
	}
	pickups, err := s.pickups.ListByCharity(ctx, actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pickups")
	}
	ids := make([]id.DonationID, 0, len(pickups))
	for _, p := range pickups {
		ids = append(ids, p.DonationID)
	}
	donations, err := s.donations.ListByIDs(ctx, ids)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load donations")
	}
	byID := make(map[id.DonationID]*models.Donation, len(donations))
	for _, d := range donations {
		byID[d.ID] = d
	}
	views := make([]models.PickupView, 0, len(pickups))
	for _, p := range pickups {
		views = append(views, models.NewPickupView(p, byID[p.DonationID]))
	}
	return views, nil
}
