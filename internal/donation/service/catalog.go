package service

import (
	"context"
	"slices"
	"time"

	"replate/internal/access"
	"replate/internal/donation/models"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/requestcontext"
)

// CreateDonation lists a new donation in Pending, awaiting admin verification.
func (s *Service) CreateDonation(ctx context.Context, actor access.Actor, in models.CreateDonationInput) (*models.Donation, error) {
	if err := access.Authorize(actor, access.OpDonationCreate, nil); err != nil {
		return nil, err
	}
	fields := in.Fields
	if in.Image != nil {
		url, err := s.uploadImage(ctx, actor, in.Image)
		if err != nil {
			return nil, err
		}
		fields.ImageURL = url
	}
	d, err := models.NewDonation(actor.ID, fields, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, d.ID.String(), func(txCtx context.Context) error {
		if err := s.donations.Create(txCtx, d); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create donation")
		}
		return s.emit(txCtx, audit.Event{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    string(audit.EventDonationCreated),
			Subject:   d.ID.String(),
			Decision:  string(d.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DonationsCreated.Inc()
	return d, nil
}

func (s *Service) uploadImage(ctx context.Context, actor access.Actor, img *models.ImageUpload) (string, error) {
	if s.images == nil {
		return "", dErrors.New(dErrors.CodeUnavailable, "image uploads are not configured")
	}
	url, err := s.images.Upload(ctx, img.Data, img.Filename)
	if err != nil {
		s.logger.WarnContext(ctx, "image upload failed",
			"error", err,
			"account_id", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return "", err
	}
	return url, nil
}

// UpdateDonation replaces the fields of the owner's donation while it is
// still Pending.
func (s *Service) UpdateDonation(ctx context.Context, actor access.Actor, donationID id.DonationID, in models.CreateDonationInput) (*models.Donation, error) {
	if err := authorizeRole(actor, access.OpDonationUpdate); err != nil {
		return nil, err
	}
	current, err := s.donations.FindByID(ctx, donationID)
	if err != nil {
		return nil, wrapStoreErr(err, "donation", "failed to load donation")
	}
	if err := authorizeDonation(actor, access.OpDonationUpdate, current); err != nil {
		return nil, err
	}
	if err := current.CanEdit(); err != nil {
		return nil, err
	}
	fields := in.Fields
	if in.Image != nil {
		url, err := s.uploadImage(ctx, actor, in.Image)
		if err != nil {
			return nil, err
		}
		fields.ImageURL = url
	}

	var updated *models.Donation
	err = s.tx.RunInTx(ctx, donationID.String(), func(txCtx context.Context) error {
		d, err := s.lockDonation(txCtx, donationID)
		if err != nil {
			return err
		}
		if err := d.CanEdit(); err != nil {
			return err
		}
		if err := d.ApplyEdit(fields, requestcontext.Now(txCtx)); err != nil {
			return err
		}
		if err := s.donations.Update(txCtx, d, models.DonationPending); err != nil {
			return wrapStoreErr(err, "donation", "failed to update donation")
		}
		updated = d
		return s.emit(txCtx, audit.Event{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    string(audit.EventDonationUpdated),
			Subject:   d.ID.String(),
			Decision:  string(d.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, donationID)
	return updated, nil
}

// ReplaceImage uploads a new image for the owner's Pending donation and keeps
// every other field.
func (s *Service) ReplaceImage(ctx context.Context, actor access.Actor, donationID id.DonationID, img models.ImageUpload) (*models.Donation, error) {
	if err := authorizeRole(actor, access.OpDonationUpdate); err != nil {
		return nil, err
	}
	current, err := s.donations.FindByID(ctx, donationID)
	if err != nil {
		return nil, wrapStoreErr(err, "donation", "failed to load donation")
	}
	if err := authorizeDonation(actor, access.OpDonationUpdate, current); err != nil {
		return nil, err
	}
	return s.UpdateDonation(ctx, actor, donationID, models.CreateDonationInput{
		Fields: current.Fields(),
		Image:  &img,
	})
}

// DeleteDonation removes the owner's donation while it is Pending or
// Rejected, before any charity could have claimed it.
func (s *Service) DeleteDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) error {
	if err := authorizeRole(actor, access.OpDonationDelete); err != nil {
		return err
	}
	err := s.tx.RunInTx(ctx, donationID.String(), func(txCtx context.Context) error {
		d, err := s.lockDonation(txCtx, donationID)
		if err != nil {
			return err
		}
		if err := authorizeDonation(actor, access.OpDonationDelete, d); err != nil {
			return err
		}
		if err := d.CanDelete(); err != nil {
			return err
		}
		if err := s.favorites.DeleteByDonation(txCtx, donationID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete favorites")
		}
		if err := s.donations.Delete(txCtx, donationID); err != nil {
			return wrapStoreErr(err, "donation", "failed to delete donation")
		}
		return s.emit(txCtx, audit.Event{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    string(audit.EventDonationDeleted),
			Subject:   donationID.String(),
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, donationID)
	return nil
}

// VerifyDonation moves a Pending donation to Available.
func (s *Service) VerifyDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) (*models.Donation, error) {
	return s.decide(ctx, actor, donationID, access.OpDonationVerify, audit.EventDonationVerified,
		(*models.Donation).CanVerify, (*models.Donation).ApplyVerify)
}

// RejectDonation moves a Pending donation to the terminal Rejected status.
func (s *Service) RejectDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) (*models.Donation, error) {
	return s.decide(ctx, actor, donationID, access.OpDonationReject, audit.EventDonationRejected,
		(*models.Donation).CanReject, (*models.Donation).ApplyReject)
}

func (s *Service) decide(
	ctx context.Context,
	actor access.Actor,
	donationID id.DonationID,
	op access.Operation,
	event audit.AuditEvent,
	check func(*models.Donation) error,
	apply func(*models.Donation, time.Time),
) (*models.Donation, error) {
	if err := access.Authorize(actor, op, nil); err != nil {
		return nil, err
	}
	var decided *models.Donation
	err := s.tx.RunInTx(ctx, donationID.String(), func(txCtx context.Context) error {
		d, err := s.lockDonation(txCtx, donationID)
		if err != nil {
			return err
		}
		if err := check(d); err != nil {
			return err
		}
		expected := d.Status
		apply(d, requestcontext.Now(txCtx))
		if err := s.donations.Update(txCtx, d, expected); err != nil {
			return wrapStoreErr(err, "donation", "failed to update donation")
		}
		decided = d
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(event),
			Subject:    d.ID.String(),
			Decision:   string(d.Status),
			RelatedIDs: []string{d.OwnerID.String()},
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, donationID)
	s.metrics.IncrementTransition(string(decided.Status))
	return decided, nil
}

// MarkFeatured sets the featured flag. Featuring twice is not an error;
// the result says which case applied.
func (s *Service) MarkFeatured(ctx context.Context, actor access.Actor, donationID id.DonationID) (models.FeatureResult, error) {
	if err := access.Authorize(actor, access.OpDonationFeature, nil); err != nil {
		return models.FeatureResult{}, err
	}
	var result models.FeatureResult
	err := s.tx.RunInTx(ctx, donationID.String(), func(txCtx context.Context) error {
		d, err := s.lockDonation(txCtx, donationID)
		if err != nil {
			return err
		}
		result.Donation = d
		if result.AlreadyFeatured = d.ApplyFeatured(requestcontext.Now(txCtx)); result.AlreadyFeatured {
			return nil
		}
		if err := s.donations.Update(txCtx, d, d.Status); err != nil {
			return wrapStoreErr(err, "donation", "failed to feature donation")
		}
		return s.emit(txCtx, audit.Event{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    string(audit.EventDonationFeatured),
			Subject:   d.ID.String(),
		})
	})
	if err != nil {
		return models.FeatureResult{}, err
	}
	if !result.AlreadyFeatured {
		s.invalidate(ctx, donationID)
	}
	return result, nil
}

// GetDonation returns a donation. Pending and Rejected donations are only
// visible to their owner and admins; others get NotFound.
func (s *Service) GetDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) (*models.Donation, error) {
	load := func(ctx context.Context) (*models.Donation, error) {
		return s.donations.FindByID(ctx, donationID)
	}
	var (
		d   *models.Donation
		err error
	)
	if s.cache != nil {
		d, err = s.cache.Get(ctx, donationID, load)
	} else {
		d, err = load(ctx)
	}
	if err != nil {
		return nil, wrapStoreErr(err, "donation", "failed to load donation")
	}
	if !canSee(actor, d) {
		return nil, dErrors.New(dErrors.CodeNotFound, "donation not found")
	}
	return d, nil
}

// ListDonations searches the catalog. Admins see every status, owners see all
// of their own donations, everyone else sees only public statuses.
func (s *Service) ListDonations(ctx context.Context, actor access.Actor, q models.DonationQuery) ([]*models.Donation, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}
	ownListing := q.OwnerID != nil && !actor.ID.IsNil() && *q.OwnerID == actor.ID
	if !access.CanPerform(actor, access.OpDonationListAll, nil) && !ownListing {
		q.Statuses = publicOnly(q.Statuses)
		if len(q.Statuses) == 0 {
			return []*models.Donation{}, nil
		}
	}
	out, err := s.donations.List(ctx, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list donations")
	}
	return out, nil
}

var publicStatuses = []models.DonationStatus{models.DonationAvailable, models.DonationRequested, models.DonationPickedUp}

func publicOnly(requested []models.DonationStatus) []models.DonationStatus {
	if len(requested) == 0 {
		return slices.Clone(publicStatuses)
	}
	out := make([]models.DonationStatus, 0, len(requested))
	for _, st := range requested {
		if st.Public() {
			out = append(out, st)
		}
	}
	return out
}
