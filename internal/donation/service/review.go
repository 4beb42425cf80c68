package service

import (
	"context"
	"errors"

	"replate/internal/access"
	"replate/internal/donation/models"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/platform/sentinel"
	"replate/pkg/requestcontext"
)

const (
	reviewCreated   = "created"
	reviewDenied    = "denied"
	reviewDuplicate = "duplicate"
)

// SubmitReview records feedback on a donation. Only the charity whose pickup
// of that donation is confirmed may review it; every other caller is
// Unauthorized regardless of role.
func (s *Service) SubmitReview(ctx context.Context, actor access.Actor, donationID id.DonationID, in models.SubmitReviewRequest) (*models.Review, error) {
	if err := access.Authorize(actor, access.OpReviewSubmit, nil); err != nil {
		return nil, err
	}
	if _, err := s.donations.FindByID(ctx, donationID); err != nil {
		return nil, wrapStoreErr(err, "donation", "failed to load donation")
	}
	if err := s.reviewGate(ctx, actor, donationID); err != nil {
		return nil, err
	}
	review, err := models.NewReview(donationID, actor.ID, in.Rating, in.Comment, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, donationID.String(), func(txCtx context.Context) error {
		if err := s.reviews.Create(txCtx, review); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeDuplicateReview, "donation already reviewed by this account")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create review")
		}
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventReviewSubmitted),
			Subject:    donationID.String(),
			RelatedIDs: []string{review.ID.String()},
		})
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeDuplicateReview) {
			s.metrics.IncrementReview(reviewDuplicate)
		}
		return nil, err
	}
	s.metrics.IncrementReview(reviewCreated)
	return review, nil
}

// reviewGate requires a PickedUp pickup of the donation assigned to actor.
func (s *Service) reviewGate(ctx context.Context, actor access.Actor, donationID id.DonationID) error {
	p, err := s.pickups.FindByDonation(ctx, donationID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pickup")
	}
	if p != nil && p.CharityID == actor.ID && p.Status == models.PickupPickedUp {
		return nil
	}
	s.metrics.IncrementReview(reviewDenied)
	if err := s.emit(ctx, audit.Event{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    string(audit.EventReviewDenied),
		Subject:   donationID.String(),
		Reason:    "no confirmed pickup",
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record denied review",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return dErrors.New(dErrors.CodeUnauthorized, "only the charity that picked up this donation may review it")
}

// DeleteReview removes a review. Authors delete their own; admins delete any.
func (s *Service) DeleteReview(ctx context.Context, actor access.Actor, reviewID id.ReviewID) error {
	if err := authorizeRole(actor, access.OpReviewDelete); err != nil {
		return err
	}
	review, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		return wrapStoreErr(err, "review", "failed to load review")
	}
	if err := access.Authorize(actor, access.OpReviewDelete, access.Owned(review.ReviewerID)); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, review.DonationID.String(), func(txCtx context.Context) error {
		if err := s.reviews.Delete(txCtx, reviewID); err != nil {
			return wrapStoreErr(err, "review", "failed to delete review")
		}
		return s.emit(txCtx, audit.Event{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     string(audit.EventReviewDeleted),
			Subject:    review.DonationID.String(),
			RelatedIDs: []string{reviewID.String(), review.ReviewerID.String()},
		})
	})
}

// ListReviews returns a donation's reviews, oldest first.
func (s *Service) ListReviews(ctx context.Context, donationID id.DonationID) ([]*models.Review, error) {
	if _, err := s.donations.FindByID(ctx, donationID); err != nil {
		return nil, wrapStoreErr(err, "donation", "failed to load donation")
	}
	out, err := s.reviews.ListByDonation(ctx, donationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reviews")
	}
	return out, nil
}

func (s *Service) ListMyReviews(ctx context.Context, actor access.Actor) ([]*models.Review, error) {
	if err := access.Authorize(actor, access.OpReviewMine, nil); err != nil {
		return nil, err
	}
	out, err := s.reviews.ListByReviewer(ctx, actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reviews")
	}
	return out, nil
}
