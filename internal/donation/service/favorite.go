package service

import (
	"context"

	"replate/internal/access"
	"replate/internal/donation/models"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	"replate/pkg/requestcontext"
)

// AddFavorite saves a visible donation to the actor's favorites. It reports
// false when the donation was already saved.
func (s *Service) AddFavorite(ctx context.Context, actor access.Actor, donationID id.DonationID) (bool, error) {
	if err := access.Authorize(actor, access.OpFavoriteManage, nil); err != nil {
		return false, err
	}
	if _, err := s.GetDonation(ctx, actor, donationID); err != nil {
		return false, err
	}
	added, err := s.favorites.Add(ctx, models.Favorite{
		AccountID:  actor.ID,
		DonationID: donationID,
		CreatedAt:  requestcontext.Now(ctx),
	})
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add favorite")
	}
	return added, nil
}

// RemoveFavorite reports false when the donation was not saved.
func (s *Service) RemoveFavorite(ctx context.Context, actor access.Actor, donationID id.DonationID) (bool, error) {
	if err := access.Authorize(actor, access.OpFavoriteManage, nil); err != nil {
		return false, err
	}
	removed, err := s.favorites.Remove(ctx, actor.ID, donationID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove favorite")
	}
	return removed, nil
}

// ListFavorites returns the actor's saved donations, most recently saved
// first. Donations that are no longer visible to the actor are skipped.
func (s *Service) ListFavorites(ctx context.Context, actor access.Actor) ([]*models.Donation, error) {
	if err := access.Authorize(actor, access.OpFavoriteManage, nil); err != nil {
		return nil, err
	}
	favs, err := s.favorites.List(ctx, actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list favorites")
	}
	ids := make([]id.DonationID, 0, len(favs))
	for _, f := range favs {
		ids = append(ids, f.DonationID)
	}
	donations, err := s.donations.ListByIDs(ctx, ids)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load donations")
	}
	byID := make(map[id.DonationID]*models.Donation, len(donations))
	for _, d := range donations {
		byID[d.ID] = d
	}
	out := make([]*models.Donation, 0, len(favs))
	for _, f := range favs {
		if d, ok := byID[f.DonationID]; ok && canSee(actor, d) {
			out = append(out, d)
		}
	}
	return out, nil
}
