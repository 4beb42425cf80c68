package store

import (
	"context"
	"slices"
	"sync"

	"replate/internal/donation/models"
	id "replate/pkg/domain"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

type reviewKey struct {
	donation id.DonationID
	reviewer id.AccountID
}

// InMemoryReviews enforces one review per (donation, reviewer).
type InMemoryReviews struct {
	mu      sync.RWMutex
	reviews map[id.ReviewID]models.Review
	byKey   map[reviewKey]id.ReviewID
}

func NewInMemoryReviews() *InMemoryReviews {
	return &InMemoryReviews{
		reviews: make(map[id.ReviewID]models.Review),
		byKey:   make(map[reviewKey]id.ReviewID),
	}
}

func (s *InMemoryReviews) Create(ctx context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reviewKey{donation: r.DonationID, reviewer: r.ReviewerID}
	if _, ok := s.byKey[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.reviews[r.ID] = *r
	s.byKey[key] = r.ID
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.reviews, r.ID)
		delete(s.byKey, key)
	})
	return nil
}

func (s *InMemoryReviews) FindByID(_ context.Context, reviewID id.ReviewID) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *InMemoryReviews) Delete(ctx context.Context, reviewID id.ReviewID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.reviews[reviewID]
	if !ok {
		return sentinel.ErrNotFound
	}
	key := reviewKey{donation: prev.DonationID, reviewer: prev.ReviewerID}
	delete(s.reviews, reviewID)
	delete(s.byKey, key)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reviews[reviewID] = prev
		s.byKey[key] = reviewID
	})
	return nil
}

func (s *InMemoryReviews) list(match func(r *models.Review) bool, newestFirst bool) []*models.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Review, 0)
	for _, r := range s.reviews {
		if match(&r) {
			out = append(out, &r)
		}
	}
	slices.SortFunc(out, func(a, b *models.Review) int {
		if newestFirst {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// ListByDonation returns reviews oldest first.
func (s *InMemoryReviews) ListByDonation(_ context.Context, donationID id.DonationID) ([]*models.Review, error) {
	return s.list(func(r *models.Review) bool { return r.DonationID == donationID }, false), nil
}

// ListByReviewer returns the reviewer's reviews newest first.
func (s *InMemoryReviews) ListByReviewer(_ context.Context, reviewerID id.AccountID) ([]*models.Review, error) {
	return s.list(func(r *models.Review) bool { return r.ReviewerID == reviewerID }, true), nil
}

type favoriteKey struct {
	account  id.AccountID
	donation id.DonationID
}

// InMemoryFavorites is a membership set.
type InMemoryFavorites struct {
	mu        sync.RWMutex
	favorites map[favoriteKey]models.Favorite
}

func NewInMemoryFavorites() *InMemoryFavorites {
	return &InMemoryFavorites{favorites: make(map[favoriteKey]models.Favorite)}
}

// Add reports false when the favorite already existed.
func (s *InMemoryFavorites) Add(ctx context.Context, f models.Favorite) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := favoriteKey{account: f.AccountID, donation: f.DonationID}
	if _, ok := s.favorites[key]; ok {
		return false, nil
	}
	s.favorites[key] = f
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.favorites, key)
	})
	return true, nil
}

// Remove reports false when there was nothing to remove.
func (s *InMemoryFavorites) Remove(ctx context.Context, accountID id.AccountID, donationID id.DonationID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := favoriteKey{account: accountID, donation: donationID}
	prev, ok := s.favorites[key]
	if !ok {
		return false, nil
	}
	delete(s.favorites, key)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.favorites[key] = prev
	})
	return true, nil
}

// DeleteByDonation drops every favorite of a deleted donation.
func (s *InMemoryFavorites) DeleteByDonation(ctx context.Context, donationID id.DonationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []models.Favorite
	for key, f := range s.favorites {
		if key.donation == donationID {
			removed = append(removed, f)
			delete(s.favorites, key)
		}
	}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, f := range removed {
			s.favorites[favoriteKey{account: f.AccountID, donation: f.DonationID}] = f
		}
	})
	return nil
}

// List returns the account's favorites newest first.
func (s *InMemoryFavorites) List(_ context.Context, accountID id.AccountID) ([]models.Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Favorite, 0)
	for key, f := range s.favorites {
		if key.account == accountID {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b models.Favorite) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}
