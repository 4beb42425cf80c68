// Package store persists donations, requests, pickups, reviews and favorites.
//
// In-memory stores register compensating actions with the unit-of-work journal
// so a failed arbitration leaves nothing behind. PostgreSQL stores write
// through the *sql.Tx carried in ctx and lean on row locks, compare-and-set
// updates and partial unique indexes.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"replate/internal/donation/models"
	id "replate/pkg/domain"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

// InMemoryDonations keeps donations in a map and assigns Seq from a counter.
type InMemoryDonations struct {
	mu        sync.RWMutex
	seq       int64
	donations map[id.DonationID]models.Donation
}

func NewInMemoryDonations() *InMemoryDonations {
	return &InMemoryDonations{donations: make(map[id.DonationID]models.Donation)}
}

func (s *InMemoryDonations) Create(ctx context.Context, d *models.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.donations[d.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.seq++
	d.Seq = s.seq
	s.donations[d.ID] = *d
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.donations, d.ID)
	})
	return nil
}

func (s *InMemoryDonations) FindByID(_ context.Context, donationID id.DonationID) (*models.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.donations[donationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &d, nil
}

// FindForUpdate is FindByID; the sharded unit of work keyed by donation ID
// provides exclusion.
func (s *InMemoryDonations) FindForUpdate(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	return s.FindByID(ctx, donationID)
}

// Update writes d only if the stored status is still expected.
func (s *InMemoryDonations) Update(ctx context.Context, d *models.Donation, expected models.DonationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.donations[d.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if prev.Status != expected {
		return sentinel.ErrInvalidState
	}
	s.donations[d.ID] = *d
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.donations[d.ID] = prev
	})
	return nil
}

func (s *InMemoryDonations) Delete(ctx context.Context, donationID id.DonationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.donations[donationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.donations, donationID)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.donations[donationID] = prev
	})
	return nil
}

func (s *InMemoryDonations) List(_ context.Context, q models.DonationQuery) ([]*models.Donation, error) {
	s.mu.RLock()
	all := make([]*models.Donation, 0, len(s.donations))
	for _, d := range s.donations {
		all = append(all, &d)
	}
	s.mu.RUnlock()
	return q.Apply(all), nil
}

// ListByIDs returns the donations that still exist, in no particular order.
func (s *InMemoryDonations) ListByIDs(_ context.Context, ids []id.DonationID) ([]*models.Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Donation, 0, len(ids))
	for _, donationID := range ids {
		if d, ok := s.donations[donationID]; ok {
			out = append(out, &d)
		}
	}
	return out, nil
}

// InMemoryRequests mirrors the schema's partial unique indexes: one live
// request per (donation, charity) and one Accepted request per donation.
type InMemoryRequests struct {
	mu       sync.RWMutex
	seq      int64
	requests map[id.RequestID]storedRequest
}

type storedRequest struct {
	models.Request
	seq int64
}

func NewInMemoryRequests() *InMemoryRequests {
	return &InMemoryRequests{requests: make(map[id.RequestID]storedRequest)}
}

func (s *InMemoryRequests) Create(ctx context.Context, r *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.DonationID == r.DonationID && existing.CharityID == r.CharityID && existing.Live() {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.seq++
	s.requests[r.ID] = storedRequest{Request: *r, seq: s.seq}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.requests, r.ID)
	})
	return nil
}

func (s *InMemoryRequests) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r.Request, nil
}

// Update writes r only if the stored status is still expected. A second
// Accepted request on the same donation is refused with ErrAlreadyUsed.
func (s *InMemoryRequests) Update(ctx context.Context, r *models.Request, expected models.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.requests[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if prev.Status != expected {
		return sentinel.ErrInvalidState
	}
	if r.Status == models.RequestAccepted {
		for _, other := range s.requests {
			if other.ID != r.ID && other.DonationID == r.DonationID && other.Status == models.RequestAccepted {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	s.requests[r.ID] = storedRequest{Request: *r, seq: prev.seq}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests[r.ID] = prev
	})
	return nil
}

// RejectPending rejects every Pending request on donationID except keep and
// returns the rejected requests.
func (s *InMemoryRequests) RejectPending(ctx context.Context, donationID id.DonationID, keep id.RequestID, reason string, now time.Time) ([]*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev []storedRequest
	var out []*models.Request
	for rid, r := range s.requests {
		if r.DonationID != donationID || rid == keep || r.Status != models.RequestPending {
			continue
		}
		prev = append(prev, r)
		r.ApplyReject(reason, now)
		s.requests[rid] = r
		out = append(out, &r.Request)
	}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, r := range prev {
			s.requests[r.ID] = r
		}
	})
	slices.SortFunc(out, func(a, b *models.Request) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *InMemoryRequests) collect(match func(r *models.Request) bool, newestFirst bool) []*models.Request {
	s.mu.RLock()
	rows := make([]storedRequest, 0)
	for _, r := range s.requests {
		if match(&r.Request) {
			rows = append(rows, r)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(rows, func(a, b storedRequest) int {
		if newestFirst {
			return cmp.Compare(b.seq, a.seq)
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]*models.Request, len(rows))
	for i := range rows {
		out[i] = &rows[i].Request
	}
	return out
}

// ListByDonation returns requests on donationID in submission order.
func (s *InMemoryRequests) ListByDonation(_ context.Context, donationID id.DonationID) ([]*models.Request, error) {
	return s.collect(func(r *models.Request) bool { return r.DonationID == donationID }, false), nil
}

func (s *InMemoryRequests) ListByCharity(_ context.Context, charityID id.AccountID) ([]*models.Request, error) {
	return s.collect(func(r *models.Request) bool { return r.CharityID == charityID }, true), nil
}

func (s *InMemoryRequests) ListByRestaurant(_ context.Context, restaurantID id.AccountID) ([]*models.Request, error) {
	return s.collect(func(r *models.Request) bool { return r.RestaurantID == restaurantID }, true), nil
}

func (s *InMemoryRequests) ListLatest(_ context.Context, limit int) ([]*models.Request, error) {
	out := s.collect(func(*models.Request) bool { return true }, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InMemoryPickups allows one pickup per donation.
type InMemoryPickups struct {
	mu      sync.RWMutex
	pickups map[id.PickupID]models.Pickup
}

func NewInMemoryPickups() *InMemoryPickups {
	return &InMemoryPickups{pickups: make(map[id.PickupID]models.Pickup)}
}

func (s *InMemoryPickups) Create(ctx context.Context, p *models.Pickup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.pickups {
		if existing.DonationID == p.DonationID || existing.RequestID == p.RequestID {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.pickups[p.ID] = *p
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.pickups, p.ID)
	})
	return nil
}

func (s *InMemoryPickups) FindByID(_ context.Context, pickupID id.PickupID) (*models.Pickup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pickups[pickupID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *InMemoryPickups) FindByDonation(_ context.Context, donationID id.DonationID) (*models.Pickup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pickups {
		if p.DonationID == donationID {
			return &p, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryPickups) Update(ctx context.Context, p *models.Pickup, expected models.PickupStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.pickups[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if prev.Status != expected {
		return sentinel.ErrInvalidState
	}
	s.pickups[p.ID] = *p
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pickups[p.ID] = prev
	})
	return nil
}

// ListByCharity returns the charity's pickups, soonest scheduled first.
func (s *InMemoryPickups) ListByCharity(_ context.Context, charityID id.AccountID) ([]*models.Pickup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Pickup, 0)
	for _, p := range s.pickups {
		if p.CharityID == charityID {
			out = append(out, &p)
		}
	}
	slices.SortFunc(out, func(a, b *models.Pickup) int { return a.ScheduledAt.Compare(b.ScheduledAt) })
	return out, nil
}
