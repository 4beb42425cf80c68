// Package store persists directory accounts and role change requests.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"replate/internal/identity/models"
	id "replate/pkg/domain"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

// InMemoryAccounts is the development and test account store. Mutations made
// inside an in-memory unit of work are undone if the unit fails.
type InMemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[id.AccountID]models.Account
}

func NewInMemoryAccounts() *InMemoryAccounts {
	return &InMemoryAccounts{accounts: make(map[id.AccountID]models.Account)}
}

func (s *InMemoryAccounts) Create(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if account.Email != "" {
		for _, a := range s.accounts {
			if strings.EqualFold(a.Email, account.Email) {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	s.accounts[account.ID] = *account
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.accounts, account.ID)
	})
	return nil
}

func (s *InMemoryAccounts) FindByID(_ context.Context, accountID id.AccountID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &a, nil
}

// List returns accounts oldest first.
func (s *InMemoryAccounts) List(_ context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, &a)
	}
	slices.SortFunc(out, func(a, b *models.Account) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *InMemoryAccounts) UpdateRole(ctx context.Context, accountID id.AccountID, role id.Role, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return sentinel.ErrNotFound
	}
	prev := a
	a.ApplyRole(role, now)
	s.accounts[accountID] = a
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.accounts[accountID] = prev
	})
	return nil
}

// Upsert writes account unconditionally. Used for the bootstrap admin.
func (s *InMemoryAccounts) Upsert(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = *account
	return nil
}

func (s *InMemoryAccounts) Delete(ctx context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.accounts[accountID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.accounts, accountID)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.accounts[accountID] = prev
	})
	return nil
}

// InMemoryRoleRequests is the development and test role request store.
type InMemoryRoleRequests struct {
	mu       sync.RWMutex
	requests map[id.RoleRequestID]models.RoleChangeRequest
}

func NewInMemoryRoleRequests() *InMemoryRoleRequests {
	return &InMemoryRoleRequests{requests: make(map[id.RoleRequestID]models.RoleChangeRequest)}
}

// Create rejects a second Pending request from the same requester with
// sentinel.ErrAlreadyUsed.
func (s *InMemoryRoleRequests) Create(ctx context.Context, req *models.RoleChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.RequesterID == req.RequesterID && r.Status == models.RoleRequestPending {
			return sentinel.ErrAlreadyUsed
		}
		if req.PaymentReference != "" && r.PaymentReference == req.PaymentReference {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.requests[req.ID] = *req
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.requests, req.ID)
	})
	return nil
}

func (s *InMemoryRoleRequests) FindByID(_ context.Context, reqID id.RoleRequestID) (*models.RoleChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[reqID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

// FindForUpdate is FindByID; the surrounding unit of work provides exclusion.
func (s *InMemoryRoleRequests) FindForUpdate(ctx context.Context, reqID id.RoleRequestID) (*models.RoleChangeRequest, error) {
	return s.FindByID(ctx, reqID)
}

// Update overwrites a request only while it is still Pending, so a decision is
// recorded once.
func (s *InMemoryRoleRequests) Update(ctx context.Context, req *models.RoleChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if prev.Status != models.RoleRequestPending {
		return sentinel.ErrInvalidState
	}
	s.requests[req.ID] = *req
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests[req.ID] = prev
	})
	return nil
}

// List returns requests newest first, optionally restricted to one requester.
func (s *InMemoryRoleRequests) List(_ context.Context, requester *id.AccountID) ([]*models.RoleChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RoleChangeRequest, 0)
	for _, r := range s.requests {
		if requester != nil && r.RequesterID != *requester {
			continue
		}
		out = append(out, &r)
	}
	slices.SortFunc(out, func(a, b *models.RoleChangeRequest) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// FindByPaymentReference returns the request, from any account, that
// recorded reference.
func (s *InMemoryRoleRequests) FindByPaymentReference(_ context.Context, reference string) (*models.RoleChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if reference != "" && r.PaymentReference == reference {
			return &r, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// DeleteByRequester removes every request filed by accountID.
func (s *InMemoryRoleRequests) DeleteByRequester(ctx context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []models.RoleChangeRequest
	for k, r := range s.requests {
		if r.RequesterID == accountID {
			removed = append(removed, r)
			delete(s.requests, k)
		}
	}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, r := range removed {
			s.requests[r.ID] = r
		}
	})
	return nil
}
