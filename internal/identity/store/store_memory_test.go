package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"replate/internal/identity/models"
	id "replate/pkg/domain"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx      context.Context
	accounts *InMemoryAccounts
	requests *InMemoryRoleRequests
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.accounts = NewInMemoryAccounts()
	s.requests = NewInMemoryRoleRequests()
}

func (s *MemoryStoreSuite) newAccount(email string) *models.Account {
	a, err := models.NewAccount(id.NewAccountID(), "Name", email, "", time.Now())
	s.Require().NoError(err)
	return a
}

func (s *MemoryStoreSuite) TestAccounts() {
	s.Run("create and find", func() {
		a := s.newAccount("x@example.org")
		s.Require().NoError(s.accounts.Create(s.ctx, a))
		found, err := s.accounts.FindByID(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(a.Email, found.Email)
	})

	s.Run("email is unique case-insensitively", func() {
		s.Require().NoError(s.accounts.Create(s.ctx, s.newAccount("dup@example.org")))
		a := s.newAccount("other@example.org")
		a.Email = "DUP@example.org"
		s.ErrorIs(s.accounts.Create(s.ctx, a), sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown account", func() {
		_, err := s.accounts.FindByID(s.ctx, id.NewAccountID())
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.ErrorIs(s.accounts.UpdateRole(s.ctx, id.NewAccountID(), id.RoleAdmin, time.Now()), sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestRoleUpdateRolledBackWithUnitOfWork() {
	a := s.newAccount("r@example.org")
	s.Require().NoError(s.accounts.Create(s.ctx, a))

	err := txcontext.NewSharded(0).RunInTx(s.ctx, a.ID.String(), func(txCtx context.Context) error {
		s.Require().NoError(s.accounts.UpdateRole(txCtx, a.ID, id.RoleCharity, time.Now()))
		return errors.New("approval failed later")
	})
	s.Require().Error(err)

	found, err := s.accounts.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(id.RoleUser, found.Role)
}

func (s *MemoryStoreSuite) TestRoleRequests() {
	requester := id.NewAccountID()
	req, err := models.NewRoleChangeRequest(requester, id.RoleCharity, "Org", "", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.requests.Create(s.ctx, req))

	s.Run("one pending per requester", func() {
		again, err := models.NewRoleChangeRequest(requester, id.RoleRestaurant, "Org", "", time.Now())
		s.Require().NoError(err)
		s.ErrorIs(s.requests.Create(s.ctx, again), sentinel.ErrAlreadyUsed)
	})

	s.Run("decided request cannot be updated again", func() {
		req.ApplyApproval(id.NewAccountID(), time.Now())
		s.Require().NoError(s.requests.Update(s.ctx, req))
		s.ErrorIs(s.requests.Update(s.ctx, req), sentinel.ErrInvalidState)
	})

	s.Run("list filters by requester", func() {
		other, err := models.NewRoleChangeRequest(id.NewAccountID(), id.RoleCharity, "Other", "", time.Now())
		s.Require().NoError(err)
		s.Require().NoError(s.requests.Create(s.ctx, other))

		mine, err := s.requests.List(s.ctx, &requester)
		s.Require().NoError(err)
		s.Len(mine, 1)

		all, err := s.requests.List(s.ctx, nil)
		s.Require().NoError(err)
		s.Len(all, 2)
	})
}

func (s *MemoryStoreSuite) TestPaymentReferenceIsGloballyUnique() {
	first, err := models.NewRoleChangeRequest(id.NewAccountID(), id.RoleCharity, "Shelter", "", time.Now())
	s.Require().NoError(err)
	first.RecordPayment("pi_shared", 2500, "usd")
	s.Require().NoError(s.requests.Create(s.ctx, first))

	second, err := models.NewRoleChangeRequest(id.NewAccountID(), id.RoleCharity, "Pantry", "", time.Now())
	s.Require().NoError(err)
	second.RecordPayment("pi_shared", 2500, "usd")
	s.ErrorIs(s.requests.Create(s.ctx, second), sentinel.ErrAlreadyUsed)

	found, err := s.requests.FindByPaymentReference(s.ctx, "pi_shared")
	s.Require().NoError(err)
	s.Equal(first.ID, found.ID)

	_, err = s.requests.FindByPaymentReference(s.ctx, "")
	s.ErrorIs(err, sentinel.ErrNotFound)

	free, err := models.NewRoleChangeRequest(id.NewAccountID(), id.RoleRestaurant, "Deli", "", time.Now())
	s.Require().NoError(err)
	s.NoError(s.requests.Create(s.ctx, free), "unpaid requests share the empty reference")
}
