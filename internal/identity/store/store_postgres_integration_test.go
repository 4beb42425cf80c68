//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"replate/internal/identity/models"
	"replate/internal/identity/store"
	"replate/internal/platform/postgres"
	id "replate/pkg/domain"
	"replate/pkg/platform/sentinel"
	"replate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	accounts *store.PostgresAccounts
	requests *store.PostgresRoleRequests
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.postgres.DB))
	s.accounts = store.NewPostgresAccounts(s.postgres.DB)
	s.requests = store.NewPostgresRoleRequests(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "role_requests", "accounts"))
}

func (s *PostgresStoreSuite) newAccount() *models.Account {
	a, err := models.NewAccount(id.NewAccountID(), "Name", "", "", time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	s.Require().NoError(s.accounts.Create(context.Background(), a))
	return a
}

func (s *PostgresStoreSuite) TestAccountRoundTrip() {
	ctx := context.Background()
	a := s.newAccount()

	s.Require().NoError(s.accounts.UpdateRole(ctx, a.ID, id.RoleCharity, time.Now()))
	found, err := s.accounts.FindByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(id.RoleCharity, found.Role)

	s.ErrorIs(s.accounts.Create(ctx, a), sentinel.ErrAlreadyUsed)
	s.Require().NoError(s.accounts.Delete(ctx, a.ID))
	_, err = s.accounts.FindByID(ctx, a.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentPendingRequests verifies the partial unique index admits one
// Pending request per requester.
func (s *PostgresStoreSuite) TestConcurrentPendingRequests() {
	ctx := context.Background()
	requester := s.newAccount()
	const goroutines = 20

	var wg sync.WaitGroup
	var created, conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := models.NewRoleChangeRequest(requester.ID, id.RoleCharity, "Org", "", time.Now())
			if err != nil {
				return
			}
			switch err := s.requests.Create(ctx, req); {
			case err == nil:
				created.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestDecisionGuardedOnPending() {
	ctx := context.Background()
	requester := s.newAccount()
	req, err := models.NewRoleChangeRequest(requester.ID, id.RoleRestaurant, "Deli", "", time.Now())
	s.Require().NoError(err)
	req.RecordPayment("pi_1", 2500, "usd")
	s.Require().NoError(s.requests.Create(ctx, req))

	req.ApplyRejection(id.NewAccountID(), "missing info", time.Now())
	s.Require().NoError(s.requests.Update(ctx, req))
	s.ErrorIs(s.requests.Update(ctx, req), sentinel.ErrInvalidState)

	found, err := s.requests.FindByID(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.RoleRequestRejected, found.Status)
	s.Equal("missing info", found.DecisionReason)
	s.Equal("pi_1", found.PaymentReference)
	s.NotNil(found.DecidedBy)
}

func (s *PostgresStoreSuite) TestPaymentReferenceIsGloballyUnique() {
	ctx := context.Background()
	first, err := models.NewRoleChangeRequest(s.newAccount().ID, id.RoleCharity, "Shelter", "", time.Now())
	s.Require().NoError(err)
	first.RecordPayment("pi_shared", 2500, "usd")
	s.Require().NoError(s.requests.Create(ctx, first))

	second, err := models.NewRoleChangeRequest(s.newAccount().ID, id.RoleCharity, "Pantry", "", time.Now())
	s.Require().NoError(err)
	second.RecordPayment("pi_shared", 2500, "usd")
	s.ErrorIs(s.requests.Create(ctx, second), sentinel.ErrAlreadyUsed)

	found, err := s.requests.FindByPaymentReference(ctx, "pi_shared")
	s.Require().NoError(err)
	s.Equal(first.ID, found.ID)

	for range 2 {
		free, err := models.NewRoleChangeRequest(s.newAccount().ID, id.RoleRestaurant, "Deli", "", time.Now())
		s.Require().NoError(err)
		s.NoError(s.requests.Create(ctx, free))
	}
}
