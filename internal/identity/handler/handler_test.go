package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"replate/internal/identity/models"
	"replate/internal/identity/service"
	"replate/internal/identity/store"
	"replate/internal/payment"
	id "replate/pkg/domain"
	authmw "replate/pkg/platform/middleware/auth"
	"replate/pkg/testutil"
)

type IdentityHandlerSuite struct {
	suite.Suite
	router   http.Handler
	service  *service.Service
	payments *payment.Fake
	adminID  id.AccountID
}

func TestIdentityHandlerSuite(t *testing.T) {
	suite.Run(t, new(IdentityHandlerSuite))
}

func (s *IdentityHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.payments = payment.NewFake()
	svc, err := service.New(store.NewInMemoryAccounts(), store.NewInMemoryRoleRequests(), s.payments,
		service.WithLogger(logger),
		service.WithRoleFee(id.RoleCharity, 2500, "usd"),
	)
	s.Require().NoError(err)
	s.service = svc

	s.adminID = id.NewAccountID()
	s.Require().NoError(svc.EnsureAdmin(context.Background(), s.adminID, "admin@replate.test"))

	r := chi.NewRouter()
	New(svc, logger).Register(r)
	s.router = r
}

func (s *IdentityHandlerSuite) registerUser() id.AccountID {
	accountID := id.NewAccountID()
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/me", map[string]string{"name": "Ada"})
	rr := testutil.DoRequest(s.router, testutil.WithAccount(req, accountID))
	s.Require().Equal(http.StatusCreated, rr.Code)
	return accountID
}

func (s *IdentityHandlerSuite) TestRegister() {
	s.Run("fills email from token claims", func() {
		accountID := id.NewAccountID()
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/me", map[string]string{})
		ctx := authmw.WithClaims(req.Context(), &authmw.JWTClaims{AccountID: accountID.String(), Email: "Kitchen@Example.org", Name: "Kitchen"})
		rr := testutil.DoRequest(s.router, testutil.WithAccount(req.WithContext(ctx), accountID))

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		account := testutil.UnmarshalResponse[models.Account](s.T(), rr)
		s.Equal("kitchen@example.org", account.Email)
		s.Equal("Kitchen", account.Name)
		s.Equal(id.RoleUser, account.Role)
	})

	s.Run("second registration returns 200", func() {
		accountID := s.registerUser()
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/me", map[string]string{"name": "Ada"})
		rr := testutil.DoRequest(s.router, testutil.WithAccount(req, accountID))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("invalid email is rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/me", map[string]string{"email": "nope"})
		rr := testutil.DoRequest(s.router, testutil.WithAccount(req, id.NewAccountID()))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
}

func (s *IdentityHandlerSuite) TestMeNotRegistered() {
	req := testutil.NewRequest(s.T(), http.MethodGet, "/me")
	rr := testutil.DoRequest(s.router, testutil.WithAccount(req, id.NewAccountID()))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *IdentityHandlerSuite) TestPaidRoleRequestFlow() {
	userID := s.registerUser()

	s.Run("submit without payment is rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/role-requests", map[string]string{
			"requested_role":    "charity",
			"organization_name": "Food Bank",
		})
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, userID, id.RoleUser))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusPaymentRequired, "payment_required")
	})

	intentReq := testutil.NewJSONRequest(s.T(), http.MethodPost, "/role-requests/intent", map[string]string{"requested_role": "charity"})
	rr := testutil.DoRequest(s.router, testutil.WithActor(intentReq, userID, id.RoleUser))
	s.Require().Equal(http.StatusCreated, rr.Code)
	intent := testutil.UnmarshalResponse[payment.Intent](s.T(), rr)
	s.Equal(int64(2500), intent.Amount)

	submitReq := testutil.NewJSONRequest(s.T(), http.MethodPost, "/role-requests", map[string]string{
		"requested_role":    "charity",
		"organization_name": "Food Bank",
		"payment_token":     intent.Token,
	})
	rr = testutil.DoRequest(s.router, testutil.WithActor(submitReq, userID, id.RoleUser))
	s.Require().Equal(http.StatusCreated, rr.Code)
	created := testutil.UnmarshalResponse[models.RoleChangeRequest](s.T(), rr)
	s.Equal(models.RoleRequestPending, created.Status)

	s.Run("non-admin cannot approve", func() {
		req := testutil.NewRequest(s.T(), http.MethodPatch, "/role-requests/"+created.ID.String()+"/approve")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, userID, id.RoleUser))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("admin approves and the role changes", func() {
		req := testutil.NewRequest(s.T(), http.MethodPatch, "/role-requests/"+created.ID.String()+"/approve")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.adminID, id.RoleAdmin))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		role, err := s.service.GetRole(context.Background(), userID)
		s.Require().NoError(err)
		s.Equal(id.RoleCharity, role)
	})

	s.Run("transactions list the payment", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/role-requests/transactions")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, userID, id.RoleCharity))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		txs := testutil.DecodeList[models.Transaction](s.T(), rr)
		s.Require().Len(txs, 1)
		s.Equal(int64(2500), txs[0].Amount)
	})

	s.Run("second decision conflicts", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPatch, "/role-requests/"+created.ID.String()+"/reject", map[string]string{"reason": "late"})
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.adminID, id.RoleAdmin))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_transition")
	})
}

func (s *IdentityHandlerSuite) TestRejectWithoutBody() {
	userID := s.registerUser()
	submitReq := testutil.NewJSONRequest(s.T(), http.MethodPost, "/role-requests", map[string]string{
		"requested_role":    "restaurant",
		"organization_name": "Bistro",
	})
	rr := testutil.DoRequest(s.router, testutil.WithActor(submitReq, userID, id.RoleUser))
	s.Require().Equal(http.StatusCreated, rr.Code)
	created := testutil.UnmarshalResponse[models.RoleChangeRequest](s.T(), rr)

	req := testutil.NewRequest(s.T(), http.MethodPatch, "/role-requests/"+created.ID.String()+"/reject")
	rr = testutil.DoRequest(s.router, testutil.WithActor(req, s.adminID, id.RoleAdmin))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	decided := testutil.UnmarshalResponse[models.RoleChangeRequest](s.T(), rr)
	s.Equal(models.RoleRequestRejected, decided.Status)
}

func (s *IdentityHandlerSuite) TestAccountsAdminOnly() {
	userID := s.registerUser()

	s.Run("user cannot list accounts", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/accounts")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, userID, id.RoleUser))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("admin lists and deletes", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/accounts")
		rr := testutil.DoRequest(s.router, testutil.WithActor(req, s.adminID, id.RoleAdmin))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Len(testutil.DecodeList[models.Account](s.T(), rr), 2)

		del := testutil.NewRequest(s.T(), http.MethodDelete, "/accounts/"+userID.String())
		rr = testutil.DoRequest(s.router, testutil.WithActor(del, s.adminID, id.RoleAdmin))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("malformed id", func() {
		del := testutil.NewRequest(s.T(), http.MethodDelete, "/accounts/not-a-uuid")
		rr := testutil.DoRequest(s.router, testutil.WithActor(del, s.adminID, id.RoleAdmin))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})
}
