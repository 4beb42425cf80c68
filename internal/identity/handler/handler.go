package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"replate/internal/access"
	"replate/internal/identity/models"
	"replate/internal/payment"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	"replate/pkg/platform/httputil"
	"replate/pkg/platform/middleware/admin"
	authmw "replate/pkg/platform/middleware/auth"
	request "replate/pkg/platform/middleware/request"
	"replate/pkg/requestcontext"
)

// Service defines the directory operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, accountID id.AccountID, req models.RegisterRequest) (*models.Account, bool, error)
	GetAccount(ctx context.Context, accountID id.AccountID) (*models.Account, error)
	ListAccounts(ctx context.Context, actor access.Actor) ([]*models.Account, error)
	DeleteAccount(ctx context.Context, actor access.Actor, accountID id.AccountID) error
	CreatePaymentIntent(ctx context.Context, actor access.Actor, role id.Role) (payment.Intent, error)
	SubmitRoleRequest(ctx context.Context, actor access.Actor, in models.SubmitRoleRequest) (*models.RoleChangeRequest, error)
	ListRoleRequests(ctx context.Context, actor access.Actor) ([]*models.RoleChangeRequest, error)
	ListTransactions(ctx context.Context, actor access.Actor) ([]models.Transaction, error)
	ApproveRoleRequest(ctx context.Context, actor access.Actor, reqID id.RoleRequestID) (*models.RoleChangeRequest, error)
	RejectRoleRequest(ctx context.Context, actor access.Actor, reqID id.RoleRequestID, reason string) (*models.RoleChangeRequest, error)
}

// Handler serves /me, /role-requests and /accounts. Routes expect
// auth.RequireAuth to have run.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/me", h.handleRegister)
	r.Get("/me", h.handleMe)

	r.Route("/role-requests", func(r chi.Router) {
		r.Post("/intent", h.handleCreateIntent)
		r.Post("/", h.handleSubmitRoleRequest)
		r.Get("/", h.handleListRoleRequests)
		r.Get("/transactions", h.handleListTransactions)

		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdmin(h.logger))
			r.Patch("/{id}/approve", h.handleApproveRoleRequest)
			r.Patch("/{id}/reject", h.handleRejectRoleRequest)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdmin(h.logger))
		r.Get("/accounts", h.handleListAccounts)
		r.Delete("/accounts/{id}", h.handleDeleteAccount)
	})
}

func actorFrom(ctx context.Context) access.Actor {
	return access.Actor{ID: requestcontext.AccountID(ctx), Role: requestcontext.Role(ctx)}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	requestID := request.GetRequestID(ctx)
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	accountID := requestcontext.AccountID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if claims := authmw.Claims(ctx); claims != nil {
		if req.Name == "" {
			req.Name = claims.Name
		}
		if req.Email == "" {
			req.Email = claims.Email
		}
	}

	account, created, err := h.service.Register(ctx, accountID, *req)
	if err != nil {
		h.fail(ctx, w, "failed to register account", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, account)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := h.service.GetAccount(ctx, requestcontext.AccountID(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to load account", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.PaymentIntentRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	intent, err := h.service.CreatePaymentIntent(ctx, actorFrom(ctx), id.Role(req.RequestedRole))
	if err != nil {
		h.fail(ctx, w, "failed to create payment intent", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, intent)
}

func (h *Handler) handleSubmitRoleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.SubmitRoleRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	created, err := h.service.SubmitRoleRequest(ctx, actorFrom(ctx), *req)
	if err != nil {
		h.fail(ctx, w, "failed to submit role request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListRoleRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqs, err := h.service.ListRoleRequests(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list role requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txs, err := h.service.ListTransactions(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list transactions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txs)
}

func (h *Handler) handleApproveRoleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRoleRequestID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid role request id", err)
		return
	}
	decided, err := h.service.ApproveRoleRequest(ctx, actorFrom(ctx), reqID)
	if err != nil {
		h.fail(ctx, w, "failed to approve role request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decided)
}

func (h *Handler) handleRejectRoleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID, err := id.ParseRoleRequestID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid role request id", err)
		return
	}
	body := models.DecideRoleRequest{}
	if r.ContentLength != 0 {
		req, ok := httputil.DecodeAndPrepare[models.DecideRoleRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
		if !ok {
			return
		}
		body = *req
	}
	decided, err := h.service.RejectRoleRequest(ctx, actorFrom(ctx), reqID, body.Reason)
	if err != nil {
		h.fail(ctx, w, "failed to reject role request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decided)
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accounts, err := h.service.ListAccounts(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list accounts", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid account id", err)
		return
	}
	if err := h.service.DeleteAccount(ctx, actorFrom(ctx), accountID); err != nil {
		h.fail(ctx, w, "failed to delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
