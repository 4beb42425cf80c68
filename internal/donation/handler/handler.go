package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"replate/internal/access"
	"replate/internal/donation/models"
	"replate/internal/media"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	"replate/pkg/platform/httputil"
	"replate/pkg/platform/middleware/admin"
	strutil "replate/pkg/platform/strings"
	request "replate/pkg/platform/middleware/request"
	"replate/pkg/requestcontext"
)

// Service defines the donation lifecycle operations exposed over HTTP.
type Service interface {
	CreateDonation(ctx context.Context, actor access.Actor, in models.CreateDonationInput) (*models.Donation, error)
	UpdateDonation(ctx context.Context, actor access.Actor, donationID id.DonationID, in models.CreateDonationInput) (*models.Donation, error)
	ReplaceImage(ctx context.Context, actor access.Actor, donationID id.DonationID, img models.ImageUpload) (*models.Donation, error)
	DeleteDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) error
	VerifyDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) (*models.Donation, error)
	RejectDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) (*models.Donation, error)
	MarkFeatured(ctx context.Context, actor access.Actor, donationID id.DonationID) (models.FeatureResult, error)
	GetDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) (*models.Donation, error)
	ListDonations(ctx context.Context, actor access.Actor, q models.DonationQuery) ([]*models.Donation, error)

	SubmitRequest(ctx context.Context, actor access.Actor, donationID id.DonationID, in models.SubmitRequestRequest) (*models.Request, error)
	AcceptRequest(ctx context.Context, actor access.Actor, requestID id.RequestID) (*models.AcceptResult, error)
	RejectRequest(ctx context.Context, actor access.Actor, requestID id.RequestID, reason string) (*models.Request, error)
	CancelRequest(ctx context.Context, actor access.Actor, requestID id.RequestID) (*models.Request, error)
	ListRequestsForDonation(ctx context.Context, actor access.Actor, donationID id.DonationID) ([]*models.Request, error)
	ListMyRequests(ctx context.Context, actor access.Actor) ([]*models.Request, error)
	ListIncomingRequests(ctx context.Context, actor access.Actor) ([]*models.Request, error)
	ListLatestRequests(ctx context.Context, limit int) ([]*models.Request, error)

	ConfirmPickup(ctx context.Context, actor access.Actor, pickupID id.PickupID) (*models.Pickup, error)
	ListPickupsForCharity(ctx context.Context, actor access.Actor) ([]models.PickupView, error)

	SubmitReview(ctx context.Context, actor access.Actor, donationID id.DonationID, in models.SubmitReviewRequest) (*models.Review, error)
	DeleteReview(ctx context.Context, actor access.Actor, reviewID id.ReviewID) error
	ListReviews(ctx context.Context, donationID id.DonationID) ([]*models.Review, error)
	ListMyReviews(ctx context.Context, actor access.Actor) ([]*models.Review, error)

	AddFavorite(ctx context.Context, actor access.Actor, donationID id.DonationID) (bool, error)
	RemoveFavorite(ctx context.Context, actor access.Actor, donationID id.DonationID) (bool, error)
	ListFavorites(ctx context.Context, actor access.Actor) ([]*models.Donation, error)
}

// Handler serves the donation catalog, request ledger, pickups, reviews and
// favorites.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts every route. They run under auth.OptionalAuth: catalog reads
// are public, and the service answers anonymous callers of everything else
// with Unauthenticated.
func (h *Handler) Register(r chi.Router) {
	r.Route("/donations", func(r chi.Router) {
		r.Get("/", h.handleListDonations)
		r.Get("/{id}", h.handleGetDonation)
		r.Get("/{id}/reviews", h.handleListReviews)
		r.Post("/", h.handleCreateDonation)
		r.Put("/{id}", h.handleUpdateDonation)
		r.Post("/{id}/image", h.handleReplaceImage)
		r.Delete("/{id}", h.handleDeleteDonation)
		r.Post("/{id}/requests", h.handleSubmitRequest)
		r.Get("/{id}/requests", h.handleListDonationRequests)
		r.Post("/{id}/reviews", h.handleSubmitReview)

		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdmin(h.logger))
			r.Patch("/{id}/verify", h.handleVerify)
			r.Patch("/{id}/reject", h.handleRejectDonation)
			r.Patch("/{id}/feature", h.handleFeature)
		})
	})

	r.Route("/requests", func(r chi.Router) {
		r.Get("/latest", h.handleLatestRequests)
		r.Get("/mine", h.handleMyRequests)
		r.Get("/incoming", h.handleIncomingRequests)
		r.Post("/{id}/accept", h.handleAcceptRequest)
		r.Post("/{id}/reject", h.handleRejectRequest)
		r.Post("/{id}/cancel", h.handleCancelRequest)
	})

	r.Get("/pickups/mine", h.handleMyPickups)
	r.Post("/pickups/{id}/confirm", h.handleConfirmPickup)

	r.Get("/reviews/mine", h.handleMyReviews)
	r.Delete("/reviews/{id}", h.handleDeleteReview)

	r.Get("/favorites", h.handleListFavorites)
	r.Put("/favorites/{id}", h.handleAddFavorite)
	r.Delete("/favorites/{id}", h.handleRemoveFavorite)
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

// =============================================================================
// Catalog
// =============================================================================

func (h *Handler) handleListDonations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseDonationQuery(r.URL.Query(), requestcontext.AccountID(ctx))
	if err != nil {
		h.fail(ctx, w, "invalid donation query", err)
		return
	}
	donations, err := h.service.ListDonations(ctx, actorFrom(ctx), q)
	if err != nil {
		h.fail(ctx, w, "failed to list donations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, donations)
}

// parseDonationQuery reads q, status (repeated or comma separated), featured,
// owner ("me" for the caller), sort, order, limit and offset.
func parseDonationQuery(v url.Values, caller id.AccountID) (models.DonationQuery, error) {
	q := models.DonationQuery{
		Text:  v.Get("q"),
		Sort:  models.SortField(v.Get("sort")),
		Order: models.SortOrder(strings.ToLower(v.Get("order"))),
	}
	for _, part := range strutil.SplitList(v["status"]...) {
		st, err := models.ParseDonationStatus(part)
		if err != nil {
			return q, err
		}
		q.Statuses = append(q.Statuses, st)
	}
	if raw := v.Get("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeInvalidInput, "featured must be true or false")
		}
		q.Featured = &featured
	}
	if raw := v.Get("owner"); raw != "" {
		owner := caller
		if raw != "me" {
			parsed, err := id.ParseAccountID(raw)
			if err != nil {
				return q, err
			}
			owner = parsed
		}
		if owner.IsNil() {
			return q, dErrors.New(dErrors.CodeUnauthenticated, "owner=me requires authentication")
		}
		q.OwnerID = &owner
	}
	var err error
	if q.Limit, err = intParam(v, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(v, "offset"); err != nil {
		return q, err
	}
	return q, nil
}

func intParam(v url.Values, name string) (int, error) {
	raw := v.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, name+" must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) handleGetDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	d, err := h.service.GetDonation(ctx, actorFrom(ctx), donationID)
	if err != nil {
		h.fail(ctx, w, "failed to load donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleCreateDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.CreateDonationRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	d, err := h.service.CreateDonation(ctx, actorFrom(ctx), models.CreateDonationInput{Fields: req.Fields()})
	if err != nil {
		h.fail(ctx, w, "failed to create donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleUpdateDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.CreateDonationRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	d, err := h.service.UpdateDonation(ctx, actorFrom(ctx), donationID, models.CreateDonationInput{Fields: req.Fields()})
	if err != nil {
		h.fail(ctx, w, "failed to update donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// handleReplaceImage accepts a multipart form with one "image" file part.
func (h *Handler) handleReplaceImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	img, err := readImage(w, r)
	if err != nil {
		h.fail(ctx, w, "invalid image upload", err)
		return
	}
	d, err := h.service.ReplaceImage(ctx, actorFrom(ctx), donationID, img)
	if err != nil {
		h.fail(ctx, w, "failed to replace donation image", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func readImage(w http.ResponseWriter, r *http.Request) (models.ImageUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxImageBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.ImageUpload{}, dErrors.New(dErrors.CodeValidation, "image is too large")
		}
		return models.ImageUpload{}, dErrors.New(dErrors.CodeBadRequest, "invalid multipart form")
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return models.ImageUpload{}, dErrors.New(dErrors.CodeValidation, "image is required")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, media.MaxImageBytes+1))
	if err != nil {
		return models.ImageUpload{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read image")
	}
	return models.ImageUpload{Data: data, Filename: header.Filename}, nil
}

func (h *Handler) handleDeleteDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	if err := h.service.DeleteDonation(ctx, actorFrom(ctx), donationID); err != nil {
		h.fail(ctx, w, "failed to delete donation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type donationDecision func(ctx context.Context, actor access.Actor, donationID id.DonationID) (*models.Donation, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, msg string, fn donationDecision) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	d, err := fn(ctx, actorFrom(ctx), donationID)
	if err != nil {
		h.fail(ctx, w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "failed to verify donation", h.service.VerifyDonation)
}

func (h *Handler) handleRejectDonation(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "failed to reject donation", h.service.RejectDonation)
}

func (h *Handler) handleFeature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	res, err := h.service.MarkFeatured(ctx, actorFrom(ctx), donationID)
	if err != nil {
		h.fail(ctx, w, "failed to feature donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// =============================================================================
// Requests
// =============================================================================

func (h *Handler) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	body := models.SubmitRequestRequest{}
	if r.ContentLength != 0 {
		req, ok := httputil.DecodeAndPrepare[models.SubmitRequestRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
		if !ok {
			return
		}
		body = *req
	}
	created, err := h.service.SubmitRequest(ctx, actorFrom(ctx), donationID, body)
	if err != nil {
		h.fail(ctx, w, "failed to submit request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListDonationRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	reqs, err := h.service.ListRequestsForDonation(ctx, actorFrom(ctx), donationID)
	if err != nil {
		h.fail(ctx, w, "failed to list requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid request id", err)
		return
	}
	res, err := h.service.AcceptRequest(ctx, actorFrom(ctx), requestID)
	if err != nil {
		h.fail(ctx, w, "failed to accept request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid request id", err)
		return
	}
	body := models.RejectRequestRequest{}
	if r.ContentLength != 0 {
		req, ok := httputil.DecodeAndPrepare[models.RejectRequestRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
		if !ok {
			return
		}
		body = *req
	}
	rejected, err := h.service.RejectRequest(ctx, actorFrom(ctx), requestID, body.Reason)
	if err != nil {
		h.fail(ctx, w, "failed to reject request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rejected)
}

func (h *Handler) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid request id", err)
		return
	}
	cancelled, err := h.service.CancelRequest(ctx, actorFrom(ctx), requestID)
	if err != nil {
		h.fail(ctx, w, "failed to cancel request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cancelled)
}

func (h *Handler) handleMyRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqs, err := h.service.ListMyRequests(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleIncomingRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqs, err := h.service.ListIncomingRequests(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleLatestRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		h.fail(ctx, w, "invalid limit", err)
		return
	}
	reqs, err := h.service.ListLatestRequests(ctx, limit)
	if err != nil {
		h.fail(ctx, w, "failed to list latest requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reqs)
}

// =============================================================================
// Pickups, reviews, favorites
// =============================================================================

func (h *Handler) handleMyPickups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	views, err := h.service.ListPickupsForCharity(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list pickups", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) handleConfirmPickup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pickupID, err := id.ParsePickupID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid pickup id", err)
		return
	}
	p, err := h.service.ConfirmPickup(ctx, actorFrom(ctx), pickupID)
	if err != nil {
		h.fail(ctx, w, "failed to confirm pickup", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	reviews, err := h.service.ListReviews(ctx, donationID)
	if err != nil {
		h.fail(ctx, w, "failed to list reviews", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reviews)
}

func (h *Handler) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.SubmitReviewRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	review, err := h.service.SubmitReview(ctx, actorFrom(ctx), donationID, *req)
	if err != nil {
		h.fail(ctx, w, "failed to submit review", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, review)
}

func (h *Handler) handleMyReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reviews, err := h.service.ListMyReviews(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list reviews", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reviews)
}

func (h *Handler) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reviewID, err := id.ParseReviewID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid review id", err)
		return
	}
	if err := h.service.DeleteReview(ctx, actorFrom(ctx), reviewID); err != nil {
		h.fail(ctx, w, "failed to delete review", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type favoriteResponse struct {
	DonationID id.DonationID `json:"donation_id"`
	Favorited  bool          `json:"favorited"`
	Changed    bool          `json:"changed"`
}

func (h *Handler) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donations, err := h.service.ListFavorites(ctx, actorFrom(ctx))
	if err != nil {
		h.fail(ctx, w, "failed to list favorites", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, donations)
}

func (h *Handler) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	added, err := h.service.AddFavorite(ctx, actorFrom(ctx), donationID)
	if err != nil {
		h.fail(ctx, w, "failed to add favorite", err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, favoriteResponse{DonationID: donationID, Favorited: true, Changed: added})
}

func (h *Handler) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := id.ParseDonationID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid donation id", err)
		return
	}
	removed, err := h.service.RemoveFavorite(ctx, actorFrom(ctx), donationID)
	if err != nil {
		h.fail(ctx, w, "failed to remove favorite", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, favoriteResponse{DonationID: donationID, Changed: removed})
}
