// Package service is the donation lifecycle engine: the catalog, the request
// ledger that arbitrates competing charities, pickup confirmation, the review
// gate and favorites.
//
// Every donation-scoped mutation runs in one unit of work keyed by the
// donation ID, so the donation's stored status always changes together with
// the request or pickup transition that implies it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"replate/internal/access"
	"replate/internal/donation/metrics"
	"replate/internal/donation/models"
	"replate/internal/media"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

type DonationStore interface {
	Create(ctx context.Context, d *models.Donation) error
	FindByID(ctx context.Context, donationID id.DonationID) (*models.Donation, error)
	FindForUpdate(ctx context.Context, donationID id.DonationID) (*models.Donation, error)
	Update(ctx context.Context, d *models.Donation, expected models.DonationStatus) error
	Delete(ctx context.Context, donationID id.DonationID) error
	List(ctx context.Context, q models.DonationQuery) ([]*models.Donation, error)
	ListByIDs(ctx context.Context, ids []id.DonationID) ([]*models.Donation, error)
}

type RequestStore interface {
	Create(ctx context.Context, r *models.Request) error
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	Update(ctx context.Context, r *models.Request, expected models.RequestStatus) error
	RejectPending(ctx context.Context, donationID id.DonationID, keep id.RequestID, reason string, now time.Time) ([]*models.Request, error)
	ListByDonation(ctx context.Context, donationID id.DonationID) ([]*models.Request, error)
	ListByCharity(ctx context.Context, charityID id.AccountID) ([]*models.Request, error)
	ListByRestaurant(ctx context.Context, restaurantID id.AccountID) ([]*models.Request, error)
	ListLatest(ctx context.Context, limit int) ([]*models.Request, error)
}

type PickupStore interface {
	Create(ctx context.Context, p *models.Pickup) error
	FindByID(ctx context.Context, pickupID id.PickupID) (*models.Pickup, error)
	FindByDonation(ctx context.Context, donationID id.DonationID) (*models.Pickup, error)
	Update(ctx context.Context, p *models.Pickup, expected models.PickupStatus) error
	ListByCharity(ctx context.Context, charityID id.AccountID) ([]*models.Pickup, error)
}

type ReviewStore interface {
	Create(ctx context.Context, r *models.Review) error
	FindByID(ctx context.Context, reviewID id.ReviewID) (*models.Review, error)
	Delete(ctx context.Context, reviewID id.ReviewID) error
	ListByDonation(ctx context.Context, donationID id.DonationID) ([]*models.Review, error)
	ListByReviewer(ctx context.Context, reviewerID id.AccountID) ([]*models.Review, error)
}

type FavoriteStore interface {
	Add(ctx context.Context, f models.Favorite) (bool, error)
	Remove(ctx context.Context, accountID id.AccountID, donationID id.DonationID) (bool, error)
	DeleteByDonation(ctx context.Context, donationID id.DonationID) error
	List(ctx context.Context, accountID id.AccountID) ([]models.Favorite, error)
}

// DonationCache is a read-through cache for GetDonation.
type DonationCache interface {
	Get(ctx context.Context, donationID id.DonationID, load func(ctx context.Context) (*models.Donation, error)) (*models.Donation, error)
	Invalidate(ctx context.Context, ids ...id.DonationID) error
}

// Directory resolves the name recorded on a charity's request.
type Directory interface {
	DisplayName(ctx context.Context, accountID id.AccountID) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Stores groups the persistence the service needs.
type Stores struct {
	Donations DonationStore
	Requests  RequestStore
	Pickups   PickupStore
	Reviews   ReviewStore
	Favorites FavoriteStore
}

type Service struct {
	donations      DonationStore
	requests       RequestStore
	pickups        PickupStore
	reviews        ReviewStore
	favorites      FavoriteStore
	tx             txcontext.Runner
	cache          DonationCache
	images         media.Host
	directory      Directory
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	logger         *slog.Logger
	auditPublisher AuditPublisher
	latestLimit    int
}

// DefaultLatestLimit caps the public latest-requests feed.
const DefaultLatestLimit = 20

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithTx replaces the default in-memory unit-of-work runner.
func WithTx(tx txcontext.Runner) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

func WithCache(cache DonationCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithImageHost(host media.Host) Option {
	return func(s *Service) {
		s.images = host
	}
}

func WithDirectory(dir Directory) Option {
	return func(s *Service) {
		s.directory = dir
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithLatestLimit caps ListLatestRequests.
func WithLatestLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.latestLimit = n
		}
	}
}

func New(stores Stores, opts ...Option) (*Service, error) {
	switch {
	case stores.Donations == nil:
		return nil, errors.New("donation store is required")
	case stores.Requests == nil:
		return nil, errors.New("request store is required")
	case stores.Pickups == nil:
		return nil, errors.New("pickup store is required")
	case stores.Reviews == nil:
		return nil, errors.New("review store is required")
	case stores.Favorites == nil:
		return nil, errors.New("favorite store is required")
	}
	s := &Service{
		donations:   stores.Donations,
		requests:    stores.Requests,
		pickups:     stores.Pickups,
		reviews:     stores.Reviews,
		favorites:   stores.Favorites,
		tx:          txcontext.NewSharded(0),
		metrics:     metrics.New(prometheus.NewRegistry()),
		tracer:      otel.Tracer("replate/donation"),
		logger:      slog.Default(),
		latestLimit: DefaultLatestLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	s.logger.InfoContext(ctx, event.Action,
		"log_type", "audit",
		"subject", event.Subject,
		"actor_id", event.ActorID,
		"decision", event.Decision,
		"request_id", event.RequestID,
	)
	if s.auditPublisher == nil {
		return nil
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

// invalidate drops cached donations after their unit of work committed.
func (s *Service) invalidate(ctx context.Context, ids ...id.DonationID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate donation cache", "error", err)
	}
}

// lockDonation loads the donation for update inside a unit of work.
func (s *Service) lockDonation(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	d, err := s.donations.FindForUpdate(ctx, donationID)
	if err != nil {
		return nil, wrapStoreErr(err, "donation", "failed to load donation")
	}
	return d, nil
}

// canSee reports whether actor may see d outside the public catalog.
func canSee(actor access.Actor, d *models.Donation) bool {
	return d.Status.Public() || actor.IsAdmin() || (!actor.ID.IsNil() && actor.ID == d.OwnerID)
}

// authorizeRole rejects an actor whose role can never perform op, before any
// lookup could tell the caller whether the target exists.
func authorizeRole(actor access.Actor, op access.Operation) error {
	return access.Authorize(actor, op, access.Self(actor))
}

// authorizeDonation checks op against the donation's owner. A donation the
// actor cannot see is NotFound rather than Forbidden.
func authorizeDonation(actor access.Actor, op access.Operation, d *models.Donation) error {
	if !canSee(actor, d) {
		return dErrors.New(dErrors.CodeNotFound, "donation not found")
	}
	return access.Authorize(actor, op, access.Owned(d.OwnerID))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

// wrapStoreErr maps store sentinels for entity. ErrInvalidState is a lost
// compare-and-set: someone else moved the record first.
func wrapStoreErr(err error, entity, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidTransition, entity+" was changed concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
