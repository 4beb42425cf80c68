// Package service is the identity and role directory: account registration,
// role lookup for the access controller and the role change request flow.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"replate/internal/identity/models"
	"replate/internal/payment"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, accountID id.AccountID) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	UpdateRole(ctx context.Context, accountID id.AccountID, role id.Role, now time.Time) error
	Upsert(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, accountID id.AccountID) error
}

type RoleRequestStore interface {
	Create(ctx context.Context, req *models.RoleChangeRequest) error
	FindByID(ctx context.Context, reqID id.RoleRequestID) (*models.RoleChangeRequest, error)
	FindForUpdate(ctx context.Context, reqID id.RoleRequestID) (*models.RoleChangeRequest, error)
	Update(ctx context.Context, req *models.RoleChangeRequest) error
	List(ctx context.Context, requester *id.AccountID) ([]*models.RoleChangeRequest, error)
	FindByPaymentReference(ctx context.Context, reference string) (*models.RoleChangeRequest, error)
	DeleteByRequester(ctx context.Context, accountID id.AccountID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns the directory. SetRole is only reached through role request
// approval.
type Service struct {
	accounts       AccountStore
	requests       RoleRequestStore
	payments       payment.Processor
	tx             txcontext.Runner
	logger         *slog.Logger
	auditPublisher AuditPublisher
	fees           map[id.Role]int64
	currency       string
}

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

// WithRoleFee charges amount (minor units of currency) for requesting role.
func WithRoleFee(role id.Role, amount int64, currency string) Option {
	return func(s *Service) {
		if amount > 0 {
			s.fees[role] = amount
		}
		if currency != "" {
			s.currency = currency
		}
	}
}

func New(accounts AccountStore, requests RoleRequestStore, payments payment.Processor, opts ...Option) (*Service, error) {
	if accounts == nil {
		return nil, errors.New("account store is required")
	}
	if requests == nil {
		return nil, errors.New("role request store is required")
	}
	if payments == nil {
		return nil, errors.New("payment processor is required")
	}
	s := &Service{
		accounts: accounts,
		requests: requests,
		payments: payments,
		tx:       txcontext.NewSharded(0),
		logger:   slog.Default(),
		fees:     make(map[id.Role]int64),
		currency: "usd",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fee returns the amount charged for requesting role, zero when free.
func (s *Service) Fee(role id.Role) int64 {
	return s.fees[role]
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

func wrapAccountErr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func wrapRoleRequestErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "role request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidTransition, "role request was already decided")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
