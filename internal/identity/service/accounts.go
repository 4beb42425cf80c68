package service

import (
	"context"
	"errors"

	"replate/internal/access"
	"replate/internal/identity/models"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/platform/sentinel"
	"replate/pkg/requestcontext"
)

// GetRole returns the directory role tag. A missing account is NotFound, which
// the auth middleware reads as "authenticated but unregistered".
func (s *Service) GetRole(ctx context.Context, accountID id.AccountID) (id.Role, error) {
	a, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", wrapAccountErr(err, "failed to load role")
	}
	return a.Role, nil
}

// DisplayName is the name shown on requests filed by accountID, falling back
// to the email when no name was given.
func (s *Service) DisplayName(ctx context.Context, accountID id.AccountID) (string, error) {
	a, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", wrapAccountErr(err, "failed to load account")
	}
	if a.Name != "" {
		return a.Name, nil
	}
	return a.Email, nil
}

// SetRole writes the role tag. Callers outside this package go through
// ApproveRoleRequest.
func (s *Service) SetRole(ctx context.Context, accountID id.AccountID, role id.Role) error {
	if !role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid role")
	}
	if err := s.accounts.UpdateRole(ctx, accountID, role, requestcontext.Now(ctx)); err != nil {
		return wrapAccountErr(err, "failed to set role")
	}
	return s.emit(ctx, audit.Event{
		Action:   string(audit.EventRoleChanged),
		Subject:  accountID.String(),
		Decision: string(role),
	})
}

// Register creates the directory entry for an authenticated identity with the
// user role. Registering again returns the existing account and created=false.
func (s *Service) Register(ctx context.Context, accountID id.AccountID, req models.RegisterRequest) (*models.Account, bool, error) {
	if accountID.IsNil() {
		return nil, false, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}
	if existing, err := s.accounts.FindByID(ctx, accountID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, wrapAccountErr(err, "failed to load account")
	}

	var account *models.Account
	err := s.tx.RunInTx(ctx, accountID.String(), func(txCtx context.Context) error {
		a, err := models.NewAccount(accountID, req.Name, req.Email, req.PhotoURL, requestcontext.Now(txCtx))
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, err.Error())
		}
		if err := s.accounts.Create(txCtx, a); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "account or email already registered")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register account")
		}
		account = a
		return s.emit(txCtx, audit.Event{
			ActorID:  accountID,
			Action:   string(audit.EventAccountRegistered),
			Subject:  accountID.String(),
			Decision: string(a.Role),
		})
	})
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}

// EnsureAdmin makes accountID an admin, creating the account if needed. Used
// once at startup for the configured bootstrap admin.
func (s *Service) EnsureAdmin(ctx context.Context, accountID id.AccountID, email string) error {
	now := requestcontext.Now(ctx)
	a, err := s.accounts.FindByID(ctx, accountID)
	switch {
	case err == nil:
		if a.Role == id.RoleAdmin {
			return nil
		}
		a.ApplyRole(id.RoleAdmin, now)
	case errors.Is(err, sentinel.ErrNotFound):
		a, err = models.NewAccount(accountID, "admin", email, "", now)
		if err != nil {
			return err
		}
		a.ApplyRole(id.RoleAdmin, now)
	default:
		return wrapAccountErr(err, "failed to load bootstrap admin")
	}
	if err := s.accounts.Upsert(ctx, a); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store bootstrap admin")
	}
	s.logger.InfoContext(ctx, "bootstrap admin ensured", "account_id", accountID)
	return nil
}

func (s *Service) GetAccount(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	a, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, wrapAccountErr(err, "failed to load account")
	}
	return a, nil
}

func (s *Service) ListAccounts(ctx context.Context, actor access.Actor) ([]*models.Account, error) {
	if err := access.Authorize(actor, access.OpAccountList, nil); err != nil {
		return nil, err
	}
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list accounts")
	}
	return accounts, nil
}

// DeleteAccount removes an account and its role requests. Admins cannot delete
// themselves, so the directory keeps at least the acting admin.
func (s *Service) DeleteAccount(ctx context.Context, actor access.Actor, accountID id.AccountID) error {
	if err := access.Authorize(actor, access.OpAccountDelete, nil); err != nil {
		return err
	}
	if accountID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "account ID required")
	}
	if accountID == actor.ID {
		return dErrors.New(dErrors.CodeConflict, "admins cannot delete their own account")
	}

	return s.tx.RunInTx(ctx, accountID.String(), func(txCtx context.Context) error {
		a, err := s.accounts.FindByID(txCtx, accountID)
		if err != nil {
			return wrapAccountErr(err, "failed to load account")
		}
		if err := s.requests.DeleteByRequester(txCtx, accountID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete role requests")
		}
		if err := s.accounts.Delete(txCtx, accountID); err != nil {
			return wrapAccountErr(err, "failed to delete account")
		}
		return s.emit(txCtx, audit.Event{
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    string(audit.EventAccountDeleted),
			Subject:   accountID.String(),
			Decision:  string(a.Role),
		})
	})
}
