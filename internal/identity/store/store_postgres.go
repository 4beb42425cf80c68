package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"replate/internal/identity/models"
	"replate/internal/platform/postgres"
	id "replate/pkg/domain"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

// PostgresAccounts persists accounts. It writes through the transaction in
// ctx when one is present.
type PostgresAccounts struct {
	db *sql.DB
}

func NewPostgresAccounts(db *sql.DB) *PostgresAccounts {
	return &PostgresAccounts{db: db}
}

const accountColumns = `id, name, email, photo_url, role, created_at, updated_at`

func (s *PostgresAccounts) Create(ctx context.Context, a *models.Account) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(a.ID), a.Name, a.Email, a.PhotoURL, string(a.Role), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresAccounts) FindByID(ctx context.Context, accountID id.AccountID) (*models.Account, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, uuid.UUID(accountID))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

func (s *PostgresAccounts) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresAccounts) UpdateRole(ctx context.Context, accountID id.AccountID, role id.Role, now time.Time) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`UPDATE accounts SET role = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(accountID), string(role), now)
	if err != nil {
		return fmt.Errorf("update account role: %w", err)
	}
	return requireOneRow(res)
}

func (s *PostgresAccounts) Upsert(ctx context.Context, a *models.Account) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`,
		uuid.UUID(a.ID), a.Name, a.Email, a.PhotoURL, string(a.Role), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *PostgresAccounts) Delete(ctx context.Context, accountID id.AccountID) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM accounts WHERE id = $1`, uuid.UUID(accountID))
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireOneRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*models.Account, error) {
	var (
		a     models.Account
		accID uuid.UUID
		role  string
	)
	if err := row.Scan(&accID, &a.Name, &a.Email, &a.PhotoURL, &role, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = id.AccountID(accID)
	a.Role = id.Role(role)
	return &a, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// PostgresRoleRequests persists role change requests.
type PostgresRoleRequests struct {
	db *sql.DB
}

func NewPostgresRoleRequests(db *sql.DB) *PostgresRoleRequests {
	return &PostgresRoleRequests{db: db}
}

const roleRequestColumns = `id, requester_id, requested_role, organization_name, mission,
	payment_reference, amount_paid, currency, status, decision_reason, created_at, decided_at, decided_by`

func (s *PostgresRoleRequests) Create(ctx context.Context, r *models.RoleChangeRequest) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO role_requests (`+roleRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(r.ID), uuid.UUID(r.RequesterID), string(r.RequestedRole), r.OrganizationName, r.SupportingInfo,
		r.PaymentReference, r.AmountPaid, r.Currency, string(r.Status), r.DecisionReason, r.CreatedAt,
		r.DecidedAt, nullableAccount(r.DecidedBy),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "role_requests_one_pending") ||
			postgres.IsUniqueViolation(err, "role_requests_payment_reference") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert role request: %w", err)
	}
	return nil
}

func (s *PostgresRoleRequests) FindByID(ctx context.Context, reqID id.RoleRequestID) (*models.RoleChangeRequest, error) {
	return s.find(ctx, reqID, "")
}

// FindForUpdate locks the row until the surrounding transaction ends.
func (s *PostgresRoleRequests) FindForUpdate(ctx context.Context, reqID id.RoleRequestID) (*models.RoleChangeRequest, error) {
	return s.find(ctx, reqID, " FOR UPDATE")
}

func (s *PostgresRoleRequests) find(ctx context.Context, reqID id.RoleRequestID, suffix string) (*models.RoleChangeRequest, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+roleRequestColumns+` FROM role_requests WHERE id = $1`+suffix, uuid.UUID(reqID))
	r, err := scanRoleRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find role request: %w", err)
	}
	return r, nil
}

// Update records the decision, guarded on the row still being Pending.
func (s *PostgresRoleRequests) Update(ctx context.Context, r *models.RoleChangeRequest) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE role_requests
		SET status = $2, decision_reason = $3, decided_at = $4, decided_by = $5
		WHERE id = $1 AND status = 'Pending'`,
		uuid.UUID(r.ID), string(r.Status), r.DecisionReason, r.DecidedAt, nullableAccount(r.DecidedBy),
	)
	if err != nil {
		return fmt.Errorf("update role request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.FindByID(ctx, r.ID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresRoleRequests) List(ctx context.Context, requester *id.AccountID) ([]*models.RoleChangeRequest, error) {
	query := `SELECT ` + roleRequestColumns + ` FROM role_requests`
	var args []any
	if requester != nil {
		query += ` WHERE requester_id = $1`
		args = append(args, uuid.UUID(*requester))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list role requests: %w", err)
	}
	defer rows.Close()

	out := make([]*models.RoleChangeRequest, 0)
	for rows.Next() {
		r, err := scanRoleRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresRoleRequests) FindByPaymentReference(ctx context.Context, reference string) (*models.RoleChangeRequest, error) {
	if reference == "" {
		return nil, sentinel.ErrNotFound
	}
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+roleRequestColumns+` FROM role_requests WHERE payment_reference = $1`, reference)
	r, err := scanRoleRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find role request by payment: %w", err)
	}
	return r, nil
}

// DeleteByRequester is a no-op beyond the ON DELETE CASCADE on accounts, kept
// so both stores expose the same contract.
func (s *PostgresRoleRequests) DeleteByRequester(ctx context.Context, accountID id.AccountID) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM role_requests WHERE requester_id = $1`, uuid.UUID(accountID))
	if err != nil {
		return fmt.Errorf("delete role requests: %w", err)
	}
	return nil
}

func scanRoleRequest(row scanner) (*models.RoleChangeRequest, error) {
	var (
		r         models.RoleChangeRequest
		reqID     uuid.UUID
		requester uuid.UUID
		role      string
		status    string
		decidedAt sql.NullTime
		decidedBy uuid.NullUUID
	)
	if err := row.Scan(&reqID, &requester, &role, &r.OrganizationName, &r.SupportingInfo,
		&r.PaymentReference, &r.AmountPaid, &r.Currency, &status, &r.DecisionReason, &r.CreatedAt,
		&decidedAt, &decidedBy); err != nil {
		return nil, err
	}
	r.ID = id.RoleRequestID(reqID)
	r.RequesterID = id.AccountID(requester)
	r.RequestedRole = id.Role(role)
	r.Status = models.RoleRequestStatus(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		r.DecidedAt = &t
	}
	if decidedBy.Valid {
		admin := id.AccountID(decidedBy.UUID)
		r.DecidedBy = &admin
	}
	return &r, nil
}

func nullableAccount(a *id.AccountID) any {
	if a == nil {
		return nil
	}
	return uuid.UUID(*a)
}
