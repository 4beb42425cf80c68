package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"replate/internal/donation/models"
	"replate/internal/platform/postgres"
	id "replate/pkg/domain"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

type scanner interface {
	Scan(dest ...any) error
}

// PostgresDonations persists donations. FindForUpdate takes the row lock that
// serializes arbitration on one donation.
type PostgresDonations struct {
	db *sql.DB
}

func NewPostgresDonations(db *sql.DB) *PostgresDonations {
	return &PostgresDonations{db: db}
}

const donationColumns = `id, seq, owner_id, title, food_type, quantity, window_start, window_end,
	location, image_url, status, featured, created_at, updated_at`

func (s *PostgresDonations) Create(ctx context.Context, d *models.Donation) error {
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO donations (id, owner_id, title, food_type, quantity, window_start, window_end,
			location, image_url, status, featured, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq`,
		uuid.UUID(d.ID), uuid.UUID(d.OwnerID), d.Title, d.FoodType, d.Quantity, d.Window.Start, d.Window.End,
		d.Location, d.ImageURL, string(d.Status), d.Featured, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.Seq)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

func (s *PostgresDonations) FindByID(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	return s.find(ctx, donationID, "")
}

// FindForUpdate locks the donation row until the surrounding transaction ends.
func (s *PostgresDonations) FindForUpdate(ctx context.Context, donationID id.DonationID) (*models.Donation, error) {
	return s.find(ctx, donationID, " FOR UPDATE")
}

func (s *PostgresDonations) find(ctx context.Context, donationID id.DonationID, suffix string) (*models.Donation, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE id = $1`+suffix, uuid.UUID(donationID))
	d, err := scanDonation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find donation: %w", err)
	}
	return d, nil
}

// Update is a compare-and-set on status: zero rows means the donation moved
// on (ErrInvalidState) or is gone (ErrNotFound).
func (s *PostgresDonations) Update(ctx context.Context, d *models.Donation, expected models.DonationStatus) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE donations
		SET title = $3, food_type = $4, quantity = $5, window_start = $6, window_end = $7,
			location = $8, image_url = $9, status = $10, featured = $11, updated_at = $12
		WHERE id = $1 AND status = $2`,
		uuid.UUID(d.ID), string(expected), d.Title, d.FoodType, d.Quantity, d.Window.Start, d.Window.End,
		d.Location, d.ImageURL, string(d.Status), d.Featured, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update donation: %w", err)
	}
	return casResult(res, func() error {
		_, err := s.FindByID(ctx, d.ID)
		return err
	})
}

func (s *PostgresDonations) Delete(ctx context.Context, donationID id.DonationID) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM donations WHERE id = $1`, uuid.UUID(donationID))
	if err != nil {
		return fmt.Errorf("delete donation: %w", err)
	}
	return requireOneRow(res)
}

func (s *PostgresDonations) List(ctx context.Context, q models.DonationQuery) ([]*models.Donation, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, `status = ANY(`+arg(pq.Array(statuses))+`::text[])`)
	}
	if q.Featured != nil {
		where = append(where, `featured = `+arg(*q.Featured))
	}
	if q.OwnerID != nil {
		where = append(where, `owner_id = `+arg(uuid.UUID(*q.OwnerID)))
	}
	if q.Text != "" {
		p := arg("%" + escapeLike(q.Text) + "%")
		where = append(where, `(title ILIKE `+p+` OR food_type ILIKE `+p+`)`)
	}

	query := `SELECT ` + donationColumns + ` FROM donations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	dir := `ASC`
	if q.Order == models.OrderDesc {
		dir = `DESC`
	}
	switch q.Sort {
	case models.SortQuantity:
		query += ` ORDER BY quantity ` + dir + `, seq ASC`
	case models.SortPickupTime:
		query += ` ORDER BY window_start ` + dir + `, seq ASC`
	default:
		query += ` ORDER BY seq DESC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ` + arg(q.Limit)
	}
	if q.Offset > 0 {
		query += ` OFFSET ` + arg(q.Offset)
	}
	return s.query(ctx, query, args...)
}

func (s *PostgresDonations) ListByIDs(ctx context.Context, ids []id.DonationID) ([]*models.Donation, error) {
	if len(ids) == 0 {
		return []*models.Donation{}, nil
	}
	strs := make([]string, len(ids))
	for i, donationID := range ids {
		strs[i] = donationID.String()
	}
	return s.query(ctx, `SELECT `+donationColumns+` FROM donations WHERE id = ANY($1::uuid[])`, pq.Array(strs))
}

func (s *PostgresDonations) query(ctx context.Context, query string, args ...any) ([]*models.Donation, error) {
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list donations: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Donation, 0)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDonation(row scanner) (*models.Donation, error) {
	var (
		d        models.Donation
		donation uuid.UUID
		owner    uuid.UUID
		status   string
	)
	if err := row.Scan(&donation, &d.Seq, &owner, &d.Title, &d.FoodType, &d.Quantity, &d.Window.Start, &d.Window.End,
		&d.Location, &d.ImageURL, &status, &d.Featured, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ID = id.DonationID(donation)
	d.OwnerID = id.AccountID(owner)
	d.Status = models.DonationStatus(status)
	return &d, nil
}

// PostgresRequests persists donation requests. The partial unique indexes
// donation_requests_one_live and donation_requests_one_accepted back the
// duplicate and single-winner rules.
type PostgresRequests struct {
	db *sql.DB
}

func NewPostgresRequests(db *sql.DB) *PostgresRequests {
	return &PostgresRequests{db: db}
}

const requestColumns = `id, donation_id, charity_id, restaurant_id, requester_name, preferred_pickup_at,
	note, status, rejection_reason, created_at, decided_at`

func (s *PostgresRequests) Create(ctx context.Context, r *models.Request) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO donation_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(r.ID), uuid.UUID(r.DonationID), uuid.UUID(r.CharityID), uuid.UUID(r.RestaurantID),
		r.RequesterName, r.PreferredPickupAt, r.Note, string(r.Status), r.RejectionReason, r.CreatedAt, r.DecidedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "donation_requests_one_live") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresRequests) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM donation_requests WHERE id = $1`, uuid.UUID(requestID))
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find request: %w", err)
	}
	return r, nil
}

func (s *PostgresRequests) Update(ctx context.Context, r *models.Request, expected models.RequestStatus) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE donation_requests
		SET status = $3, rejection_reason = $4, decided_at = $5
		WHERE id = $1 AND status = $2`,
		uuid.UUID(r.ID), string(expected), string(r.Status), r.RejectionReason, r.DecidedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "donation_requests_one_accepted") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("update request: %w", err)
	}
	return casResult(res, func() error {
		_, err := s.FindByID(ctx, r.ID)
		return err
	})
}

func (s *PostgresRequests) RejectPending(ctx context.Context, donationID id.DonationID, keep id.RequestID, reason string, now time.Time) ([]*models.Request, error) {
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, `
		UPDATE donation_requests
		SET status = 'Rejected', rejection_reason = $3, decided_at = $4
		WHERE donation_id = $1 AND id <> $2 AND status = 'Pending'
		RETURNING `+requestColumns,
		uuid.UUID(donationID), uuid.UUID(keep), reason, now,
	)
	if err != nil {
		return nil, fmt.Errorf("reject sibling requests: %w", err)
	}
	return collectRequests(rows)
}

func (s *PostgresRequests) ListByDonation(ctx context.Context, donationID id.DonationID) ([]*models.Request, error) {
	return s.list(ctx, `WHERE donation_id = $1 ORDER BY created_at, id`, uuid.UUID(donationID))
}

func (s *PostgresRequests) ListByCharity(ctx context.Context, charityID id.AccountID) ([]*models.Request, error) {
	return s.list(ctx, `WHERE charity_id = $1 ORDER BY created_at DESC, id`, uuid.UUID(charityID))
}

func (s *PostgresRequests) ListByRestaurant(ctx context.Context, restaurantID id.AccountID) ([]*models.Request, error) {
	return s.list(ctx, `WHERE restaurant_id = $1 ORDER BY created_at DESC, id`, uuid.UUID(restaurantID))
}

func (s *PostgresRequests) ListLatest(ctx context.Context, limit int) ([]*models.Request, error) {
	return s.list(ctx, `ORDER BY created_at DESC, id LIMIT $1`, limit)
}

func (s *PostgresRequests) list(ctx context.Context, tail string, args ...any) ([]*models.Request, error) {
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx,
		`SELECT `+requestColumns+` FROM donation_requests `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]*models.Request, error) {
	defer rows.Close()
	out := make([]*models.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row scanner) (*models.Request, error) {
	var (
		r          models.Request
		requestID  uuid.UUID
		donationID uuid.UUID
		charity    uuid.UUID
		restaurant uuid.UUID
		status     string
		preferred  sql.NullTime
		decidedAt  sql.NullTime
	)
	if err := row.Scan(&requestID, &donationID, &charity, &restaurant, &r.RequesterName, &preferred,
		&r.Note, &status, &r.RejectionReason, &r.CreatedAt, &decidedAt); err != nil {
		return nil, err
	}
	r.ID = id.RequestID(requestID)
	r.DonationID = id.DonationID(donationID)
	r.CharityID = id.AccountID(charity)
	r.RestaurantID = id.AccountID(restaurant)
	r.Status = models.RequestStatus(status)
	r.PreferredPickupAt = nullTime(preferred)
	r.DecidedAt = nullTime(decidedAt)
	return &r, nil
}

// PostgresPickups persists pickups; the unique donation_id and request_id
// columns allow one pickup per arbitration.
type PostgresPickups struct {
	db *sql.DB
}

func NewPostgresPickups(db *sql.DB) *PostgresPickups {
	return &PostgresPickups{db: db}
}

const pickupColumns = `id, request_id, donation_id, charity_id, restaurant_id, status, scheduled_at, confirmed_at, created_at`

func (s *PostgresPickups) Create(ctx context.Context, p *models.Pickup) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO pickups (`+pickupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(p.ID), uuid.UUID(p.RequestID), uuid.UUID(p.DonationID), uuid.UUID(p.CharityID),
		uuid.UUID(p.RestaurantID), string(p.Status), p.ScheduledAt, p.ConfirmedAt, p.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert pickup: %w", err)
	}
	return nil
}

func (s *PostgresPickups) FindByID(ctx context.Context, pickupID id.PickupID) (*models.Pickup, error) {
	return s.findOne(ctx, `id = $1`, uuid.UUID(pickupID))
}

func (s *PostgresPickups) FindByDonation(ctx context.Context, donationID id.DonationID) (*models.Pickup, error) {
	return s.findOne(ctx, `donation_id = $1`, uuid.UUID(donationID))
}

func (s *PostgresPickups) findOne(ctx context.Context, cond string, arg any) (*models.Pickup, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+pickupColumns+` FROM pickups WHERE `+cond, arg)
	p, err := scanPickup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find pickup: %w", err)
	}
	return p, nil
}

func (s *PostgresPickups) Update(ctx context.Context, p *models.Pickup, expected models.PickupStatus) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE pickups SET status = $3, confirmed_at = $4
		WHERE id = $1 AND status = $2`,
		uuid.UUID(p.ID), string(expected), string(p.Status), p.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("update pickup: %w", err)
	}
	return casResult(res, func() error {
		_, err := s.FindByID(ctx, p.ID)
		return err
	})
}

func (s *PostgresPickups) ListByCharity(ctx context.Context, charityID id.AccountID) ([]*models.Pickup, error) {
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx,
		`SELECT `+pickupColumns+` FROM pickups WHERE charity_id = $1 ORDER BY scheduled_at, id`, uuid.UUID(charityID))
	if err != nil {
		return nil, fmt.Errorf("list pickups: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Pickup, 0)
	for rows.Next() {
		p, err := scanPickup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pickup: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPickup(row scanner) (*models.Pickup, error) {
	var (
		p          models.Pickup
		pickupID   uuid.UUID
		requestID  uuid.UUID
		donationID uuid.UUID
		charity    uuid.UUID
		restaurant uuid.UUID
		status     string
		confirmed  sql.NullTime
	)
	if err := row.Scan(&pickupID, &requestID, &donationID, &charity, &restaurant, &status,
		&p.ScheduledAt, &confirmed, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PickupID(pickupID)
	p.RequestID = id.RequestID(requestID)
	p.DonationID = id.DonationID(donationID)
	p.CharityID = id.AccountID(charity)
	p.RestaurantID = id.AccountID(restaurant)
	p.Status = models.PickupStatus(status)
	p.ConfirmedAt = nullTime(confirmed)
	return &p, nil
}

// casResult maps a zero-row compare-and-set to ErrInvalidState, or to
// whatever exists reports (normally ErrNotFound) when the row is gone.
func casResult(res sql.Result, exists func() error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := exists(); err != nil {
		return err
	}
	return sentinel.ErrInvalidState
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

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
