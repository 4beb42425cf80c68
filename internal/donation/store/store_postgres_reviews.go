package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"replate/internal/donation/models"
	"replate/internal/platform/postgres"
	id "replate/pkg/domain"
	"replate/pkg/platform/sentinel"
	txcontext "replate/pkg/platform/tx"
)

type PostgresReviews struct {
	db *sql.DB
}

func NewPostgresReviews(db *sql.DB) *PostgresReviews {
	return &PostgresReviews{db: db}
}

const reviewColumns = `id, donation_id, reviewer_id, rating, comment, created_at`

func (s *PostgresReviews) Create(ctx context.Context, r *models.Review) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(r.ID), uuid.UUID(r.DonationID), uuid.UUID(r.ReviewerID), r.Rating, r.Comment, r.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *PostgresReviews) FindByID(ctx context.Context, reviewID id.ReviewID) (*models.Review, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, uuid.UUID(reviewID))
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find review: %w", err)
	}
	return r, nil
}

func (s *PostgresReviews) Delete(ctx context.Context, reviewID id.ReviewID) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM reviews WHERE id = $1`, uuid.UUID(reviewID))
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return requireOneRow(res)
}

func (s *PostgresReviews) ListByDonation(ctx context.Context, donationID id.DonationID) ([]*models.Review, error) {
	return s.list(ctx, `WHERE donation_id = $1 ORDER BY created_at, id`, uuid.UUID(donationID))
}

func (s *PostgresReviews) ListByReviewer(ctx context.Context, reviewerID id.AccountID) ([]*models.Review, error) {
	return s.list(ctx, `WHERE reviewer_id = $1 ORDER BY created_at DESC, id`, uuid.UUID(reviewerID))
}

func (s *PostgresReviews) list(ctx context.Context, tail string, args ...any) ([]*models.Review, error) {
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Review, 0)
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReview(row scanner) (*models.Review, error) {
	var (
		r          models.Review
		reviewID   uuid.UUID
		donationID uuid.UUID
		reviewer   uuid.UUID
	)
	if err := row.Scan(&reviewID, &donationID, &reviewer, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ID = id.ReviewID(reviewID)
	r.DonationID = id.DonationID(donationID)
	r.ReviewerID = id.AccountID(reviewer)
	return &r, nil
}

type PostgresFavorites struct {
	db *sql.DB
}

func NewPostgresFavorites(db *sql.DB) *PostgresFavorites {
	return &PostgresFavorites{db: db}
}

func (s *PostgresFavorites) Add(ctx context.Context, f models.Favorite) (bool, error) {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO favorites (account_id, donation_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (account_id, donation_id) DO NOTHING`,
		uuid.UUID(f.AccountID), uuid.UUID(f.DonationID), f.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert favorite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresFavorites) Remove(ctx context.Context, accountID id.AccountID, donationID id.DonationID) (bool, error) {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM favorites WHERE account_id = $1 AND donation_id = $2`,
		uuid.UUID(accountID), uuid.UUID(donationID))
	if err != nil {
		return false, fmt.Errorf("delete favorite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteByDonation mirrors the ON DELETE CASCADE for callers that delete
// favorites before the donation row.
func (s *PostgresFavorites) DeleteByDonation(ctx context.Context, donationID id.DonationID) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`DELETE FROM favorites WHERE donation_id = $1`, uuid.UUID(donationID))
	if err != nil {
		return fmt.Errorf("delete favorites: %w", err)
	}
	return nil
}

func (s *PostgresFavorites) List(ctx context.Context, accountID id.AccountID) ([]models.Favorite, error) {
	rows, err := txcontext.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT account_id, donation_id, created_at FROM favorites
		WHERE account_id = $1 ORDER BY created_at DESC, donation_id`, uuid.UUID(accountID))
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()
	out := make([]models.Favorite, 0)
	for rows.Next() {
		var (
			f        models.Favorite
			account  uuid.UUID
			donation uuid.UUID
		)
		if err := rows.Scan(&account, &donation, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		f.AccountID = id.AccountID(account)
		f.DonationID = id.DonationID(donation)
		out = append(out, f)
	}
	return out, rows.Err()
}
