package models

import (
	"strings"
	"time"
	"unicode/utf8"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

// Review is immutable feedback on a picked-up donation. One per
// (donation, reviewer); resubmitting means delete and create again.
type Review struct {
	ID         id.ReviewID   `json:"id"`
	DonationID id.DonationID `json:"donation_id"`
	ReviewerID id.AccountID  `json:"reviewer_id"`
	Rating     int           `json:"rating"`
	Comment    string        `json:"comment"`
	CreatedAt  time.Time     `json:"created_at"`
}

func NewReview(donationID id.DonationID, reviewer id.AccountID, rating int, comment string, now time.Time) (*Review, error) {
	comment = strings.TrimSpace(comment)
	if rating < MinRating || rating > MaxRating {
		return nil, dErrors.New(dErrors.CodeValidation, "rating must be between 1 and 5")
	}
	if comment == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "comment is required")
	}
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return nil, dErrors.New(dErrors.CodeValidation, "comment must be at most 1000 characters")
	}
	return &Review{
		ID:         id.NewReviewID(),
		DonationID: donationID,
		ReviewerID: reviewer,
		Rating:     rating,
		Comment:    comment,
		CreatedAt:  now,
	}, nil
}

// Favorite is a (account, donation) membership.
type Favorite struct {
	AccountID  id.AccountID  `json:"account_id"`
	DonationID id.DonationID `json:"donation_id"`
	CreatedAt  time.Time     `json:"created_at"`
}
