package models

import (
	"strings"
	"time"

	dErrors "replate/pkg/domain-errors"
)

// CreateDonationRequest is the body of POST and PUT /donations.
type CreateDonationRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	FoodType    string    `json:"food_type" validate:"required,max=100"`
	Quantity    float64   `json:"quantity" validate:"gt=0"`
	PickupStart time.Time `json:"pickup_start" validate:"required"`
	PickupEnd   time.Time `json:"pickup_end" validate:"required"`
	Location    string    `json:"location" validate:"required,max=300"`
	ImageURL    string    `json:"image_url" validate:"omitempty,url"`
}

func (r *CreateDonationRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.FoodType = strings.TrimSpace(r.FoodType)
	r.Location = strings.TrimSpace(r.Location)
	if !r.PickupEnd.After(r.PickupStart) {
		return dErrors.New(dErrors.CodeValidation, "pickup_end must be after pickup_start")
	}
	return nil
}

func (r *CreateDonationRequest) Fields() DonationFields {
	return DonationFields{
		Title:    r.Title,
		FoodType: r.FoodType,
		Quantity: r.Quantity,
		Window:   PickupWindow{Start: r.PickupStart, End: r.PickupEnd},
		Location: r.Location,
		ImageURL: r.ImageURL,
	}
}

// SubmitRequestRequest is the body of POST /donations/{id}/requests.
type SubmitRequestRequest struct {
	PreferredPickupAt *time.Time `json:"preferred_pickup_at"`
	Note              string     `json:"note" validate:"max=500"`
}

func (r *SubmitRequestRequest) Validate() error {
	r.Note = strings.TrimSpace(r.Note)
	return nil
}

// RejectRequestRequest is the optional body of POST /requests/{id}/reject.
type RejectRequestRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (r *RejectRequestRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

// SubmitReviewRequest is the body of POST /donations/{id}/reviews. Range and
// emptiness are checked by NewReview so the service reports them the same way
// for every caller.
type SubmitReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (r *SubmitReviewRequest) Validate() error {
	r.Comment = strings.TrimSpace(r.Comment)
	return nil
}

// FeatureResult distinguishes "now featured" from "already featured".
type FeatureResult struct {
	Donation        *Donation `json:"donation"`
	AlreadyFeatured bool      `json:"already_featured"`
}

// AcceptResult is everything one arbitration changed.
type AcceptResult struct {
	Accepted *Request   `json:"accepted"`
	Rejected []*Request `json:"rejected"`
	Donation *Donation  `json:"donation"`
	Pickup   *Pickup    `json:"pickup"`
}

// ImageUpload is raw image bytes handed to the image host.
type ImageUpload struct {
	Data     []byte
	Filename string
}

// CreateDonationInput carries the donation fields and an optional image to
// upload. When Image is set its hosted URL replaces Fields.ImageURL.
type CreateDonationInput struct {
	Fields DonationFields
	Image  *ImageUpload
}
