// Package models holds the donation lifecycle aggregates: donations, the
// requests charities file against them, pickups, reviews and favorites.
package models

import (
	"fmt"
	"strings"
	"time"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

type DonationStatus string

const (
	DonationPending   DonationStatus = "Pending"
	DonationAvailable DonationStatus = "Available"
	DonationRequested DonationStatus = "Requested"
	// DonationAccepted is part of the stored vocabulary but no transition
	// produces it; an accepted request moves the donation to Requested.
	DonationAccepted DonationStatus = "Accepted"
	DonationPickedUp DonationStatus = "PickedUp"
	DonationRejected DonationStatus = "Rejected"
)

var validDonationStatuses = map[DonationStatus]bool{
	DonationPending:   true,
	DonationAvailable: true,
	DonationRequested: true,
	DonationAccepted:  true,
	DonationPickedUp:  true,
	DonationRejected:  true,
}

// ParseDonationStatus accepts the stored spelling, case-insensitively.
func ParseDonationStatus(s string) (DonationStatus, error) {
	for status := range validDonationStatuses {
		if strings.EqualFold(string(status), strings.TrimSpace(s)) {
			return status, nil
		}
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "invalid donation status: "+s)
}

// Public reports whether donations in this status are visible to accounts
// other than the owner and admins.
func (s DonationStatus) Public() bool {
	return s == DonationAvailable || s == DonationRequested || s == DonationPickedUp
}

type PickupWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window, bounds included.
func (w PickupWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Donation is a surplus-food listing owned by a restaurant.
//
// Invariants:
//   - Quantity > 0 and the pickup window ends after it starts
//   - Status only moves forward: Pending -> Available|Rejected,
//     Available -> Requested -> PickedUp
//   - Status changes are written in the same unit of work as the request or
//     pickup transition that implies them
//   - Seq is assigned by the store and orders donations by creation
type Donation struct {
	ID        id.DonationID  `json:"id"`
	Seq       int64          `json:"-"`
	OwnerID   id.AccountID   `json:"owner_id"`
	Title     string         `json:"title"`
	FoodType  string         `json:"food_type"`
	Quantity  float64        `json:"quantity"`
	Window    PickupWindow   `json:"pickup_window"`
	Location  string         `json:"location"`
	ImageURL  string         `json:"image_url,omitempty"`
	Status    DonationStatus `json:"status"`
	Featured  bool           `json:"featured"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DonationFields are the restaurant-editable parts of a donation.
type DonationFields struct {
	Title    string
	FoodType string
	Quantity float64
	Window   PickupWindow
	Location string
	ImageURL string
}

func (f *DonationFields) normalize() error {
	f.Title = strings.TrimSpace(f.Title)
	f.FoodType = strings.TrimSpace(f.FoodType)
	f.Location = strings.TrimSpace(f.Location)
	switch {
	case f.Title == "":
		return dErrors.New(dErrors.CodeValidation, "title is required")
	case f.FoodType == "":
		return dErrors.New(dErrors.CodeValidation, "food type is required")
	case f.Quantity <= 0:
		return dErrors.New(dErrors.CodeValidation, "quantity must be greater than 0")
	case f.Window.Start.IsZero() || f.Window.End.IsZero():
		return dErrors.New(dErrors.CodeValidation, "pickup window is required")
	case !f.Window.End.After(f.Window.Start):
		return dErrors.New(dErrors.CodeValidation, "pickup window must end after it starts")
	case f.Location == "":
		return dErrors.New(dErrors.CodeValidation, "location is required")
	}
	return nil
}

func NewDonation(owner id.AccountID, fields DonationFields, now time.Time) (*Donation, error) {
	if err := fields.normalize(); err != nil {
		return nil, err
	}
	return &Donation{
		ID:        id.NewDonationID(),
		OwnerID:   owner,
		Title:     fields.Title,
		FoodType:  fields.FoodType,
		Quantity:  fields.Quantity,
		Window:    fields.Window,
		Location:  fields.Location,
		ImageURL:  fields.ImageURL,
		Status:    DonationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (d *Donation) requireStatus(action string, allowed ...DonationStatus) error {
	for _, s := range allowed {
		if d.Status == s {
			return nil
		}
	}
	want := make([]string, len(allowed))
	for i, s := range allowed {
		want[i] = string(s)
	}
	return dErrors.New(dErrors.CodeInvalidTransition,
		fmt.Sprintf("cannot %s: donation is %s, must be %s", action, d.Status, strings.Join(want, " or ")))
}

// CanVerify checks Pending -> Available.
func (d *Donation) CanVerify() error {
	return d.requireStatus("verify donation", DonationPending)
}

func (d *Donation) ApplyVerify(now time.Time) {
	d.Status = DonationAvailable
	d.UpdatedAt = now
}

// CanReject checks Pending -> Rejected.
func (d *Donation) CanReject() error {
	return d.requireStatus("reject donation", DonationPending)
}

func (d *Donation) ApplyReject(now time.Time) {
	d.Status = DonationRejected
	d.UpdatedAt = now
}

// CanReceiveRequests reports NotAvailable unless the donation is Available.
func (d *Donation) CanReceiveRequests() error {
	if d.Status != DonationAvailable {
		return dErrors.New(dErrors.CodeNotAvailable,
			fmt.Sprintf("donation is %s and no longer accepts requests", d.Status))
	}
	return nil
}

// CanAccept checks Available -> Requested.
func (d *Donation) CanAccept() error {
	return d.requireStatus("accept request", DonationAvailable)
}

func (d *Donation) ApplyRequested(now time.Time) {
	d.Status = DonationRequested
	d.UpdatedAt = now
}

// CanPickUp checks Requested -> PickedUp.
func (d *Donation) CanPickUp() error {
	return d.requireStatus("confirm pickup", DonationRequested)
}

func (d *Donation) ApplyPickedUp(now time.Time) {
	d.Status = DonationPickedUp
	d.UpdatedAt = now
}

// CanEdit allows edits while the donation awaits verification.
func (d *Donation) CanEdit() error {
	return d.requireStatus("edit donation", DonationPending)
}

// ApplyEdit replaces the editable fields. The image is kept when fields
// carries none.
func (d *Donation) ApplyEdit(fields DonationFields, now time.Time) error {
	if err := fields.normalize(); err != nil {
		return err
	}
	d.Title = fields.Title
	d.FoodType = fields.FoodType
	d.Quantity = fields.Quantity
	d.Window = fields.Window
	d.Location = fields.Location
	if fields.ImageURL != "" {
		d.ImageURL = fields.ImageURL
	}
	d.UpdatedAt = now
	return nil
}

// Fields returns the editable fields as currently stored.
func (d *Donation) Fields() DonationFields {
	return DonationFields{
		Title:    d.Title,
		FoodType: d.FoodType,
		Quantity: d.Quantity,
		Window:   d.Window,
		Location: d.Location,
		ImageURL: d.ImageURL,
	}
}

// CanDelete allows deletion before any charity could have claimed it.
func (d *Donation) CanDelete() error {
	return d.requireStatus("delete donation", DonationPending, DonationRejected)
}

// ApplyFeatured sets the flag and reports whether it was already set.
func (d *Donation) ApplyFeatured(now time.Time) (already bool) {
	if d.Featured {
		return true
	}
	d.Featured = true
	d.UpdatedAt = now
	return false
}
