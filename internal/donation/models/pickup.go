package models

import (
	"fmt"
	"time"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

type PickupStatus string

const (
	PickupAssigned PickupStatus = "Assigned"
	PickupPickedUp PickupStatus = "PickedUp"
)

// Pickup is the handoff record created with an accepted request.
//
// Invariants:
//   - Exactly one per accepted request, never deleted
//   - ConfirmedAt is set once, by the assigned charity
type Pickup struct {
	ID           id.PickupID   `json:"id"`
	RequestID    id.RequestID  `json:"request_id"`
	DonationID   id.DonationID `json:"donation_id"`
	CharityID    id.AccountID  `json:"charity_id"`
	RestaurantID id.AccountID  `json:"restaurant_id"`
	Status       PickupStatus  `json:"status"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewPickup schedules the handoff for the accepted request r. The charity's
// preferred time is used when it falls inside the window, the window start
// otherwise.
func NewPickup(r *Request, d *Donation, now time.Time) *Pickup {
	scheduled := d.Window.Start
	if r.PreferredPickupAt != nil && d.Window.Contains(*r.PreferredPickupAt) {
		scheduled = *r.PreferredPickupAt
	}
	return &Pickup{
		ID:           id.NewPickupID(),
		RequestID:    r.ID,
		DonationID:   d.ID,
		CharityID:    r.CharityID,
		RestaurantID: d.OwnerID,
		Status:       PickupAssigned,
		ScheduledAt:  scheduled,
		CreatedAt:    now,
	}
}

// CanConfirm checks Assigned -> PickedUp.
func (p *Pickup) CanConfirm() error {
	if p.Status != PickupAssigned {
		return dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("pickup is %s, must be %s", p.Status, PickupAssigned))
	}
	return nil
}

func (p *Pickup) ApplyConfirm(now time.Time) {
	p.Status = PickupPickedUp
	p.ConfirmedAt = &now
}

// DisplayStatus is the one mapping from stored pickup status to the label
// shown to charities.
func DisplayStatus(s PickupStatus) string {
	switch s {
	case PickupAssigned:
		return "Assigned"
	case PickupPickedUp:
		return "Picked Up"
	default:
		return string(s)
	}
}

// PickupView is a charity's pickup joined with the donation it collects.
type PickupView struct {
	Pickup
	DonationTitle string       `json:"donation_title"`
	FoodType      string       `json:"food_type"`
	Quantity      float64      `json:"quantity"`
	Location      string       `json:"location"`
	Window        PickupWindow `json:"pickup_window"`
	DisplayStatus string       `json:"display_status"`
}

func NewPickupView(p *Pickup, d *Donation) PickupView {
	v := PickupView{Pickup: *p, DisplayStatus: DisplayStatus(p.Status)}
	if d != nil {
		v.DonationTitle = d.Title
		v.FoodType = d.FoodType
		v.Quantity = d.Quantity
		v.Location = d.Location
		v.Window = d.Window
	}
	return v
}
