package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

var now = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

func validFields() DonationFields {
	return DonationFields{
		Title:    "Bread Surplus",
		FoodType: "Bakery",
		Quantity: 10,
		Window:   PickupWindow{Start: now.Add(time.Hour), End: now.Add(3 * time.Hour)},
		Location: "12 Baker St",
	}
}

func TestNewDonation(t *testing.T) {
	t.Run("starts pending", func(t *testing.T) {
		d, err := NewDonation(id.NewAccountID(), validFields(), now)
		require.NoError(t, err)
		assert.Equal(t, DonationPending, d.Status)
		assert.False(t, d.Featured)
	})

	cases := map[string]func(f *DonationFields){
		"missing title":     func(f *DonationFields) { f.Title = " " },
		"missing food type": func(f *DonationFields) { f.FoodType = "" },
		"zero quantity":     func(f *DonationFields) { f.Quantity = 0 },
		"negative quantity": func(f *DonationFields) { f.Quantity = -1 },
		"missing window":    func(f *DonationFields) { f.Window = PickupWindow{} },
		"inverted window":   func(f *DonationFields) { f.Window.End = f.Window.Start },
		"missing location":  func(f *DonationFields) { f.Location = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := validFields()
			mutate(&f)
			_, err := NewDonation(id.NewAccountID(), f, now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
}

func TestDonationStateMachine(t *testing.T) {
	d, err := NewDonation(id.NewAccountID(), validFields(), now)
	require.NoError(t, err)

	assert.True(t, dErrors.HasCode(d.CanReceiveRequests(), dErrors.CodeNotAvailable))
	assert.True(t, dErrors.HasCode(d.CanPickUp(), dErrors.CodeInvalidTransition))

	require.NoError(t, d.CanVerify())
	d.ApplyVerify(now)
	assert.Equal(t, DonationAvailable, d.Status)

	err = d.CanVerify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "donation is Available, must be Pending")
	assert.True(t, dErrors.HasCode(d.CanReject(), dErrors.CodeInvalidTransition))
	assert.True(t, dErrors.HasCode(d.CanEdit(), dErrors.CodeInvalidTransition))
	assert.True(t, dErrors.HasCode(d.CanDelete(), dErrors.CodeInvalidTransition))

	require.NoError(t, d.CanReceiveRequests())
	require.NoError(t, d.CanAccept())
	d.ApplyRequested(now)
	assert.True(t, dErrors.HasCode(d.CanReceiveRequests(), dErrors.CodeNotAvailable))

	require.NoError(t, d.CanPickUp())
	d.ApplyPickedUp(now)
	assert.Equal(t, DonationPickedUp, d.Status)
	assert.True(t, dErrors.HasCode(d.CanAccept(), dErrors.CodeInvalidTransition))
}

func TestDonationRejectedCanBeDeleted(t *testing.T) {
	d, err := NewDonation(id.NewAccountID(), validFields(), now)
	require.NoError(t, err)
	require.NoError(t, d.CanReject())
	d.ApplyReject(now)
	assert.NoError(t, d.CanDelete())
	assert.True(t, dErrors.HasCode(d.CanVerify(), dErrors.CodeInvalidTransition))
}

func TestApplyFeatured(t *testing.T) {
	d, err := NewDonation(id.NewAccountID(), validFields(), now)
	require.NoError(t, err)
	assert.False(t, d.ApplyFeatured(now))
	assert.True(t, d.ApplyFeatured(now.Add(time.Minute)))
	assert.Equal(t, now, d.UpdatedAt)
}

func TestApplyEditKeepsImage(t *testing.T) {
	f := validFields()
	f.ImageURL = "https://img.example/a.jpg"
	d, err := NewDonation(id.NewAccountID(), f, now)
	require.NoError(t, err)

	edit := validFields()
	edit.Title = "Rolls"
	require.NoError(t, d.ApplyEdit(edit, now))
	assert.Equal(t, "Rolls", d.Title)
	assert.Equal(t, "https://img.example/a.jpg", d.ImageURL)
}

func TestNewPickupSchedule(t *testing.T) {
	d, err := NewDonation(id.NewAccountID(), validFields(), now)
	require.NoError(t, err)

	t.Run("window start by default", func(t *testing.T) {
		r := NewRequest(d, id.NewAccountID(), "C1", nil, "", now)
		p := NewPickup(r, d, now)
		assert.Equal(t, d.Window.Start, p.ScheduledAt)
		assert.Equal(t, PickupAssigned, p.Status)
		assert.Equal(t, d.OwnerID, p.RestaurantID)
	})

	t.Run("preferred time inside window", func(t *testing.T) {
		preferred := d.Window.Start.Add(30 * time.Minute)
		r := NewRequest(d, id.NewAccountID(), "C1", &preferred, "", now)
		assert.Equal(t, preferred, NewPickup(r, d, now).ScheduledAt)
	})

	t.Run("preferred time outside window ignored", func(t *testing.T) {
		preferred := d.Window.End.Add(time.Hour)
		r := NewRequest(d, id.NewAccountID(), "C1", &preferred, "", now)
		assert.Equal(t, d.Window.Start, NewPickup(r, d, now).ScheduledAt)
	})
}

func TestPickupConfirmOnce(t *testing.T) {
	d, err := NewDonation(id.NewAccountID(), validFields(), now)
	require.NoError(t, err)
	p := NewPickup(NewRequest(d, id.NewAccountID(), "C1", nil, "", now), d, now)

	require.NoError(t, p.CanConfirm())
	p.ApplyConfirm(now)
	require.NotNil(t, p.ConfirmedAt)
	assert.True(t, dErrors.HasCode(p.CanConfirm(), dErrors.CodeInvalidTransition))
}

func TestDisplayStatus(t *testing.T) {
	assert.Equal(t, "Assigned", DisplayStatus(PickupAssigned))
	assert.Equal(t, "Picked Up", DisplayStatus(PickupPickedUp))
}

func TestNewReview(t *testing.T) {
	donationID := id.NewDonationID()
	reviewer := id.NewAccountID()

	for _, rating := range []int{0, 6, -1} {
		_, err := NewReview(donationID, reviewer, rating, "ok", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "rating %d", rating)
	}

	_, err := NewReview(donationID, reviewer, 5, "   ", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewReview(donationID, reviewer, 5, strings.Repeat("é", MaxCommentLength+1), now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	r, err := NewReview(donationID, reviewer, 5, strings.Repeat("é", MaxCommentLength), now)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Rating)
}

func TestDonationQuery(t *testing.T) {
	mk := func(seq int64, title string, qty float64, start time.Time) *Donation {
		return &Donation{Seq: seq, Title: title, FoodType: "Meal", Quantity: qty, Status: DonationAvailable,
			Window: PickupWindow{Start: start, End: start.Add(time.Hour)}}
	}
	a := mk(1, "Bread", 5, now.Add(2*time.Hour))
	b := mk(2, "Soup", 5, now.Add(time.Hour))
	c := mk(3, "Bread rolls", 1, now.Add(3*time.Hour))
	all := []*Donation{a, b, c}

	t.Run("default is newest first", func(t *testing.T) {
		q := DonationQuery{}
		require.NoError(t, q.Normalize())
		assert.Equal(t, []*Donation{c, b, a}, q.Apply(all))
	})

	t.Run("quantity desc ties by creation", func(t *testing.T) {
		q := DonationQuery{Sort: SortQuantity, Order: OrderDesc}
		require.NoError(t, q.Normalize())
		assert.Equal(t, []*Donation{a, b, c}, q.Apply(all))
	})

	t.Run("pickup time asc", func(t *testing.T) {
		q := DonationQuery{Sort: SortPickupTime}
		require.NoError(t, q.Normalize())
		assert.Equal(t, []*Donation{b, a, c}, q.Apply(all))
	})

	t.Run("text search", func(t *testing.T) {
		q := DonationQuery{Text: "bread"}
		require.NoError(t, q.Normalize())
		assert.Equal(t, []*Donation{c, a}, q.Apply(all))
	})

	t.Run("paging", func(t *testing.T) {
		q := DonationQuery{Limit: 1, Offset: 1}
		require.NoError(t, q.Normalize())
		assert.Equal(t, []*Donation{b}, q.Apply(all))
	})

	t.Run("bad sort", func(t *testing.T) {
		q := DonationQuery{Sort: "title"}
		assert.True(t, dErrors.HasCode(q.Normalize(), dErrors.CodeValidation))
	})
}
