package models

import (
	"cmp"
	"slices"
	"strings"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

type SortField string

const (
	SortCreated    SortField = ""
	SortQuantity   SortField = "quantity"
	SortPickupTime SortField = "pickup_time"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// MaxListLimit caps a single catalog page.
const MaxListLimit = 200

// DonationQuery filters and orders the catalog. Empty fields do not filter.
// Without a sort field donations come newest first; with one, ties fall back
// to creation order.
type DonationQuery struct {
	Text     string
	Statuses []DonationStatus
	Featured *bool
	OwnerID  *id.AccountID
	Sort     SortField
	Order    SortOrder
	Limit    int
	Offset   int
}

// Normalize validates sort options and clamps paging.
func (q *DonationQuery) Normalize() error {
	q.Text = strings.TrimSpace(q.Text)
	switch q.Sort {
	case SortCreated, SortQuantity, SortPickupTime:
	default:
		return dErrors.New(dErrors.CodeValidation, "sort must be quantity or pickup_time")
	}
	switch q.Order {
	case "":
		q.Order = OrderAsc
	case OrderAsc, OrderDesc:
	default:
		return dErrors.New(dErrors.CodeValidation, "order must be asc or desc")
	}
	if q.Limit <= 0 || q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return nil
}

// Matches applies the filters to d. Text search is a case-insensitive
// substring match over title and food type.
func (q DonationQuery) Matches(d *Donation) bool {
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, d.Status) {
		return false
	}
	if q.Featured != nil && d.Featured != *q.Featured {
		return false
	}
	if q.OwnerID != nil && d.OwnerID != *q.OwnerID {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(d.Title), needle) &&
			!strings.Contains(strings.ToLower(d.FoodType), needle) {
			return false
		}
	}
	return true
}

// Compare orders a before b under q, for slices.SortFunc.
func (q DonationQuery) Compare(a, b *Donation) int {
	var c int
	switch q.Sort {
	case SortQuantity:
		c = cmp.Compare(a.Quantity, b.Quantity)
	case SortPickupTime:
		c = a.Window.Start.Compare(b.Window.Start)
	default:
		return cmp.Compare(b.Seq, a.Seq)
	}
	if q.Order == OrderDesc {
		c = -c
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// Apply filters, sorts and pages donations in memory.
func (q DonationQuery) Apply(donations []*Donation) []*Donation {
	out := make([]*Donation, 0, len(donations))
	for _, d := range donations {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, q.Compare)
	if q.Offset >= len(out) {
		return []*Donation{}
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}
