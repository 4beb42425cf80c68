package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks replate/internal/donation/service AuditPublisher,Directory,DonationCache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"replate/internal/access"
	"replate/internal/donation/models"
	"replate/internal/donation/store"
	"replate/internal/media"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/platform/audit/publisher"
	auditmemory "replate/pkg/platform/audit/store/memory"
	"replate/pkg/requestcontext"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type DonationServiceSuite struct {
	suite.Suite
	ctx       context.Context
	donations *store.InMemoryDonations
	requests  *store.InMemoryRequests
	pickups   *store.InMemoryPickups
	reviews   *store.InMemoryReviews
	favorites *store.InMemoryFavorites
	images    *media.Fake
	auditLog  *auditmemory.InMemoryStore
	service   *Service

	admin      access.Actor
	restaurant access.Actor
	charity1   access.Actor
	charity2   access.Actor
	user       access.Actor
}

func TestDonationServiceSuite(t *testing.T) {
	suite.Run(t, new(DonationServiceSuite))
}

func (s *DonationServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), testNow)
	s.donations = store.NewInMemoryDonations()
	s.requests = store.NewInMemoryRequests()
	s.pickups = store.NewInMemoryPickups()
	s.reviews = store.NewInMemoryReviews()
	s.favorites = store.NewInMemoryFavorites()
	s.images = media.NewFake("https://img.replate.test")
	s.auditLog = auditmemory.NewInMemoryStore()

	svc, err := New(s.stores(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher.NewPublisher(s.auditLog)),
		WithImageHost(s.images),
		WithLatestLimit(3),
	)
	s.Require().NoError(err)
	s.service = svc

	s.admin = access.Actor{ID: id.NewAccountID(), Role: id.RoleAdmin}
	s.restaurant = access.Actor{ID: id.NewAccountID(), Role: id.RoleRestaurant}
	s.charity1 = access.Actor{ID: id.NewAccountID(), Role: id.RoleCharity}
	s.charity2 = access.Actor{ID: id.NewAccountID(), Role: id.RoleCharity}
	s.user = access.Actor{ID: id.NewAccountID(), Role: id.RoleUser}
}

func (s *DonationServiceSuite) stores() Stores {
	return Stores{
		Donations: s.donations,
		Requests:  s.requests,
		Pickups:   s.pickups,
		Reviews:   s.reviews,
		Favorites: s.favorites,
	}
}

func breadFields() models.DonationFields {
	return models.DonationFields{
		Title:    "Bread Surplus",
		FoodType: "bakery",
		Quantity: 10,
		Window: models.PickupWindow{
			Start: testNow.Add(2 * time.Hour),
			End:   testNow.Add(6 * time.Hour),
		},
		Location: "12 Baker St",
	}
}

func (s *DonationServiceSuite) create(owner access.Actor, fields models.DonationFields) *models.Donation {
	d, err := s.service.CreateDonation(s.ctx, owner, models.CreateDonationInput{Fields: fields})
	s.Require().NoError(err)
	return d
}

// available creates and verifies a donation owned by s.restaurant.
func (s *DonationServiceSuite) available() *models.Donation {
	d := s.create(s.restaurant, breadFields())
	d, err := s.service.VerifyDonation(s.ctx, s.admin, d.ID)
	s.Require().NoError(err)
	return d
}

func (s *DonationServiceSuite) submit(charity access.Actor, donationID id.DonationID) *models.Request {
	r, err := s.service.SubmitRequest(s.ctx, charity, donationID, models.SubmitRequestRequest{Note: "we can collect"})
	s.Require().NoError(err)
	return r
}

// pickedUp accepts a request and confirms its pickup, returning the donation and pickup.
func (s *DonationServiceSuite) pickedUp() (*models.Donation, *models.Pickup) {
	d := s.available()
	r := s.submit(s.charity1, d.ID)
	res, err := s.service.AcceptRequest(s.ctx, s.restaurant, r.ID)
	s.Require().NoError(err)
	p, err := s.service.ConfirmPickup(s.ctx, s.charity1, res.Pickup.ID)
	s.Require().NoError(err)
	return d, p
}

func (s *DonationServiceSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
}

func (s *DonationServiceSuite) TestNew() {
	s.Run("nil donation store returns error", func() {
		st := s.stores()
		st.Donations = nil
		_, err := New(st)
		s.ErrorContains(err, "donation store is required")
	})
	s.Run("nil favorite store returns error", func() {
		st := s.stores()
		st.Favorites = nil
		_, err := New(st)
		s.ErrorContains(err, "favorite store is required")
	})
}

// =============================================================================
// Catalog
// =============================================================================

func (s *DonationServiceSuite) TestCreateDonation() {
	s.Run("restaurant creates a Pending donation", func() {
		d := s.create(s.restaurant, breadFields())
		s.Equal(models.DonationPending, d.Status)
		s.Equal(s.restaurant.ID, d.OwnerID)
		s.Equal(testNow, d.CreatedAt)
	})

	s.Run("image is uploaded to the host", func() {
		d, err := s.service.CreateDonation(s.ctx, s.restaurant, models.CreateDonationInput{
			Fields: breadFields(),
			Image:  &models.ImageUpload{Data: []byte("jpegdata"), Filename: "bread.jpg"},
		})
		s.Require().NoError(err)
		s.Contains(d.ImageURL, "https://img.replate.test/")
		body, ok := s.images.Get(d.ImageURL)
		s.True(ok)
		s.Equal([]byte("jpegdata"), body)
	})

	s.Run("zero quantity is a validation error", func() {
		f := breadFields()
		f.Quantity = 0
		_, err := s.service.CreateDonation(s.ctx, s.restaurant, models.CreateDonationInput{Fields: f})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("charity is forbidden", func() {
		_, err := s.service.CreateDonation(s.ctx, s.charity1, models.CreateDonationInput{Fields: breadFields()})
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("anonymous caller is unauthenticated", func() {
		_, err := s.service.CreateDonation(s.ctx, access.Actor{}, models.CreateDonationInput{Fields: breadFields()})
		s.requireCode(err, dErrors.CodeUnauthenticated)
	})
}

func (s *DonationServiceSuite) TestVerifyAndReject() {
	s.Run("admin verifies Pending to Available", func() {
		d := s.available()
		s.Equal(models.DonationAvailable, d.Status)

		_, err := s.service.VerifyDonation(s.ctx, s.admin, d.ID)
		s.requireCode(err, dErrors.CodeInvalidTransition)
		s.Contains(err.Error(), "donation is Available")
	})

	s.Run("rejected is terminal", func() {
		d := s.create(s.restaurant, breadFields())
		d, err := s.service.RejectDonation(s.ctx, s.admin, d.ID)
		s.Require().NoError(err)
		s.Equal(models.DonationRejected, d.Status)

		_, err = s.service.VerifyDonation(s.ctx, s.admin, d.ID)
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("restaurant cannot verify its own donation", func() {
		d := s.create(s.restaurant, breadFields())
		_, err := s.service.VerifyDonation(s.ctx, s.restaurant, d.ID)
		s.requireCode(err, dErrors.CodeForbidden)

		stored, err := s.donations.FindByID(s.ctx, d.ID)
		s.Require().NoError(err)
		s.Equal(models.DonationPending, stored.Status)
	})

	s.Run("unknown donation is not found", func() {
		_, err := s.service.VerifyDonation(s.ctx, s.admin, id.NewDonationID())
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *DonationServiceSuite) TestUpdateAndDeleteDonation() {
	s.Run("owner edits while Pending", func() {
		d := s.create(s.restaurant, breadFields())
		f := breadFields()
		f.Title = "Rolls"
		f.Quantity = 4
		updated, err := s.service.UpdateDonation(s.ctx, s.restaurant, d.ID, models.CreateDonationInput{Fields: f})
		s.Require().NoError(err)
		s.Equal("Rolls", updated.Title)
		s.Equal(4.0, updated.Quantity)
	})

	s.Run("edit after verification is an invalid transition", func() {
		d := s.available()
		_, err := s.service.UpdateDonation(s.ctx, s.restaurant, d.ID, models.CreateDonationInput{Fields: breadFields()})
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("other restaurant cannot see a pending donation", func() {
		d := s.create(s.restaurant, breadFields())
		other := access.Actor{ID: id.NewAccountID(), Role: id.RoleRestaurant}
		_, err := s.service.UpdateDonation(s.ctx, other, d.ID, models.CreateDonationInput{Fields: breadFields()})
		s.requireCode(err, dErrors.CodeNotFound)
		s.requireCode(s.service.DeleteDonation(s.ctx, other, d.ID), dErrors.CodeNotFound)
		_, err = s.service.ReplaceImage(s.ctx, other, d.ID, models.ImageUpload{Filename: "a.png", Data: []byte("png")})
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("other restaurant is forbidden on a public donation", func() {
		d := s.available()
		other := access.Actor{ID: id.NewAccountID(), Role: id.RoleRestaurant}
		_, err := s.service.UpdateDonation(s.ctx, other, d.ID, models.CreateDonationInput{Fields: breadFields()})
		s.requireCode(err, dErrors.CodeForbidden)
		s.requireCode(s.service.DeleteDonation(s.ctx, other, d.ID), dErrors.CodeForbidden)
	})

	s.Run("rejected donation can be deleted with its favorites", func() {
		d := s.create(s.restaurant, breadFields())
		_, err := s.service.RejectDonation(s.ctx, s.admin, d.ID)
		s.Require().NoError(err)
		_, err = s.favorites.Add(s.ctx, models.Favorite{AccountID: s.restaurant.ID, DonationID: d.ID, CreatedAt: testNow})
		s.Require().NoError(err)

		s.Require().NoError(s.service.DeleteDonation(s.ctx, s.restaurant, d.ID))
		_, err = s.donations.FindByID(s.ctx, d.ID)
		s.Error(err)
		favs, err := s.favorites.List(s.ctx, s.restaurant.ID)
		s.Require().NoError(err)
		s.Empty(favs)
	})

	s.Run("available donation cannot be deleted", func() {
		d := s.available()
		s.requireCode(s.service.DeleteDonation(s.ctx, s.restaurant, d.ID), dErrors.CodeInvalidTransition)
	})
}

func (s *DonationServiceSuite) TestMarkFeaturedIsIdempotent() {
	d := s.available()

	first, err := s.service.MarkFeatured(s.ctx, s.admin, d.ID)
	s.Require().NoError(err)
	s.False(first.AlreadyFeatured)
	s.True(first.Donation.Featured)

	second, err := s.service.MarkFeatured(s.ctx, s.admin, d.ID)
	s.Require().NoError(err)
	s.True(second.AlreadyFeatured)

	_, err = s.service.MarkFeatured(s.ctx, s.restaurant, d.ID)
	s.requireCode(err, dErrors.CodeForbidden)
}

func (s *DonationServiceSuite) TestVisibility() {
	pending := s.create(s.restaurant, breadFields())
	avail := s.available()

	s.Run("pending donation is hidden from others", func() {
		_, err := s.service.GetDonation(s.ctx, s.charity1, pending.ID)
		s.requireCode(err, dErrors.CodeNotFound)
		_, err = s.service.GetDonation(s.ctx, access.Actor{}, pending.ID)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("owner and admin see pending", func() {
		_, err := s.service.GetDonation(s.ctx, s.restaurant, pending.ID)
		s.NoError(err)
		_, err = s.service.GetDonation(s.ctx, s.admin, pending.ID)
		s.NoError(err)
	})

	s.Run("public listing shows only public statuses", func() {
		list, err := s.service.ListDonations(s.ctx, access.Actor{}, models.DonationQuery{})
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal(avail.ID, list[0].ID)

		list, err = s.service.ListDonations(s.ctx, s.charity1, models.DonationQuery{
			Statuses: []models.DonationStatus{models.DonationPending},
		})
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("owner lists all of their own", func() {
		owner := s.restaurant.ID
		list, err := s.service.ListDonations(s.ctx, s.restaurant, models.DonationQuery{OwnerID: &owner})
		s.Require().NoError(err)
		s.Len(list, 2)
	})

	s.Run("admin sees every status", func() {
		list, err := s.service.ListDonations(s.ctx, s.admin, models.DonationQuery{})
		s.Require().NoError(err)
		s.Len(list, 2)
	})
}

func (s *DonationServiceSuite) TestListDonationsSearchAndSort() {
	add := func(title string, qty float64) {
		f := breadFields()
		f.Title = title
		f.Quantity = qty
		d := s.create(s.restaurant, f)
		_, err := s.service.VerifyDonation(s.ctx, s.admin, d.ID)
		s.Require().NoError(err)
	}
	add("Bread Surplus", 10)
	add("Rye Bread", 3)
	add("Apples", 25)

	list, err := s.service.ListDonations(s.ctx, s.charity1, models.DonationQuery{
		Text:  "bread",
		Sort:  models.SortQuantity,
		Order: models.OrderAsc,
	})
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("Rye Bread", list[0].Title)
	s.Equal("Bread Surplus", list[1].Title)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Accepting one request rejects its siblings, moves the donation
// to Requested and assigns exactly one pickup.
func (s *DonationServiceSuite) TestAcceptRejectsSiblings() {
	d := s.available()
	r1 := s.submit(s.charity1, d.ID)
	r2 := s.submit(s.charity2, d.ID)

	res, err := s.service.AcceptRequest(s.ctx, s.restaurant, r1.ID)
	s.Require().NoError(err)

	s.Equal(models.RequestAccepted, res.Accepted.Status)
	s.Equal(models.DonationRequested, res.Donation.Status)
	s.Require().Len(res.Rejected, 1)
	s.Equal(r2.ID, res.Rejected[0].ID)
	s.Equal(models.ReasonSiblingAccepted, res.Rejected[0].RejectionReason)

	stored, err := s.requests.FindByID(s.ctx, r2.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestRejected, stored.Status)

	storedDonation, err := s.donations.FindByID(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(models.DonationRequested, storedDonation.Status)

	p, err := s.pickups.FindByDonation(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(s.charity1.ID, p.CharityID)
	s.Equal(r1.ID, p.RequestID)
	s.Equal(models.PickupAssigned, p.Status)
	s.Equal(d.Window.Start, p.ScheduledAt)

	s.Subset(s.auditLog.Actions(), []string{
		string(audit.EventRequestAccepted),
		string(audit.EventPickupAssigned),
	})

	s.Run("retrying the accept is an invalid transition", func() {
		_, err := s.service.AcceptRequest(s.ctx, s.restaurant, r1.ID)
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("accepting a rejected sibling is an invalid transition", func() {
		_, err := s.service.AcceptRequest(s.ctx, s.restaurant, r2.ID)
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})
}

// Confirming the pickup moves both pickup and donation to
// PickedUp, and only once.
func (s *DonationServiceSuite) TestConfirmPickupCompletesDonation() {
	d, p := s.pickedUp()

	s.Equal(models.PickupPickedUp, p.Status)
	s.Require().NotNil(p.ConfirmedAt)
	s.Equal(testNow, *p.ConfirmedAt)

	stored, err := s.donations.FindByID(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(models.DonationPickedUp, stored.Status)

	later := requestcontext.WithTime(context.Background(), testNow.Add(time.Hour))
	_, err = s.service.ConfirmPickup(later, s.charity1, p.ID)
	s.requireCode(err, dErrors.CodeInvalidTransition)

	again, err := s.pickups.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(testNow, *again.ConfirmedAt)
}

// Only the charity that picked up may review, once.
func (s *DonationServiceSuite) TestReviewAfterPickup() {
	d, _ := s.pickedUp()

	review, err := s.service.SubmitReview(s.ctx, s.charity1, d.ID, models.SubmitReviewRequest{Rating: 5, Comment: "Great"})
	s.Require().NoError(err)
	s.Equal(5, review.Rating)

	_, err = s.service.SubmitReview(s.ctx, s.charity1, d.ID, models.SubmitReviewRequest{Rating: 4, Comment: "Again"})
	s.requireCode(err, dErrors.CodeDuplicateReview)

	_, err = s.service.SubmitReview(s.ctx, s.charity2, d.ID, models.SubmitReviewRequest{Rating: 5, Comment: "Great"})
	s.requireCode(err, dErrors.CodeUnauthorized)

	s.Run("end users never own pickups", func() {
		_, err := s.service.SubmitReview(s.ctx, s.user, d.ID, models.SubmitReviewRequest{Rating: 5, Comment: "Nice"})
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("restaurants may not review", func() {
		_, err := s.service.SubmitReview(s.ctx, s.restaurant, d.ID, models.SubmitReviewRequest{Rating: 5, Comment: "Nice"})
		s.requireCode(err, dErrors.CodeForbidden)
	})

	reviews, err := s.service.ListReviews(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Len(reviews, 1)
	s.Contains(s.auditLog.Actions(), string(audit.EventReviewDenied))
}

func (s *DonationServiceSuite) TestReviewGateBeforeConfirmation() {
	d := s.available()
	r := s.submit(s.charity1, d.ID)
	_, err := s.service.AcceptRequest(s.ctx, s.restaurant, r.ID)
	s.Require().NoError(err)

	_, err = s.service.SubmitReview(s.ctx, s.charity1, d.ID, models.SubmitReviewRequest{Rating: 5, Comment: "Great"})
	s.requireCode(err, dErrors.CodeUnauthorized)
}

func (s *DonationServiceSuite) TestReviewValidationAfterGate() {
	d, _ := s.pickedUp()

	_, err := s.service.SubmitReview(s.ctx, s.charity1, d.ID, models.SubmitReviewRequest{Rating: 0, Comment: "Great"})
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.SubmitReview(s.ctx, s.charity1, d.ID, models.SubmitReviewRequest{Rating: 3, Comment: "   "})
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *DonationServiceSuite) TestDeleteReview() {
	d, _ := s.pickedUp()
	review, err := s.service.SubmitReview(s.ctx, s.charity1, d.ID, models.SubmitReviewRequest{Rating: 4, Comment: "Fresh"})
	s.Require().NoError(err)

	s.requireCode(s.service.DeleteReview(s.ctx, s.charity2, review.ID), dErrors.CodeForbidden)
	s.Require().NoError(s.service.DeleteReview(s.ctx, s.admin, review.ID))
	s.requireCode(s.service.DeleteReview(s.ctx, s.admin, review.ID), dErrors.CodeNotFound)

	s.Run("author may review again after deleting", func() {
		_, err := s.service.SubmitReview(s.ctx, s.charity1, d.ID, models.SubmitReviewRequest{Rating: 5, Comment: "Better"})
		s.Require().NoError(err)
		mine, err := s.service.ListMyReviews(s.ctx, s.charity1)
		s.Require().NoError(err)
		s.Len(mine, 1)
	})
}

// =============================================================================
// Request ledger
// =============================================================================

func (s *DonationServiceSuite) TestSubmitRequestRequiresAvailable() {
	for _, tc := range []struct {
		name   string
		donate func() *models.Donation
	}{
		{"pending", func() *models.Donation { return s.create(s.restaurant, breadFields()) }},
		{"requested", func() *models.Donation {
			d := s.available()
			r := s.submit(s.charity1, d.ID)
			_, err := s.service.AcceptRequest(s.ctx, s.restaurant, r.ID)
			s.Require().NoError(err)
			return d
		}},
		{"picked up", func() *models.Donation { d, _ := s.pickedUp(); return d }},
	} {
		s.Run(tc.name, func() {
			d := tc.donate()
			before, err := s.requests.ListByDonation(s.ctx, d.ID)
			s.Require().NoError(err)

			_, err = s.service.SubmitRequest(s.ctx, s.charity2, d.ID, models.SubmitRequestRequest{})
			s.requireCode(err, dErrors.CodeNotAvailable)

			after, err := s.requests.ListByDonation(s.ctx, d.ID)
			s.Require().NoError(err)
			s.Len(after, len(before))
		})
	}
}

func (s *DonationServiceSuite) TestDuplicateRequestAndResubmitAfterCancel() {
	d := s.available()
	r := s.submit(s.charity1, d.ID)

	_, err := s.service.SubmitRequest(s.ctx, s.charity1, d.ID, models.SubmitRequestRequest{})
	s.requireCode(err, dErrors.CodeDuplicateRequest)

	_, err = s.service.CancelRequest(s.ctx, s.charity2, r.ID)
	s.requireCode(err, dErrors.CodeForbidden)

	cancelled, err := s.service.CancelRequest(s.ctx, s.charity1, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestRejected, cancelled.Status)
	s.Equal(models.ReasonWithdrawn, cancelled.RejectionReason)

	_, err = s.service.SubmitRequest(s.ctx, s.charity1, d.ID, models.SubmitRequestRequest{})
	s.NoError(err)
}

func (s *DonationServiceSuite) TestRejectRequestKeepsDonationAvailable() {
	d := s.available()
	r := s.submit(s.charity1, d.ID)

	other := access.Actor{ID: id.NewAccountID(), Role: id.RoleRestaurant}
	_, err := s.service.RejectRequest(s.ctx, other, r.ID, "no")
	s.requireCode(err, dErrors.CodeForbidden)

	rejected, err := s.service.RejectRequest(s.ctx, s.restaurant, r.ID, "  too far  ")
	s.Require().NoError(err)
	s.Equal(models.RequestRejected, rejected.Status)
	s.Equal("too far", rejected.RejectionReason)

	stored, err := s.donations.FindByID(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(models.DonationAvailable, stored.Status)

	_, err = s.service.RejectRequest(s.ctx, s.restaurant, r.ID, "")
	s.requireCode(err, dErrors.CodeInvalidTransition)
}

func (s *DonationServiceSuite) TestAnonymousCallersAreUnauthenticated() {
	anon := access.Actor{}
	d := s.available()
	r := s.submit(s.charity1, d.ID)

	calls := map[string]func(requestID id.RequestID, donationID id.DonationID) error{
		"update donation": func(_ id.RequestID, donationID id.DonationID) error {
			_, err := s.service.UpdateDonation(s.ctx, anon, donationID, models.CreateDonationInput{Fields: breadFields()})
			return err
		},
		"replace image": func(_ id.RequestID, donationID id.DonationID) error {
			_, err := s.service.ReplaceImage(s.ctx, anon, donationID, models.ImageUpload{Filename: "a.png", Data: []byte("png")})
			return err
		},
		"delete donation": func(_ id.RequestID, donationID id.DonationID) error {
			return s.service.DeleteDonation(s.ctx, anon, donationID)
		},
		"list donation requests": func(_ id.RequestID, donationID id.DonationID) error {
			_, err := s.service.ListRequestsForDonation(s.ctx, anon, donationID)
			return err
		},
		"accept request": func(requestID id.RequestID, _ id.DonationID) error {
			_, err := s.service.AcceptRequest(s.ctx, anon, requestID)
			return err
		},
		"reject request": func(requestID id.RequestID, _ id.DonationID) error {
			_, err := s.service.RejectRequest(s.ctx, anon, requestID, "")
			return err
		},
		"cancel request": func(requestID id.RequestID, _ id.DonationID) error {
			_, err := s.service.CancelRequest(s.ctx, anon, requestID)
			return err
		},
		"confirm pickup": func(_ id.RequestID, _ id.DonationID) error {
			_, err := s.service.ConfirmPickup(s.ctx, anon, id.NewPickupID())
			return err
		},
		"delete review": func(_ id.RequestID, _ id.DonationID) error {
			return s.service.DeleteReview(s.ctx, anon, id.NewReviewID())
		},
	}
	for name, call := range calls {
		s.Run(name+" with unknown ids", func() {
			s.requireCode(call(id.NewRequestID(), id.NewDonationID()), dErrors.CodeUnauthenticated)
		})
		s.Run(name+" with existing ids", func() {
			s.requireCode(call(r.ID, d.ID), dErrors.CodeUnauthenticated)
		})
	}

	stored, err := s.requests.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestPending, stored.Status)
}

func (s *DonationServiceSuite) TestWrongRoleIsForbiddenBeforeLookup() {
	_, err := s.service.CancelRequest(s.ctx, s.restaurant, id.NewRequestID())
	s.requireCode(err, dErrors.CodeForbidden)
	_, err = s.service.RejectRequest(s.ctx, s.charity1, id.NewRequestID(), "")
	s.requireCode(err, dErrors.CodeForbidden)
	_, err = s.service.ConfirmPickup(s.ctx, s.restaurant, id.NewPickupID())
	s.requireCode(err, dErrors.CodeForbidden)
	_, err = s.service.UpdateDonation(s.ctx, s.charity1, id.NewDonationID(), models.CreateDonationInput{Fields: breadFields()})
	s.requireCode(err, dErrors.CodeForbidden)
}

func (s *DonationServiceSuite) TestAcceptRequiresOwner() {
	d := s.available()
	r := s.submit(s.charity1, d.ID)

	other := access.Actor{ID: id.NewAccountID(), Role: id.RoleRestaurant}
	_, err := s.service.AcceptRequest(s.ctx, other, r.ID)
	s.requireCode(err, dErrors.CodeForbidden)

	_, err = s.service.AcceptRequest(s.ctx, s.charity1, r.ID)
	s.requireCode(err, dErrors.CodeForbidden)

	stored, err := s.requests.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestPending, stored.Status)
}

func (s *DonationServiceSuite) TestPreferredPickupTimeInsideWindow() {
	d := s.available()
	preferred := d.Window.Start.Add(90 * time.Minute)
	r, err := s.service.SubmitRequest(s.ctx, s.charity1, d.ID, models.SubmitRequestRequest{PreferredPickupAt: &preferred})
	s.Require().NoError(err)

	res, err := s.service.AcceptRequest(s.ctx, s.restaurant, r.ID)
	s.Require().NoError(err)
	s.Equal(preferred, res.Pickup.ScheduledAt)
}

func (s *DonationServiceSuite) TestRequestListings() {
	d := s.available()
	r1 := s.submit(s.charity1, d.ID)
	s.submit(s.charity2, d.ID)

	s.Run("owner sees requests in submission order", func() {
		list, err := s.service.ListRequestsForDonation(s.ctx, s.restaurant, d.ID)
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal(r1.ID, list[0].ID)
	})

	s.Run("charity may not list a donation's requests", func() {
		_, err := s.service.ListRequestsForDonation(s.ctx, s.charity1, d.ID)
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("mine and incoming", func() {
		mine, err := s.service.ListMyRequests(s.ctx, s.charity1)
		s.Require().NoError(err)
		s.Len(mine, 1)

		incoming, err := s.service.ListIncomingRequests(s.ctx, s.restaurant)
		s.Require().NoError(err)
		s.Len(incoming, 2)
	})

	s.Run("latest is clamped", func() {
		for range 3 {
			other := s.available()
			s.submit(s.charity1, other.ID)
		}
		latest, err := s.service.ListLatestRequests(s.ctx, 50)
		s.Require().NoError(err)
		s.Len(latest, 3)
	})
}

// =============================================================================
// Pickups and favorites
// =============================================================================

func (s *DonationServiceSuite) TestConfirmPickupRequiresAssignedCharity() {
	d := s.available()
	r := s.submit(s.charity1, d.ID)
	res, err := s.service.AcceptRequest(s.ctx, s.restaurant, r.ID)
	s.Require().NoError(err)

	_, err = s.service.ConfirmPickup(s.ctx, s.charity2, res.Pickup.ID)
	s.requireCode(err, dErrors.CodeForbidden)

	_, err = s.service.ConfirmPickup(s.ctx, s.charity1, id.NewPickupID())
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *DonationServiceSuite) TestListPickupsForCharity() {
	s.pickedUp()
	d := s.available()
	r := s.submit(s.charity1, d.ID)
	_, err := s.service.AcceptRequest(s.ctx, s.restaurant, r.ID)
	s.Require().NoError(err)

	views, err := s.service.ListPickupsForCharity(s.ctx, s.charity1)
	s.Require().NoError(err)
	s.Require().Len(views, 2)

	labels := []string{views[0].DisplayStatus, views[1].DisplayStatus}
	s.ElementsMatch([]string{"Picked Up", "Assigned"}, labels)
	s.Equal("Bread Surplus", views[0].DonationTitle)

	_, err = s.service.ListPickupsForCharity(s.ctx, s.restaurant)
	s.requireCode(err, dErrors.CodeForbidden)
}

func (s *DonationServiceSuite) TestFavorites() {
	d := s.available()
	pending := s.create(s.restaurant, breadFields())

	added, err := s.service.AddFavorite(s.ctx, s.user, d.ID)
	s.Require().NoError(err)
	s.True(added)

	added, err = s.service.AddFavorite(s.ctx, s.user, d.ID)
	s.Require().NoError(err)
	s.False(added)

	_, err = s.service.AddFavorite(s.ctx, s.user, pending.ID)
	s.requireCode(err, dErrors.CodeNotFound)

	favs, err := s.service.ListFavorites(s.ctx, s.user)
	s.Require().NoError(err)
	s.Require().Len(favs, 1)
	s.Equal(d.ID, favs[0].ID)

	removed, err := s.service.RemoveFavorite(s.ctx, s.user, d.ID)
	s.Require().NoError(err)
	s.True(removed)
	removed, err = s.service.RemoveFavorite(s.ctx, s.user, d.ID)
	s.Require().NoError(err)
	s.False(removed)

	_, err = s.service.ListFavorites(s.ctx, access.Actor{})
	s.requireCode(err, dErrors.CodeUnauthenticated)
}
