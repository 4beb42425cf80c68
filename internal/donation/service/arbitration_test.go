package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"replate/internal/access"
	"replate/internal/donation/models"
	"replate/internal/donation/service/mocks"
	"replate/internal/donation/store"
	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	audit "replate/pkg/platform/audit"
	"replate/pkg/requestcontext"
)

// Concurrent accepts on sibling requests of one donation. Exactly
// one wins, every loser sees InvalidTransition and the stores agree.
func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	const (
		rounds    = 25
		charities = 6
	)
	ctx := requestcontext.WithTime(context.Background(), testNow)
	stores := Stores{
		Donations: store.NewInMemoryDonations(),
		Requests:  store.NewInMemoryRequests(),
		Pickups:   store.NewInMemoryPickups(),
		Reviews:   store.NewInMemoryReviews(),
		Favorites: store.NewInMemoryFavorites(),
	}
	svc, err := New(stores, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	admin := access.Actor{ID: id.NewAccountID(), Role: id.RoleAdmin}
	restaurant := access.Actor{ID: id.NewAccountID(), Role: id.RoleRestaurant}

	for round := range rounds {
		d, err := svc.CreateDonation(ctx, restaurant, models.CreateDonationInput{Fields: breadFields()})
		require.NoError(t, err)
		_, err = svc.VerifyDonation(ctx, admin, d.ID)
		require.NoError(t, err)

		requests := make([]*models.Request, 0, charities)
		for range charities {
			charity := access.Actor{ID: id.NewAccountID(), Role: id.RoleCharity}
			r, err := svc.SubmitRequest(ctx, charity, d.ID, models.SubmitRequestRequest{})
			require.NoError(t, err)
			requests = append(requests, r)
		}

		var (
			wg      sync.WaitGroup
			wins    atomic.Int32
			losses  atomic.Int32
			unknown atomic.Int32
		)
		start := make(chan struct{})
		for _, r := range requests {
			wg.Add(1)
			go func(requestID id.RequestID) {
				defer wg.Done()
				<-start
				_, err := svc.AcceptRequest(ctx, restaurant, requestID)
				switch {
				case err == nil:
					wins.Add(1)
				case dErrors.HasCode(err, dErrors.CodeInvalidTransition):
					losses.Add(1)
				default:
					unknown.Add(1)
				}
			}(r.ID)
		}
		close(start)
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load(), "round %d", round)
		assert.EqualValues(t, charities-1, losses.Load(), "round %d", round)
		assert.Zero(t, unknown.Load(), "round %d", round)

		all, err := stores.Requests.ListByDonation(ctx, d.ID)
		require.NoError(t, err)
		accepted := 0
		for _, r := range all {
			if r.Status == models.RequestAccepted {
				accepted++
			} else {
				assert.Equal(t, models.RequestRejected, r.Status)
			}
		}
		assert.Equal(t, 1, accepted, "round %d", round)

		stored, err := stores.Donations.FindByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DonationRequested, stored.Status)
		_, err = stores.Pickups.FindByDonation(ctx, d.ID)
		assert.NoError(t, err)
	}
}

// =============================================================================
// Collaborator failures
// =============================================================================

type DonationServiceMockSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	publisher *mocks.MockAuditPublisher
	directory *mocks.MockDirectory
	cache     *mocks.MockDonationCache
	stores    Stores
	service   *Service

	admin      access.Actor
	restaurant access.Actor
	charity    access.Actor
}

func TestDonationServiceMockSuite(t *testing.T) {
	suite.Run(t, new(DonationServiceMockSuite))
}

func (s *DonationServiceMockSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), testNow)
	s.ctrl = gomock.NewController(s.T())
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.directory = mocks.NewMockDirectory(s.ctrl)
	s.cache = mocks.NewMockDonationCache(s.ctrl)
	s.stores = Stores{
		Donations: store.NewInMemoryDonations(),
		Requests:  store.NewInMemoryRequests(),
		Pickups:   store.NewInMemoryPickups(),
		Reviews:   store.NewInMemoryReviews(),
		Favorites: store.NewInMemoryFavorites(),
	}
	svc, err := New(s.stores,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.publisher),
		WithDirectory(s.directory),
		WithCache(s.cache),
	)
	s.Require().NoError(err)
	s.service = svc

	s.admin = access.Actor{ID: id.NewAccountID(), Role: id.RoleAdmin}
	s.restaurant = access.Actor{ID: id.NewAccountID(), Role: id.RoleRestaurant}
	s.charity = access.Actor{ID: id.NewAccountID(), Role: id.RoleCharity}
}

func (s *DonationServiceMockSuite) TearDownTest() {
	s.ctrl.Finish()
}

// requestedSetup creates an Available donation with one Pending request while
// audit and cache calls succeed.
func (s *DonationServiceMockSuite) requestedSetup() (*models.Donation, *models.Request) {
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	s.cache.EXPECT().Invalidate(gomock.Any(), gomock.Any()).Return(nil)
	s.directory.EXPECT().DisplayName(gomock.Any(), s.charity.ID).Return("Helping Hands", nil)

	d, err := s.service.CreateDonation(s.ctx, s.restaurant, models.CreateDonationInput{Fields: breadFields()})
	s.Require().NoError(err)
	_, err = s.service.VerifyDonation(s.ctx, s.admin, d.ID)
	s.Require().NoError(err)
	r, err := s.service.SubmitRequest(s.ctx, s.charity, d.ID, models.SubmitRequestRequest{})
	s.Require().NoError(err)
	s.Equal("Helping Hands", r.RequesterName)
	return d, r
}

func (s *DonationServiceMockSuite) TestAcceptRollsBackWhenAuditFails() {
	d, r := s.requestedSetup()

	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			if e.Action == string(audit.EventPickupAssigned) {
				return errors.New("outbox unavailable")
			}
			return nil
		}).Times(2)

	_, err := s.service.AcceptRequest(s.ctx, s.restaurant, r.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	stored, err := s.stores.Requests.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.RequestPending, stored.Status)

	donation, err := s.stores.Donations.FindByID(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(models.DonationAvailable, donation.Status)

	_, err = s.stores.Pickups.FindByDonation(s.ctx, d.ID)
	s.Error(err)
}

func (s *DonationServiceMockSuite) TestAcceptInvalidatesCache() {
	d, r := s.requestedSetup()

	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.cache.EXPECT().Invalidate(gomock.Any(), d.ID).Return(errors.New("redis down"))

	res, err := s.service.AcceptRequest(s.ctx, s.restaurant, r.ID)
	s.Require().NoError(err)
	s.Equal(models.DonationRequested, res.Donation.Status)
}

func (s *DonationServiceMockSuite) TestGetDonationReadsThroughCache() {
	cached := &models.Donation{ID: id.NewDonationID(), OwnerID: s.restaurant.ID, Status: models.DonationAvailable}
	s.cache.EXPECT().Get(gomock.Any(), cached.ID, gomock.Any()).Return(cached, nil)

	got, err := s.service.GetDonation(s.ctx, s.charity, cached.ID)
	s.Require().NoError(err)
	s.Same(cached, got)
}

func (s *DonationServiceMockSuite) TestRequesterNameFailureIsNotFatal() {
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	s.cache.EXPECT().Invalidate(gomock.Any(), gomock.Any()).Return(nil)
	s.directory.EXPECT().DisplayName(gomock.Any(), s.charity.ID).Return("", errors.New("directory timeout"))

	d, err := s.service.CreateDonation(s.ctx, s.restaurant, models.CreateDonationInput{Fields: breadFields()})
	s.Require().NoError(err)
	_, err = s.service.VerifyDonation(s.ctx, s.admin, d.ID)
	s.Require().NoError(err)

	r, err := s.service.SubmitRequest(s.ctx, s.charity, d.ID, models.SubmitRequestRequest{})
	s.Require().NoError(err)
	s.Empty(r.RequesterName)
}

func (s *DonationServiceMockSuite) TestSubmitRequestRollsBackWhenAuditFails() {
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.cache.EXPECT().Invalidate(gomock.Any(), gomock.Any()).Return(nil)
	s.directory.EXPECT().DisplayName(gomock.Any(), gomock.Any()).Return("Helping Hands", nil).Times(2)

	d, err := s.service.CreateDonation(s.ctx, s.restaurant, models.CreateDonationInput{Fields: breadFields()})
	s.Require().NoError(err)
	_, err = s.service.VerifyDonation(s.ctx, s.admin, d.ID)
	s.Require().NoError(err)

	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("outbox unavailable"))
	_, err = s.service.SubmitRequest(s.ctx, s.charity, d.ID, models.SubmitRequestRequest{})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
	_, err = s.service.SubmitRequest(s.ctx, s.charity, d.ID, models.SubmitRequestRequest{})
	s.NoError(err, "rolled back request must not count as a duplicate")
}
