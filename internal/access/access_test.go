package access

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

func newActor(role id.Role) Actor {
	return Actor{ID: id.AccountID(uuid.New()), Role: role}
}

func TestCanPerform_RoleTable(t *testing.T) {
	restaurant := newActor(id.RoleRestaurant)
	charity := newActor(id.RoleCharity)
	user := newActor(id.RoleUser)
	admin := newActor(id.RoleAdmin)

	tests := []struct {
		name   string
		actor  Actor
		op     Operation
		target *Target
		want   bool
	}{
		{"restaurant creates donation", restaurant, OpDonationCreate, nil, true},
		{"charity cannot create donation", charity, OpDonationCreate, nil, false},
		{"admin cannot create donation", admin, OpDonationCreate, nil, false},
		{"admin verifies", admin, OpDonationVerify, nil, true},
		{"restaurant cannot verify own donation", restaurant, OpDonationVerify, Self(restaurant), false},
		{"charity submits request", charity, OpRequestSubmit, nil, true},
		{"restaurant cannot submit request", restaurant, OpRequestSubmit, nil, false},
		{"owner accepts", restaurant, OpRequestAccept, Self(restaurant), true},
		{"non-owner restaurant cannot accept", restaurant, OpRequestAccept, Owned(newActor(id.RoleRestaurant).ID), false},
		{"admin cannot accept", admin, OpRequestAccept, Owned(restaurant.ID), false},
		{"assigned charity confirms", charity, OpPickupConfirm, Self(charity), true},
		{"other charity cannot confirm", charity, OpPickupConfirm, Owned(newActor(id.RoleCharity).ID), false},
		{"ownership op without target denies", restaurant, OpDonationUpdate, nil, false},
		{"user may reach review gate", user, OpReviewSubmit, nil, true},
		{"restaurant cannot review", restaurant, OpReviewSubmit, nil, false},
		{"author deletes review", user, OpReviewDelete, Self(user), true},
		{"admin deletes any review", admin, OpReviewDelete, Owned(user.ID), true},
		{"charity cannot delete others' review", charity, OpReviewDelete, Owned(user.ID), false},
		{"everyone manages favorites", user, OpFavoriteManage, nil, true},
		{"only admin decides role requests", charity, OpRoleRequestDecide, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanPerform(tt.actor, tt.op, tt.target))
		})
	}
}

func TestAuthorize_UnauthenticatedBeforeRoleEvaluation(t *testing.T) {
	t.Run("missing identity", func(t *testing.T) {
		err := Authorize(Actor{Role: id.RoleAdmin}, OpDonationVerify, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	t.Run("missing role", func(t *testing.T) {
		err := Authorize(Actor{ID: id.AccountID(uuid.New())}, OpFavoriteManage, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	t.Run("unknown role", func(t *testing.T) {
		err := Authorize(Actor{ID: id.AccountID(uuid.New()), Role: "superuser"}, OpFavoriteManage, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
	})

	t.Run("denied is forbidden", func(t *testing.T) {
		err := Authorize(newActor(id.RoleCharity), OpDonationCreate, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("allowed", func(t *testing.T) {
		require.NoError(t, Authorize(newActor(id.RoleRestaurant), OpDonationCreate, nil))
	})
}

func TestPermissionTableCoversOnlyKnownRoles(t *testing.T) {
	for role := range permissions {
		assert.True(t, role.IsValid(), "role %q", role)
	}
}
