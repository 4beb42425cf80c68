package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
)

var jwtService = NewJWTService("test-signing-key-0123456789", "test-issuer")
var accountID = id.AccountID(uuid.New())
var expiresIn = time.Hour

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(accountID, "ops@soup.example", "Soup Kitchen", expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, accountID.String(), claims.AccountID)
	assert.Equal(t, "ops@soup.example", claims.Email)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthenticated))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(accountID, "", "", -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, "token has expired", err.Error())
}

func Test_ValidateToken_WrongIssuerOrKey(t *testing.T) {
	other := NewJWTService("test-signing-key-0123456789", "someone-else")
	token, err := other.GenerateAccessToken(accountID, "", "", expiresIn)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)

	forged := NewJWTService("another-signing-key-987654", "test-issuer")
	token, err = forged.GenerateAccessToken(accountID, "", "", expiresIn)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
}

func Test_Adapter(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(accountID, "", "Soup Kitchen", expiresIn)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, accountID.String(), claims.AccountID)
	assert.Equal(t, "Soup Kitchen", claims.Name)
	assert.NotEmpty(t, claims.JTI)
}
