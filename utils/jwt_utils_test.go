package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-service/models"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := GenerateToken("secret", "u1", []string{models.RoleSeller, models.RoleSystem}, time.Hour)
	require.NoError(t, err)

	caller, err := ParseToken("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", caller.UserID)
	assert.Equal(t, []string{models.RoleSeller}, caller.Roles)
	assert.False(t, caller.IsSystem())
}

func TestParseTokenRejects(t *testing.T) {
	good, err := GenerateToken("secret", "u1", nil, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken("secret", "u1", nil, -time.Minute)
	require.NoError(t, err)
	anonymous, err := GenerateToken("secret", "", nil, time.Hour)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u1"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, tc := range map[string]struct{ secret, token string }{
		"wrong secret": {"other", good},
		"expired":      {"secret", expired},
		"no user":      {"secret", anonymous},
		"wrong alg":    {"secret", hs512},
		"garbage":      {"secret", "not.a.token"},
	} {
		_, err := ParseToken(tc.secret, tc.token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}
