package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var testIdentity = Identity{UserID: "user-1", OrganizationID: "org-1", EnvironmentID: "env-1"}

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken(testSecret, testIdentity, time.Hour)
	require.NoError(t, err)

	id, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, id)
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateToken(testSecret, testIdentity, time.Hour)
	require.NoError(t, err)

	expired, err := GenerateToken(testSecret, testIdentity, -time.Minute)
	require.NoError(t, err)

	noOrg, err := GenerateToken(testSecret, Identity{UserID: "u", EnvironmentID: "e"}, time.Hour)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
		Identity:         testIdentity,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{name: "wrong secret", secret: "other", token: valid},
		{name: "expired", secret: testSecret, token: expired},
		{name: "missing organization", secret: testSecret, token: noOrg},
		{name: "foreign issuer", secret: testSecret, token: foreign},
		{name: "garbage", secret: testSecret, token: "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.secret, tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		_, err := BearerToken(header)
		assert.ErrorIs(t, err, ErrMissingToken, header)
	}
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	id, ok := FromContext(WithIdentity(context.Background(), testIdentity))
	require.True(t, ok)
	assert.Equal(t, "org-1", id.OrganizationID)
}
