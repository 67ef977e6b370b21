package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_Disabled(t *testing.T) {
	auth := NewAuthenticator("")
	assert.Nil(t, auth)

	claims, err := auth.FromRequest(httptest.NewRequest("GET", "/nav/v1/sessions", nil))
	require.NoError(t, err)
	assert.Nil(t, claims)
}

func TestAuthenticator_FromRequest(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	token, err := auth.Issue(Claims{DriverID: "driver-3", MissionID: "mission-7"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/nav/v1/sessions/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	claims, err := auth.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "driver-3", claims.DriverID)
	assert.Equal(t, "mission-7", claims.MissionID)
	assert.Equal(t, "driver-3", claims.Subject)

	req = httptest.NewRequest("GET", "/nav/v1/sessions/x/stream?access_token="+token, nil)
	claims, err = auth.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "driver-3", claims.DriverID)

	req = httptest.NewRequest("GET", "/nav/v1/sessions/x", nil)
	_, err = auth.FromRequest(req)
	assert.ErrorIs(t, err, ErrMissingToken)

	req = httptest.NewRequest("GET", "/nav/v1/sessions/x", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	_, err = auth.FromRequest(req)
	assert.Error(t, err)
}

func TestAuthenticator_RejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	noDriver, err := auth.Issue(Claims{MissionID: "mission-7"}, time.Hour)
	require.NoError(t, err)
	_, err = auth.Parse(noDriver)
	assert.ErrorContains(t, err, "missing driver_id")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{DriverID: "driver-3"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Parse(unsigned)
	assert.Error(t, err)

	expired, err := auth.Issue(Claims{DriverID: "driver-3"}, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Parse(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
