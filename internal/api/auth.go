package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when authentication is enabled and no token was sent
var ErrMissingToken = errors.New("missing bearer token")

// Claims identify the driver and mission a device is navigating for
type Claims struct {
	DriverID  string `json:"driver_id"`
	MissionID string `json:"mission_id"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 driver tokens
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns nil for an empty secret, which disables authentication
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for claims valid for ttl
func (a *Authenticator) Issue(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.DriverID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	return token.SignedString(a.secret)
}

// Parse validates a token and returns its claims
func (a *Authenticator) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.DriverID == "" {
		return nil, errors.New("invalid token: missing driver_id")
	}
	return claims, nil
}

// FromRequest reads the token from the Authorization header, or the
// access_token query parameter for WebSocket clients. It returns nil claims
// when authentication is disabled.
func (a *Authenticator) FromRequest(r *http.Request) (*Claims, error) {
	if a == nil {
		return nil, nil
	}

	tokenStr := r.URL.Query().Get("access_token")
	if header := r.Header.Get("Authorization"); header != "" {
		var ok bool
		tokenStr, ok = strings.CutPrefix(header, "Bearer ")
		if !ok {
			return nil, errors.New("authorization header must use the Bearer scheme")
		}
	}
	if tokenStr == "" {
		return nil, ErrMissingToken
	}
	return a.Parse(tokenStr)
}
