package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

var errMissingUserId = errors.New("auth: user id required")

// TokenIssuer signs access tokens compatible with Validator. Production
// tokens come from the account service; this is used by tests and local
// tooling.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
	clock      func() time.Time
}

func NewTokenIssuer(signingKey []byte, ttl time.Duration, clock func() time.Time) *TokenIssuer {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{signingKey: signingKey, ttl: ttl, clock: clock}
}

func (i *TokenIssuer) Issue(userId int) (string, error) {
	if len(i.signingKey) == 0 {
		return "", ErrMissingSigningKey
	}
	if userId <= 0 {
		return "", errMissingUserId
	}

	now := i.clock().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserId: userId,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	return token.SignedString(i.signingKey)
}
