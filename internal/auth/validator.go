package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSigningKey = errors.New("auth: signing key required")
	ErrMissingCookieName = errors.New("auth: cookie name required")
	ErrMissingToken      = errors.New("auth: token required")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrExpiredToken      = errors.New("auth: token expired")
)

// Claims is the payload of the access token issued by the account service.
type Claims struct {
	UserId int `json:"user_id"`
	jwt.RegisteredClaims
}

type ValidatorConfig struct {
	SigningKey []byte
	CookieName string
	Clock      func() time.Time
}

// Validator checks HS256 access tokens carried in a cookie.
type Validator struct {
	signingKey []byte
	cookieName string
	clock      func() time.Time
}

func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, ErrMissingSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Validator{
		signingKey: append([]byte(nil), cfg.SigningKey...),
		cookieName: cookieName,
		clock:      clock,
	}, nil
}

func (v *Validator) CookieName() string {
	return v.cookieName
}

func (v *Validator) ValidateToken(tokenString string) (Claims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.signingKey, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.UserId <= 0 {
		return Claims{}, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return *claims, nil
}

// ValidateRequest reads the token from the configured cookie. Query
// parameters and headers are never consulted.
func (v *Validator) ValidateRequest(r *http.Request) (Claims, error) {
	if r == nil {
		return Claims{}, ErrMissingToken
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil || cookie == nil {
		return Claims{}, ErrMissingToken
	}
	return v.ValidateToken(cookie.Value)
}
