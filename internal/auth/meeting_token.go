package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingRoom = errors.New("auth: meeting room required")

type MeetingUser struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type MeetingContext struct {
	User MeetingUser `json:"user"`
}

// MeetingClaims follows the token layout accepted by Jitsi deployments.
type MeetingClaims struct {
	Context   MeetingContext `json:"context"`
	Room      string         `json:"room"`
	Moderator bool           `json:"moderator"`
	jwt.RegisteredClaims
}

type MeetingTokenConfig struct {
	AppId  string
	Domain string
	Secret []byte
	TTL    time.Duration
	Clock  func() time.Time
}

// MeetingTokens issues join tokens scoped to a single meeting room.
type MeetingTokens struct {
	cfg MeetingTokenConfig
}

func NewMeetingTokens(cfg MeetingTokenConfig) (*MeetingTokens, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSigningKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &MeetingTokens{cfg: cfg}, nil
}

func (m *MeetingTokens) AppId() string  { return m.cfg.AppId }
func (m *MeetingTokens) Domain() string { return m.cfg.Domain }

func (m *MeetingTokens) Issue(room string, userId int, username string, moderator bool) (string, error) {
	if room == "" {
		return "", errMissingRoom
	}

	now := m.cfg.Clock().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MeetingClaims{
		Context: MeetingContext{
			User: MeetingUser{Id: strconv.Itoa(userId), Name: username},
		},
		Room:      room,
		Moderator: moderator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.AppId,
			Subject:   m.cfg.Domain,
			Audience:  jwt.ClaimStrings{m.cfg.AppId},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TTL)),
		},
	})
	return token.SignedString(m.cfg.Secret)
}

// Parse validates a token previously produced by Issue.
func (m *MeetingTokens) Parse(tokenString string) (MeetingClaims, error) {
	claims := &MeetingClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return m.cfg.Secret, nil
		},
		jwt.WithTimeFunc(m.cfg.Clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(m.cfg.AppId),
		jwt.WithIssuer(m.cfg.AppId),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return MeetingClaims{}, ErrExpiredToken
		}
		return MeetingClaims{}, err
	}
	return *claims, nil
}
