// Package auth verifies and issues the bearer tokens presented at the
// WebSocket handshake and on the REST API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

// JWT verifies and signs HS256 tokens carrying the user id in "sub" and the
// display name in "name".
type JWT struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ core.Verifier = (*JWT)(nil)

func NewJWT(secret, issuer string) (*JWT, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWT{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// WithClock returns a copy using now as the time source.
func (j *JWT) WithClock(now func() time.Time) *JWT {
	c := *j
	c.now = now
	return &c
}

// Verify checks signature, issuer and expiry. Every failure is reported as
// domain.ErrUnauthenticated.
func (j *JWT) Verify(token string) (domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.User{}, domain.ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	var parsed claims
	if _, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...); err != nil {
		log.Debug().Err(err).Str("module", "auth").Msg("token rejected")
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrUnauthenticated, jwtReason(err))
	}

	name := parsed.Name
	if strings.TrimSpace(name) == "" {
		name = parsed.Subject
	}
	u, err := domain.NewUser(parsed.Subject, name)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return u, nil
}

func jwtReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature invalid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer mismatch"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "alg invalid"
	default:
		return "malformed token"
	}
}

// Issue signs a token for u valid for ttl.
func (j *JWT) Issue(u domain.User, ttl time.Duration) (string, error) {
	now := j.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(u.ID),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: u.Username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
