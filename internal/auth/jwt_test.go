package auth_test

import (
	"testing"
	"time"

	"github.com/dkeye/Estimate/internal/auth"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWT(t *testing.T, issuer string) *auth.JWT {
	t.Helper()
	j, err := auth.NewJWT("test-secret", issuer)
	require.NoError(t, err)
	return j
}

func TestIssueAndVerify(t *testing.T) {
	j := newJWT(t, "estimate")
	token, err := j.Issue(domain.User{ID: "u-1", Username: "Alice"}, time.Hour)
	require.NoError(t, err)

	u, err := j.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u-1"), u.ID)
	assert.Equal(t, "Alice", u.Username)
}

func TestVerifyRejects(t *testing.T) {
	j := newJWT(t, "estimate")
	good, err := j.Issue(domain.User{ID: "u-1", Username: "Alice"}, time.Hour)
	require.NoError(t, err)

	past := j.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	expired, err := past.Issue(domain.User{ID: "u-1", Username: "Alice"}, time.Hour)
	require.NoError(t, err)

	other, err := auth.NewJWT("other-secret", "estimate")
	require.NoError(t, err)
	forged, err := other.Issue(domain.User{ID: "u-1", Username: "Alice"}, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := newJWT(t, "someone-else").Issue(domain.User{ID: "u-1"}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not-a-token",
		"expired":   expired,
		"forged":    forged,
		"issuer":    wrongIssuer,
		"alg none":  none,
		"truncated": good[:len(good)-4],
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := j.Verify(token)
			assert.ErrorIs(t, err, domain.ErrUnauthenticated)
		})
	}
}

func TestVerifyFallsBackToSubjectForName(t *testing.T) {
	j := newJWT(t, "")
	token, err := j.Issue(domain.User{ID: "u-9"}, time.Minute)
	require.NoError(t, err)

	u, err := j.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-9", u.Username)
}

func TestNewJWTRequiresSecret(t *testing.T) {
	_, err := auth.NewJWT(" ", "x")
	assert.Error(t, err)
}
