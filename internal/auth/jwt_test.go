package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/roomchat/internal/domain"
)

func TestJWT_RoundTrip(t *testing.T) {
	j, err := NewJWT("test-secret", "roomchat")
	require.NoError(t, err)

	token, err := j.Issue(domain.Identity{UserID: "u1", Username: "Ann"}, time.Minute)
	require.NoError(t, err)

	id, err := j.VerifyCredential(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: "u1", Username: "Ann"}, id)
}

func TestJWT_Rejects(t *testing.T) {
	ctx := context.Background()
	j, err := NewJWT("test-secret", "roomchat")
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key any, claims Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() Claims {
		return Claims{
			Username: "Ann",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				Issuer:    "roomchat",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	otherIssuer := valid()
	otherIssuer.Issuer = "someone-else"
	noSubject := valid()
	noSubject.Subject = ""
	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), valid())},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte("test-secret"), valid())},
		{"expired", sign(jwt.SigningMethodHS256, []byte("test-secret"), expired)},
		{"other issuer", sign(jwt.SigningMethodHS256, []byte("test-secret"), otherIssuer)},
		{"no subject", sign(jwt.SigningMethodHS256, []byte("test-secret"), noSubject)},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte("test-secret"), noExpiry)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.VerifyCredential(ctx, tt.token)
			assert.ErrorIs(t, err, domain.ErrAuth)
		})
	}
}

func TestJWT_ExpiredMessage(t *testing.T) {
	j, err := NewJWT("test-secret", "")
	require.NoError(t, err)
	j.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := j.Issue(domain.Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	_, err = j.VerifyCredential(context.Background(), token)
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Contains(t, err.Error(), "expired")
}

func TestNewJWT_RequiresSecret(t *testing.T) {
	_, err := NewJWT("", "roomchat")
	assert.Error(t, err)

	j, err := NewJWT("s", "")
	require.NoError(t, err)
	_, err = j.Issue(domain.Identity{}, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
