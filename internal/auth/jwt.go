// Package auth verifies and issues the bearer credentials presented by chat
// clients.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nfrund/roomchat/internal/domain"
)

// DefaultTokenTTL is the lifetime of issued tokens when none is given.
const DefaultTokenTTL = 24 * time.Hour

// Claims are the JWT claims carried by a chat credential. The subject is the
// user id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWT is an HS256 domain.Authenticator.
type JWT struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

var _ domain.Authenticator = (*JWT)(nil)

// NewJWT creates a verifier and issuer for secret. issuer may be empty, in
// which case the iss claim is neither set nor checked.
func NewJWT(secret, issuer string) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWT{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
		parser: jwt.NewParser(opts...),
	}, nil
}

// VerifyCredential parses and validates token. Every failure wraps
// domain.ErrAuth.
func (j *JWT) VerifyCredential(_ context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, domain.Authf("missing credential")
	}

	var claims Claims
	_, err := j.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Identity{}, domain.Authf("credential expired")
	default:
		return domain.Identity{}, domain.Authf("invalid credential")
	}

	if claims.Subject == "" {
		return domain.Identity{}, domain.Authf("credential has no subject")
	}
	return domain.Identity{UserID: claims.Subject, Username: claims.Username}, nil
}

// Issue signs a token for id valid for ttl (DefaultTokenTTL when zero).
func (j *JWT) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", domain.Validationf("user id is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := j.now()
	claims := Claims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        domain.NewID(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
