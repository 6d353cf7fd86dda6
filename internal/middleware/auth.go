package middleware

import (
	"strings"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/roomchat/internal/domain"
)

const (
	// IdentityContextKey holds the verified domain.Identity on the echo context.
	IdentityContextKey = "identity"

	// SessionName is the cookie session that may carry the credential for
	// browser clients, which cannot set headers on a websocket handshake.
	SessionName = "roomchat-session"

	sessionTokenKey = "token"
)

// Credential returns the raw credential of the request, looking at the
// Authorization bearer header, the token query parameter and the cookie
// session in that order.
func Credential(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	if sess, err := session.Get(SessionName, c); err == nil {
		if token, ok := sess.Values[sessionTokenKey].(string); ok {
			return token
		}
	}
	return ""
}

// SaveSessionToken stores token in the cookie session.
func SaveSessionToken(c echo.Context, token string) error {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return err
	}
	sess.Options.HttpOnly = true
	sess.Options.Path = "/"
	sess.Values[sessionTokenKey] = token
	return sess.Save(c.Request(), c.Response())
}

// ClearSession expires the cookie session.
func ClearSession(c echo.Context) error {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return err
	}
	delete(sess.Values, sessionTokenKey)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// Auth rejects requests without a valid credential. The verified identity
// is stored under IdentityContextKey and added to the request logger.
func Auth(a domain.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			id, err := a.VerifyCredential(ctx, Credential(c))
			if err != nil {
				FromContext(ctx).Debug("Rejected request credential", "error", err)
				return err
			}
			c.Set(IdentityContextKey, id)

			ctx = WithLogger(ctx, FromContext(ctx).With("user_id", id.UserID))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c echo.Context) (domain.Identity, bool) {
	id, ok := c.Get(IdentityContextKey).(domain.Identity)
	return id, ok
}
