package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/roomchat/internal/domain"
)

func TestRateLimiter(t *testing.T) {
	e := echo.New()
	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}
	e.GET("/", handler, RateLimiter(10))
	e.GET("/as/:user", handler, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(IdentityContextKey, domain.Identity{UserID: c.Param("user")})
			return next(c)
		}
	}, RateLimiter(10))

	get := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("allows requests within the limit", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/", "192.0.2.1:1234"))
	})

	t.Run("blocks requests exceeding the limit", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			require.Equal(t, http.StatusOK, get("/", "192.0.2.2:1234"), "request %d should be allowed", i+1)
		}
		assert.Equal(t, http.StatusTooManyRequests, get("/", "192.0.2.2:1234"))
	})

	t.Run("authenticated users have their own budget", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			require.Equal(t, http.StatusOK, get("/as/ann", "192.0.2.3:1234"))
		}
		assert.Equal(t, http.StatusTooManyRequests, get("/as/ann", "192.0.2.3:1234"))
		assert.Equal(t, http.StatusOK, get("/as/ben", "192.0.2.3:1234"))
	})
}
