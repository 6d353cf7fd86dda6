package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/nfrund/roomchat/internal/domain"
)

// DefaultRequestsPerMinute is the REST request budget per client.
const DefaultRequestsPerMinute = 120

// RateLimiter limits requests per authenticated user, or per IP for
// anonymous requests, to perMinute.
func RateLimiter(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	config := middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(float64(perMinute) / 60),
			Burst: perMinute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if id, ok := IdentityFrom(c); ok {
				return "user:" + id.UserID, nil
			}
			return "ip:" + c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests. Please try again later.")
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return domain.Forbiddenf("could not identify client")
		},
	}
	return middleware.RateLimiterWithConfig(config)
}
