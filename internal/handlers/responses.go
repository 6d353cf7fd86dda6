package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/middleware"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IdentityResponse describes the caller of a session request.
type IdentityResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

var statusByCode = map[string]int{
	domain.CodeValidation: http.StatusBadRequest,
	domain.CodeAuth:       http.StatusUnauthorized,
	domain.CodeForbidden:  http.StatusForbidden,
	domain.CodeNotFound:   http.StatusNotFound,
	domain.CodeConflict:   http.StatusConflict,
	domain.CodeInternal:   http.StatusInternalServerError,
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return statusByCode[domain.Code(err)]
}

// ErrorHandler is the echo.HTTPErrorHandler rendering every error as an
// ErrorResponse.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := StatusFor(err)
	resp := ErrorResponse{Code: domain.Code(err), Message: domain.PublicMessage(err)}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		resp.Code = codeForStatus(he.Code)
		resp.Message = fmt.Sprint(he.Message)
		if he.Code >= http.StatusInternalServerError {
			resp.Message = "internal error"
		}
	}

	logger := middleware.FromContext(c.Request().Context())
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "status", status, "error", err)
	} else {
		logger.Debug("Request rejected", "status", status, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		logger.Error("Failed to write error response", "error", err)
	}
}

func codeForStatus(status int) string {
	for code, s := range statusByCode {
		if s == status {
			return code
		}
	}
	if status >= http.StatusInternalServerError {
		return domain.CodeInternal
	}
	return http.StatusText(status)
}
