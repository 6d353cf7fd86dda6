package handlers

import (
	"github.com/nfrund/roomchat/internal/domain"
)

// CustomValidator implements echo.Validator with the domain validation
// rules, so binding failures surface as domain.ErrValidation.
type CustomValidator struct{}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i any) error {
	return domain.Validate(i)
}

// SessionRequest exchanges a bearer credential for a cookie session.
type SessionRequest struct {
	Token string `json:"token" form:"token" validate:"notblank"`
}

// AddParticipantRequest names the user to add to a room.
type AddParticipantRequest struct {
	UserID string `json:"userId" validate:"notblank"`
}

// EditMessageRequest carries replacement content. Length and blankness are
// checked by the chat service.
type EditMessageRequest struct {
	Content string `json:"content"`
}
