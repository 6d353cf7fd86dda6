package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Validationf("content is required"), CodeValidation},
		{Forbiddenf("not a participant"), CodeForbidden},
		{Conflictf("name taken"), CodeConflict},
		{NotFoundf("room r1"), CodeNotFound},
		{Authf("expired"), CodeAuth},
		{fmt.Errorf("send: %w", NotFoundf("room r1")), CodeNotFound},
		{errors.New("socket closed"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err))
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "forbidden: not a participant", PublicMessage(Forbiddenf("not a participant")))
	assert.Equal(t, "internal error", PublicMessage(errors.New("SELECT * FROM secrets")))
}
