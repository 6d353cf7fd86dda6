package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/roomchat/internal/domain"
)

func TestKinds(t *testing.T) {
	for _, k := range ClientKinds() {
		assert.True(t, k.IsClient(), k)
		assert.False(t, k.IsServer(), k)
	}
	for _, k := range ServerKinds() {
		assert.True(t, k.IsServer(), k)
		assert.False(t, k.IsClient(), k)
	}
	assert.False(t, Kind("shout").Valid())
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(KindSendMessage, "req-1", SendMessage{RoomID: "r1", Content: "hi", ClientTempID: "tmp-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"send_message","requestId":"req-1","payload":{"roomId":"r1","content":"hi","clientTempId":"tmp-1"}}`, string(data))

	env, err := DecodeClient(data)
	require.NoError(t, err)
	assert.Equal(t, KindSendMessage, env.Type)
	assert.Equal(t, "req-1", env.RequestID)

	var msg SendMessage
	require.NoError(t, env.Bind(&msg))
	assert.Equal(t, "tmp-1", msg.ClientTempID)

	_, err = Encode(Kind("bogus"), "", nil)
	assert.Error(t, err)
}

func TestDecodeClient_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"type":`},
		{"missing type", `{"payload":{}}`},
		{"unknown type", `{"type":"shout","payload":{}}`},
		{"server kind", `{"type":"new_message","payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClient([]byte(tt.frame))
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestBind_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"roomId":"r1","isTyping":true}`, false},
		{"missing payload", ``, true},
		{"null payload", `null`, true},
		{"blank room", `{"roomId":"  ","isTyping":true}`, true},
		{"wrong type", `{"roomId":"r1","isTyping":"yes"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{Type: KindTyping, Payload: json.RawMessage(tt.payload)}
			var p Typing
			err := env.Bind(&p)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.True(t, p.IsTyping)
		})
	}
}

func TestNewError(t *testing.T) {
	frame := NewError(domain.Forbiddenf("not a participant of room r1"), "req-9", "tmp-9")
	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, KindError, env.Type)

	var e ErrorEvent
	require.NoError(t, json.Unmarshal(env.Payload, &e))
	assert.Equal(t, domain.CodeForbidden, e.Code)
	assert.Equal(t, "tmp-9", e.ClientTempID)
	assert.Equal(t, "req-9", e.RequestID)

	frame = NewError(errors.New("db exploded"), "", "")
	env, err = Decode(frame)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(env.Payload, &e))
	assert.Equal(t, domain.CodeInternal, e.Code)
	assert.Equal(t, "internal error", e.Message)
}
