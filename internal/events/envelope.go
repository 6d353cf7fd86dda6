package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nfrund/roomchat/internal/domain"
)

// Envelope is the frame exchanged over a connection.
type Envelope struct {
	Type      Kind            `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode builds the frame for kind with payload.
func Encode(kind Kind, requestID string, payload any) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, RequestID: requestID, Payload: raw})
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(kind Kind, requestID string, payload any) []byte {
	data, err := Encode(kind, requestID, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses any frame with a known kind.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, domain.Validationf("malformed frame: %v", err)
	}
	if env.Type == "" {
		return Envelope{}, domain.Validationf("frame type is required")
	}
	if !env.Type.Valid() {
		return env, domain.Validationf("unknown frame type %q", env.Type)
	}
	return env, nil
}

// DecodeClient parses an inbound frame and rejects server-only kinds.
func DecodeClient(data []byte) (Envelope, error) {
	env, err := Decode(data)
	if err != nil {
		return env, err
	}
	if !env.Type.IsClient() {
		return env, domain.Validationf("frame type %q cannot be sent by clients", env.Type)
	}
	return env, nil
}

// Bind decodes the payload into v and validates its struct tags.
func (e Envelope) Bind(v any) error {
	if len(bytes.TrimSpace(e.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(e.Payload), []byte("null")) {
		return domain.Validationf("%s: payload is required", e.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return domain.Validationf("%s: field %s has the wrong type", e.Type, typeErr.Field)
		}
		return domain.Validationf("%s: malformed payload: %v", e.Type, err)
	}
	return domain.Validate(v)
}
