package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrMalformedMessage indicates bytes that are not a valid envelope
	// or a message missing required fields.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrMissingType indicates an envelope without a "type" field.
	ErrMissingType = errors.New("message has no type")
)

// envelope is the minimal decode used for routing.
type envelope struct {
	Type string `json:"type"`
}

// Marshal encodes a message to its JSON wire form.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Unmarshal decodes JSON wire bytes into a message struct.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// PeekType extracts the envelope type without decoding the full
// message, so receivers can route to the right struct.
func PeekType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

// MarshalPayload encodes an application payload for embedding in a
// relay_message. A nil payload stays nil rather than encoding "null".
func MarshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return json.RawMessage(data), nil
}
