package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is a frame whose type is known but whose body is decoded lazily
// by whoever handles that type.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the whole frame into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// ParseEnvelope reads the type of a frame, keeping the raw bytes.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Envelope{Type: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
}

// Encode builds a frame with msgType next to the fields of payload.
// payload may be nil, a map, or a struct that encodes to a JSON object.
func Encode(msgType string, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		if string(body) != "null" {
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("%s payload is not a JSON object: %w", msgType, err)
			}
		}
	}

	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}
