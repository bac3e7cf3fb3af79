package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const envelopeField = "$binary"

// Element is a single payload inside a JSON document. Text payloads are JSON
// strings; binary payloads are the envelope {"$binary": "<base64>"}.
type Element []byte

type envelope struct {
	Binary *string `json:"$binary"`
}

func (e Element) MarshalJSON() ([]byte, error) {
	d := Decode(e)
	if d.Binary {
		return json.Marshal(envelope{Binary: &d.Text})
	}
	return marshalString(d.Text)
}

func (e *Element) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty element", ErrMalformed)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		*e = Element(s)
		return nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw, ok := fields[envelopeField]
		if !ok || len(fields) != 1 {
			return fmt.Errorf("%w: object must be a %q envelope", ErrMalformed, envelopeField)
		}
		var payload string
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, envelopeField, err)
		}
		b, err := Encode(DecodedText{Binary: true, Text: payload})
		if err != nil {
			return err
		}
		*e = b
		return nil
	default:
		return fmt.Errorf("%w: element must be a string or %q envelope", ErrMalformed, envelopeField)
	}
}

// marshalString encodes s without escaping HTML characters, so documents read
// the same as the stored text.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
