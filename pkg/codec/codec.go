// Package codec converts raw store payloads to an editable textual form and
// back. Payloads that are not valid UTF-8 are carried as base64 with an
// out-of-band binary marker, so typed text never collides with them.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

// BinaryLabel prefixes the display form of a binary payload.
const BinaryLabel = "[Binary Data (Base64)]: "

var (
	ErrMalformed = errors.New("malformed payload")
)

// DecodedText is the textual form of one payload. When Binary is set, Text
// holds the standard base64 encoding of the raw bytes.
type DecodedText struct {
	Binary bool
	Text   string
}

// Plain returns a DecodedText for user-typed text.
func Plain(s string) DecodedText {
	return DecodedText{Text: s}
}

// String renders the form shown to an operator. It is for display only;
// feeding it back through Encode yields the label as literal text.
func (d DecodedText) String() string {
	if d.Binary {
		return BinaryLabel + d.Text
	}
	return d.Text
}

// Decode returns the UTF-8 text of b, or its base64 when b is not UTF-8.
func Decode(b []byte) DecodedText {
	if utf8.Valid(b) {
		return DecodedText{Text: string(b)}
	}
	return DecodedText{Binary: true, Text: base64.StdEncoding.EncodeToString(b)}
}

// Encode is the inverse of Decode.
func Encode(d DecodedText) ([]byte, error) {
	if !d.Binary {
		return []byte(d.Text), nil
	}
	b, err := base64.StdEncoding.DecodeString(d.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}
	return b, nil
}
