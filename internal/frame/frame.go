// Package frame encodes the tagged binary messages written to terminal
// sockets. Inbound terminal traffic is raw bytes and is never framed.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Tag is the leading byte of an outbound terminal frame.
type Tag byte

const (
	// TagStdin marks a frame carrying UTF-8 keyboard input.
	TagStdin Tag = 0x00
	// TagResize marks a frame carrying a JSON {rows, cols} resize request.
	TagResize Tag = 0xFF
)

// ErrEmptyFrame is returned when decoding a zero-length frame.
var ErrEmptyFrame = errors.New("frame: empty frame")

// Resize is the payload of a resize frame.
type Resize struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// EncodeStdin returns [0x00] followed by the UTF-8 bytes of data.
func EncodeStdin(data string) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(TagStdin))
	return append(out, data...)
}

// EncodeResize returns [0xFF] followed by the JSON encoding of {rows, cols}.
func EncodeResize(rows, cols uint16) []byte {
	// Marshal of a struct with two integer fields cannot fail.
	payload, _ := json.Marshal(Resize{Rows: rows, Cols: cols})
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(TagResize))
	return append(out, payload...)
}

// Split separates a frame into its tag and payload. It mirrors the
// server-side multiplexer and is used by fakes and tests.
func Split(msg []byte) (Tag, []byte, error) {
	if len(msg) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	return Tag(msg[0]), msg[1:], nil
}

// DecodeResize parses a complete resize frame.
func DecodeResize(msg []byte) (Resize, error) {
	tag, payload, err := Split(msg)
	if err != nil {
		return Resize{}, err
	}
	if tag != TagResize {
		return Resize{}, fmt.Errorf("frame: unexpected tag 0x%02x", byte(tag))
	}
	var r Resize
	if err := json.Unmarshal(payload, &r); err != nil {
		return Resize{}, fmt.Errorf("frame: decode resize: %w", err)
	}
	return r, nil
}
