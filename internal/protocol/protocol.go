package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// HeaderSize is the size of the fixed message header: id (uint16) + size (uint16).
	HeaderSize = 4
	// MaxPayloadSize is the largest payload the size field can describe.
	MaxPayloadSize = math.MaxUint16
)

// ErrMalformedFrame is returned by Parse when the bytes of a binary frame do
// not form exactly one message.
var ErrMalformedFrame = errors.New("malformed frame")

// Header is the fixed-size prefix of every message.
type Header struct {
	// ID identifies the message type.
	ID uint16
	// Size is the payload length in bytes.
	Size uint16
}

// Message is one application-level unit decoded from a binary frame.
//
// A Message is immutable. Its payload references the buffer it was parsed
// from; do not modify it.
type Message struct {
	header  Header
	payload []byte
}

// Parse decodes a message from the bytes of one binary frame.
//
// The header is read little-endian. Parse fails with ErrMalformedFrame unless
// len(data) == HeaderSize + header.Size. The id is not checked against a set
// of known ids.
func Parse(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return Message{}, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrMalformedFrame, len(data), HeaderSize)
	}

	header := Header{
		ID:   binary.LittleEndian.Uint16(data[0:2]),
		Size: binary.LittleEndian.Uint16(data[2:4]),
	}

	if len(data) != HeaderSize+int(header.Size) {
		return Message{}, fmt.Errorf("%w: data length %d does not match header size + %d (%d)",
			ErrMalformedFrame, len(data), HeaderSize, HeaderSize+int(header.Size))
	}

	return Message{header: header, payload: data[HeaderSize:]}, nil
}

// Build encodes id and payload into the bytes of one binary frame.
func Build(id uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", len(payload), MaxPayloadSize)
	}

	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], id)
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// ID returns the message type identifier.
func (m Message) ID() uint16 {
	return m.header.ID
}

// Size returns the payload size declared in the header.
func (m Message) Size() uint16 {
	return m.header.Size
}

// Header returns the decoded header.
func (m Message) Header() Header {
	return m.header
}

// Payload returns the message body without the header.
func (m Message) Payload() []byte {
	return m.payload
}

// Equal reports whether both messages have the same header and payload bytes.
func (m Message) Equal(other Message) bool {
	return m.header == other.header && bytes.Equal(m.payload, other.payload)
}
