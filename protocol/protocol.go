// Package protocol implements the binary frame protocol shared by both ends of a duplex-rpc connection.
//
// Every frame is a fixed 14-byte header followed by a variable-length body. The receiver reads the header
// first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│fk│ call id │ bodyLen │    body ...    │
//	│ dxr  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Either side may send call frames; a response frame always carries the call id of the call it answers.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "dxr".
const (
	MagicNumber byte = 0x64 // 'd'
	MagicByte2  byte = 0x78 // 'x'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (kind) + 4 (call id) + 4 (bodyLen)

	// MaxBodySize bounds a single frame body. A larger length field is treated as a corrupt stream.
	MaxBodySize uint32 = 16 << 20
)

// ErrMalformedFrame is wrapped by every header validation failure.
var ErrMalformedFrame = errors.New("malformed frame")

// Kind distinguishes call, response, and heartbeat frames.
type Kind byte

const (
	KindCall      Kind = 0 // Either side → peer: invoke (protocol, method)
	KindResponse  Kind = 1 // Answer to a call with the same call id
	KindHeartbeat Kind = 2 // KeepAlive probe (no body)
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindResponse:
		return "response"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Codec type constants, mirrored from the codec package to avoid a circular import.
const (
	CodecTypeJSON byte = 0
	CodecTypeCBOR byte = 1
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte   // Body serialization format: 0=JSON, 1=CBOR
	Kind      Kind   // Call, Response, or Heartbeat
	CallID    uint32 // Correlates a response with its call
	BodyLen   uint32 // Body length in bytes
}

// Encode writes a complete frame (header + body) to w in a single Write.
// The caller must serialize concurrent writers sharing w, otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodySize) {
		return fmt.Errorf("%w: body of %d bytes exceeds limit", ErrMalformedFrame, len(body))
	}
	buf := make([]byte, HeaderSize+len(body))
	PutHeader(buf, h, uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// PutHeader fills the first HeaderSize bytes of buf. BodyLen is taken from bodyLen, not from h.
func PutHeader(buf []byte, h *Header, bodyLen uint32) {
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.Kind)
	binary.BigEndian.PutUint32(buf[6:10], h.CallID)
	binary.BigEndian.PutUint32(buf[10:14], bodyLen)
}

// ParseHeader validates and parses a HeaderSize-byte header.
func ParseHeader(headerBuf []byte) (*Header, error) {
	if len(headerBuf) < HeaderSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrMalformedFrame, len(headerBuf))
	}
	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, fmt.Errorf("%w: invalid magic number: %x", ErrMalformedFrame, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, fmt.Errorf("%w: unsupported version: %d", ErrMalformedFrame, headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeCBOR {
		return nil, fmt.Errorf("%w: unsupported codec type: %d", ErrMalformedFrame, headerBuf[4])
	}
	kind := Kind(headerBuf[5])
	if kind != KindCall && kind != KindResponse && kind != KindHeartbeat {
		return nil, fmt.Errorf("%w: unsupported frame kind: %d", ErrMalformedFrame, headerBuf[5])
	}
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodySize {
		return nil, fmt.Errorf("%w: body length %d exceeds limit", ErrMalformedFrame, bodyLen)
	}

	return &Header{
		CodecType: headerBuf[4],
		Kind:      kind,
		CallID:    binary.BigEndian.Uint32(headerBuf[6:10]),
		BodyLen:   bodyLen,
	}, nil
}

// Decode reads a complete frame (header + body) from r.
// io.ReadFull guarantees exactly N bytes are read; a clean EOF before the header is returned as io.EOF.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	h, err := ParseHeader(headerBuf)
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}
	return h, body, nil
}
