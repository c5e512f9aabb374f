package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"duplex-rpc/message"
	"duplex-rpc/protocol"
)

// ErrMalformedFrame is re-exported from protocol for callers that only import codec.
var ErrMalformedFrame = protocol.ErrMalformedFrame

// DecodeError reports a frame whose header was valid but whose body could not be decoded.
// The header is trusted, so the dispatcher can still answer a call by its CallID.
type DecodeError struct {
	Kind      protocol.Kind
	CallID    uint32
	CodecType byte
	Protocol  string
	Method    string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s frame %d: %v", e.Kind, e.CallID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Wire encodes outbound frames with one Codec. Inbound frames select their codec from the header.
type Wire struct {
	codec Codec
}

func NewWire(c Codec) *Wire {
	return &Wire{codec: c}
}

func (w *Wire) Codec() Codec {
	return w.codec
}

// EncodeCall serializes params and returns a complete call frame.
func (w *Wire) EncodeCall(callID uint32, protocolName, method string, params any) ([]byte, error) {
	raw, err := w.marshalValue(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params for %s.%s: %w", protocolName, method, err)
	}
	return EncodeCallFrame(w.codec, &message.Call{
		ID:       callID,
		Protocol: protocolName,
		Method:   method,
		Params:   raw,
	})
}

// EncodeResponse serializes result (ignored when st is set) and returns a complete response frame.
func (w *Wire) EncodeResponse(callID uint32, st *message.Status, result any) ([]byte, error) {
	resp := &message.Response{ID: callID, Error: st}
	if st == nil {
		raw, err := w.marshalValue(result)
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		resp.Result = raw
	}
	return EncodeResponseFrame(w.codec, resp)
}

func (w *Wire) marshalValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return w.codec.Marshal(v)
}

// EncodeCallFrame encodes an already-serialized call.
func EncodeCallFrame(c Codec, call *message.Call) ([]byte, error) {
	body, err := c.EncodeCallBody(call.Protocol, call.Method, call.Params)
	if err != nil {
		return nil, err
	}
	return frame(c, protocol.KindCall, call.ID, body)
}

// EncodeResponseFrame encodes an already-serialized response.
func EncodeResponseFrame(c Codec, resp *message.Response) ([]byte, error) {
	body, err := c.EncodeResponseBody(resp.Error, resp.Result)
	if err != nil {
		return nil, err
	}
	return frame(c, protocol.KindResponse, resp.ID, body)
}

// EncodeHeartbeat returns a bodyless keep-alive frame.
func EncodeHeartbeat(c Codec) []byte {
	b, _ := frame(c, protocol.KindHeartbeat, 0, nil)
	return b
}

func frame(c Codec, kind protocol.Kind, callID uint32, body []byte) ([]byte, error) {
	if uint64(len(body)) > uint64(protocol.MaxBodySize) {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds limit", ErrMalformedFrame, len(body))
	}
	buf := make([]byte, protocol.HeaderSize+len(body))
	protocol.PutHeader(buf, &protocol.Header{
		CodecType: byte(c.Type()),
		Kind:      kind,
		CallID:    callID,
	}, uint32(len(body)))
	copy(buf[protocol.HeaderSize:], body)
	return buf, nil
}

// DecodeFrame decodes one complete frame held in b.
func DecodeFrame(b []byte) (*message.Frame, error) {
	f, err := ReadFrame(bytes.NewReader(b))
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: truncated frame", ErrMalformedFrame)
	}
	return f, err
}

// ReadFrame reads and decodes the next frame from r.
//
// Header failures and I/O errors are returned as-is (the stream can no longer be trusted).
// Body failures are returned as *DecodeError alongside a nil frame.
func ReadFrame(r io.Reader) (*message.Frame, error) {
	h, body, err := protocol.Decode(r)
	if err != nil {
		return nil, err
	}
	return decodeBody(h, body)
}

func decodeBody(h *protocol.Header, body []byte) (*message.Frame, error) {
	c := GetCodec(CodecType(h.CodecType))
	switch h.Kind {
	case protocol.KindHeartbeat:
		return &message.Frame{Kind: protocol.KindHeartbeat, CodecType: h.CodecType}, nil

	case protocol.KindCall:
		proto, method, params, err := c.DecodeCallBody(body)
		if err != nil {
			return nil, &DecodeError{Kind: h.Kind, CallID: h.CallID, CodecType: h.CodecType, Protocol: proto, Method: method, Err: err}
		}
		return &message.Frame{
			Kind:      protocol.KindCall,
			CodecType: h.CodecType,
			Call: &message.Call{
				ID:        h.CallID,
				CodecType: h.CodecType,
				Protocol:  proto,
				Method:    method,
				Params:    params,
			},
		}, nil

	default:
		st, result, err := c.DecodeResponseBody(body)
		if err != nil {
			return nil, &DecodeError{Kind: h.Kind, CallID: h.CallID, CodecType: h.CodecType, Err: err}
		}
		return &message.Frame{
			Kind:      protocol.KindResponse,
			CodecType: h.CodecType,
			Response: &message.Response{
				ID:        h.CallID,
				CodecType: h.CodecType,
				Error:     st,
				Result:    result,
			},
		}, nil
	}
}

// ReencodeFrame encodes a decoded frame back to bytes using the codec recorded in the frame.
func ReencodeFrame(f *message.Frame) ([]byte, error) {
	switch f.Kind {
	case protocol.KindCall:
		return EncodeCallFrame(GetCodec(CodecType(f.Call.CodecType)), f.Call)
	case protocol.KindResponse:
		return EncodeResponseFrame(GetCodec(CodecType(f.Response.CodecType)), f.Response)
	default:
		return EncodeHeartbeat(GetCodec(CodecType(f.CodecType))), nil
	}
}
