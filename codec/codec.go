// Package codec turns frames into bytes and back.
//
// Two layers live here. A Codec serializes value trees (params, results, and the body envelopes that carry
// them). The Wire functions combine a Codec with the protocol header to implement the frame contract:
// EncodeCall, EncodeResponse and DecodeFrame.
package codec

import (
	"fmt"
	"strings"

	"duplex-rpc/message"
)

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeCBOR CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// ParseCodecType maps a config name ("json", "cbor") to its CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return CodecTypeJSON, nil
	case "cbor", "":
		return CodecTypeCBOR, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

// Codec serializes value trees and the call/response body envelopes.
//
// Raw params and results are kept in the codec's own encoding so a decoded frame can be re-encoded
// without loss and projected onto a typed record only when a handler or caller asks for it.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Type() CodecType

	EncodeCallBody(protocol, method string, params []byte) ([]byte, error)
	DecodeCallBody(body []byte) (protocol, method string, params []byte, err error)
	EncodeResponseBody(st *message.Status, result []byte) ([]byte, error)
	DecodeResponseBody(body []byte) (st *message.Status, result []byte, err error)
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return jsonCodec
	}

	return cborCodec
}

var (
	jsonCodec Codec = &JSONCodec{}
	cborCodec Codec = NewCBORCodec()
)

// callBody is the call envelope. R is the codec's raw-value type.
type callBody[R ~[]byte] struct {
	Protocol string `json:"protocol"`
	Method   string `json:"method"`
	Params   R      `json:"params,omitempty"`
}

// responseBody is the response envelope; Error and Result are mutually exclusive.
type responseBody[R ~[]byte] struct {
	Error  *message.Status `json:"error,omitempty"`
	Result R               `json:"result,omitempty"`
}

func checkCallBody[R ~[]byte](b *callBody[R]) error {
	if b.Protocol == "" || b.Method == "" {
		return fmt.Errorf("call body missing protocol or method")
	}
	return nil
}

func checkResponseBody[R ~[]byte](b *responseBody[R]) error {
	if b.Error != nil && len(b.Result) > 0 {
		return fmt.Errorf("response body carries both error and result")
	}
	return nil
}
