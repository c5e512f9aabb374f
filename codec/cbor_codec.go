package codec

import (
	"fmt"
	"reflect"

	"duplex-rpc/message"
	"duplex-rpc/protocol"

	"github.com/fxamacker/cbor/v2"
)

// CBORCodec encodes value trees as CBOR: string-keyed maps, arrays, primitives and native byte strings.
// Encoding is deterministic (core deterministic options) so re-encoding a decoded frame is byte-identical.
type CBORCodec struct {
	enc   cbor.EncMode
	dec   cbor.DecMode
	limit cbor.DecMode // dec's limits, one nesting level tighter
}

// cborMaxNestedLevels is the library ceiling. Array and map sizes are bounded by the frame body instead.
const cborMaxNestedLevels = 65535

func cborDecOptions(nested int) cbor.DecOptions {
	return cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels:  nested,
		MaxArrayElements: int(protocol.MaxBodySize),
		MaxMapPairs:      int(protocol.MaxBodySize),
	}
}

func NewCBORCodec() *CBORCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cborDecOptions(cborMaxNestedLevels).DecMode()
	if err != nil {
		panic(err)
	}
	limit, err := cborDecOptions(cborMaxNestedLevels - 1).DecMode()
	if err != nil {
		panic(err)
	}
	return &CBORCodec{enc: enc, dec: dec, limit: limit}
}

// Marshal refuses values the peer could not decode once they are embedded in a frame body.
func (c *CBORCodec) Marshal(v any) ([]byte, error) {
	data, err := c.enc.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := c.limit.Wellformed(data); err != nil {
		return nil, fmt.Errorf("cbor: value exceeds decoding limits: %w", err)
	}
	return data, nil
}

func (c *CBORCodec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}

func (c *CBORCodec) EncodeCallBody(protocol, method string, params []byte) ([]byte, error) {
	return c.enc.Marshal(&callBody[cbor.RawMessage]{Protocol: protocol, Method: method, Params: params})
}

func (c *CBORCodec) DecodeCallBody(body []byte) (string, string, []byte, error) {
	var b callBody[cbor.RawMessage]
	if err := c.dec.Unmarshal(body, &b); err != nil {
		return "", "", nil, err
	}
	if err := checkCallBody(&b); err != nil {
		return b.Protocol, b.Method, nil, err
	}
	return b.Protocol, b.Method, b.Params, nil
}

func (c *CBORCodec) EncodeResponseBody(st *message.Status, result []byte) ([]byte, error) {
	b := responseBody[cbor.RawMessage]{Error: st}
	if st == nil {
		b.Result = result
	}
	return c.enc.Marshal(&b)
}

func (c *CBORCodec) DecodeResponseBody(body []byte) (*message.Status, []byte, error) {
	var b responseBody[cbor.RawMessage]
	if err := c.dec.Unmarshal(body, &b); err != nil {
		return nil, nil, err
	}
	if err := checkResponseBody(&b); err != nil {
		return nil, nil, err
	}
	return b.Error, b.Result, nil
}
