package codec

import (
	"encoding/json"

	"duplex-rpc/message"
)

// JSONCodec uses encoding/json. Byte strings travel as base64 text.
// Human-readable and easy to debug; CBOR is the default on the wire.
type JSONCodec struct{}

func (c *JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func (c *JSONCodec) EncodeCallBody(protocol, method string, params []byte) ([]byte, error) {
	return json.Marshal(&callBody[json.RawMessage]{Protocol: protocol, Method: method, Params: params})
}

func (c *JSONCodec) DecodeCallBody(body []byte) (string, string, []byte, error) {
	var b callBody[json.RawMessage]
	if err := json.Unmarshal(body, &b); err != nil {
		return "", "", nil, err
	}
	if err := checkCallBody(&b); err != nil {
		return b.Protocol, b.Method, nil, err
	}
	return b.Protocol, b.Method, b.Params, nil
}

func (c *JSONCodec) EncodeResponseBody(st *message.Status, result []byte) ([]byte, error) {
	b := responseBody[json.RawMessage]{Error: st}
	if st == nil {
		b.Result = result
	}
	return json.Marshal(&b)
}

func (c *JSONCodec) DecodeResponseBody(body []byte) (*message.Status, []byte, error) {
	var b responseBody[json.RawMessage]
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, nil, err
	}
	if err := checkResponseBody(&b); err != nil {
		return nil, nil, err
	}
	return b.Error, b.Result, nil
}
