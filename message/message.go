// Package message defines the in-memory shapes of the frames exchanged on a duplex-rpc connection.
//
// A Call travels in either direction; a Response always travels back on the same connection and carries
// the call id of the Call it answers. Params and Result are opaque, codec-encoded value trees at this
// layer: the codec package projects them onto typed records.
package message

import "duplex-rpc/protocol"

// Call is one invocation of (Protocol, Method).
type Call struct {
	ID        uint32
	CodecType byte   // Codec the Params were encoded with
	Protocol  string // e.g. "keybase.1.config"
	Method    string // e.g. "getCurrentStatus"
	Params    []byte // Raw codec value; empty means an empty record
}

// ServiceMethod renders the two-part address as "protocol.method" for logs.
func (c *Call) ServiceMethod() string {
	return c.Protocol + "." + c.Method
}

// Response answers the Call with the same ID. Error and Result are mutually exclusive.
type Response struct {
	ID        uint32
	CodecType byte
	Error     *Status
	Result    []byte // Raw codec value; nil for void methods
}

// Frame is one decoded unit from the wire. Exactly one of Call or Response is set,
// or neither for a heartbeat.
type Frame struct {
	Kind      protocol.Kind
	CodecType byte
	Call      *Call
	Response  *Response
}
