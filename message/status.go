package message

import (
	"errors"
	"strconv"
	"strings"
)

// Reserved status codes used by the dispatch core and its middleware.
const (
	CodeOK             = 0
	CodeBadParams      = 100
	CodeBadSession     = 201
	CodeMethodNotFound = 205
	CodeGeneric        = 218
	CodeRateLimited    = 602
	CodeTimeout        = 1010
	CodeShuttingDown   = 1011
	CodeInternal       = 1012
)

// StringKVPair is one ordered annotation on a Status.
type StringKVPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Status is the structured application error carried in a Response.
type Status struct {
	Code   int            `json:"code"`
	Name   string         `json:"name"`
	Desc   string         `json:"desc"`
	Fields []StringKVPair `json:"fields,omitempty"`
}

// NewStatus builds a Status with optional annotations.
func NewStatus(code int, name, desc string, fields ...StringKVPair) *Status {
	return &Status{Code: code, Name: name, Desc: desc, Fields: fields}
}

func (s *Status) Error() string {
	var b strings.Builder
	b.WriteString(s.Name)
	if s.Desc != "" {
		b.WriteString(": ")
		b.WriteString(s.Desc)
	}
	for _, f := range s.Fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(f.Value)
	}
	return b.String()
}

// Field returns the first annotation with the given key.
func (s *Status) Field(key string) (string, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// WithField returns a copy of s with one more annotation appended.
func (s *Status) WithField(key, value string) *Status {
	c := *s
	c.Fields = append(append([]StringKVPair(nil), s.Fields...), StringKVPair{Key: key, Value: value})
	return &c
}

func BadParams(desc string) *Status {
	return NewStatus(CodeBadParams, "BAD_PARAMS", desc)
}

func MethodNotFound(protocol, method string) *Status {
	return NewStatus(CodeMethodNotFound, "METHOD_NOT_FOUND", "no handler registered",
		StringKVPair{Key: "protocol", Value: protocol},
		StringKVPair{Key: "method", Value: method},
	)
}

func BadSession(sessionID int) *Status {
	return NewStatus(CodeBadSession, "BAD_SESSION", "session is not active",
		StringKVPair{Key: "sessionID", Value: strconv.Itoa(sessionID)},
	)
}

func Internal(desc string) *Status {
	return NewStatus(CodeInternal, "INTERNAL", desc)
}

// StatusFromError converts a handler error into the Status sent on the wire.
// A Status anywhere in the chain is passed through verbatim; anything else becomes GENERIC.
func StatusFromError(err error) *Status {
	if err == nil {
		return nil
	}
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	return NewStatus(CodeGeneric, "GENERIC", err.Error())
}

// HasCode reports whether err carries a Status with the given code.
func HasCode(err error, code int) bool {
	var st *Status
	return errors.As(err, &st) && st.Code == code
}
