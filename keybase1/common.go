// Package keybase1 is the typed catalogue of client/daemon protocols carried over duplex-rpc.
//
// Every protocol has three parts:
//
//   - <Proto>Interface: what the serving side implements;
//   - <Proto>Protocol(i): the registry.Protocol that serves i;
//   - <Proto>Client: typed stubs over an rpc.GenericClient.
//
// Methods that take a sessionID are either session-starting (the client stub allocates the id) or callbacks
// issued by the daemon into the client within a session the client started.
package keybase1

import (
	"encoding/hex"
	"fmt"

	"duplex-rpc/message"
)

type Status = message.Status

type StringKVPair = message.StringKVPair

// Status codes used by the catalogue, in addition to the ones reserved by the dispatch core.
const (
	CodeBadLoginPassword     = 204
	CodeBadLoginUserNotFound = 209
	CodeCanceled             = 237
	CodeNoSession            = 283
)

func BadLoginPassword(attempt int) *Status {
	return message.NewStatus(CodeBadLoginPassword, "BAD_LOGIN_PASSWORD", "bad passphrase",
		StringKVPair{Key: "attempt", Value: fmt.Sprint(attempt)})
}

func BadLoginUserNotFound(username string) *Status {
	return message.NewStatus(CodeBadLoginUserNotFound, "BAD_LOGIN_USER_NOT_FOUND", "no such user",
		StringKVPair{Key: "username", Value: username})
}

func Canceled(desc string) *Status {
	return message.NewStatus(CodeCanceled, "CANCELED", desc)
}

func NoSession() *Status {
	return message.NewStatus(CodeNoSession, "NO_SESSION", "not logged in")
}

// UID identifies a user. It travels as a byte string.
type UID []byte

func (u UID) String() string {
	return hex.EncodeToString(u)
}

func UIDFromHex(s string) (UID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parsing uid %q: %w", s, err)
	}
	return UID(b), nil
}

// Text is a message for display, optionally with markup.
type Text struct {
	Data   string `json:"data" cbor:"data"`
	Markup bool   `json:"markup" cbor:"markup"`
}

type Image struct {
	URL    string `json:"url" cbor:"url"`
	Width  int    `json:"width" cbor:"width"`
	Height int    `json:"height" cbor:"height"`
}

type User struct {
	UID      UID    `json:"uid" cbor:"uid" rpc:"required"`
	Username string `json:"username" cbor:"username" rpc:"required"`
	Image    *Image `json:"image,omitempty" cbor:"image,omitempty"`
}

type Device struct {
	Type     string `json:"type" cbor:"type"`
	Name     string `json:"name" cbor:"name"`
	DeviceID string `json:"deviceID" cbor:"deviceID"`
}

type Session struct {
	UID      UID    `json:"uid" cbor:"uid"`
	Username string `json:"username" cbor:"username"`
}

// GetCurrentStatusRes describes the daemon's configuration and login state. User is nil when nobody is logged in.
type GetCurrentStatusRes struct {
	Configured bool   `json:"configured" cbor:"configured"`
	Registered bool   `json:"registered" cbor:"registered"`
	LoggedIn   bool   `json:"loggedIn" cbor:"loggedIn"`
	User       *User  `json:"user,omitempty" cbor:"user,omitempty"`
	ServerURI  string `json:"serverUri,omitempty" cbor:"serverUri,omitempty"`
}

// SecretEntryArg configures one secret prompt (pinentry or terminal).
type SecretEntryArg struct {
	Desc   string `json:"desc" cbor:"desc"`
	Prompt string `json:"prompt" cbor:"prompt"`
	Err    string `json:"err" cbor:"err"`
	Cancel string `json:"cancel" cbor:"cancel"`
	Ok     string `json:"ok" cbor:"ok"`
}

type SecretEntryRes struct {
	Text     string `json:"text" cbor:"text"`
	Canceled bool   `json:"canceled" cbor:"canceled"`
}

type LogLevel int

const (
	LogLevel_NONE LogLevel = iota
	LogLevel_DEBUG
	LogLevel_INFO
	LogLevel_NOTICE
	LogLevel_WARN
	LogLevel_ERROR
	LogLevel_CRITICAL
)

var logLevelNames = map[LogLevel]string{
	LogLevel_NONE:     "NONE",
	LogLevel_DEBUG:    "DEBUG",
	LogLevel_INFO:     "INFO",
	LogLevel_NOTICE:   "NOTICE",
	LogLevel_WARN:     "WARN",
	LogLevel_ERROR:    "ERROR",
	LogLevel_CRITICAL: "CRITICAL",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}
