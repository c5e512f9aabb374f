package codec

import (
	"bytes"
	"errors"
	"testing"

	"duplex-rpc/message"
	"duplex-rpc/protocol"
)

type testUser struct {
	UID      []byte `json:"uid"`
	Username string `json:"username"`
}

type testStatusRes struct {
	Configured bool      `json:"configured"`
	Registered bool      `json:"registered"`
	LoggedIn   bool      `json:"loggedIn"`
	User       *testUser `json:"user"`
	ServerURI  string    `json:"serverUri"`
}

type testPromptArg struct {
	SessionID int      `json:"sessionID" rpc:"required"`
	Text      string   `json:"text"`
	Choices   []string `json:"choices"`
}

var allCodecs = []Codec{GetCodec(CodecTypeJSON), GetCodec(CodecTypeCBOR)}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Fatal("expect JSON codec")
	}
	if GetCodec(CodecTypeCBOR).Type() != CodecTypeCBOR {
		t.Fatal("expect CBOR codec")
	}
	if ct, err := ParseCodecType("JSON"); err != nil || ct != CodecTypeJSON {
		t.Fatalf("expect json, got %v (%v)", ct, err)
	}
	if ct, err := ParseCodecType(""); err != nil || ct != CodecTypeCBOR {
		t.Fatalf("expect cbor default, got %v (%v)", ct, err)
	}
	if _, err := ParseCodecType("msgpack"); err == nil {
		t.Fatal("expect unknown codec to fail")
	}
}

func TestCallFrameRoundTrip(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Type().String(), func(t *testing.T) {
			w := NewWire(c)
			params := &testPromptArg{SessionID: 3, Text: "Continue?", Choices: []string{"y", "n"}}
			b, err := w.EncodeCall(42, "keybase.1.ui", "promptYesNo", params)
			if err != nil {
				t.Fatalf("EncodeCall failed: %v", err)
			}

			f, err := DecodeFrame(b)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			if f.Kind != protocol.KindCall || f.Call == nil {
				t.Fatalf("expect call frame, got %+v", f)
			}
			if f.Call.ID != 42 || f.Call.Protocol != "keybase.1.ui" || f.Call.Method != "promptYesNo" {
				t.Fatalf("unexpected call header: %+v", f.Call)
			}

			var got testPromptArg
			if err := Project(c, f.Call.Params, &got); err != nil {
				t.Fatalf("Project failed: %v", err)
			}
			if got.SessionID != 3 || got.Text != "Continue?" || len(got.Choices) != 2 {
				t.Fatalf("unexpected params: %+v", got)
			}

			again, err := ReencodeFrame(f)
			if err != nil {
				t.Fatalf("ReencodeFrame failed: %v", err)
			}
			if !bytes.Equal(again, b) {
				t.Fatalf("re-encoded call frame differs:\n%x\n%x", again, b)
			}
		})
	}
}

func TestResponseFrameRoundTrip(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Type().String(), func(t *testing.T) {
			w := NewWire(c)
			res := &testStatusRes{
				Configured: true,
				Registered: true,
				User:       &testUser{UID: []byte{0xde, 0xad, 0xbe, 0xef}, Username: "max"},
			}
			b, err := w.EncodeResponse(7, nil, res)
			if err != nil {
				t.Fatal(err)
			}

			f, err := DecodeFrame(b)
			if err != nil {
				t.Fatal(err)
			}
			if f.Kind != protocol.KindResponse || f.Response.ID != 7 || f.Response.Error != nil {
				t.Fatalf("unexpected response frame: %+v", f.Response)
			}

			var got testStatusRes
			if err := Project(c, f.Response.Result, &got); err != nil {
				t.Fatal(err)
			}
			if !got.Configured || got.LoggedIn || got.User == nil || !bytes.Equal(got.User.UID, res.User.UID) {
				t.Fatalf("unexpected result: %+v", got)
			}

			again, err := ReencodeFrame(f)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(again, b) {
				t.Fatal("re-encoded response frame differs")
			}
		})
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Type().String(), func(t *testing.T) {
			st := message.NewStatus(204, "BAD_LOGIN_PASSWORD", "bad password",
				message.StringKVPair{Key: "attempt", Value: "1"},
				message.StringKVPair{Key: "username", Value: "max"},
			)
			b, err := NewWire(c).EncodeResponse(9, st, &testStatusRes{Configured: true})
			if err != nil {
				t.Fatal(err)
			}
			f, err := DecodeFrame(b)
			if err != nil {
				t.Fatal(err)
			}
			got := f.Response.Error
			if got == nil || got.Code != 204 || got.Name != "BAD_LOGIN_PASSWORD" || len(got.Fields) != 2 {
				t.Fatalf("unexpected status: %+v", got)
			}
			if got.Fields[0].Key != "attempt" || got.Fields[1].Key != "username" {
				t.Fatalf("annotation order not preserved: %+v", got.Fields)
			}
			if f.Response.Result != nil {
				t.Fatal("result must be absent when an error is present")
			}

			again, err := ReencodeFrame(f)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(again, b) {
				t.Fatal("re-encoded error frame differs")
			}
		})
	}
}

func TestVoidCallAndResponse(t *testing.T) {
	for _, c := range allCodecs {
		t.Run(c.Type().String(), func(t *testing.T) {
			w := NewWire(c)
			b, err := w.EncodeCall(1, "keybase.1.config", "getCurrentStatus", nil)
			if err != nil {
				t.Fatal(err)
			}
			f, err := DecodeFrame(b)
			if err != nil {
				t.Fatal(err)
			}
			if len(f.Call.Params) != 0 {
				t.Fatalf("expect absent params, got %x", f.Call.Params)
			}

			b, err = w.EncodeResponse(1, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			f, err = DecodeFrame(b)
			if err != nil {
				t.Fatal(err)
			}
			if f.Response.Error != nil || len(f.Response.Result) != 0 {
				t.Fatalf("expect empty response, got %+v", f.Response)
			}
		})
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	for _, c := range allCodecs {
		b := EncodeHeartbeat(c)
		f, err := DecodeFrame(b)
		if err != nil {
			t.Fatal(err)
		}
		if f.Kind != protocol.KindHeartbeat || f.Call != nil || f.Response != nil {
			t.Fatalf("unexpected heartbeat frame: %+v", f)
		}
		again, err := ReencodeFrame(f)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(again, b) {
			t.Fatalf("re-encoded heartbeat differs for %s", c.Type())
		}
	}
}

func TestNullableFieldDecodesAbsent(t *testing.T) {
	for _, c := range allCodecs {
		raw, err := c.Marshal(&testStatusRes{Configured: true})
		if err != nil {
			t.Fatal(err)
		}
		got := testStatusRes{User: &testUser{Username: "stale"}}
		if err := Project(c, raw, &got); err != nil {
			t.Fatal(err)
		}
		if got.User != nil {
			t.Fatalf("%s: expect explicit null to clear user, got %+v", c.Type(), got.User)
		}
		if !got.Configured || got.Registered || got.LoggedIn {
			t.Fatalf("%s: unexpected booleans: %+v", c.Type(), got)
		}
	}
}

func TestProjectIgnoresUnknownFields(t *testing.T) {
	for _, c := range allCodecs {
		raw, err := c.Marshal(map[string]any{
			"sessionID":  5,
			"text":       "hi",
			"futureFlag": true,
			"extra":      map[string]any{"nested": []any{1, "two"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		var got testPromptArg
		if err := Project(c, raw, &got); err != nil {
			t.Fatalf("%s: unknown fields must be ignored, got %v", c.Type(), err)
		}
		if got.SessionID != 5 || got.Text != "hi" {
			t.Fatalf("%s: unexpected projection: %+v", c.Type(), got)
		}
	}
}

func TestProjectMissingRequiredField(t *testing.T) {
	for _, c := range allCodecs {
		raw, err := c.Marshal(map[string]any{"text": "no session"})
		if err != nil {
			t.Fatal(err)
		}
		var got testPromptArg
		err = Project(c, raw, &got)
		if !errors.Is(err, ErrMissingField) {
			t.Fatalf("%s: expect ErrMissingField, got %v", c.Type(), err)
		}

		if err := Project(c, nil, &got); !errors.Is(err, ErrMissingField) {
			t.Fatalf("%s: empty params must miss the required field, got %v", c.Type(), err)
		}
	}
}

func TestProjectTypeMismatch(t *testing.T) {
	for _, c := range allCodecs {
		raw, err := c.Marshal(map[string]any{"sessionID": "not a number"})
		if err != nil {
			t.Fatal(err)
		}
		var got testPromptArg
		if err := Project(c, raw, &got); !errors.Is(err, ErrDecode) {
			t.Fatalf("%s: expect ErrDecode, got %v", c.Type(), err)
		}
	}
}

func TestTree(t *testing.T) {
	for _, c := range allCodecs {
		raw, err := c.Marshal(&testPromptArg{SessionID: 1, Text: "x"})
		if err != nil {
			t.Fatal(err)
		}
		tree, err := Tree(c, raw)
		if err != nil {
			t.Fatal(err)
		}
		m, ok := tree.(map[string]any)
		if !ok {
			t.Fatalf("%s: expect string-keyed map, got %T", c.Type(), tree)
		}
		if m["text"] != "x" {
			t.Fatalf("%s: unexpected tree: %v", c.Type(), m)
		}
	}
}

func TestDecodeFrameMalformedBody(t *testing.T) {
	var buf bytes.Buffer
	header := &protocol.Header{CodecType: protocol.CodecTypeJSON, Kind: protocol.KindCall, CallID: 77}
	if err := protocol.Encode(&buf, header, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	_, err := DecodeFrame(buf.Bytes())
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expect *DecodeError, got %v", err)
	}
	if de.CallID != 77 || de.Kind != protocol.KindCall {
		t.Fatalf("decode error lost the header: %+v", de)
	}
	if !errors.Is(err, ErrDecode) {
		t.Fatal("expect DecodeError to match ErrDecode")
	}
}

func TestDecodeFrameMissingMethod(t *testing.T) {
	body, err := GetCodec(CodecTypeCBOR).EncodeCallBody("keybase.1.ui", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := protocol.Encode(&buf, &protocol.Header{CodecType: protocol.CodecTypeCBOR, Kind: protocol.KindCall, CallID: 5}, body); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFrame(buf.Bytes()); !errors.Is(err, ErrDecode) {
		t.Fatalf("expect decode error for call without method, got %v", err)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	b, err := NewWire(GetCodec(CodecTypeJSON)).EncodeCall(1, "p", "m", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFrame(b[:len(b)-2]); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expect ErrMalformedFrame, got %v", err)
	}
	if _, err := DecodeFrame(b[:5]); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expect ErrMalformedFrame for short header, got %v", err)
	}
}

func TestCBORLargeValues(t *testing.T) {
	c := GetCodec(CodecTypeCBOR)

	big := make([]int, 200000)
	raw, err := c.Marshal(big)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame, err := EncodeResponseFrame(c, &message.Response{ID: 9, CodecType: byte(CodecTypeCBOR), Result: raw})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	f, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	var out []int
	if err := c.Unmarshal(f.Response.Result, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != len(big) {
		t.Fatalf("expect %d elements, got %d", len(big), len(out))
	}

	var deep any = 0
	for i := 0; i < cborMaxNestedLevels; i++ {
		deep = []any{deep}
	}
	if _, err := c.Marshal(deep); err == nil {
		t.Fatal("expect nesting past the decode limit to be refused")
	}
}
