package message

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusError(t *testing.T) {
	st := NewStatus(204, "BAD_LOGIN_PASSWORD", "bad password", StringKVPair{Key: "attempt", Value: "2"})
	want := "BAD_LOGIN_PASSWORD: bad password attempt=2"
	if st.Error() != want {
		t.Fatalf("expect %q, got %q", want, st.Error())
	}

	v, ok := st.Field("attempt")
	if !ok || v != "2" {
		t.Fatalf("expect attempt=2, got %q (%v)", v, ok)
	}
	if _, ok := st.Field("missing"); ok {
		t.Fatal("expect missing field lookup to fail")
	}
}

func TestStatusWithFieldCopies(t *testing.T) {
	base := NewStatus(CodeGeneric, "GENERIC", "x")
	annotated := base.WithField("k", "v")

	if len(base.Fields) != 0 {
		t.Fatalf("WithField mutated the receiver: %v", base.Fields)
	}
	if len(annotated.Fields) != 1 || annotated.Fields[0].Key != "k" {
		t.Fatalf("unexpected fields: %v", annotated.Fields)
	}
}

func TestStatusFromError(t *testing.T) {
	if StatusFromError(nil) != nil {
		t.Fatal("nil error must map to nil status")
	}

	plain := StatusFromError(errors.New("disk full"))
	if plain.Code != CodeGeneric || plain.Desc != "disk full" {
		t.Fatalf("unexpected generic status: %+v", plain)
	}

	orig := BadSession(7)
	wrapped := fmt.Errorf("prompt failed: %w", orig)
	if got := StatusFromError(wrapped); got != orig {
		t.Fatalf("expect wrapped status to pass through verbatim, got %+v", got)
	}
	if !HasCode(wrapped, CodeBadSession) {
		t.Fatal("expect HasCode to see through wrapping")
	}
	if v, _ := orig.Field("sessionID"); v != "7" {
		t.Fatalf("expect sessionID annotation 7, got %q", v)
	}
}

func TestMethodNotFoundAnnotations(t *testing.T) {
	st := MethodNotFound("keybase.1.config", "nope")
	if st.Code != CodeMethodNotFound {
		t.Fatalf("expect code %d, got %d", CodeMethodNotFound, st.Code)
	}
	if p, _ := st.Field("protocol"); p != "keybase.1.config" {
		t.Fatalf("expect protocol annotation, got %q", p)
	}
	if m, _ := st.Field("method"); m != "nope" {
		t.Fatalf("expect method annotation, got %q", m)
	}
}
