package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	// ErrDecode marks a value that could not be projected onto its typed record.
	ErrDecode = errors.New("decode failure")
	// ErrMissingField marks a record that lacks a field tagged `rpc:"required"`.
	ErrMissingField = errors.New("missing required field")
)

// Project decodes a raw value tree onto the typed record out (a non-nil pointer).
//
// Fields are matched by name, unknown fields are ignored, and a nil or absent value leaves pointer fields nil.
// An empty raw value is treated as an empty record. Struct fields tagged `rpc:"required"` must be present
// and non-null, otherwise the returned error wraps ErrMissingField.
func Project(c Codec, raw []byte, out any) error {
	if len(raw) > 0 {
		if err := c.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}

	required := requiredFields(reflect.TypeOf(out))
	if len(required) == 0 {
		return nil
	}

	var tree map[string]any
	if len(raw) > 0 {
		if err := c.Unmarshal(raw, &tree); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	for _, name := range required {
		if v, ok := tree[name]; !ok || v == nil {
			return fmt.Errorf("%w: %q", ErrMissingField, name)
		}
	}
	return nil
}

// Tree decodes a raw value into a generic tree (map[string]any, []any, primitives, []byte).
func Tree(c Codec, raw []byte) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := c.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

var requiredCache sync.Map // reflect.Type → []string

func requiredFields(t reflect.Type) []string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	if cached, ok := requiredCache.Load(t); ok {
		return cached.([]string)
	}

	var names []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("rpc") != "required" {
			continue
		}
		names = append(names, wireName(f))
	}
	requiredCache.Store(t, names)
	return names
}

// wireName is the key a field is encoded under: the json tag name, or the Go name.
func wireName(f reflect.StructField) string {
	tag := f.Tag.Get("cbor")
	if tag == "" {
		tag = f.Tag.Get("json")
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}
