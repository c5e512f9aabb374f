package registry

import (
	"context"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Receiver builds a Protocol from the exported methods of rcvr (a pointer to a struct).
//
// Methods must have one of the shapes
//
//	M(ctx context.Context, arg *A) (R, error)
//	M(ctx context.Context, arg *A) error
//
// and are registered under their name with the first letter lowered ("GetCurrentStatus" → "getCurrentStatus").
// Other exported methods are skipped.
func Receiver(protocol string, rcvr any) (Protocol, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return Protocol{}, fmt.Errorf("registry: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return Protocol{}, fmt.Errorf("registry: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)

	p := Protocol{Name: protocol, Methods: make(map[string]Handler)}
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 3 || mt.In(1) != contextType || mt.In(2).Kind() != reflect.Ptr {
			continue
		}
		switch {
		case mt.NumOut() == 2 && mt.Out(1) == errorType:
		case mt.NumOut() == 1 && mt.Out(0) == errorType:
		default:
			continue
		}
		p.Methods[lowerFirst(method.Name)] = reflectHandler(val, method)
	}
	if len(p.Methods) == 0 {
		return Protocol{}, fmt.Errorf("registry: %s has no methods of the form M(context.Context, *A) (R, error)", typ)
	}
	return p, nil
}

func reflectHandler(rcvr reflect.Value, method reflect.Method) Handler {
	argType := method.Type.In(2).Elem()
	hasResult := method.Type.NumOut() == 2
	return func(ctx context.Context, params Params) (any, error) {
		argv := reflect.New(argType)
		if err := params.Decode(argv.Interface()); err != nil {
			return nil, err
		}
		out := method.Func.Call([]reflect.Value{rcvr, reflect.ValueOf(ctx), argv})
		errv := out[len(out)-1]
		if !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		if !hasResult {
			return nil, nil
		}
		return out[0].Interface(), nil
	}
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}
