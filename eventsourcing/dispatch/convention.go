package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// autogeneratedFile is the source file the runtime reports for compiler generated wrappers,
// which is how methods promoted from embedded fields are implemented.
const autogeneratedFile = "<autogenerated>"

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// conventionHandler is a resolved method of the receiver type.
// Supported shapes are WhenX(E), WhenX(E) error, WhenX(context.Context, E) and WhenX(context.Context, E) error.
type conventionHandler struct {
	name         string
	fn           reflect.Value
	withContext  bool
	returnsError bool
}

func (h *conventionHandler) invoke(ctx context.Context, receiver any, event any) error {
	args := make([]reflect.Value, 0, 3)
	args = append(args, reflect.ValueOf(receiver))

	if h.withContext {
		args = append(args, reflect.ValueOf(&ctx).Elem())
	}

	args = append(args, reflect.ValueOf(event))

	out := h.fn.Call(args)
	if h.returnsError && !out[0].IsNil() {
		return out[0].Interface().(error)
	}

	return nil
}

// findConventionHandler searches the method set of receiverType for a handler of eventType.
//
// Only exported methods are part of a reflected method set, so unexported methods are never eligible.
// Methods declared closer to the receiver win over methods promoted from embedded types.
// Two candidates at the same embedding depth are ambiguous.
// A nil handler without error means the receiver has no handler for eventType.
func findConventionHandler(receiverType reflect.Type, prefix string, eventType reflect.Type) (*conventionHandler, error) {
	var candidates []*conventionHandler
	bestDepth := -1

	for i := 0; i < receiverType.NumMethod(); i++ {
		method := receiverType.Method(i)
		if !strings.HasPrefix(method.Name, prefix) {
			continue
		}

		withContext, returnsError, ok := matchSignature(method.Type, eventType)
		if !ok {
			continue
		}

		candidate := &conventionHandler{
			name:         method.Name,
			fn:           method.Func,
			withContext:  withContext,
			returnsError: returnsError,
		}

		depth := embeddingDepth(receiverType, method.Name)

		switch {
		case bestDepth == -1 || depth < bestDepth:
			bestDepth = depth
			candidates = []*conventionHandler{candidate}
		case depth == bestDepth:
			candidates = append(candidates, candidate)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, 0, len(candidates))
		for _, c := range candidates {
			names = append(names, c.name)
		}

		return nil, errors.Join(
			ErrAmbiguousHandler,
			fmt.Errorf("event type %s matches %s on %s", eventType, strings.Join(names, ", "), receiverType),
		)
	}
}

// matchSignature checks a method type (receiver included) against the supported handler shapes.
func matchSignature(methodType reflect.Type, eventType reflect.Type) (withContext bool, returnsError bool, ok bool) {
	if methodType.IsVariadic() {
		return false, false, false
	}

	switch methodType.NumIn() {
	case 2:
		if methodType.In(1) != eventType {
			return false, false, false
		}
	case 3:
		if methodType.In(1) != contextType || methodType.In(2) != eventType {
			return false, false, false
		}
		withContext = true
	default:
		return false, false, false
	}

	switch methodType.NumOut() {
	case 0:
	case 1:
		if methodType.Out(0) != errorType {
			return false, false, false
		}
		returnsError = true
	default:
		return false, false, false
	}

	return withContext, returnsError, true
}

// embeddingDepth returns the depth of the type that declares the method: 0 for the receiver type itself,
// also when it shadows a method of the same name on an embedded type, otherwise the depth of the
// shallowest embedded type that declares it.
func embeddingDepth(t reflect.Type, name string) int {
	return depthOf(t, name, 0, make(map[reflect.Type]bool))
}

func depthOf(t reflect.Type, name string, depth int, seen map[reflect.Type]bool) int {
	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}

	if base.Kind() != reflect.Struct || seen[base] {
		return depth
	}

	seen[base] = true

	if declares(base, name) {
		return depth
	}

	shallowest := -1

	for i := 0; i < base.NumField(); i++ {
		field := base.Field(i)
		if !field.Anonymous || !hasMethod(field.Type, name) {
			continue
		}

		if d := depthOf(field.Type, name, depth+1, seen); shallowest == -1 || d < shallowest {
			shallowest = d
		}
	}

	if shallowest == -1 {
		return depth
	}

	return shallowest
}

// declares reports whether the struct type t or *t declares the method itself instead of promoting it.
func declares(t reflect.Type, name string) bool {
	for _, candidate := range []reflect.Type{t, reflect.PointerTo(t)} {
		method, ok := candidate.MethodByName(name)
		if ok && !isWrapper(method.Func) {
			return true
		}
	}

	return false
}

// isWrapper reports whether fn is compiler generated. Inlined calls are unwound to the outermost frame,
// which is the wrapper itself.
func isWrapper(fn reflect.Value) bool {
	frames := runtime.CallersFrames([]uintptr{fn.Pointer()})

	var outermost runtime.Frame
	for {
		frame, more := frames.Next()
		outermost = frame

		if !more {
			break
		}
	}

	return outermost.File == "" || outermost.File == autogeneratedFile
}

func hasMethod(t reflect.Type, name string) bool {
	if _, ok := t.MethodByName(name); ok {
		return true
	}

	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
		_, ok := reflect.PointerTo(t).MethodByName(name)
		return ok
	}

	return false
}
