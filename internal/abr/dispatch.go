package abr

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
)

// ErrCallbackPanic wraps a panic recovered from a consumer callback.
var ErrCallbackPanic = errors.New("callback panicked")

// Result records the outcome of one callback invocation.
type Result struct {
	Callback string
	Err      error
}

// OK reports whether the callback returned normally.
func (r Result) OK() bool { return r.Err == nil }

// dispatch runs fn and converts a panic into a failed Result so that a
// misbehaving consumer cannot unwind into the engine.
func dispatch(callback any, fn func()) (res Result) {
	res.Callback = callbackName(callback)
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%w: %v", ErrCallbackPanic, p)
		}
	}()
	fn()
	return res
}

func callbackName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("%T", fn)
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return "unknown"
}
