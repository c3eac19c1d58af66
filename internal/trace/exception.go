package trace

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

const maxStackDepth = 64

// NewException converts err and its wrapped causes into an Exception,
// interning type names in symbols. The stack is left empty.
func NewException(symbols *SymbolRegistry, err error) *Exception {
	if err == nil {
		return nil
	}
	ex := &Exception{
		ClassID: symbols.SymbolID(typeName(err)),
		Message: err.Error(),
	}
	if cause := unwrap(err); cause != nil {
		ex.Cause = NewException(symbols, cause)
	}
	return ex
}

// CaptureStack records the calling goroutine's stack, skipping skip frames
// above the caller. Function names are split into class and method at the
// last dot outside of a receiver.
func CaptureStack(symbols *SymbolRegistry, skip int) []StackFrame {
	pc := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pc[:n])
	stack := make([]StackFrame, 0, n)
	for {
		f, more := frames.Next()
		class, method := splitFuncName(f.Function)
		stack = append(stack, StackFrame{
			ClassID:  symbols.SymbolID(class),
			MethodID: symbols.SymbolID(method),
			FileID:   symbols.SymbolID(f.File),
			Line:     f.Line,
		})
		if !more {
			break
		}
	}
	return stack
}

func splitFuncName(fn string) (class, method string) {
	slash := strings.LastIndexByte(fn, '/')
	dot := strings.LastIndexByte(fn, '.')
	if dot <= slash {
		return fn, "?"
	}
	return fn[:dot], fn[dot+1:]
}

func typeName(err error) string { return fmt.Sprintf("%T", err) }

// unwrap follows single-error wrapping and the first error of a join.
func unwrap(err error) error {
	if cause := errors.Unwrap(err); cause != nil {
		return cause
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := j.Unwrap(); len(errs) > 0 {
			return errs[0]
		}
	}
	return nil
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
