// Package script implements C7, the decoder script host: a sandboxed
// JavaScript evaluator exposing one callable, parse(payload) -> string[],
// using goja (github.com/dop251/goja) configured with no filesystem, network,
// or process bindings.
package script

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// SoftDeadline is the warn-only bound spec.md §4.7 places on one parse
// call; exceeding it never cancels the call.
const SoftDeadline = 20 * time.Millisecond

var (
	// ErrCompile is returned when the decoder source fails to compile or
	// does not declare a parse function.
	ErrCompile = errors.New("script: compilation failed")
	// ErrRuntime is returned when parse throws or returns a non-array.
	ErrRuntime = errors.New("script: runtime error")
)

// Host wraps a single-threaded goja runtime running one decoder's parse
// function. A Host must not be shared across goroutines; the builder (C6)
// owns exactly one per project.
type Host struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	parse   goja.Callable
	onSlow  func(time.Duration)
}

// Compile parses and evaluates source, resolving the top-level `parse`
// function. Compilation errors are meant to be surfaced at Connect time,
// never per frame, per spec.md §4.7.
func Compile(source string) (*Host, error) {
	vm := goja.New()
	// No filesystem, network, or process bindings are registered on this
	// runtime: the script can only touch what it defines itself plus the
	// ECMAScript built-ins goja ships by default.
	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	fnVal := vm.Get("parse")
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("%w: no parse(payload) function declared", ErrCompile)
	}
	return &Host{vm: vm, parse: fn}, nil
}

// OnSlow registers a callback invoked (from the calling goroutine, after
// the call returns) whenever a Parse call exceeded SoftDeadline.
func (h *Host) OnSlow(fn func(time.Duration)) { h.onSlow = fn }

// Parse runs parse(payload) and returns the resulting channel list.
// Runtime exceptions are caught and returned as ErrRuntime: "this frame
// failed to decode", never propagated as a panic.
func (h *Host) Parse(payload string) (channels []string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRuntime, r)
		}
		if elapsed := time.Since(start); elapsed > SoftDeadline && h.onSlow != nil {
			h.onSlow(elapsed)
		}
	}()

	result, callErr := h.parse(goja.Undefined(), h.vm.ToValue(payload))
	if callErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, callErr)
	}

	exported := result.Export()
	raw, ok := exported.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: parse() did not return an array", ErrRuntime)
	}
	channels = make([]string, len(raw))
	for i, v := range raw {
		channels[i] = fmt.Sprintf("%v", v)
	}
	return channels, nil
}
