package concurrency

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo runs fn in a goroutine and recovers any panic, logging the stack
// and forwarding the panic value to onPanic when one is given. A stray panic
// in a dispatch or consumer goroutine must not take the daemon down.
func SafeGo(fn func(), onPanic func(interface{})) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			slog.Error("Panic recovered in goroutine", "panic", r, "stack", string(debug.Stack()))
			if onPanic != nil {
				onPanic(r)
			}
		}()
		fn()
	}()
}
