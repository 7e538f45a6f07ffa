// Package once provides a one-time initializer that caches its outcome.
//
// Unlike sync.Once, the error of the single execution is remembered and
// returned to every later caller: a failed load of an immutable file will
// fail the same way forever, so retrying per caller is pointless.
package once

import (
	"sync"
	"sync/atomic"
)

// Flag runs a function at most once and caches its result. Concurrent
// callers racing into Do block until the single winner finishes and then all
// observe the same error value. The zero value is ready to use.
type Flag struct {
	once    sync.Once
	err     error
	invoked atomic.Bool
}

// Do invokes fn if and only if no call has completed before. Every call
// returns the error of the single execution.
func (f *Flag) Do(fn func() error) error {
	f.once.Do(func() {
		f.err = fn()
		f.invoked.Store(true)
	})
	return f.err
}

// Invoked reports whether the one-time execution has completed.
func (f *Flag) Invoked() bool {
	return f.invoked.Load()
}
