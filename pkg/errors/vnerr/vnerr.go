// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vnerr contains the errors returned and raised by the cleartext
// vnode layer, exported as *errors.Error pointers so they can be compared
// with errors.Is and mapped to host errnos by the filesystem engine.
//
// Failures come in two kinds. Recoverable failures (resource exhaustion, a
// missing alias, a missing filesystem context) are returned to the caller.
// Fatal failures (illegal access through a trap table, state corruption)
// indicate a broken invariant and are raised with Raise, which never returns.
package vnerr

import (
	goerrors "errors"
	"fmt"

	"github.com/mvfs/vnlayer/pkg/errors"
	"github.com/mvfs/vnlayer/pkg/log"
	"golang.org/x/sys/unix"
)

// Recoverable errors.
var (
	// ErrResourceExhaustion is returned when an allocation in the backing
	// store or the credential builder fails.
	ErrResourceExhaustion = errors.New(unix.ENOMEM, "out of memory")

	// ErrNoBackingStore is returned when a shadow object is requested before
	// a backing store has been registered. It is a configuration error that
	// callers treat as resource exhaustion.
	ErrNoBackingStore = errors.New(unix.ENXIO, "no backing store registered for cleartext vnodes")

	// ErrNoAlias is returned when no directory entry alias satisfies an alias
	// query. It is an expected outcome.
	ErrNoAlias = errors.New(unix.ENOENT, "no alias found")

	// ErrNoFSContext is returned when the calling task has no filesystem
	// context to snapshot.
	ErrNoFSContext = errors.New(unix.ESRCH, "task has no filesystem context")
)

// Fatal errors.
var (
	// ErrIllegalAccess is raised when a shadow object is addressed directly
	// through one of its operation tables instead of through its vnode.
	ErrIllegalAccess = errors.New(unix.EFAULT, "cleartext accessed outside its vnode")

	// ErrStateCorruption is raised when a sanity tag does not match or a
	// single-use token is consumed twice.
	ErrStateCorruption = errors.New(unix.EUCLEAN, "vnode layer state corrupted")
)

// IsResourceExhaustion returns true if err reports a failed allocation,
// including the unconfigured backing store case.
func IsResourceExhaustion(err error) bool {
	return goerrors.Is(err, ErrResourceExhaustion) || goerrors.Is(err, ErrNoBackingStore)
}

// FatalError is the panic value used by Raise.
type FatalError struct {
	// Err is ErrIllegalAccess or ErrStateCorruption.
	Err *errors.Error

	// Detail describes the failed check.
	Detail string
}

// Error implements error.Error.
func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
}

// Unwrap returns the underlying sentinel.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Raise logs a traceback and panics with a *FatalError wrapping err.
func Raise(err *errors.Error, format string, v ...any) {
	fe := &FatalError{Err: err, Detail: fmt.Sprintf(format, v...)}
	log.Traceback("%v", fe)
	panic(fe)
}

// FatalFromPanic extracts the *FatalError from a recovered panic value, or
// returns nil if r is not one.
func FatalFromPanic(r any) *FatalError {
	fe, _ := r.(*FatalError)
	return fe
}
