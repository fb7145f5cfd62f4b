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

// Package kernel models the tasks on whose behalf the vnode layer runs: each
// task carries credentials and a filesystem context that the layer may
// temporarily replace.
package kernel

import (
	"fmt"
	"sync/atomic"

	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/kernel/auth"
	"github.com/mvfs/vnlayer/pkg/sync"
)

// TaskOptions configures NewTask.
type TaskOptions struct {
	// Name is used in log messages.
	Name string

	// Credentials are the task's initial credentials. If nil, the task runs
	// with anonymous credentials.
	Credentials *auth.Credentials

	// FSContext is the task's filesystem context. NewTask takes ownership of
	// the caller's reference. It may be nil.
	FSContext *FSContext
}

// Task is a thread of execution issuing file operations.
type Task struct {
	// name is immutable.
	name string

	// creds is the task's credentials. The pointed-to Credentials are
	// immutable; replacing them is an atomic store.
	creds auth.AtomicPtrCredentials

	// mu serializes replacement of fsContext.
	mu sync.Mutex

	// fsContext is the task's filesystem context. Readers may load it
	// without holding mu.
	fsContext atomic.Pointer[FSContext]
}

// NewTask returns a new Task.
func NewTask(opts TaskOptions) *Task {
	t := &Task{name: opts.Name}
	creds := opts.Credentials
	if creds == nil {
		creds = auth.NewAnonymousCredentials()
	}
	t.creds.Store(creds)
	if opts.FSContext != nil {
		t.fsContext.Store(opts.FSContext)
	}
	return t
}

// Name returns t's name.
func (t *Task) Name() string {
	return t.name
}

// Credentials returns t's current credentials. The returned Credentials must
// not be modified.
func (t *Task) Credentials() *auth.Credentials {
	return t.creds.Load()
}

// PrepareCredentials returns a private copy of t's credentials for the caller
// to modify and install with OverrideCredentials.
func (t *Task) PrepareCredentials() (*auth.Credentials, error) {
	return t.Credentials().Fork(), nil
}

// OverrideCredentials installs creds as t's credentials and returns the
// credentials they replaced.
func (t *Task) OverrideCredentials(creds *auth.Credentials) *auth.Credentials {
	return t.creds.Swap(creds)
}

// RevertCredentials reinstalls credentials returned by OverrideCredentials.
func (t *Task) RevertCredentials(old *auth.Credentials) {
	t.creds.Store(old)
}

// FSContext returns t's filesystem context, or nil if t has none. It does not
// take a reference.
func (t *Task) FSContext() *FSContext {
	return t.fsContext.Load()
}

// SwapFSContext installs fsc as t's filesystem context and returns the one it
// replaced. References move with the pointers: t takes over the caller's
// reference on fsc and the caller receives t's reference on the result.
func (t *Task) SwapFSContext(fsc *FSContext) *FSContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsContext.Swap(fsc)
}

// Release drops t's reference on its filesystem context.
func (t *Task) Release(ctx context.Context) {
	if fsc := t.SwapFSContext(nil); fsc != nil {
		fsc.DecRef(ctx)
	}
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("task %q", t.name)
}
