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

package kernel

import (
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/kernel/auth"
)

// contextID is the kernel package's type for context.Context.Value keys.
type contextID int

const (
	// CtxTask is a Context.Value key for a Task.
	CtxTask contextID = iota
)

// taskContext makes a Task's state visible through a Context.
type taskContext struct {
	context.Context
	t *Task
}

// Value implements context.Context.Value.
func (tc *taskContext) Value(key any) any {
	switch key {
	case CtxTask:
		return tc.t
	case auth.CtxCredentials:
		return tc.t.Credentials()
	default:
		return tc.Context.Value(key)
	}
}

// ContextWithTask returns a copy of ctx on whose behalf t runs. Credentials
// read from the returned Context track t's current credentials.
func ContextWithTask(ctx context.Context, t *Task) context.Context {
	return &taskContext{Context: ctx, t: t}
}

// TaskFromContext returns the Task associated with ctx, or nil if there is
// none.
func TaskFromContext(ctx context.Context) *Task {
	if v := ctx.Value(CtxTask); v != nil {
		return v.(*Task)
	}
	return nil
}
