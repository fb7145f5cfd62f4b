// Copyright 2020 The gVisor Authors.
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

package refs

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/mvfs/vnlayer/pkg/log"
	"github.com/mvfs/vnlayer/pkg/sync"
	"go.uber.org/multierr"
)

// CheckedObject represents a reference-counted object with an informative
// leak detection message.
type CheckedObject interface {
	// RefType is the type of the reference-counted object.
	RefType() string

	// LeakMessage supplies a warning to be printed upon leak detection.
	LeakMessage() string

	// LogRefs indicates whether reference-related events should be logged.
	LogRefs() bool
}

// registry tracks live objects while leak checking is enabled. The value is
// the registering stack under LeaksLogTraces, nil otherwise.
type registry struct {
	mu   sync.Mutex
	live map[CheckedObject][]uintptr
}

var objects = registry{live: make(map[CheckedObject][]uintptr)}

func (r *registry) add(obj CheckedObject, stack []uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[obj]; ok {
		panic(fmt.Sprintf("%s %p registered twice for leak checking", obj.RefType(), obj))
	}
	r.live[obj] = stack
}

// remove returns false if obj was not registered, which happens for objects
// created before leak checking was enabled.
func (r *registry) remove(obj CheckedObject) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[obj]; !ok {
		return false
	}
	delete(r.live, obj)
	return true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// leakGroup is a set of live objects registered from the same stack.
type leakGroup struct {
	first CheckedObject
	count int
	stack []uintptr
}

// groups returns the live objects grouped by registering stack, largest
// group first. Objects registered without a stack are each their own group.
func (r *registry) groups() []leakGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	var gs []leakGroup
	byStack := make(map[stackKey]int)
	for obj, stack := range r.live {
		if stack != nil {
			k := stackKeyOf(stack)
			if i, ok := byStack[k]; ok {
				gs[i].count++
				continue
			}
			byStack[k] = len(gs)
		}
		gs = append(gs, leakGroup{first: obj, count: 1, stack: stack})
	}
	slices.SortFunc(gs, func(a, b leakGroup) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.first.RefType(), b.first.RefType())
	})
	return gs
}

// LeakCheckEnabled returns whether leak checking is enabled. The following
// functions should only be called if it returns true.
func LeakCheckEnabled() bool {
	return GetLeakMode() != NoLeakChecking
}

// Register adds obj to the live object registry.
func Register(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	var stack []uintptr
	if GetLeakMode() == LeaksLogTraces {
		stack = RecordStack()
	}
	objects.add(obj, stack)
	if obj.LogRefs() {
		logEvent(obj, "registered")
	}
}

// Unregister removes obj from the live object registry.
func Unregister(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	if objects.remove(obj) && obj.LogRefs() {
		logEvent(obj, "unregistered")
	}
}

// LiveObjects returns the number of registered objects that have not been
// destroyed.
func LiveObjects() int {
	return objects.len()
}

// LogIncRef logs a reference increment.
func LogIncRef(obj CheckedObject, refs int64) {
	if LeakCheckEnabled() && obj.LogRefs() {
		logEvent(obj, fmt.Sprintf("IncRef to %d", refs))
	}
}

// LogTryIncRef logs a successful TryIncRef call.
func LogTryIncRef(obj CheckedObject, refs int64) {
	if LeakCheckEnabled() && obj.LogRefs() {
		logEvent(obj, fmt.Sprintf("TryIncRef to %d", refs))
	}
}

// LogDecRef logs a reference decrement.
func LogDecRef(obj CheckedObject, refs int64) {
	if LeakCheckEnabled() && obj.LogRefs() {
		logEvent(obj, fmt.Sprintf("DecRef to %d", refs))
	}
}

// logEvent logs a message for the given reference-counted object.
//
// obj.LogRefs() should be checked before calling logEvent, in order to avoid
// calling any text processing needed to evaluate msg.
func logEvent(obj CheckedObject, msg string) {
	log.Infof("[%s %p] %s:\n%s", obj.RefType(), obj, msg, FormatStack(RecordStack()))
}

// CheckLeaks returns an error for each group of live objects, or nil if
// there are none or leak checking is disabled. Objects registered from the
// same stack are reported together.
func CheckLeaks() error {
	if !LeakCheckEnabled() {
		return nil
	}
	var err error
	for _, g := range objects.groups() {
		if g.stack == nil {
			err = multierr.Append(err, fmt.Errorf("leaked %s", g.first.LeakMessage()))
			continue
		}
		err = multierr.Append(err, fmt.Errorf("leaked %d objects (first: %s) allocated at:\n%s",
			g.count, g.first.LeakMessage(), FormatStack(g.stack)))
	}
	return err
}

// DoRepeatedLeakCheck reports every live object: it panics in LeaksPanic
// mode and logs a warning otherwise. It should be called when no
// reference-counted objects are reachable anymore, at which point anything
// still registered is a leak.
func DoRepeatedLeakCheck() {
	err := CheckLeaks()
	if err == nil {
		return
	}
	leaks := multierr.Errors(err)
	msg := fmt.Sprintf("Leak checking detected %d leaks:\n", len(leaks))
	for _, l := range leaks {
		msg += l.Error() + "\n"
	}
	if GetLeakMode() == LeaksPanic {
		panic(msg)
	}
	log.Warningf("%s", msg)
}
