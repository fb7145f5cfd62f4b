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

package refs

import (
	"strings"
	"testing"

	"go.uber.org/multierr"
)

type testObject struct {
	Refs[testObject]
}

func withLeakMode(t *testing.T, mode LeakMode) {
	old := GetLeakMode()
	SetLeakMode(mode)
	t.Cleanup(func() { SetLeakMode(old) })
}

func TestRefsDestructor(t *testing.T) {
	var obj testObject
	obj.InitRefs()
	obj.IncRef()
	if got := obj.ReadRefs(); got != 2 {
		t.Fatalf("ReadRefs: got %d, want 2", got)
	}
	destroyed := 0
	obj.DecRef(func() { destroyed++ })
	if destroyed != 0 {
		t.Fatalf("destructor called with a reference still held")
	}
	obj.DecRef(func() { destroyed++ })
	if destroyed != 1 {
		t.Fatalf("destructor called %d times, want 1", destroyed)
	}
	if obj.TryIncRef() {
		t.Errorf("TryIncRef succeeded on a destroyed object")
	}
}

func TestRefsDecRefBelowZeroPanics(t *testing.T) {
	var obj testObject
	obj.InitRefs()
	obj.DecRef(nil)
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef on a destroyed object did not panic")
		}
	}()
	obj.DecRef(nil)
}

func TestRefType(t *testing.T) {
	var obj testObject
	if got, want := obj.RefType(), "refs.testObject"; got != want {
		t.Errorf("RefType: got %q, want %q", got, want)
	}
}

func TestLeakCheck(t *testing.T) {
	withLeakMode(t, LeaksPanic)

	before := LiveObjects()
	leaked := &testObject{}
	leaked.InitRefs()
	if got := LiveObjects(); got != before+1 {
		t.Fatalf("LiveObjects: got %d, want %d", got, before+1)
	}

	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatalf("DoRepeatedLeakCheck did not panic with a live object")
			}
			if !strings.Contains(r.(string), "refs.testObject") {
				t.Errorf("leak report %q does not name the leaked type", r)
			}
		}()
		DoRepeatedLeakCheck()
	}()

	leaked.DecRef(nil)
	if got := LiveObjects(); got != before {
		t.Errorf("LiveObjects after release: got %d, want %d", got, before)
	}
}

func newLeaks(n int) []*testObject {
	objs := make([]*testObject, n)
	for i := range objs {
		objs[i] = &testObject{}
		objs[i].InitRefs()
	}
	return objs
}

func TestCheckLeaksGroupsByStack(t *testing.T) {
	withLeakMode(t, LeaksLogTraces)
	if err := CheckLeaks(); err != nil {
		t.Fatalf("CheckLeaks before any allocation: %v", err)
	}

	// Three objects from one stack, one from another.
	objs := newLeaks(3)
	objs = append(objs, &testObject{})
	objs[3].InitRefs()

	errs := multierr.Errors(CheckLeaks())
	if len(errs) != 2 {
		t.Fatalf("CheckLeaks reported %d groups, want 2: %v", len(errs), errs)
	}
	if msg := errs[0].Error(); !strings.HasPrefix(msg, "leaked 3 objects") || !strings.Contains(msg, "refs_test.go") {
		t.Errorf("largest group first with its stack, got %q", msg)
	}

	for _, o := range objs {
		o.DecRef(nil)
	}
	if err := CheckLeaks(); err != nil {
		t.Errorf("CheckLeaks after release: %v", err)
	}
}

func TestCheckLeaksDisabled(t *testing.T) {
	withLeakMode(t, NoLeakChecking)
	leaked := &testObject{}
	leaked.InitRefs()
	if err := CheckLeaks(); err != nil {
		t.Errorf("CheckLeaks with checking disabled: %v", err)
	}
	DoRepeatedLeakCheck()
}

func TestLeakModeFlag(t *testing.T) {
	for _, s := range []string{"disabled", "log-names", "log-traces", "panic"} {
		var m LeakMode
		if err := m.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
		if got := m.String(); got != s {
			t.Errorf("String(): got %q, want %q", got, s)
		}
	}
	var m LeakMode
	if err := m.UnmarshalText([]byte("bogus")); err == nil {
		t.Errorf("UnmarshalText(bogus) succeeded")
	}
}
