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

package cleanup

import (
	"slices"
	"testing"
)

// acquire takes steps references in order, recording each one dropped in
// log, and gives up at step fail unless fail is 0.
func acquire(log *[]int, steps, fail int) bool {
	cu := Make(func() { *log = append(*log, 0) })
	defer cu.Clean()
	for i := 1; i < steps; i++ {
		if i == fail {
			return false
		}
		cu.Add(func() { *log = append(*log, i) })
	}
	cu.Release()
	return true
}

func TestCleanup(t *testing.T) {
	for _, tc := range []struct {
		name        string
		steps, fail int
		wantDropped []int
		wantOK      bool
	}{
		{name: "success keeps everything", steps: 3, wantOK: true},
		{name: "first step fails", steps: 3, fail: 1, wantDropped: []int{0}},
		{name: "late failure unwinds in reverse", steps: 4, fail: 3, wantDropped: []int{2, 1, 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var dropped []int
			if ok := acquire(&dropped, tc.steps, tc.fail); ok != tc.wantOK {
				t.Errorf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !slices.Equal(dropped, tc.wantDropped) {
				t.Errorf("dropped %v, want %v", dropped, tc.wantDropped)
			}
		})
	}
}

func TestCleanRunsOnce(t *testing.T) {
	n := 0
	cu := Make(func() { n++ })
	cu.Clean()
	cu.Clean()
	if n != 1 {
		t.Errorf("cleaner ran %d times, want 1", n)
	}
}

func TestReleaseReturnsCleaners(t *testing.T) {
	var order []string
	cu := Make(func() { order = append(order, "cwd") })
	cu.Add(func() { order = append(order, "root") })
	undo := cu.Release()
	cu.Clean()
	if len(order) != 0 {
		t.Fatalf("Clean after Release ran %v", order)
	}
	undo()
	if want := []string{"root", "cwd"}; !slices.Equal(order, want) {
		t.Errorf("released cleaners ran %v, want %v", order, want)
	}
}
