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

package auth

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mvfs/vnlayer/pkg/context"
)

func TestForkSharesNothing(t *testing.T) {
	c := NewUserCredentials(1000, 100, []KGID{4, 24, 27})
	f := c.Fork()
	if diff := cmp.Diff(c, f); diff != "" {
		t.Fatalf("Fork mismatch (-want +got):\n%s", diff)
	}
	f.ExtraKGIDs[0] = 99
	f.FSKUID = 0
	if c.ExtraKGIDs[0] != 4 || c.FSKUID != 1000 {
		t.Errorf("modifying the fork changed the original: %v", c)
	}
}

func TestIdentityEqual(t *testing.T) {
	base := Identity{UID: 1, GID: 2, Groups: []KGID{3, 4}}
	for _, tc := range []struct {
		name  string
		other Identity
		want  bool
	}{
		{"same", Identity{UID: 1, GID: 2, Groups: []KGID{3, 4}}, true},
		{"uid", Identity{UID: 5, GID: 2, Groups: []KGID{3, 4}}, false},
		{"gid", Identity{UID: 1, GID: 5, Groups: []KGID{3, 4}}, false},
		{"order", Identity{UID: 1, GID: 2, Groups: []KGID{4, 3}}, false},
		{"count", Identity{UID: 1, GID: 2, Groups: []KGID{3}}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := base.Equal(tc.other); got != tc.want {
				t.Errorf("Equal(%+v) = %t, want %t", tc.other, got, tc.want)
			}
		})
	}
	if !(Identity{UID: 1}).Equal(Identity{UID: 1, Groups: []KGID{}}) {
		t.Errorf("nil and empty group sets should compare equal")
	}
}

func TestFSIdentityUsesFilesystemIDs(t *testing.T) {
	c := NewUserCredentials(1000, 100, []KGID{7})
	c.FSKUID = 0
	c.FSKGID = 0
	want := Identity{UID: 0, GID: 0, Groups: []KGID{7}}
	if diff := cmp.Diff(want, c.FSIdentity()); diff != "" {
		t.Errorf("FSIdentity mismatch (-want +got):\n%s", diff)
	}
	if !c.InGroup(7) || !c.InGroup(0) || c.InGroup(100) {
		t.Errorf("InGroup gave unexpected results for %v", c)
	}
}

func TestAtomicPtrCredentials(t *testing.T) {
	var p AtomicPtrCredentials
	if p.Load() != nil {
		t.Fatalf("zero value should load nil")
	}
	a := NewRootCredentials()
	b := NewAnonymousCredentials()
	p.Store(a)
	if old := p.Swap(b); old != a {
		t.Errorf("Swap returned %v, want %v", old, a)
	}
	if p.Load() != b {
		t.Errorf("Load after Swap returned %v, want %v", p.Load(), b)
	}
}

func TestCredentialsFromContext(t *testing.T) {
	ctx := context.Background()
	if got := CredentialsFromContext(ctx); got.FSKUID != OverflowKUID {
		t.Errorf("anonymous FSKUID = %d, want %d", got.FSKUID, OverflowKUID)
	}
	creds := NewUserCredentials(5, 6, nil)
	if got := CredentialsFromContext(ContextWithCredentials(ctx, creds)); got != creds {
		t.Errorf("CredentialsFromContext = %v, want %v", got, creds)
	}
}
