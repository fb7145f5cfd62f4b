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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mvfs/vnlayer/pkg/abi/linux"
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/kernel/auth"
)

// testTree is a mounted superblock with a root directory and one
// subdirectory.
type testTree struct {
	mnt  *hostfs.Mount
	root *hostfs.Dentry
	sub  *hostfs.Dentry
}

func newTestTree(t *testing.T) *testTree {
	t.Helper()
	ctx := context.Background()
	sb := hostfs.NewSuperBlock("test", hostfs.SuperBlockOptions{})
	dir := func() *hostfs.Inode {
		i, err := sb.NewInode(ctx, hostfs.InodeAttr{Mode: linux.ModeDirectory | 0755}, hostfs.Caps{})
		if err != nil {
			t.Fatalf("NewInode: %v", err)
		}
		return i
	}
	root := hostfs.NewRoot(dir(), nil)
	tt := &testTree{
		mnt:  hostfs.NewMount(sb, root, "test"),
		root: root,
		sub:  root.NewChild("sub", dir(), nil),
	}
	t.Cleanup(func() {
		tt.sub.DecRef(ctx)
		tt.mnt.DecRef(ctx)
		tt.root.DecRef(ctx)
	})
	return tt
}

func (tt *testTree) vd(d *hostfs.Dentry) hostfs.VirtualDentry {
	return hostfs.MakeVirtualDentry(tt.mnt, d)
}

func TestFSContextHoldsFourReferences(t *testing.T) {
	ctx := context.Background()
	tt := newTestTree(t)
	mntRefs, rootRefs, subRefs := tt.mnt.ReadRefs(), tt.root.ReadRefs(), tt.sub.ReadRefs()

	f := NewFSContext(tt.vd(tt.root), tt.vd(tt.sub), 022)
	if got, want := tt.mnt.ReadRefs(), mntRefs+2; got != want {
		t.Errorf("mount refs = %d, want %d", got, want)
	}
	if tt.root.ReadRefs() != rootRefs+1 || tt.sub.ReadRefs() != subRefs+1 {
		t.Errorf("dentry refs not taken")
	}

	f.DecRef(ctx)
	if tt.mnt.ReadRefs() != mntRefs || tt.root.ReadRefs() != rootRefs || tt.sub.ReadRefs() != subRefs {
		t.Errorf("references not returned to baseline after destroy")
	}
	if vd := f.RootDirectory(); vd.Ok() {
		t.Errorf("RootDirectory after destroy returned %v", vd)
	}
}

func TestFSContextSetRootDirectory(t *testing.T) {
	ctx := context.Background()
	tt := newTestTree(t)
	f := NewFSContext(tt.vd(tt.root), tt.vd(tt.root), 022)
	defer f.DecRef(ctx)

	f.SetRootDirectory(ctx, tt.vd(tt.sub))
	root := f.RootDirectory()
	defer root.DecRef(ctx)
	if root.Dentry() != tt.sub {
		t.Errorf("RootDirectory() = %v, want %v", root, tt.vd(tt.sub))
	}
	if f.Umask() != 022 {
		t.Errorf("Umask() = %o, want 022", f.Umask())
	}
}

func TestFSContextPin(t *testing.T) {
	ctx := context.Background()
	tt := newTestTree(t)
	f := NewFSContext(tt.vd(tt.sub), tt.vd(tt.sub), 027)
	mntRefs, rootRefs, subRefs := tt.mnt.ReadRefs(), tt.root.ReadRefs(), tt.sub.ReadRefs()

	for _, tc := range []struct {
		name     string
		root     hostfs.VirtualDentry
		wantRoot *hostfs.Dentry
	}{
		{name: "new root", root: tt.vd(tt.root), wantRoot: tt.root},
		{name: "own root", wantRoot: tt.sub},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := f.Pin(tc.root)
			if g == nil {
				t.Fatalf("Pin returned nil on a live context")
			}
			root, cwd := g.RootDirectory(), g.WorkingDirectory()
			if root.Dentry() != tc.wantRoot || cwd.Dentry() != tt.sub || g.Umask() != 027 {
				t.Errorf("pinned root %v cwd %v umask %o; want %v, %v, 027", root, cwd, g.Umask(), tc.wantRoot, tt.sub)
			}
			root.DecRef(ctx)
			cwd.DecRef(ctx)
			if tt.mnt.ReadRefs() != mntRefs+2 {
				t.Errorf("mount refs = %d, want %d", tt.mnt.ReadRefs(), mntRefs+2)
			}
			g.DecRef(ctx)
			if tt.mnt.ReadRefs() != mntRefs || tt.root.ReadRefs() != rootRefs || tt.sub.ReadRefs() != subRefs {
				t.Errorf("references not returned to baseline")
			}
		})
	}

	f.DecRef(ctx)
	if g := f.Pin(tt.vd(tt.root)); g != nil {
		t.Errorf("Pin on a released context = %p, want nil", g)
	}
	if tt.root.ReadRefs() != rootRefs {
		t.Errorf("Pin on a released context took a root reference")
	}
}

func TestTaskSwapFSContext(t *testing.T) {
	ctx := context.Background()
	tt := newTestTree(t)
	orig := NewFSContext(tt.vd(tt.root), tt.vd(tt.root), 022)
	task := NewTask(TaskOptions{Name: "swap", FSContext: orig})
	defer task.Release(ctx)

	repl := NewFSContext(tt.vd(tt.sub), tt.vd(tt.sub), 0)
	if old := task.SwapFSContext(repl); old != orig {
		t.Fatalf("SwapFSContext returned %p, want %p", old, orig)
	}
	if task.FSContext() != repl {
		t.Errorf("FSContext() = %p after swap, want %p", task.FSContext(), repl)
	}
	if old := task.SwapFSContext(orig); old != repl {
		t.Fatalf("second swap returned %p, want %p", old, repl)
	}
	repl.DecRef(ctx)
}

func TestTaskCredentials(t *testing.T) {
	orig := auth.NewUserCredentials(1000, 1000, []auth.KGID{10})
	task := NewTask(TaskOptions{Name: "creds", Credentials: orig})

	next, err := task.PrepareCredentials()
	if err != nil {
		t.Fatalf("PrepareCredentials: %v", err)
	}
	if next == orig {
		t.Fatalf("PrepareCredentials returned the live credentials")
	}
	next.FSKUID = 0
	if old := task.OverrideCredentials(next); old != orig {
		t.Errorf("OverrideCredentials returned %v, want %v", old, orig)
	}
	if task.Credentials().FSKUID != 0 {
		t.Errorf("override not installed")
	}
	task.RevertCredentials(orig)
	if diff := cmp.Diff(auth.NewUserCredentials(1000, 1000, []auth.KGID{10}), task.Credentials()); diff != "" {
		t.Errorf("credentials after revert (-want +got):\n%s", diff)
	}
}

func TestTaskContext(t *testing.T) {
	task := NewTask(TaskOptions{Name: "ctx", Credentials: auth.NewRootCredentials()})
	ctx := ContextWithTask(context.Background(), task)
	if TaskFromContext(ctx) != task {
		t.Errorf("TaskFromContext did not return the task")
	}
	if TaskFromContext(context.Background()) != nil {
		t.Errorf("TaskFromContext on a bare context returned a task")
	}
	next, _ := task.PrepareCredentials()
	next.FSKUID = 42
	task.OverrideCredentials(next)
	if got := auth.CredentialsFromContext(ctx).FSKUID; got != 42 {
		t.Errorf("context credentials FSKUID = %d, want 42", got)
	}
}
