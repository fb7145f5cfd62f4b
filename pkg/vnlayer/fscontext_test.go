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

package vnlayer

import (
	"errors"
	"testing"

	"github.com/mvfs/vnlayer/pkg/abi/linux"
	"github.com/mvfs/vnlayer/pkg/errors/vnerr"
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/kernel"
)

// chrootedTask returns a task whose root and cwd are a subdirectory of f's
// root, released at the end of the test.
func (f *fixture) chrootedTask(t *testing.T) (*kernel.Task, *hostfs.Dentry) {
	t.Helper()
	_, jail := f.file(t, f.root, "jail", linux.ModeDirectory|0755, hostfs.Caps{})
	vd := hostfs.MakeVirtualDentry(f.mnt, jail)
	task := kernel.NewTask(kernel.TaskOptions{
		Name:      "jailed",
		FSContext: kernel.NewFSContext(vd, vd, 027),
	})
	t.Cleanup(func() { task.Release(f.ctx) })
	return task, jail
}

func TestPinnedFSContextUsesSysRoot(t *testing.T) {
	f := newFixture(t)
	if err := f.layer.RegisterSysRoot(f.ctx, f.rootVD()); err != nil {
		t.Fatalf("RegisterSysRoot: %v", err)
	}
	task, jail := f.chrootedTask(t)
	rootRefs, jailRefs, mntRefs := f.root.ReadRefs(), jail.ReadRefs(), f.mnt.ReadRefs()

	pinned, err := f.layer.NewPinnedFSContext(f.ctx, task)
	if err != nil {
		t.Fatalf("NewPinnedFSContext: %v", err)
	}
	root := pinned.RootDirectory()
	cwd := pinned.WorkingDirectory()
	if root.Dentry() != f.root || cwd.Dentry() != jail || pinned.Umask() != 027 {
		t.Errorf("pinned context root %v cwd %v umask %o; want system root, the task's cwd and 027", root, cwd, pinned.Umask())
	}
	root.DecRef(f.ctx)
	cwd.DecRef(f.ctx)

	// One reference each on root and cwd dentries and two on the mount.
	if f.root.ReadRefs() != rootRefs+1 || jail.ReadRefs() != jailRefs+1 || f.mnt.ReadRefs() != mntRefs+2 {
		t.Errorf("pinned context holds root %d cwd %d mount %d references, want 1, 1, 2",
			f.root.ReadRefs()-rootRefs, jail.ReadRefs()-jailRefs, f.mnt.ReadRefs()-mntRefs)
	}
	pinned.DecRef(f.ctx)
	if f.root.ReadRefs() != rootRefs || jail.ReadRefs() != jailRefs || f.mnt.ReadRefs() != mntRefs {
		t.Errorf("destroying the pinned context did not release exactly four references")
	}
}

func TestPinnedFSContextWithoutSysRoot(t *testing.T) {
	f := newFixture(t)
	task, jail := f.chrootedTask(t)
	pinned, err := f.layer.NewPinnedFSContext(f.ctx, task)
	if err != nil {
		t.Fatalf("NewPinnedFSContext: %v", err)
	}
	defer pinned.DecRef(f.ctx)
	root := pinned.RootDirectory()
	defer root.DecRef(f.ctx)
	if root.Dentry() != jail {
		t.Errorf("root = %v, want the task's root %v", root, jail)
	}
}

func TestPinnedFSContextNoContext(t *testing.T) {
	f := newFixture(t)
	task := kernel.NewTask(kernel.TaskOptions{Name: "bare"})
	if _, err := f.layer.NewPinnedFSContext(f.ctx, task); !errors.Is(err, vnerr.ErrNoFSContext) {
		t.Errorf("NewPinnedFSContext = %v, want %v", err, vnerr.ErrNoFSContext)
	}
	if err := f.layer.SetRoot(f.ctx, task, hostfs.VirtualDentry{}); !errors.Is(err, vnerr.ErrNoFSContext) {
		t.Errorf("SetRoot = %v, want %v", err, vnerr.ErrNoFSContext)
	}
	if f.layer.CurrentRoot(task).Ok() || f.layer.CurrentCwd(task).Ok() {
		t.Errorf("task without a filesystem context reported a root or cwd")
	}
}

func TestWithPinnedFSContext(t *testing.T) {
	f := newFixture(t)
	if err := f.layer.RegisterSysRoot(f.ctx, f.rootVD()); err != nil {
		t.Fatalf("RegisterSysRoot: %v", err)
	}
	task, jail := f.chrootedTask(t)
	orig := task.FSContext()

	err := f.layer.WithPinnedFSContext(f.ctx, task, func() error {
		if task.FSContext() == orig {
			t.Errorf("pinned context not swapped in")
		}
		root := f.layer.CurrentRoot(task)
		defer root.DecRef(f.ctx)
		if root.Dentry() != f.root {
			t.Errorf("root during lookup = %v, want the system root", root)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithPinnedFSContext: %v", err)
	}
	if task.FSContext() != orig {
		t.Errorf("original context not swapped back")
	}
	cwd := f.layer.CurrentCwd(task)
	defer cwd.DecRef(f.ctx)
	if cwd.Dentry() != jail {
		t.Errorf("cwd after = %v, want %v", cwd, jail)
	}
	if got := f.counter(t, "pinned_fs_contexts_total"); got != 1 {
		t.Errorf("pinned contexts counted %v, want 1", got)
	}
}

func TestSetRoot(t *testing.T) {
	f := newFixture(t)
	task, jail := f.chrootedTask(t)

	// No system root registered: an empty VirtualDentry cannot be resolved.
	if err := f.layer.SetRoot(f.ctx, task, hostfs.VirtualDentry{}); !errors.Is(err, vnerr.ErrNoFSContext) {
		t.Errorf("SetRoot(empty) without a system root = %v, want %v", err, vnerr.ErrNoFSContext)
	}

	if err := f.layer.RegisterSysRoot(f.ctx, f.rootVD()); err != nil {
		t.Fatalf("RegisterSysRoot: %v", err)
	}
	if err := f.layer.SetRoot(f.ctx, task, hostfs.VirtualDentry{}); err != nil {
		t.Fatalf("SetRoot(empty): %v", err)
	}
	root := f.layer.CurrentRoot(task)
	if root.Dentry() != f.root {
		t.Errorf("root = %v, want the system root", root)
	}
	root.DecRef(f.ctx)

	if err := f.layer.SetRoot(f.ctx, task, hostfs.MakeVirtualDentry(f.mnt, jail)); err != nil {
		t.Fatalf("SetRoot(jail): %v", err)
	}
	root = f.layer.CurrentRoot(task)
	defer root.DecRef(f.ctx)
	if root.Dentry() != jail {
		t.Errorf("root = %v, want %v", root, jail)
	}
}
