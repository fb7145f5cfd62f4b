// Copyright 2018 The gVisor Authors.
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
	"fmt"

	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/refs"
	"github.com/mvfs/vnlayer/pkg/sync"
)

// FSContext anchors name resolution for a task: a root, a working directory
// and a umask. It holds one reference on the dentry and mount of both root
// and cwd, and drops all four when its own count reaches zero.
type FSContext struct {
	refs.Refs[FSContext]

	// mu protects root, cwd and umask. Both VirtualDentries are empty once
	// the context has been released.
	mu    sync.Mutex
	root  hostfs.VirtualDentry
	cwd   hostfs.VirtualDentry
	umask uint
}

// NewFSContext returns a context with one reference, taking a reference on
// each of root and cwd.
func NewFSContext(root, cwd hostfs.VirtualDentry, umask uint) *FSContext {
	root.IncRef()
	cwd.IncRef()
	return adoptFSContext(root, cwd, umask)
}

// adoptFSContext wraps anchors whose references the caller has already
// taken.
func adoptFSContext(root, cwd hostfs.VirtualDentry, umask uint) *FSContext {
	f := &FSContext{root: root, cwd: cwd, umask: umask}
	f.InitRefs()
	return f
}

// Pin returns a new context, with one reference, that shares f's working
// directory and umask but resolves from root. An empty root keeps f's own.
// cwd, root and umask are read under one lock, so the snapshot is never
// torn by a concurrent SetRootDirectory.
//
// Pin returns nil if f has been released.
func (f *FSContext) Pin(root hostfs.VirtualDentry) *FSContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cwd.Ok() {
		return nil
	}
	if !root.Ok() {
		root = f.root
	}
	root.IncRef()
	f.cwd.IncRef()
	return adoptFSContext(root, f.cwd, f.umask)
}

// DecRef drops a reference. On the last one, the root and cwd references are
// released; holders of stale pointers then see empty anchors.
func (f *FSContext) DecRef(ctx context.Context) {
	f.Refs.DecRef(func() {
		f.mu.Lock()
		root, cwd := f.root, f.cwd
		f.root, f.cwd = hostfs.VirtualDentry{}, hostfs.VirtualDentry{}
		f.mu.Unlock()
		root.DecRef(ctx)
		cwd.DecRef(ctx)
	})
}

// anchor returns *vd with a reference taken, or an empty VirtualDentry after
// release.
func (f *FSContext) anchor(vd *hostfs.VirtualDentry) hostfs.VirtualDentry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if vd.Ok() {
		vd.IncRef()
	}
	return *vd
}

// WorkingDirectory returns the working directory with a reference taken.
func (f *FSContext) WorkingDirectory() hostfs.VirtualDentry {
	return f.anchor(&f.cwd)
}

// RootDirectory returns the root with a reference taken.
func (f *FSContext) RootDirectory() hostfs.VirtualDentry {
	return f.anchor(&f.root)
}

// SetRootDirectory replaces the root with vd, taking a reference on it.
func (f *FSContext) SetRootDirectory(ctx context.Context, vd hostfs.VirtualDentry) {
	if !vd.Ok() {
		panic("FSContext.SetRootDirectory: empty VirtualDentry")
	}
	f.mu.Lock()
	old := f.root
	if !old.Ok() {
		f.mu.Unlock()
		panic(fmt.Sprintf("FSContext.SetRootDirectory(%v) on a released context", vd))
	}
	vd.IncRef()
	f.root = vd
	f.mu.Unlock()
	old.DecRef(ctx)
}

// Umask returns the file mode creation mask.
func (f *FSContext) Umask() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.umask
}
