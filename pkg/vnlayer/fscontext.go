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
	"github.com/mvfs/vnlayer/pkg/cleanup"
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/errors/vnerr"
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/kernel"
)

// NewPinnedFSContext returns a filesystem context for t, with one reference,
// that pins name resolution for an internal lookup: its root is the system
// root (or t's root if none is registered), so any chroot of t is ignored,
// and its working directory and umask are t's.
//
// It returns vnerr.ErrNoFSContext if t has no filesystem context.
func (l *Layer) NewPinnedFSContext(ctx context.Context, t *kernel.Task) (*kernel.FSContext, error) {
	cur := t.FSContext()
	if cur == nil {
		return nil, vnerr.ErrNoFSContext
	}
	var cu cleanup.Cleanup
	defer cu.Clean()
	sysroot := l.SysRoot()
	if sysroot.Ok() {
		cu.Add(func() { sysroot.DecRef(ctx) })
	}

	fsc := cur.Pin(sysroot)
	if fsc == nil {
		return nil, vnerr.ErrNoFSContext
	}
	l.metrics.pinnedContexts.Inc()
	if l.opts.Trace.Mounts {
		root, cwd := fsc.RootDirectory(), fsc.WorkingDirectory()
		ctx.Debugf("vnlayer: pinned fs context for %v: root %v cwd %v umask %#o", t, root, cwd, fsc.Umask())
		root.DecRef(ctx)
		cwd.DecRef(ctx)
	}
	return fsc, nil
}

// WithPinnedFSContext runs fn with a pinned filesystem context swapped into
// t, then swaps t's own context back and releases the pinned one.
func (l *Layer) WithPinnedFSContext(ctx context.Context, t *kernel.Task, fn func() error) error {
	pinned, err := l.NewPinnedFSContext(ctx, t)
	if err != nil {
		return err
	}
	prev := t.SwapFSContext(pinned)
	defer func() {
		t.SwapFSContext(prev).DecRef(ctx)
	}()
	return fn()
}

// SetRoot sets t's root directory to vd, or to the system root if vd is
// empty. It returns vnerr.ErrNoFSContext if t has no filesystem context, or
// if vd is empty and no system root is registered.
func (l *Layer) SetRoot(ctx context.Context, t *kernel.Task, vd hostfs.VirtualDentry) error {
	fsc := t.FSContext()
	if fsc == nil {
		return vnerr.ErrNoFSContext
	}
	if !vd.Ok() {
		vd = l.SysRoot()
		if !vd.Ok() {
			return vnerr.ErrNoFSContext
		}
		defer vd.DecRef(ctx)
	}
	fsc.SetRootDirectory(ctx, vd)
	return nil
}

// CurrentRoot returns t's root directory with a reference taken, or an empty
// VirtualDentry if t has no filesystem context.
func (l *Layer) CurrentRoot(t *kernel.Task) hostfs.VirtualDentry {
	if fsc := t.FSContext(); fsc != nil {
		return fsc.RootDirectory()
	}
	return hostfs.VirtualDentry{}
}

// CurrentCwd returns t's working directory with a reference taken, or an
// empty VirtualDentry if t has no filesystem context.
func (l *Layer) CurrentCwd(t *kernel.Task) hostfs.VirtualDentry {
	if fsc := t.FSContext(); fsc != nil {
		return fsc.WorkingDirectory()
	}
	return hostfs.VirtualDentry{}
}
