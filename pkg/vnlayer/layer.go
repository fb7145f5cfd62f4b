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

// Package vnlayer lets a vnode-based multi-version filesystem sit on the host
// file-object model.
//
// A Layer proxies real host inodes with cleartext vnodes. Each Vnode wraps a
// Shadow, an inode allocated from a registered backing store whose every
// operation traps: shadows exist only to be addressed through their vnode.
// The Layer also resolves directory entry aliases for real inodes, switches a
// task's filesystem identity around privileged lookups, and pins a task's
// root and working directory while such a lookup runs.
//
// Layer state is configured by a single writer (RegisterBackingStore,
// RegisterSysRoot) before concurrent use begins. All other operations are
// safe for concurrent use and run synchronously in the caller's goroutine.
package vnlayer

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/log"
	"github.com/mvfs/vnlayer/pkg/sync"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// BackingStore allocates the inodes underlying shadows.
// *hostfs.SuperBlock implements BackingStore.
type BackingStore interface {
	NewInode(ctx context.Context, attr hostfs.InodeAttr, caps hostfs.Caps) (*hostfs.Inode, error)
}

// Options configures a Layer.
type Options struct {
	Config

	// Registerer receives the Layer's metrics. If nil, metrics are kept but
	// not exported.
	Registerer prometheus.Registerer
}

// Stats is a snapshot of a Layer's live object counts.
type Stats struct {
	// Vnodes is the number of live cleartext vnodes, including the cached
	// root vnode.
	Vnodes int64

	// Shadows is the number of live shadows, with or without a vnode.
	Shadows int64
}

// Layer is the context every cleartext vnode operation runs in.
type Layer struct {
	// opts is immutable.
	opts Options

	metrics *metrics

	// storeLog reports shadow requests made before a backing store is
	// registered, at most once per second.
	storeLog log.Logger

	// mu protects the registration state below.
	mu sync.RWMutex

	// store allocates shadow inodes.
	store BackingStore

	// sysroot is the system root, holding one reference of its own.
	sysroot hostfs.VirtualDentry

	// root is the cached vnode for sysroot. It holds one reference that is
	// dropped by Release.
	root *Vnode

	// rootBuild collapses concurrent first constructions of root.
	rootBuild singleflight.Group

	vnodes  atomic.Int64
	shadows atomic.Int64
}

// New returns a Layer with no backing store or system root registered.
func New(opts Options) *Layer {
	if opts.FSType == "" {
		opts.FSType = DefaultFSType
	}
	return &Layer{
		opts:     opts,
		metrics:  newMetrics(opts.Registerer),
		storeLog: log.RateLimitedLogger(log.Log(), time.Second),
	}
}

// RegisterBackingStore designates the store shadow inodes are allocated
// from.
//
// Preconditions: no other Layer method is running.
func (l *Layer) RegisterBackingStore(bs BackingStore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = bs
}

// RegisterSysRoot designates vd as the system root, the one (dentry, mount)
// pair whose vnode is cached for the Layer's lifetime. The Layer takes its
// own reference on vd. If a backing store is registered the cached vnode is
// built immediately; otherwise it is built by the first NewVnode for vd.
//
// Preconditions: no other Layer method is running; no system root is
// registered yet.
func (l *Layer) RegisterSysRoot(ctx context.Context, vd hostfs.VirtualDentry) error {
	if !vd.Ok() {
		panic("RegisterSysRoot called with an empty VirtualDentry")
	}
	l.mu.Lock()
	if l.sysroot.Ok() {
		l.mu.Unlock()
		panic("system root registered twice")
	}
	l.getVirtualDentry(ctx, vd)
	l.sysroot = vd
	haveStore := l.store != nil
	l.mu.Unlock()

	if !haveStore {
		return nil
	}
	v, err := l.rootVnode(ctx)
	if err != nil {
		return err
	}
	// Drop the caller-side reference rootVnode hands out; the cache keeps
	// its own.
	v.DecRef(ctx)
	return nil
}

// SysRoot returns the registered system root, with a reference taken, or an
// empty VirtualDentry if none is registered.
func (l *Layer) SysRoot() hostfs.VirtualDentry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	vd := l.sysroot
	if vd.Ok() {
		vd.IncRef()
	}
	return vd
}

// isSysRoot returns true if (d, m) is the registered system root.
func (l *Layer) isSysRoot(d *hostfs.Dentry, m *hostfs.Mount) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sysroot.Ok() && l.sysroot.Equal(hostfs.MakeVirtualDentry(m, d))
}

// backingStore returns the registered store, or nil.
func (l *Layer) backingStore() BackingStore {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store
}

// Stats returns the Layer's live object counts.
func (l *Layer) Stats() Stats {
	return Stats{
		Vnodes:  l.vnodes.Load(),
		Shadows: l.shadows.Load(),
	}
}

// Release drops the cached root vnode and the Layer's reference on the
// system root. Vnodes still held by callers stay valid until they are
// released. It returns an error for each object still live afterwards.
func (l *Layer) Release(ctx context.Context) error {
	l.mu.Lock()
	root := l.root
	sysroot := l.sysroot
	l.root = nil
	l.sysroot = hostfs.VirtualDentry{}
	l.mu.Unlock()

	var err error
	if root != nil {
		if n := root.ReadRefs(); n != 1 {
			err = multierr.Append(err, fmt.Errorf("root vnode has %d references at release, want 1", n))
		}
		root.DecRef(ctx)
	}
	if sysroot.Ok() {
		l.putVirtualDentry(ctx, sysroot)
	}
	if n := l.vnodes.Load(); n != 0 {
		err = multierr.Append(err, fmt.Errorf("%d vnodes live at release", n))
	}
	if n := l.shadows.Load(); n != 0 {
		err = multierr.Append(err, fmt.Errorf("%d shadows live at release", n))
	}
	return err
}

// getVirtualDentry takes a reference on vd, tracing the mount reference if
// configured.
func (l *Layer) getVirtualDentry(ctx context.Context, vd hostfs.VirtualDentry) {
	vd.IncRef()
	if l.opts.Trace.Mounts {
		ctx.Debugf("mntget %v refs=%d", vd.Mount(), vd.Mount().ReadRefs())
	}
}

// putVirtualDentry releases a reference taken by getVirtualDentry.
func (l *Layer) putVirtualDentry(ctx context.Context, vd hostfs.VirtualDentry) {
	if l.opts.Trace.Mounts {
		ctx.Debugf("mntput %v refs=%d", vd.Mount(), vd.Mount().ReadRefs())
	}
	vd.DecRef(ctx)
}
