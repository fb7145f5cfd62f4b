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
	"fmt"
	"sync/atomic"

	"github.com/mvfs/vnlayer/pkg/abi/linux"
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/errors/vnerr"
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/refs"
)

// Sanity tag values.
const (
	shadowSanity   = 0x636c7274_766e6f64 // "clrtvnod"
	shadowPoisoned = 0xdeadbeef_deadbeef
)

// ShadowKind summarizes the operation variants installed in a Shadow.
type ShadowKind int

// Shadow kinds.
const (
	// ShadowRegular shadows an object with neither symlink nor mapping
	// operations.
	ShadowRegular ShadowKind = iota

	// ShadowSymlink shadows an object that can follow links.
	ShadowSymlink

	// ShadowMapped shadows an object that supports memory mapping.
	ShadowMapped

	// ShadowMappedSymlink shadows an object with both capabilities.
	ShadowMappedSymlink
)

// String implements fmt.Stringer.String.
func (k ShadowKind) String() string {
	switch k {
	case ShadowRegular:
		return "regular"
	case ShadowSymlink:
		return "symlink"
	case ShadowMapped:
		return "mapped"
	case ShadowMappedSymlink:
		return "mapped-symlink"
	default:
		return fmt.Sprintf("ShadowKind(%d)", int(k))
	}
}

// Shadow is a proxy inode standing in for a real object.
//
// A Shadow copies the real object's attributes once, when it is created, and
// never resynchronizes them. Its operation tables trap: a Shadow is only ever
// addressed through the Vnode that owns it. The Shadow's reference count is
// the Vnode's; there is no separate vnode count.
type Shadow struct {
	refs.Refs[Shadow]

	// layer, inode, attr, kind and the operation tables are immutable.
	layer *Layer
	inode *hostfs.Inode
	attr  hostfs.InodeAttr
	kind  ShadowKind
	iops  InodeOperations
	fops  FileOperations
	aops  AddressSpaceOperations

	// sanity is shadowSanity while the Shadow is live.
	sanity atomic.Uint64

	// vnode is the Vnode bound to this Shadow, if any. It is set once by
	// NewVnode before the Shadow is published.
	vnode *Vnode
}

// AllocShadow allocates a Shadow for real from the registered backing store,
// with one reference. real may be nil to allocate a placeholder for a
// negative dentry.
//
// It returns vnerr.ErrNoBackingStore if no backing store has been registered
// and vnerr.ErrResourceExhaustion if the store cannot allocate.
func (l *Layer) AllocShadow(ctx context.Context, real *hostfs.Inode) (*Shadow, error) {
	store := l.backingStore()
	if store == nil {
		l.storeLog.Warningf("vnlayer: cleartext vnodes are not possible until a backing store is registered")
		l.metrics.shadowFailures.WithLabelValues("no_store").Inc()
		return nil, vnerr.ErrNoBackingStore
	}

	var attr hostfs.InodeAttr
	if real != nil {
		attr = real.Attr()
	}
	bi, err := store.NewInode(ctx, hostfs.InodeAttr{Mode: attr.Mode, Size: attr.Size, Mtime: attr.Mtime}, hostfs.Caps{})
	if err != nil {
		ctx.Warningf("vnlayer: out of inodes for cleartext vnode: %v", err)
		l.metrics.shadowFailures.WithLabelValues("store").Inc()
		return nil, vnerr.ErrResourceExhaustion
	}
	return l.fillShadow(ctx, real, bi, true), nil
}

// ShadowInodeFor builds a Shadow for real whose inode is allocated from the
// superblock of d's directory instead of from the backing store. d is the
// layer's own dentry the shadow will be reached through.
//
// When the layer runs without shadow files only symlinks may be shadowed this
// way; they get the symlink inode operations and no file operations.
func (l *Layer) ShadowInodeFor(ctx context.Context, real *hostfs.Inode, d *hostfs.Dentry) (*Shadow, error) {
	parent := d.Parent().Inode()
	if parent == nil {
		panic(fmt.Sprintf("ShadowInodeFor: directory of %v is negative", d))
	}
	attr := real.Attr()
	if !l.opts.ShadowFiles && !attr.Mode.IsSymlink() {
		vnerr.Raise(vnerr.ErrStateCorruption, "shadow of non-symlink %v without shadow files", attr.Mode)
	}
	bi, err := parent.SuperBlock().NewInode(ctx, hostfs.InodeAttr{Mode: attr.Mode, Size: attr.Size, Mtime: attr.Mtime}, hostfs.Caps{})
	if err != nil {
		l.metrics.shadowFailures.WithLabelValues("store").Inc()
		return nil, vnerr.ErrResourceExhaustion
	}
	return l.fillShadow(ctx, real, bi, l.opts.ShadowFiles), nil
}

// fillShadow copies real's attributes into a new Shadow over bi and installs
// its operation variants; without shadowFiles only the symlink variant is
// allowed. It takes ownership of the reference on bi.
func (l *Layer) fillShadow(ctx context.Context, real *hostfs.Inode, bi *hostfs.Inode, shadowFiles bool) *Shadow {
	s := &Shadow{
		layer: l,
		inode: bi,
	}
	var caps hostfs.Caps
	if real != nil {
		s.attr = real.Attr()
		caps = real.Caps()
	}
	s.selectOps(caps, shadowFiles)
	s.aops = clearAddressSpaceOps{s}
	bi.SetPrivate(s)
	s.sanity.Store(shadowSanity)
	s.InitRefs()

	l.shadows.Add(1)
	l.metrics.shadows.Inc()
	if l.opts.Trace.Vnodes {
		ctx.Debugf("vnlayer: new shadow %d for %v kind=%v", bi.Ino(), real, s.kind)
	}
	return s
}

// selectOps installs the operation variants matching caps. The choice is made
// once; the tables never change afterwards.
func (s *Shadow) selectOps(caps hostfs.Caps, shadowFiles bool) {
	if !shadowFiles {
		// Without shadow files only symlinks are shadowed, and they get no
		// file operations at all.
		s.kind = ShadowSymlink
		s.iops = symlinkInodeOps{regularInodeOps{s}}
		return
	}

	if caps.FollowLink {
		s.kind = ShadowSymlink
		s.iops = symlinkInodeOps{regularInodeOps{s}}
	} else {
		s.kind = ShadowRegular
		s.iops = regularInodeOps{s}
	}
	if caps.Mmap {
		s.kind |= ShadowMapped
		s.fops = mappedFileOps{regularFileOps{s}}
	} else {
		s.fops = regularFileOps{s}
	}
}

// Kind returns the operation variants installed in s.
func (s *Shadow) Kind() ShadowKind {
	return s.kind
}

// Attr returns the attributes copied from the real object when s was
// created.
func (s *Shadow) Attr() hostfs.InodeAttr {
	return s.attr
}

// Inode returns the backing inode underlying s.
func (s *Shadow) Inode() *hostfs.Inode {
	return s.inode
}

// InodeOperations returns s's inode operation table. Every entry traps.
func (s *Shadow) InodeOperations() InodeOperations {
	return s.iops
}

// FileOperations returns s's file operation table, or nil if s has none.
// Every entry traps.
func (s *Shadow) FileOperations() FileOperations {
	return s.fops
}

// AddressSpaceOperations returns s's page cache operation table. Every entry
// traps.
func (s *Shadow) AddressSpaceOperations() AddressSpaceOperations {
	return s.aops
}

// checkSanity raises ErrStateCorruption unless s is live.
func (s *Shadow) checkSanity(op string) {
	if tag := s.sanity.Load(); tag != shadowSanity {
		vnerr.Raise(vnerr.ErrStateCorruption, "%s: shadow %p has sanity tag %#x", op, s, tag)
	}
}

// IncRef implements refs.RefCounter.IncRef.
func (s *Shadow) IncRef() {
	s.checkSanity("IncRef")
	s.Refs.IncRef()
}

// DecRef implements refs.RefCounter.DecRef. The sanity tag is checked before
// the count is touched, so a corrupted Shadow keeps all its references.
func (s *Shadow) DecRef(ctx context.Context) {
	s.checkSanity("DecRef")
	s.Refs.DecRef(func() {
		s.destroy(ctx)
	})
}

func (s *Shadow) destroy(ctx context.Context) {
	s.sanity.Store(shadowPoisoned)
	if s.vnode != nil {
		s.vnode.release(ctx)
	}
	l := s.layer
	if l.opts.Trace.Vnodes {
		ctx.Debugf("vnlayer: free shadow %d kind=%v", s.inode.Ino(), s.kind)
	}
	s.inode.DecRef(ctx)
	l.shadows.Add(-1)
	l.metrics.shadows.Dec()
}

// trap reports an illegal access to s through one of its operation tables
// and never returns.
func (s *Shadow) trap(ctx context.Context, table, op string) {
	s.layer.metrics.illegalAccesses.Inc()
	ctx.Warningf("Cleartext accessed via %s ops (%s) on shadow %p", table, op, s)
	vnerr.Raise(vnerr.ErrIllegalAccess, "%s.%s called on shadow %p", table, op, s)
}

// vtype returns the vnode type for s's copied mode.
func (s *Shadow) vtype() linux.VType {
	return linux.ModeToVType(s.attr.Mode)
}
