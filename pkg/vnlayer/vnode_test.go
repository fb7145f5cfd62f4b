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
	"golang.org/x/sync/errgroup"
)

func TestRootVnodeSingleton(t *testing.T) {
	f := newFixture(t, withTraces)
	if err := f.layer.RegisterSysRoot(f.ctx, f.rootVD()); err != nil {
		t.Fatalf("RegisterSysRoot: %v", err)
	}
	cached := f.layer.root
	base := cached.ReadRefs()
	shadows := f.store.Len()

	v1, err := f.layer.NewVnode(f.ctx, f.root, f.mnt)
	if err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	v2, err := f.layer.NewVnode(f.ctx, f.root, f.mnt)
	if err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	if v1 != cached || v2 != cached {
		t.Fatalf("NewVnode on the system root returned %p and %p, want cached %p", v1, v2, cached)
	}
	if got := cached.ReadRefs(); got != base+2 {
		t.Errorf("root vnode refs = %d, want %d", got, base+2)
	}
	if got := f.store.Len(); got != shadows {
		t.Errorf("fast path allocated: backing store has %d inodes, want %d", got, shadows)
	}

	f.layer.DestroyVnode(f.ctx, v1)
	f.layer.DestroyVnode(f.ctx, v2)
	if got := cached.ReadRefs(); got != base {
		t.Errorf("root vnode refs after destroys = %d, want %d", got, base)
	}
}

func TestRootVnodeBuiltLazily(t *testing.T) {
	f := newFixture(t)
	l := New(Options{Config: DefaultConfig()})
	if err := l.RegisterSysRoot(f.ctx, f.rootVD()); err != nil {
		t.Fatalf("RegisterSysRoot without a store: %v", err)
	}
	if l.root != nil {
		t.Fatalf("root vnode built without a backing store")
	}
	if _, err := l.NewVnode(f.ctx, f.root, f.mnt); !errors.Is(err, vnerr.ErrNoBackingStore) {
		t.Fatalf("NewVnode without a store = %v, want %v", err, vnerr.ErrNoBackingStore)
	}

	l.RegisterBackingStore(f.store)
	v, err := l.NewVnode(f.ctx, f.root, f.mnt)
	if err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	if v != l.root || v.ReadRefs() != 2 {
		t.Errorf("lazily built root: cached=%t refs=%d, want cached with 2 refs", v == l.root, v.ReadRefs())
	}
	v.DecRef(f.ctx)
	if err := l.Release(f.ctx); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestRootVnodeConcurrentFirstUse(t *testing.T) {
	f := newFixture(t)
	l := New(Options{Config: DefaultConfig()})
	if err := l.RegisterSysRoot(f.ctx, f.rootVD()); err != nil {
		t.Fatalf("RegisterSysRoot: %v", err)
	}
	l.RegisterBackingStore(f.store)

	const n = 16
	vnodes := make([]*Vnode, n)
	var g errgroup.Group
	for i := range vnodes {
		g.Go(func() error {
			v, err := l.NewVnode(f.ctx, f.root, f.mnt)
			vnodes[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	for _, v := range vnodes {
		if v != vnodes[0] {
			t.Fatalf("concurrent first use built more than one root vnode")
		}
	}
	if got := l.Stats().Vnodes; got != 1 {
		t.Errorf("live vnodes = %d, want 1", got)
	}
	for _, v := range vnodes {
		v.DecRef(f.ctx)
	}
	if err := l.Release(f.ctx); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestNewVnodeHoldsReferences(t *testing.T) {
	f := newFixture(t)
	i, d := f.file(t, f.root, "file", linux.ModeRegular|0644, hostfs.Caps{})
	dRefs, mRefs := d.ReadRefs(), f.mnt.ReadRefs()

	v, err := f.layer.NewVnode(f.ctx, d, f.mnt)
	if err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	if d.ReadRefs() != dRefs+1 || f.mnt.ReadRefs() != mRefs+1 {
		t.Errorf("NewVnode did not take one reference each on dentry and mount")
	}
	if v.Type() != linux.VREG || v.Dentry() != d || v.Mount() != f.mnt {
		t.Errorf("vnode = %v, want VREG on %v", v, d)
	}
	if got := v.Shadow().Attr(); got.Size != i.Attr().Size || got.Mode != i.Attr().Mode {
		t.Errorf("shadow attrs %+v not copied from %+v", got, i.Attr())
	}

	v.IncRef()
	v.DecRef(f.ctx)
	if d.ReadRefs() != dRefs+1 {
		t.Errorf("dropping a non-final reference released the dentry")
	}
	v.DecRef(f.ctx)
	if d.ReadRefs() != dRefs || f.mnt.ReadRefs() != mRefs {
		t.Errorf("references not released exactly once: dentry %d/%d mount %d/%d", d.ReadRefs(), dRefs, f.mnt.ReadRefs(), mRefs)
	}
	if v.VirtualDentry().Ok() {
		t.Errorf("released vnode still holds %v", v.VirtualDentry())
	}
}

func TestNewVnodeNegativeDentry(t *testing.T) {
	f := newFixture(t)
	d := f.link(t, f.root, "missing", nil)
	v, err := f.layer.NewVnode(f.ctx, d, f.mnt)
	if err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	defer v.DecRef(f.ctx)
	if v.Type() != linux.VNON {
		t.Errorf("Type() = %v, want VNON", v.Type())
	}
	if attr := v.Shadow().Attr(); attr.Mode != 0 || attr.Ino != 0 {
		t.Errorf("negative shadow attrs = %+v, want zero", attr)
	}
}

func TestAllocShadowWithoutBackingStore(t *testing.T) {
	f := newFixture(t)
	_, d := f.file(t, f.root, "file", linux.ModeRegular|0644, hostfs.Caps{})
	dRefs, mRefs := d.ReadRefs(), f.mnt.ReadRefs()

	l := New(Options{Config: DefaultConfig()})
	for range 3 {
		v, err := l.NewVnode(f.ctx, d, f.mnt)
		if !errors.Is(err, vnerr.ErrNoBackingStore) || !vnerr.IsResourceExhaustion(err) {
			t.Fatalf("NewVnode = %v, want %v", err, vnerr.ErrNoBackingStore)
		}
		if v != nil {
			t.Fatalf("NewVnode returned a vnode alongside an error")
		}
	}
	if d.ReadRefs() != dRefs || f.mnt.ReadRefs() != mRefs {
		t.Errorf("failed NewVnode took references")
	}
	if got := l.Stats(); got != (Stats{}) {
		t.Errorf("Stats() = %+v, want zero", got)
	}
	if s, err := l.AllocShadow(f.ctx, d.Inode()); s != nil || !errors.Is(err, vnerr.ErrNoBackingStore) {
		t.Errorf("AllocShadow = %v, %v; want nil, %v", s, err, vnerr.ErrNoBackingStore)
	}
}

func TestAllocShadowStoreExhausted(t *testing.T) {
	f := newFixture(t)
	_, d := f.file(t, f.root, "file", linux.ModeRegular|0644, hostfs.Caps{})
	f.store.SetMaxInodes(1)

	v, err := f.layer.NewVnode(f.ctx, d, f.mnt)
	if err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	defer v.DecRef(f.ctx)
	dRefs := d.ReadRefs()
	if _, err := f.layer.NewVnode(f.ctx, d, f.mnt); !errors.Is(err, vnerr.ErrResourceExhaustion) {
		t.Fatalf("NewVnode on a full store = %v, want %v", err, vnerr.ErrResourceExhaustion)
	}
	if d.ReadRefs() != dRefs {
		t.Errorf("failed NewVnode took a dentry reference")
	}
	if got := f.counter(t, "shadow_alloc_failures_total"); got != 1 {
		t.Errorf("allocation failures counted %v, want 1", got)
	}
}

func TestDestroyCorruptedVnode(t *testing.T) {
	f := newFixture(t)
	_, d := f.file(t, f.root, "file", linux.ModeRegular|0644, hostfs.Caps{})
	v, err := f.layer.NewVnode(f.ctx, d, f.mnt)
	if err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	dRefs, mRefs, vRefs := d.ReadRefs(), f.mnt.ReadRefs(), v.ReadRefs()

	v.shadow.sanity.Store(0xbad)
	expectFatal(t, vnerr.ErrStateCorruption, func() { f.layer.DestroyVnode(f.ctx, v) })
	if d.ReadRefs() != dRefs || f.mnt.ReadRefs() != mRefs || v.ReadRefs() != vRefs {
		t.Errorf("corrupted destroy touched references")
	}

	v.shadow.sanity.Store(shadowSanity)
	v.DecRef(f.ctx)
}

func TestDestroyVnodeTwice(t *testing.T) {
	f := newFixture(t)
	_, d := f.file(t, f.root, "file", linux.ModeRegular|0644, hostfs.Caps{})
	v, err := f.layer.NewVnode(f.ctx, d, f.mnt)
	if err != nil {
		t.Fatalf("NewVnode: %v", err)
	}
	f.layer.DestroyVnode(f.ctx, v)
	dRefs := d.ReadRefs()
	expectFatal(t, vnerr.ErrStateCorruption, func() { f.layer.DestroyVnode(f.ctx, v) })
	if d.ReadRefs() != dRefs {
		t.Errorf("second destroy released the dentry again")
	}
}
