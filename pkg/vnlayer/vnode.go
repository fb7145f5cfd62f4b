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

	"github.com/mvfs/vnlayer/pkg/abi/linux"
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/hostfs"
)

// sysrootKey is the singleflight key for building the cached root vnode.
const sysrootKey = "sysroot"

// Vnode is a cleartext vnode: the proxy for a real object reached through a
// (dentry, mount) pair.
//
// A Vnode owns one reference on its dentry and one on its mount, released
// exactly once when the last reference on its Shadow is dropped.
type Vnode struct {
	// shadow and vtype are immutable.
	shadow *Shadow
	vtype  linux.VType

	// vd is cleared when the Vnode is released.
	vd hostfs.VirtualDentry
}

// NewVnode returns a vnode for the object d names through m, with one
// reference held by the caller.
//
// If (d, m) is the registered system root, the cached root vnode is returned
// with its count incremented and nothing is allocated. Otherwise a new
// Shadow is allocated; allocation errors are returned and no reference is
// taken on d or m.
func (l *Layer) NewVnode(ctx context.Context, d *hostfs.Dentry, m *hostfs.Mount) (*Vnode, error) {
	if l.isSysRoot(d, m) {
		return l.rootVnode(ctx)
	}
	return l.newVnode(ctx, d, m)
}

func (l *Layer) newVnode(ctx context.Context, d *hostfs.Dentry, m *hostfs.Mount) (*Vnode, error) {
	s, err := l.AllocShadow(ctx, d.Inode())
	if err != nil {
		return nil, err
	}
	v := &Vnode{
		shadow: s,
		vtype:  linux.VNON,
		vd:     hostfs.MakeVirtualDentry(m, d),
	}
	if d.IsPositive() {
		v.vtype = s.vtype()
	}
	s.vnode = v
	l.getVirtualDentry(ctx, v.vd)

	l.vnodes.Add(1)
	l.metrics.vnodes.Inc()
	if l.opts.Trace.Vnodes {
		ctx.Debugf("vnlayer: new_cvn cvp=%p dent=%v mnt=%v type=%v", v, d, m, v.vtype)
	}
	return v, nil
}

// rootVnode returns the cached root vnode with a reference taken, building it
// on first use.
func (l *Layer) rootVnode(ctx context.Context) (*Vnode, error) {
	l.mu.RLock()
	v := l.root
	l.mu.RUnlock()
	if v == nil {
		res, err, _ := l.rootBuild.Do(sysrootKey, func() (any, error) {
			l.mu.RLock()
			v, sysroot := l.root, l.sysroot
			l.mu.RUnlock()
			if v != nil {
				return v, nil
			}
			v, err := l.newVnode(ctx, sysroot.Dentry(), sysroot.Mount())
			if err != nil {
				return nil, err
			}
			l.mu.Lock()
			l.root = v
			l.mu.Unlock()
			return v, nil
		})
		if err != nil {
			return nil, err
		}
		v = res.(*Vnode)
	}
	v.IncRef()
	if l.opts.Trace.Vnodes {
		ctx.Debugf("vnlayer: new_cvn sysroot=%p dent=%v mnt=%v", v, v.vd.Dentry(), v.vd.Mount())
	}
	return v, nil
}

// DestroyVnode drops the caller's reference on v. It is equivalent to
// v.DecRef(ctx).
func (l *Layer) DestroyVnode(ctx context.Context, v *Vnode) {
	v.DecRef(ctx)
}

// IncRef takes a reference on v.
func (v *Vnode) IncRef() {
	v.shadow.IncRef()
}

// DecRef drops a reference on v. When the last one is dropped, v's dentry and
// mount references are released and its Shadow is freed.
//
// DecRef on a released or corrupted Vnode raises vnerr.ErrStateCorruption
// without touching any reference.
func (v *Vnode) DecRef(ctx context.Context) {
	v.shadow.DecRef(ctx)
}

// ReadRefs returns v's current reference count.
func (v *Vnode) ReadRefs() int64 {
	return v.shadow.ReadRefs()
}

// release drops the dentry and mount references. It is called once, from
// the Shadow's destructor.
func (v *Vnode) release(ctx context.Context) {
	l := v.shadow.layer
	if l.opts.Trace.Vnodes {
		ctx.Debugf("vnlayer: free_cvn cvp=%p dent=%v mnt=%v", v, v.vd.Dentry(), v.vd.Mount())
	}
	vd := v.vd
	v.vd = hostfs.VirtualDentry{}
	l.putVirtualDentry(ctx, vd)
	l.vnodes.Add(-1)
	l.metrics.vnodes.Dec()
}

// Shadow returns v's Shadow.
func (v *Vnode) Shadow() *Shadow {
	return v.shadow
}

// Type returns v's vnode type: the real object's type, or VNON for a
// negative dentry.
func (v *Vnode) Type() linux.VType {
	return v.vtype
}

// Dentry returns the dentry v was created for. It does not take a reference.
func (v *Vnode) Dentry() *hostfs.Dentry {
	return v.vd.Dentry()
}

// Mount returns the mount v was created for. It does not take a reference.
func (v *Vnode) Mount() *hostfs.Mount {
	return v.vd.Mount()
}

// VirtualDentry returns v's (dentry, mount) pair without taking references.
func (v *Vnode) VirtualDentry() hostfs.VirtualDentry {
	return v.vd
}

// String implements fmt.Stringer.String.
func (v *Vnode) String() string {
	return fmt.Sprintf("vnode(%v %v)", v.vtype, v.vd)
}
