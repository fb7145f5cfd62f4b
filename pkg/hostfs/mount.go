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

package hostfs

import (
	"fmt"

	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/refs"
)

// A Mount makes a superblock's tree reachable, starting at root.
//
// Mounts are reference-counted. A Mount holds a reference on its root.
type Mount struct {
	refs.Refs[Mount]

	// sb, root and source are immutable.
	sb     *SuperBlock
	root   *Dentry
	source string
}

// NewMount returns a new Mount of root, with one reference. It takes a
// reference on root.
func NewMount(sb *SuperBlock, root *Dentry, source string) *Mount {
	root.IncRef()
	m := &Mount{
		sb:     sb,
		root:   root,
		source: source,
	}
	m.InitRefs()
	return m
}

// SuperBlock returns the superblock m mounts.
func (m *Mount) SuperBlock() *SuperBlock {
	return m.sb
}

// Root returns m's root Dentry. It does not take a reference.
func (m *Mount) Root() *Dentry {
	return m.root
}

// Source returns the source m was mounted from.
func (m *Mount) Source() string {
	return m.source
}

// DecRef implements refs.RefCounter.DecRef.
func (m *Mount) DecRef(ctx context.Context) {
	m.Refs.DecRef(func() {
		m.root.DecRef(ctx)
	})
}

// String implements fmt.Stringer.String.
func (m *Mount) String() string {
	return fmt.Sprintf("mount(%s)", m.source)
}

// A VirtualDentry pairs a Dentry with the Mount it was reached through. It is
// a copyable value; the zero value is empty and Ok reports false for it.
// Unless otherwise specified, other methods require Ok() == true.
//
// References on a VirtualDentry mean one reference on each of its Mount and
// Dentry.
type VirtualDentry struct {
	mount  *Mount
	dentry *Dentry
}

// MakeVirtualDentry creates a VirtualDentry. It does not take references.
func MakeVirtualDentry(mnt *Mount, d *Dentry) VirtualDentry {
	return VirtualDentry{
		mount:  mnt,
		dentry: d,
	}
}

// Ok returns true if vd is not empty. It does not require that a reference is
// held.
func (vd VirtualDentry) Ok() bool {
	return vd.mount != nil
}

// IncRef increments the reference counts on the Mount and Dentry represented
// by vd.
func (vd VirtualDentry) IncRef() {
	vd.mount.IncRef()
	vd.dentry.IncRef()
}

// DecRef decrements the reference counts on the Mount and Dentry represented
// by vd.
func (vd VirtualDentry) DecRef(ctx context.Context) {
	vd.dentry.DecRef(ctx)
	vd.mount.DecRef(ctx)
}

// Mount returns the Mount associated with vd. It does not take a reference on
// the returned Mount.
func (vd VirtualDentry) Mount() *Mount {
	return vd.mount
}

// Dentry returns the Dentry associated with vd. It does not take a reference
// on the returned Dentry.
func (vd VirtualDentry) Dentry() *Dentry {
	return vd.dentry
}

// Equal returns true if vd and other name the same Dentry through the same
// Mount.
func (vd VirtualDentry) Equal(other VirtualDentry) bool {
	return vd.mount == other.mount && vd.dentry == other.dentry
}

// String implements fmt.Stringer.String.
func (vd VirtualDentry) String() string {
	if !vd.Ok() {
		return "<empty>"
	}
	return fmt.Sprintf("%s:%s", vd.mount, vd.dentry)
}
