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
	"sync/atomic"

	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/refs"
)

// DentryOps identifies the flavor of operations attached to a Dentry.
// DentryOps are compared by pointer.
type DentryOps struct {
	// Name is used in debug output only.
	Name string
}

// String implements fmt.Stringer.String.
func (o *DentryOps) String() string {
	if o == nil {
		return "<nil>"
	}
	return o.Name
}

// Dentry flags.
const (
	// dentryDisconnected marks a Dentry that is not known to be reachable
	// from its filesystem root, such as one built by a file handle lookup.
	dentryDisconnected = 1 << iota

	// dentryReferenced marks a Dentry as recently used, keeping it in the
	// cache longer.
	dentryReferenced

	// dentryUnhashed marks a Dentry that has been dropped from its parent
	// and is going away.
	dentryUnhashed
)

// Dentry names an inode within a directory.
//
// A Dentry holds a reference on its parent (unless it is a root) and on its
// inode (unless it is negative). When its last reference is dropped it is
// unlinked from its inode's alias list and both references are released.
type Dentry struct {
	refs.Refs[Dentry]

	// parent, name, inode and ops are immutable. parent is d itself for
	// filesystem roots and disconnected roots. inode is nil for negative
	// Dentries.
	parent *Dentry
	name   string
	inode  *Inode
	ops    *DentryOps

	// flags is a bitmask of dentry* flags, accessed atomically.
	flags atomic.Uint32
}

// NewRoot returns a new filesystem root Dentry for inode, with one
// reference. It takes ownership of the caller's reference on inode.
func NewRoot(inode *Inode, ops *DentryOps) *Dentry {
	d := &Dentry{
		name:  "/",
		inode: inode,
		ops:   ops,
	}
	d.parent = d
	d.init()
	return d
}

// NewDisconnected returns a root-like Dentry for inode that is flagged
// disconnected, as built when an object is reached by handle rather than by
// path. It takes ownership of the caller's reference on inode.
func NewDisconnected(inode *Inode, ops *DentryOps) *Dentry {
	d := &Dentry{
		inode: inode,
		ops:   ops,
	}
	d.parent = d
	d.flags.Store(dentryDisconnected)
	d.init()
	return d
}

// NewChild returns a new Dentry named name in directory d, with one
// reference. inode may be nil to create a negative Dentry; otherwise
// NewChild takes ownership of the caller's reference on it.
func (d *Dentry) NewChild(name string, inode *Inode, ops *DentryOps) *Dentry {
	d.IncRef()
	child := &Dentry{
		parent: d,
		name:   name,
		inode:  inode,
		ops:    ops,
	}
	child.init()
	return child
}

func (d *Dentry) init() {
	d.InitRefs()
	if d.inode != nil {
		d.inode.addAlias(d)
	}
}

// Parent returns d's parent, which is d itself for a root.
func (d *Dentry) Parent() *Dentry {
	return d.parent
}

// Name returns d's name in its parent.
func (d *Dentry) Name() string {
	return d.name
}

// Inode returns the inode d names, or nil if d is negative.
func (d *Dentry) Inode() *Inode {
	return d.inode
}

// Ops returns the operations flavor attached to d.
func (d *Dentry) Ops() *DentryOps {
	return d.ops
}

// IsPositive returns true if d names an inode.
func (d *Dentry) IsPositive() bool {
	return d.inode != nil
}

// IsRoot returns true if d is its own parent.
func (d *Dentry) IsRoot() bool {
	return d.parent == d
}

// IsDisconnected returns true if d is flagged disconnected.
func (d *Dentry) IsDisconnected() bool {
	return d.flags.Load()&dentryDisconnected != 0
}

// SetDisconnected flags d disconnected.
func (d *Dentry) SetDisconnected() {
	d.flags.Or(dentryDisconnected)
}

// ClearDisconnected clears d's disconnected flag, as done once a path from a
// root to d has been established.
func (d *Dentry) ClearDisconnected() {
	d.flags.And(^uint32(dentryDisconnected))
}

// IsReferenced returns true if d is flagged recently used.
func (d *Dentry) IsReferenced() bool {
	return d.flags.Load()&dentryReferenced != 0
}

// SetReferenced flags d recently used.
func (d *Dentry) SetReferenced() {
	d.flags.Or(dentryReferenced)
}

// ClearReferenced clears d's recently-used flag.
func (d *Dentry) ClearReferenced() {
	d.flags.And(^uint32(dentryReferenced))
}

// IsHashed returns true if d has not been dropped.
func (d *Dentry) IsHashed() bool {
	return d.flags.Load()&dentryUnhashed == 0
}

// Unhash drops d: it stays valid while referenced but lookups and alias
// scans for non-directories no longer accept it.
func (d *Dentry) Unhash() {
	d.flags.Or(dentryUnhashed)
}

// DecRef implements refs.RefCounter.DecRef.
func (d *Dentry) DecRef(ctx context.Context) {
	d.Refs.DecRef(func() {
		d.destroy(ctx)
	})
}

func (d *Dentry) destroy(ctx context.Context) {
	if d.inode != nil {
		d.inode.removeAlias(d)
		d.inode.DecRef(ctx)
	}
	if d.parent != d {
		d.parent.DecRef(ctx)
	}
}

// String implements fmt.Stringer.String.
func (d *Dentry) String() string {
	if d.inode == nil {
		return fmt.Sprintf("%q(negative)", d.name)
	}
	return fmt.Sprintf("%q(%s)", d.name, d.inode)
}
