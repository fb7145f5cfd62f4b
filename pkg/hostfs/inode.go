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
	"github.com/mvfs/vnlayer/pkg/sync"
)

// Inode is a real file object.
//
// Inodes are created by SuperBlock.NewInode with one reference and removed
// from their SuperBlock's index when the last reference is dropped. Every
// positive Dentry holds a reference on its inode.
type Inode struct {
	refs.Refs[Inode]

	// sb, ino and caps are immutable.
	sb   *SuperBlock
	ino  uint64
	caps Caps

	// attrMu protects attr.
	attrMu sync.Mutex
	attr   InodeAttr

	// aliasMu protects aliases. It is the lock the alias resolver holds
	// across a whole scan; see LockAliases.
	aliasMu sync.Mutex

	// aliases is the list of Dentries naming this inode, oldest first.
	aliases []*Dentry

	// private is owner-defined data, immutable once set.
	private any
}

// SuperBlock returns the superblock that allocated i.
func (i *Inode) SuperBlock() *SuperBlock {
	return i.sb
}

// Ino returns i's inode number.
func (i *Inode) Ino() uint64 {
	return i.ino
}

// Attr returns a snapshot of i's attributes.
func (i *Inode) Attr() InodeAttr {
	i.attrMu.Lock()
	defer i.attrMu.Unlock()
	return i.attr
}

// SetAttr replaces i's attributes, keeping its inode number.
func (i *Inode) SetAttr(attr InodeAttr) {
	i.attrMu.Lock()
	defer i.attrMu.Unlock()
	attr.Ino = i.ino
	i.attr = attr
}

// Caps returns the optional operations i supports.
func (i *Inode) Caps() Caps {
	return i.caps
}

// IsDir returns true if i is a directory.
func (i *Inode) IsDir() bool {
	return i.Attr().Mode.IsDir()
}

// SetPrivate attaches owner data to i.
//
// Preconditions: SetPrivate has not been called on i before.
func (i *Inode) SetPrivate(v any) {
	if i.private != nil {
		panic(fmt.Sprintf("inode %d: private data set twice", i.ino))
	}
	i.private = v
}

// Private returns the owner data attached with SetPrivate.
func (i *Inode) Private() any {
	return i.private
}

// LockAliases locks i's alias list. Between LockAliases and UnlockAliases no
// Dentry can be added to or removed from it, and AliasesLocked may be used.
func (i *Inode) LockAliases() {
	i.aliasMu.Lock()
}

// UnlockAliases unlocks i's alias list.
func (i *Inode) UnlockAliases() {
	i.aliasMu.Unlock()
}

// AliasesLocked returns the Dentries naming i, oldest first. The returned
// slice must not be modified or retained past UnlockAliases.
//
// Preconditions: i's alias list is locked.
func (i *Inode) AliasesLocked() []*Dentry {
	return i.aliases
}

// NumAliases returns the number of Dentries naming i.
func (i *Inode) NumAliases() int {
	i.aliasMu.Lock()
	defer i.aliasMu.Unlock()
	return len(i.aliases)
}

// addAlias links d into i's alias list.
func (i *Inode) addAlias(d *Dentry) {
	i.aliasMu.Lock()
	i.aliases = append(i.aliases, d)
	i.aliasMu.Unlock()
}

// removeAlias unlinks d from i's alias list.
func (i *Inode) removeAlias(d *Dentry) {
	i.aliasMu.Lock()
	defer i.aliasMu.Unlock()
	for idx, a := range i.aliases {
		if a == d {
			i.aliases = append(i.aliases[:idx], i.aliases[idx+1:]...)
			return
		}
	}
}

// DecRef implements refs.RefCounter.DecRef.
func (i *Inode) DecRef(ctx context.Context) {
	i.Refs.DecRef(func() {
		i.sb.evict(ctx, i)
	})
}

// String implements fmt.Stringer.String.
func (i *Inode) String() string {
	return fmt.Sprintf("%s:%d", i.sb.name, i.ino)
}
