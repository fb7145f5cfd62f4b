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
	"iter"

	"github.com/google/btree"
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/errors"
	"github.com/mvfs/vnlayer/pkg/sync"
	"golang.org/x/sys/unix"
)

// ErrInodeLimit is returned by SuperBlock.NewInode when the superblock is
// full.
var ErrInodeLimit = errors.New(unix.ENOSPC, "superblock inode limit reached")

// btreeDegree is the degree of the live inode index.
const btreeDegree = 16

// SuperBlockOptions configures a SuperBlock.
type SuperBlockOptions struct {
	// Type names the filesystem type, e.g. "ext4" or "mvfs".
	Type string

	// MaxInodes limits the number of live inodes. Zero means no limit.
	MaxInodes int
}

// SuperBlock allocates inodes for one filesystem instance and indexes the
// live ones by inode number.
type SuperBlock struct {
	// name and fsType are immutable.
	name   string
	fsType string

	mu sync.Mutex

	// nextIno is the next inode number handed out. Protected by mu.
	nextIno uint64

	// maxInodes is the live inode limit, zero for none. Protected by mu.
	maxInodes int

	// inodes indexes live inodes by number. Protected by mu.
	inodes *btree.BTreeG[*Inode]
}

func inodeLess(a, b *Inode) bool {
	return a.ino < b.ino
}

// NewSuperBlock returns an empty SuperBlock.
func NewSuperBlock(name string, opts SuperBlockOptions) *SuperBlock {
	return &SuperBlock{
		name:      name,
		fsType:    opts.Type,
		nextIno:   1,
		maxInodes: opts.MaxInodes,
		inodes:    btree.NewG(btreeDegree, inodeLess),
	}
}

// Name returns the name sb was created with.
func (sb *SuperBlock) Name() string {
	return sb.name
}

// Type returns sb's filesystem type.
func (sb *SuperBlock) Type() string {
	return sb.fsType
}

// SetMaxInodes changes the live inode limit. Inodes already allocated are
// unaffected.
func (sb *SuperBlock) SetMaxInodes(n int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.maxInodes = n
}

// NewInode allocates an inode with the given attributes and one reference.
// If attr.Ino is zero a fresh inode number is assigned.
//
// It returns ErrInodeLimit if sb is full, and EEXIST if attr.Ino is already
// live.
func (sb *SuperBlock) NewInode(ctx context.Context, attr InodeAttr, caps Caps) (*Inode, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.maxInodes > 0 && sb.inodes.Len() >= sb.maxInodes {
		ctx.Debugf("superblock %s: inode limit %d reached", sb.name, sb.maxInodes)
		return nil, ErrInodeLimit
	}
	if attr.Ino == 0 {
		for {
			attr.Ino = sb.nextIno
			sb.nextIno++
			if !sb.inodes.Has(&Inode{ino: attr.Ino}) {
				break
			}
		}
	} else if sb.inodes.Has(&Inode{ino: attr.Ino}) {
		return nil, unix.EEXIST
	}

	i := &Inode{
		sb:   sb,
		ino:  attr.Ino,
		caps: caps,
		attr: attr,
	}
	i.InitRefs()
	sb.inodes.ReplaceOrInsert(i)
	return i, nil
}

// Lookup returns the live inode numbered ino, without taking a reference, or
// nil if there is none.
func (sb *SuperBlock) Lookup(ino uint64) *Inode {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	i, _ := sb.inodes.Get(&Inode{ino: ino})
	return i
}

// Len returns the number of live inodes.
func (sb *SuperBlock) Len() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.inodes.Len()
}

// Inodes returns the live inodes in inode number order. The sequence is a
// snapshot taken when iteration starts.
func (sb *SuperBlock) Inodes() iter.Seq[*Inode] {
	return func(yield func(*Inode) bool) {
		sb.mu.Lock()
		snapshot := make([]*Inode, 0, sb.inodes.Len())
		sb.inodes.Ascend(func(i *Inode) bool {
			snapshot = append(snapshot, i)
			return true
		})
		sb.mu.Unlock()
		for _, i := range snapshot {
			if !yield(i) {
				return
			}
		}
	}
}

// evict removes i from the index once its last reference is gone.
func (sb *SuperBlock) evict(ctx context.Context, i *Inode) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if _, ok := sb.inodes.Delete(i); !ok {
		ctx.Warningf("superblock %s: evicting unindexed inode %d", sb.name, i.ino)
	}
}
