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

// Package hostfs models the host's file-object graph that the vnode layer
// sits on: inodes (the real objects), directory entries naming them, the
// mounts they are reached through, and the superblocks that allocate inodes.
//
// All objects are reference-counted with the refs package. Unless otherwise
// specified, methods require that the caller holds a reference.
//
// Lock order:
//
//	Inode.aliasMu
//		SuperBlock.mu
package hostfs

import (
	"time"

	"github.com/mvfs/vnlayer/pkg/abi/linux"
)

// InodeAttr holds the attributes of an inode.
type InodeAttr struct {
	// Ino is the inode number. It is unique within a SuperBlock; zero asks
	// SuperBlock.NewInode to assign one.
	Ino uint64

	// Mode is the file type and permission bits.
	Mode linux.FileMode

	// Size is the file size in bytes.
	Size int64

	// Mtime is the last modification time.
	Mtime time.Time

	// UID and GID own the file.
	UID uint32
	GID uint32
}

// Caps describes optional operations an inode's implementation provides.
type Caps struct {
	// FollowLink is set if the inode's operations can resolve a symbolic
	// link.
	FollowLink bool

	// Mmap is set if the inode's file operations support memory mapping.
	Mmap bool
}
