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
	"github.com/mvfs/vnlayer/pkg/abi/linux"
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/hostfs"
)

// InodeOperations is the inode operation table of a Shadow.
type InodeOperations interface {
	Permission(ctx context.Context, mask uint32) error
	SetAttr(ctx context.Context, attr hostfs.InodeAttr) error
	Create(ctx context.Context, name string, mode linux.FileMode) error
	Lookup(ctx context.Context, name string) (*hostfs.Dentry, error)
	Link(ctx context.Context, old *hostfs.Dentry, name string) error
	Unlink(ctx context.Context, name string) error
	Symlink(ctx context.Context, name, target string) error
	Mkdir(ctx context.Context, name string, mode linux.FileMode) error
	Rmdir(ctx context.Context, name string) error
	Mknod(ctx context.Context, name string, mode linux.FileMode, dev uint32) error
	Rename(ctx context.Context, oldName string, newDir *hostfs.Dentry, newName string) error
}

// SymlinkInodeOperations is the inode operation table of a Shadow for an
// object that can follow links. Path walks treat an inode as a symlink iff
// its table implements this interface.
type SymlinkInodeOperations interface {
	InodeOperations
	Readlink(ctx context.Context) (string, error)
	FollowLink(ctx context.Context) (*hostfs.Dentry, error)
}

// FileOperations is the open file operation table of a Shadow.
type FileOperations interface {
	Seek(ctx context.Context, offset int64, whence int32) (int64, error)
	Read(ctx context.Context, dst []byte, offset int64) (int, error)
	Write(ctx context.Context, src []byte, offset int64) (int, error)
	Poll(ctx context.Context, mask uint32) uint32
	Ioctl(ctx context.Context, cmd uint32, arg uintptr) (uintptr, error)
	Open(ctx context.Context, flags uint32) error
	Flush(ctx context.Context) error
	Release(ctx context.Context)
	Fsync(ctx context.Context, start, end int64, dataOnly bool) error
	Lock(ctx context.Context, cmd int32) error
}

// MappedFileOperations is the open file operation table of a Shadow for an
// object that supports memory mapping.
type MappedFileOperations interface {
	FileOperations
	Mmap(ctx context.Context, offset, length int64) error
}

// AddressSpaceOperations is the page cache operation table of a Shadow.
type AddressSpaceOperations interface {
	ReadPage(ctx context.Context, index uint64) error
	WritePage(ctx context.Context, index uint64) error
	ReadPages(ctx context.Context, indexes []uint64) error
	WritePages(ctx context.Context, start, end uint64) error
	SetPageDirty(ctx context.Context, index uint64) bool
	WriteBegin(ctx context.Context, pos int64, length int) error
	WriteEnd(ctx context.Context, pos int64, copied int) (int, error)
	Bmap(ctx context.Context, block uint64) uint64
	InvalidatePage(ctx context.Context, index uint64, offset int)
	ReleasePage(ctx context.Context, index uint64) bool
	DirectIO(ctx context.Context, rw int, offset int64) (int64, error)
}

// Trap tables. Each method reports the access and panics.

type regularInodeOps struct{ s *Shadow }

func (o regularInodeOps) Permission(ctx context.Context, mask uint32) error {
	o.s.trap(ctx, "inode", "permission")
	return nil
}

func (o regularInodeOps) SetAttr(ctx context.Context, attr hostfs.InodeAttr) error {
	o.s.trap(ctx, "inode", "setattr")
	return nil
}

func (o regularInodeOps) Create(ctx context.Context, name string, mode linux.FileMode) error {
	o.s.trap(ctx, "inode", "create")
	return nil
}

func (o regularInodeOps) Lookup(ctx context.Context, name string) (*hostfs.Dentry, error) {
	o.s.trap(ctx, "inode", "lookup")
	return nil, nil
}

func (o regularInodeOps) Link(ctx context.Context, old *hostfs.Dentry, name string) error {
	o.s.trap(ctx, "inode", "link")
	return nil
}

func (o regularInodeOps) Unlink(ctx context.Context, name string) error {
	o.s.trap(ctx, "inode", "unlink")
	return nil
}

func (o regularInodeOps) Symlink(ctx context.Context, name, target string) error {
	o.s.trap(ctx, "inode", "symlink")
	return nil
}

func (o regularInodeOps) Mkdir(ctx context.Context, name string, mode linux.FileMode) error {
	o.s.trap(ctx, "inode", "mkdir")
	return nil
}

func (o regularInodeOps) Rmdir(ctx context.Context, name string) error {
	o.s.trap(ctx, "inode", "rmdir")
	return nil
}

func (o regularInodeOps) Mknod(ctx context.Context, name string, mode linux.FileMode, dev uint32) error {
	o.s.trap(ctx, "inode", "mknod")
	return nil
}

func (o regularInodeOps) Rename(ctx context.Context, oldName string, newDir *hostfs.Dentry, newName string) error {
	o.s.trap(ctx, "inode", "rename")
	return nil
}

type symlinkInodeOps struct{ regularInodeOps }

func (o symlinkInodeOps) Readlink(ctx context.Context) (string, error) {
	o.s.trap(ctx, "inode", "readlink")
	return "", nil
}

func (o symlinkInodeOps) FollowLink(ctx context.Context) (*hostfs.Dentry, error) {
	o.s.trap(ctx, "inode", "follow_link")
	return nil, nil
}

type regularFileOps struct{ s *Shadow }

func (o regularFileOps) Seek(ctx context.Context, offset int64, whence int32) (int64, error) {
	o.s.trap(ctx, "file", "llseek")
	return 0, nil
}

func (o regularFileOps) Read(ctx context.Context, dst []byte, offset int64) (int, error) {
	o.s.trap(ctx, "file", "read")
	return 0, nil
}

func (o regularFileOps) Write(ctx context.Context, src []byte, offset int64) (int, error) {
	o.s.trap(ctx, "file", "write")
	return 0, nil
}

func (o regularFileOps) Poll(ctx context.Context, mask uint32) uint32 {
	o.s.trap(ctx, "file", "poll")
	return 0
}

func (o regularFileOps) Ioctl(ctx context.Context, cmd uint32, arg uintptr) (uintptr, error) {
	o.s.trap(ctx, "file", "ioctl")
	return 0, nil
}

func (o regularFileOps) Open(ctx context.Context, flags uint32) error {
	o.s.trap(ctx, "file", "open")
	return nil
}

func (o regularFileOps) Flush(ctx context.Context) error {
	o.s.trap(ctx, "file", "flush")
	return nil
}

func (o regularFileOps) Release(ctx context.Context) {
	o.s.trap(ctx, "file", "release")
}

func (o regularFileOps) Fsync(ctx context.Context, start, end int64, dataOnly bool) error {
	o.s.trap(ctx, "file", "fsync")
	return nil
}

func (o regularFileOps) Lock(ctx context.Context, cmd int32) error {
	o.s.trap(ctx, "file", "lock")
	return nil
}

type mappedFileOps struct{ regularFileOps }

func (o mappedFileOps) Mmap(ctx context.Context, offset, length int64) error {
	o.s.trap(ctx, "file", "mmap")
	return nil
}

type clearAddressSpaceOps struct{ s *Shadow }

func (o clearAddressSpaceOps) ReadPage(ctx context.Context, index uint64) error {
	o.s.trap(ctx, "address space", "readpage")
	return nil
}

func (o clearAddressSpaceOps) WritePage(ctx context.Context, index uint64) error {
	o.s.trap(ctx, "address space", "writepage")
	return nil
}

func (o clearAddressSpaceOps) ReadPages(ctx context.Context, indexes []uint64) error {
	o.s.trap(ctx, "address space", "readpages")
	return nil
}

func (o clearAddressSpaceOps) WritePages(ctx context.Context, start, end uint64) error {
	o.s.trap(ctx, "address space", "writepages")
	return nil
}

func (o clearAddressSpaceOps) SetPageDirty(ctx context.Context, index uint64) bool {
	o.s.trap(ctx, "address space", "set_page_dirty")
	return false
}

func (o clearAddressSpaceOps) WriteBegin(ctx context.Context, pos int64, length int) error {
	o.s.trap(ctx, "address space", "write_begin")
	return nil
}

func (o clearAddressSpaceOps) WriteEnd(ctx context.Context, pos int64, copied int) (int, error) {
	o.s.trap(ctx, "address space", "write_end")
	return 0, nil
}

func (o clearAddressSpaceOps) Bmap(ctx context.Context, block uint64) uint64 {
	o.s.trap(ctx, "address space", "bmap")
	return 0
}

func (o clearAddressSpaceOps) InvalidatePage(ctx context.Context, index uint64, offset int) {
	o.s.trap(ctx, "address space", "invalidatepage")
}

func (o clearAddressSpaceOps) ReleasePage(ctx context.Context, index uint64) bool {
	o.s.trap(ctx, "address space", "releasepage")
	return false
}

func (o clearAddressSpaceOps) DirectIO(ctx context.Context, rw int, offset int64) (int64, error) {
	o.s.trap(ctx, "address space", "direct_IO")
	return 0, nil
}

var (
	_ InodeOperations        = regularInodeOps{}
	_ SymlinkInodeOperations = symlinkInodeOps{}
	_ FileOperations         = regularFileOps{}
	_ MappedFileOperations   = mappedFileOps{}
	_ AddressSpaceOperations = clearAddressSpaceOps{}
)
