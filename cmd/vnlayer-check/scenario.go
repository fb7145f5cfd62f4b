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

package main

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mvfs/vnlayer/pkg/abi/linux"
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/vnlayer"
)

// Scenario describes an in-memory host filesystem and the layer operations
// to check against it.
type Scenario struct {
	Host  HostSpec  `toml:"host"`
	Store StoreSpec `toml:"store"`

	// SysRoot registers the host root as the system root.
	SysRoot bool `toml:"sysroot"`

	// Chroot is the directory the bootstrap task is confined to. Empty means
	// the host root.
	Chroot string `toml:"chroot"`

	Files    []FileSpec    `toml:"files"`
	Aliases  []AliasSpec   `toml:"aliases"`
	Identity *IdentitySpec `toml:"identity"`

	// Traps probes each shadow's operation tables and expects them to trap.
	Traps bool `toml:"traps"`
}

// HostSpec describes the host superblock.
type HostSpec struct {
	Type      string `toml:"type"`
	MaxInodes int    `toml:"max_inodes"`
}

// StoreSpec describes the backing store for shadow inodes.
type StoreSpec struct {
	// Disabled leaves the layer without a backing store.
	Disabled  bool `toml:"disabled"`
	MaxInodes int  `toml:"max_inodes"`
}

// FileSpec describes one host object. Missing parent directories are
// created.
type FileSpec struct {
	Path string `toml:"path"`

	// Type is one of the keys of fileTypes. The default is "file".
	Type string `toml:"type"`
	Perm uint32 `toml:"perm"`
	Size int64  `toml:"size"`
	Mmap bool   `toml:"mmap"`

	// Links are further names for the same object.
	Links []string `toml:"links"`

	// Disconnected is the number of disconnected aliases to add.
	Disconnected int `toml:"disconnected"`

	// ShadowOps marks the object's dentries as named through the layer.
	ShadowOps bool `toml:"shadow_ops"`
}

// AliasSpec is an alias query and its expected outcome.
type AliasSpec struct {
	// Path names the object whose aliases are searched.
	Path string `toml:"path"`

	// Parent, if set, is the directory the alias must be in. "/" is the
	// host root.
	Parent string `toml:"parent"`

	// Name, if set, is the leaf name the alias must have.
	Name string `toml:"name"`

	// Expect is "connected", "disconnected" or "none".
	Expect string `toml:"expect"`
}

// IdentitySpec is a filesystem identity to switch to.
type IdentitySpec struct {
	UID    uint32   `toml:"uid"`
	GID    uint32   `toml:"gid"`
	Groups []uint32 `toml:"groups"`
}

var fileTypes = map[string]linux.FileMode{
	"file":    linux.ModeRegular,
	"dir":     linux.ModeDirectory,
	"symlink": linux.ModeSymlink,
	"socket":  linux.ModeSocket,
	"fifo":    linux.ModeNamedPipe,
	"block":   linux.ModeBlockDevice,
	"char":    linux.ModeCharacterDevice,
}

// LoadScenario reads a scenario file. Unknown keys are an error.
func LoadScenario(p string) (*Scenario, error) {
	var s Scenario
	md, err := toml.DecodeFile(p, &s)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %q: %w", p, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("scenario %q: unknown keys %v", p, undecoded)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", p, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	seen := make(map[string]bool)
	for _, f := range s.Files {
		if _, ok := fileTypes[f.typeName()]; !ok {
			return fmt.Errorf("file %q: unknown type %q", f.Path, f.Type)
		}
		for _, p := range append([]string{f.Path}, f.Links...) {
			c := cleanPath(p)
			if c == "" {
				return fmt.Errorf("file %q: empty path", f.Path)
			}
			if seen[c] {
				return fmt.Errorf("path %q defined twice", p)
			}
			seen[c] = true
		}
	}
	for _, a := range s.Aliases {
		switch a.Expect {
		case "connected", "disconnected", "none":
		default:
			return fmt.Errorf("alias query for %q: invalid expect %q", a.Path, a.Expect)
		}
		if !seen[cleanPath(a.Path)] {
			return fmt.Errorf("alias query for undefined path %q", a.Path)
		}
	}
	return nil
}

func (f *FileSpec) typeName() string {
	if f.Type == "" {
		return "file"
	}
	return f.Type
}

func (f *FileSpec) mode() linux.FileMode {
	perm := linux.FileMode(f.Perm)
	if perm == 0 {
		perm = 0644
	}
	return fileTypes[f.typeName()] | perm.Permissions()
}

// cleanPath returns p relative to the root, without a leading slash. The
// root itself is "".
func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// host is an in-memory host filesystem mounted at its root.
type host struct {
	sb   *hostfs.SuperBlock
	root *hostfs.Dentry
	mnt  *hostfs.Mount

	// byPath maps clean paths to the dentry first created there.
	byPath map[string]*hostfs.Dentry

	// dentries holds one reference on every dentry in byPath, and on every
	// disconnected alias, in creation order.
	dentries []*hostfs.Dentry
}

func newHost(ctx context.Context, spec HostSpec) (*host, error) {
	fsType := spec.Type
	if fsType == "" {
		fsType = "ext4"
	}
	h := &host{
		sb:     hostfs.NewSuperBlock("host", hostfs.SuperBlockOptions{Type: fsType, MaxInodes: spec.MaxInodes}),
		byPath: make(map[string]*hostfs.Dentry),
	}
	i, err := h.sb.NewInode(ctx, hostfs.InodeAttr{Mode: linux.ModeDirectory | 0755}, hostfs.Caps{})
	if err != nil {
		return nil, fmt.Errorf("creating host root: %w", err)
	}
	h.root = hostfs.NewRoot(i, nil)
	h.mnt = hostfs.NewMount(h.sb, h.root, "scenario")
	h.byPath[""] = h.root
	return h, nil
}

// lookup returns the dentry at p, or nil.
func (h *host) lookup(p string) *hostfs.Dentry {
	return h.byPath[cleanPath(p)]
}

// mkdirAll returns the directory at p, creating it and its parents.
func (h *host) mkdirAll(ctx context.Context, p string) (*hostfs.Dentry, error) {
	p = cleanPath(p)
	if d, ok := h.byPath[p]; ok {
		if !d.Inode().IsDir() {
			return nil, fmt.Errorf("%q is not a directory", p)
		}
		return d, nil
	}
	parent, err := h.mkdirAll(ctx, path.Dir(p))
	if err != nil {
		return nil, err
	}
	i, err := h.sb.NewInode(ctx, hostfs.InodeAttr{Mode: linux.ModeDirectory | 0755}, hostfs.Caps{})
	if err != nil {
		return nil, fmt.Errorf("creating directory %q: %w", p, err)
	}
	return h.add(p, parent.NewChild(path.Base(p), i, nil)), nil
}

func (h *host) add(p string, d *hostfs.Dentry) *hostfs.Dentry {
	if p != "" || d.IsDisconnected() {
		h.dentries = append(h.dentries, d)
	}
	if _, ok := h.byPath[p]; !ok && !d.IsDisconnected() {
		h.byPath[p] = d
	}
	return d
}

// create adds the object f describes, with all of its names.
func (h *host) create(ctx context.Context, f FileSpec) error {
	mode := f.mode()
	attr := hostfs.InodeAttr{Mode: mode, Size: f.Size}
	caps := hostfs.Caps{FollowLink: mode.IsSymlink(), Mmap: f.Mmap}
	i, err := h.sb.NewInode(ctx, attr, caps)
	if err != nil {
		return fmt.Errorf("creating %q: %w", f.Path, err)
	}
	// Each name below consumes one inode reference; the creation reference
	// is dropped at the end.
	defer i.DecRef(ctx)

	var ops *hostfs.DentryOps
	if f.ShadowOps {
		ops = vnlayer.ShadowDentryOps
	}
	for _, p := range append([]string{f.Path}, f.Links...) {
		p = cleanPath(p)
		dir, err := h.mkdirAll(ctx, path.Dir(p))
		if err != nil {
			return err
		}
		i.IncRef()
		h.add(p, dir.NewChild(path.Base(p), i, ops))
	}
	for range f.Disconnected {
		i.IncRef()
		h.add(cleanPath(f.Path), hostfs.NewDisconnected(i, ops))
	}
	return nil
}

// vd returns the VirtualDentry for the dentry at p, without a reference.
func (h *host) vd(p string) hostfs.VirtualDentry {
	if d := h.lookup(p); d != nil {
		return hostfs.MakeVirtualDentry(h.mnt, d)
	}
	return hostfs.VirtualDentry{}
}

// release drops every reference h holds. Afterwards h's superblock should
// have no live inodes.
func (h *host) release(ctx context.Context) {
	for _, d := range slices.Backward(h.dentries) {
		d.DecRef(ctx)
	}
	h.dentries = nil
	h.mnt.DecRef(ctx)
	h.root.DecRef(ctx)
}
