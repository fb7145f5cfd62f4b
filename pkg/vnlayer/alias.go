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
	"iter"

	"github.com/mvfs/vnlayer/pkg/abi/linux"
	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/errors/vnerr"
	"github.com/mvfs/vnlayer/pkg/hostfs"
)

// ShadowDentryOps are the dentry operations the layer installs on dentries
// naming shadowed device and socket nodes.
var ShadowDentryOps = &hostfs.DentryOps{Name: "vnode-shadow"}

// DefaultFSType is the filesystem type of superblocks owned by the layer.
const DefaultFSType = "mvfs"

// AliasQuery constrains ResolveAlias. The zero value accepts any alias.
type AliasQuery struct {
	// Parent, if not nil, is the directory the alias must be in.
	// Disconnected roots are exempt from this in the fallback pass.
	Parent *hostfs.Dentry

	// Name is the leaf name a non-directory alias must have, if HasName is
	// set.
	Name    string
	HasName bool

	// Ops, if not nil, are the dentry operations the alias must carry.
	Ops *hostfs.DentryOps
}

// aliasPass is a pass of the alias scan.
type aliasPass int

const (
	// passConnected accepts only connected aliases.
	passConnected aliasPass = iota

	// passFallback accepts disconnected aliases too.
	passFallback
)

// String implements fmt.Stringer.String.
func (p aliasPass) String() string {
	if p == passConnected {
		return "connected"
	}
	return "fallback"
}

// aliasCandidates yields every alias of real in the connected pass, then
// every alias again in the fallback pass.
//
// Preconditions: real's alias list is locked for the whole iteration.
func aliasCandidates(real *hostfs.Inode) iter.Seq2[aliasPass, *hostfs.Dentry] {
	return func(yield func(aliasPass, *hostfs.Dentry) bool) {
		for _, p := range []aliasPass{passConnected, passFallback} {
			for _, d := range real.AliasesLocked() {
				if !yield(p, d) {
					return
				}
			}
		}
	}
}

// accepts returns true if alias d satisfies q in pass p. isDir is whether the
// real object is a directory.
func (q *AliasQuery) accepts(p aliasPass, d *hostfs.Dentry, isDir bool) bool {
	if q.Ops != nil && d.Ops() != q.Ops {
		return false
	}
	if q.Parent != nil && d.Parent() != q.Parent &&
		!(p == passFallback && d.IsRoot() && d.IsDisconnected()) {
		return false
	}
	// Directories have a single alias; only non-directories are held to a
	// leaf name, and an unhashed one is on its way out.
	if !isDir {
		if q.HasName && d.Name() != q.Name {
			return false
		}
		if !d.IsHashed() {
			return false
		}
	}
	return p == passFallback || !d.IsDisconnected()
}

// ResolveAlias returns a dentry naming real that satisfies q, with a
// reference taken. Connected aliases are preferred: a disconnected alias is
// returned only if no connected one matches.
//
// The matched alias has its referenced flag cleared so that it ages out of
// the host's dentry cache quickly; the layer keeps its own cache.
//
// It returns vnerr.ErrNoAlias if nothing matches.
func (l *Layer) ResolveAlias(ctx context.Context, real *hostfs.Inode, q AliasQuery) (*hostfs.Dentry, error) {
	isDir := real.IsDir()

	real.LockAliases()
	defer real.UnlockAliases()
	for p, d := range aliasCandidates(real) {
		if !q.accepts(p, d, isDir) {
			continue
		}
		if !d.TryIncRef() {
			// Being destroyed; it will leave the list once we unlock.
			continue
		}
		d.ClearReferenced()
		l.metrics.aliasLookups.WithLabelValues(p.String()).Inc()
		ctx.Debugf("vnlayer: inode %v resolved to %v in the %v pass", real, d, p)
		return d, nil
	}
	l.metrics.aliasLookups.WithLabelValues("miss").Inc()
	ctx.Debugf("vnlayer: no alias of inode %v matches %+v", real, q)
	return nil, vnerr.ErrNoAlias
}

// LinkEligible returns true if the layer may create hard links to the object
// d names: objects the layer owns, and device or socket nodes whose dentry
// carries ShadowDentryOps.
func (l *Layer) LinkEligible(d *hostfs.Dentry) bool {
	i := d.Inode()
	if i == nil {
		return false
	}
	if i.SuperBlock().Type() == l.opts.FSType {
		return true
	}
	switch i.Attr().Mode.FileType() {
	case linux.ModeSocket, linux.ModeBlockDevice, linux.ModeCharacterDevice:
		return d.Ops() == ShadowDentryOps
	default:
		return false
	}
}
