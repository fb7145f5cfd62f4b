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
	goerrors "errors"
	"fmt"
	"slices"

	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/errors/vnerr"
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/kernel"
	"github.com/mvfs/vnlayer/pkg/kernel/auth"
	"github.com/mvfs/vnlayer/pkg/refs"
	"github.com/mvfs/vnlayer/pkg/vnlayer"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Report is the outcome of running a Scenario.
type Report struct {
	Vnodes      []VnodeResult `toml:"vnodes" json:"vnodes"`
	Root        *RootResult   `toml:"root,omitempty" json:"root,omitempty"`
	Aliases     []AliasResult `toml:"aliases" json:"aliases"`
	Credentials *CredResult   `toml:"credentials,omitempty" json:"credentials,omitempty"`
	Pinned      *PinnedResult `toml:"pinned,omitempty" json:"pinned,omitempty"`

	// Peak is the layer's live object count with every vnode held.
	Peak StatsResult `toml:"peak" json:"peak"`

	// Failures lists every expectation that did not hold.
	Failures []string `toml:"failures" json:"failures"`
}

// VnodeResult describes the vnode created for one path.
type VnodeResult struct {
	Path         string `toml:"path" json:"path"`
	Type         string `toml:"type,omitempty" json:"type,omitempty"`
	Kind         string `toml:"kind,omitempty" json:"kind,omitempty"`
	LinkEligible bool   `toml:"link_eligible" json:"link_eligible"`
	Trapped      int    `toml:"trapped,omitempty" json:"trapped,omitempty"`
	Error        string `toml:"error,omitempty" json:"error,omitempty"`
}

// RootResult describes the cached root vnode.
type RootResult struct {
	Shared bool  `toml:"shared" json:"shared"`
	Refs   int64 `toml:"refs" json:"refs"`
}

// AliasResult is the outcome of one alias query.
type AliasResult struct {
	Path         string `toml:"path" json:"path"`
	Alias        string `toml:"alias,omitempty" json:"alias,omitempty"`
	Disconnected bool   `toml:"disconnected" json:"disconnected"`
	Expect       string `toml:"expect" json:"expect"`
}

// CredResult describes a credential switch.
type CredResult struct {
	Before   string `toml:"before" json:"before"`
	During   string `toml:"during" json:"during"`
	After    string `toml:"after" json:"after"`
	Switched bool   `toml:"switched" json:"switched"`
}

// PinnedResult describes a pinned filesystem context.
type PinnedResult struct {
	TaskRoot   string `toml:"task_root" json:"task_root"`
	PinnedRoot string `toml:"pinned_root" json:"pinned_root"`
	Cwd        string `toml:"cwd" json:"cwd"`
}

// StatsResult mirrors vnlayer.Stats.
type StatsResult struct {
	Vnodes  int64 `toml:"vnodes" json:"vnodes"`
	Shadows int64 `toml:"shadows" json:"shadows"`
}

func (r *Report) failf(format string, v ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, v...))
}

// OK returns true if every expectation held.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// runner runs one scenario.
type runner struct {
	ctx    context.Context
	s      *Scenario
	conf   vnlayer.Config
	ident  hostIdentity
	host   *host
	store  *hostfs.SuperBlock
	layer  *vnlayer.Layer
	task   *kernel.Task
	vnodes []*vnlayer.Vnode
	report Report
}

// RunScenario builds the host s describes, runs its checks through a new
// layer and tears everything down again. Metrics go to reg if it is not nil.
func RunScenario(ctx context.Context, conf vnlayer.Config, s *Scenario, ident hostIdentity, reg prometheus.Registerer) (*Report, error) {
	h, err := newHost(ctx, s.Host)
	if err != nil {
		return nil, err
	}
	r := &runner{
		ctx:   ctx,
		s:     s,
		conf:  conf,
		ident: ident,
		host:  h,
		layer: vnlayer.New(vnlayer.Options{Config: conf, Registerer: reg}),
	}
	defer r.teardown()
	if err := r.setup(); err != nil {
		return nil, err
	}

	r.checkVnodes()
	r.checkRoot()
	r.checkAliases()
	r.report.Peak = StatsResult(r.layer.Stats())
	r.releaseVnodes()
	r.checkCredentials()
	r.checkPinned()
	return &r.report, nil
}

func (r *runner) setup() error {
	for _, f := range r.s.Files {
		if err := r.host.create(r.ctx, f); err != nil {
			return err
		}
	}
	if !r.s.Store.Disabled {
		r.store = hostfs.NewSuperBlock("cleartext", hostfs.SuperBlockOptions{
			Type:      r.conf.FSType,
			MaxInodes: r.s.Store.MaxInodes,
		})
		r.layer.RegisterBackingStore(r.store)
	}
	if r.s.SysRoot {
		if err := r.layer.RegisterSysRoot(r.ctx, r.host.vd("/")); err != nil {
			return fmt.Errorf("registering system root: %w", err)
		}
	}

	jail := r.host.vd(r.s.Chroot)
	if !jail.Ok() {
		return fmt.Errorf("chroot %q does not exist", r.s.Chroot)
	}
	r.task = r.ident.newTask(jail)
	return nil
}

// teardown releases everything, reporting leaks as failures.
func (r *runner) teardown() {
	r.releaseVnodes()
	if r.task != nil {
		r.task.Release(r.ctx)
	}
	if err := r.layer.Release(r.ctx); err != nil {
		for _, e := range multierr.Errors(err) {
			r.report.failf("release: %v", e)
		}
	}
	r.host.release(r.ctx)
	if n := r.host.sb.Len(); n != 0 {
		r.report.failf("%d host inodes leaked", n)
	}
	if r.store != nil {
		if n := r.store.Len(); n != 0 {
			r.report.failf("%d backing store inodes leaked", n)
		}
	}
	for _, e := range multierr.Errors(refs.CheckLeaks()) {
		r.report.failf("%v", e)
	}
}

func (r *runner) releaseVnodes() {
	for _, v := range slices.Backward(r.vnodes) {
		r.layer.DestroyVnode(r.ctx, v)
	}
	r.vnodes = nil
}

// guard runs fn, converting a fatal layer error into a failure.
func (r *runner) guard(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			fe := vnerr.FatalFromPanic(p)
			if fe == nil {
				panic(p)
			}
			r.report.failf("%s: %v", what, fe)
		}
	}()
	fn()
}

func (r *runner) checkVnodes() {
	for _, f := range r.s.Files {
		d := r.host.lookup(f.Path)
		res := VnodeResult{
			Path:         cleanPath(f.Path),
			LinkEligible: r.layer.LinkEligible(d),
		}
		r.guard("vnode "+res.Path, func() {
			v, err := r.layer.NewVnode(r.ctx, d, r.host.mnt)
			if err != nil {
				res.Error = err.Error()
				if !r.s.Store.Disabled && !vnerr.IsResourceExhaustion(err) {
					r.report.failf("vnode %s: %v", res.Path, err)
				}
				return
			}
			r.vnodes = append(r.vnodes, v)
			res.Type = v.Type().String()
			res.Kind = v.Shadow().Kind().String()
			if r.s.Traps {
				var probed int
				res.Trapped, probed = r.probeTraps(v.Shadow())
				if res.Trapped != probed {
					r.report.failf("vnode %s: %d of %d direct accesses trapped", res.Path, res.Trapped, probed)
				}
			}
		})
		r.report.Vnodes = append(r.report.Vnodes, res)
	}
}

// trapProbes address a shadow directly through each of its operation
// tables.
var trapProbes = []struct {
	fileTable bool
	probe     func(context.Context, *vnlayer.Shadow)
}{
	{probe: func(ctx context.Context, s *vnlayer.Shadow) { s.InodeOperations().Lookup(ctx, "x") }},
	{fileTable: true, probe: func(ctx context.Context, s *vnlayer.Shadow) { s.FileOperations().Read(ctx, nil, 0) }},
	{probe: func(ctx context.Context, s *vnlayer.Shadow) { s.AddressSpaceOperations().ReadPage(ctx, 0) }},
}

// probeTraps runs the trapProbes that apply to s and returns how many raised
// an illegal access, and how many ran. Symlink-only shadows have no file
// table.
func (r *runner) probeTraps(s *vnlayer.Shadow) (trapped, probed int) {
	for _, p := range trapProbes {
		if p.fileTable && s.FileOperations() == nil {
			continue
		}
		probed++
		if r.traps(s, p.probe) {
			trapped++
		}
	}
	return trapped, probed
}

func (r *runner) traps(s *vnlayer.Shadow, probe func(context.Context, *vnlayer.Shadow)) (trapped bool) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		fe := vnerr.FatalFromPanic(p)
		if fe == nil {
			panic(p)
		}
		trapped = goerrors.Is(fe, vnerr.ErrIllegalAccess)
	}()
	probe(r.ctx, s)
	return false
}

func (r *runner) checkRoot() {
	if !r.s.SysRoot || r.store == nil {
		return
	}
	root := r.host.root
	r.guard("root vnode", func() {
		a, err := r.layer.NewVnode(r.ctx, root, r.host.mnt)
		if err != nil {
			r.report.failf("root vnode: %v", err)
			return
		}
		defer r.layer.DestroyVnode(r.ctx, a)
		b, err := r.layer.NewVnode(r.ctx, root, r.host.mnt)
		if err != nil {
			r.report.failf("root vnode: %v", err)
			return
		}
		defer r.layer.DestroyVnode(r.ctx, b)
		r.report.Root = &RootResult{Shared: a == b, Refs: a.ReadRefs()}
		if a != b {
			r.report.failf("root vnode: two lookups returned different vnodes")
		}
	})
}

func (r *runner) checkAliases() {
	for _, a := range r.s.Aliases {
		res := AliasResult{Path: cleanPath(a.Path), Expect: a.Expect}
		q := vnlayer.AliasQuery{Name: a.Name, HasName: a.Name != ""}
		if a.Parent != "" {
			if q.Parent = r.host.lookup(a.Parent); q.Parent == nil {
				r.report.failf("alias %s: no parent %q", res.Path, a.Parent)
				continue
			}
		}
		d, err := r.layer.ResolveAlias(r.ctx, r.host.lookup(a.Path).Inode(), q)
		switch {
		case goerrors.Is(err, vnerr.ErrNoAlias):
			if a.Expect != "none" {
				r.report.failf("alias %s: no alias found, want %s", res.Path, a.Expect)
			}
		case err != nil:
			r.report.failf("alias %s: %v", res.Path, err)
		default:
			res.Alias = d.String()
			res.Disconnected = d.IsDisconnected()
			got := "connected"
			if res.Disconnected {
				got = "disconnected"
			}
			if got != a.Expect {
				r.report.failf("alias %s: got a %s alias, want %s", res.Path, got, a.Expect)
			}
			d.DecRef(r.ctx)
		}
		r.report.Aliases = append(r.report.Aliases, res)
	}
}

func (r *runner) checkCredentials() {
	if r.s.Identity == nil {
		return
	}
	id := auth.Identity{
		UID: auth.KUID(r.s.Identity.UID),
		GID: auth.KGID(r.s.Identity.GID),
	}
	for _, g := range r.s.Identity.Groups {
		id.Groups = append(id.Groups, auth.KGID(g))
	}
	before := r.task.Credentials()
	res := &CredResult{Before: before.String()}
	r.guard("credentials", func() {
		err := r.layer.WithFSIdentity(r.ctx, r.task, id, func() error {
			during := r.task.Credentials()
			res.During = during.String()
			res.Switched = during != before
			if !during.FSIdentity().Equal(id) {
				return fmt.Errorf("identity %v in effect, want %v", during.FSIdentity(), id)
			}
			return nil
		})
		if err != nil {
			r.report.failf("credentials: %v", err)
		}
	})
	after := r.task.Credentials()
	res.After = after.String()
	if after != before {
		r.report.failf("credentials: %v not restored after the switch, have %v", before, after)
	}
	r.report.Credentials = res
}

func (r *runner) checkPinned() {
	taskRoot := r.layer.CurrentRoot(r.task)
	defer taskRoot.DecRef(r.ctx)
	res := &PinnedResult{TaskRoot: taskRoot.Dentry().String()}

	err := r.layer.WithPinnedFSContext(r.ctx, r.task, func() error {
		root := r.layer.CurrentRoot(r.task)
		defer root.DecRef(r.ctx)
		cwd := r.layer.CurrentCwd(r.task)
		defer cwd.DecRef(r.ctx)
		res.PinnedRoot = root.Dentry().String()
		res.Cwd = cwd.Dentry().String()
		if r.s.SysRoot && root.Dentry() != r.host.root {
			return fmt.Errorf("pinned root %v is not the system root", root.Dentry())
		}
		return nil
	})
	if err != nil {
		r.report.failf("pinned context: %v", err)
	}
	if fsc := r.task.FSContext(); fsc != nil {
		now := fsc.RootDirectory()
		if !now.Equal(taskRoot) {
			r.report.failf("pinned context: task root %v not restored, have %v", taskRoot, now)
		}
		now.DecRef(r.ctx)
	}
	r.report.Pinned = res
}
