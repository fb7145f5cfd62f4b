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
	"github.com/mvfs/vnlayer/pkg/hostfs"
	"github.com/mvfs/vnlayer/pkg/kernel"
	"github.com/mvfs/vnlayer/pkg/kernel/auth"
	"golang.org/x/sys/unix"
)

// hostIdentity is the identity and umask the bootstrap task starts with.
type hostIdentity struct {
	UID    uint32
	GID    uint32
	Groups []uint32
	Umask  uint
}

// currentIdentity returns the identity of this process.
func currentIdentity() (hostIdentity, error) {
	id := hostIdentity{
		UID: uint32(unix.Getuid()),
		GID: uint32(unix.Getgid()),
	}
	groups, err := unix.Getgroups()
	if err != nil {
		return hostIdentity{}, err
	}
	for _, g := range groups {
		id.Groups = append(id.Groups, uint32(g))
	}
	// There is no way to read the umask without setting it.
	old := unix.Umask(0)
	unix.Umask(old)
	id.Umask = uint(old)
	return id, nil
}

// newTask returns a task running as id, with root and working directory
// jail.
func (id hostIdentity) newTask(jail hostfs.VirtualDentry) *kernel.Task {
	extra := make([]auth.KGID, 0, len(id.Groups))
	for _, g := range id.Groups {
		extra = append(extra, auth.KGID(g))
	}
	return kernel.NewTask(kernel.TaskOptions{
		Name:        "vnlayer-check",
		Credentials: auth.NewUserCredentials(auth.KUID(id.UID), auth.KGID(id.GID), extra),
		FSContext:   kernel.NewFSContext(jail, jail, id.Umask),
	})
}
