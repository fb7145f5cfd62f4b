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

// Package auth implements the identity model the vnode layer switches
// between: user and group IDs as seen by the host, the credentials a task
// runs with, and the filesystem identity subset compared when overriding them.
package auth

import (
	"math"
	"slices"
)

// KUID is a user ID in the host's root namespace.
type KUID uint32

// KGID is a group ID in the host's root namespace.
type KGID uint32

// NoID is uint32(-1). -1 is consistently used as a special value, in Linux and
// by extension in the auth package, to mean "no ID":
//
//   - ID mapping returns NoID if the ID cannot be mapped.
//
//   - Most set*id() syscalls accept -1 to mean "do not change this ID".
const NoID = math.MaxUint32

const (
	// RootKUID is the KUID of the superuser.
	RootKUID = KUID(0)

	// RootKGID is the KGID of the superuser's group.
	RootKGID = KGID(0)
)

// Ok returns true if uid is not NoID.
func (uid KUID) Ok() bool {
	return uid != NoID
}

// Ok returns true if gid is not NoID.
func (gid KGID) Ok() bool {
	return gid != NoID
}

// Identity is the filesystem identity of a caller: the IDs used for
// permission checks on file objects plus the supplementary group set.
type Identity struct {
	UID    KUID
	GID    KGID
	Groups []KGID
}

// Equal returns true if id and other name the same user, group and ordered
// group set.
func (id Identity) Equal(other Identity) bool {
	return id.UID == other.UID && id.GID == other.GID && slices.Equal(id.Groups, other.Groups)
}
