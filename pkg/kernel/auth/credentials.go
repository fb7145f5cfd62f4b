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

package auth

import (
	"fmt"
	"slices"

	"github.com/mohae/deepcopy"
)

// Credentials contains information required to authorize privileged
// operations on file objects.
//
// Credentials are immutable once published: to change a task's credentials,
// copy them with Fork, modify the copy and store it. The vnode layer relies on
// this to hand out the previous credentials as a restore token.
type Credentials struct {
	// Real, effective and saved user IDs, and the filesystem user ID used for
	// access checks on file objects.
	RealKUID      KUID
	EffectiveKUID KUID
	SavedKUID     KUID
	FSKUID        KUID

	// Real, effective and saved group IDs, and the filesystem group ID.
	RealKGID      KGID
	EffectiveKGID KGID
	SavedKGID     KGID
	FSKGID        KGID

	// ExtraKGIDs is the supplementary group set, in the order it was set.
	ExtraKGIDs []KGID
}

// NewRootCredentials returns credentials with all IDs set to the superuser.
func NewRootCredentials() *Credentials {
	return NewUserCredentials(RootKUID, RootKGID, nil)
}

// NewUserCredentials returns credentials where every user ID is kuid, every
// group ID is kgid and the supplementary groups are a copy of extraKGIDs.
func NewUserCredentials(kuid KUID, kgid KGID, extraKGIDs []KGID) *Credentials {
	return &Credentials{
		RealKUID:      kuid,
		EffectiveKUID: kuid,
		SavedKUID:     kuid,
		FSKUID:        kuid,
		RealKGID:      kgid,
		EffectiveKGID: kgid,
		SavedKGID:     kgid,
		FSKGID:        kgid,
		ExtraKGIDs:    slices.Clone(extraKGIDs),
	}
}

// Fork generates an identical copy of a set of credentials, sharing no
// mutable state with c.
func (c *Credentials) Fork() *Credentials {
	return deepcopy.Copy(c).(*Credentials)
}

// FSIdentity returns the filesystem identity of c.
//
// Note that this uses the filesystem IDs, not the real or effective ones.
func (c *Credentials) FSIdentity() Identity {
	return Identity{
		UID:    c.FSKUID,
		GID:    c.FSKGID,
		Groups: c.ExtraKGIDs,
	}
}

// SetGroups replaces the supplementary group set with a copy of groups.
//
// Preconditions: c has not been published.
func (c *Credentials) SetGroups(groups []KGID) {
	c.ExtraKGIDs = slices.Clone(groups)
}

// InGroup returns true if c is in group kgid. Compare Linux's
// kernel/groups.c:in_group_p().
func (c *Credentials) InGroup(kgid KGID) bool {
	return c.FSKGID == kgid || slices.Contains(c.ExtraKGIDs, kgid)
}

// String implements fmt.Stringer.String.
func (c *Credentials) String() string {
	return fmt.Sprintf("uid=%d/%d/%d/%d gid=%d/%d/%d/%d groups=%v",
		c.RealKUID, c.EffectiveKUID, c.SavedKUID, c.FSKUID,
		c.RealKGID, c.EffectiveKGID, c.SavedKGID, c.FSKGID, c.ExtraKGIDs)
}
