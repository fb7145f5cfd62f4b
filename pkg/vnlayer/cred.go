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
	"slices"
	"sync/atomic"

	"github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/errors/vnerr"
	"github.com/mvfs/vnlayer/pkg/kernel/auth"
)

// CredentialHost gives the layer access to a caller's active credentials.
// *kernel.Task implements CredentialHost.
type CredentialHost interface {
	// Credentials returns the active credentials, which must not be
	// modified.
	Credentials() *auth.Credentials

	// PrepareCredentials returns a private, modifiable copy of the active
	// credentials.
	PrepareCredentials() (*auth.Credentials, error)

	// OverrideCredentials atomically installs creds and returns the
	// credentials they replaced.
	OverrideCredentials(creds *auth.Credentials) *auth.Credentials

	// RevertCredentials atomically reinstalls credentials returned by
	// OverrideCredentials.
	RevertCredentials(old *auth.Credentials)
}

// CredToken records a filesystem identity switch made by SaveFSIdentity. It
// may be restored once. A nil *CredToken means no switch was needed.
type CredToken struct {
	prev     *auth.Credentials
	restored atomic.Bool
}

// SaveFSIdentity switches host's filesystem identity to id and returns a
// token that restores the previous one.
//
// id is compared against the filesystem user and group IDs and the group set
// of the active credentials, not against the real or effective IDs. If they
// are equal, nothing is switched and SaveFSIdentity returns a nil token.
//
// If the new credentials cannot be built the identity is left unchanged and
// vnerr.ErrResourceExhaustion is returned.
func (l *Layer) SaveFSIdentity(ctx context.Context, host CredentialHost, id auth.Identity) (*CredToken, error) {
	if host.Credentials().FSIdentity().Equal(id) {
		return nil, nil
	}

	groups := slices.Clone(id.Groups)
	creds, err := host.PrepareCredentials()
	if err != nil || creds == nil {
		ctx.Warningf("vnlayer: cannot build credentials for uid %d gid %d: %v", id.UID, id.GID, err)
		return nil, vnerr.ErrResourceExhaustion
	}
	creds.SetGroups(groups)
	creds.FSKUID = id.UID
	creds.FSKGID = id.GID

	prev := host.OverrideCredentials(creds)
	l.metrics.credOverrides.Inc()
	ctx.Debugf("vnlayer: filesystem identity switched to uid %d gid %d", id.UID, id.GID)
	return &CredToken{prev: prev}, nil
}

// Restore reinstates the credentials t displaced. Restore on a nil token does
// nothing; restoring a token twice raises vnerr.ErrStateCorruption.
func (t *CredToken) Restore(host CredentialHost) {
	if t == nil {
		return
	}
	if t.restored.Swap(true) {
		vnerr.Raise(vnerr.ErrStateCorruption, "credential token %p restored twice", t)
	}
	host.RevertCredentials(t.prev)
}

// WithFSIdentity runs fn with host's filesystem identity switched to id,
// restoring it when fn returns or panics.
func (l *Layer) WithFSIdentity(ctx context.Context, host CredentialHost, id auth.Identity, fn func() error) error {
	tok, err := l.SaveFSIdentity(ctx, host, id)
	if err != nil {
		return err
	}
	defer tok.Restore(host)
	return fn()
}
