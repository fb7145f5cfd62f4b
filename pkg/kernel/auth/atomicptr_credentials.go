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
	"sync/atomic"
)

// An AtomicPtrCredentials is a pointer to Credentials that can be atomically
// loaded, stored and swapped. The zero value of an AtomicPtrCredentials
// represents nil.
//
// Note that copying AtomicPtrCredentials by value performs a non-atomic read
// of the stored pointer, which is unsafe if Store() can be called
// concurrently; in this case, do `dst.Store(src.Load())` instead.
type AtomicPtrCredentials struct {
	ptr atomic.Pointer[Credentials]
}

// Load returns the value set by the most recent Store. It returns nil if there
// has been no previous call to Store.
//
//go:nosplit
func (p *AtomicPtrCredentials) Load() *Credentials {
	return p.ptr.Load()
}

// Store sets the value returned by Load to x.
func (p *AtomicPtrCredentials) Store(x *Credentials) {
	p.ptr.Store(x)
}

// Swap atomically stores x and returns the previous value.
func (p *AtomicPtrCredentials) Swap(x *Credentials) *Credentials {
	return p.ptr.Swap(x)
}
