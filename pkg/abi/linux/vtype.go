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

package linux

import "fmt"

// VType is the type of a vnode, as seen by the portable filesystem engine.
type VType int

// Vnode types.
const (
	VNON VType = iota
	VREG
	VDIR
	VBLK
	VCHR
	VLNK
	VSOCK
	VFIFO
	VBAD
)

var vtypeNames = [...]string{
	VNON:  "VNON",
	VREG:  "VREG",
	VDIR:  "VDIR",
	VBLK:  "VBLK",
	VCHR:  "VCHR",
	VLNK:  "VLNK",
	VSOCK: "VSOCK",
	VFIFO: "VFIFO",
	VBAD:  "VBAD",
}

// String implements fmt.Stringer.String.
func (vt VType) String() string {
	if vt >= 0 && int(vt) < len(vtypeNames) {
		return vtypeNames[vt]
	}
	return fmt.Sprintf("VType(%d)", int(vt))
}

// ModeToVType returns the vnode type for the file type bits of mode. Modes
// without a recognized file type map to VNON.
func ModeToVType(mode FileMode) VType {
	switch mode.FileType() {
	case ModeRegular:
		return VREG
	case ModeDirectory:
		return VDIR
	case ModeCharacterDevice:
		return VCHR
	case ModeBlockDevice:
		return VBLK
	case ModeSymlink:
		return VLNK
	case ModeNamedPipe:
		return VFIFO
	case ModeSocket:
		return VSOCK
	default:
		return VNON
	}
}

// VTypeToMode returns the file type bits for vt.
//
// Only the vnode types the engine ever converts back are mapped; any other
// value indicates a corrupted vnode and panics.
func VTypeToMode(vt VType) FileMode {
	switch vt {
	case VREG:
		return ModeRegular
	case VDIR:
		return ModeDirectory
	case VCHR:
		return ModeCharacterDevice
	case VLNK:
		return ModeSymlink
	case VFIFO:
		return ModeNamedPipe
	case VNON:
		return 0
	default:
		panic(fmt.Sprintf("no file mode for vnode type %v", vt))
	}
}
