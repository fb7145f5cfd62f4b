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

// Package linux contains the constants and types needed to interface with a
// Linux-style host file object model.
package linux

import (
	"fmt"
	"strings"
)

// Values for mode_t.
const (
	FileTypeMask        = 0170000
	ModeSocket          = 0140000
	ModeSymlink         = 0120000
	ModeRegular         = 0100000
	ModeBlockDevice     = 060000
	ModeDirectory       = 040000
	ModeCharacterDevice = 020000
	ModeNamedPipe       = 010000

	ModeSetUID = 04000
	ModeSetGID = 02000
	ModeSticky = 01000

	ModeUserAll     = 0700
	ModeGroupAll    = 0070
	ModeOtherAll    = 0007
	PermissionsMask = 0777
)

// FileMode represents a mode_t.
type FileMode uint

// Permissions returns just the permission bits.
func (m FileMode) Permissions() FileMode {
	return m & PermissionsMask
}

// FileType returns just the file type bits.
func (m FileMode) FileType() FileMode {
	return m & FileTypeMask
}

// ExtraBits returns everything but the file type and permission bits.
func (m FileMode) ExtraBits() FileMode {
	return m &^ (PermissionsMask | FileTypeMask)
}

// IsDir returns true if m represents a directory.
func (m FileMode) IsDir() bool {
	return m.FileType() == ModeDirectory
}

// IsSymlink returns true if m represents a symbolic link.
func (m FileMode) IsSymlink() bool {
	return m.FileType() == ModeSymlink
}

// String returns a string representation of m.
func (m FileMode) String() string {
	var s []string
	if ft := m.FileType(); ft != 0 {
		name, ok := fileTypeNames[ft]
		if !ok {
			name = fmt.Sprintf("%#o", uint(ft))
		}
		s = append(s, name)
	}
	for _, eb := range modeExtraBits {
		if m&eb.bit != 0 {
			s = append(s, eb.name)
		}
	}
	s = append(s, fmt.Sprintf("0o%o", m.Permissions()))
	return strings.Join(s, "|")
}

var modeExtraBits = []struct {
	bit  FileMode
	name string
}{
	{ModeSetUID, "S_ISUID"},
	{ModeSetGID, "S_ISGID"},
	{ModeSticky, "S_ISVTX"},
}

var fileTypeNames = map[FileMode]string{
	ModeSocket:          "S_IFSOCK",
	ModeSymlink:         "S_IFLNK",
	ModeRegular:         "S_IFREG",
	ModeBlockDevice:     "S_IFBLK",
	ModeDirectory:       "S_IFDIR",
	ModeCharacterDevice: "S_IFCHR",
	ModeNamedPipe:       "S_IFIFO",
}
