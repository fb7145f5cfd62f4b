// Copyright 2018 Google LLC
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

package log

import (
	"fmt"
	"os"
	"time"
)

// GoogleEmitter prefixes each message with a glog-style header and passes it
// to the wrapped Emitter. Lines have the form
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// where L is D, I or W and pid is padded to seven columns, as glog does.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

const glogTimeLayout = "0102 15:04:05.000000"

var (
	glogPID    = fmt.Sprintf("%7d", os.Getpid())
	glogLevels = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}
)

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	h := make([]byte, 0, 64+len(format))
	if int(level) < len(glogLevels) {
		h = append(h, glogLevels[level])
	} else {
		h = append(h, '?')
	}
	h = timestamp.AppendFormat(h, glogTimeLayout)
	h = append(h, ' ')
	h = append(h, glogPID...)
	h = append(h, ' ')
	h = append(h, emitCaller(depth)...)
	h = append(h, "] "...)
	h = append(h, format...)
	h = append(h, '\n')

	// The header becomes part of the format; args are expanded downstream.
	g.Emitter.Emit(1+depth, level, timestamp, string(h), args...)
}
