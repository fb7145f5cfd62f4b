// Copyright 2018 The gVisor Authors.
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
	"encoding/json"
	"fmt"
	"time"
)

// jsonEntry is one line of JSONEmitter output.
type jsonEntry struct {
	Time   time.Time      `json:"time"`
	Level  Level          `json:"level"`
	Caller string         `json:"caller,omitempty"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// MarshalText implements encoding.TextMarshaler. Levels are written in the
// form ParseLevel reads.
func (l Level) MarshalText() ([]byte, error) {
	switch l {
	case Warning:
		return []byte("warning"), nil
	case Info:
		return []byte("info"), nil
	case Debug:
		return []byte("debug"), nil
	default:
		return nil, fmt.Errorf("unknown level %d", uint32(l))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	lvl, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// JSONEmitter writes one JSON object per message, newline terminated.
type JSONEmitter struct {
	*Writer

	// Fields are attached to every entry.
	Fields map[string]any
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	entry := jsonEntry{
		Time:   timestamp.UTC(),
		Level:  level,
		Caller: emitCaller(depth),
		Msg:    fmt.Sprintf(format, v...),
		Fields: e.Fields,
	}
	b, err := json.Marshal(entry)
	if err != nil {
		// A field json cannot encode must not cost the message.
		entry.Fields = map[string]any{"fields_error": err.Error()}
		if b, err = json.Marshal(entry); err != nil {
			return
		}
	}
	e.Writer.Write(append(b, '\n'))
}
