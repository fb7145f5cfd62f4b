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

package log

import (
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusEmitter forwards log messages to a logrus logger, for embedders whose
// process already routes its diagnostics through logrus (containerd shims,
// for example).
type LogrusEmitter struct {
	// Logger is the destination. If nil, logrus.StandardLogger() is used.
	Logger *logrus.Logger

	// Fields are attached to every entry.
	Fields logrus.Fields
}

// Emit implements Emitter.Emit.
func (e LogrusEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	l := e.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	entry := l.WithFields(e.Fields).WithTime(timestamp)
	entry = entry.WithField("caller", emitCaller(depth))
	entry.Logf(logrusLevel(level), format, v...)
}

// logrusLevel maps l to the logrus level with the same meaning.
func logrusLevel(l Level) logrus.Level {
	switch l {
	case Warning:
		return logrus.WarnLevel
	case Info:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
