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
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/mvfs/vnlayer/pkg/log"
	"github.com/mvfs/vnlayer/pkg/refs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vnlayer.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	lvl, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, log.Info, lvl)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
log_format = "json"
leak_mode = "log-traces"
shadow_files = false

[trace]
vnodes = true
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.LogLevel = "debug"
	want.LogFormat = LogFormatJSON
	want.LeakMode = refs.LeaksLogTraces
	want.ShadowFiles = false
	want.Trace.Vnodes = true
	assert.Equal(t, want, c)
}

func TestLoadConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			name:     "unknown key",
			contents: "log_level = \"info\"\nshadow_dirs = true\n",
			wantErr:  "unknown keys [shadow_dirs]",
		},
		{
			name:     "bad leak mode",
			contents: "leak_mode = \"sometimes\"\n",
			wantErr:  `invalid ref leak mode "sometimes"`,
		},
		{
			name:     "bad level",
			contents: "log_level = \"chatty\"\n",
			wantErr:  `unknown log level "chatty"`,
		},
		{
			name:     "syntax",
			contents: "log_level = \n",
			wantErr:  "reading config",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.contents))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateReportsEveryField(t *testing.T) {
	c := Config{
		LogLevel:  "loud",
		LogFormat: "xml",
		LeakMode:  refs.LeaksPanic + 1,
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
	assert.ErrorContains(t, err, `invalid log format "xml"`)
	assert.ErrorContains(t, err, "fs_type must not be empty")
}

func TestRegisterFlags(t *testing.T) {
	c := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-log-level=warning",
		"-log-format=logrus",
		"-ref-leak-mode=panic",
		"-trace-mounts",
		"-shadow-files=false",
		"-fs-type=clearfs",
	}))
	require.NoError(t, c.Validate())

	assert.Equal(t, "warning", c.LogLevel)
	assert.Equal(t, LogFormatLogrus, c.LogFormat)
	assert.Equal(t, refs.LeaksPanic, c.LeakMode)
	assert.True(t, c.Trace.Mounts)
	assert.False(t, c.Trace.Vnodes)
	assert.False(t, c.ShadowFiles)
	assert.Equal(t, "clearfs", c.FSType)
}

func TestRegisterFlagsRejectsLeakMode(t *testing.T) {
	c := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(new(nopWriter))
	c.RegisterFlags(fs)
	assert.Error(t, fs.Parse([]string{"-ref-leak-mode=often"}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
