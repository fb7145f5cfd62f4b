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
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/mvfs/vnlayer/pkg/log"
	"github.com/mvfs/vnlayer/pkg/refs"
	"go.uber.org/multierr"
)

// Log formats accepted in Config.LogFormat.
const (
	LogFormatText   = "text"
	LogFormatJSON   = "json"
	LogFormatLogrus = "logrus"
)

// TraceConfig selects debug traces.
type TraceConfig struct {
	// Vnodes traces vnode and shadow creation and destruction.
	Vnodes bool `toml:"vnodes"`

	// Mounts traces mount references taken and dropped by the layer.
	Mounts bool `toml:"mounts"`
}

// Config holds the layer's configuration.
type Config struct {
	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `toml:"log_level"`

	// LogFormat is one of the LogFormat* constants.
	LogFormat string `toml:"log_format"`

	// LeakMode selects reference leak checking.
	LeakMode refs.LeakMode `toml:"leak_mode"`

	// Trace selects debug traces. Traces are emitted at debug level.
	Trace TraceConfig `toml:"trace"`

	// ShadowFiles is set if shadows may stand in for any file type. Without
	// it only symlinks get shadow inodes of their own.
	ShadowFiles bool `toml:"shadow_files"`

	// FSType is the filesystem type of superblocks the layer owns.
	FSType string `toml:"fs_type"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   LogFormatText,
		LeakMode:    refs.NoLeakChecking,
		ShadowFiles: true,
		FSType:      DefaultFSType,
	}
}

// LoadConfig reads a TOML configuration file over the defaults. Unknown keys
// are an error.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %q: unknown keys %v", path, undecoded)
	}
	return c, c.Validate()
}

// RegisterFlags registers flags overriding c's fields.
func (c *Config) RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: warning, info or debug.")
	flagSet.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text, json or logrus.")
	flagSet.Var(&c.LeakMode, "ref-leak-mode", "sets reference leak check mode: disabled (default), log-names, log-traces, panic.")
	flagSet.BoolVar(&c.Trace.Vnodes, "trace-vnodes", c.Trace.Vnodes, "trace cleartext vnode creation and destruction.")
	flagSet.BoolVar(&c.Trace.Mounts, "trace-mounts", c.Trace.Mounts, "trace mount references taken by the layer.")
	flagSet.BoolVar(&c.ShadowFiles, "shadow-files", c.ShadowFiles, "allow shadows for all file types, not only symlinks.")
	flagSet.StringVar(&c.FSType, "fs-type", c.FSType, "filesystem type of superblocks owned by the layer.")
}

// Level returns the parsed log level.
func (c *Config) Level() (log.Level, error) {
	return log.ParseLevel(c.LogLevel)
}

// Validate reports every invalid field of c.
func (c *Config) Validate() error {
	var err error
	if _, lerr := c.Level(); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON, LogFormatLogrus:
	default:
		err = multierr.Append(err, fmt.Errorf("invalid log format %q", c.LogFormat))
	}
	if c.LeakMode > refs.LeaksPanic {
		err = multierr.Append(err, fmt.Errorf("invalid leak mode %d", uint32(c.LeakMode)))
	}
	if c.FSType == "" {
		err = multierr.Append(err, fmt.Errorf("fs_type must not be empty"))
	}
	return err
}
