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

// Binary vnlayer-check runs the cleartext vnode layer against an in-memory
// host filesystem described by a scenario file and reports what it saw.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/mvfs/vnlayer/pkg/log"
	"github.com/mvfs/vnlayer/pkg/refs"
	"github.com/mvfs/vnlayer/pkg/vnlayer"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	configPath = flag.String("config", "", "TOML configuration file. Flags given on the command line override it.")
	logPattern = flag.String("log", "", "file to write logs to, with %TIMESTAMP% and %COMMAND% substituted. Logs go to stderr if empty.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Run), "")
	subcommands.Register(new(ShowConfig), "")

	// Only defines the flags; values are applied over the configuration
	// file in loadConfig.
	flagConf := vnlayer.DefaultConfig()
	flagConf.RegisterFlags(flag.CommandLine)
	flag.Parse()

	conf, err := loadConfig(*configPath, flag.CommandLine)
	if err != nil {
		fatalf("%v", err)
	}
	refs.SetLeakMode(conf.LeakMode)

	closeLog, err := openLog(&conf, *logPattern, flag.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	log.Infof("vnlayer-check: pid %d, args %v", os.Getpid(), os.Args)

	status := subcommands.Execute(context.Background(), &conf)
	refs.DoRepeatedLeakCheck()
	if err := closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "vnlayer-check: closing log: %v\n", err)
	}
	os.Exit(int(status))
}

// openLog points the global logger at the file named by pattern, or stderr
// if pattern is empty, in conf's format and level. The returned function
// closes the log file and must run before the process exits.
func openLog(conf *vnlayer.Config, pattern, command string) (func() error, error) {
	level, err := conf.Level()
	if err != nil {
		return nil, err
	}
	out := io.Writer(os.Stderr)
	closeLog := func() error { return nil }
	f, err := log.OpenFile(pattern, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.PatternOpts{Command: command})
	if err != nil {
		return nil, err
	}
	if f != nil {
		out, closeLog = f, f.Close
	}
	emitter, err := newEmitter(conf.LogFormat, out)
	if err != nil {
		closeLog()
		return nil, err
	}
	log.SetTarget(emitter)
	log.SetLevel(level)
	return closeLog, nil
}

// loadConfig reads the configuration file at path, if any, over the
// defaults, then applies the flags explicitly set in fs.
func loadConfig(path string, fs *flag.FlagSet) (vnlayer.Config, error) {
	conf := vnlayer.DefaultConfig()
	if path != "" {
		c, err := vnlayer.LoadConfig(path)
		if err != nil {
			return vnlayer.Config{}, err
		}
		conf = c
	}
	overrides := flag.NewFlagSet("overrides", flag.ContinueOnError)
	conf.RegisterFlags(overrides)
	var err error
	fs.Visit(func(f *flag.Flag) {
		if overrides.Lookup(f.Name) != nil {
			err = multierr.Append(err, overrides.Set(f.Name, f.Value.String()))
		}
	})
	if err != nil {
		return vnlayer.Config{}, err
	}
	return conf, conf.Validate()
}

// newEmitter returns an emitter writing format to w.
func newEmitter(format string, w io.Writer) (log.Emitter, error) {
	switch format {
	case vnlayer.LogFormatText:
		return log.GoogleEmitter{Emitter: &log.Writer{Next: w}}, nil
	case vnlayer.LogFormatJSON:
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}, nil
	case vnlayer.LogFormatLogrus:
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano, FullTimestamp: true})
		return log.LogrusEmitter{Logger: l, Fields: logrus.Fields{"component": "vnlayer"}}, nil
	}
	return nil, fmt.Errorf("invalid log format %q, must be %q, %q or %q", format, vnlayer.LogFormatText, vnlayer.LogFormatJSON, vnlayer.LogFormatLogrus)
}

// fatalf logs and prints to stderr, then exits.
func fatalf(format string, v ...any) {
	log.Warningf(format, v...)
	fmt.Fprintf(os.Stderr, "vnlayer-check: "+format+"\n", v...)
	os.Exit(128)
}
