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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	vcontext "github.com/mvfs/vnlayer/pkg/context"
	"github.com/mvfs/vnlayer/pkg/log"
	"github.com/mvfs/vnlayer/pkg/vnlayer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	format  string
	metrics bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a scenario against the cleartext vnode layer"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <scenario.toml> - build the host a scenario describes, exercise the layer on it and print a report.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.format, "format", "toml", "report format: toml or json.")
	f.BoolVar(&r.metrics, "metrics", false, "append the layer's metrics to the report.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*vnlayer.Config)

	s, err := LoadScenario(f.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	ident, err := currentIdentity()
	if err != nil {
		fatalf("reading process identity: %v", err)
	}
	reg := prometheus.NewRegistry()
	report, err := RunScenario(vcontext.FromStd(ctx), *conf, s, ident, reg)
	if err != nil {
		fatalf("%v", err)
	}
	if err := writeReport(os.Stdout, r.format, report); err != nil {
		fatalf("%v", err)
	}
	if r.metrics {
		if err := writeMetrics(os.Stdout, reg); err != nil {
			fatalf("%v", err)
		}
	}
	if !report.OK() {
		log.Warningf("scenario %s: %d failures", f.Arg(0), len(report.Failures))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func writeReport(w io.Writer, format string, report *Report) error {
	switch format {
	case "toml":
		return toml.NewEncoder(w).Encode(report)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return fmt.Errorf("invalid report format %q", format)
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// ShowConfig implements subcommands.Command for the "config" command.
type ShowConfig struct{}

// Name implements subcommands.Command.Name.
func (*ShowConfig) Name() string {
	return "config"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*ShowConfig) Synopsis() string {
	return "print the effective configuration"
}

// Usage implements subcommands.Command.Usage.
func (*ShowConfig) Usage() string {
	return `config - print the configuration after applying the config file and flags, as TOML.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*ShowConfig) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*ShowConfig) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*vnlayer.Config)
	if err := toml.NewEncoder(os.Stdout).Encode(conf); err != nil {
		fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
