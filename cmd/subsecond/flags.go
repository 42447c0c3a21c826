// Copyright 2026 The Subsecond Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the subsecond CLI: it parses the "raw" and "leptos"
// subcommands, wires up a Context/Orchestrator/transport.Server for each
// target, and runs the stdin protocol and status TUI described in
// spec.md §6 / SPEC_FULL.md §6.
package main

import (
	"flag"
	"fmt"
	"strings"
)

// Array supports a repeated flag collecting into a []string, following the
// teacher's own binary/cli.Array pattern exactly.
type Array []string

// String renders the array back for flag's help text.
func (a *Array) String() string {
	return strings.Join(*a, ",")
}

// Set is called once per occurrence of the flag on the command line.
func (a *Array) Set(value string) error {
	*a = append(*a, strings.TrimSpace(value))
	return nil
}

// Flags is the shared flag surface both subcommands parse (spec.md §6
// "Flags are target/profile/feature/flag pass-through").
type Flags struct {
	ManifestPath      string
	Package           string
	Bin               string
	Lib               bool
	Target            string
	Features          Array
	RustFlags         Array
	NoDefaultFeatures bool

	// leptos-only
	FrontendPackage string
}

func parseRawFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("raw", flag.ContinueOnError)
	var f Flags
	fs.StringVar(&f.ManifestPath, "manifest-path", "Cargo.toml", "path to the project manifest")
	fs.StringVar(&f.Package, "package", "", "package to build")
	fs.StringVar(&f.Bin, "bin", "", "binary target name")
	fs.BoolVar(&f.Lib, "lib", false, "build the library target instead of a binary")
	fs.StringVar(&f.Target, "target", "", "target triple (defaults to host)")
	fs.Var(&f.Features, "features", "feature to enable (repeatable)")
	fs.Var(&f.RustFlags, "rust-flags", "extra rustc flag (repeatable)")
	fs.BoolVar(&f.NoDefaultFeatures, "no-default-features", false, "disable default features")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.Package == "" {
		return Flags{}, fmt.Errorf("subsecond raw: --package is required")
	}
	if (f.Bin != "") == f.Lib {
		return Flags{}, fmt.Errorf("subsecond raw: exactly one of --bin or --lib is required")
	}
	return f, nil
}

func parseLeptosFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("leptos", flag.ContinueOnError)
	var f Flags
	fs.StringVar(&f.ManifestPath, "manifest-path", "Cargo.toml", "path to the project manifest")
	fs.StringVar(&f.Package, "package", "", "backend package to build")
	fs.StringVar(&f.FrontendPackage, "frontend-package", "", "frontend (wasm) package to build")
	fs.Var(&f.Features, "features", "feature to enable (repeatable)")
	fs.Var(&f.RustFlags, "rust-flags", "extra rustc flag (repeatable)")
	fs.BoolVar(&f.NoDefaultFeatures, "no-default-features", false, "disable default features")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.Package == "" || f.FrontendPackage == "" {
		return Flags{}, fmt.Errorf("subsecond leptos: --package and --frontend-package are both required")
	}
	return f, nil
}
