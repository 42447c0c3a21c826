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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/dlog"
	"github.com/shadr/subsecond/intercept"
	"github.com/shadr/subsecond/orchestrator"
	"github.com/shadr/subsecond/transport"
)

func main() {
	if intercept.IsLinkMode() {
		runAsLinker()
		return
	}
	if os.Getenv(intercept.EnvRustcWrapper) != "" {
		runAsWrapper()
		return
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: subsecond <raw|leptos> [flags]")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "raw":
		err = runRaw(os.Args[2:])
	case "leptos":
		err = runLeptos(os.Args[2:])
	default:
		err = fmt.Errorf("unknown subcommand %q", os.Args[1])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "subsecond:", err)
		os.Exit(1)
	}
}

// runAsLinker persists the captured linker argv, per §4.A: this binary was
// installed as -Clinker=<self>.
func runAsLinker() {
	path := os.Getenv(intercept.EnvDXLinkArgsFile)
	if path == "" {
		fmt.Fprintln(os.Stderr, "subsecond: DX_LINK_ARGS_FILE not set")
		os.Exit(1)
	}
	if err := intercept.CaptureLinkerInvocation(path, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "subsecond:", err)
		os.Exit(1)
	}
}

// runAsWrapper persists the captured compiler argv+env, per §4.A: this
// binary was installed as RUSTC_WRAPPER.
func runAsWrapper() {
	path := os.Getenv(intercept.EnvDXRustc)
	if path == "" {
		fmt.Fprintln(os.Stderr, "subsecond: DX_RUSTC not set")
		os.Exit(1)
	}
	if err := intercept.CaptureWrapperInvocation(path, os.Args, os.Environ()); err != nil {
		fmt.Fprintln(os.Stderr, "subsecond:", err)
		os.Exit(1)
	}
}

func runRaw(args []string) error {
	flags, err := parseRawFlags(args)
	if err != nil {
		return err
	}

	tc, err := newHostToolchain()
	if err != nil {
		return err
	}

	bc, err := newContext(flags, tc)
	if err != nil {
		return err
	}

	tr := transport.NewServer(nil)
	o := orchestrator.New(bc.FinalBinaryName(), bc, tr, tc, processLauncher{}, nil)
	group := &orchestrator.Group{Orchestrators: []*orchestrator.Orchestrator{o}}

	return runDriver(tr, group)
}

func runLeptos(args []string) error {
	flags, err := parseLeptosFlags(args)
	if err != nil {
		return err
	}

	tc, err := newHostToolchain()
	if err != nil {
		return err
	}

	backendFlags := flags
	backendFlags.Bin = flags.Package
	backendCtx, err := newContext(backendFlags, tc)
	if err != nil {
		return err
	}

	frontendFlags := flags
	frontendFlags.Package = flags.FrontendPackage
	frontendFlags.Lib = true
	frontendFlags.Target = "wasm32-unknown-unknown"
	frontendCtx, err := newContext(frontendFlags, tc)
	if err != nil {
		return err
	}

	tr := transport.NewServer(nil)
	backend := orchestrator.New(backendFlags.Bin, backendCtx, tr, tc, processLauncher{}, nil)
	frontend := orchestrator.New(frontendFlags.Package, frontendCtx, tr, tc, processLauncher{}, nil)
	group := &orchestrator.Group{Orchestrators: []*orchestrator.Orchestrator{backend, frontend}}

	return runDriver(tr, group)
}

// newContext derives a buildctx.Context from parsed flags, creating the
// scratch files the linker-interception protocol writes to (spec.md §3,
// §4.A).
func newContext(flags Flags, tc *hostToolchain) (*buildctx.Context, error) {
	workingDir, err := filepath.Abs(filepath.Dir(flags.ManifestPath))
	if err != nil {
		return nil, err
	}
	targetDir := filepath.Join(workingDir, "target")
	triple := flags.Target
	if triple == "" {
		triple = hostTriple()
	}

	compilerArgsFile, err := buildctx.NewScratchFile(targetDir, "subsecond-rustc-args")
	if err != nil {
		return nil, err
	}
	linkArgsFile, err := buildctx.NewScratchFile(targetDir, "subsecond-link-args")
	if err != nil {
		return nil, err
	}
	linkErrFile, err := buildctx.NewScratchFile(targetDir, "subsecond-link-err")
	if err != nil {
		return nil, err
	}

	bc := &buildctx.Context{
		WorkingDir:     workingDir,
		TargetDir:      targetDir,
		Bin:            flags.Bin,
		Lib:            flags.Lib,
		Triple:         buildctx.ParseTriple(triple),
		Profile:        "debug",
		Package:        flags.Package,
		Features:       flags.Features,
		RustFlags:      flags.RustFlags,
		NoDefaultFeatures: flags.NoDefaultFeatures,
		CompilerArgsFile: compilerArgsFile,
		LinkArgsFile:     linkArgsFile,
		LinkErrFile:      linkErrFile,
		BundlePath:     filepath.Join(targetDir, "bundle", flagBinOr(flags)),
		SiteDir:        "site",
		SitePkgDir:     "pkg",
		WasmBindgenDir: "wasm-bindgen",
	}
	return bc, nil
}

func flagBinOr(flags Flags) string {
	if flags.Bin != "" {
		return flags.Bin
	}
	return flags.Package
}

// hostTriple is a minimal default used when --target is omitted; a real
// driver would ask rustc for its host triple, which is outside this
// module's scope (spec.md §1 "command-line parsing... out of scope").
func hostTriple() string {
	return "x86_64-unknown-linux-gnu"
}

// runDriver starts the transport, the orchestrator group, the stdin
// protocol reader and the status TUI, and blocks until "e"/"q" is seen.
func runDriver(tr *transport.Server, group *orchestrator.Group) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := tr.ListenAndServe(); err != nil {
			dlog.Errorf("transport: %v", err)
		}
	}()
	defer tr.Close()

	group.Start(ctx)
	defer group.StopAll()

	if err := group.Dispatch(ctx, orchestrator.CmdFat); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		runStdinProtocol(ctx, os.Stdin, group)
		close(done)
	}()

	program := tea.NewProgram(newStatusModel(group, tr))
	go func() {
		<-done
		program.Quit()
	}()
	_, err := program.Run()
	return err
}
