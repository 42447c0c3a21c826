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
	"os"
	"os/exec"

	"github.com/shadr/subsecond/buildctx"
)

// hostToolchain resolves the real rustc and platform-linker paths from
// PATH/environment. Self is this binary's own path, used as both the
// RUSTC_WRAPPER and the -Clinker target (spec.md §4.A).
type hostToolchain struct {
	self       string
	rustc      string
	elfLinker  string
	machLinker string
	coffLinker string
	wasmLinker string
}

func newHostToolchain() (*hostToolchain, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	rustc, err := exec.LookPath("rustc")
	if err != nil {
		rustc = "rustc"
	}
	return &hostToolchain{
		self:       self,
		rustc:      rustc,
		elfLinker:  lookPathOr("cc", "cc"),
		machLinker: lookPathOr("clang", "clang"),
		coffLinker: lookPathOr("link.exe", "link.exe"),
		wasmLinker: lookPathOr("wasm-ld", "wasm-ld"),
	}, nil
}

func lookPathOr(name, fallback string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return fallback
}

// CompilerPath implements orchestrator.Toolchain.
func (h *hostToolchain) CompilerPath() string { return h.rustc }

// LinkerPath implements orchestrator.Toolchain.
func (h *hostToolchain) LinkerPath(flavor buildctx.LinkerFlavor) string {
	switch flavor {
	case buildctx.FlavorMachO:
		return h.machLinker
	case buildctx.FlavorCOFF:
		return h.coffLinker
	case buildctx.FlavorWasm:
		return h.wasmLinker
	default:
		return h.elfLinker
	}
}

// processLauncher spawns the compiled bundle as a child process of this
// driver (spec.md §4.H "owns the child process handle").
type processLauncher struct{}

func (processLauncher) Spawn(ctx context.Context, bundlePath string) (*os.Process, error) {
	cmd := exec.CommandContext(ctx, bundlePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go cmd.Wait() // reap without blocking the orchestrator
	return cmd.Process, nil
}
