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

package buildctx

import "strings"

// Triple is a minimal parse of a Rust-style target triple
// (arch-vendor-os[-env]). It captures the fields the linker-flavor and
// wasm-detection logic needs, plus the vendor so String can reassemble the
// triple; it is not a general target-description parser.
type Triple struct {
	Arch   string
	Vendor string
	OS     string
	Env    string
}

// ParseTriple parses a dash-separated target triple such as
// "x86_64-unknown-linux-gnu" or "wasm32-unknown-unknown". Triples with no
// environment component (e.g. the wasm32 triple) leave Env empty.
func ParseTriple(s string) Triple {
	parts := strings.Split(s, "-")
	t := Triple{}
	if len(parts) > 0 {
		t.Arch = parts[0]
	}
	if len(parts) >= 3 {
		t.Vendor = parts[1]
		t.OS = parts[2]
	}
	if len(parts) >= 4 {
		t.Env = parts[3]
	}
	return t
}

// String reassembles the triple into its canonical dash-separated form.
func (t Triple) String() string {
	vendor := t.Vendor
	if vendor == "" {
		vendor = "unknown"
	}
	parts := []string{t.Arch, vendor, t.OS}
	if t.Env != "" {
		parts = append(parts, t.Env)
	}
	return strings.Join(parts, "-")
}

// IsWasm reports whether the triple targets wasm32 or wasm64, regardless of
// operating system/environment.
func (t Triple) IsWasm() bool {
	return t.Arch == "wasm32" || t.Arch == "wasm64"
}

// IsWasmOrWasi reports whether the triple targets wasm, or targets the WASI
// operating system outright (e.g. a non-wasm32 WASI triple).
func (t Triple) IsWasmOrWasi() bool {
	return t.IsWasm() || t.OS == "wasi"
}

// IsDarwin reports whether the triple targets a Darwin-family OS.
func (t Triple) IsDarwin() bool {
	return t.OS == "darwin" || t.OS == "macos" || t.OS == "ios"
}

// IsWindows reports whether the triple targets Windows.
func (t Triple) IsWindows() bool {
	return t.OS == "windows"
}

// IsGnuEnv reports whether the triple's environment component is one of the
// GNU ABI variants.
func (t Triple) IsGnuEnv() bool {
	switch t.Env {
	case "gnu", "gnuabi64", "gnueabi", "gnueabihf", "gnullvm":
		return true
	default:
		return false
	}
}
