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

// Package buildctx holds the per-target build context: the paths, triple,
// and scratch files a single Orchestrator needs to drive fat and thin builds
// for one compilation target.
package buildctx

import (
	"fmt"
	"os"
	"path/filepath"
)

// ScratchFile is a named temporary file the linker-interception protocol
// reads and writes across process boundaries (compiler-args capture,
// linker-args capture, linker stderr capture). It behaves like Rust's
// NamedTempFile: created once, reused for the lifetime of the Context, and
// removed on Close.
type ScratchFile struct {
	Path string
	f    *os.File
}

// NewScratchFile creates a scratch file in dir with the given name prefix.
func NewScratchFile(dir, prefix string) (*ScratchFile, error) {
	f, err := os.CreateTemp(dir, prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("buildctx: creating scratch file %s: %w", prefix, err)
	}
	return &ScratchFile{Path: f.Name(), f: f}, nil
}

// Close removes the scratch file from disk.
func (s *ScratchFile) Close() error {
	if s.f != nil {
		_ = s.f.Close()
	}
	return os.Remove(s.Path)
}

// Context is the per-target build context: everything the Fat Archive
// Builder, Fat Linker, Thin Linker, Stub Synthesiser and Jump Table Builder
// need to know about one compilation target.
type Context struct {
	WorkingDir string
	TargetDir  string

	// Exactly one of Bin/Lib identifies the target within the package.
	Bin string
	Lib bool

	Triple  Triple
	Profile string // e.g. "debug", "release"
	Package string

	Features          []string
	RustFlags         []string
	NoDefaultFeatures bool

	CompilerArgsFile *ScratchFile
	LinkArgsFile     *ScratchFile
	LinkErrFile      *ScratchFile

	BundlePath string

	SiteDir       string
	SitePkgDir    string
	WasmBindgenDir string
}

// Flavor is a convenience accessor for Triple.Flavor().
func (c *Context) Flavor() LinkerFlavor { return c.Triple.Flavor() }

// FrameworksDirectory is where macOS framework stubs referenced by a patch
// are staged.
func (c *Context) FrameworksDirectory() string {
	return filepath.Join(c.TargetDir, "frameworks")
}

// SiteDirPath is the working-directory-relative site root (served assets).
func (c *Context) SiteDirPath() string {
	return filepath.Join(c.WorkingDir, c.SiteDir)
}

// SitePkgPath is where wasm-bindgen output is copied for serving.
func (c *Context) SitePkgPath() string {
	return filepath.Join(c.SiteDirPath(), c.SitePkgDir)
}

// TargetTripleProfileDir is cargo's per-triple, per-profile output directory.
func (c *Context) TargetTripleProfileDir() string {
	return filepath.Join(c.TargetDir, c.Triple.String(), c.Profile)
}

// WasmBindgenDirPath is where wasm-bindgen's generated bindings are written.
func (c *Context) WasmBindgenDirPath() string {
	return filepath.Join(c.TargetDir, c.WasmBindgenDir)
}

// FinalBinaryName is the name cargo gives the compiled artifact: the bin
// name if one was specified, otherwise the package name for a lib target.
// Exactly one of Bin/Lib must be set; callers that construct a Context are
// responsible for that invariant.
func (c *Context) FinalBinaryName() string {
	if c.Bin != "" {
		return c.Bin
	}
	return c.Package
}

// PatchExePath computes the path a thin build's relink should produce,
// embedding a millisecond build timestamp so every patch gets a fresh
// filename (required so dlopen never serves a stale cached mapping of a
// previously-used path).
func (c *Context) PatchExePath(buildTimeUnixMilli int64) string {
	dir := filepath.Dir(filepath.Join(c.TargetTripleProfileDir(), c.FinalBinaryName()))
	name := fmt.Sprintf("lib%s-patch-%d", c.FinalBinaryName(), buildTimeUnixMilli)
	ext := c.Flavor().BinaryExtension()
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(dir, name)
}
