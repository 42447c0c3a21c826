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

// Package modulecache implements the hot-patch module cache (spec.md §3,
// §4.I): the parsed symbol table of a fat artifact, memoized once per fat
// build and read without locking by the stub synthesiser and jump table
// builder, since it never changes for the life of that artifact.
package modulecache

import (
	"errors"
	"fmt"
	"os"

	"github.com/rust-secure-code/go-rustaudit"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/dlog"
	"github.com/shadr/subsecond/objfile"
)

// Cache is the Go analog of the original driver's HotpatchModuleCache: a
// symbol table, built once per fat artifact and immutable thereafter.
// Discarded and rebuilt on every FatRebuild (spec.md §3).
type Cache struct {
	ArtifactPath string
	Flavor       buildctx.LinkerFlavor
	Table        objfile.Table

	// Dependencies is a cosmetic-only supplement (not present in the
	// distilled spec): the binary's embedded cargo-auditable dependency
	// list, when the fat artifact happens to have been built with it. Never
	// consulted for symbol resolution; logged at debug level only.
	Dependencies []Dependency
}

// Dependency is one cargo-auditable package record.
type Dependency struct {
	Name    string
	Version string
}

// New parses a fat artifact's symbol table and builds the cache for it.
// Symbol parsing failure is fatal (the cache is useless without it); a
// missing or malformed cargo-auditable section is not — it silently yields
// an empty Dependencies list, per DESIGN.md.
func New(artifactPath string, flavor buildctx.LinkerFlavor) (*Cache, error) {
	table, err := objfile.Read(artifactPath, flavor)
	if err != nil {
		return nil, fmt.Errorf("modulecache: parsing %s: %w", artifactPath, err)
	}

	c := &Cache{ArtifactPath: artifactPath, Flavor: flavor, Table: table}
	c.Dependencies = readAuditableDeps(artifactPath)
	return c, nil
}

// readAuditableDeps best-effort extracts the cargo-auditable dependency
// list embedded in the fat binary. Any failure here — wrong file format,
// no dep-info section at all, i/o error opening the file a second time —
// is swallowed and logged at debug, never surfaced as a cache construction
// error (see DESIGN.md).
func readAuditableDeps(path string) []Dependency {
	f, err := os.Open(path)
	if err != nil {
		dlog.Debugf("modulecache: could not reopen %s for cargo-auditable scan: %v", path, err)
		return nil
	}
	defer f.Close()

	info, err := rustaudit.GetDependencyInfo(f)
	if err != nil {
		if errors.Is(err, rustaudit.ErrUnknownFileFormat) || errors.Is(err, rustaudit.ErrNoRustDepInfo) {
			dlog.Debugf("modulecache: %s has no cargo-auditable dependency info", path)
			return nil
		}
		dlog.Debugf("modulecache: reading cargo-auditable info from %s: %v", path, err)
		return nil
	}

	deps := make([]Dependency, 0, len(info.Packages))
	for _, p := range info.Packages {
		if p.Kind != rustaudit.Runtime {
			continue
		}
		deps = append(deps, Dependency{Name: p.Name, Version: p.Version})
	}
	return deps
}

// AddressOf returns the address of a symbol defined in the fat artifact,
// the accessor spec.md §4.I names explicitly.
func (c *Cache) AddressOf(name string) (uint64, bool) {
	return c.Table.AddressOf(name)
}

// IfuncIndex returns the wasm function-table index for name, only
// meaningful when c.Flavor == buildctx.FlavorWasm.
func (c *Cache) IfuncIndex(name string) (uint32, bool) {
	idx, ok := c.Table.Ifunc[name]
	return idx, ok
}

// DefinedNames iterates over every symbol name the fat module defines —
// spec.md §4.I's "iteration over all defined symbols".
func (c *Cache) DefinedNames() []string {
	names := make([]string, 0, len(c.Table.Symbols))
	for name, sym := range c.Table.Symbols {
		if sym.Defined {
			names = append(names, name)
		}
	}
	return names
}
