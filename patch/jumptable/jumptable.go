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

// Package jumptable implements the jump table builder (spec.md §4.F):
// diffing a linked patch's defined-symbol set against the fat module's
// symbol table to produce the (old-symbol -> new-address) mapping a
// running process splices into its own dispatch.
package jumptable

import (
	"fmt"
	"path/filepath"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/devmsg"
	"github.com/shadr/subsecond/modulecache"
	"github.com/shadr/subsecond/objfile"
)

// Build parses patchPath's defined-symbol set and intersects it against
// cache's defined names, producing one jump-table entry per symbol present
// in both (spec.md §4.F steps 1-2). For wasm, resolution goes through the
// Ifunc index map on both sides instead of raw addresses (step 3) — names
// are never demangled anywhere in this path (spec.md §9).
func Build(patchPath string, cache *modulecache.Cache, aslrReference uint64) (devmsg.JumpTable, error) {
	patchTable, err := objfile.Read(patchPath, cache.Flavor)
	if err != nil {
		return devmsg.JumpTable{}, fmt.Errorf("jumptable: reading patch %s: %w", patchPath, err)
	}

	m := make(map[string]uint64)
	if cache.Flavor == buildctx.FlavorWasm {
		for name, patchIdx := range patchTable.Ifunc {
			if _, ok := cache.IfuncIndex(name); ok {
				m[name] = uint64(patchIdx)
			}
		}
	} else {
		for name, sym := range patchTable.Symbols {
			if !sym.Defined {
				continue
			}
			if _, ok := cache.AddressOf(name); ok {
				m[name] = sym.Value
			}
		}
	}

	return devmsg.JumpTable{
		Lib:           patchPath,
		Map:           m,
		ASLRReference: aslrReference,
	}, nil
}

// RewriteForSite replaces a wasm jump table's Lib field with the
// site-relative URL the browser client loads it from, after the caller has
// copied the patch file into <target>/site/pkg/ (spec.md §4.F step 4).
func RewriteForSite(jt devmsg.JumpTable) devmsg.JumpTable {
	jt.Lib = "/pkg/" + filepath.Base(jt.Lib)
	return jt
}
