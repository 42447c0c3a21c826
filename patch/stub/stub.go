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

// Package stub implements the stub synthesiser (spec.md §4.E): given the
// thin build's fresh object files and the module cache of the already-
// running fat process, it computes the set of symbols the patch leaves
// undefined that the fat module can supply, and emits a tiny synthetic
// object file assigning each of them an absolute value inside the live
// process's address space.
package stub

import (
	"errors"
	"fmt"
	"os"

	"bitbucket.org/creachadair/stringset"
	"github.com/ianlancetaylor/demangle"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/dlog"
	"github.com/shadr/subsecond/modulecache"
	"github.com/shadr/subsecond/objfile"
)

// ErrUnresolvedSymbol is returned when a symbol the patch leaves undefined
// is absent from both the module cache and the preserved-dylib set (spec.md
// §4.E failure case, §7.4).
var ErrUnresolvedSymbol = errors.New("failed to resolve patch symbols")

// Plan is the resolved set of (symbol -> absolute address) pairs a stub
// object must encode, plus the names that ended up resolved by a preserved
// dylib/so instead of the stub (informational only).
type Plan struct {
	Resolved        map[string]uint64
	ResolvedByDylib stringset.Set
}

// Resolve computes the stub plan for one thin build: every symbol
// undefined across objectFiles that the module cache defines gets an
// absolute address of cache.address_of(sym) + aslrReference. Names already
// satisfied by a preserved dylib/so (dylibDefinedNames) are recorded but
// excluded from the stub itself — the dynamic linker resolves those.
//
// Returns ErrUnresolvedSymbol if any undefined symbol is neither in the
// cache nor in dylibDefinedNames (P4).
func Resolve(flavor buildctx.LinkerFlavor, objectFiles []string, cache *modulecache.Cache, dylibDefinedNames []string, aslrReference uint64) (Plan, error) {
	undefined := stringset.New()
	for _, path := range objectFiles {
		table, err := objfile.Read(path, flavor)
		if err != nil {
			return Plan{}, fmt.Errorf("stub: reading %s: %w", path, err)
		}
		undefined.Add(table.Undefined()...)
	}

	return ResolveSymbols(undefined, cache.AddressOf, stringset.New(dylibDefinedNames...), aslrReference)
}

// ResolveSymbols is the pure resolution logic behind Resolve, split out so
// it can be exercised without needing real object files on disk: given the
// full undefined-symbol set across a thin build's objects, an address
// lookup (ordinarily modulecache.Cache.AddressOf), and the set of names a
// preserved dylib/so already supplies, it computes the stub Plan or fails
// per P4/§4.E.
func ResolveSymbols(undefined stringset.Set, addressOf func(string) (uint64, bool), dylibDefined stringset.Set, aslrReference uint64) (Plan, error) {
	plan := Plan{
		Resolved:        make(map[string]uint64, len(undefined)),
		ResolvedByDylib: stringset.New(),
	}

	var unresolved []string
	for name := range undefined {
		if dylibDefined.Contains(name) {
			plan.ResolvedByDylib.Add(name)
			continue
		}
		addr, ok := addressOf(name)
		if !ok {
			unresolved = append(unresolved, name)
			continue
		}
		plan.Resolved[name] = addr + aslrReference
		logResolution(name, addr, aslrReference)
	}

	if len(unresolved) > 0 {
		return Plan{}, fmt.Errorf("stub: %w: %v", ErrUnresolvedSymbol, unresolved)
	}
	return plan, nil
}

// logResolution emits a trace-level line with the demangled form of name
// for human readability. The demangled form is never used as a map key —
// demangling corrupts ifunc lookup on wasm and there is no reason to treat
// native targets differently here, per spec.md §9.
func logResolution(name string, addr, aslrReference uint64) {
	pretty := name
	if d, err := demangle.ToString(name, demangle.NoClones); err == nil {
		pretty = d
	}
	dlog.Debugf("stub: resolved %s (%s) -> 0x%x (aslr 0x%x)", pretty, name, addr+aslrReference, aslrReference)
}

// Write serialises a resolved Plan into the stub object file for flavor,
// using the flavor-appropriate absolute-symbol object writer (spec.md
// §4.E), and writes it to path.
func Write(flavor buildctx.LinkerFlavor, plan Plan, path string) error {
	var data []byte
	var err error
	switch flavor {
	case buildctx.FlavorELF:
		data, err = objfile.WriteELFStub(plan.Resolved, true, true)
	case buildctx.FlavorMachO:
		data, err = objfile.WriteMachOStub(plan.Resolved, true)
	case buildctx.FlavorCOFF:
		data, err = objfile.WriteCOFFStub(plan.Resolved)
	default:
		return fmt.Errorf("stub: flavor %s does not use a stub object", flavor)
	}
	if err != nil {
		return fmt.Errorf("stub: encoding stub object: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("stub: writing stub object %s: %w", path, err)
	}
	return nil
}
