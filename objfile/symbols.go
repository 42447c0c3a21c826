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

// Package objfile wraps the object-format readers the module cache, stub
// synthesiser and jump-table builder all need: parsing a fat artifact's or
// a patch's symbol table, and writing the small synthetic stub objects the
// stub synthesiser emits. It is the one place that imports the
// format-specific parsing libraries, so the rest of the driver only ever
// deals with buildctx.LinkerFlavor and plain symbol maps.
package objfile

import (
	"debug/elf"
	"fmt"

	gomacho "github.com/blacktop/go-macho"
	"github.com/saferwall/pe"

	"github.com/shadr/subsecond/buildctx"
)

// Symbol is one entry of a parsed symbol table: its address (or, for an
// undefined symbol, zero) and whether the symbol's definition lives in this
// file.
type Symbol struct {
	Name    string
	Value   uint64
	Section int
	Defined bool
}

// Table is a parsed object's full symbol table, keyed by name. Ifunc is only
// populated for wasm artifacts; for every other flavor it is nil.
type Table struct {
	Symbols map[string]Symbol
	Ifunc   map[string]uint32
}

// Read parses path's symbol table according to flavor. It never demangles
// names — callers that need a human-readable name for logging do that
// themselves, since un-demangled names are also the ifunc lookup key on
// wasm (spec.md §9).
func Read(path string, flavor buildctx.LinkerFlavor) (Table, error) {
	switch flavor {
	case buildctx.FlavorELF:
		return readELF(path)
	case buildctx.FlavorMachO:
		return readMachO(path)
	case buildctx.FlavorCOFF:
		return readPE(path)
	case buildctx.FlavorWasm:
		return readWasm(path)
	default:
		return Table{}, fmt.Errorf("objfile: unsupported flavor %s for %s", flavor, path)
	}
}

func readELF(path string) (Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("objfile: opening elf %s: %w", path, err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		// Stripped binaries have no .symtab; .dynsym is the next best source.
		syms, err = f.DynamicSymbols()
		if err != nil {
			return Table{}, fmt.Errorf("objfile: reading elf symbols %s: %w", path, err)
		}
	}

	out := make(map[string]Symbol, len(syms))
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		out[s.Name] = Symbol{
			Name:    s.Name,
			Value:   s.Value,
			Section: int(s.Section),
			Defined: s.Section != elf.SHN_UNDEF,
		}
	}
	return Table{Symbols: out}, nil
}

func readMachO(path string) (Table, error) {
	f, err := gomacho.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("objfile: opening macho %s: %w", path, err)
	}
	defer f.Close()

	if f.Symtab == nil {
		return Table{}, fmt.Errorf("objfile: %s has no symbol table", path)
	}

	out := make(map[string]Symbol, len(f.Symtab.Syms))
	for _, s := range f.Symtab.Syms {
		if s.Name == "" {
			continue
		}
		out[s.Name] = Symbol{
			Name:    s.Name,
			Value:   s.Value,
			Section: int(s.Sect),
			Defined: s.Sect != 0,
		}
	}
	return Table{Symbols: out}, nil
}

func readPE(path string) (Table, error) {
	f, err := pe.New(path, &pe.Options{})
	if err != nil {
		return Table{}, fmt.Errorf("objfile: opening pe %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Parse(); err != nil {
		return Table{}, fmt.Errorf("objfile: parsing pe %s: %w", path, err)
	}

	out := make(map[string]Symbol, len(f.Symbols))
	for _, s := range f.Symbols {
		if s.Name == "" {
			continue
		}
		out[s.Name] = Symbol{
			Name:    s.Name,
			Value:   uint64(s.Value),
			Section: int(s.SectionNumber),
			Defined: s.SectionNumber > 0,
		}
	}
	return Table{Symbols: out}, nil
}

// Undefined returns the names of every symbol in t that has no definition —
// the set the stub synthesiser must resolve (§4.E).
func (t Table) Undefined() []string {
	var out []string
	for name, s := range t.Symbols {
		if !s.Defined {
			out = append(out, name)
		}
	}
	return out
}

// AddressOf returns the address of a defined symbol, mirroring the module
// cache's address_of(name) accessor from spec.md §4.I.
func (t Table) AddressOf(name string) (uint64, bool) {
	s, ok := t.Symbols[name]
	if !ok || !s.Defined {
		return 0, false
	}
	return s.Value, true
}
