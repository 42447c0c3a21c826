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

package objfile

import (
	"bytes"
	"debug/elf"
	"testing"
)

// TestWriteELFStubRoundTrip exercises the one invariant that matters for
// P4/P5: every symbol written into a stub object is readable back out as
// an absolute-valued (SHN_ABS), globally visible symbol at the exact value
// it was given.
func TestWriteELFStubRoundTrip(t *testing.T) {
	want := map[string]uint64{
		"_ZN4core3fmt5Write9write_fmt17h0a0a0a0a0a0a0a0aE": 0x7f0000001000,
		"needs_patching": 0xDEADBEEF,
	}

	data, err := WriteELFStub(want, true, true)
	if err != nil {
		t.Fatalf("WriteELFStub: %v", err)
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}

	got := make(map[string]uint64, len(syms))
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		if s.Section != elf.SHN_ABS {
			t.Fatalf("symbol %s: expected SHN_ABS, got section %v", s.Name, s.Section)
		}
		if elf.ST_BIND(s.Info) != elf.STB_GLOBAL {
			t.Fatalf("symbol %s: expected STB_GLOBAL, got binding %v", s.Name, elf.ST_BIND(s.Info))
		}
		got[s.Name] = s.Value
	}

	for name, addr := range want {
		gotAddr, ok := got[name]
		if !ok {
			t.Fatalf("symbol %s missing from round-tripped stub", name)
		}
		if gotAddr != addr {
			t.Fatalf("symbol %s: want 0x%x, got 0x%x", name, addr, gotAddr)
		}
	}
}
