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

package fatlink

import (
	"strings"
	"testing"

	"github.com/shadr/subsecond/buildctx"
)

func TestRewriteArgsSplicesWholeArchive(t *testing.T) {
	args := []string{"a.rcgu.o", "b.rlib", "-o", "out"}
	got, err := RewriteArgs(buildctx.FlavorELF, args, "/tmp/libdeps-aabbccdd.a", []string{"/usr/lib/libcore.rlib"}, "/tmp/out")
	if err != nil {
		t.Fatalf("RewriteArgs: %v", err)
	}
	joined := strings.Join(got, " ")
	if !strings.Contains(joined, "-Wl,--whole-archive /tmp/libdeps-aabbccdd.a -Wl,--no-whole-archive") {
		t.Fatalf("expected whole-archive span, got %q", joined)
	}
	if strings.Contains(joined, "b.rlib") {
		t.Fatalf("rlib argument should have been removed: %q", joined)
	}
	if !strings.Contains(joined, "/usr/lib/libcore.rlib") {
		t.Fatalf("sidecar rlib should be re-appended: %q", joined)
	}
	if strings.Count(joined, "-o ") != 1 {
		t.Fatalf("expected exactly one output flag, got %q", joined)
	}
}

// P3: re-running RewriteArgs against an argv that already contains the
// whole-archive span for the same archive must not duplicate it.
func TestRewriteArgsIdempotent(t *testing.T) {
	archivePath := "/tmp/libdeps-aabbccdd.a"
	first, err := RewriteArgs(buildctx.FlavorELF, []string{"a.rcgu.o", "-o", "out"}, archivePath, nil, "/tmp/out")
	if err != nil {
		t.Fatalf("RewriteArgs (first): %v", err)
	}

	second, err := RewriteArgs(buildctx.FlavorELF, first, archivePath, nil, "/tmp/out")
	if err != nil {
		t.Fatalf("RewriteArgs (second): %v", err)
	}

	count := 0
	for _, a := range second {
		if a == archivePath {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("P3 violated: archive path appears %d times after re-splice, want 1: %v", count, second)
	}
}

func TestRewriteArgsMachO(t *testing.T) {
	got, err := RewriteArgs(buildctx.FlavorMachO, []string{"a.o", "-o", "out"}, "/tmp/libdeps-deadbeef.a", nil, "/tmp/out")
	if err != nil {
		t.Fatalf("RewriteArgs: %v", err)
	}
	joined := strings.Join(got, " ")
	if !strings.Contains(joined, "-Wl,-force_load /tmp/libdeps-deadbeef.a") {
		t.Fatalf("expected mach-o force_load directive, got %q", joined)
	}
	if !strings.Contains(joined, "-Wl,-exported_symbol,_main") {
		t.Fatalf("expected exported _main symbol, got %q", joined)
	}
}

func TestRewriteArgsCOFF(t *testing.T) {
	got, err := RewriteArgs(buildctx.FlavorCOFF, []string{"a.obj", "/OUT:old.dll"}, "C:\\libdeps-deadbeef.a", nil, "C:\\out.dll")
	if err != nil {
		t.Fatalf("RewriteArgs: %v", err)
	}
	joined := strings.Join(got, " ")
	if !strings.Contains(joined, "/WHOLEARCHIVE:C:\\libdeps-deadbeef.a") {
		t.Fatalf("expected coff wholearchive directive, got %q", joined)
	}
	if strings.Contains(joined, "/OUT:old.dll") {
		t.Fatalf("old output should have been stripped, got %q", joined)
	}
	if !strings.Contains(joined, "/OUT:C:\\out.dll") {
		t.Fatalf("expected rewritten output, got %q", joined)
	}
}

func TestRewriteArgsWasmStripsFlavorPair(t *testing.T) {
	got, err := RewriteArgs(buildctx.FlavorWasm, []string{"-flavor", "wasm", "a.rcgu.o", "-o", "out.wasm"}, "/tmp/libdeps-aabbccdd.a", nil, "/tmp/out.wasm")
	if err != nil {
		t.Fatalf("RewriteArgs: %v", err)
	}
	for _, a := range got {
		if a == "-flavor" {
			t.Fatalf("-flavor pair should have been stripped for wasm: %v", got)
		}
	}
}
