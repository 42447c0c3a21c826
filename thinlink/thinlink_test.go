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

package thinlink

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/intercept"
)

func TestPreserveFromOriginalELF(t *testing.T) {
	original := []string{
		"cc", "-L/usr/lib/x86_64", "-lpthread", "-ldl", "-m64",
		"-Wl,-fuse-ld=lld", "-fuse-ld=lld", "-target", "x86_64-unknown-linux-gnu",
		"-o", "/tmp/out", "a.rcgu.o",
	}

	got := PreserveFromOriginal(buildctx.FlavorELF, original)

	if diff := cmp.Diff([]string{"-L/usr/lib/x86_64"}, got.LibPaths); diff != "" {
		t.Fatalf("LibPaths mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-lpthread", "-ldl", "-m64"}, got.LibFlags); diff != "" {
		t.Fatalf("LibFlags mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-target", "x86_64-unknown-linux-gnu"}, got.Target); diff != "" {
		t.Fatalf("Target mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-Wl,-fuse-ld=lld", "-fuse-ld=lld"}, got.ELFExtras); diff != "" {
		t.Fatalf("ELFExtras mismatch (-want +got):\n%s", diff)
	}
}

func TestPreserveFromOriginalMachO(t *testing.T) {
	original := []string{
		"cc", "-framework", "CoreFoundation", "-arch", "arm64", "-L/opt/lib",
		"-isysroot", "/sysroot", "-o", "/tmp/out",
	}

	got := PreserveFromOriginal(buildctx.FlavorMachO, original)

	if diff := cmp.Diff([]string{"-framework", "CoreFoundation"}, got.Frameworks); diff != "" {
		t.Fatalf("Frameworks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-arch", "arm64"}, got.Archs); diff != "" {
		t.Fatalf("Archs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-isysroot", "/sysroot"}, got.Isysroot); diff != "" {
		t.Fatalf("Isysroot mismatch (-want +got):\n%s", diff)
	}
}

func TestPreserveFromOriginalWasm(t *testing.T) {
	original := []string{"wasm-ld", "--export", "foo", "--export", "bar", "-o", "out.wasm"}

	got := PreserveFromOriginal(buildctx.FlavorWasm, original)

	want := []string{"--export", "foo", "--export", "bar"}
	if diff := cmp.Diff(want, got.Exports); diff != "" {
		t.Fatalf("Exports mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildArgvELFOrdersStubFirstAndSortsObjects(t *testing.T) {
	preserved := Preserved{LibPaths: []string{"-L/lib"}, LibFlags: []string{"-lc"}}
	argv := BuildArgv(buildctx.FlavorELF, preserved, "stub.o",
		[]string{"z.rcgu.o", "a.rcgu.o"}, []string{"libextra.so"}, "/out/libpatch.so", "")

	stubIdx, aIdx, zIdx, outIdx := -1, -1, -1, -1
	for i, a := range argv {
		switch a {
		case "stub.o":
			stubIdx = i
		case "a.rcgu.o":
			aIdx = i
		case "z.rcgu.o":
			zIdx = i
		case "-o":
			outIdx = i
		}
	}
	if stubIdx == -1 || aIdx == -1 || zIdx == -1 {
		t.Fatalf("expected stub and both object files present in argv: %v", argv)
	}
	if !(stubIdx < aIdx && aIdx < zIdx) {
		t.Fatalf("expected stub before sorted objects (a before z), got %v", argv)
	}
	if outIdx == -1 || argv[outIdx+1] != "/out/libpatch.so" {
		t.Fatalf("expected -o /out/libpatch.so at the end, got %v", argv)
	}
	if argv[len(argv)-1] != "/out/libpatch.so" || argv[len(argv)-2] != "-o" {
		t.Fatalf("expected output directive last, got %v", argv)
	}
}

func TestBuildArgvCOFFUsesSlashOut(t *testing.T) {
	argv := BuildArgv(buildctx.FlavorCOFF, Preserved{}, "", []string{"a.obj"}, nil, "C:\\out\\patch.dll", "C:\\out\\patch.pdb")
	last := argv[len(argv)-1]
	if last != "/OUT:C:\\out\\patch.dll" {
		t.Fatalf("expected /OUT: directive last, got %q (argv=%v)", last, argv)
	}
}

func TestOutputPathIncludesPatchSuffix(t *testing.T) {
	got := OutputPath("/tmp/target", "myapp", buildctx.FlavorELF, 1700000000000)
	want := "/tmp/target/libmyapp-patch-1700000000000." + buildctx.FlavorELF.BinaryExtension()
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestCompileArgvDropsWrapperAndAddsPICOnWasm(t *testing.T) {
	captured := []string{"/path/to/driver", "--crate-type", "cdylib"}

	elfArgv := CompileArgv(buildctx.FlavorELF, captured)
	if diff := cmp.Diff([]string{"--crate-type", "cdylib"}, elfArgv); diff != "" {
		t.Fatalf("ELF argv mismatch (-want +got):\n%s", diff)
	}

	wasmArgv := CompileArgv(buildctx.FlavorWasm, captured)
	want := []string{"--crate-type", "cdylib", "-Crelocation-model=pic"}
	if diff := cmp.Diff(want, wasmArgv); diff != "" {
		t.Fatalf("wasm argv mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileEnvClearsWrapperVars(t *testing.T) {
	captured := []intercept.EnvPair{
		{Key: "RUSTC_WRAPPER", Value: "/path/to/driver"},
		{Key: "DX_RUSTC", Value: "/path/to/rustc"},
		{Key: "DX_LINK", Value: "/path/to/driver"},
		{Key: "PATH", Value: "/usr/bin"},
	}

	got := CompileEnv(captured)
	for _, e := range got {
		if e.Key == "RUSTC_WRAPPER" || e.Key == "DX_RUSTC" {
			t.Fatalf("expected %s to be cleared, still present", e.Key)
		}
	}
	foundLink, foundPath := false, false
	for _, e := range got {
		if e.Key == "DX_LINK" {
			foundLink = true
		}
		if e.Key == "PATH" {
			foundPath = true
		}
	}
	if !foundLink || !foundPath {
		t.Fatalf("expected DX_LINK and PATH to survive filtering, got %+v", got)
	}
}
