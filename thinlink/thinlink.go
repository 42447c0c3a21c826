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

// Package thinlink implements the thin linker (spec.md §4.D): unlike
// fatlink, it never reuses the captured argv — it builds a fresh,
// minimal argv from scratch per linker flavor that emits a relocatable
// shared object from only the changed translation units.
package thinlink

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/intercept"
)

// peFixedLibs is the PE flavor's constant library set (spec.md §4.D "PE").
var peFixedLibs = []string{"shlwapi", "kernel32", "advapi32", "ntdll", "userenv", "ws2_32", "dbghelp", "msvcrt"}

// Preserved is the set of original-argv fragments the fresh thin argv
// carries forward, collected per flavor's preservation rules.
type Preserved struct {
	Exports    []string // wasm: --export NAME pairs
	Frameworks []string // mach: -framework X pairs
	Archs      []string // mach: -arch X pairs
	LibPaths   []string // mach/elf: -L X pairs
	LibFlags   []string // mach/elf: lone -l*/-m* tokens
	ELFExtras  []string // elf: -Wl,--target=*, -Wl,-fuse-ld*, -fuse-ld*, *-ld-path*
	Target     []string // -target X pair, any flavor
	Isysroot   []string // -isysroot X pair, any flavor
}

// PreserveFromOriginal scans the captured fat-build linker argv for the
// fragments §4.D says the thin build must carry forward, per flavor.
func PreserveFromOriginal(flavor buildctx.LinkerFlavor, original []string) Preserved {
	var p Preserved
	for i := 0; i < len(original); i++ {
		a := original[i]
		switch {
		case a == "-target" && i+1 < len(original):
			p.Target = append(p.Target, a, original[i+1])
			i++
		case a == "-isysroot" && i+1 < len(original):
			p.Isysroot = append(p.Isysroot, a, original[i+1])
			i++
		}

		switch flavor {
		case buildctx.FlavorWasm:
			if a == "--export" && i+1 < len(original) {
				p.Exports = append(p.Exports, a, original[i+1])
				i++
			}
		case buildctx.FlavorMachO:
			switch {
			case a == "-framework" && i+1 < len(original):
				p.Frameworks = append(p.Frameworks, a, original[i+1])
				i++
			case a == "-arch" && i+1 < len(original):
				p.Archs = append(p.Archs, a, original[i+1])
				i++
			case a == "-L" && i+1 < len(original):
				p.LibPaths = append(p.LibPaths, a, original[i+1])
				i++
			case strings.HasPrefix(a, "-L") && len(a) > 2:
				p.LibPaths = append(p.LibPaths, a)
			case isLoneLOrM(a):
				p.LibFlags = append(p.LibFlags, a)
			}
		case buildctx.FlavorELF:
			switch {
			case a == "-L" && i+1 < len(original):
				p.LibPaths = append(p.LibPaths, a, original[i+1])
				i++
			case strings.HasPrefix(a, "-L") && len(a) > 2:
				p.LibPaths = append(p.LibPaths, a)
			case isLoneLOrM(a):
				p.LibFlags = append(p.LibFlags, a)
			case strings.HasPrefix(a, "-Wl,--target="),
				strings.HasPrefix(a, "-Wl,-fuse-ld"),
				strings.HasPrefix(a, "-fuse-ld"),
				strings.Contains(a, "-ld-path"):
				p.ELFExtras = append(p.ELFExtras, a)
			}
		}
	}
	return p
}

func isLoneLOrM(a string) bool {
	if len(a) < 2 {
		return false
	}
	return (strings.HasPrefix(a, "-l") || strings.HasPrefix(a, "-m")) && a != "-L"
}

// BuildArgv assembles the fresh thin-link argv: the flavor-specific
// constant prefix, the preserved fragments, then the inputs (stub object
// first if present, sorted object files, preserved dylibs/so), and finally
// the output directive.
func BuildArgv(flavor buildctx.LinkerFlavor, preserved Preserved, stubObject string, objectFiles, preservedDylibs []string, outputPath, pdbEnvVar string) []string {
	sorted := append([]string(nil), objectFiles...)
	sort.Strings(sorted)

	var inputs []string
	if stubObject != "" {
		inputs = append(inputs, stubObject)
	}
	inputs = append(inputs, sorted...)
	inputs = append(inputs, preservedDylibs...)

	var argv []string
	switch flavor {
	case buildctx.FlavorWasm:
		argv = append(argv, "--fatal-warnings", "--import-memory", "--import-table",
			"--growable-table", "--export", "main", "--allow-undefined", "--no-demangle",
			"--no-entry", "--pie", "--experimental-pic")
		argv = append(argv, preserved.Exports...)
		argv = append(argv, preserved.Target...)
		argv = append(argv, preserved.Isysroot...)
		argv = append(argv, inputs...)
		argv = append(argv, "-o", outputPath)

	case buildctx.FlavorMachO:
		argv = append(argv, "-Wl,-dylib")
		argv = append(argv, preserved.Frameworks...)
		argv = append(argv, preserved.Archs...)
		argv = append(argv, preserved.LibPaths...)
		argv = append(argv, preserved.LibFlags...)
		argv = append(argv, preserved.Target...)
		argv = append(argv, preserved.Isysroot...)
		argv = append(argv, inputs...)
		argv = append(argv, "-o", outputPath)

	case buildctx.FlavorELF:
		argv = append(argv, "-shared", "-Wl,--eh-frame-hdr", "-Wl,-z,noexecstack",
			"-Wl,-z,relro,-z,now", "-nodefaultlibs", "-Wl,-Bdynamic")
		argv = append(argv, preserved.LibPaths...)
		argv = append(argv, preserved.LibFlags...)
		argv = append(argv, preserved.ELFExtras...)
		argv = append(argv, preserved.Target...)
		argv = append(argv, preserved.Isysroot...)
		argv = append(argv, inputs...)
		argv = append(argv, "-o", outputPath)

	case buildctx.FlavorCOFF:
		for _, lib := range peFixedLibs {
			argv = append(argv, lib)
		}
		argv = append(argv, "/DLL", "/DEBUG", "/PDBALTPATH:"+pdbEnvVar, "/EXPORT:main", "/HIGHENTROPYVA:NO")
		argv = append(argv, preserved.Target...)
		argv = append(argv, preserved.Isysroot...)
		argv = append(argv, inputs...)
		argv = append(argv, "/OUT:"+outputPath)
	}
	return argv
}

// OutputPath computes the thin build's output artifact path (spec.md §4.D
// "Output path"): lib<binary>-patch-<unix_millis_at_start>.<ext>.
func OutputPath(dir, binary string, flavor buildctx.LinkerFlavor, startUnixMilli int64) string {
	ext := flavor.BinaryExtension()
	name := fmt.Sprintf("lib%s-patch-%d", binary, startUnixMilli)
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(dir, name)
}

// CompileEnv derives the thin build's compiler environment from the fat
// build's captured environment: RUSTC_WRAPPER, RUSTC_WORKSPACE_WRAPPER and
// DX_RUSTC are cleared (so the compiler is invoked directly rather than
// looping back through the interception wrapper), while the rest of the
// linker-interception env vars are kept so the *linker* step of this very
// compile still reports back through DX_LINK (spec.md §4.D).
func CompileEnv(captured []intercept.EnvPair) []intercept.EnvPair {
	return intercept.FilterEnv(captured, "RUSTC_WRAPPER", "RUSTC_WORKSPACE_WRAPPER", "DX_RUSTC")
}

// CompileArgv derives the thin build's rustc argv from the fat build's
// captured argv: per spec.md §3's invariant, it equals the fat argv with
// the driver's own first element (the wrapper path) dropped. On wasm an
// additional -Crelocation-model=pic is appended (spec.md §4.D).
func CompileArgv(flavor buildctx.LinkerFlavor, capturedArgs []string) []string {
	var argv []string
	if len(capturedArgs) > 1 {
		argv = append(argv, capturedArgs[1:]...)
	}
	if flavor == buildctx.FlavorWasm {
		argv = append(argv, "-Crelocation-model=pic")
	}
	return argv
}

// Result captures a thin-link invocation's outcome.
type Result struct {
	Stdout string
	Stderr string
}

// RunCompile re-invokes the upstream compiler to produce this build's fresh
// .rcgu.o object files (spec.md §4.D "The compiler is re-invoked...").
func RunCompile(ctx context.Context, compilerPath string, argv []string, envs []intercept.EnvPair) (Result, error) {
	return run(ctx, compilerPath, argv, envs)
}

// RunLink spawns the platform linker (or wasm-ld) against the fresh thin
// argv. After a successful link the original captured thin-link output
// path is deleted from disk — the documented "dlopen cache bug"
// workaround (spec.md §4.D) — and every consumed .rcgu.o input is removed.
func RunLink(ctx context.Context, linkerPath string, argv []string, envs []intercept.EnvPair, capturedOutputToDelete string) (Result, error) {
	res, err := run(ctx, linkerPath, argv, envs)
	if err != nil {
		return res, err
	}

	if capturedOutputToDelete != "" {
		_ = os.Remove(capturedOutputToDelete)
	}
	for _, a := range argv {
		if strings.HasSuffix(a, ".rcgu.o") {
			_ = os.Remove(a)
		}
	}
	return res, nil
}

func run(ctx context.Context, path string, argv []string, envs []intercept.EnvPair) (Result, error) {
	cmd := exec.CommandContext(ctx, path, argv...)
	cmd.Env = intercept.EnvironSlice(envs)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runErr != nil {
		if res.Stderr != "" {
			return res, fmt.Errorf("thinlink: %s failed: %s", path, res.Stderr)
		}
		return res, fmt.Errorf("thinlink: %s failed: %w", path, runErr)
	}
	return res, nil
}
