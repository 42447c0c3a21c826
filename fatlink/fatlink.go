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

// Package fatlink rewrites a captured linker invocation into one that
// all-loads the fat archive, producing the binary that is actually run.
package fatlink

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/intercept"
)

// RewriteArgs transforms a captured linker argv (with the driver's own
// path, argv[0], already dropped by the caller) into the fat-link argv:
// the whole-archive span is spliced before the last positional .o
// argument, every .rlib argument is removed, the preserved sidecar rlibs
// are re-appended in reverse order right after the splice, a flavor-
// specific export-main directive is appended, and the output path is
// normalized to outputPath.
//
// Per P3, calling RewriteArgs on an argv that already contains the
// whole-archive span for archivePath is a no-op re-splice: the span is not
// duplicated. The upstream driver does not guard this (see design notes);
// this implementation does.
func RewriteArgs(flavor buildctx.LinkerFlavor, args []string, archivePath string, sidecarRlibs []string, outputPath string) ([]string, error) {
	if alreadySpliced(flavor, args, archivePath) {
		return args, nil
	}

	out := make([]string, 0, len(args)+16)
	lastObjIdx := -1
	for _, a := range args {
		if isRlibArg(a) {
			continue
		}
		if strings.HasSuffix(a, ".o") || strings.HasSuffix(a, ".obj") {
			lastObjIdx = len(out)
		}
		out = append(out, a)
	}

	if lastObjIdx == -1 {
		lastObjIdx = len(out)
	}

	span := wholeArchiveSpan(flavor, archivePath)
	rewritten := make([]string, 0, len(out)+len(span)+len(sidecarRlibs)+4)
	rewritten = append(rewritten, out[:lastObjIdx]...)
	rewritten = append(rewritten, span...)
	for i := len(sidecarRlibs) - 1; i >= 0; i-- {
		rewritten = append(rewritten, sidecarRlibs[i])
	}
	rewritten = append(rewritten, out[lastObjIdx:]...)

	rewritten = append(rewritten, exportMainDirective(flavor)...)
	rewritten = stripOutputArgs(rewritten)
	rewritten = append(rewritten, outputFlag(flavor, outputPath)...)

	if flavor == buildctx.FlavorWasm {
		rewritten = stripFlavorPair(rewritten)
	}

	return rewritten, nil
}

func isRlibArg(a string) bool {
	return strings.HasSuffix(a, ".rlib")
}

// alreadySpliced detects an existing whole-archive span for archivePath so
// a second rewrite of the same argv (P3) is idempotent.
func alreadySpliced(flavor buildctx.LinkerFlavor, args []string, archivePath string) bool {
	for _, a := range args {
		switch flavor {
		case buildctx.FlavorELF:
			if a == archivePath && contains(args, "-Wl,--whole-archive") {
				return true
			}
		case buildctx.FlavorMachO:
			if a == "-Wl,-force_load" || strings.Contains(a, "-force_load") {
				if contains(args, archivePath) {
					return true
				}
			}
		case buildctx.FlavorCOFF:
			if a == "/WHOLEARCHIVE:"+archivePath {
				return true
			}
		case buildctx.FlavorWasm:
			if a == archivePath && contains(args, "--whole-archive") {
				return true
			}
		}
	}
	return false
}

func contains(hay []string, needle string) bool {
	for _, h := range hay {
		if h == needle {
			return true
		}
	}
	return false
}

func wholeArchiveSpan(flavor buildctx.LinkerFlavor, archivePath string) []string {
	switch flavor {
	case buildctx.FlavorELF:
		return []string{"-Wl,--whole-archive", archivePath, "-Wl,--no-whole-archive"}
	case buildctx.FlavorMachO:
		return []string{"-Wl,-force_load", archivePath}
	case buildctx.FlavorCOFF:
		return []string{"/WHOLEARCHIVE:" + archivePath}
	case buildctx.FlavorWasm:
		return []string{"--whole-archive", archivePath, "--no-whole-archive"}
	default:
		return []string{archivePath}
	}
}

func exportMainDirective(flavor buildctx.LinkerFlavor) []string {
	switch flavor {
	case buildctx.FlavorELF:
		return []string{"-Wl,--export-dynamic-symbol,main"}
	case buildctx.FlavorMachO:
		return []string{"-Wl,-exported_symbol,_main"}
	case buildctx.FlavorCOFF:
		return []string{"/EXPORT:main", "/HIGHENTROPYVA:NO"}
	default:
		return nil
	}
}

func stripOutputArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-o" || a == "--output":
			i++ // also skip the following value
			continue
		case strings.HasPrefix(a, "-o") && a != "-o" && len(a) > 2:
			continue
		case strings.HasPrefix(a, "--output="):
			continue
		case strings.HasPrefix(a, "/OUT:"):
			continue
		}
		out = append(out, a)
	}
	return out
}

func outputFlag(flavor buildctx.LinkerFlavor, path string) []string {
	if flavor == buildctx.FlavorCOFF {
		return []string{"/OUT:" + path}
	}
	return []string{"-o", path}
}

func stripFlavorPair(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-flavor" {
			i++ // skip the value too
			continue
		}
		out = append(out, args[i])
	}
	return out
}

// Result captures the fat linker's invocation outcome.
type Result struct {
	Stdout string
	Stderr string
}

// Run spawns the real platform linker with the rewritten argv and the
// captured environment (env_clear() semantics: the spawned process sees
// only envs, not this process's inherited environment). On success every
// argument file ending in .rcgu.o is deleted, per §4.C step 6.
func Run(ctx context.Context, linkerPath string, args []string, envs []intercept.EnvPair) (Result, error) {
	cmd := exec.CommandContext(ctx, linkerPath, args...)
	cmd.Env = intercept.EnvironSlice(envs)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runErr != nil {
		if res.Stderr != "" {
			return res, fmt.Errorf("fatlink: %s failed: %s", linkerPath, res.Stderr)
		}
		return res, fmt.Errorf("fatlink: %s failed: %w", linkerPath, runErr)
	}

	for _, a := range args {
		if strings.HasSuffix(a, ".rcgu.o") {
			_ = os.Remove(a)
		}
	}

	return res, nil
}
