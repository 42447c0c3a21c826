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

// Package orchestrator implements the Build Orchestrator (spec.md §4.H):
// the per-target state machine that serialises Fat/FatRebuild/Thin
// commands, reads the ASLR reference that the transport's handshake writes,
// and owns the child process handle for the running fat binary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/buildstats"
	"github.com/shadr/subsecond/devmsg"
	"github.com/shadr/subsecond/dlog"
	"github.com/shadr/subsecond/fatarchive"
	"github.com/shadr/subsecond/fatlink"
	"github.com/shadr/subsecond/intercept"
	"github.com/shadr/subsecond/modulecache"
	"github.com/shadr/subsecond/patch/jumptable"
	"github.com/shadr/subsecond/patch/stub"
	"github.com/shadr/subsecond/thinlink"
	"github.com/shadr/subsecond/transport"
)

// State is the orchestrator's position in the state machine diagrammed in
// spec.md §4.H.
type State int

const (
	StateIdle State = iota
	StateBuildingFat
	StateReady
	StateBuildingThin
	StateBuildingFatRebuild
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuildingFat:
		return "building-fat"
	case StateReady:
		return "ready"
	case StateBuildingThin:
		return "building-thin"
	case StateBuildingFatRebuild:
		return "building-fat-rebuild"
	default:
		return "unknown"
	}
}

// Command is one of the three high-level operations the CLI/stdin
// protocol can send to a target's orchestrator.
type Command int

const (
	CmdFat Command = iota
	CmdFatRebuild
	CmdThin
)

// ErrASLRNotReported is returned (and logged, per §7.6) when a Thin command
// arrives for a non-wasm target before the running binary has handshaken
// its ASLR slide.
var ErrASLRNotReported = errors.New("Thin build canceled, aslr reference is 0 on non-wasm build!")

// ErrNoFatBuild is returned when a Thin command arrives before any Fat
// build has ever succeeded (hot_cache=None, spec.md §4.H).
var ErrNoFatBuild = errors.New("orchestrator: no fat build has completed yet")

// Launcher spawns the compiled fat executable; the Orchestrator kills the
// returned process itself. It is the one
// seam left to the driver's caller, since "how do I start this OS process"
// depends on platform specifics out of this module's scope (spec.md §1).
type Launcher interface {
	Spawn(ctx context.Context, bundlePath string) (*os.Process, error)
}

// Toolchain resolves the paths of the real platform linker/compiler this
// orchestrator should spawn. Supplied by the CLI layer, which knows the
// project's toolchain configuration (out of scope here, spec.md §1).
type Toolchain interface {
	CompilerPath() string
	LinkerPath(flavor buildctx.LinkerFlavor) string
}

// Orchestrator drives one compilation target end to end: it owns the
// Context, the child process handle, and (read-only, shared) the module
// cache once a Fat build has produced one.
type Orchestrator struct {
	Target    string
	Context   *buildctx.Context
	Transport *transport.Server
	Toolchain Toolchain
	Launcher  Launcher
	Stats     buildstats.Collector

	mu      sync.Mutex
	state   State
	cache   *modulecache.Cache
	process *os.Process
	pid     int

	commands chan Command
	stopped  chan struct{}
}

// New constructs an idle Orchestrator for one target.
func New(target string, bc *buildctx.Context, tr *transport.Server, tc Toolchain, launcher Launcher, stats buildstats.Collector) *Orchestrator {
	if stats == nil {
		stats = buildstats.NoopCollector{}
	}
	return &Orchestrator{
		Target:    target,
		Context:   bc,
		Transport: tr,
		Toolchain: tc,
		Launcher:  launcher,
		Stats:     stats,
		commands:  make(chan Command, 8),
		stopped:   make(chan struct{}),
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run consumes commands off the command channel serially until Stop is
// called — builds never run in parallel within one orchestrator (spec.md
// §5). Intended to be called in its own goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case cmd := <-o.commands:
			o.handle(ctx, cmd)
		case <-o.stopped:
			return
		}
	}
}

// Enqueue submits a command for serial processing. A second Thin received
// while a build is in flight simply queues behind the first (spec.md §5
// "Cancellation").
func (o *Orchestrator) Enqueue(cmd Command) {
	o.commands <- cmd
}

// Stop ends Run's loop and kills the child process (spec.md §4.H teardown,
// §7.7: a kill failure is logged, never propagated).
func (o *Orchestrator) Stop() {
	close(o.stopped)
	o.mu.Lock()
	proc := o.process
	o.mu.Unlock()
	if proc != nil {
		if err := proc.Kill(); err != nil {
			dlog.Warnf("orchestrator[%s]: kill on teardown failed: %v", o.Target, err)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, cmd Command) {
	switch cmd {
	case CmdFat:
		o.transition(StateBuildingFat)
		start := time.Now()
		err := o.buildFat(ctx, false)
		o.Stats.AfterFatBuild(o.Target, time.Since(start), err)
		o.finishBuild(err)

	case CmdFatRebuild:
		o.transition(StateBuildingFatRebuild)
		o.Transport.ClearPatches()
		start := time.Now()
		err := o.buildFat(ctx, true)
		o.Stats.AfterFatBuild(o.Target, time.Since(start), err)
		o.finishBuild(err)

	case CmdThin:
		if err := o.guardThin(); err != nil {
			dlog.Errorf("orchestrator[%s]: %v", o.Target, err)
			return
		}
		o.transition(StateBuildingThin)
		start := time.Now()
		symCount, err := o.buildThin(ctx)
		o.Stats.AfterThinBuild(o.Target, time.Since(start), symCount, err)
		o.finishBuild(err)
	}
}

// guardThin enforces the two rejection rules that precede a Thin build
// (spec.md §4.H, §7.6): no fat build yet, or (non-wasm only) no ASLR
// handshake yet.
func (o *Orchestrator) guardThin() error {
	o.mu.Lock()
	cache := o.cache
	o.mu.Unlock()
	if cache == nil {
		return ErrNoFatBuild
	}
	if cache.Flavor != buildctx.FlavorWasm && o.Transport.ASLRReference.Load() == 0 {
		return ErrASLRNotReported
	}
	return nil
}

// transition moves to a Building state. A failed build always returns to
// Ready (or Idle, if no fat build ever succeeded) rather than getting
// stuck — see finishBuild.
func (o *Orchestrator) transition(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) finishBuild(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		dlog.Errorf("orchestrator[%s]: build failed: %v", o.Target, err)
	}
	if o.cache != nil {
		o.state = StateReady
	} else {
		o.state = StateIdle
	}
}

// buildFat runs components B and C (§4.B, §4.C) end to end, then spawns
// the resulting bundle and replaces the module cache. rebuild forces the
// fat-archive cache to regenerate even if the fingerprints match (spec.md
// §4.B "debug builds always rebuild").
func (o *Orchestrator) buildFat(ctx context.Context, rebuild bool) error {
	bc := o.Context

	inv, err := intercept.ReadWrapperInvocation(bc.CompilerArgsFile.Path)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	linkArgs, err := intercept.ReadLinkerInvocation(bc.LinkArgsFile.Path)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if len(linkArgs) > 0 {
		linkArgs = linkArgs[1:] // drop the driver's own argv[0]
	}

	rlibPaths := rlibArgs(linkArgs)
	partition := fatarchive.Partition(rlibPaths, bc.WorkingDir)

	infos := make([]fatarchive.RlibInfo, 0, len(partition.InTree))
	for _, p := range partition.InTree {
		st, statErr := os.Stat(p)
		if statErr != nil {
			return fmt.Errorf("orchestrator: stat rlib %s: %w", p, statErr)
		}
		infos = append(infos, fatarchive.RlibInfo{Path: p, SizeBytes: st.Size(), MtimeUnixSec: st.ModTime().Unix()})
	}

	dir := bc.TargetTripleProfileDir()
	debugBuild := bc.Profile == "debug" || rebuild
	archivePath, _, err := fatarchive.Build(dir, infos, partition.Sidecar, debugBuild)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	flavor := bc.Flavor()
	outputPath := filepath.Join(dir, bc.FinalBinaryName())
	rewritten, err := fatlink.RewriteArgs(flavor, linkArgs, archivePath, partition.Sidecar, outputPath)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	linkerPath := o.Toolchain.LinkerPath(flavor)
	if _, err := fatlink.Run(ctx, linkerPath, rewritten, inv.Envs); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	if err := copyFile(outputPath, bc.BundlePath); err != nil {
		return fmt.Errorf("orchestrator: staging bundle: %w", err)
	}

	cache, err := modulecache.New(outputPath, flavor)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	o.mu.Lock()
	prevProcess := o.process
	o.cache = cache
	o.mu.Unlock()

	if prevProcess != nil {
		if killErr := prevProcess.Kill(); killErr != nil {
			dlog.Warnf("orchestrator[%s]: killing previous instance: %v", o.Target, killErr)
		}
	}

	if o.Launcher != nil && flavor != buildctx.FlavorWasm {
		proc, spawnErr := o.Launcher.Spawn(ctx, bc.BundlePath)
		if spawnErr != nil {
			return fmt.Errorf("orchestrator: spawning %s: %w", bc.BundlePath, spawnErr)
		}
		o.mu.Lock()
		o.process = proc
		o.pid = proc.Pid
		o.mu.Unlock()
	}

	return nil
}

// buildThin runs components D, E and F (§4.D-§4.F) and publishes the
// resulting jump table over the transport (component G), returning the
// number of symbols the jump table carries for statistics.
func (o *Orchestrator) buildThin(ctx context.Context) (int, error) {
	bc := o.Context
	o.mu.Lock()
	cache := o.cache
	pid := o.pid
	o.mu.Unlock()

	flavor := cache.Flavor
	startMillis := time.Now().UnixMilli()

	inv, err := intercept.ReadWrapperInvocation(bc.CompilerArgsFile.Path)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: %w", err)
	}
	originalLinkArgs, err := intercept.ReadLinkerInvocation(bc.LinkArgsFile.Path)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: %w", err)
	}
	if len(originalLinkArgs) > 0 {
		originalLinkArgs = originalLinkArgs[1:]
	}

	compileArgv := thinlink.CompileArgv(flavor, inv.Args)
	compileEnv := thinlink.CompileEnv(inv.Envs)
	if _, err := thinlink.RunCompile(ctx, o.Toolchain.CompilerPath(), compileArgv, compileEnv); err != nil {
		return 0, fmt.Errorf("orchestrator: %w", err)
	}

	// The recompile re-triggers the linker-interception protocol, so the
	// link-args capture now lists this compile's fresh .rcgu.o files.
	freshLinkArgs, err := intercept.ReadLinkerInvocation(bc.LinkArgsFile.Path)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: %w", err)
	}
	objectFiles := rcguArgs(freshLinkArgs)

	preserved := thinlink.PreserveFromOriginal(flavor, originalLinkArgs)
	dir := bc.TargetTripleProfileDir()
	outputPath := thinlink.OutputPath(dir, bc.FinalBinaryName(), flavor, startMillis)

	var stubPath string
	if flavor != buildctx.FlavorWasm {
		plan, resolveErr := stub.Resolve(flavor, objectFiles, cache, nil, o.Transport.ASLRReference.Load())
		if resolveErr != nil {
			return 0, fmt.Errorf("orchestrator: %w", resolveErr)
		}
		stubPath = filepath.Join(dir, "stub.o")
		if err := stub.Write(flavor, plan, stubPath); err != nil {
			return 0, fmt.Errorf("orchestrator: %w", err)
		}
	}

	preservedDylibs := preservedDylibArgs(flavor, originalLinkArgs, bc.FrameworksDirectory())
	argv := thinlink.BuildArgv(flavor, preserved, stubPath, objectFiles, preservedDylibs, outputPath, "%_PDB%")

	linkerPath := o.Toolchain.LinkerPath(flavor)
	capturedOutput := capturedOutputArg(freshLinkArgs)
	if _, err := thinlink.RunLink(ctx, linkerPath, argv, inv.Envs, capturedOutput); err != nil {
		return 0, fmt.Errorf("orchestrator: %w", err)
	}

	jt, err := jumptable.Build(outputPath, cache, o.Transport.ASLRReference.Load())
	if err != nil {
		return 0, fmt.Errorf("orchestrator: %w", err)
	}

	if flavor == buildctx.FlavorWasm {
		dest := filepath.Join(bc.SitePkgPath(), filepath.Base(outputPath))
		if err := copyFile(outputPath, dest); err != nil {
			return 0, fmt.Errorf("orchestrator: copying wasm patch to site/pkg: %w", err)
		}
		jt = jumptable.RewriteForSite(jt)
	}

	elapsed := time.Now().UnixMilli() - startMillis
	o.Transport.Publish(devmsg.NewHotReload(jt, pid, elapsed))

	return len(jt.Map), nil
}

func rlibArgs(args []string) []string {
	var out []string
	for _, a := range args {
		if strings.HasSuffix(a, ".rlib") {
			out = append(out, a)
		}
	}
	return out
}

func rcguArgs(args []string) []string {
	var out []string
	for _, a := range args {
		if strings.HasSuffix(a, ".rcgu.o") {
			out = append(out, a)
		}
	}
	return out
}

func capturedOutputArg(args []string) string {
	for i, a := range args {
		if (a == "-o" || a == "--output") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// preservedDylibArgs finds any .dylib/.so inputs in the original link argv
// and rewrites their path to the bundle's frameworks/ directory (spec.md
// §4.D inputs), for Mach-O and ELF only.
func preservedDylibArgs(flavor buildctx.LinkerFlavor, args []string, frameworksDir string) []string {
	if flavor != buildctx.FlavorMachO && flavor != buildctx.FlavorELF {
		return nil
	}
	var out []string
	for _, a := range args {
		if strings.HasSuffix(a, ".dylib") || strings.HasSuffix(a, ".so") {
			out = append(out, filepath.Join(frameworksDir, filepath.Base(a)))
		}
	}
	return out
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
