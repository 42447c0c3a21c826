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

// Package fatarchive builds the fat archive: a single thin `ar` archive of
// every surviving .rcgu.o/.obj member across the project's own rlibs, used
// by the fat linker's whole-archive splice so every translation unit is
// resolvable later by the stub synthesiser and jump-table builder.
package fatarchive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// rejectedSuffixes are member names that indicate a pre-linked artifact
// rather than a relocatable object; such a member disqualifies nothing on
// its own, but its presence is why the owning rlib is kept for the
// traditional linker pass rather than being exhaustively absorbed.
var rejectedSuffixes = []string{".rmeta", ".dylib", ".so", ".dll", ".lib"}

// RlibInfo is the fingerprint triple the cache hash (§4.B, "Hash") is
// computed over: filename, size, and mtime truncated to whole seconds.
type RlibInfo struct {
	Path        string
	SizeBytes   int64
	MtimeUnixSec int64
}

// PartitionResult is the classification of the rlib set captured in one
// link invocation.
type PartitionResult struct {
	InTree   []string // rlibs under the working directory: absorbed into the fat archive
	Sidecar  []string // compiler/system rlibs: passed untouched to the linker
}

// Partition splits rlibPaths into in-tree (absorbed) and sidecar
// (compiler/system, re-passed untouched) sets based on whether each path is
// rooted under workingDir.
func Partition(rlibPaths []string, workingDir string) PartitionResult {
	var res PartitionResult
	absWorking, err := filepath.Abs(workingDir)
	if err != nil {
		absWorking = workingDir
	}
	for _, p := range rlibPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if rel, err := filepath.Rel(absWorking, abs); err == nil && !strings.HasPrefix(rel, "..") {
			res.InTree = append(res.InTree, p)
		} else {
			res.Sidecar = append(res.Sidecar, p)
		}
	}
	return res
}

// isKeptMember reports whether an ar member name survives into the fat
// archive: it must end in .rcgu.o or .obj, and must not be zero-size or
// look like a pre-linked artifact.
func isKeptMember(name string, size int) bool {
	if size == 0 {
		return false
	}
	if strings.HasSuffix(name, ".rcgu.o") || strings.HasSuffix(name, ".obj") {
		return true
	}
	return false
}

func isRejectedArtifact(name string) bool {
	for _, suf := range rejectedSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	// a bare .o that is not .rcgu.o is also a rejected, pre-linked artifact.
	return strings.HasSuffix(name, ".o") && !strings.HasSuffix(name, ".rcgu.o")
}

// ExtractResult is what one in-tree rlib contributes to the fat archive.
type ExtractResult struct {
	Kept           []Member
	HadRejections  bool
}

// ExtractMembers reads one in-tree rlib and returns the members that
// survive the §4.B filter, along with whether any member was rejected (a
// rejection does not exclude the kept members — it only means this rlib
// must also be forwarded to the traditional linker, handled by the caller
// via the sidecar list).
func ExtractMembers(rlibPath string) (ExtractResult, error) {
	f, err := os.Open(rlibPath)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("fatarchive: opening rlib %s: %w", rlibPath, err)
	}
	defer f.Close()

	all, err := ReadArchive(f)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("fatarchive: reading rlib %s: %w", rlibPath, err)
	}

	var res ExtractResult
	for _, m := range all {
		if isKeptMember(m.Name, len(m.Data)) {
			res.Kept = append(res.Kept, m)
			continue
		}
		if isRejectedArtifact(m.Name) || len(m.Data) == 0 {
			res.HadRejections = true
		}
	}
	return res, nil
}

// HashRlibs computes the deterministic cache key: a UUIDv5 over the
// concatenation of "filename-size-mtime_seconds" for every input rlib, in
// the order given, truncated to 8 characters. Order matters — P1 requires
// identical order to produce identical hashes, matching the source's
// behavior of hashing the captured argv's rlib order rather than a sorted
// one.
func HashRlibs(infos []RlibInfo) string {
	var sb strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&sb, "%s-%d-%d", filepath.Base(info.Path), info.SizeBytes, info.MtimeUnixSec)
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(sb.String()))
	return id.String()[:8]
}

// ArchivePath and RlibsListPath are the cache's on-disk names, both
// alongside the compiled executable as per §6's persisted-state layout.
func ArchivePath(dir, hash string) string {
	return filepath.Join(dir, fmt.Sprintf("libdeps-%s.a", hash))
}

// RlibsListPath is the sidecar file listing compiler/system rlibs that must
// still be passed to the traditional linker untouched.
func RlibsListPath(dir, hash string) string {
	return filepath.Join(dir, fmt.Sprintf("rlibs-%s.txt", hash))
}

// Build constructs (or reuses, per the cache policy) the fat archive and
// its rlibs sidecar list for one fat build. dir is the directory the
// archive/sidecar are written alongside (the compiled artifact's
// directory); debugBuild forces regeneration even when the cache files
// already exist, because the driver's own synthesis logic may have changed
// without the rlib fingerprints changing.
func Build(dir string, infos []RlibInfo, sidecarRlibs []string, debugBuild bool) (archivePath, rlibsListPath string, err error) {
	hash := HashRlibs(infos)
	archivePath = ArchivePath(dir, hash)
	rlibsListPath = RlibsListPath(dir, hash)

	if !debugBuild {
		if fileExists(archivePath) && fileExists(rlibsListPath) {
			return archivePath, rlibsListPath, nil
		}
	}

	var members []Member
	var extraSidecar []string
	for _, info := range infos {
		res, extractErr := ExtractMembers(info.Path)
		if extractErr != nil {
			return "", "", extractErr
		}
		members = append(members, res.Kept...)
		if res.HadRejections {
			extraSidecar = append(extraSidecar, info.Path)
		}
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return "", "", fmt.Errorf("fatarchive: creating archive %s: %w", archivePath, err)
	}
	defer f.Close()
	if err := WriteArchive(f, members); err != nil {
		return "", "", fmt.Errorf("fatarchive: writing archive %s: %w", archivePath, err)
	}

	allSidecar := append(append([]string(nil), sidecarRlibs...), extraSidecar...)
	if err := os.WriteFile(rlibsListPath, []byte(strings.Join(allSidecar, "\n")), 0o644); err != nil {
		return "", "", fmt.Errorf("fatarchive: writing rlibs list %s: %w", rlibsListPath, err)
	}

	return archivePath, rlibsListPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
