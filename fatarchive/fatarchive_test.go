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

package fatarchive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// P1: identical (name,size,mtime) triples in identical order hash identically.
func TestHashRlibsStable(t *testing.T) {
	infos := []RlibInfo{
		{Path: "/a/libfoo.rlib", SizeBytes: 1024, MtimeUnixSec: 1700000000},
		{Path: "/b/libbar.rlib", SizeBytes: 2048, MtimeUnixSec: 1700000001},
	}
	h1 := HashRlibs(infos)
	h2 := HashRlibs(append([]RlibInfo(nil), infos...))
	if h1 != h2 {
		t.Fatalf("hash not stable: %q vs %q", h1, h2)
	}
	if len(h1) != 8 {
		t.Fatalf("hash should be truncated to 8 chars, got %q", h1)
	}
}

func TestHashRlibsOrderSensitive(t *testing.T) {
	a := []RlibInfo{{Path: "foo", SizeBytes: 1, MtimeUnixSec: 1}, {Path: "bar", SizeBytes: 2, MtimeUnixSec: 2}}
	b := []RlibInfo{a[1], a[0]}
	if HashRlibs(a) == HashRlibs(b) {
		t.Fatalf("hash should depend on rlib order")
	}
}

// P2: every member of the fat archive has a kept-suffix name and non-zero size.
func TestArchivePurity(t *testing.T) {
	dir := t.TempDir()
	rlibPath := filepath.Join(dir, "libdemo.rlib")

	var buf bytes.Buffer
	members := []Member{
		{Name: "demo.1a2b3c4d-cgu.0.rcgu.o", Data: []byte("objdata1")},
		{Name: "demo.1a2b3c4d-cgu.1.rcgu.o", Data: []byte("objdata2")},
		{Name: "lib.rmeta", Data: []byte("metadata")},
		{Name: "empty.rcgu.o", Data: []byte{}},
		{Name: "prelinked.so", Data: []byte("sodata")},
	}
	if err := WriteArchive(&buf, members); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if err := os.WriteFile(rlibPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := ExtractMembers(rlibPath)
	if err != nil {
		t.Fatalf("ExtractMembers: %v", err)
	}
	if !res.HadRejections {
		t.Fatalf("expected rejections to be flagged")
	}
	if len(res.Kept) != 2 {
		t.Fatalf("expected 2 kept members, got %d", len(res.Kept))
	}
	for _, m := range res.Kept {
		if len(m.Data) == 0 {
			t.Fatalf("kept member %q has zero size", m.Name)
		}
		if !hasRcguOrObjSuffix(m.Name) {
			t.Fatalf("kept member %q does not end in .rcgu.o or .obj", m.Name)
		}
	}
}

func hasRcguOrObjSuffix(name string) bool {
	return len(name) >= 7 && name[len(name)-7:] == ".rcgu.o" || len(name) >= 4 && name[len(name)-4:] == ".obj"
}

func TestArRoundTrip(t *testing.T) {
	members := []Member{
		{Name: "short.o", Data: []byte("hello")},
		{Name: "a-name-that-is-definitely-longer-than-sixteen-bytes.rcgu.o", Data: []byte("world!")},
	}
	var buf bytes.Buffer
	if err := WriteArchive(&buf, members); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	got, err := ReadArchive(&buf)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if diff := cmp.Diff(members, got); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPartition(t *testing.T) {
	dir := t.TempDir()
	inTree := filepath.Join(dir, "target", "debug", "deps", "libdemo.rlib")
	sysRlib := "/usr/lib/rustlib/libcore.rlib"

	res := Partition([]string{inTree, sysRlib}, dir)
	if len(res.InTree) != 1 || res.InTree[0] != inTree {
		t.Fatalf("expected inTree rlib classified correctly, got %+v", res)
	}
	if len(res.Sidecar) != 1 || res.Sidecar[0] != sysRlib {
		t.Fatalf("expected sidecar rlib classified correctly, got %+v", res)
	}
}
