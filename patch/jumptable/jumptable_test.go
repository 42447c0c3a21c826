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

package jumptable

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shadr/subsecond/buildctx"
	"github.com/shadr/subsecond/devmsg"
	"github.com/shadr/subsecond/modulecache"
	"github.com/shadr/subsecond/objfile"
)

// writeULEB128 encodes an unsigned LEB128 varint, mirroring the wasm
// binary format's own integer encoding (objfile's reader decodes this).
func writeULEB128(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// buildWasmModule assembles the minimal valid module objfile.Read's wasm
// path needs: the 8-byte preamble plus one export section listing fns as
// function exports (kind 0).
func buildWasmModule(t *testing.T, fns map[string]uint32) string {
	t.Helper()

	var exports bytes.Buffer
	writeULEB128(&exports, uint64(len(fns)))
	for name, idx := range fns {
		writeULEB128(&exports, uint64(len(name)))
		exports.WriteString(name)
		exports.WriteByte(0) // export kind: function
		writeULEB128(&exports, uint64(idx))
	}

	var module bytes.Buffer
	module.Write([]byte{0x00, 0x61, 0x73, 0x6d}) // magic
	module.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1, little-endian
	module.WriteByte(7)                          // export section id
	writeULEB128(&module, uint64(exports.Len()))
	module.Write(exports.Bytes())

	path := filepath.Join(t.TempDir(), "patch.wasm")
	if err := os.WriteFile(path, module.Bytes(), 0o644); err != nil {
		t.Fatalf("writing wasm fixture: %v", err)
	}
	return path
}

// P5: every key in the jump table is defined in both the fat module and
// the patch, and its value is an index/address within the patch.
func TestBuildWasmIntersection(t *testing.T) {
	patchPath := buildWasmModule(t, map[string]uint32{
		"render_component": 7,
		"only_in_patch":     9,
	})

	cache := &modulecache.Cache{
		Flavor: buildctx.FlavorWasm,
		Table: objfile.Table{
			Ifunc: map[string]uint32{
				"render_component": 3, // stale fat-module index; patch's wins
				"only_in_fat":      5,
			},
		},
	}

	jt, err := Build(patchPath, cache, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := map[string]uint64{"render_component": 7}
	if diff := cmp.Diff(want, jt.Map); diff != "" {
		t.Fatalf("jump table mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteForSite(t *testing.T) {
	jt := devmsg.JumpTable{Lib: "/abs/path/target/wasm32-unknown-unknown/debug/libdemo-patch-123.wasm"}
	got := RewriteForSite(jt)
	if got.Lib != "/pkg/libdemo-patch-123.wasm" {
		t.Fatalf("expected site-relative URL, got %q", got.Lib)
	}
}
