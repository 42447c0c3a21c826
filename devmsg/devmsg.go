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

// Package devmsg defines the wire contract the patch transport speaks to a
// running instance of the fat binary: a tagged JSON message carrying a
// jump table, plus a payload-free variant that clears previously applied
// patches. It is the Go analog of the upstream
// DevserverMsg schema (out of scope per spec.md §1, but its shape is fixed
// by what §4.G/§4.F produce and consume, so it lives in this module rather
// than an external dependency).
package devmsg

// Kind tags a Msg's variant so a single JSON envelope can carry any of the
// transport's message types over one WebSocket connection.
type Kind string

const (
	// KindHotReload carries a freshly built jump table to be spliced into
	// the running process.
	KindHotReload Kind = "HotReload"
	// KindClearPatches tells the currently connected clients to discard any
	// previously-applied thin patches — sent ahead of a FatRebuild. It is
	// not replayed to clients that connect later.
	KindClearPatches Kind = "ClearPatches"
)

// JumpTable is the (old-symbol -> new-address) map produced by the jump
// table builder (spec.md §3 "Jump Table", §4.F).
type JumpTable struct {
	Lib           string            `json:"lib"`
	Map           map[string]uint64 `json:"map"`
	ASLRReference uint64            `json:"aslr_reference"`
}

// HotReload is the payload of a KindHotReload message: the jump table plus
// the bookkeeping fields spec.md §3 describes for the Patch Message
// (target pid, elapsed build time, and the (always empty, in this
// implementation) template/asset lists the original protocol also
// carries).
type HotReload struct {
	JumpTable   JumpTable `json:"jump_table"`
	ForPID      *int      `json:"for_pid,omitempty"`
	MsElapsed   int64     `json:"ms_elapsed"`
	Templates   []string  `json:"templates"`
	Assets      []string  `json:"assets"`
}

// Msg is the envelope sent over the WebSocket connection. Exactly one of
// HotReload is populated, selected by Kind; ClearPatches carries no payload.
type Msg struct {
	Kind      Kind       `json:"kind"`
	HotReload *HotReload `json:"hot_reload,omitempty"`
}

// NewHotReload builds a KindHotReload envelope for one published jump
// table, tagging it with the target process id so the client's pid filter
// (spec.md §4.G invariants, P7) can do its job.
func NewHotReload(jt JumpTable, forPID int, msElapsed int64) Msg {
	pid := forPID
	return Msg{
		Kind: KindHotReload,
		HotReload: &HotReload{
			JumpTable: jt,
			ForPID:    &pid,
			MsElapsed: msElapsed,
			Templates: []string{},
			Assets:    []string{},
		},
	}
}

// NewClearPatches builds the control envelope sent to drain a subscriber's
// replay queue ahead of a FatRebuild (spec.md §4.G, §6 stdin protocol "R").
func NewClearPatches() Msg {
	return Msg{Kind: KindClearPatches}
}
