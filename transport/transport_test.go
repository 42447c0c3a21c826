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

package transport

import (
	"testing"

	"github.com/shadr/subsecond/devmsg"
)

// P6: a subscriber connecting after n publishes receives those n messages,
// in order, before any subsequent message.
func TestSubscribeReplaysAccumulated(t *testing.T) {
	s := NewServer(nil)

	for i := 0; i < 3; i++ {
		s.Publish(devmsg.NewHotReload(devmsg.JumpTable{Lib: "patch"}, 1234, int64(i)))
	}

	sub := s.subscribe()
	defer s.unsubscribe(sub)

	for i := 0; i < 3; i++ {
		msg, ok := s.next(sub)
		if !ok {
			t.Fatalf("expected replayed message %d, queue empty", i)
		}
		if msg.HotReload.MsElapsed != int64(i) {
			t.Fatalf("replay out of order: want elapsed %d, got %d", i, msg.HotReload.MsElapsed)
		}
	}

	if _, ok := s.next(sub); ok {
		t.Fatalf("expected no more messages after replaying accumulated set")
	}

	s.Publish(devmsg.NewHotReload(devmsg.JumpTable{Lib: "patch2"}, 1234, 99))
	msg, ok := s.next(sub)
	if !ok || msg.HotReload.MsElapsed != 99 {
		t.Fatalf("expected the new publish after replay, got %+v, ok=%v", msg, ok)
	}
}

// P6 (ClearPatches variant): a ClearPatches signal between the last publish
// and a subscription means the new subscriber does not see the stale
// patches — ClearPatches drops the accumulated replay set entirely rather
// than joining it.
func TestClearPatchesDrainsReplayQueue(t *testing.T) {
	s := NewServer(nil)
	s.Publish(devmsg.NewHotReload(devmsg.JumpTable{Lib: "stale"}, 1, 0))
	s.ClearPatches()

	sub := s.subscribe()
	defer s.unsubscribe(sub)

	if _, ok := s.next(sub); ok {
		t.Fatalf("stale patch should not have replayed after ClearPatches")
	}

	s.Publish(devmsg.NewHotReload(devmsg.JumpTable{Lib: "fresh"}, 1, 7))
	msg, ok := s.next(sub)
	if !ok || msg.HotReload.MsElapsed != 7 {
		t.Fatalf("expected the fresh publish after clear, got %+v, ok=%v", msg, ok)
	}
}

// P7: for_pid is carried through verbatim; filtering on it is the client's
// job, but the transport must never silently drop or rewrite it.
func TestHotReloadCarriesForPIDVerbatim(t *testing.T) {
	msg := devmsg.NewHotReload(devmsg.JumpTable{Lib: "patch"}, 4242, 10)
	if msg.HotReload.ForPID == nil || *msg.HotReload.ForPID != 4242 {
		t.Fatalf("expected for_pid to be 4242, got %+v", msg.HotReload.ForPID)
	}
}
