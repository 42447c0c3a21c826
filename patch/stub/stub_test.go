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

package stub

import (
	"errors"
	"testing"

	"bitbucket.org/creachadair/stringset"
)

// P4: every undefined symbol must resolve via either the cache or a
// preserved dylib, otherwise the stub build fails.
func TestResolveSymbolsAllResolved(t *testing.T) {
	addrs := map[string]uint64{"needs_patching": 0x1000, "also_undefined": 0x2000}
	addressOf := func(name string) (uint64, bool) {
		v, ok := addrs[name]
		return v, ok
	}

	undefined := stringset.New("needs_patching", "also_undefined", "from_dylib")
	dylibDefined := stringset.New("from_dylib")

	plan, err := ResolveSymbols(undefined, addressOf, dylibDefined, 0xDEADBEEF000)
	if err != nil {
		t.Fatalf("ResolveSymbols: %v", err)
	}
	if plan.Resolved["needs_patching"] != 0x1000+0xDEADBEEF000 {
		t.Fatalf("expected aslr-adjusted address, got 0x%x", plan.Resolved["needs_patching"])
	}
	if plan.Resolved["also_undefined"] != 0x2000+0xDEADBEEF000 {
		t.Fatalf("expected aslr-adjusted address, got 0x%x", plan.Resolved["also_undefined"])
	}
	if _, ok := plan.Resolved["from_dylib"]; ok {
		t.Fatalf("dylib-resolved symbol should not appear in the stub plan")
	}
	if !plan.ResolvedByDylib.Contains("from_dylib") {
		t.Fatalf("expected from_dylib to be recorded as dylib-resolved")
	}
}

func TestResolveSymbolsUnresolvedFails(t *testing.T) {
	addressOf := func(name string) (uint64, bool) { return 0, false }
	undefined := stringset.New("mystery_symbol")

	_, err := ResolveSymbols(undefined, addressOf, stringset.New(), 0)
	if !errors.Is(err, ErrUnresolvedSymbol) {
		t.Fatalf("expected ErrUnresolvedSymbol, got %v", err)
	}
}
