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

package buildctx

// LinkerFlavor is a closed enum describing which linker argv dialect a
// target uses. There is no dynamic dispatch here on purpose: every consumer
// of LinkerFlavor switches over these five values exhaustively.
type LinkerFlavor int

const (
	// FlavorELF covers GNU/ld-style linkers (Linux, and any triple whose
	// environment is a GNU ABI variant).
	FlavorELF LinkerFlavor = iota
	// FlavorMachO covers Darwin's ld64.
	FlavorMachO
	// FlavorCOFF covers MSVC's link.exe.
	FlavorCOFF
	// FlavorWasm covers wasm-ld.
	FlavorWasm
	// FlavorUnsupported is returned for triples this driver cannot link.
	FlavorUnsupported
)

// String renders the flavor name for logs and error messages.
func (f LinkerFlavor) String() string {
	switch f {
	case FlavorELF:
		return "elf"
	case FlavorMachO:
		return "macho"
	case FlavorCOFF:
		return "coff"
	case FlavorWasm:
		return "wasm"
	default:
		return "unsupported"
	}
}

// Flavor computes the linker flavor for a triple, mirroring the original
// driver's precedence: an explicit GNU environment wins regardless of OS,
// then the OS decides (Linux -> ELF, Darwin family -> Mach-O, Windows ->
// COFF), then wasm architectures map to Wasm, and everything else is
// unsupported.
func (t Triple) Flavor() LinkerFlavor {
	if t.IsGnuEnv() {
		return FlavorELF
	}
	switch t.OS {
	case "linux":
		return FlavorELF
	case "darwin", "macos", "ios":
		return FlavorMachO
	case "windows":
		return FlavorCOFF
	}
	if t.IsWasm() {
		return FlavorWasm
	}
	return FlavorUnsupported
}

// BinaryExtension returns the file extension a hot-patch shared object built
// for this flavor should carry.
func (f LinkerFlavor) BinaryExtension() string {
	switch f {
	case FlavorMachO:
		return "dylib"
	case FlavorELF:
		return "so"
	case FlavorWasm:
		return "wasm"
	case FlavorCOFF:
		return "dll"
	default:
		return ""
	}
}
