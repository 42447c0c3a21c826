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

package objfile

import (
	"bytes"
	"encoding/binary"
)

// Mach-O constants this writer needs. Kept local rather than imported from
// go-macho, which is a reader, not a writer.
const (
	machoMagic64    = 0xfeedfacf
	machoCPUX86_64  = 0x01000007
	machoCPUArm64   = 0x0100000c
	machoFileObject = 0x1 // MH_OBJECT
	lcSymtab        = 0x2

	nListAbs = 0x02 // N_ABS
	nListExt = 0x01 // N_EXT
)

// WriteMachOStub emits a minimal MH_OBJECT Mach-O file carrying only an
// LC_SYMTAB load command whose entries are N_ABS (absolute-value, no
// section) external symbols — the Mach-O analog of WriteELFStub.
func WriteMachOStub(symbols map[string]uint64, arm64 bool) ([]byte, error) {
	cpu := uint32(machoCPUX86_64)
	if arm64 {
		cpu = machoCPUArm64
	}

	names := make([]string, 0, len(symbols))
	for n := range symbols {
		names = append(names, n)
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	nameOffsets := make([]uint32, len(names))
	for i, n := range names {
		nameOffsets[i] = uint32(strtab.Len())
		// Names are written as given; no underscore prefix is added here.
		strtab.WriteString(n)
		strtab.WriteByte(0)
	}
	for strtab.Len()%8 != 0 {
		strtab.WriteByte(0)
	}

	const nlistSize = 16 // struct nlist_64
	var symtab bytes.Buffer
	for i, n := range names {
		var nl [nlistSize]byte
		binary.LittleEndian.PutUint32(nl[0:4], nameOffsets[i])
		nl[4] = nListExt | nListAbs
		nl[5] = 0 // n_sect
		binary.LittleEndian.PutUint16(nl[6:8], 0) // n_desc
		binary.LittleEndian.PutUint64(nl[8:16], symbols[n])
		symtab.Write(nl[:])
		_ = n
	}

	const machHeaderSize = 32
	const loadCmdSymtabSize = 24 // struct symtab_command

	symoff := uint32(machHeaderSize + loadCmdSymtabSize)
	stroff := symoff + uint32(symtab.Len())

	var buf bytes.Buffer
	var hdr [machHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], machoMagic64)
	binary.LittleEndian.PutUint32(hdr[4:8], cpu)
	binary.LittleEndian.PutUint32(hdr[8:12], 0) // cpusubtype: ALL
	binary.LittleEndian.PutUint32(hdr[12:16], machoFileObject)
	binary.LittleEndian.PutUint32(hdr[16:20], 1) // ncmds
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(loadCmdSymtabSize))
	binary.LittleEndian.PutUint32(hdr[24:28], 0) // flags
	binary.LittleEndian.PutUint32(hdr[28:32], 0) // reserved
	buf.Write(hdr[:])

	var symtabCmd [loadCmdSymtabSize]byte
	binary.LittleEndian.PutUint32(symtabCmd[0:4], lcSymtab)
	binary.LittleEndian.PutUint32(symtabCmd[4:8], loadCmdSymtabSize)
	binary.LittleEndian.PutUint32(symtabCmd[8:12], symoff)
	binary.LittleEndian.PutUint32(symtabCmd[12:16], uint32(len(names)))
	binary.LittleEndian.PutUint32(symtabCmd[16:20], stroff)
	binary.LittleEndian.PutUint32(symtabCmd[20:24], uint32(strtab.Len()))
	buf.Write(symtabCmd[:])

	buf.Write(symtab.Bytes())
	buf.Write(strtab.Bytes())

	return buf.Bytes(), nil
}
