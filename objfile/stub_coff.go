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

// COFF constants this writer needs.
const (
	coffMachineAMD64 = 0x8664
	coffAbsolute     = -1 // IMAGE_SYM_ABSOLUTE section number
	coffClassExt     = 2  // IMAGE_SYM_CLASS_EXTERNAL
)

// WriteCOFFStub emits a minimal COFF object (no sections, just a symbol
// table) whose entries are IMAGE_SYM_ABSOLUTE external symbols — link.exe's
// analog of an absolute-value stub. Names longer than 8 bytes go through
// the string table, exactly as link.exe expects for non-short symbol names.
func WriteCOFFStub(symbols map[string]uint64) ([]byte, error) {
	names := make([]string, 0, len(symbols))
	for n := range symbols {
		names = append(names, n)
	}

	var strtab bytes.Buffer
	// First 4 bytes of the string table are its own total size, per the
	// COFF string table convention.
	strtab.Write(make([]byte, 4))
	strOffset := make([]uint32, len(names))
	for i, n := range names {
		if len(n) <= 8 {
			continue
		}
		strOffset[i] = uint32(strtab.Len())
		strtab.WriteString(n)
		strtab.WriteByte(0)
	}
	binary.LittleEndian.PutUint32(strtab.Bytes()[0:4], uint32(strtab.Len()))

	const symSize = 18
	var symtab bytes.Buffer
	for i, n := range names {
		var sym [symSize]byte
		if len(n) <= 8 {
			copy(sym[0:8], n)
		} else {
			binary.LittleEndian.PutUint32(sym[0:4], 0)
			binary.LittleEndian.PutUint32(sym[4:8], strOffset[i])
		}
		binary.LittleEndian.PutUint32(sym[8:12], uint32(symbols[n])) // value (low 32 bits)
		binary.LittleEndian.PutUint16(sym[12:14], uint16(uint32(coffAbsolute)&0xffff))
		binary.LittleEndian.PutUint16(sym[14:16], 0) // type
		sym[16] = coffClassExt
		sym[17] = 0 // number of aux symbols
		symtab.Write(sym[:])
	}

	const fileHeaderSize = 20
	symTableOffset := uint32(fileHeaderSize)

	var hdr [fileHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], coffMachineAMD64)
	binary.LittleEndian.PutUint16(hdr[2:4], 0) // number of sections
	binary.LittleEndian.PutUint32(hdr[4:8], 0) // timestamp
	binary.LittleEndian.PutUint32(hdr[8:12], symTableOffset)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(names)))
	binary.LittleEndian.PutUint16(hdr[16:18], 0) // size of optional header
	binary.LittleEndian.PutUint16(hdr[18:20], 0) // characteristics

	var buf bytes.Buffer
	buf.Write(hdr[:])
	buf.Write(symtab.Bytes())
	buf.Write(strtab.Bytes())
	return buf.Bytes(), nil
}
