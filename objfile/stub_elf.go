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
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// WriteELFStub emits a minimal ET_REL ELF object whose only content is an
// absolute-value symbol table: one entry per (name, address) pair. Every
// symbol is SHN_ABS, so the linker resolves references to it without
// needing any section contents at all. This is the stub object §4.E
// prepends to a thin link's input list.
func WriteELFStub(symbols map[string]uint64, sixtyFourBit bool, littleEndian bool) ([]byte, error) {
	order := binary.ByteOrder(binary.LittleEndian)
	if !littleEndian {
		order = binary.BigEndian
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
		strtab.WriteString(n)
		strtab.WriteByte(0)
	}
	shstrtab := []byte("\x00.symtab\x00.strtab\x00.shstrtab\x00")

	const symSize = 24 // Elf64_Sym
	var symtab bytes.Buffer
	// Null symbol (index 0), mandatory.
	symtab.Write(make([]byte, symSize))
	for i, n := range names {
		var sym [symSize]byte
		order.PutUint32(sym[0:4], nameOffsets[i])
		sym[4] = byte(elf.STT_FUNC) | byte(elf.STB_GLOBAL)<<4 // st_info
		sym[5] = 0                                             // st_other
		order.PutUint16(sym[6:8], uint16(elf.SHN_ABS))         // st_shndx
		order.PutUint64(sym[8:16], symbols[n])                 // st_value
		order.PutUint64(sym[16:24], 0)                         // st_size
		symtab.Write(sym[:])
	}

	const ehdrSize = 64
	const shdrSize = 64

	// Section layout: [0]=NULL [1]=.symtab [2]=.strtab [3]=.shstrtab
	symtabOff := uint64(ehdrSize)
	strtabOff := symtabOff + uint64(symtab.Len())
	shstrtabOff := strtabOff + uint64(strtab.Len())
	shoff := shstrtabOff + uint64(len(shstrtab))

	var buf bytes.Buffer
	writeELFHeader(&buf, order, sixtyFourBit, shoff, 4 /*shnum*/, 3 /*shstrndx*/)
	buf.Write(symtab.Bytes())
	buf.Write(strtab.Bytes())
	buf.Write(shstrtab)

	// Section header [0]: NULL.
	buf.Write(make([]byte, shdrSize))
	// .symtab
	writeELFSection(&buf, order, 1, uint32(elf.SHT_SYMTAB), 0, symtabOff, uint64(symtab.Len()), 2 /*link: .strtab*/, 1 /*info: first global*/, 8, symSize)
	// .strtab
	writeELFSection(&buf, order, 9, uint32(elf.SHT_STRTAB), 0, strtabOff, uint64(strtab.Len()), 0, 0, 1, 0)
	// .shstrtab
	writeELFSection(&buf, order, 17, uint32(elf.SHT_STRTAB), 0, shstrtabOff, uint64(len(shstrtab)), 0, 0, 1, 0)

	return buf.Bytes(), nil
}

func writeELFHeader(buf *bytes.Buffer, order binary.ByteOrder, is64 bool, shoff uint64, shnum, shstrndx uint16) {
	var h [64]byte
	copy(h[0:4], elf.ELFMAG)
	if is64 {
		h[4] = byte(elf.ELFCLASS64)
	} else {
		h[4] = byte(elf.ELFCLASS32)
	}
	if order == binary.LittleEndian {
		h[5] = byte(elf.ELFDATA2LSB)
	} else {
		h[5] = byte(elf.ELFDATA2MSB)
	}
	h[6] = byte(elf.EV_CURRENT)
	order.PutUint16(h[16:18], uint16(elf.ET_REL))
	order.PutUint16(h[18:20], uint16(elf.EM_X86_64))
	order.PutUint32(h[20:24], uint32(elf.EV_CURRENT))
	order.PutUint16(h[52:54], 64) // e_ehsize
	order.PutUint16(h[58:60], 64) // e_shentsize
	order.PutUint64(h[40:48], shoff)
	order.PutUint16(h[60:62], shnum)
	order.PutUint16(h[62:64], shstrndx)
	buf.Write(h[:])
}

func writeELFSection(buf *bytes.Buffer, order binary.ByteOrder, nameOff uint32, shtype uint32, flags uint64, off, size uint64, link, info uint32, align, entsize uint64) {
	var s [64]byte
	order.PutUint32(s[0:4], nameOff)
	order.PutUint32(s[4:8], shtype)
	order.PutUint64(s[8:16], flags)
	order.PutUint64(s[16:24], 0) // sh_addr
	order.PutUint64(s[24:32], off)
	order.PutUint64(s[32:40], size)
	order.PutUint32(s[40:44], link)
	order.PutUint32(s[44:48], info)
	order.PutUint64(s[48:56], align)
	order.PutUint64(s[56:64], entsize)
	buf.Write(s[:])
}

// ELFUndefined returns every undefined symbol referenced by an ELF object
// (used on the compiled .rcgu.o inputs to the thin link, before the stub
// exists, to know what the stub must supply).
func ELFUndefined(path string) ([]string, error) {
	t, err := readELF(path)
	if err != nil {
		return nil, fmt.Errorf("objfile: %w", err)
	}
	return t.Undefined(), nil
}
