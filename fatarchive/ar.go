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
	"fmt"
	"io"
	"strconv"
	"strings"
)

// arMagic is the classic ar global header, identical across the BSD and
// SysV variants this driver needs to read and write.
const arMagic = "!<arch>\n"

// Member is one object-file member of an ar archive: a name and its raw
// bytes. No third-party library in the retrieved corpus reads or writes the
// ar member format, so both directions are hand-rolled here; the format
// itself is simple enough (a fixed 60-byte header per member) that this is
// a few dozen lines, not a library-shaped problem.
type Member struct {
	Name string
	Data []byte
}

// ReadArchive parses a classic ar archive into its members. GNU-style long
// filenames (a "//" name table and "/N" references into it) are resolved
// transparently since rustc's own rlibs use them for .rcgu.o member names
// that exceed the 16-byte inline name field.
func ReadArchive(r io.Reader) ([]Member, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fatarchive: reading archive: %w", err)
	}
	if len(buf) < len(arMagic) || string(buf[:len(arMagic)]) != arMagic {
		return nil, fmt.Errorf("fatarchive: not an ar archive (bad magic)")
	}
	buf = buf[len(arMagic):]

	var longNames string
	var members []Member
	for len(buf) > 0 {
		if len(buf) < 60 {
			break
		}
		header := buf[:60]
		buf = buf[60:]

		rawName := strings.TrimRight(string(header[0:16]), " ")
		sizeStr := strings.TrimSpace(string(header[48:58]))
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("fatarchive: bad member size field %q: %w", sizeStr, err)
		}
		if size < 0 || size > len(buf) {
			return nil, fmt.Errorf("fatarchive: member size %d exceeds remaining archive data", size)
		}
		data := buf[:size]
		buf = buf[size:]
		if size%2 == 1 && len(buf) > 0 {
			buf = buf[1:] // padding byte
		}

		switch {
		case rawName == "//":
			longNames = string(data)
			continue
		case rawName == "/" || rawName == "/SYM64/":
			continue // symbol table, not a member we care about
		case strings.HasPrefix(rawName, "/"):
			idx, err := strconv.Atoi(strings.TrimSuffix(rawName[1:], "/"))
			if err != nil {
				return nil, fmt.Errorf("fatarchive: bad long-name reference %q: %w", rawName, err)
			}
			rawName = extractLongName(longNames, idx)
		default:
			rawName = strings.TrimSuffix(rawName, "/")
		}

		members = append(members, Member{Name: rawName, Data: append([]byte(nil), data...)})
	}
	return members, nil
}

func extractLongName(table string, offset int) string {
	if offset < 0 || offset >= len(table) {
		return ""
	}
	rest := table[offset:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSuffix(rest, "/")
}

// WriteArchive writes members as a classic ar (SysV variant) archive,
// emitting a "//" long-name table whenever a member name exceeds the
// 16-byte inline field. This is the format §4.B calls a "thin archive" of
// surviving .rcgu.o/.obj members.
func WriteArchive(w io.Writer, members []Member) error {
	if _, err := w.Write([]byte(arMagic)); err != nil {
		return err
	}

	var longTable bytes.Buffer
	offsets := make([]int, len(members))
	for i, m := range members {
		if len(m.Name) > 16 {
			offsets[i] = longTable.Len()
			longTable.WriteString(m.Name)
			longTable.WriteString("/\n")
		}
	}
	if longTable.Len() > 0 {
		if err := writeHeader(w, "//", longTable.Len()); err != nil {
			return err
		}
		if _, err := w.Write(longTable.Bytes()); err != nil {
			return err
		}
		if longTable.Len()%2 == 1 {
			if _, err := w.Write([]byte{'\n'}); err != nil {
				return err
			}
		}
	}

	for i, m := range members {
		name := m.Name + "/"
		if len(m.Name) > 16 {
			name = fmt.Sprintf("/%d", offsets[i])
		}
		if err := writeHeader(w, name, len(m.Data)); err != nil {
			return err
		}
		if _, err := w.Write(m.Data); err != nil {
			return err
		}
		if len(m.Data)%2 == 1 {
			if _, err := w.Write([]byte{'\n'}); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeHeader(w io.Writer, name string, size int) error {
	var h [60]byte
	for i := range h {
		h[i] = ' '
	}
	copy(h[0:16], name)
	copy(h[16:28], "0")          // mtime
	copy(h[28:34], "0")          // uid
	copy(h[34:40], "0")          // gid
	copy(h[40:48], "644")        // mode
	copy(h[48:58], strconv.Itoa(size))
	h[58] = '`'
	h[59] = '\n'
	_, err := w.Write(h[:])
	return err
}
