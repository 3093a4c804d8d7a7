// Copyright 2025 The extentfs Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fsys

import (
	"bytes"
	"encoding/binary"

	"github.com/extentfs/extentfs/internal/disk"
)

// Directory contents are a concatenation of entries, each the name's
// UTF-8 bytes, one NUL, and the entry's inode number as a little-endian
// uint32. A zero-length name terminates the listing, so running off the
// end of the extent and hitting a lone NUL read the same way. Entries
// keep insertion order.

// DirEntry is one name binding in a directory.
type DirEntry struct {
	Name string
	Inum Inum
}

// maxDirSize leaves room for the implied trailing terminator within
// the largest extent an inode can address.
const maxDirSize = disk.MaxFileSize - 5

// decodeDir parses every entry in buf.
func decodeDir(buf []byte) []DirEntry {
	var entries []DirEntry
	pos := 0
	for {
		nul := bytes.IndexByte(buf[pos:], 0)
		if nul <= 0 {
			// End of extent, or a lone NUL.
			return entries
		}
		name := string(buf[pos : pos+nul])
		pos += nul + 1
		if pos+4 > len(buf) {
			return entries
		}
		entries = append(entries, DirEntry{
			Name: name,
			Inum: Inum(binary.LittleEndian.Uint32(buf[pos:])),
		})
		pos += 4
	}
}

// appendDirEntry appends a binding for name to buf, reporting false if
// the result would overflow the maximum directory size. Name
// uniqueness is the caller's job.
func appendDirEntry(buf []byte, name string, inum Inum) ([]byte, bool) {
	if len(buf)+len(name)+5 > maxDirSize {
		return buf, false
	}
	buf = append(buf, name...)
	buf = append(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(inum))
	return buf, true
}

// deleteDirEntry removes the first binding for name, leaving buf
// unchanged if name is absent.
func deleteDirEntry(buf []byte, name string) []byte {
	pos := 0
	for {
		nul := bytes.IndexByte(buf[pos:], 0)
		if nul <= 0 || pos+nul+5 > len(buf) {
			return buf
		}
		entryLen := nul + 5
		if string(buf[pos:pos+nul]) == name {
			return append(buf[:pos], buf[pos+entryLen:]...)
		}
		pos += entryLen
	}
}
