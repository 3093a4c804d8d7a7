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
	"strings"
	"testing"

	"github.com/extentfs/extentfs/internal/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirEncodeDecodeRoundtrip(t *testing.T) {
	entries := []DirEntry{
		{Name: "readme.txt", Inum: 2},
		{Name: "a", Inum: 3},
		{Name: "unicode-ключ", Inum: 4},
		{Name: "deeply nested name with spaces", Inum: 1<<32 - 1},
	}

	var buf []byte
	for _, e := range entries {
		var ok bool
		buf, ok = appendDirEntry(buf, e.Name, e.Inum)
		require.True(t, ok)
	}

	assert.Equal(t, entries, decodeDir(buf))
}

func TestDecodeEmptyDirectory(t *testing.T) {
	assert.Empty(t, decodeDir(nil))
	assert.Empty(t, decodeDir([]byte{0}))
}

func TestDecodeStopsAtLoneNul(t *testing.T) {
	buf, _ := appendDirEntry(nil, "kept", 2)
	buf = append(buf, 0) // terminator
	tail, _ := appendDirEntry(nil, "ignored", 3)
	buf = append(buf, tail...)

	entries := decodeDir(buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Name)
}

func TestDeleteDirEntry(t *testing.T) {
	buf, _ := appendDirEntry(nil, "one", 2)
	buf, _ = appendDirEntry(buf, "two", 3)
	buf, _ = appendDirEntry(buf, "three", 4)

	buf = deleteDirEntry(buf, "two")

	assert.Equal(t,
		[]DirEntry{{Name: "one", Inum: 2}, {Name: "three", Inum: 4}},
		decodeDir(buf))

	// Absent names leave the buffer untouched.
	assert.Equal(t, buf, deleteDirEntry(buf, "two"))
}

func TestAppendDirEntryRejectsOverflow(t *testing.T) {
	name := strings.Repeat("n", 4000)

	var buf []byte
	var ok bool
	count := 0
	for {
		buf, ok = appendDirEntry(buf, name, Inum(count+2))
		if !ok {
			break
		}
		count++
		require.Less(t, count, 100, "overflow never reported")
	}

	assert.LessOrEqual(t, len(buf), maxDirSize)
	assert.GreaterOrEqual(t, len(buf)+len(name)+5, disk.MaxFileSize)
	assert.Len(t, decodeDir(buf), count)
}
