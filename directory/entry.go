// Copyright 2024 Google LLC
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

// Package directory implements the hierarchical directory layer of
// spec.md §4.5: a directory is a file of fixed-width directory entries,
// with `.`/`..` installed at creation and path resolution supporting
// absolute and relative paths.
package directory

import (
	"encoding/binary"
	"fmt"

	"github.com/alyssaaa7/pintosfs/cfg"
)

// NameMax is the maximum byte length of one path component (spec.md §3).
const NameMax = 14

// entrySize is the on-disk width of one directory entry: inode_sector
// (u32) + name ([14]byte) + in_use (u8) + is_dir (u8) (spec.md §3).
const entrySize = 4 + NameMax + 1 + 1

// EntriesPerSector is how many directory entries fit in one sector,
// used by the façade to size a freshly created directory.
const EntriesPerSector = cfg.SectorSize / entrySize

// Entry is the decoded form of one directory record.
type Entry struct {
	InodeSector uint32
	Name        string
	InUse       bool
	IsDir       bool
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.InodeSector)
	copy(buf[4:4+NameMax], e.Name)
	if e.InUse {
		buf[4+NameMax] = 1
	}
	if e.IsDir {
		buf[4+NameMax+1] = 1
	}
	return buf
}

func decodeEntry(buf []byte) (Entry, error) {
	if len(buf) != entrySize {
		return Entry{}, fmt.Errorf("directory: decode: buffer has length %d, want %d", len(buf), entrySize)
	}
	nameBytes := buf[4 : 4+NameMax]
	n := 0
	for n < len(nameBytes) && nameBytes[n] != 0 {
		n++
	}
	return Entry{
		InodeSector: binary.LittleEndian.Uint32(buf[0:4]),
		Name:        string(nameBytes[:n]),
		InUse:       buf[4+NameMax] != 0,
		IsDir:       buf[4+NameMax+1] != 0,
	}, nil
}
