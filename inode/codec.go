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

// Package inode implements the on-disk inode layer: the 512-byte record
// codec, the open-inode table, byte-to-sector resolution over the
// direct/indirect/doubly-indirect block map, the growth algorithm with
// rollback, and read-at/write-at (spec.md §3, §4.4).
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/alyssaaa7/pintosfs/cfg"
)

const (
	magic = 0x494e4f44 // "INOD", a fixed constant identifying a valid record.

	// NumDirect and PointersPerBlock are the block-map geometry from
	// spec.md §3: 123 direct pointers, 128 pointers per indirect block
	// (used for both the single and double indirect levels).
	NumDirect        = 123
	PointersPerBlock = 128

	NumDoublyIndirectOuter = PointersPerBlock
	NumDoublyIndirectInner = PointersPerBlock

	// MaxSectors is the maximum number of data sectors addressable by one
	// inode: 123 + 128 + 128*128 = 16,635 (spec.md §3).
	MaxSectors = NumDirect + PointersPerBlock + NumDoublyIndirectOuter*NumDoublyIndirectInner
)

// Record is the decoded form of the fixed 512-byte on-disk inode record
// (spec.md §3).
type Record struct {
	Length         int32
	IsDir          bool
	Direct         [NumDirect]uint32
	Indirect       uint32
	DoublyIndirect uint32
}

// Kind returns 'd' or 'f', used only for log/metric labels; it is not a
// new on-disk field, just a convenience derived from IsDir.
func (r *Record) Kind() byte {
	if r.IsDir {
		return 'd'
	}
	return 'f'
}

// recordWireSize is checked against cfg.SectorSize at package init; any
// mismatch is a configuration bug (spec.md §3: "It is an invariant that
// the codec size equals the sector size exactly").
const recordWireSize = 4 /*length*/ + 4 /*magic*/ + 4 /*is_dir*/ + NumDirect*4 + 4 /*indirect*/ + 4 /*doubly_indirect*/

func init() {
	if recordWireSize != cfg.SectorSize {
		panic(fmt.Sprintf("inode: codec size %d does not equal sector size %d", recordWireSize, cfg.SectorSize))
	}
}

// Empty returns the encoded record for a brand new, zero-length inode of
// the given kind.
func Empty(isDir bool) [cfg.SectorSize]byte {
	return Encode(&Record{IsDir: isDir})
}

// Encode serializes r into exactly cfg.SectorSize bytes, little-endian
// (spec.md §6, "Little-endian encoding for all multibyte integers").
func Encode(r *Record) [cfg.SectorSize]byte {
	var buf [cfg.SectorSize]byte
	off := 0
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += 4
	}

	putU32(uint32(r.Length))
	putU32(magic)
	if r.IsDir {
		putU32(1)
	} else {
		putU32(0)
	}
	for _, d := range r.Direct {
		putU32(d)
	}
	putU32(r.Indirect)
	putU32(r.DoublyIndirect)

	return buf
}

// Decode parses a cfg.SectorSize-byte record. It returns an error if the
// magic doesn't match, which indicates either an unformatted sector or
// data corruption.
func Decode(buf []byte) (*Record, error) {
	if len(buf) != cfg.SectorSize {
		return nil, fmt.Errorf("inode: decode: buffer has length %d, want %d", len(buf), cfg.SectorSize)
	}

	off := 0
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		return v
	}

	r := &Record{}
	r.Length = int32(getU32())
	gotMagic := getU32()
	if gotMagic != magic {
		return nil, fmt.Errorf("inode: decode: bad magic %#x, want %#x", gotMagic, magic)
	}
	r.IsDir = getU32() != 0
	for i := range r.Direct {
		r.Direct[i] = getU32()
	}
	r.Indirect = getU32()
	r.DoublyIndirect = getU32()

	return r, nil
}

// DecodeBlock parses a sector containing PointersPerBlock little-endian
// uint32 pointers (an indirect or doubly-indirect index block).
func DecodeBlock(buf []byte) [PointersPerBlock]uint32 {
	var out [PointersPerBlock]uint32
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out
}

// EncodeBlock is the inverse of DecodeBlock.
func EncodeBlock(ptrs [PointersPerBlock]uint32) [cfg.SectorSize]byte {
	var buf [cfg.SectorSize]byte
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], p)
	}
	return buf
}
