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

package inode

import (
	"fmt"

	"github.com/alyssaaa7/pintosfs/cfg"
)

// sectorIndex computes the 1-based sector index for a byte offset
// (spec.md §4.4: "i = ceil((pos+1)/512)").
func sectorIndex(pos int64) uint32 {
	return uint32((pos + cfg.SectorSize) / cfg.SectorSize)
}

// resolveSector maps a 1-based sector index i to a device sector address,
// per spec.md §4.4's byte-to-sector resolution table. It returns sector
// == 0 for a hole (an index that falls within an as-yet-unallocated
// region); this is not an error, matching "reading out-of-range is
// defined to return zero bytes."
//
// The switch over i's range naturally implements the doubly-indirect
// short-circuit spec.md's design notes call for: an index in the
// direct or single-indirect region never touches r.DoublyIndirect at
// all, so there is no spurious device read of that block.
func (t *Table) resolveSector(r *Record, i uint32) (uint32, error) {
	switch {
	case i == 0:
		return 0, fmt.Errorf("inode: resolveSector: index must be >= 1")

	case i <= NumDirect:
		return r.Direct[i-1], nil

	case i <= NumDirect+PointersPerBlock:
		if r.Indirect == 0 {
			return 0, nil
		}
		block, err := t.readBlock(r.Indirect)
		if err != nil {
			return 0, err
		}
		return block[i-NumDirect-1], nil

	case i <= MaxSectors:
		if r.DoublyIndirect == 0 {
			return 0, nil
		}
		outerIdx := (i - NumDirect - PointersPerBlock - 1) / NumDoublyIndirectInner
		innerIdx := (i - NumDirect - PointersPerBlock - 1) % NumDoublyIndirectInner

		outer, err := t.readBlock(r.DoublyIndirect)
		if err != nil {
			return 0, err
		}
		if outer[outerIdx] == 0 {
			return 0, nil
		}
		inner, err := t.readBlock(outer[outerIdx])
		if err != nil {
			return 0, err
		}
		return inner[innerIdx], nil

	default:
		return 0, nil // beyond MaxSectors: treated as a hole, never reachable via growth.
	}
}

func (t *Table) readBlock(sector uint32) ([PointersPerBlock]uint32, error) {
	buf := make([]byte, cfg.SectorSize)
	if err := t.cache.Read(sector, 0, buf); err != nil {
		return [PointersPerBlock]uint32{}, fmt.Errorf("inode: read block %d: %w", sector, err)
	}
	return DecodeBlock(buf), nil
}

func (t *Table) writeBlock(sector uint32, ptrs [PointersPerBlock]uint32) error {
	buf := EncodeBlock(ptrs)
	if err := t.cache.Write(sector, 0, buf[:]); err != nil {
		return fmt.Errorf("inode: write block %d: %w", sector, err)
	}
	return nil
}

func (t *Table) readRecord(sector uint32) (*Record, error) {
	buf := make([]byte, cfg.SectorSize)
	if err := t.cache.Read(sector, 0, buf); err != nil {
		return nil, fmt.Errorf("inode: read record %d: %w", sector, err)
	}
	return Decode(buf)
}

func (t *Table) writeRecord(sector uint32, r *Record) error {
	buf := Encode(r)
	if err := t.cache.Write(sector, 0, buf[:]); err != nil {
		return fmt.Errorf("inode: write record %d: %w", sector, err)
	}
	return nil
}
