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
	"errors"
	"fmt"

	"github.com/alyssaaa7/pintosfs/cfg"
)

// ErrWriteDenied maps to spec.md §7's WriteDenied error kind.
var ErrWriteDenied = errors.New("inode: write denied")

// Create formats a brand-new inode record of the given kind at sector,
// through the buffer cache (so it participates in the same write-back
// discipline as everything else).
func (t *Table) Create(sector uint32, isDir bool) error {
	buf := Empty(isDir)
	if err := t.cache.Write(sector, 0, buf[:]); err != nil {
		return fmt.Errorf("inode: create: %w", err)
	}
	return nil
}

// Length returns the inode's current logical length in bytes.
func (rec *Inode) Length() (int64, error) {
	r, err := rec.table.readRecord(rec.Sector)
	if err != nil {
		return 0, err
	}
	return int64(r.Length), nil
}

// IsDir reports whether the inode is a directory.
func (rec *Inode) IsDir() (bool, error) {
	r, err := rec.table.readRecord(rec.Sector)
	if err != nil {
		return false, err
	}
	return r.IsDir, nil
}

// ReadAt reads len(p) bytes starting at offset, clipped to the file's
// current length (spec.md §4.4, "Read-at / write-at"). Reads past end of
// file return a short read, never an error.
func (rec *Inode) ReadAt(p []byte, offset int64) (int, error) {
	r, err := rec.table.readRecord(rec.Sector)
	if err != nil {
		return 0, err
	}

	remaining := int64(r.Length) - offset
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n := 0
	for n < len(p) {
		pos := offset + int64(n)
		idx := sectorIndex(pos)
		sector, err := rec.table.resolveSector(r, idx)
		if err != nil {
			return n, err
		}

		sectorOff := int(pos % cfg.SectorSize)
		chunk := cfg.SectorSize - sectorOff
		if chunk > len(p)-n {
			chunk = len(p) - n
		}

		if sector == 0 {
			for i := 0; i < chunk; i++ {
				p[n+i] = 0
			}
		} else if err := rec.table.cache.Read(sector, sectorOff, p[n:n+chunk]); err != nil {
			return n, fmt.Errorf("inode: read-at sector %d: %w", sector, err)
		}
		n += chunk
	}
	return n, nil
}

// WriteAt writes len(p) bytes at offset, growing the file first if
// needed (spec.md §4.4). Refuses with ErrWriteDenied if the inode
// currently has any outstanding deny_write.
func (rec *Inode) WriteAt(p []byte, offset int64) (int, error) {
	if rec.WriteDenied() {
		return 0, ErrWriteDenied
	}

	r, err := rec.table.readRecord(rec.Sector)
	if err != nil {
		return 0, err
	}

	end := offset + int64(len(p))
	if end > int64(r.Length) {
		if err := rec.table.growTo(rec.Sector, r, end); err != nil {
			return 0, err
		}
		r.Length = int32(end)
		if err := rec.table.writeRecord(rec.Sector, r); err != nil {
			return 0, err
		}
	}

	n := 0
	for n < len(p) {
		pos := offset + int64(n)
		idx := sectorIndex(pos)
		sector, err := rec.table.resolveSector(r, idx)
		if err != nil {
			return n, err
		}
		if sector == 0 {
			return n, fmt.Errorf("inode: write-at: unexpected hole at sector index %d after growth", idx)
		}

		sectorOff := int(pos % cfg.SectorSize)
		chunk := cfg.SectorSize - sectorOff
		if chunk > len(p)-n {
			chunk = len(p) - n
		}

		if err := rec.table.cache.Write(sector, sectorOff, p[n:n+chunk]); err != nil {
			return n, fmt.Errorf("inode: write-at sector %d: %w", sector, err)
		}
		n += chunk
	}
	return n, nil
}
