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
	"sync"

	"github.com/alyssaaa7/pintosfs/buffercache"
	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/freemap"
)

// Inode is an open handle onto the inode at sector Sector. Several Opens
// of the same sector return the same *Inode, reference-counted (spec.md
// §3, "Open-inode record").
//
// GUARDED_BY(mu): openCount, denyWriteCount, removed, evicted
type Inode struct {
	table  *Table
	Sector uint32

	mu             sync.Mutex
	openCount      int
	denyWriteCount int
	removed        bool
	// evicted is set once openCount has dropped to zero and this record
	// has left (or is leaving) the table; a concurrent Open racing the
	// same Close must detect it and retry rather than reuse a record
	// that's on its way out. Mirrors buffercache's two-phase retry.
	evicted bool
}

// Table is the open-inode table: the unique mapping from sector to
// open-inode record while any handle exists (spec.md §3, §4.4).
type Table struct {
	cache   *buffercache.Cache
	freemap *freemap.FreeMap

	mu      sync.Mutex
	records map[uint32]*Inode
}

// NewTable constructs an open-inode table bound to the given cache and
// free-map.
func NewTable(cache *buffercache.Cache, fm *freemap.FreeMap) *Table {
	return &Table{
		cache:   cache,
		freemap: fm,
		records: make(map[uint32]*Inode),
	}
}

// Open finds or inserts the open-inode record for sector, incrementing
// its open_count (spec.md §4.4: "open(sector) finds or inserts; on find,
// it increments open_count").
func (t *Table) Open(sector uint32) (*Inode, error) {
	for {
		t.mu.Lock()
		rec, ok := t.records[sector]
		if !ok {
			rec = &Inode{table: t, Sector: sector}
			t.records[sector] = rec
		}
		t.mu.Unlock()

		rec.mu.Lock()
		if rec.evicted {
			rec.mu.Unlock()
			continue
		}
		rec.openCount++
		rec.mu.Unlock()
		return rec, nil
	}
}

// Reopen increments open_count on an already-open record (spec.md §4.4).
func (t *Table) Reopen(rec *Inode) *Inode {
	rec.mu.Lock()
	rec.openCount++
	rec.mu.Unlock()
	return rec
}

// Close decrements open_count; on reaching zero it removes the record
// from the table and, if the inode was removed, releases its sectors
// (spec.md §4.4).
func (t *Table) Close(rec *Inode) error {
	rec.mu.Lock()
	rec.openCount--
	if rec.openCount < 0 {
		rec.mu.Unlock()
		return fmt.Errorf("inode: close: sector %d open_count went negative", rec.Sector)
	}
	last := rec.openCount == 0
	shouldRelease := false
	if last {
		rec.evicted = true
		shouldRelease = rec.removed
	}
	rec.mu.Unlock()

	if !last {
		return nil
	}

	t.mu.Lock()
	if cur, ok := t.records[rec.Sector]; ok && cur == rec {
		delete(t.records, rec.Sector)
	}
	t.mu.Unlock()

	if shouldRelease {
		return t.releaseSectors(rec)
	}
	return nil
}

// MarkRemoved sets the removed flag; actual release is deferred to Close
// once open_count hits zero (spec.md §4.4, "Removal"), which is how
// existing handles keep seeing valid data after unlink (spec.md §8 E4).
func (rec *Inode) MarkRemoved() {
	rec.mu.Lock()
	rec.removed = true
	rec.mu.Unlock()
}

// Removed reports whether MarkRemoved has been called.
func (rec *Inode) Removed() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.removed
}

// DenyWrite increments the deny-write counter, asserting it never
// exceeds open_count (spec.md §4.4, "Deny-write").
func (rec *Inode) DenyWrite() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.denyWriteCount >= rec.openCount {
		return fmt.Errorf("inode: deny_write: sector %d would exceed open_count", rec.Sector)
	}
	rec.denyWriteCount++
	return nil
}

// AllowWrite decrements the deny-write counter.
func (rec *Inode) AllowWrite() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.denyWriteCount == 0 {
		return fmt.Errorf("inode: allow_write: sector %d has no outstanding deny_write", rec.Sector)
	}
	rec.denyWriteCount--
	return nil
}

// WriteDenied reports whether any handle currently denies writes.
func (rec *Inode) WriteDenied() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.denyWriteCount > 0
}

// OpenCount exposes open_count for spec.md §8 property 6 ("open_count
// equals the number of outstanding handles").
func (rec *Inode) OpenCount() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.openCount
}

// releaseSectors walks the block map releasing every data sector and
// finally the home sector, via the free-map (spec.md §4.4: "releases all
// data sectors and the home sector via the free-map").
func (t *Table) releaseSectors(rec *Inode) error {
	buf := make([]byte, cfg.SectorSize)
	if err := t.cache.Read(rec.Sector, 0, buf); err != nil {
		return fmt.Errorf("inode: release: read record at sector %d: %w", rec.Sector, err)
	}
	r, err := Decode(buf)
	if err != nil {
		return fmt.Errorf("inode: release: decode sector %d: %w", rec.Sector, err)
	}

	numSectors := sectorCount(r.Length)

	t.freemap.Lock()
	defer t.freemap.Unlock()

	releaseIfAllocated := func(sector uint32) error {
		if sector == 0 {
			return nil
		}
		return t.freemap.ReleaseLocked(sector, 1)
	}

	i := uint32(0)
	for ; i < numSectors && i < NumDirect; i++ {
		if err := releaseIfAllocated(r.Direct[i]); err != nil {
			return err
		}
	}
	if i >= NumDirect && r.Indirect != 0 {
		blockBuf := make([]byte, cfg.SectorSize)
		if err := t.cache.Read(r.Indirect, 0, blockBuf); err == nil {
			ptrs := DecodeBlock(blockBuf)
			for j := uint32(0); i < numSectors && j < PointersPerBlock; j, i = j+1, i+1 {
				if err := releaseIfAllocated(ptrs[j]); err != nil {
					return err
				}
			}
		}
		if err := releaseIfAllocated(r.Indirect); err != nil {
			return err
		}
	}
	if i >= NumDirect+PointersPerBlock && r.DoublyIndirect != 0 {
		outerBuf := make([]byte, cfg.SectorSize)
		if err := t.cache.Read(r.DoublyIndirect, 0, outerBuf); err == nil {
			outer := DecodeBlock(outerBuf)
			for o := 0; i < numSectors && o < NumDoublyIndirectOuter; o++ {
				if outer[o] == 0 {
					continue
				}
				innerBuf := make([]byte, cfg.SectorSize)
				if err := t.cache.Read(outer[o], 0, innerBuf); err == nil {
					inner := DecodeBlock(innerBuf)
					for k := 0; i < numSectors && k < NumDoublyIndirectInner; k, i = k+1, i+1 {
						if err := releaseIfAllocated(inner[k]); err != nil {
							return err
						}
					}
				}
				if err := releaseIfAllocated(outer[o]); err != nil {
					return err
				}
			}
		}
		if err := releaseIfAllocated(r.DoublyIndirect); err != nil {
			return err
		}
	}

	return t.freemap.ReleaseLocked(rec.Sector, 1)
}

// sectorCount returns how many data sectors a file of the given logical
// length currently occupies.
func sectorCount(length int32) uint32 {
	if length <= 0 {
		return 0
	}
	return (uint32(length) + cfg.SectorSize - 1) / cfg.SectorSize
}
