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

// Package freemap implements the bitmap of allocated sectors described in
// spec.md §3 ("Free-map") and §4.2. The bitmap lives in memory and is
// persisted as the data of the special file at sector
// cfg.FreeMapInodeSector, through the same inode.Inode sector accessors
// (ReadAt/WriteAt/Length) any ordinary file's contents would use: Open and
// Close take a Backing (satisfied by *inode.Inode) and grow/read/write it
// exactly like a file, instead of poking the block device directly. This
// is what lets the free-map's body share in the inode layer's own
// allocation bookkeeping: growing the backing inode allocates sectors from
// this same bitmap, so the free-map's on-disk footprint can never collide
// with another inode's home sector the way a hardcoded raw-sector offset
// could.
//
// A single global lock serializes every allocate/release batch. The inode
// layer also takes this lock for the duration of an entire grow walk
// (spec.md §4.4), with one documented exception: growth of the free-map's
// own inode is exempted by sector number, since the free-map cannot wait
// on itself without deadlocking (spec.md §4.4, "The free-map inode itself
// grows under its own identity exempted from the lock"). Close relies on
// this: it holds fm.mu for the whole call, including the WriteAt that may
// grow the backing inode, so the exempted growTo can mutate fm.bits
// in-place without re-entering the lock.
package freemap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/cfg"
)

// ErrNoSpace is returned by Allocate when no free sector remains. It maps
// to spec.md §7's NoSpace error kind.
var ErrNoSpace = errors.New("freemap: no space")

// ErrDoubleFree is the "programming error" spec.md §4.2 calls out:
// releasing an already-free sector is a bug in the caller, detected by
// assertion rather than treated as a recoverable condition.
var ErrDoubleFree = errors.New("freemap: release of an already-free sector")

// FreeMap is the sector allocation bitmap. Every method takes fm.mu
// itself except Lock/Unlock and the *Locked variants, which run under a
// lock the caller already holds (spec.md §4.2, "All four operations take
// the free-map lock").
//
// GUARDED_BY(mu): bits, dirty
type FreeMap struct {
	dev Device

	mu    sync.Mutex
	bits  []bool
	dirty bool
}

// Device is the narrow slice of blockdevice.Device the free-map needs to
// size the bitmap to the underlying device; it is defined locally so this
// package doesn't otherwise depend on blockdevice's error types.
type Device interface {
	SectorCount() uint32
}

var _ Device = (blockdevice.Device)(nil)

// Backing is the inode-accessor surface Open/Close persist the bitmap
// through: the free-map's body is the data of the ordinary inode at
// cfg.FreeMapInodeSector (spec.md §4.2, SPEC_FULL.md §4.2). Satisfied by
// *inode.Inode without an adapter.
type Backing interface {
	Length() (int64, error)
	ReadAt(p []byte, offset int64) (int, error)
	WriteAt(p []byte, offset int64) (int, error)
}

// New constructs a FreeMap bound to dev. Callers must call Format (on a
// fresh device) or Open (on an existing image) before using it.
func New(dev Device) *FreeMap {
	return &FreeMap{dev: dev}
}

// Format produces an empty bitmap sized to the device and reserves
// cfg.FreeMapInodeSector and cfg.RootInodeSector (spec.md §4.2).
func (fm *FreeMap) Format() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.bits = make([]bool, fm.dev.SectorCount())
	fm.bits[cfg.FreeMapInodeSector] = true
	fm.bits[cfg.RootInodeSector] = true
	fm.dirty = true
	return nil
}

// bitmapSectors returns how many on-disk sectors the bitmap body occupies.
func bitmapSectors(n int) uint32 {
	bytesNeeded := (n + 7) / 8
	return uint32((bytesNeeded + cfg.SectorSize - 1) / cfg.SectorSize)
}

// Open reads the persisted bitmap from backing's data on mount. backing is
// the free-map's own inode (table.Open(cfg.FreeMapInodeSector)), kept open
// by the caller for the lifetime of the mount and handed to Close at
// shutdown.
func (fm *FreeMap) Open(backing Backing) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	n := int(fm.dev.SectorCount())
	fm.bits = make([]bool, n)

	byteLen := int(bitmapSectors(n)) * cfg.SectorSize
	buf := make([]byte, byteLen)
	if _, err := backing.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("freemap: open: %w", err)
	}
	for i := 0; i < n; i++ {
		byteIdx, bitInByte := i/8, uint(i%8)
		fm.bits[i] = buf[byteIdx]&(1<<bitInByte) != 0
	}
	fm.dirty = false
	return nil
}

// Close persists the bitmap back to backing if it has changed since the
// last Open/Close (spec.md §4.2, "write it back on shutdown"). It grows
// backing to the bitmap's full encoded size before taking the snapshot to
// encode: growth itself allocates sectors and flips bits in fm.bits, so
// encoding has to happen after growth settles, not before.
func (fm *FreeMap) Close(backing Backing) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if !fm.dirty {
		return nil
	}

	n := len(fm.bits)
	byteLen := int(bitmapSectors(n)) * cfg.SectorSize

	cur, err := backing.Length()
	if err != nil {
		return fmt.Errorf("freemap: close: %w", err)
	}
	if cur < int64(byteLen) {
		if _, err := backing.WriteAt(make([]byte, int64(byteLen)-cur), cur); err != nil {
			return fmt.Errorf("freemap: close: %w", err)
		}
	}

	buf := make([]byte, byteLen)
	for i := 0; i < n; i++ {
		if fm.bits[i] {
			byteIdx, bitInByte := i/8, uint(i%8)
			buf[byteIdx] |= 1 << bitInByte
		}
	}
	if _, err := backing.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("freemap: close: %w", err)
	}
	fm.dirty = false
	return nil
}

// Allocate reserves count consecutive free sectors and returns the first
// address. The core only ever calls this with count == 1 (spec.md §4.2);
// the loop below still honors larger counts so the contract matches the
// spec's signature exactly.
func (fm *FreeMap) Allocate(count int) (uint32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.allocateLocked(count)
}

func (fm *FreeMap) allocateLocked(count int) (uint32, error) {
	if count <= 0 {
		return 0, fmt.Errorf("freemap: invalid count %d", count)
	}
	run := 0
	for i, set := range fm.bits {
		if set {
			run = 0
			continue
		}
		run++
		if run == count {
			start := uint32(i - count + 1)
			for s := start; s <= uint32(i); s++ {
				fm.bits[s] = true
			}
			fm.dirty = true
			return start, nil
		}
	}
	return 0, ErrNoSpace
}

// Release marks count sectors starting at sector free again.
func (fm *FreeMap) Release(sector uint32, count int) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.releaseLocked(sector, count)
}

func (fm *FreeMap) releaseLocked(sector uint32, count int) error {
	for s := sector; s < sector+uint32(count); s++ {
		if int(s) >= len(fm.bits) {
			return fmt.Errorf("freemap: release: %w: sector %d out of range", ErrDoubleFree, s)
		}
		if !fm.bits[s] {
			return fmt.Errorf("%w: sector %d", ErrDoubleFree, s)
		}
		fm.bits[s] = false
	}
	fm.dirty = true
	return nil
}

// Lock and Unlock expose the free-map's own mutex so the inode layer can
// hold it around an entire grow walk (spec.md §4.4, §5: "Free-map lock
// ... outer-most relative to cache locks during growth"), rather than
// re-taking it per-sector via Allocate/Release.
func (fm *FreeMap) Lock()   { fm.mu.Lock() }
func (fm *FreeMap) Unlock() { fm.mu.Unlock() }

// AllocateLocked and ReleaseLocked are Allocate/Release without taking the
// lock themselves; callers must hold it (normally via Lock/Unlock around
// a whole grow walk).
func (fm *FreeMap) AllocateLocked(count int) (uint32, error) { return fm.allocateLocked(count) }
func (fm *FreeMap) ReleaseLocked(sector uint32, count int) error {
	return fm.releaseLocked(sector, count)
}

// FreeCount returns the number of unallocated sectors, used by tests to
// check spec.md §8 property 4 (growth atomicity).
func (fm *FreeMap) FreeCount() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	n := 0
	for _, set := range fm.bits {
		if !set {
			n++
		}
	}
	return n
}

// IsAllocated reports whether sector is currently marked allocated. Used
// by tests (e.g. spec.md §8 E4, "its home sector appears free").
func (fm *FreeMap) IsAllocated(sector uint32) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return int(sector) < len(fm.bits) && fm.bits[sector]
}
