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

// Package buffercache implements the fixed-capacity, write-back sector
// cache described in spec.md §4.3: a table lock guarding slot metadata
// search, per-slot locks guarding bytes and per-slot state, and a clock
// (second-chance) eviction policy. The package is deliberately
// context-free and synchronous; see SPEC_FULL.md's note on context
// plumbing living only at the façade layer.
package buffercache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/common"
	"github.com/jacobsa/syncutil"
)

// Device is the narrow device contract the cache needs.
type Device interface {
	ReadSector(sector uint32, buf []byte) error
	WriteSector(sector uint32, buf []byte) error
}

// slot is one buffer-cache entry (spec.md §3, "Buffer-cache slot").
//
// GUARDED_BY(mu): data, dirty, accessed
// The sector/free pair is written only while mu is held, but read by the
// table lookup without mu (see lookup() below for why that's safe: any
// stale read is caught by the re-validation step the two-phase protocol
// performs once the slot lock is actually acquired).
type slot struct {
	mu       sync.Mutex
	sector   uint32
	data     [cfg.SectorSize]byte
	dirty    bool
	accessed bool
	free     bool
}

// Cache is the bounded write-back buffer cache.
//
// GUARDED_BY(tableMu): clockHand, and the sector/free pair of every slot
// during the search phase of lookup().
type Cache struct {
	dev     Device
	metrics common.MetricHandle

	tableMu   syncutil.InvariantMutex
	slots     []*slot
	clockHand int

	// accesses/hits mirror spec.md §6's buffer_accesses()/buffer_hits();
	// kept as plain counters (not solely OTel) because they are the
	// source of truth the syscall surface exposes directly.
	accesses uint64
	hits     uint64
}

// New constructs a Cache with cfg.DefaultCacheSlots slots (spec.md §4.3,
// "Fixed capacity of 64 slots").
func New(dev Device, metrics common.MetricHandle) *Cache {
	return NewWithCapacity(dev, metrics, cfg.DefaultCacheSlots)
}

// NewWithCapacity is New with an explicit slot count, used by tests that
// want to force eviction quickly.
func NewWithCapacity(dev Device, metrics common.MetricHandle, capacity int) *Cache {
	if metrics == nil {
		metrics = common.NewNoopMetrics()
	}
	c := &Cache{
		dev:     dev,
		metrics: metrics,
		slots:   make([]*slot, capacity),
	}
	for i := range c.slots {
		c.slots[i] = &slot{free: true}
	}
	c.tableMu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

// checkInvariants enforces spec.md §8 property 2 ("at most one slot per
// sector") whenever the table lock is held; called by InvariantMutex
// around every Lock/Unlock pair.
func (c *Cache) checkInvariants() {
	seen := make(map[uint32]bool)
	for _, s := range c.slots {
		if s.free {
			continue
		}
		if seen[s.sector] {
			panic(fmt.Sprintf("buffercache: sector %d resident in more than one slot", s.sector))
		}
		seen[s.sector] = true
	}
}

var errRetry = errors.New("buffercache: slot invalidated, retry")

// lookup implements spec.md §4.3's lookup protocol and returns the chosen
// slot locked (caller must Unlock it) along with whether it was a hit.
// On a miss it has already issued the device read.
func (c *Cache) lookup(sector uint32) (s *slot, hit bool, err error) {
	for {
		s, hit, err = c.lookupOnce(sector)
		if err == errRetry {
			continue
		}
		return s, hit, err
	}
}

func (c *Cache) lookupOnce(sector uint32) (*slot, bool, error) {
	c.tableMu.Lock()

	var chosen *slot
	hit := false
	for _, s := range c.slots {
		if !s.free && s.sector == sector {
			chosen, hit = s, true
			break
		}
	}
	if chosen == nil {
		for _, s := range c.slots {
			if s.free {
				chosen = s
				break
			}
		}
	}
	if chosen == nil {
		var err error
		chosen, err = c.evictLocked()
		if err != nil {
			c.tableMu.Unlock()
			return nil, false, err
		}
	}
	c.tableMu.Unlock()

	chosen.mu.Lock()
	if hit {
		if chosen.free || chosen.sector != sector {
			chosen.mu.Unlock()
			return nil, false, errRetry
		}
	} else {
		if !chosen.free {
			chosen.mu.Unlock()
			return nil, false, errRetry
		}
		if err := c.dev.ReadSector(sector, chosen.data[:]); err != nil {
			chosen.mu.Unlock()
			return nil, false, fmt.Errorf("buffercache: fill sector %d: %w", sector, err)
		}
		chosen.free = false
		chosen.sector = sector
		chosen.dirty = false
	}
	return chosen, hit, nil
}

// evictLocked runs the clock algorithm to free one slot. Caller must hold
// tableMu. Writes back the victim if dirty, matching spec.md §4.3's
// write-back invariant.
func (c *Cache) evictLocked() (*slot, error) {
	n := len(c.slots)
	if n == 0 {
		return nil, fmt.Errorf("buffercache: no slots to evict (capacity 0)")
	}
	for i := 0; i < 2*n+1; i++ {
		s := c.slots[c.clockHand]
		s.mu.Lock()
		if s.accessed {
			s.accessed = false
			s.mu.Unlock()
			c.clockHand = (c.clockHand + 1) % n
			continue
		}

		victimDirty := s.dirty
		if s.dirty {
			if err := c.dev.WriteSector(s.sector, s.data[:]); err != nil {
				s.mu.Unlock()
				return nil, fmt.Errorf("buffercache: evict write-back sector %d: %w", s.sector, err)
			}
		}
		c.metrics.BufferEvictionCount(context.Background(), 1, victimDirty)

		s.sector = 0
		s.data = [cfg.SectorSize]byte{}
		s.dirty = false
		s.accessed = false
		s.free = true
		s.mu.Unlock()

		c.clockHand = (c.clockHand + 1) % n
		return s, nil
	}
	// The loop clears accessed as it goes, so reaching here takes
	// concurrent Read/Write calls re-marking every slot between sweeps.
	return nil, fmt.Errorf("buffercache: no evictable slot after %d clock steps", 2*n+1)
}

func (c *Cache) recordAccess(hit bool) {
	c.accesses++
	if hit {
		c.hits++
	}
	c.metrics.BufferAccessCount(context.Background(), 1, hit)
}

// Read copies len(dst) bytes starting at offset within sector into dst.
// offset+len(dst) must not exceed cfg.SectorSize.
func (c *Cache) Read(sector uint32, offset int, dst []byte) error {
	if offset < 0 || offset+len(dst) > cfg.SectorSize {
		return fmt.Errorf("buffercache: read [%d,%d) out of sector bounds", offset, offset+len(dst))
	}
	s, hit, err := c.lookup(sector)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	c.recordAccess(hit)
	s.accessed = true
	copy(dst, s.data[offset:offset+len(dst)])
	return nil
}

// Write copies len(src) bytes from src into sector at offset, marking the
// slot dirty.
func (c *Cache) Write(sector uint32, offset int, src []byte) error {
	if offset < 0 || offset+len(src) > cfg.SectorSize {
		return fmt.Errorf("buffercache: write [%d,%d) out of sector bounds", offset, offset+len(src))
	}
	s, hit, err := c.lookup(sector)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	c.recordAccess(hit)
	s.accessed = true
	s.dirty = true
	copy(s.data[offset:offset+len(src)], src)
	return nil
}

// ZeroFill overwrites the entire sector with zeros through the cache,
// used by the inode layer's growth algorithm to satisfy spec.md §8
// property 5 ("zero-filled extension"). It goes through the ordinary
// lookup, so a miss still reads the sector from the device first; that
// content is then overwritten with zeros and the slot marked dirty.
func (c *Cache) ZeroFill(sector uint32) error {
	s, hit, err := c.lookup(sector)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	c.recordAccess(hit)
	s.accessed = true
	s.dirty = true
	s.data = [cfg.SectorSize]byte{}
	return nil
}

// Flush writes back every dirty slot and clears its dirty flag (spec.md
// §4.3, "Used on shutdown and optionally for durability").
func (c *Cache) Flush() error {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()

	for _, s := range c.slots {
		s.mu.Lock()
		if !s.free && s.dirty {
			if err := c.dev.WriteSector(s.sector, s.data[:]); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("buffercache: flush sector %d: %w", s.sector, err)
			}
			s.dirty = false
		}
		s.mu.Unlock()
	}
	return nil
}

// Accesses and Hits back spec.md §6's buffer_accesses()/buffer_hits().
func (c *Cache) Accesses() uint64 { return c.accesses }
func (c *Cache) Hits() uint64     { return c.hits }

// Capacity returns the fixed slot count.
func (c *Cache) Capacity() int { return len(c.slots) }
