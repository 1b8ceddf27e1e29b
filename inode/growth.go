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
	"github.com/alyssaaa7/pintosfs/common"
)

// ErrTooLong maps to spec.md §7's TooLong error kind: the target length
// would exceed MaxSectors sectors.
var ErrTooLong = errors.New("inode: target length exceeds maximum file size")

// growWalk accumulates an explicit undo log of sectors allocated during
// one growTo call (spec.md §9: "Model the growth walk as a sequence of
// allocation events with an explicit undo log ... on failure, walk the
// log in reverse, releasing each allocated sector"). A FIFO queue
// suffices: release order doesn't matter since clearing free-map bits is
// commutative, and common.Queue is already the teacher's generic queue
// type, reused here as the walker's undo log.
type growWalk struct {
	table     *Table
	allocated common.Queue[uint32]
}

func newGrowWalk(t *Table) *growWalk {
	return &growWalk{table: t, allocated: common.NewLinkedListQueue[uint32]()}
}

// allocate reserves one sector under the already-held free-map lock and
// records it in the undo log.
func (w *growWalk) allocate() (uint32, error) {
	sector, err := w.table.freemap.AllocateLocked(1)
	if err != nil {
		return 0, err
	}
	w.allocated.Push(sector)
	return sector, nil
}

// zeroFill writes an all-zero sector through the buffer cache, satisfying
// spec.md §8 property 5 ("zero-filled extension").
func (w *growWalk) zeroFill(sector uint32) error {
	if err := w.table.cache.ZeroFill(sector); err != nil {
		return fmt.Errorf("inode: zero-fill sector %d: %w", sector, err)
	}
	return nil
}

// rollback releases every sector allocated so far in this walk, in
// whatever order the undo log yields them (spec.md §9, §7: "NoSpace
// triggers rollback of only the sectors allocated in this call").
func (w *growWalk) rollback() {
	for !w.allocated.IsEmpty() {
		sector := w.allocated.Pop()
		// Best-effort: a release failure here would only happen if the
		// free-map's own invariants are already broken, which this walk
		// cannot repair. releaseLocked's error path is for callers with
		// another recourse; during rollback there is none.
		_ = w.table.freemap.ReleaseLocked(sector, 1)
	}
}

// growTo grows the inode at sector from its current on-disk length to
// targetLength, per spec.md §4.4's three-phase algorithm (direct, then
// indirect, then doubly-indirect). It takes the free-map lock for the
// duration of the walk (spec.md §4.4: "Growth is serialized by a single
// free-map lock taken around the entire grow operation"), except when
// sector is the free-map's own inode sector, which is exempted to avoid
// reentrant deadlock (spec.md §4.4, and the Open Question decision
// recorded in DESIGN.md).
func (t *Table) growTo(sector uint32, r *Record, targetLength int64) error {
	if targetLength > int64(MaxSectors)*cfg.SectorSize {
		return ErrTooLong
	}

	exempt := sector == cfg.FreeMapInodeSector
	if !exempt {
		t.freemap.Lock()
		defer t.freemap.Unlock()
	}

	curSectors := sectorCount(r.Length)
	targetSectors := uint32((targetLength + cfg.SectorSize - 1) / cfg.SectorSize)
	if targetSectors <= curSectors {
		return nil
	}

	w := newGrowWalk(t)
	if err := t.growWalk(w, r, curSectors, targetSectors); err != nil {
		w.rollback()
		return err
	}
	return nil
}

// growWalk performs the actual index walk described in spec.md §4.4,
// points 1-3, over the half-open sector-index range [from, to).
func (t *Table) growWalk(w *growWalk, r *Record, from, to uint32) error {
	for i := from; i < to; i++ {
		idx := i + 1 // 1-based sector index, matching resolveSector's convention.

		switch {
		case idx <= NumDirect:
			sector, err := w.allocate()
			if err != nil {
				return err
			}
			if err := w.zeroFill(sector); err != nil {
				return err
			}
			r.Direct[idx-1] = sector

		case idx <= NumDirect+PointersPerBlock:
			if err := t.growIndirect(w, r, idx); err != nil {
				return err
			}

		case idx <= MaxSectors:
			if err := t.growDoublyIndirect(w, r, idx); err != nil {
				return err
			}

		default:
			return ErrTooLong
		}
	}
	return nil
}

func (t *Table) growIndirect(w *growWalk, r *Record, idx uint32) error {
	var block [PointersPerBlock]uint32
	if r.Indirect == 0 {
		sector, err := w.allocate()
		if err != nil {
			return err
		}
		r.Indirect = sector
	} else {
		b, err := t.readBlock(r.Indirect)
		if err != nil {
			return err
		}
		block = b
	}

	slot := idx - NumDirect - 1
	sector, err := w.allocate()
	if err != nil {
		return err
	}
	if err := w.zeroFill(sector); err != nil {
		return err
	}
	block[slot] = sector

	return t.writeBlock(r.Indirect, block)
}

func (t *Table) growDoublyIndirect(w *growWalk, r *Record, idx uint32) error {
	var outer [PointersPerBlock]uint32
	if r.DoublyIndirect == 0 {
		sector, err := w.allocate()
		if err != nil {
			return err
		}
		r.DoublyIndirect = sector
	} else {
		o, err := t.readBlock(r.DoublyIndirect)
		if err != nil {
			return err
		}
		outer = o
	}

	rel := idx - NumDirect - PointersPerBlock - 1
	outerIdx := rel / NumDoublyIndirectInner
	innerIdx := rel % NumDoublyIndirectInner

	var inner [PointersPerBlock]uint32
	if outer[outerIdx] == 0 {
		sector, err := w.allocate()
		if err != nil {
			return err
		}
		outer[outerIdx] = sector
	} else {
		blk, err := t.readBlock(outer[outerIdx])
		if err != nil {
			return err
		}
		inner = blk
	}

	sector, err := w.allocate()
	if err != nil {
		return err
	}
	if err := w.zeroFill(sector); err != nil {
		return err
	}
	inner[innerIdx] = sector

	if err := t.writeBlock(outer[outerIdx], inner); err != nil {
		return err
	}
	return t.writeBlock(r.DoublyIndirect, outer)
}
