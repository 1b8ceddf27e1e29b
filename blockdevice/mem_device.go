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

package blockdevice

import (
	"sync"
	"sync/atomic"

	"github.com/alyssaaa7/pintosfs/cfg"
)

// MemDevice is an in-memory Device, used by unit tests so scenarios run
// without touching disk. Mirrors the fakes the
// teacher's storage-layer tests use in place of a real GCS bucket.
type MemDevice struct {
	mu     sync.Mutex
	sects  [][cfg.SectorSize]byte
	writes atomic.Uint64
}

var _ Device = (*MemDevice)(nil)

// NewMemDevice returns a zero-filled in-memory device with sectorCount
// sectors.
func NewMemDevice(sectorCount uint32) *MemDevice {
	return &MemDevice{sects: make([][cfg.SectorSize]byte, sectorCount)}
}

func (d *MemDevice) SectorCount() uint32 { return uint32(len(d.sects)) }

func (d *MemDevice) ReadSector(sector uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return &Error{Op: "read", Err: err}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector >= uint32(len(d.sects)) {
		return &Error{Op: "read", Err: ErrOutOfRange}
	}
	copy(buf, d.sects[sector][:])
	return nil
}

func (d *MemDevice) WriteSector(sector uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return &Error{Op: "write", Err: err}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector >= uint32(len(d.sects)) {
		return &Error{Op: "write", Err: ErrOutOfRange}
	}
	copy(d.sects[sector][:], buf)
	d.writes.Add(1)
	return nil
}

func (d *MemDevice) WriteCount() uint64 { return d.writes.Load() }

func (d *MemDevice) Close() error { return nil }
