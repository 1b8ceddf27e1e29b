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

// Package blockdevice abstracts the fixed-size sector device everything
// above it (free-map, buffer cache, inode layer) is built on. It is the
// narrowest layer in the stack: a Device transfers exactly cfg.SectorSize
// bytes per call and otherwise knows nothing about inodes or directories.
package blockdevice

import (
	"errors"
	"fmt"

	"github.com/alyssaaa7/pintosfs/cfg"
)

// Error is returned by Device methods on I/O failure. spec.md §7 treats any
// such failure as the fatal IOError category; callers up the stack wrap it
// rather than retry.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("blockdevice: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrOutOfRange is wrapped into an Error when a sector address exceeds the
// device's SectorCount.
var ErrOutOfRange = errors.New("sector address out of range")

// Device is the narrow block-device contract consumed by the free-map and
// the buffer cache (spec.md §6, "Block device (consumed)").
type Device interface {
	// SectorCount returns the fixed capacity of the device, in sectors.
	SectorCount() uint32

	// ReadSector copies exactly cfg.SectorSize bytes from sector into buf.
	// len(buf) must be cfg.SectorSize.
	ReadSector(sector uint32, buf []byte) error

	// WriteSector copies exactly cfg.SectorSize bytes from buf to sector.
	// len(buf) must be cfg.SectorSize.
	WriteSector(sector uint32, buf []byte) error

	// WriteCount is a monotonically increasing count of completed
	// WriteSector calls, exposed for the buffer-coalescing test scenario
	// (spec.md §8, E1).
	WriteCount() uint64

	// Close releases any OS-level resources (file descriptors) held by
	// the device. It does not flush cached state above this layer; that
	// is the buffer cache's job.
	Close() error
}

func checkBuf(buf []byte) error {
	if len(buf) != cfg.SectorSize {
		return fmt.Errorf("buffer has length %d, want %d", len(buf), cfg.SectorSize)
	}
	return nil
}
