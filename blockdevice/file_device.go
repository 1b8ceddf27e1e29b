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
	"fmt"
	"os"
	"sync/atomic"

	"github.com/alyssaaa7/pintosfs/cfg"
	"golang.org/x/sys/unix"
)

// FileDevice backs a Device with a single regular file, pre-sized to
// sectorCount * cfg.SectorSize bytes. This is the production adapter used
// by `pintosfs format`/`mount`.
type FileDevice struct {
	f           *os.File
	sectorCount uint32
	writes      atomic.Uint64
}

var _ Device = (*FileDevice)(nil)

// CreateFileDevice creates (or truncates) path to hold sectorCount sectors
// and returns a Device over it. Used by `format`.
func CreateFileDevice(path string, sectorCount uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, &Error{Op: "create", Err: err}
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, &Error{Op: "create", Err: err}
	}
	size := int64(sectorCount) * cfg.SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, &Error{Op: "truncate", Err: err}
	}
	return &FileDevice{f: f, sectorCount: sectorCount}, nil
}

// OpenFileDevice opens an existing image file. sectorCount is derived from
// the file's size, which must be an exact multiple of cfg.SectorSize. The
// file is flock'd exclusively for as long as it stays open, so a second
// `mount`/`format` against the same path fails fast instead of racing the
// buffer cache and free-map of a process that already owns it.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &Error{Op: "stat", Err: err}
	}
	if info.Size()%cfg.SectorSize != 0 {
		f.Close()
		return nil, &Error{Op: "open", Err: fmt.Errorf("file size %d is not a multiple of sector size %d", info.Size(), cfg.SectorSize)}
	}
	return &FileDevice{f: f, sectorCount: uint32(info.Size() / cfg.SectorSize)}, nil
}

// lockExclusive takes a non-blocking advisory flock(2) on f, so that a
// second process pointed at the same device image fails immediately
// instead of silently corrupting the first process's free-map and buffer
// cache state.
func lockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("device %q is already locked by another process: %w", f.Name(), err)
	}
	return nil
}

func (d *FileDevice) SectorCount() uint32 { return d.sectorCount }

func (d *FileDevice) ReadSector(sector uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return &Error{Op: "read", Err: err}
	}
	if sector >= d.sectorCount {
		return &Error{Op: "read", Err: ErrOutOfRange}
	}
	if _, err := d.f.ReadAt(buf, int64(sector)*cfg.SectorSize); err != nil {
		return &Error{Op: "read", Err: err}
	}
	return nil
}

func (d *FileDevice) WriteSector(sector uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return &Error{Op: "write", Err: err}
	}
	if sector >= d.sectorCount {
		return &Error{Op: "write", Err: ErrOutOfRange}
	}
	if _, err := d.f.WriteAt(buf, int64(sector)*cfg.SectorSize); err != nil {
		return &Error{Op: "write", Err: err}
	}
	d.writes.Add(1)
	return nil
}

func (d *FileDevice) WriteCount() uint64 { return d.writes.Load() }

func (d *FileDevice) Close() error {
	if err := d.f.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}
