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

package directory

import (
	"errors"
	"fmt"

	"github.com/alyssaaa7/pintosfs/inode"
)

// Error kinds surfaced by this package; they map directly onto spec.md
// §7's error categories.
var (
	ErrNotFound      = errors.New("directory: not found")
	ErrAlreadyExists = errors.New("directory: already exists")
	ErrNotADirectory = errors.New("directory: not a directory")
	ErrIsADirectory  = errors.New("directory: is a directory")
	ErrNotEmpty      = errors.New("directory: not empty")
	ErrTooLong       = errors.New("directory: name exceeds maximum length")
)

// Dir wraps an open directory inode with the entry-level operations of
// spec.md §4.5.
type Dir struct {
	Inode *inode.Inode
	table *inode.Table
}

// Wrap adapts an already-open inode as a Dir. Callers are responsible for
// having verified it IsDir.
func Wrap(table *inode.Table, in *inode.Inode) *Dir {
	return &Dir{Inode: in, table: table}
}

// Create formats a fresh directory inode at sector with initialEntries
// slots (its length is exactly initialEntries entries) and installs `.` and
// `..`, both initially pointing at sector itself; `..` is rewritten by
// the caller once the directory is attached to a parent (spec.md §4.5).
func Create(table *inode.Table, sector uint32, initialEntries int) error {
	if err := table.Create(sector, true); err != nil {
		return fmt.Errorf("directory: create: %w", err)
	}

	rec, err := table.Open(sector)
	if err != nil {
		return fmt.Errorf("directory: create: %w", err)
	}
	defer table.Close(rec)

	d := Wrap(table, rec)
	if err := d.growTo(initialEntries); err != nil {
		return err
	}

	if err := d.writeEntry(0, Entry{InodeSector: sector, Name: ".", InUse: true, IsDir: true}); err != nil {
		return err
	}
	if err := d.writeEntry(1, Entry{InodeSector: sector, Name: "..", InUse: true, IsDir: true}); err != nil {
		return err
	}
	return nil
}

// Reparent rewrites `..` to point at parentSector, called once when a
// freshly created child directory is attached under its parent (spec.md
// §4.6, "On directory creation, also rewrite `..` in the new child").
func (d *Dir) Reparent(parentSector uint32) error {
	return d.writeEntry(1, Entry{InodeSector: parentSector, Name: "..", InUse: true, IsDir: true})
}

// slotCount returns how many entry slots the directory's current length
// can hold.
func (d *Dir) slotCount() (int, error) {
	length, err := d.Inode.Length()
	if err != nil {
		return 0, err
	}
	return int(length) / entrySize, nil
}

// growTo extends the directory, if needed, to hold at least n entries.
func (d *Dir) growTo(n int) error {
	slots, err := d.slotCount()
	if err != nil {
		return err
	}
	if slots >= n {
		return nil
	}
	pad := make([]byte, (n-slots)*entrySize)
	_, err = d.Inode.WriteAt(pad, int64(slots*entrySize))
	return err
}

func (d *Dir) readEntry(slot int) (Entry, error) {
	buf := make([]byte, entrySize)
	if _, err := d.Inode.ReadAt(buf, int64(slot*entrySize)); err != nil {
		return Entry{}, err
	}
	return decodeEntry(buf)
}

func (d *Dir) writeEntry(slot int, e Entry) error {
	_, err := d.Inode.WriteAt(encodeEntry(e), int64(slot*entrySize))
	return err
}

// Lookup performs the linear scan of spec.md §4.5: "compare names
// byte-for-byte, max length 14."
func (d *Dir) Lookup(name string) (Entry, error) {
	slots, err := d.slotCount()
	if err != nil {
		return Entry{}, err
	}
	for i := 0; i < slots; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return Entry{}, err
		}
		if e.InUse && e.Name == name {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// Add rejects duplicates and over-long names, then writes a new entry
// into the first not-in-use slot, growing the directory if none is free
// (spec.md §4.5).
func (d *Dir) Add(name string, sector uint32, isDir bool) error {
	if len(name) == 0 || len(name) > NameMax {
		return ErrTooLong
	}

	slots, err := d.slotCount()
	if err != nil {
		return err
	}

	freeSlot := -1
	for i := 0; i < slots; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return err
		}
		if e.InUse {
			if e.Name == name {
				return ErrAlreadyExists
			}
			continue
		}
		if freeSlot == -1 {
			freeSlot = i
		}
	}

	if freeSlot == -1 {
		if err := d.growTo(slots + 1); err != nil {
			return err
		}
		freeSlot = slots
	}

	return d.writeEntry(freeSlot, Entry{InodeSector: sector, Name: name, InUse: true, IsDir: isDir})
}

// IsEmpty reports whether the directory has any entries beyond `.`/`..`,
// used by Remove to refuse rmdir on a populated directory.
func (d *Dir) IsEmpty() (bool, error) {
	slots, err := d.slotCount()
	if err != nil {
		return false, err
	}
	for i := 2; i < slots; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return false, err
		}
		if e.InUse {
			return false, nil
		}
	}
	return true, nil
}

// Remove clears the in-use flag for name. It rejects removing `.` or
// `..`, and refuses a directory-typed entry whose target still has
// entries beyond `.`/`..` (spec.md §4.5). childTable.Open/MarkRemoved/
// Close on the target is the caller's responsibility once Remove
// reports success, mirroring spec.md's deferred-release semantics
// (spec.md §4.4, "Removal").
func (d *Dir) Remove(name string) (Entry, error) {
	if name == "." || name == ".." {
		return Entry{}, ErrNotFound
	}

	slots, err := d.slotCount()
	if err != nil {
		return Entry{}, err
	}

	for i := 0; i < slots; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return Entry{}, err
		}
		if !e.InUse || e.Name != name {
			continue
		}

		if e.IsDir {
			childRec, err := d.table.Open(e.InodeSector)
			if err != nil {
				return Entry{}, err
			}
			child := Wrap(d.table, childRec)
			empty, err := child.IsEmpty()
			closeErr := d.table.Close(childRec)
			if err != nil {
				return Entry{}, err
			}
			if closeErr != nil {
				return Entry{}, closeErr
			}
			if !empty {
				return Entry{}, ErrNotEmpty
			}
		}

		if err := d.writeEntry(i, Entry{}); err != nil {
			return Entry{}, err
		}
		return e, nil
	}
	return Entry{}, ErrNotFound
}

// Readdir returns the name of the next in-use entry at or after cursor,
// skipping `.` and `..`, and the cursor to resume from on the next call
// (spec.md §4.5). ok is false once there are no more entries.
func (d *Dir) Readdir(cursor int) (name string, next int, ok bool, err error) {
	slots, err := d.slotCount()
	if err != nil {
		return "", cursor, false, err
	}
	for i := cursor; i < slots; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return "", cursor, false, err
		}
		if e.InUse && e.Name != "." && e.Name != ".." {
			return e.Name, i + 1, true, nil
		}
	}
	return "", slots, false, nil
}
