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
	"strings"

	"github.com/alyssaaa7/pintosfs/inode"
)

// components splits a path on '/' into its non-empty parts, reporting
// whether the path was absolute. A trailing slash is dropped, so it is
// "treated as referring to the directory itself" (spec.md §4.5): the
// last named part is still the last path component.
func components(path string) (absolute bool, parts []string) {
	absolute = strings.HasPrefix(path, "/")
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return absolute, parts
}

// walk opens `start` and then descends through parts, requiring every
// directory it passes through (including the one just before each
// lookup) to actually be a directory; a non-directory encountered
// mid-path fails with ErrNotADirectory (spec.md §4.5).
func walk(table *inode.Table, start uint32, parts []string) (*inode.Inode, error) {
	cur, err := table.Open(start)
	if err != nil {
		return nil, err
	}

	for _, part := range parts {
		if len(part) > NameMax {
			table.Close(cur)
			return nil, ErrTooLong
		}
		if part == "." {
			continue
		}

		isDir, err := cur.IsDir()
		if err != nil {
			table.Close(cur)
			return nil, err
		}
		if !isDir {
			table.Close(cur)
			return nil, ErrNotADirectory
		}

		d := Wrap(table, cur)
		e, err := d.Lookup(part)
		if err != nil {
			table.Close(cur)
			return nil, err
		}

		next, err := table.Open(e.InodeSector)
		if err != nil {
			table.Close(cur)
			return nil, err
		}
		table.Close(cur)
		cur = next
	}

	return cur, nil
}

// startSector picks the root or the caller-supplied current working
// directory depending on whether path is absolute (spec.md §4.5:
// "An absolute path starts at the root directory inode; a relative path
// starts at the caller's current working directory").
func startSector(absolute bool, root, cwd uint32) uint32 {
	if absolute {
		return root
	}
	return cwd
}

// Resolve opens and returns the inode the full path refers to: a file or
// a directory, depending on what's there. Used by open() and by chdir()
// (which additionally requires the result to be a directory).
func Resolve(table *inode.Table, root, cwd uint32, path string) (*inode.Inode, error) {
	if path == "" {
		return nil, ErrNotFound
	}
	absolute, parts := components(path)
	return walk(table, startSector(absolute, root, cwd), parts)
}

// ResolveParent returns the open directory containing the last path
// component, plus that component itself, for the caller to use with
// Add/Lookup/Remove (spec.md §4.5, "resolve_parent(path)"). The caller
// owns the returned *Dir and must eventually table.Close(d.Inode).
func ResolveParent(table *inode.Table, root, cwd uint32, path string) (*Dir, string, error) {
	if path == "" {
		return nil, "", ErrNotFound
	}
	absolute, parts := components(path)
	if len(parts) == 0 {
		// Path was "/" (or a run of slashes): it has no last component to
		// split off.
		return nil, "", ErrNotFound
	}

	last := parts[len(parts)-1]
	if len(last) > NameMax {
		return nil, "", ErrTooLong
	}

	parentInode, err := walk(table, startSector(absolute, root, cwd), parts[:len(parts)-1])
	if err != nil {
		return nil, "", err
	}
	isDir, err := parentInode.IsDir()
	if err != nil {
		table.Close(parentInode)
		return nil, "", err
	}
	if !isDir {
		table.Close(parentInode)
		return nil, "", ErrNotADirectory
	}

	return Wrap(table, parentInode), last, nil
}
