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

package filesys

import (
	"context"

	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/common"
	"github.com/alyssaaa7/pintosfs/directory"
	"github.com/alyssaaa7/pintosfs/inode"
)

// Handle is an open file or directory descriptor: spec.md §6's syscall
// surface (read/write/seek/tell/filesize/isdir/readdir/inumber/close)
// hangs off of one. Each Open call gets its own Handle with its own
// cursor, even against the same inode, matching the original source's
// per-fd file position.
type Handle struct {
	fs            *FS
	rec           *inode.Inode
	dir           *directory.Dir // non-nil iff the inode is a directory
	pos           int64
	readdirCursor int
	closed        bool
}

// Open resolves path and returns a Handle positioned at offset 0.
func (fs *FS) Open(ctx context.Context, sess *Session, path string) (*Handle, error) {
	rec, err := directory.Resolve(fs.Table, cfg.RootInodeSector, sess.cwd, path)
	if err != nil {
		return nil, fs.fail(ctx, common.OpOpen, err)
	}

	h := &Handle{fs: fs, rec: rec}
	isDir, err := rec.IsDir()
	if err != nil {
		fs.Table.Close(rec)
		return nil, fs.fail(ctx, common.OpOpen, err)
	}
	if isDir {
		h.dir = directory.Wrap(fs.Table, rec)
	}

	fs.metrics.OpsCount(ctx, 1, common.OpOpen)
	return h, nil
}

// Close releases the handle's reference on the underlying inode. Calling
// Close twice is a no-op, matching the teacher's idempotent-close style.
func (h *Handle) Close(ctx context.Context) error {
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.fs.Table.Close(h.rec); err != nil {
		return h.fs.fail(ctx, common.OpClose, err)
	}
	h.fs.metrics.OpsCount(ctx, 1, common.OpClose)
	return nil
}

// Read fills p starting at the handle's cursor and advances the cursor
// by the number of bytes read.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	n, err := h.rec.ReadAt(p, h.pos)
	h.pos += int64(n)
	if err != nil {
		return n, h.fs.fail(ctx, common.OpRead, err)
	}
	h.fs.metrics.OpsCount(ctx, 1, common.OpRead)
	return n, nil
}

// Write writes p at the handle's cursor, growing the file if needed, and
// advances the cursor.
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	n, err := h.rec.WriteAt(p, h.pos)
	h.pos += int64(n)
	if err != nil {
		return n, h.fs.fail(ctx, common.OpWrite, err)
	}
	h.fs.metrics.OpsCount(ctx, 1, common.OpWrite)
	return n, nil
}

// Seek repositions the cursor to an absolute byte offset without
// checking it. An offset past EOF is legal: a later write there extends
// the file and zero-fills the gap. A negative offset is stored as given;
// Read and Write do not handle a negative cursor (Write fails, and Read
// either fails or returns zeros).
func (h *Handle) Seek(offset int64) { h.pos = offset }

// Tell reports the handle's current cursor position.
func (h *Handle) Tell() int64 { return h.pos }

// Filesize reports the underlying inode's byte length.
func (h *Handle) Filesize(ctx context.Context) (int64, error) {
	n, err := h.rec.Length()
	if err != nil {
		return 0, h.fs.fail(ctx, "Filesize", err)
	}
	return n, nil
}

// IsDir reports whether the handle was opened on a directory.
func (h *Handle) IsDir() bool { return h.dir != nil }

// Readdir returns the next directory entry name (skipping "." and
// ".."), advancing the handle's own readdir cursor. ok is false once
// every entry has been returned. It is an error to call Readdir on a
// non-directory handle.
func (h *Handle) Readdir(ctx context.Context) (name string, ok bool, err error) {
	if h.dir == nil {
		return "", false, h.fs.fail(ctx, common.OpReaddir, directory.ErrNotADirectory)
	}
	name, next, ok, err := h.dir.Readdir(h.readdirCursor)
	if err != nil {
		return "", false, h.fs.fail(ctx, common.OpReaddir, err)
	}
	if ok {
		h.readdirCursor = next
		h.fs.metrics.OpsCount(ctx, 1, common.OpReaddir)
	}
	return name, ok, nil
}

// Inumber reports the sector backing this handle's inode, spec.md §6's
// stable per-file identifier.
func (h *Handle) Inumber() uint32 { return h.rec.Sector }
