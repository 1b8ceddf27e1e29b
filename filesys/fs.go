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

// Package filesys is the filesystem façade of spec.md §4.6: it owns the
// four process-wide singletons (block device, free-map, buffer cache,
// open-inode table) behind Mount/Shutdown lifecycles, and exposes the
// create/open/remove operations directory.ResolveParent and inode.Table
// build up to. It is the one place in the core that logs (façade-level
// WARN for expected error kinds, ERROR for IOError) and the one place
// that is safe to call concurrently from multiple Sessions.
package filesys

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/buffercache"
	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/common"
	"github.com/alyssaaa7/pintosfs/directory"
	"github.com/alyssaaa7/pintosfs/freemap"
	"github.com/alyssaaa7/pintosfs/inode"
)

// rootInitialEntries is the slot count spec.md §4.6 fixes for a freshly
// formatted root directory ("root directory creation with 16 entry
// slots").
const rootInitialEntries = 16

// FS is the mounted filesystem: the single owner of the device, cache,
// free-map and open-inode table for as long as it is mounted.
type FS struct {
	dev     blockdevice.Device
	Cache   *buffercache.Cache
	FreeMap *freemap.FreeMap
	Table   *inode.Table
	metrics common.MetricHandle
	log     *slog.Logger
	logDone func() error

	// freeMapInode is the free-map's own open inode at
	// cfg.FreeMapInodeSector: the free-map's bitmap body is persisted
	// through it (freemap.Backing) exactly like any other file's data,
	// kept open for the whole mount and closed in Shutdown.
	freeMapInode *inode.Inode
}

// Mount initializes the cache, inode table and free-map over dev. If
// format is true, it first creates an empty free-map and root directory
// (spec.md §4.6); either way it finishes by loading the free-map's
// persisted bitmap, so a freshly formatted device round-trips through
// disk exactly like one that's being remounted.
//
// cacheSlots overrides the buffer cache's capacity; 0 selects
// cfg.DefaultCacheSlots. cmd/format.go and cmd/mount.go wire this to
// cfg.Config.Cache.Slots;
// filesys/scenarios_test.go uses it directly to exercise eviction under a
// deliberately small cache.
func Mount(dev blockdevice.Device, format bool, cacheSlots int, metrics common.MetricHandle, log *slog.Logger) (*FS, error) {
	if metrics == nil {
		metrics = common.NewNoopMetrics()
	}
	if log == nil {
		log = slog.Default()
	}

	fs := &FS{dev: dev, metrics: metrics, log: log}
	if cacheSlots > 0 {
		fs.Cache = buffercache.NewWithCapacity(dev, metrics, cacheSlots)
	} else {
		fs.Cache = buffercache.New(dev, metrics)
	}
	fs.FreeMap = freemap.New(dev)
	fs.Table = inode.NewTable(fs.Cache, fs.FreeMap)

	if format {
		if err := fs.FreeMap.Format(); err != nil {
			return nil, fs.fail(context.Background(), "Mount", err)
		}
		// Format the free-map's own inode record at its reserved home
		// sector before the root directory claims its own (spec.md §3):
		// FreeMap.Format already marked both home sectors allocated, so
		// the bitmap's body sectors - allocated below via the ordinary
		// growth path - can never land on either one.
		if err := fs.Table.Create(cfg.FreeMapInodeSector, false); err != nil {
			return nil, fs.fail(context.Background(), "Mount", err)
		}
	}

	freeMapInode, err := fs.Table.Open(cfg.FreeMapInodeSector)
	if err != nil {
		return nil, fs.fail(context.Background(), "Mount", err)
	}
	fs.freeMapInode = freeMapInode

	if format {
		// Create the root directory first, so the bitmap persisted below
		// already records the root's data sectors. Then persist the
		// bitmap immediately, mirroring the original free_map_create()'s
		// eager write, through the free-map's own inode (freemap.Backing)
		// exactly like an ordinary file's data; Open below then reloads it
		// exactly as a non-format mount would.
		if err := directory.Create(fs.Table, cfg.RootInodeSector, rootInitialEntries); err != nil {
			return nil, fs.fail(context.Background(), "Mount", err)
		}
		if err := fs.FreeMap.Close(fs.freeMapInode); err != nil {
			return nil, fs.fail(context.Background(), "Mount", err)
		}
	}

	if err := fs.FreeMap.Open(fs.freeMapInode); err != nil {
		return nil, fs.fail(context.Background(), "Mount", err)
	}

	fs.log.Info("mounted", "format", format, "sectors", dev.SectorCount())
	return fs, nil
}

// SetLogCloser registers a function Shutdown will call after flushing the
// cache and free-map, for callers (cmd/) that built their logger with
// internal/logger.New and need its file handle closed on unmount.
func (fs *FS) SetLogCloser(fn func() error) { fs.logDone = fn }

// fail logs err at the severity its kind warrants and wraps it into a
// *Error (SPEC_FULL.md's "(NEW) Error handling and logging").
func (fs *FS) fail(ctx context.Context, op string, err error) error {
	wrapped := wrap(op, err)
	fsErr, _ := wrapped.(*Error)

	attrs := []any{"op", op}
	if fsErr != nil {
		attrs = append(attrs, "kind", fsErr.Kind.String())
		fs.metrics.OpsErrorCount(ctx, 1, common.FSOpsErrorCategory{FSOp: op, ErrorCategory: fsErr.Kind.String()})
		if fsErr.Kind == KindIOError {
			fs.log.Error("operation failed", append(attrs, "err", err)...)
		} else {
			fs.log.Warn("operation failed", append(attrs, "err", err)...)
		}
	} else {
		fs.log.Error("operation failed", append(attrs, "err", err)...)
	}
	return wrapped
}

// Create resolves path's parent, checks uniqueness, allocates a home
// sector, formats an inode of the right kind there, and adds the
// directory entry (spec.md §4.6). On any failure it releases the
// allocated home sector and leaves the parent unchanged.
func (fs *FS) Create(ctx context.Context, sess *Session, path string, isDir bool) error {
	return fs.create(ctx, sess, path, isDir, common.OpCreate)
}

func (fs *FS) create(ctx context.Context, sess *Session, path string, isDir bool, op string) error {
	parent, last, err := directory.ResolveParent(fs.Table, cfg.RootInodeSector, sess.cwd, path)
	if err != nil {
		return fs.fail(ctx, op, err)
	}
	defer fs.Table.Close(parent.Inode)

	if _, err := parent.Lookup(last); err == nil {
		return fs.fail(ctx, op, directory.ErrAlreadyExists)
	}

	sector, err := fs.FreeMap.Allocate(1)
	if err != nil {
		return fs.fail(ctx, op, err)
	}

	rollback := func() { fs.FreeMap.Release(sector, 1) }

	if isDir {
		if err := directory.Create(fs.Table, sector, rootInitialEntries); err != nil {
			rollback()
			return fs.fail(ctx, op, err)
		}
	} else if err := fs.Table.Create(sector, false); err != nil {
		rollback()
		return fs.fail(ctx, op, err)
	}

	if err := parent.Add(last, sector, isDir); err != nil {
		rollback()
		return fs.fail(ctx, op, err)
	}

	if isDir {
		childRec, err := fs.Table.Open(sector)
		if err != nil {
			if _, rmErr := parent.Remove(last); rmErr == nil {
				rollback()
			}
			return fs.fail(ctx, op, err)
		}
		err = directory.Wrap(fs.Table, childRec).Reparent(parent.Inode.Sector)
		if closeErr := fs.Table.Close(childRec); err == nil {
			err = closeErr
		}
		if err != nil {
			if _, rmErr := parent.Remove(last); rmErr == nil {
				rollback()
			}
			return fs.fail(ctx, op, err)
		}
	}

	fs.metrics.OpsCount(ctx, 1, op)
	return nil
}

// Remove delegates to the directory layer; it may fail if name is absent
// or is a non-empty directory (spec.md §4.6).
func (fs *FS) Remove(ctx context.Context, sess *Session, path string) error {
	parent, last, err := directory.ResolveParent(fs.Table, cfg.RootInodeSector, sess.cwd, path)
	if err != nil {
		return fs.fail(ctx, common.OpRemove, err)
	}
	defer fs.Table.Close(parent.Inode)

	entry, err := parent.Remove(last)
	if err != nil {
		return fs.fail(ctx, common.OpRemove, err)
	}

	target, err := fs.Table.Open(entry.InodeSector)
	if err != nil {
		return fs.fail(ctx, common.OpRemove, err)
	}
	target.MarkRemoved()
	if err := fs.Table.Close(target); err != nil {
		return fs.fail(ctx, common.OpRemove, err)
	}

	fs.metrics.OpsCount(ctx, 1, common.OpRemove)
	return nil
}

// Mkdir is Create with isDir fixed to true.
func (fs *FS) Mkdir(ctx context.Context, sess *Session, path string) error {
	return fs.create(ctx, sess, path, true, common.OpMkdir)
}

// Chdir resolves path and, if it names a directory, sets it as sess's
// new current directory.
func (fs *FS) Chdir(ctx context.Context, sess *Session, path string) error {
	rec, err := directory.Resolve(fs.Table, cfg.RootInodeSector, sess.cwd, path)
	if err != nil {
		return fs.fail(ctx, common.OpChdir, err)
	}
	defer fs.Table.Close(rec)

	isDir, err := rec.IsDir()
	if err != nil {
		return fs.fail(ctx, common.OpChdir, err)
	}
	if !isDir {
		return fs.fail(ctx, common.OpChdir, directory.ErrNotADirectory)
	}

	sess.cwd = rec.Sector
	fs.metrics.OpsCount(ctx, 1, common.OpChdir)
	return nil
}

// Shutdown closes the free-map (persisting the bitmap through its own
// inode into the buffer cache) and then flushes the cache, in that order:
// FreeMap.Close's writes only land in cache slots, so flushing first would
// leave them unpersisted (spec.md §4.6).
func (fs *FS) Shutdown(ctx context.Context) error {
	if err := fs.FreeMap.Close(fs.freeMapInode); err != nil {
		return fs.fail(ctx, common.OpShutdown, err)
	}
	if err := fs.Table.Close(fs.freeMapInode); err != nil {
		return fs.fail(ctx, common.OpShutdown, err)
	}
	if err := fs.Cache.Flush(); err != nil {
		return fs.fail(ctx, common.OpShutdown, err)
	}
	if fs.logDone != nil {
		if err := fs.logDone(); err != nil {
			return fmt.Errorf("filesys: shutdown: close log: %w", err)
		}
	}
	fs.log.Info("shutdown complete")
	return nil
}

// BufferHits, BufferAccesses and DeviceWrites back spec.md §6's
// observability surface (buffer_hits/buffer_accesses/device_writes).
func (fs *FS) BufferHits() uint64     { return fs.Cache.Hits() }
func (fs *FS) BufferAccesses() uint64 { return fs.Cache.Accesses() }
func (fs *FS) DeviceWrites() uint64   { return fs.dev.WriteCount() }
