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

package inode_test

import (
	"testing"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/buffercache"
	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/common"
	"github.com/alyssaaa7/pintosfs/freemap"
	"github.com/alyssaaa7/pintosfs/inode"
	"github.com/stretchr/testify/suite"
)

func TestInode(t *testing.T) { suite.Run(t, new(InodeTest)) }

type InodeTest struct {
	suite.Suite
	dev   *blockdevice.MemDevice
	cache *buffercache.Cache
	fm    *freemap.FreeMap
	table *inode.Table
}

// numSectors is large enough to exercise the indirect and part of the
// doubly-indirect region without the test suite becoming slow.
const numSectors = 123 + 128 + 400

func (t *InodeTest) SetupTest() {
	t.dev = blockdevice.NewMemDevice(numSectors + 16)
	t.cache = buffercache.New(t.dev, common.NewNoopMetrics())
	t.fm = freemap.New(t.dev)
	t.Require().NoError(t.fm.Format())
	t.table = inode.NewTable(t.cache, t.fm)
}

func (t *InodeTest) allocSector() uint32 {
	s, err := t.fm.Allocate(1)
	t.Require().NoError(err)
	return s
}

func (t *InodeTest) TestReadWriteWithinDirectRegion() {
	sector := t.allocSector()
	t.Require().NoError(t.table.Create(sector, false))

	rec, err := t.table.Open(sector)
	t.Require().NoError(err)

	n, err := rec.WriteAt([]byte("hello world"), 100)
	t.Require().NoError(err)
	t.Equal(11, n)

	buf := make([]byte, 11)
	n, err = rec.ReadAt(buf, 100)
	t.Require().NoError(err)
	t.Equal(11, n)
	t.Equal("hello world", string(buf))
}

func (t *InodeTest) TestZeroFilledExtension() {
	sector := t.allocSector()
	t.Require().NoError(t.table.Create(sector, false))
	rec, err := t.table.Open(sector)
	t.Require().NoError(err)

	_, err = rec.WriteAt([]byte{1}, 2000)
	t.Require().NoError(err)

	buf := make([]byte, 2000)
	n, err := rec.ReadAt(buf, 0)
	t.Require().NoError(err)
	t.Equal(2000, n)
	for _, b := range buf {
		t.Equal(byte(0), b)
	}
}

func (t *InodeTest) TestCrossRegionFile() {
	sector := t.allocSector()
	t.Require().NoError(t.table.Create(sector, false))
	rec, err := t.table.Open(sector)
	t.Require().NoError(err)

	length := int64(200 * cfg.SectorSize)
	offsets := []int64{0, 123 * cfg.SectorSize, 199 * cfg.SectorSize}
	pattern := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	// Establish the length first so later ReadAt calls see the full
	// range rather than short-reading.
	_, err = rec.WriteAt([]byte{0}, length-1)
	t.Require().NoError(err)

	for _, off := range offsets {
		_, err := rec.WriteAt(pattern, off)
		t.Require().NoError(err)
	}

	for _, off := range offsets {
		got := make([]byte, 4)
		_, err := rec.ReadAt(got, off)
		t.Require().NoError(err)
		t.Equal(pattern, got)
	}

	// A byte far from any written pattern is still zero.
	got := make([]byte, 1)
	_, err = rec.ReadAt(got, 50*cfg.SectorSize)
	t.Require().NoError(err)
	t.Equal(byte(0), got[0])
}

func (t *InodeTest) TestGrowthAtomicityOnFailure() {
	// Shrink the free-map down to almost nothing so a large growth fails
	// partway through, then check the free count is restored exactly.
	smallDev := blockdevice.NewMemDevice(140)
	fm := freemap.New(smallDev)
	t.Require().NoError(fm.Format())
	cache := buffercache.New(smallDev, common.NewNoopMetrics())
	table := inode.NewTable(cache, fm)

	sector, err := fm.Allocate(1)
	t.Require().NoError(err)
	t.Require().NoError(table.Create(sector, false))

	before := fm.FreeCount()

	rec, err := table.Open(sector)
	t.Require().NoError(err)

	// 140 sectors total, 2 reserved by format, 1 for this inode: ~137
	// free. Ask for far more than that so allocation runs out mid-walk.
	_, err = rec.WriteAt([]byte{1}, int64(inode.NumDirect+500)*cfg.SectorSize)
	t.Require().Error(err)

	t.Equal(before, fm.FreeCount())
}

func (t *InodeTest) TestOpenIsReferenceCounted() {
	sector := t.allocSector()
	t.Require().NoError(t.table.Create(sector, false))

	a, err := t.table.Open(sector)
	t.Require().NoError(err)
	b, err := t.table.Open(sector)
	t.Require().NoError(err)

	t.Same(a, b)
	t.Equal(2, a.OpenCount())

	t.Require().NoError(t.table.Close(a))
	t.Equal(1, b.OpenCount())
	t.Require().NoError(t.table.Close(b))
}

func (t *InodeTest) TestRemovalIsDeferredUntilLastClose() {
	sector := t.allocSector()
	t.Require().NoError(t.table.Create(sector, false))

	a, err := t.table.Open(sector)
	t.Require().NoError(err)
	b, err := t.table.Open(sector)
	t.Require().NoError(err)

	_, err = a.WriteAt([]byte("still here"), 0)
	t.Require().NoError(err)

	a.MarkRemoved()
	t.Require().NoError(t.table.Close(a))

	// b is still open; the sector must still be allocated and readable.
	t.True(t.fm.IsAllocated(sector))
	buf := make([]byte, len("still here"))
	_, err = b.ReadAt(buf, 0)
	t.Require().NoError(err)
	t.Equal("still here", string(buf))

	t.Require().NoError(t.table.Close(b))
	t.False(t.fm.IsAllocated(sector))
}

func (t *InodeTest) TestDenyWrite() {
	sector := t.allocSector()
	t.Require().NoError(t.table.Create(sector, false))
	rec, err := t.table.Open(sector)
	t.Require().NoError(err)

	t.Require().NoError(rec.DenyWrite())
	_, err = rec.WriteAt([]byte{1}, 0)
	t.ErrorIs(err, inode.ErrWriteDenied)

	t.Require().NoError(rec.AllowWrite())
	_, err = rec.WriteAt([]byte{1}, 0)
	t.Require().NoError(err)
}
