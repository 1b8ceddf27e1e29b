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

package freemap_test

import (
	"testing"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/buffercache"
	"github.com/alyssaaa7/pintosfs/common"
	"github.com/alyssaaa7/pintosfs/freemap"
	"github.com/alyssaaa7/pintosfs/inode"
	"github.com/stretchr/testify/suite"
)

func TestFreeMap(t *testing.T) { suite.Run(t, new(FreeMapTest)) }

type FreeMapTest struct {
	suite.Suite
	dev *blockdevice.MemDevice
	fm  *freemap.FreeMap
}

func (t *FreeMapTest) SetupTest() {
	t.dev = blockdevice.NewMemDevice(64)
	t.fm = freemap.New(t.dev)
	t.Require().NoError(t.fm.Format())
}

func (t *FreeMapTest) TestFormatReservesMetadataSectors() {
	t.True(t.fm.IsAllocated(0))
	t.True(t.fm.IsAllocated(1))
	t.False(t.fm.IsAllocated(2))
}

func (t *FreeMapTest) TestAllocateReleaseRoundTrip() {
	before := t.fm.FreeCount()

	sector, err := t.fm.Allocate(1)
	t.Require().NoError(err)
	t.True(t.fm.IsAllocated(sector))
	t.Equal(before-1, t.fm.FreeCount())

	t.Require().NoError(t.fm.Release(sector, 1))
	t.False(t.fm.IsAllocated(sector))
	t.Equal(before, t.fm.FreeCount())
}

func (t *FreeMapTest) TestDoubleReleaseIsAnError() {
	sector, err := t.fm.Allocate(1)
	t.Require().NoError(err)
	t.Require().NoError(t.fm.Release(sector, 1))
	t.Error(t.fm.Release(sector, 1))
}

func (t *FreeMapTest) TestExhaustion() {
	for {
		if _, err := t.fm.Allocate(1); err != nil {
			t.ErrorIs(err, freemap.ErrNoSpace)
			break
		}
	}
}

// TestPersistsAcrossCloseOpen persists the bitmap through a real
// inode.Table-backed inode (freemap.Backing), the same path
// filesys.Mount uses, rather than against the free-map in isolation.
func (t *FreeMapTest) TestPersistsAcrossCloseOpen() {
	sector, err := t.fm.Allocate(1)
	t.Require().NoError(err)

	cache := buffercache.New(t.dev, common.NewNoopMetrics())
	table := inode.NewTable(cache, t.fm)
	t.Require().NoError(table.Create(0, false))
	backing, err := table.Open(0)
	t.Require().NoError(err)

	t.Require().NoError(t.fm.Close(backing))
	t.Require().NoError(table.Close(backing))
	t.Require().NoError(cache.Flush())

	reopened := freemap.New(t.dev)
	cache2 := buffercache.New(t.dev, common.NewNoopMetrics())
	table2 := inode.NewTable(cache2, reopened)
	backing2, err := table2.Open(0)
	t.Require().NoError(err)

	t.Require().NoError(reopened.Open(backing2))
	t.True(reopened.IsAllocated(sector))
	t.True(reopened.IsAllocated(0))
	t.True(reopened.IsAllocated(1))
}
