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

package directory_test

import (
	"fmt"
	"testing"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/buffercache"
	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/common"
	"github.com/alyssaaa7/pintosfs/directory"
	"github.com/alyssaaa7/pintosfs/freemap"
	"github.com/alyssaaa7/pintosfs/inode"
	"github.com/stretchr/testify/suite"
)

func TestDirectory(t *testing.T) { suite.Run(t, new(DirectoryTest)) }

type DirectoryTest struct {
	suite.Suite
	fm    *freemap.FreeMap
	table *inode.Table
}

func (t *DirectoryTest) SetupTest() {
	dev := blockdevice.NewMemDevice(1024)
	cache := buffercache.New(dev, common.NewNoopMetrics())
	t.fm = freemap.New(dev)
	t.Require().NoError(t.fm.Format())
	t.table = inode.NewTable(cache, t.fm)
	t.Require().NoError(directory.Create(t.table, cfg.RootInodeSector, 16))
}

func (t *DirectoryTest) openRoot() *directory.Dir {
	rec, err := t.table.Open(cfg.RootInodeSector)
	t.Require().NoError(err)
	return directory.Wrap(t.table, rec)
}

func (t *DirectoryTest) TestRootDotDotPointsToItself() {
	root := t.openRoot()
	defer t.table.Close(root.Inode)

	dot, err := root.Lookup(".")
	t.Require().NoError(err)
	t.Equal(uint32(cfg.RootInodeSector), dot.InodeSector)

	dotdot, err := root.Lookup("..")
	t.Require().NoError(err)
	t.Equal(uint32(cfg.RootInodeSector), dotdot.InodeSector)
}

func (t *DirectoryTest) TestAddLookupRemove() {
	root := t.openRoot()
	defer t.table.Close(root.Inode)

	sector, err := t.fm.Allocate(1)
	t.Require().NoError(err)
	t.Require().NoError(t.table.Create(sector, false))
	t.Require().NoError(root.Add("foo.txt", sector, false))

	e, err := root.Lookup("foo.txt")
	t.Require().NoError(err)
	t.Equal(sector, e.InodeSector)

	t.Error(root.Add("foo.txt", sector, false)) // duplicate

	_, err = root.Remove("foo.txt")
	t.Require().NoError(err)
	_, err = root.Lookup("foo.txt")
	t.ErrorIs(err, directory.ErrNotFound)
}

func (t *DirectoryTest) TestCannotRemoveDotOrDotDot() {
	root := t.openRoot()
	defer t.table.Close(root.Inode)

	_, err := root.Remove(".")
	t.Error(err)
	_, err = root.Remove("..")
	t.Error(err)
}

func (t *DirectoryTest) TestDirectoryGrowthAndRmdirRejection() {
	root := t.openRoot()
	defer t.table.Close(root.Inode)

	childSector, err := t.fm.Allocate(1)
	t.Require().NoError(err)
	t.Require().NoError(directory.Create(t.table, childSector, 16))
	t.Require().NoError(root.Add("x", childSector, true))

	childRec, err := t.table.Open(childSector)
	t.Require().NoError(err)
	child := directory.Wrap(t.table, childRec)
	t.Require().NoError(child.Reparent(cfg.RootInodeSector))

	// Force growth past the initial 16 slots (spec.md §8 E5).
	for i := 0; i < 17; i++ {
		fSector, err := t.fm.Allocate(1)
		t.Require().NoError(err)
		t.Require().NoError(t.table.Create(fSector, false))
		t.Require().NoError(child.Add(fmt.Sprintf("f%d", i), fSector, false))
	}

	empty, err := child.IsEmpty()
	t.Require().NoError(err)
	t.False(empty)

	_, err = root.Remove("x")
	t.ErrorIs(err, directory.ErrNotEmpty)

	for i := 0; i < 17; i++ {
		_, err := child.Remove(fmt.Sprintf("f%d", i))
		t.Require().NoError(err)
	}

	empty, err = child.IsEmpty()
	t.Require().NoError(err)
	t.True(empty)

	t.Require().NoError(t.table.Close(childRec))
}

func (t *DirectoryTest) TestReaddirSkipsDotAndDotDot() {
	root := t.openRoot()
	defer t.table.Close(root.Inode)

	for _, name := range []string{"a", "b", "c"} {
		sector, err := t.fm.Allocate(1)
		t.Require().NoError(err)
		t.Require().NoError(t.table.Create(sector, false))
		t.Require().NoError(root.Add(name, sector, false))
	}

	var got []string
	cursor := 0
	for {
		name, next, ok, err := root.Readdir(cursor)
		t.Require().NoError(err)
		if !ok {
			break
		}
		got = append(got, name)
		cursor = next
	}
	t.ElementsMatch([]string{"a", "b", "c"}, got)
}

func (t *DirectoryTest) TestPathResolution() {
	root := t.openRoot()

	childSector, err := t.fm.Allocate(1)
	t.Require().NoError(err)
	t.Require().NoError(directory.Create(t.table, childSector, 16))
	t.Require().NoError(root.Add("x", childSector, true))
	childRec, err := t.table.Open(childSector)
	t.Require().NoError(err)
	t.Require().NoError(directory.Wrap(t.table, childRec).Reparent(cfg.RootInodeSector))
	t.Require().NoError(t.table.Close(childRec))

	fileSector, err := t.fm.Allocate(1)
	t.Require().NoError(err)
	t.Require().NoError(t.table.Create(fileSector, false))

	childRec2, err := t.table.Open(childSector)
	t.Require().NoError(err)
	t.Require().NoError(directory.Wrap(t.table, childRec2).Add("f.txt", fileSector, false))
	t.Require().NoError(t.table.Close(childRec2))
	t.Require().NoError(t.table.Close(root.Inode))

	parent, last, err := directory.ResolveParent(t.table, cfg.RootInodeSector, cfg.RootInodeSector, "/x/f.txt")
	t.Require().NoError(err)
	t.Equal("f.txt", last)
	t.Equal(childSector, parent.Inode.Sector)
	t.Require().NoError(t.table.Close(parent.Inode))

	found, err := directory.Resolve(t.table, cfg.RootInodeSector, cfg.RootInodeSector, "/x/f.txt")
	t.Require().NoError(err)
	t.Equal(fileSector, found.Sector)
	t.Require().NoError(t.table.Close(found))
}
