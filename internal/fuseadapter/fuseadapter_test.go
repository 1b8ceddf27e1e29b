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

package fuseadapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/suite"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/clock"
	"github.com/alyssaaa7/pintosfs/common"
	"github.com/alyssaaa7/pintosfs/filesys"
	"github.com/alyssaaa7/pintosfs/internal/fuseadapter"
)

func TestFuseAdapter(t *testing.T) { suite.Run(t, new(FuseAdapterTest)) }

type FuseAdapterTest struct {
	suite.Suite
	ctx   context.Context
	clock *clock.SimulatedClock
	fs    *fuseadapter.FS
}

func (t *FuseAdapterTest) SetupTest() {
	t.ctx = context.Background()

	dev := blockdevice.NewMemDevice(4096)
	core, err := filesys.Mount(dev, true, 0, common.NewNoopMetrics(), nil)
	t.Require().NoError(err)

	t.clock = clock.NewSimulatedClock(time.Unix(1700000000, 0))
	t.fs, err = fuseadapter.NewWithClock(core, t.clock)
	t.Require().NoError(err)
}

// TestAttributesExpirationFollowsInjectedClock exercises the clock.Clock
// wiring directly: two LookUpInode calls straddling a simulated time
// advance must produce expiration timestamps that differ by exactly the
// amount the clock was advanced, never by however much wall-clock time
// the test itself took to run.
func (t *FuseAdapterTest) TestAttributesExpirationFollowsInjectedClock() {
	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d"}
	t.Require().NoError(t.fs.MkDir(t.ctx, mkdirOp))

	lookupOp := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "d"}
	t.Require().NoError(t.fs.LookUpInode(t.ctx, lookupOp))
	firstExpiry := lookupOp.Entry.AttributesExpiration

	t.clock.AdvanceTime(10 * time.Second)

	lookupOp2 := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "d"}
	t.Require().NoError(t.fs.LookUpInode(t.ctx, lookupOp2))
	secondExpiry := lookupOp2.Entry.AttributesExpiration

	t.Equal(10*time.Second, secondExpiry.Sub(firstExpiry))
}
