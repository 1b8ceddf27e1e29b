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

package blockdevice_test

import (
	"path/filepath"
	"testing"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/stretchr/testify/suite"
)

func TestDevice(t *testing.T) { suite.Run(t, new(DeviceTest)) }

type DeviceTest struct {
	suite.Suite
}

func (t *DeviceTest) devices() map[string]blockdevice.Device {
	f, err := blockdevice.CreateFileDevice(filepath.Join(t.T().TempDir(), "img"), 8)
	t.Require().NoError(err)
	return map[string]blockdevice.Device{
		"FileDevice": f,
		"MemDevice":  blockdevice.NewMemDevice(8),
	}
}

func (t *DeviceTest) TestReadWriteRoundTrip() {
	for name, d := range t.devices() {
		t.Run(name, func() {
			in := make([]byte, cfg.SectorSize)
			for i := range in {
				in[i] = byte(i)
			}
			t.Require().NoError(d.WriteSector(3, in))

			out := make([]byte, cfg.SectorSize)
			t.Require().NoError(d.ReadSector(3, out))
			t.Equal(in, out)
		})
	}
}

func (t *DeviceTest) TestWriteCountIncrements() {
	for name, d := range t.devices() {
		t.Run(name, func() {
			buf := make([]byte, cfg.SectorSize)
			t.Equal(uint64(0), d.WriteCount())
			t.Require().NoError(d.WriteSector(0, buf))
			t.Require().NoError(d.WriteSector(1, buf))
			t.Equal(uint64(2), d.WriteCount())
		})
	}
}

func (t *DeviceTest) TestOutOfRange() {
	for name, d := range t.devices() {
		t.Run(name, func() {
			buf := make([]byte, cfg.SectorSize)
			t.Error(d.ReadSector(d.SectorCount(), buf))
			t.Error(d.WriteSector(d.SectorCount(), buf))
		})
	}
}

func (t *DeviceTest) TestWrongBufferSize() {
	for name, d := range t.devices() {
		t.Run(name, func() {
			t.Error(d.ReadSector(0, make([]byte, 10)))
			t.Error(d.WriteSector(0, make([]byte, 10)))
		})
	}
}
