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

	"github.com/alyssaaa7/pintosfs/inode"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	r := &inode.Record{
		Length:         12345,
		IsDir:          true,
		Indirect:       7,
		DoublyIndirect: 8,
	}
	r.Direct[0] = 2
	r.Direct[122] = 99

	buf := inode.Encode(r)
	require.Len(t, buf, 512)

	got, err := inode.Decode(buf[:])
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	var buf [512]byte
	_, err := inode.Decode(buf[:])
	require.Error(t, err)
}

func TestBlockRoundTrip(t *testing.T) {
	var ptrs [inode.PointersPerBlock]uint32
	ptrs[0] = 42
	ptrs[127] = 99

	buf := inode.EncodeBlock(ptrs)
	require.Equal(t, ptrs, inode.DecodeBlock(buf[:]))
}

func TestMaxSectorsMatchesSpec(t *testing.T) {
	require.Equal(t, 123+128+128*128, inode.MaxSectors)
}
