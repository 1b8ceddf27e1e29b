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

package common

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockMetricHandle lets tests assert on exactly which metrics were
// recorded, in the teacher's mock.Mock idiom.
type MockMetricHandle struct {
	mock.Mock
}

var _ MetricHandle = &MockMetricHandle{}

func (m *MockMetricHandle) OpsCount(ctx context.Context, inc int64, fsOp string) {
	m.Called(ctx, inc, fsOp)
}

func (m *MockMetricHandle) OpsLatency(ctx context.Context, latency time.Duration, fsOp string) {
	m.Called(ctx, latency, fsOp)
}

func (m *MockMetricHandle) OpsErrorCount(ctx context.Context, inc int64, attrs FSOpsErrorCategory) {
	m.Called(ctx, inc, attrs)
}

func (m *MockMetricHandle) BufferAccessCount(ctx context.Context, inc int64, hit bool) {
	m.Called(ctx, inc, hit)
}

func (m *MockMetricHandle) BufferEvictionCount(ctx context.Context, inc int64, evictedDirty bool) {
	m.Called(ctx, inc, evictedDirty)
}

func (m *MockMetricHandle) DeviceReadCount(ctx context.Context, inc int64) {
	m.Called(ctx, inc)
}

func (m *MockMetricHandle) DeviceWriteCount(ctx context.Context, inc int64) {
	m.Called(ctx, inc)
}
