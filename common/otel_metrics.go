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
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// FSOpKey annotates the fs operation processed (Create, Open, Read, ...).
	FSOpKey = "fs_op"

	// FSErrCategoryKey reduces the cardinality of errors by grouping them.
	FSErrCategoryKey = "fs_error_category"

	// BufferHitKey annotates a buffer cache lookup with whether it was a hit.
	BufferHitKey = "buffer_hit"

	// BufferEvictedDirtyKey annotates an eviction with whether the victim was dirty.
	BufferEvictedDirtyKey = "evicted_dirty"
)

var (
	fsOpsMeter  = otel.Meter("pintosfs/fs_ops")
	bufferMeter = otel.Meter("pintosfs/buffer_cache")
	deviceMeter = otel.Meter("pintosfs/block_device")

	fsOpsAttributeSet,
	fsOpsErrorCategoryAttributeSet,
	bufferHitAttributeSet,
	bufferEvictedDirtyAttributeSet sync.Map
)

func loadOrStoreAttributeOption[K comparable](mp *sync.Map, key K, attrSetGenFunc func() attribute.Set) metric.MeasurementOption {
	attrSet, ok := mp.Load(key)
	if ok {
		return attrSet.(metric.MeasurementOption)
	}
	v, _ := mp.LoadOrStore(key, metric.WithAttributeSet(attrSetGenFunc()))
	return v.(metric.MeasurementOption)
}

func getFSOpsAttributeSet(fsOp string) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&fsOpsAttributeSet, fsOp, func() attribute.Set {
		return attribute.NewSet(attribute.String(FSOpKey, fsOp))
	})
}

func getFSOpsErrorCategoryAttributeSet(attr FSOpsErrorCategory) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&fsOpsErrorCategoryAttributeSet, attr, func() attribute.Set {
		return attribute.NewSet(attribute.String(FSOpKey, attr.FSOp), attribute.String(FSErrCategoryKey, attr.ErrorCategory))
	})
}

func getBufferHitAttributeSet(hit bool) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&bufferHitAttributeSet, hit, func() attribute.Set {
		return attribute.NewSet(attribute.Bool(BufferHitKey, hit))
	})
}

func getBufferEvictedDirtyAttributeSet(dirty bool) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&bufferEvictedDirtyAttributeSet, dirty, func() attribute.Set {
		return attribute.NewSet(attribute.Bool(BufferEvictedDirtyKey, dirty))
	})
}

// otelMetrics is the MetricHandle implementation backed by OpenTelemetry
// instruments, exportable to Prometheus via
// go.opentelemetry.io/otel/exporters/prometheus.
type otelMetrics struct {
	fsOpsCount      metric.Int64Counter
	fsOpsErrorCount metric.Int64Counter
	fsOpsLatency    metric.Float64Histogram

	bufferAccessCount   metric.Int64Counter
	bufferEvictionCount metric.Int64Counter

	deviceReadCount  metric.Int64Counter
	deviceWriteCount metric.Int64Counter
}

var _ MetricHandle = &otelMetrics{}

func (o *otelMetrics) OpsCount(ctx context.Context, inc int64, fsOp string) {
	o.fsOpsCount.Add(ctx, inc, getFSOpsAttributeSet(fsOp))
}

func (o *otelMetrics) OpsLatency(ctx context.Context, latency time.Duration, fsOp string) {
	o.fsOpsLatency.Record(ctx, float64(latency.Microseconds()), getFSOpsAttributeSet(fsOp))
}

func (o *otelMetrics) OpsErrorCount(ctx context.Context, inc int64, attrs FSOpsErrorCategory) {
	o.fsOpsErrorCount.Add(ctx, inc, getFSOpsErrorCategoryAttributeSet(attrs))
}

func (o *otelMetrics) BufferAccessCount(ctx context.Context, inc int64, hit bool) {
	o.bufferAccessCount.Add(ctx, inc, getBufferHitAttributeSet(hit))
}

func (o *otelMetrics) BufferEvictionCount(ctx context.Context, inc int64, evictedDirty bool) {
	o.bufferEvictionCount.Add(ctx, inc, getBufferEvictedDirtyAttributeSet(evictedDirty))
}

func (o *otelMetrics) DeviceReadCount(ctx context.Context, inc int64) {
	o.deviceReadCount.Add(ctx, inc)
}

func (o *otelMetrics) DeviceWriteCount(ctx context.Context, inc int64) {
	o.deviceWriteCount.Add(ctx, inc)
}

// NewOTelMetrics builds the production MetricHandle. The global
// otel.Meter provider is whatever cmd/metrics.go's startMetrics installed (a real SDK
// pipeline when --metrics-addr is set, otherwise the no-op provider).
func NewOTelMetrics() (MetricHandle, error) {
	fsOpsCount, err1 := fsOpsMeter.Int64Counter("fs/ops_count", metric.WithDescription("The cumulative number of ops processed by the file system façade."))
	fsOpsLatency, err2 := fsOpsMeter.Float64Histogram("fs/ops_latency", metric.WithDescription("The distribution of file system operation latencies."), metric.WithUnit("us"), defaultLatencyDistribution)
	fsOpsErrorCount, err3 := fsOpsMeter.Int64Counter("fs/ops_error_count", metric.WithDescription("The cumulative number of errors returned by file system operations."))

	bufferAccessCount, err4 := bufferMeter.Int64Counter("buffer_cache/access_count", metric.WithDescription("The cumulative number of buffer cache lookups, labeled by hit/miss."))
	bufferEvictionCount, err5 := bufferMeter.Int64Counter("buffer_cache/eviction_count", metric.WithDescription("The cumulative number of clock-algorithm evictions, labeled by whether the victim was dirty."))

	deviceReadCount, err6 := deviceMeter.Int64Counter("block_device/read_count", metric.WithDescription("The cumulative number of sector reads issued to the block device."))
	deviceWriteCount, err7 := deviceMeter.Int64Counter("block_device/write_count", metric.WithDescription("The cumulative number of sector writes issued to the block device (spec.md's write_counter)."))

	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7); err != nil {
		return nil, err
	}

	return &otelMetrics{
		fsOpsCount:          fsOpsCount,
		fsOpsErrorCount:     fsOpsErrorCount,
		fsOpsLatency:        fsOpsLatency,
		bufferAccessCount:   bufferAccessCount,
		bufferEvictionCount: bufferEvictionCount,
		deviceReadCount:     deviceReadCount,
		deviceWriteCount:    deviceWriteCount,
	}, nil
}
