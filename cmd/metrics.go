// Copyright 2024 Google Inc. All Rights Reserved.
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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alyssaaa7/pintosfs/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// startMetrics wires up common.NewOTelMetrics against a real SDK pipeline
// and serves it over HTTP when Metrics.Addr is set; otherwise it falls back
// to the no-op handle. The returned shutdown function stops the HTTP
// server and flushes the meter provider.
func startMetrics(addr string) (common.MetricHandle, common.ShutdownFn, error) {
	if addr == "" {
		return common.NewNoopMetrics(), func(context.Context) error { return nil }, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	handle, err := common.NewOTelMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("create metric instruments: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = server.ListenAndServe()
	}()

	shutdown := func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		serverErr := server.Shutdown(shutdownCtx)
		providerErr := provider.Shutdown(shutdownCtx)
		if serverErr != nil {
			return serverErr
		}
		return providerErr
	}
	return handle, shutdown, nil
}

// metricsHandleOrNoop is a convenience for the short-lived format command,
// which has no long-running server to hang a Prometheus endpoint
// off of, but still want a real MetricHandle wired through filesys.Mount.
func metricsHandleOrNoop() common.MetricHandle {
	handle, err := common.NewOTelMetrics()
	if err != nil {
		return common.NewNoopMetrics()
	}
	return handle
}
