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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/filesys"
	"github.com/alyssaaa7/pintosfs/internal/fuseadapter"
	"github.com/alyssaaa7/pintosfs/internal/logger"
	"github.com/spf13/cobra"
)

var mountCmd = &cobra.Command{
	Use:   "mount MOUNT_POINT",
	Short: "Mount the filesystem image at MOUNT_POINT over FUSE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(&appConfig, false); err != nil {
			return err
		}
		mountPoint := args[0]

		log, closeLog, err := logger.New(appConfig.Log)
		if err != nil {
			return fmt.Errorf("set up logging: %w", err)
		}

		metricsHandle, stopMetrics, err := startMetrics(appConfig.Metrics.Addr)
		if err != nil {
			closeLog()
			return err
		}

		dev, err := blockdevice.OpenFileDevice(appConfig.Device.Path)
		if err != nil {
			closeLog()
			return fmt.Errorf("open device image: %w", err)
		}

		core, err := filesys.Mount(dev, false, appConfig.Cache.Slots, metricsHandle, log)
		if err != nil {
			dev.Close()
			closeLog()
			return fmt.Errorf("mount: %w", err)
		}
		core.SetLogCloser(closeLog)

		adapter, err := fuseadapter.New(core)
		if err != nil {
			core.Shutdown(context.Background())
			dev.Close()
			return fmt.Errorf("build fuse adapter: %w", err)
		}

		mfs, err := fuse.Mount(mountPoint, adapter, &fuse.MountConfig{
			FSName:      "pintosfs",
			Subtype:     "pintosfs",
			VolumeName:  "pintosfs",
			ErrorLogger: slog.NewLogLogger(log.Handler(), slog.LevelError),
		})
		if err != nil {
			core.Shutdown(context.Background())
			dev.Close()
			return fmt.Errorf("fuse.Mount: %w", err)
		}

		log.Info("mounted", "path", mountPoint, "device", appConfig.Device.Path)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			log.Info("received shutdown signal, unmounting", "path", mountPoint)
			if err := fuse.Unmount(mountPoint); err != nil {
				log.Error("unmount failed", "err", err)
			}
		}()

		joinErr := mfs.Join(context.Background())

		shutdownErr := core.Shutdown(context.Background())
		closeErr := dev.Close()
		stopMetricsErr := stopMetrics(context.Background())

		for _, err := range []error{joinErr, shutdownErr, closeErr, stopMetricsErr} {
			if err != nil {
				return err
			}
		}
		return nil
	},
}
