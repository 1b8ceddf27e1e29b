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

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/alyssaaa7/pintosfs/filesys"
	"github.com/alyssaaa7/pintosfs/internal/logger"
	"github.com/spf13/cobra"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Create a fresh filesystem image (free-map + empty root directory)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(&appConfig, true); err != nil {
			return err
		}

		log, closeLog, err := logger.New(appConfig.Log)
		if err != nil {
			return fmt.Errorf("set up logging: %w", err)
		}
		defer closeLog()

		dev, err := blockdevice.CreateFileDevice(appConfig.Device.Path, appConfig.Device.SectorCount)
		if err != nil {
			return fmt.Errorf("create device image: %w", err)
		}

		fs, err := filesys.Mount(dev, true, appConfig.Cache.Slots, metricsHandleOrNoop(), log)
		if err != nil {
			dev.Close()
			return fmt.Errorf("format: %w", err)
		}

		if err := fs.Shutdown(context.Background()); err != nil {
			dev.Close()
			return fmt.Errorf("format: %w", err)
		}
		if err := dev.Close(); err != nil {
			return fmt.Errorf("close device image: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "formatted %s: %d sectors\n", appConfig.Device.Path, appConfig.Device.SectorCount)
		return nil
	},
}
