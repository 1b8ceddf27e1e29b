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

// Package cmd is the pintosfs command-line surface: format/mount/selftest
// subcommands sharing one cfg.Config, bound from flags, PINTOSFS_*
// environment variables and an optional YAML file through spf13/viper,
// the way the teacher's root.go binds gcsfuse's flags.
package cmd

import (
	"fmt"
	"os"

	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile       string
	dumpConfig    bool
	bindErr       error
	configFileErr error
	appConfig     cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "pintosfs",
	Short: "Format, mount and exercise a Pintos-style on-disk filesystem image",
	Long: `pintosfs implements the Pintos filesystem (buffer cache, inode layer
and hierarchical directories over a 512-byte-sector block device) as a
FUSE-mountable Go filesystem. Use "format" to lay down a fresh image,
"mount" to serve it over FUSE, and "selftest" to exercise the same
scenarios the test suite does against a real file-backed device.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if err := viper.Unmarshal(&appConfig, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		))); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		if dumpConfig {
			out, err := yaml.Marshal(&appConfig)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
		}
		return nil
	},
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to an optional YAML config file")
	rootCmd.PersistentFlags().BoolVar(&dumpConfig, "dump-config", false, "Print the fully resolved configuration as YAML and continue")
	bindErr = bindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(formatCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(selftestCmd)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file %q: %w", cfgFile, err)
	}
}
