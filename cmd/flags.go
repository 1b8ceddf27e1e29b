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
	"strings"

	"github.com/alyssaaa7/pintosfs/cfg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags registers every cfg.Config field as a flag on flags, binds it
// into viper under the matching YAML key, and wires PINTOSFS_* environment
// variables as a fallback, mirroring the teacher's flags.go/cfg.BindFlags
// split (there: gcsfuse's hundreds of bucket-mount flags; here: the much
// smaller device/cache/log/metrics surface SPEC_FULL.md names).
func bindFlags(flags *pflag.FlagSet) error {
	def := cfg.DefaultConfig()

	flags.String("device-path", def.Device.Path, "Path to the block device image file")
	flags.Uint32("device-sector-count", def.Device.SectorCount, "Sector count for a freshly formatted image (format only)")
	flags.Int("cache-slots", def.Cache.Slots, "Number of 512-byte buffer cache slots")
	flags.String("log-severity", string(def.Log.Severity), "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR or OFF")
	flags.String("log-format", string(def.Log.Format), "Log format: text or json")
	flags.String("log-file", def.Log.File, "Log output file; empty means stderr")
	flags.String("metrics-addr", def.Metrics.Addr, "Address to serve Prometheus metrics on, e.g. \":9090\"; empty disables it")

	binding := map[string]string{
		"device-path":         "device.path",
		"device-sector-count": "device.sector-count",
		"cache-slots":         "cache.slots",
		"log-severity":        "log.severity",
		"log-format":          "log.format",
		"log-file":            "log.file",
		"metrics-addr":        "metrics.addr",
	}
	for flagName, viperKey := range binding {
		if err := viper.BindPFlag(viperKey, flags.Lookup(flagName)); err != nil {
			return err
		}
	}

	viper.SetEnvPrefix("PINTOSFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	return nil
}
