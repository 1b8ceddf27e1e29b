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

package cfg

import "fmt"

// Validate checks a Config for internal consistency. formatting indicates
// whether this config will be used for `format` (which requires
// SectorCount) or for `mount`/`selftest` (which does not).
func Validate(c *Config, formatting bool) error {
	if c.Device.Path == "" {
		return fmt.Errorf("device path must not be empty")
	}
	if formatting && c.Device.SectorCount == 0 {
		return fmt.Errorf("sector-count must be positive when formatting")
	}
	if c.Cache.Slots <= 0 {
		return fmt.Errorf("cache.slots must be positive, got %d", c.Cache.Slots)
	}
	switch c.Log.Format {
	case "", LogFormat(LogFormatJSON), LogFormat(LogFormatText):
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}
