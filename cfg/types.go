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

package cfg

import (
	"fmt"
	"slices"
	"strings"
)

// LogSeverity is the datatype for the --log-severity flag. It validates
// against the fixed set of severities the logger understands.
type LogSeverity string

func (s *LogSeverity) UnmarshalText(text []byte) error {
	v := strings.ToUpper(strings.TrimSpace(string(text)))
	allowed := []string{TRACE, DEBUG, INFO, WARNING, ERROR, OFF}
	if !slices.Contains(allowed, v) {
		return fmt.Errorf("invalid log severity %q: must be one of %v", string(text), allowed)
	}
	*s = LogSeverity(v)
	return nil
}

func (s LogSeverity) MarshalText() ([]byte, error) {
	return []byte(string(s)), nil
}

// LogFormat is the datatype for --log-format: json or text.
type LogFormat string

func (f *LogFormat) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	if v != LogFormatJSON && v != LogFormatText {
		return fmt.Errorf("invalid log format %q: must be %q or %q", string(text), LogFormatJSON, LogFormatText)
	}
	*f = LogFormat(v)
	return nil
}

func (f LogFormat) MarshalText() ([]byte, error) {
	return []byte(string(f)), nil
}
