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

const (
	// Logging-level constants.

	TRACE   string = "TRACE"
	DEBUG   string = "DEBUG"
	INFO    string = "INFO"
	WARNING string = "WARNING"
	ERROR   string = "ERROR"
	OFF     string = "OFF"
)

const (
	// LogFormatJSON and LogFormatText select the slog handler used by
	// internal/logger.
	LogFormatJSON string = "json"
	LogFormatText string = "text"
)

const (
	// SectorSize is the on-disk block size in bytes. It is a constant of the
	// format, not a tunable: changing it invalidates every existing image.
	SectorSize = 512

	// DefaultCacheSlots is the buffer cache capacity required by spec.md
	// §4.3 ("Fixed capacity of 64 slots").
	DefaultCacheSlots = 64

	// RootInodeSector and FreeMapInodeSector are fixed by the on-disk
	// layout (spec.md §3): sector 0 is the free-map inode, sector 1 is the
	// root directory inode.
	FreeMapInodeSector = 0
	RootInodeSector    = 1
)
