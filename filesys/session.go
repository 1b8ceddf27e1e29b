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

package filesys

import "github.com/alyssaaa7/pintosfs/cfg"

// Session is the per-process state the façade keeps outside the
// filesystem itself: just a current-working-directory sector, mirroring
// the original source's per-thread cur_dir field. A Session is cheap and
// unsynchronized; callers must not share one across goroutines without
// their own locking, the same way a single OS process's cwd isn't
// thread-safe against concurrent chdir.
type Session struct {
	cwd uint32
}

// NewSession starts a session rooted at the filesystem root.
func NewSession() *Session {
	return &Session{cwd: cfg.RootInodeSector}
}

// Cwd reports the sector of the session's current directory.
func (s *Session) Cwd() uint32 { return s.cwd }
