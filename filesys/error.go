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

import (
	"errors"
	"fmt"

	"github.com/alyssaaa7/pintosfs/blockdevice"
	"github.com/alyssaaa7/pintosfs/directory"
	"github.com/alyssaaa7/pintosfs/freemap"
	"github.com/alyssaaa7/pintosfs/inode"
)

// ErrKind is one of the error categories spec.md §7 defines.
type ErrKind int

const (
	KindUnknown ErrKind = iota
	KindNotFound
	KindAlreadyExists
	KindNotADirectory
	KindIsADirectory
	KindNotEmpty
	KindNoSpace
	KindTooLong
	KindWriteDenied
	KindIOError
)

func (k ErrKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotADirectory:
		return "NotADirectory"
	case KindIsADirectory:
		return "IsADirectory"
	case KindNotEmpty:
		return "NotEmpty"
	case KindNoSpace:
		return "NoSpace"
	case KindTooLong:
		return "TooLong"
	case KindWriteDenied:
		return "WriteDenied"
	case KindIOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// Error is the façade's error type: every method below returns one of
// these (via errors.As) rather than a raw error from an inner package,
// so callers can classify failures per spec.md §7 without reaching into
// buffercache/inode/directory/freemap internals.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("filesys: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrap classifies err (from directory/inode/freemap/blockdevice) into a
// *Error tagged with the right ErrKind. A nil err passes through as nil.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if fsErr := (*Error)(nil); errors.As(err, &fsErr) {
		return err
	}

	kind := classify(err)
	return &Error{Kind: kind, Op: op, Err: err}
}

func classify(err error) ErrKind {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		return KindNotFound
	case errors.Is(err, directory.ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, directory.ErrNotADirectory):
		return KindNotADirectory
	case errors.Is(err, directory.ErrIsADirectory):
		return KindIsADirectory
	case errors.Is(err, directory.ErrNotEmpty):
		return KindNotEmpty
	case errors.Is(err, directory.ErrTooLong):
		return KindTooLong
	case errors.Is(err, freemap.ErrNoSpace):
		return KindNoSpace
	case errors.Is(err, inode.ErrTooLong):
		return KindTooLong
	case errors.Is(err, inode.ErrWriteDenied):
		return KindWriteDenied
	case errors.Is(err, blockdevice.ErrOutOfRange):
		return KindIOError
	default:
		return KindIOError
	}
}
