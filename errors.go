// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "errors"

// Sentinel errors returned by allocator entry points. Following the
// ecosystem's iox convention of comparable sentinel errors rather than
// wrapped detail types, callers check these with errors.Is.
var (
	// ErrInvalidFree is returned by FreeMem when the pointer's header
	// does not carry live-block flags: a stale pointer, a double free,
	// or a pointer that never came from this heap. The block is left
	// untouched.
	ErrInvalidFree = errors.New("heap: invalid or double free")

	// ErrUnsupportedRemap is not returned by any function of this
	// package: the page provider reports a missing or failed remap
	// through its boolean result, and the large block manager then falls
	// back to allocate/copy/free.
	ErrUnsupportedRemap = errors.New("heap: page remap unsupported")

	// ErrOutOfMemory is returned when the OS page provider cannot
	// satisfy an underlying acquire or remap request.
	ErrOutOfMemory = errors.New("heap: out of memory")
)
