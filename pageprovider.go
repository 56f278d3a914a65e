// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "unsafe"

// pageRoundUp rounds size up to a multiple of 64 KiB, the granularity
// the large and medium managers request pages in.
const pageRoundGranularity = 64 * 1024

func pageRoundUp(size uintptr) uintptr {
	return alignUp(size, pageRoundGranularity)
}

// pageProvider is the OS facade Module A binds to: reserve/release, and
// optionally remap, anonymous page-aligned memory. Platforms without a
// remap syscall report remapSupported == false and every caller falls
// back to allocate/copy/release, per §4.A.
type pageProvider interface {
	// acquire returns a zero-initialized, page-aligned region of at
	// least size bytes, or nil on OOM.
	acquire(size uintptr) unsafe.Pointer

	// release unmaps the entire region previously returned by acquire.
	release(ptr unsafe.Pointer, size uintptr)

	// remap grows or shrinks a region in place when the platform
	// supports it. ok is false if remap is not available, in which
	// case ptr/newSize are meaningless and the caller must fall back
	// to acquire/copy/release.
	remap(ptr unsafe.Pointer, oldSize, newSize uintptr) (newPtr unsafe.Pointer, ok bool)

	// remapSupported reports whether remap can ever succeed on this
	// platform; the large block manager uses it to skip straight to
	// the copy fallback instead of calling remap only to have it fail.
	remapSupported() bool
}

// defaultPageProvider is the process-wide OS facade every Heap uses
// (New wraps it only to disable remap under WithNoRemap); the package's
// own tests use it as well and map real memory.
var defaultPageProvider pageProvider = newOSPageProvider()
