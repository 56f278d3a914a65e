// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package heap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// osPageProvider binds Module A to Linux's mmap/munmap/mremap, the
// platform golang.org/x/sys/unix supports in-place remap on (the
// pack's hanwen-go-fuse and SeleniaProject-Orizon both depend on
// golang.org/x/sys for exactly this kind of raw syscall access).
type osPageProvider struct{}

func newOSPageProvider() pageProvider { return osPageProvider{} }

func (osPageProvider) acquire(size uintptr) unsafe.Pointer {
	size = pageRoundUp(size)
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(b))
}

func (osPageProvider) release(ptr unsafe.Pointer, size uintptr) {
	size = pageRoundUp(size)
	b := unsafe.Slice((*byte)(ptr), size)
	_ = unix.Munmap(b)
}

func (osPageProvider) remap(ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, bool) {
	oldSize = pageRoundUp(oldSize)
	newSize = pageRoundUp(newSize)
	old := unsafe.Slice((*byte)(ptr), oldSize)
	b, err := unix.Mremap(old, int(newSize), unix.MREMAP_MAYMOVE)
	if err != nil {
		return nil, false
	}
	return unsafe.Pointer(unsafe.SliceData(b)), true
}

func (osPageProvider) remapSupported() bool { return true }
