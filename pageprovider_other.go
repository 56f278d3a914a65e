// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package heap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// osPageProvider on non-Linux targets still acquires/releases through
// golang.org/x/sys/unix's portable mmap/munmap, but has no remap
// syscall to bind to; every caller falls back to acquire/copy/release,
// as §4.A requires of platforms without the optional capability.
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

func (osPageProvider) remap(unsafe.Pointer, uintptr, uintptr) (unsafe.Pointer, bool) {
	return nil, false
}

func (osPageProvider) remapSupported() bool { return false }
