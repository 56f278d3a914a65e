// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "unsafe"

// pageSize records an OS page size, 4 KiB unless SetPageSize changes it.
// Nothing in the allocator reads it: page-provider requests are rounded
// to pageRoundGranularity (64 KiB) instead.
var pageSize uintptr = 4096

// SetPageSize stores size in pageSize. It does not change how the
// allocator rounds OS requests. It is not safe to call concurrently
// with allocator use.
func SetPageSize(size int) {
	pageSize = uintptr(size)
}

// noCopy is a sentinel used to prevent copying of synchronization primitives.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// headerSize is the width, in bytes, of the machine word immediately
// preceding every user pointer. It encodes ownership and size/flag bits.
const headerSize = unsafe.Sizeof(uintptr(0))

// Flag bits occupy the low 4 bits of every block header; the remaining
// bits carry a size or a pool pointer depending on which flags are set.
const (
	flagFree           uintptr = 1 << 0 // block is on a free list
	flagMedium         uintptr = 1 << 1 // block lives inside a medium pool
	flagLargeOrPoolUse uintptr = 1 << 2 // large block, or (with flagMedium) a pool-in-use small block
	flagPrevMediumFree uintptr = 1 << 3 // previous medium neighbor is free

	flagMask uintptr = flagFree | flagMedium | flagLargeOrPoolUse | flagPrevMediumFree
)

// alignUp rounds size up to the next multiple of align, which must be a
// power of two.
func alignUp(size, align uintptr) uintptr {
	return (size + align - 1) &^ (align - 1)
}

// header returns a pointer to the machine word immediately preceding the
// user payload at p.
func header(p unsafe.Pointer) *uintptr {
	return (*uintptr)(unsafe.Add(p, -int(headerSize)))
}

// payloadOf returns the user-visible payload address for a block whose
// header word sits at hdr.
func payloadOf(hdr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(hdr, headerSize)
}

// packFlags clears the flag bits of a header word and ORs in flags,
// preserving the size/pointer bits above them.
func packFlags(word uintptr, flags uintptr) uintptr {
	return (word &^ flagMask) | (flags & flagMask)
}

// flagsOf extracts the low 4 flag bits of a header word.
func flagsOf(word uintptr) uintptr {
	return word & flagMask
}

// payloadBase strips the flag bits, leaving a size or pointer value.
func payloadBase(word uintptr) uintptr {
	return word &^ flagMask
}
