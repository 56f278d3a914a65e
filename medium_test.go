// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"testing"
	"unsafe"
)

func newTestMedium() *medium {
	return newMedium(&Arena{}, defaultPageProvider, 1, false)
}

func TestMedium_GetFreeRoundTrip(t *testing.T) {
	m := newTestMedium()
	p := m.get(100)
	if p == nil {
		t.Fatal("get(100) returned nil")
	}
	if got := m.blockSize(p) - headerSize; got < 100 {
		t.Errorf("blockSize-headerSize = %d, want >= 100", got)
	}
	m.free(p)
}

// TestMedium_Coalesce grounds §8 scenario 5: three adjacent medium
// blocks freed out of order (A, C, then B) must merge into a single
// free region occupying exactly one bin.
func TestMedium_Coalesce(t *testing.T) {
	m := newTestMedium()

	const payload = 3120 - headerSize
	a := m.get(payload)
	b := m.get(payload)
	c := m.get(payload)
	if a == nil || b == nil || c == nil {
		t.Fatal("get() returned nil")
	}

	sizeA := m.blockSize(a)
	sizeB := m.blockSize(b)
	sizeC := m.blockSize(c)
	want := sizeA + sizeB + sizeC

	m.free(a)
	m.free(c)
	m.free(b)

	idx := binIndexForSize(want)
	if m.binEmpty(idx) {
		t.Fatalf("bin %d empty after coalescing A+B+C, want one merged entry of %d bytes", idx, want)
	}
	node := m.bins[idx].next
	if node.next != &m.bins[idx] {
		t.Errorf("bin %d holds more than one entry after coalescing", idx)
	}

	blockAddr := unsafe.Add(unsafe.Pointer(node), -int(headerSize))
	gotSize := payloadBase(*medHeader(blockAddr))
	if gotSize != want {
		t.Errorf("coalesced block size = %d, want %d", gotSize, want)
	}
}

func TestMedium_BoundaryTagClearedOnUse(t *testing.T) {
	m := newTestMedium()
	a := m.get(400)
	b := m.get(400)
	if a == nil || b == nil {
		t.Fatal("get() returned nil")
	}

	m.free(a)
	aAddr := unsafe.Add(a, -int(headerSize))
	bAddr := unsafe.Add(b, -int(headerSize))
	if *medHeader(bAddr)&flagPrevMediumFree == 0 {
		t.Error("freeing A should set B's PREV_MEDIUM_FREE")
	}

	reused := m.get(400)
	if reused == nil {
		t.Fatal("get(400) after free should reuse A's slot")
	}
	if *medHeader(bAddr)&flagPrevMediumFree != 0 {
		t.Error("granting A's slot again should clear B's PREV_MEDIUM_FREE")
	}
	_ = aAddr
}
