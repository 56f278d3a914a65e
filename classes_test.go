// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "testing"

func TestClassForSize_Boundary(t *testing.T) {
	idx, ok := classForSize(maxSmallRequest)
	if !ok {
		t.Fatalf("classForSize(%d) should be small", maxSmallRequest)
	}
	if smallClassThreshold[idx] != maxSmallRequest {
		t.Errorf("class %d threshold = %d, want %d", idx, smallClassThreshold[idx], maxSmallRequest)
	}

	if _, ok := classForSize(maxSmallRequest + 1); ok {
		t.Errorf("classForSize(%d) should not be small", maxSmallRequest+1)
	}
}

// TestClassForSize_32ByteRequest checks the distilled spec's worked
// example: a 32-byte request plus the 8-byte header rounds up to a
// 48-byte slot (threshold 32, alignUp(32+8, 16) == 48).
func TestClassForSize_32ByteRequest(t *testing.T) {
	idx, ok := classForSize(32)
	if !ok {
		t.Fatalf("classForSize(32) should be small")
	}
	if smallClassThreshold[idx] != 32 {
		t.Errorf("threshold for 32-byte request = %d, want 32", smallClassThreshold[idx])
	}
	if smallClassBlockSize[idx] != 48 {
		t.Errorf("block size for 32-byte request = %d, want 48", smallClassBlockSize[idx])
	}
}

func TestClassForSize_Monotonic(t *testing.T) {
	prev := -1
	for size := 1; size <= maxSmallRequest; size++ {
		idx, ok := classForSize(size)
		if !ok {
			t.Fatalf("classForSize(%d) unexpectedly not small", size)
		}
		if smallClassThreshold[idx] < size {
			t.Fatalf("class %d (threshold %d) cannot serve size %d", idx, smallClassThreshold[idx], size)
		}
		if idx < prev {
			t.Fatalf("class index regressed at size %d: %d -> %d", size, prev, idx)
		}
		prev = idx
	}
}

func TestNextClassSize(t *testing.T) {
	if got := nextClassSize(16); got != smallClassBlockSize[1] {
		t.Errorf("nextClassSize(16) = %d, want %d", got, smallClassBlockSize[1])
	}
	if got := nextClassSize(maxSmallRequest); got != 0 {
		t.Errorf("nextClassSize(maxSmallRequest) = %d, want 0", got)
	}
}
