// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

// numSmallClasses is the number of distinct small-block size classes.
const numSmallClasses = 46

// smallClassThreshold[i] is the largest user request size class i
// serves. Classes grow by exactly 16 bytes up through 128 B (so the
// first 8 classes double as the non-boosted tiny front-end, per
// tinyClassesDefault), jump to 160 B (there is no 144 B class, so a
// 129 B request wastes about 19% of its class), and then widen
// gradually, wasting at most roughly 10% relative to the previous
// class, until the last class caps small requests at 2,608 B; anything
// above that routes to the medium manager.
var smallClassThreshold = [numSmallClasses]int{
	16, 32, 48, 64, 80, 96, 112, 128,
	160, 176, 192, 208, 224, 240, 256, 272, 304, 320, 352, 368,
	400, 432, 464, 496, 544, 576, 624, 672, 736, 784, 848, 912,
	992, 1056, 1152, 1232, 1328, 1440, 1552, 1664, 1792, 1936,
	2080, 2256, 2432, 2608,
}

// maxSmallRequest is the largest request size a small block can serve.
const maxSmallRequest = 2608

// tinyClassesDefault / tinyClassesBoost are the number of leading size
// classes replicated across tiny arenas: the first 8 classes (requests
// ≤ 128 B) by default, the first 16 under Boost. Since the table has no
// 144 B class, the 16th class is 272 B, so under Boost the tiny
// front-end serves requests up to 272 B, not 256 B.
const (
	tinyClassesDefault = 8
	tinyClassesBoost   = 16

	tinyArenasDefault = 8
	tinyArenasBoost   = 32
)

// smallClassBlockSize is computed once at package init: the real slot
// size for class i, aligned so consecutive payload addresses stay
// 16-byte aligned (Invariant 1). Equal to
// alignUp(threshold+headerSize, 16).
var smallClassBlockSize [numSmallClasses]uintptr

// smallClassLUT maps a (size-1)/16 bucket to the smallest class able to
// serve it — the "getmem lookup table" built once at init per §4.F.
var smallClassLUT [(maxSmallRequest + 15) / 16]int8

func init() {
	for i, t := range smallClassThreshold {
		smallClassBlockSize[i] = alignUp(uintptr(t)+headerSize, 16)
	}
	classIdx := 0
	for bucket := range smallClassLUT {
		size := bucket*16 + 1
		for classIdx < numSmallClasses-1 && smallClassThreshold[classIdx] < size {
			classIdx++
		}
		smallClassLUT[bucket] = int8(classIdx)
	}
}

// classForSize returns the small size class index able to serve size
// bytes, and whether size fits within the small-block range at all.
func classForSize(size int) (int, bool) {
	if size <= 0 || size > maxSmallRequest {
		return 0, false
	}
	return int(smallClassLUT[(size-1)/16]), true
}

// nextClassSize returns the block size of the smallest class strictly
// larger than the one currently serving requested, or 0 if requested's
// class is already the largest.
func nextClassSize(requested int) uintptr {
	idx, ok := classForSize(requested)
	if !ok || idx+1 >= numSmallClasses {
		return 0
	}
	return smallClassBlockSize[idx+1]
}
