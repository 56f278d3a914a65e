// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "sort"

// SmallBlockStat aggregates one size class's counters across every
// replica the tiny front-end maintains for it.
type SmallBlockStat struct {
	ClassIndex int
	BlockSize  uintptr

	GetCount, FreeCount           uint64
	GetSleepCount, FreeSleepCount uint64
}

func (h *Heap) classStats() [numSmallClasses]SmallBlockStat {
	var stats [numSmallClasses]SmallBlockStat
	for c := 0; c < numSmallClasses; c++ {
		stats[c].ClassIndex = c
		stats[c].BlockSize = smallClassBlockSize[c]
	}
	for c := 0; c < h.tiny.classes; c++ {
		for _, t := range h.tiny.types[c] {
			stats[c].GetCount += t.getCount
			stats[c].FreeCount += t.freeCount
			stats[c].GetSleepCount += t.getSleep.Load()
			stats[c].FreeSleepCount += t.freeSleep.Load()
		}
	}
	for c := h.tiny.classes; c < numSmallClasses; c++ {
		t := h.small[c]
		stats[c].GetCount = t.getCount
		stats[c].FreeCount = t.freeCount
		stats[c].GetSleepCount = t.getSleep.Load()
		stats[c].FreeSleepCount = t.freeSleep.Load()
	}
	return stats
}

// SmallBlockStatus returns up to max size classes with non-zero
// activity, ordered by orderBy ("size", "gets", or "frees"; anything
// else defaults to class index order), most-active first for
// "gets"/"frees".
func (h *Heap) SmallBlockStatus(max int, orderBy string) []SmallBlockStat {
	stats := h.classStats()
	out := make([]SmallBlockStat, 0, numSmallClasses)
	for _, s := range stats {
		if s.GetCount != 0 || s.FreeCount != 0 {
			out = append(out, s)
		}
	}

	switch orderBy {
	case "size":
		sort.Slice(out, func(i, j int) bool { return out[i].BlockSize < out[j].BlockSize })
	case "gets":
		sort.Slice(out, func(i, j int) bool { return out[i].GetCount > out[j].GetCount })
	case "frees":
		sort.Slice(out, func(i, j int) bool { return out[i].FreeCount > out[j].FreeCount })
	}

	if max > 0 && max < len(out) {
		out = out[:max]
	}
	return out
}

// SmallBlockContentionStat is one row of SmallBlockContention: the
// sleep count observed acquiring one size class's lock in one
// direction. Exactly one of GetClassSize/FreeClassSize is non-zero,
// identifying which direction this record is for.
type SmallBlockContentionStat struct {
	SleepCount    uint64
	GetClassSize  uintptr
	FreeClassSize uintptr
}

// SmallBlockContention returns up to max (class, direction) records
// with a non-zero sleep count, sorted descending by sleep count.
func (h *Heap) SmallBlockContention(max int) []SmallBlockContentionStat {
	stats := h.classStats()
	out := make([]SmallBlockContentionStat, 0, 2*numSmallClasses)
	for _, s := range stats {
		if s.GetSleepCount != 0 {
			out = append(out, SmallBlockContentionStat{SleepCount: s.GetSleepCount, GetClassSize: s.BlockSize})
		}
		if s.FreeSleepCount != 0 {
			out = append(out, SmallBlockContentionStat{SleepCount: s.FreeSleepCount, FreeClassSize: s.BlockSize})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SleepCount > out[j].SleepCount })

	if max > 0 && max < len(out) {
		out = out[:max]
	}
	return out
}
