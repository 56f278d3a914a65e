// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "code.hybscloud.com/atomix"

// tinyFrontEnd fans the hottest size classes out across several
// independently locked replicas so concurrent small allocations of the
// same size don't serialize on one SpinLock. Each replica is a regular
// smallBlockType; the front-end only adds the replica selection.
type tinyFrontEnd struct {
	classes int
	arenas  int
	types   [][]*smallBlockType // types[class][arena]
	cursors []atomix.Uint64     // one round-robin cursor per class
}

func newTinyFrontEnd(boost bool) *tinyFrontEnd {
	classes := tinyClassesDefault
	arenas := tinyArenasDefault
	if boost {
		classes = tinyClassesBoost
		arenas = tinyArenasBoost
	}

	tf := &tinyFrontEnd{
		classes: classes,
		arenas:  arenas,
		types:   make([][]*smallBlockType, classes),
		cursors: make([]atomix.Uint64, classes),
	}
	for c := 0; c < classes; c++ {
		tf.types[c] = make([]*smallBlockType, arenas)
		for a := 0; a < arenas; a++ {
			tf.types[c][a] = newSmallBlockType(c)
		}
	}
	return tf
}

func (tf *tinyFrontEnd) handles(classIdx int) bool {
	return classIdx < tf.classes
}

// pick returns the arena-local smallBlockType a tiny request of the
// given class should use, advancing that class's round-robin cursor.
func (tf *tinyFrontEnd) pick(classIdx int) *smallBlockType {
	n := tf.cursors[classIdx].Add(1)
	return tf.types[classIdx][int(n)%tf.arenas]
}
