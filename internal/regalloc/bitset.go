/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package regalloc

import (
    `fmt`
    `math/bits`
    `strings`
)

// _BitSet is a fixed-size dense bit set over virtual register ids. The
// liveness solver keeps four of these per block, so the representation
// matters more than for the sparse sets used elsewhere.
type _BitSet []uint64

func newBitSet(n int) _BitSet {
    return make(_BitSet, (n + 63) / 64)
}

func (self _BitSet) add(i int)      { self[i >> 6] |= 1 << (i & 63) }
func (self _BitSet) del(i int)      { self[i >> 6] &^= 1 << (i & 63) }
func (self _BitSet) has(i int) bool { return self[i >> 6] & (1 << (i & 63)) != 0 }

func (self _BitSet) clear() {
    for i := range self {
        self[i] = 0
    }
}

func (self _BitSet) copyFrom(other _BitSet) {
    copy(self, other)
}

/* self |= other, reporting whether anything changed */
func (self _BitSet) union(other _BitSet) bool {
    ret := false
    for i, w := range other {
        if v := self[i] | w; v != self[i] {
            self[i] = v
            ret = true
        }
    }
    return ret
}

func (self _BitSet) equals(other _BitSet) bool {
    for i, w := range other {
        if self[i] != w {
            return false
        }
    }
    return true
}

/* self = a | (b &^ c) */
func (self _BitSet) unionDiff(a _BitSet, b _BitSet, c _BitSet) {
    for i := range self {
        self[i] = a[i] | (b[i] &^ c[i])
    }
}

func (self _BitSet) forEach(f func(i int)) {
    for i, w := range self {
        for w != 0 {
            j := bits.TrailingZeros64(w)
            w &^= 1 << j
            f(i * 64 + j)
        }
    }
}

func (self _BitSet) String() string {
    var sb strings.Builder
    sb.WriteByte('{')
    self.forEach(func(i int) {
        if sb.Len() > 1 {
            sb.WriteString(", ")
        }
        fmt.Fprintf(&sb, "%%%d", i)
    })
    sb.WriteByte('}')
    return sb.String()
}
