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
    `sort`

    `github.com/cloudwego/anvil/internal/utils`
    `github.com/cloudwego/anvil/lir`
)

func mkVerify1(it *Interval, reason string) error {
    return utils.EVerify(int64(it.id), -1, "", reason)
}

func mkVerify2(a *Interval, b *Interval, reason string) error {
    return utils.EVerify(int64(a.id), int64(b.id), a.loc.String(), reason)
}

// verify re-checks the allocation output: every interval holds a physical
// location over well-formed ranges, split families partition their lifetime
// without holes, and no two overlapping intervals of one class share a
// register or a stack slot. Placeholder intervals on the reserved bootstrap
// gap are exempt from location pairing.
func (self *Allocator) verify() error {
    for i, it := range self.intervals {
        if int(it.id) != i {
            return mkVerify1(it, "interval table out of order")
        }
        if it.boot() {
            continue
        }
        if it.empty() {
            return mkVerify1(it, "interval with no ranges")
        }
        if it.loc == lir.None || it.loc.IsVar() {
            return mkVerify1(it, "interval with no physical location")
        }
        if it.loc.IsReg() && it.loc.Index() >= self.d.NumRegs(it.cls) {
            return mkVerify1(it, "register index out of range")
        }
        for k, r := range it.ranges {
            if r.from >= r.to {
                return mkVerify1(it, "empty range")
            }
            if k != 0 && it.ranges[k - 1].to > r.from {
                return mkVerify1(it, "ranges out of order")
            }
        }
        if it.parent == nil && len(it.children) != 0 {
            prev := it
            for _, c := range it.children {
                if prev.to() != c.from() {
                    return mkVerify1(c, "split family with a hole")
                }
                prev = c
            }
        }
    }

    /* pairwise sweep ordered by start position: overlapping same-class
     * intervals must not agree on a register or a stack slot */
    sorted := append([]*Interval(nil), self.intervals...)
    sort.Slice(sorted, func(i int, j int) bool {
        if sorted[i].from() != sorted[j].from() {
            return sorted[i].from() < sorted[j].from()
        }
        return sorted[i].id < sorted[j].id
    })

    for i, it := range sorted {
        if it.boot() {
            continue
        }
        for j := i + 1; j < len(sorted); j++ {
            ot := sorted[j]
            if ot.from() >= it.to() {
                break
            }
            if ot.boot() || it.loc != ot.loc {
                continue
            }
            if !it.loc.IsReg() && !it.loc.IsSlot() {
                continue
            }
            if it.intersect(ot) >= 0 {
                if it.loc.IsReg() {
                    return mkVerify2(it, ot, "overlapping intervals share a register")
                } else {
                    return mkVerify2(it, ot, "overlapping intervals share a stack slot")
                }
            }
        }
    }
    return nil
}
