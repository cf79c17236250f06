/*
 * Copyright 2023 CloudWeGo Authors
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

package sched

import (
    `github.com/cloudwego/anvil/internal/utils`
    `github.com/cloudwego/anvil/ir`
)

// optimalRead sinks a floating read as far down the dominator chain between
// its earliest block and lub as its location allows: a candidate is legal
// when no checkpoint kills the location strictly between the read's last
// known write and the candidate entry. A kill inside the chosen block itself
// is handled by a phantom ordering edge that keeps the read in front of it.
func (self *state) optimalRead(n *ir.Node, e ir.BlockID, lub ir.BlockID) (ir.BlockID, error) {
    w := self.g.Node(n.Mem)
    wb := w.Block()
    cand := lub

    for !self.cleanBetween(n, w, wb, cand) {
        if cand == e {
            return ir.NoBlock, utils.ESched(int64(n.ID()), int64(cand), "read of %s is killed before its operands are ready", n.Loc)
        }
        cand = self.c.IDom(cand)
    }

    if c := self.firstKill(n, w, wb, cand); c != nil {
        self.g.AddOrdering(n, c)
    }
    return cand, nil
}

// cleanBetween reports whether no checkpoint kills the read's location on
// any path from its last known write to the entry of cand. The write block
// dominates every candidate, so walking predecessors backwards from cand and
// stopping at the write block visits exactly the blocks between the two.
func (self *state) cleanBetween(r *ir.Node, w *ir.Node, wb ir.BlockID, cand ir.BlockID) bool {
    if cand == wb {
        return true
    }
    if self.kills.tail(wb, w).kills(r.Loc) {
        return false
    }

    seen := make(map[ir.BlockID]bool, 8)
    work := append([]ir.BlockID(nil), self.g.Block(cand).Pred...)

    for len(work) > 0 {
        b := work[len(work) - 1]
        work = work[:len(work) - 1]
        if b == wb || seen[b] {
            continue
        }
        seen[b] = true
        if self.kills.block(b).kills(r.Loc) {
            return false
        }
        work = append(work, self.g.Block(b).Pred...)
    }
    return true
}

// firstKill returns the first checkpoint inside cand that kills the read's
// location, skipping everything up to and including the read's own write
// when the write lives in cand.
func (self *state) firstKill(r *ir.Node, w *ir.Node, wb ir.BlockID, cand ir.BlockID) *ir.Node {
    past := cand != wb
    for _, id := range self.g.Block(cand).Nodes {
        if id == w.ID() {
            past = true
        } else if n := self.g.Node(id); past && n.KillsLoc(r.Loc) {
            return n
        }
    }
    return nil
}
