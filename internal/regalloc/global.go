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
    `github.com/cloudwego/anvil/lir`
)

// resolveGlobal runs once every trace is allocated and reconciles the edges
// the per-trace passes could not see: trace crossings and same-trace back
// edges. Edges into a relay resolve at the relay's own exit instead, where
// reading through it yields the true predecessor locations and the relay
// body is the insertion point.
func (self *Allocator) resolveGlobal() error {
    for _, t := range self.ts.Traces {
        for _, b := range t.Blocks {
            for _, s := range self.p.Block(b).Succ {
                if self.ts.Adjacent(b, s) || self.triv[self.ts.Of(s).ID] {
                    continue
                }
                if err := self.resolveEdgeInto(b, s); err != nil {
                    return err
                }
            }
        }
    }
    return nil
}

// emitSpillStores stores every spilled family into its canonical slot right
// after the definition, so any later stack reader, spilled child or shadowed
// boundary alike, finds the value there. Phis defined in a block with no
// instruction besides the terminator have no gap of their own, their store
// joins the tail moves in front of the terminator.
func (self *Allocator) emitSpillStores() {
    for _, t := range self.ts.Traces {
        if self.triv[t.ID] {
            continue
        }
        for _, fam := range self.tis[t.ID].list {
            if !fam.defined() {
                continue
            }
            slot := self.slotOf[fam.vid]
            if slot == lir.None || fam.loc == slot {
                continue
            }
            if gp := fam.uses[0].pos.gapAfter(); self.isBlockEnd(gp) {
                self.tailMoves(self.blockOf(fam.uses[0].pos)).add(fam.loc, slot)
            } else {
                self.gapMoves(gp).add(fam.loc, slot)
            }
        }
    }
}
