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

package cfg

import (
    `sort`

    `github.com/cloudwego/anvil/internal/utils`
    `github.com/cloudwego/anvil/ir`
)

// Loop is one natural loop: a header block and every block that can reach
// one of the header's back edges without leaving the loop.
type Loop struct {
    Index  int32
    Depth  int32
    Parent int32
    Header ir.BlockID
    Blocks []ir.BlockID
    member []bool
}

// Contains reports whether block b belongs to this loop.
func (self *Loop) Contains(b ir.BlockID) bool {
    return self.member[b]
}

func (self *CFG) findLoops() error {
    nb := self.G.NumBlocks()
    for i := range self.LoopIdx { self.LoopIdx[i] = -1 }

    /* find the back edges; a retreating edge whose target does not
     * dominate its source makes the graph irreducible */
    heads := make(map[ir.BlockID][]ir.BlockID)
    for _, b := range self.Order {
        for _, s := range b.Succ {
            if self.Dominates(s, b.ID()) {
                heads[s] = append(heads[s], b.ID())
            } else if self.PostIdx[s] <= self.PostIdx[b.ID()] {
                return utils.ESched(-1, int64(s), "irreducible loop at b%d", s)
            }
        }
    }

    /* deterministic loop numbering: headers in reverse postorder */
    hs := make([]ir.BlockID, 0, len(heads))
    for h := range heads { hs = append(hs, h) }
    sort.Slice(hs, func(i int, j int) bool { return self.PostIdx[hs[i]] < self.PostIdx[hs[j]] })

    /* collect each loop body by walking backwards from the latches */
    for _, h := range hs {
        lp := &Loop {
            Index  : int32(len(self.Loops)),
            Parent : -1,
            Header : h,
            member : make([]bool, nb),
        }
        lp.member[h] = true

        /* blocks that reach a latch without passing the header */
        work := append([]ir.BlockID(nil), heads[h]...)
        for len(work) != 0 {
            v := work[len(work) - 1]
            work = work[:len(work) - 1]
            if !lp.member[v] {
                lp.member[v] = true
                work = append(work, self.G.Block(v).Pred...)
            }
        }

        /* materialize the member list */
        for i := 0; i < nb; i++ {
            if lp.member[i] {
                lp.Blocks = append(lp.Blocks, ir.BlockID(i))
            }
        }
        self.Loops = append(self.Loops, lp)
    }

    /* nesting: the innermost loop of a block is the smallest loop that
     * contains it; a loop's parent is the innermost loop properly
     * containing its header */
    for i := 0; i < nb; i++ {
        best := int32(-1)
        for _, lp := range self.Loops {
            if lp.member[i] && (best == -1 || len(lp.Blocks) < len(self.Loops[best].Blocks)) {
                best = lp.Index
            }
        }
        self.LoopIdx[i] = best
    }
    for _, lp := range self.Loops {
        for _, outer := range self.Loops {
            if outer != lp && outer.member[lp.Header] {
                if lp.Parent == -1 || len(outer.Blocks) < len(self.Loops[lp.Parent].Blocks) {
                    lp.Parent = outer.Index
                }
            }
        }
    }

    /* loop depth per block */
    for _, lp := range self.Loops {
        d := int32(1)
        for p := lp.Parent; p != -1; p = self.Loops[p].Parent { d++ }
        lp.Depth = d
    }
    for i := 0; i < nb; i++ {
        if self.LoopIdx[i] != -1 {
            self.LoopDepth[i] = self.Loops[self.LoopIdx[i]].Depth
        }
    }
    return nil
}

// LoopOf returns the innermost loop containing b, or nil.
func (self *CFG) LoopOf(b ir.BlockID) *Loop {
    if self.LoopIdx[b] == -1 {
        return nil
    } else {
        return self.Loops[self.LoopIdx[b]]
    }
}
