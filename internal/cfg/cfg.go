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

package cfg

import (
    `github.com/cloudwego/anvil/internal/utils`
    `github.com/cloudwego/anvil/ir`
)

// CFG overlays dominance and loop structure on the block skeleton of a
// graph. All tables are dense, indexed by block id.
type CFG struct {
    G           *ir.Graph
    Root        *ir.Block
    Order       []*ir.Block      // reverse postorder
    PostIdx     []int32          // reverse postorder index, -1 if unreachable
    Depth       []int32          // dominator tree depth
    DominatedBy []ir.BlockID     // immediate dominator
    DominatorOf [][]ir.BlockID   // dominator tree children
    LoopDepth   []int32
    LoopIdx     []int32          // innermost loop, -1 if not in a loop
    Loops       []*Loop
    domPre      []int32
    domPost     []int32
}

// Build freezes the graph and computes reverse postorder, the dominator
// tree and the loop nest. Unreachable blocks and irreducible loops are
// rejected.
func Build(g *ir.Graph) (*CFG, error) {
    if err := g.Freeze(); err != nil {
        return nil, err
    }

    /* set up the dense tables */
    nb := g.NumBlocks()
    p := &CFG {
        G           : g,
        Root        : g.Entry(),
        PostIdx     : make([]int32, nb),
        Depth       : make([]int32, nb),
        DominatedBy : make([]ir.BlockID, nb),
        DominatorOf : make([][]ir.BlockID, nb),
        LoopDepth   : make([]int32, nb),
        LoopIdx     : make([]int32, nb),
        domPre      : make([]int32, nb),
        domPost     : make([]int32, nb),
    }

    /* number the blocks in reverse postorder */
    if err := p.postorder(); err != nil {
        return nil, err
    }

    /* dominators, then loops on top of them */
    p.dominators()
    if err := p.findLoops(); err != nil {
        return nil, err
    }
    return p, nil
}

func (self *CFG) postorder() error {
    nb := self.G.NumBlocks()
    vis := make([]bool, nb)
    post := make([]*ir.Block, 0, nb)

    /* iterative DFS, successors pushed in reverse so the
     * first successor is visited first */
    type frame struct {
        b *ir.Block
        i int
    }
    stk := []frame {{ b: self.Root }}
    vis[self.Root.ID()] = true

    for len(stk) != 0 {
        f := &stk[len(stk) - 1]
        if f.i < len(f.b.Succ) {
            s := f.b.Succ[f.i]
            f.i++
            if !vis[s] {
                vis[s] = true
                stk = append(stk, frame { b: self.G.Block(s) })
            }
        } else {
            post = append(post, f.b)
            stk = stk[:len(stk) - 1]
        }
    }

    /* every block must be reachable from the entry */
    for i := 0; i < nb; i++ {
        if !vis[i] {
            return utils.ESched(-1, int64(i), "unreachable block b%d", i)
        }
    }

    /* reverse into RPO */
    self.Order = make([]*ir.Block, len(post))
    for i, b := range post {
        j := len(post) - 1 - i
        self.Order[j] = b
        self.PostIdx[b.ID()] = int32(j)
    }
    return nil
}

/* number the dominator tree for O(1) dominance queries */
func (self *CFG) numberDomTree(b ir.BlockID, clock *int32) {
    self.domPre[b] = *clock
    *clock++
    for _, c := range self.DominatorOf[b] {
        self.Depth[c] = self.Depth[b] + 1
        self.numberDomTree(c, clock)
    }
    self.domPost[b] = *clock
    *clock++
}

// Dominates reports whether a dominates b. A block dominates itself.
func (self *CFG) Dominates(a ir.BlockID, b ir.BlockID) bool {
    return self.domPre[a] <= self.domPre[b] && self.domPost[b] <= self.domPost[a]
}

// CommonDominator returns the closest block dominating both a and b.
func (self *CFG) CommonDominator(a ir.BlockID, b ir.BlockID) ir.BlockID {
    for self.Depth[a] > self.Depth[b] {
        a = self.DominatedBy[a]
    }
    for self.Depth[b] > self.Depth[a] {
        b = self.DominatedBy[b]
    }
    for a != b {
        a = self.DominatedBy[a]
        b = self.DominatedBy[b]
    }
    return a
}

// IDom returns the immediate dominator of b, or b itself for the root.
func (self *CFG) IDom(b ir.BlockID) ir.BlockID {
    return self.DominatedBy[b]
}
