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
    `github.com/cloudwego/anvil/internal/cfg`
    `github.com/cloudwego/anvil/internal/utils`
    `github.com/cloudwego/anvil/ir`
)

// Strategy decides which block every floating node lands in and how the
// nodes of one block are ordered afterwards.
type Strategy interface {
    Name() string
    ComputeBlock(st *state, n *ir.Node) (ir.BlockID, error)
    SortBlock(st *state, bb *ir.Block, nodes []ir.NodeID) []ir.NodeID
}

type state struct {
    g     *ir.Graph
    c     *cfg.CFG
    mem   MemMode
    strat Strategy
    early []ir.BlockID
    final []ir.BlockID
    onE   []bool
    onL   []bool
    kills *killCache
}

func newState(g *ir.Graph, c *cfg.CFG, strat Strategy, mem MemMode) *state {
    nn := g.NumNodes()
    st := &state {
        g     : g,
        c     : c,
        mem   : mem,
        strat : strat,
        early : make([]ir.BlockID, nn),
        final : make([]ir.BlockID, nn),
        onE   : make([]bool, nn),
        onL   : make([]bool, nn),
        kills : newKillCache(g),
    }
    for i := 0; i < nn; i++ {
        st.early[i] = ir.NoBlock
        st.final[i] = ir.NoBlock
    }
    return st
}

/* every edge the node must wait for: value inputs plus the memory input */
func (self *state) inputs(n *ir.Node) []ir.NodeID {
    if n.Mem == ir.NoNode {
        return n.In
    }
    r := make([]ir.NodeID, 0, len(n.In) + 1)
    r = append(r, n.In...)
    r = append(r, n.Mem)
    return r
}

// earliest returns the earliest block dominated by the blocks of all of the
// node's inputs: the least upper bound of the input blocks in the dominator
// tree.
func (self *state) earliest(n *ir.Node) (ir.BlockID, error) {
    if b := self.early[n.ID()]; b != ir.NoBlock {
        return b, nil
    }
    if n.Op().IsFixed() {
        self.early[n.ID()] = n.Block()
        return n.Block(), nil
    }
    if self.onE[n.ID()] {
        return ir.NoBlock, utils.ESched(int64(n.ID()), -1, "cyclic data dependency")
    }
    self.onE[n.ID()] = true

    /* take the deepest input block, walking the candidate up the dominator
     * chain is never needed: two input blocks are either ordered by
     * dominance or the graph is malformed */
    cand := self.c.Root.ID()
    for _, v := range self.inputs(n) {
        e, err := self.earliest(self.g.Node(v))
        if err != nil {
            return ir.NoBlock, err
        }
        if e == cand || self.c.Dominates(e, cand) {
            continue
        }
        if !self.c.Dominates(cand, e) {
            return ir.NoBlock, utils.ESched(int64(n.ID()), int64(e), "inputs of %s live in incomparable blocks", n.ID())
        }
        cand = e
    }

    self.onE[n.ID()] = false
    self.early[n.ID()] = cand
    return cand, nil
}

// useBlocks collects the blocks where u consumes n: a phi consumes its
// inputs at the end of the matching predecessor, everything else consumes
// where it is itself scheduled.
func (self *state) useBlocks(u *ir.Node, n *ir.Node, out []ir.BlockID) ([]ir.BlockID, error) {
    if u.Op() == ir.OpPhi {
        bb := self.g.Block(u.Block())
        for i, v := range u.In {
            if v == n.ID() {
                out = append(out, bb.Pred[i])
            }
        }
        return out, nil
    }
    if u.Op().IsFixed() {
        return append(out, u.Block()), nil
    }
    b, err := self.strat.ComputeBlock(self, u)
    if err != nil {
        return nil, err
    }
    return append(out, b), nil
}

type Earliest struct{}

func (self Earliest) Name() string {
    return "earliest"
}

func (self Earliest) ComputeBlock(st *state, n *ir.Node) (ir.BlockID, error) {
    if b := st.final[n.ID()]; b != ir.NoBlock {
        return b, nil
    }
    b, err := st.earliest(n)
    if err != nil {
        return ir.NoBlock, err
    }
    st.final[n.ID()] = b
    return b, nil
}

type Latest struct {
    OutOfLoops bool
}

func (self Latest) Name() string {
    if self.OutOfLoops {
        return "latest-out-of-loops"
    } else {
        return "latest"
    }
}

func (self Latest) ComputeBlock(st *state, n *ir.Node) (ir.BlockID, error) {
    if b := st.final[n.ID()]; b != ir.NoBlock {
        return b, nil
    }
    if n.Op().IsFixed() {
        st.final[n.ID()] = n.Block()
        return n.Block(), nil
    }
    if st.onL[n.ID()] {
        return ir.NoBlock, utils.ESched(int64(n.ID()), -1, "cyclic data dependency")
    }
    st.onL[n.ID()] = true

    /* common dominator of every usage block */
    var err error
    var ubs []ir.BlockID
    for _, u := range n.Uses() {
        if ubs, err = st.useBlocks(st.g.Node(u), n, ubs); err != nil {
            return ir.NoBlock, err
        }
    }

    /* the earliest block bounds the result in both directions */
    e, err := st.earliest(n)
    if err != nil {
        return ir.NoBlock, err
    }

    /* nodes without usages are dead, leave them as early as possible */
    lub := ir.NoBlock
    for _, ub := range ubs {
        if lub == ir.NoBlock {
            lub = ub
        } else {
            lub = st.c.CommonDominator(lub, ub)
        }
    }
    if lub == ir.NoBlock {
        lub = e
    }

    /* a valid schedule needs earliest(n) to dominate latest(n) */
    if !st.c.Dominates(e, lub) {
        return ir.NoBlock, utils.ESched(int64(n.ID()), int64(lub), "latest block of %s escapes its earliest block", n.ID())
    }

    /* memory reads are pinned by the aliasing walk, everything else may
     * hoist out of loops */
    if n.Op() == ir.OpRead && st.mem == MemOptimal {
        if lub, err = st.optimalRead(n, e, lub); err != nil {
            return ir.NoBlock, err
        }
    } else if self.OutOfLoops {
        lub = st.hoist(e, lub)
    }

    st.onL[n.ID()] = false
    st.final[n.ID()] = lub
    return lub, nil
}

// hoist walks the dominator chain from the latest block up to the earliest
// block and keeps the deepest block with the shallowest loop nesting.
func (self *state) hoist(e ir.BlockID, lub ir.BlockID) ir.BlockID {
    best := lub
    cur := lub
    for cur != e {
        cur = self.c.IDom(cur)
        if self.c.LoopDepth[cur] < self.c.LoopDepth[best] {
            best = cur
        }
    }
    return best
}
