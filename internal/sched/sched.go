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

// Package sched assigns every floating node of a dependency graph to a
// basic block and fixes the order of nodes inside each block. Block
// assignment follows a pluggable strategy, memory reads are additionally
// constrained so they never cross a checkpoint that kills their location.
package sched

import (
    `github.com/cloudwego/anvil/internal/cfg`
    `github.com/cloudwego/anvil/internal/utils`
    `github.com/cloudwego/anvil/ir`
)

// Schedule is the result of a scheduling run: a block per node and a total
// order of nodes per block. Terminators are always last in their block,
// params and phis form a contiguous head section.
type Schedule struct {
    BlockOf []ir.BlockID
    Order   [][]ir.NodeID
}

// Run schedules every node of g. The graph is frozen by the CFG build, the
// only mutation performed here is adding ordering edges for memory reads.
func Run(g *ir.Graph, c *cfg.CFG, strat Strategy, mem MemMode) (*Schedule, error) {
    st := newState(g, c, strat, mem)

    /* the aliasing walk needs a latest-style schedule to sink reads from,
     * under the earliest strategy it degrades to the conservative pass */
    if mem == MemOptimal {
        if _, ok := strat.(Latest); !ok {
            st.mem = MemConservative
        }
    }
    if st.mem == MemConservative {
        if err := st.conservative(); err != nil {
            return nil, err
        }
    }

    /* pick a block for every node */
    nn := g.NumNodes()
    for i := 0; i < nn; i++ {
        n := g.Node(ir.NodeID(i))
        if n == nil {
            continue
        }
        if _, err := strat.ComputeBlock(st, n); err != nil {
            return nil, err
        }
    }

    /* group floating nodes by their block, ascending id */
    floats := make([][]ir.NodeID, g.NumBlocks())
    for i := 0; i < nn; i++ {
        n := g.Node(ir.NodeID(i))
        if n == nil || n.Op().IsFixed() {
            continue
        }
        floats[st.final[i]] = append(floats[st.final[i]], ir.NodeID(i))
    }

    /* order every block */
    ord := make([][]ir.NodeID, g.NumBlocks())
    for _, bb := range c.Order {
        ord[bb.ID()] = strat.SortBlock(st, bb, floats[bb.ID()])
    }

    ret := &Schedule {
        Order   : ord,
        BlockOf : st.final,
    }
    return ret, ret.validate(g, c)
}

func (self *state) blockOf(n *ir.Node) ir.BlockID {
    if n.Op().IsFixed() {
        return n.Block()
    }
    return self.final[n.ID()]
}

func headSection(g *ir.Graph, bb *ir.Block) int {
    i := 0
    for i < len(bb.Nodes) {
        if op := g.Node(bb.Nodes[i]).Op(); op != ir.OpParam && op != ir.OpPhi {
            break
        }
        i++
    }
    return i
}

func (self Latest) SortBlock(st *state, bb *ir.Block, floats []ir.NodeID) []ir.NodeID {
    return st.orderForward(bb, floats)
}

func (self Earliest) SortBlock(st *state, bb *ir.Block, floats []ir.NodeID) []ir.NodeID {
    return st.orderBackward(bb, floats)
}

// orderForward emits nodes in pinned program order, recursing into the
// same-block inputs of every node first. Floating nodes end up right before
// their first user, which is the latest position they may take.
func (self *state) orderForward(bb *ir.Block, floats []ir.NodeID) []ir.NodeID {
    nb := bb.ID()
    out := make([]ir.NodeID, 0, len(bb.Nodes) + len(floats))
    placed := make(map[ir.NodeID]bool, len(bb.Nodes) + len(floats))

    head := headSection(self.g, bb)
    for _, id := range bb.Nodes[:head] {
        placed[id] = true
        out = append(out, id)
    }

    var visit func(id ir.NodeID)
    visit = func(id ir.NodeID) {
        n := self.g.Node(id)
        if placed[id] || self.blockOf(n) != nb {
            return
        }
        placed[id] = true
        for _, v := range self.inputs(n) {
            visit(v)
        }
        for _, v := range n.Ord {
            visit(v)
        }
        out = append(out, id)
    }

    /* pinned nodes in program order, leftover floating nodes by ascending
     * id, the terminator strictly last */
    last := len(bb.Nodes) - 1
    for _, id := range bb.Nodes[head:last] {
        visit(id)
    }
    for _, id := range floats {
        visit(id)
    }
    visit(bb.Nodes[last])
    return out
}

// orderBackward walks usages before definitions starting from the
// terminator, then reverses the list. Floating nodes end up right after
// their last same-block input, which is the earliest position they may
// take.
func (self *state) orderBackward(bb *ir.Block, floats []ir.NodeID) []ir.NodeID {
    nb := bb.ID()
    out := make([]ir.NodeID, 0, len(bb.Nodes) + len(floats))
    raw := make([]ir.NodeID, 0, len(bb.Nodes) + len(floats))
    placed := make(map[ir.NodeID]bool, len(bb.Nodes) + len(floats))

    head := headSection(self.g, bb)
    for _, id := range bb.Nodes[:head] {
        placed[id] = true
        out = append(out, id)
    }

    var visit func(id ir.NodeID)
    visit = func(id ir.NodeID) {
        n := self.g.Node(id)
        if placed[id] || self.blockOf(n) != nb {
            return
        }
        placed[id] = true
        for _, u := range n.Uses() {
            visit(u)
        }
        raw = append(raw, id)
    }

    for i := len(bb.Nodes) - 1; i >= head; i-- {
        visit(bb.Nodes[i])
    }
    for i := len(floats) - 1; i >= 0; i-- {
        visit(floats[i])
    }

    for i := len(raw) - 1; i >= 0; i-- {
        out = append(out, raw[i])
    }
    return out
}

// validate checks the schedule is executable: every input of a node is
// defined in a dominating block or earlier in the same block, phi inputs
// are available at the end of the matching predecessor.
func (self *Schedule) validate(g *ir.Graph, c *cfg.CFG) error {
    nn := g.NumNodes()
    pos := make([]int32, nn)

    for i := 0; i < nn; i++ {
        pos[i] = -1
    }
    for _, bb := range c.Order {
        for i, id := range self.Order[bb.ID()] {
            pos[id] = int32(i)
        }
    }
    for i := 0; i < nn; i++ {
        if g.Node(ir.NodeID(i)) != nil && pos[i] < 0 {
            return utils.ESched(int64(i), -1, "node was never placed")
        }
    }

    for _, bb := range c.Order {
        for _, id := range self.Order[bb.ID()] {
            n := g.Node(id)
            if n.Op() == ir.OpPhi {
                for j, v := range n.In {
                    if vb := self.BlockOf[v]; vb != bb.Pred[j] && !c.Dominates(vb, bb.Pred[j]) {
                        return utils.ESched(int64(id), int64(bb.ID()), "phi input %s does not reach predecessor %s", v, bb.Pred[j])
                    }
                }
                continue
            }
            if err := self.checkInputs(c, bb.ID(), n, pos, n.In); err != nil {
                return err
            }
            if err := self.checkInputs(c, bb.ID(), n, pos, n.Ord); err != nil {
                return err
            }
            if n.Mem != ir.NoNode {
                if err := self.checkInputs(c, bb.ID(), n, pos, []ir.NodeID { n.Mem }); err != nil {
                    return err
                }
            }
        }
    }
    return nil
}

func (self *Schedule) checkInputs(c *cfg.CFG, b ir.BlockID, n *ir.Node, pos []int32, in []ir.NodeID) error {
    for _, v := range in {
        vb := self.BlockOf[v]
        if vb == b {
            if pos[v] >= pos[n.ID()] {
                return utils.ESched(int64(n.ID()), int64(b), "input %s is placed after its user", v)
            }
        } else if !c.Dominates(vb, b) {
            return utils.ESched(int64(n.ID()), int64(b), "input %s does not dominate its user", v)
        }
    }
    return nil
}
