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
    `sort`

    `github.com/cloudwego/anvil/internal/cfg`
    `github.com/cloudwego/anvil/ir`
)

// MemMode selects how floating reads are kept from crossing checkpoints
// that kill their location.
type MemMode uint8

const (
    MemOff MemMode = iota
    MemConservative
    MemOptimal
)

func (self MemMode) String() string {
    switch self {
        case MemOff          : return "off"
        case MemConservative : return "conservative"
        case MemOptimal      : return "optimal"
        default              : return "???"
    }
}

type _LocSet struct {
    any  bool
    locs map[ir.Location]bool
}

func newLocSet() *_LocSet {
    return &_LocSet { locs: make(map[ir.Location]bool) }
}

func (self *_LocSet) observe(n *ir.Node) {
    if n.Op() == ir.OpWrite {
        self.mark(n.Loc)
        return
    }
    for _, l := range n.Kills {
        self.mark(l)
    }
}

func (self *_LocSet) mark(l ir.Location) {
    if l == ir.LocAny {
        self.any = true
    } else {
        self.locs[l] = true
    }
}

func (self *_LocSet) kills(l ir.Location) bool {
    if self.any {
        return true
    } else if l == ir.LocAny {
        return len(self.locs) != 0
    } else {
        return self.locs[l]
    }
}

// killCache memoizes the set of locations killed per block and per loop.
// The tail query is recomputed on every call: its boundary node differs per
// read, caching it buys nothing.
type killCache struct {
    g      *ir.Graph
    blocks []*_LocSet
    loops  []*_LocSet
}

func newKillCache(g *ir.Graph) *killCache {
    return &killCache {
        g      : g,
        blocks : make([]*_LocSet, g.NumBlocks()),
    }
}

func (self *killCache) block(b ir.BlockID) *_LocSet {
    if s := self.blocks[b]; s != nil {
        return s
    }
    s := newLocSet()
    for _, id := range self.g.Block(b).Nodes {
        if n := self.g.Node(id); n.Op().IsCheckpoint() {
            s.observe(n)
        }
    }
    self.blocks[b] = s
    return s
}

func (self *killCache) loop(c *cfg.CFG, lp *cfg.Loop) *_LocSet {
    if self.loops == nil {
        self.loops = make([]*_LocSet, len(c.Loops))
    }
    if s := self.loops[lp.Index]; s != nil {
        return s
    }
    s := newLocSet()
    for _, b := range lp.Blocks {
        bs := self.block(b)
        s.any = s.any || bs.any
        for l := range bs.locs {
            s.locs[l] = true
        }
    }
    self.loops[lp.Index] = s
    return s
}

// tail collects the locations killed in block b strictly after node w.
func (self *killCache) tail(b ir.BlockID, w *ir.Node) *_LocSet {
    s := newLocSet()
    past := false
    for _, id := range self.g.Block(b).Nodes {
        if id == w.ID() {
            past = true
        } else if n := self.g.Node(id); past && n.Op().IsCheckpoint() {
            s.observe(n)
        }
    }
    return s
}

// conservative runs the forward aliasing pass: every read becomes active at
// its earliest block, stays active until a checkpoint kills its location,
// and gains an ordering edge to that checkpoint. Merges intersect the
// incoming states, loop exits drop reads killed anywhere inside the loop
// being left.
func (self *state) conservative() error {
    nb := self.g.NumBlocks()
    nn := self.g.NumNodes()
    out := make([][]ir.NodeID, nb)
    done := make([]bool, nb)
    head := make([][]ir.NodeID, nb)
    wake := make([][]ir.NodeID, nn)

    /* activation point per read: the earliest block, or right after the
     * read's own write when both land in the same block */
    for i := 0; i < nn; i++ {
        n := self.g.Node(ir.NodeID(i))
        if n == nil || n.Op() != ir.OpRead {
            continue
        }
        e, err := self.earliest(n)
        if err != nil {
            return err
        }
        if w := self.g.Node(n.Mem); w.Block() == e {
            wake[w.ID()] = append(wake[w.ID()], n.ID())
        } else {
            head[e] = append(head[e], n.ID())
        }
    }

    /* forward sweep in reverse postorder, back edges are never ready and
     * simply do not contribute to the merge */
    for _, bb := range self.c.Order {
        s := self.mergeActive(bb, out, done)
        s = mergeSorted(s, head[bb.ID()])
        for _, id := range bb.Nodes {
            if n := self.g.Node(id); n.Op().IsCheckpoint() {
                s = self.orderKilled(s, n)
            }
            if pend := wake[id]; pend != nil {
                s = mergeSorted(s, pend)
            }
        }
        out[bb.ID()] = s
        done[bb.ID()] = true
    }
    return nil
}

// mergeActive intersects the out states of all processed predecessors.
// Crossing a loop exit edge removes every read whose location is killed
// somewhere inside the exited loop: those already carry ordering edges
// that pin them inside or above the loop.
func (self *state) mergeActive(bb *ir.Block, out [][]ir.NodeID, done []bool) []ir.NodeID {
    var s []ir.NodeID
    first := true
    for _, p := range bb.Pred {
        if !done[p] {
            continue
        }
        in := self.filterExits(out[p], p, bb.ID())
        if first {
            s = append([]ir.NodeID(nil), in...)
            first = false
        } else {
            s = intersectSorted(s, in)
        }
    }
    return s
}

func (self *state) filterExits(s []ir.NodeID, from ir.BlockID, to ir.BlockID) []ir.NodeID {
    lp := self.c.LoopOf(from)
    if lp == nil || lp.Contains(to) {
        return s
    }
    r := s[:0:0]
    for _, id := range s {
        killed := false
        for l := lp; l != nil && !l.Contains(to); l = self.parentLoop(l) {
            if self.kills.loop(self.c, l).kills(self.g.Node(id).Loc) {
                killed = true
                break
            }
        }
        if !killed {
            r = append(r, id)
        }
    }
    return r
}

func (self *state) parentLoop(l *cfg.Loop) *cfg.Loop {
    if l.Parent < 0 {
        return nil
    }
    return self.c.Loops[l.Parent]
}

// orderKilled adds an ordering edge from every active read the checkpoint
// kills, and deactivates those reads.
func (self *state) orderKilled(s []ir.NodeID, n *ir.Node) []ir.NodeID {
    r := s[:0:0]
    for _, id := range s {
        if rd := self.g.Node(id); n.KillsLoc(rd.Loc) {
            self.g.AddOrdering(rd, n)
        } else {
            r = append(r, id)
        }
    }
    return r
}

func mergeSorted(a []ir.NodeID, b []ir.NodeID) []ir.NodeID {
    if len(b) == 0 {
        return a
    }
    r := append(a, b...)
    sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
    return r
}

func intersectSorted(a []ir.NodeID, b []ir.NodeID) []ir.NodeID {
    i := 0
    j := 0
    r := a[:0]
    for i < len(a) && j < len(b) {
        switch {
            case a[i] < b[j] : i++
            case a[i] > b[j] : j++
            default          : r = append(r, a[i]); i++; j++
        }
    }
    return r
}
