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
    `strings`

    `github.com/cloudwego/anvil/ir`
    `github.com/cloudwego/anvil/lir`
)

// Trace is a maximal linear chain of blocks allocated as one unit. Traces
// partition the blocks of a program exactly once.
type Trace struct {
    ID     int
    Blocks []ir.BlockID
}

// Trivial reports whether the trace is a pure relay: a single block holding
// nothing but an unconditional jump, with a unique predecessor. Such traces
// pass live values through unchanged, so allocation skips them entirely and
// boundary resolution reads locations from the predecessor instead.
func (self *Trace) Trivial(p *lir.Program) bool {
    if len(self.Blocks) != 1 {
        return false
    }
    bb := p.Block(self.Blocks[0])
    return len(bb.Pred) == 1 && len(bb.Code) == 1 && bb.Code[0].Op == lir.OpJump
}

func (self *Trace) String() string {
    bs := make([]string, 0, len(self.Blocks))
    for _, b := range self.Blocks {
        bs = append(bs, b.String())
    }
    return fmt.Sprintf("T%d{%s}", self.ID, strings.Join(bs, " "))
}

// TraceSet is the trace partition of one program plus the lookup tables used
// by boundary resolution.
type TraceSet struct {
    Traces []*Trace
    of     []int32
    at     []int32
}

// Of returns the trace containing block b.
func (self *TraceSet) Of(b ir.BlockID) *Trace {
    return self.Traces[self.of[b]]
}

// At returns the index of block b within its trace.
func (self *TraceSet) At(b ir.BlockID) int {
    return int(self.at[b])
}

// Adjacent reports whether the edge a -> b stays inside one trace, with b
// directly following a. Such edges are resolved during per-trace allocation,
// everything else waits for the global pass.
func (self *TraceSet) Adjacent(a ir.BlockID, b ir.BlockID) bool {
    return self.of[a] == self.of[b] && self.at[b] == self.at[a] + 1
}

/* successor eligible to extend the current trace */
func (self *TraceSet) extends(p *lir.Program, from ir.BlockID, to ir.BlockID) bool {
    if self.of[to] >= 0 {
        return false
    }
    bb := p.Block(to)
    if len(bb.Pred) == 1 {
        return bb.Pred[0] == from
    }
    for _, pb := range bb.Pred {
        if self.of[pb] < 0 {
            return false
        }
    }
    return true
}

func (self *TraceSet) pick(p *lir.Program, from ir.BlockID) int {
    ret := -1
    for _, s := range p.Block(from).Succ {
        if self.extends(p, from, s) && (ret < 0 || p.Depth[s] > p.Depth[ir.BlockID(ret)]) {
            ret = int(s)
        }
    }
    return ret
}

// BuildTraces partitions the blocks of p, given in reverse postorder, into
// traces. A trace starts at the first block not yet assigned and keeps
// extending through a successor while that successor is unassigned and
// either the current block is its only predecessor or all of its
// predecessors are assigned already. Among eligible successors the deeper
// one wins, so loop bodies stay on one trace.
func BuildTraces(p *lir.Program) *TraceSet {
    n := len(p.Blocks)
    ts := &TraceSet { of: make([]int32, n), at: make([]int32, n) }

    /* unassigned marker */
    for i := 0; i < n; i++ {
        ts.of[i] = -1
        ts.at[i] = -1
    }

    /* grow one trace from every unassigned block in layout order */
    for _, b := range p.Order {
        if ts.of[b] >= 0 {
            continue
        }
        t := &Trace { ID: len(ts.Traces) }
        for v := b; ; {
            ts.of[v] = int32(t.ID)
            ts.at[v] = int32(len(t.Blocks))
            t.Blocks = append(t.Blocks, v)
            if nx := ts.pick(p, v); nx < 0 {
                break
            } else {
                v = ir.BlockID(nx)
            }
        }
        ts.Traces = append(ts.Traces, t)
    }
    return ts
}
