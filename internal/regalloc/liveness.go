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
    `github.com/cloudwego/anvil/ir`
    `github.com/cloudwego/anvil/lir`
)

// _Liveness holds the per-block liveness bitsets over virtual registers,
// solved once for the whole program and consumed per trace by the interval
// builder and by boundary resolution.
//
//     out(b) = ∪ in(s) for s in succ(b), plus phi inputs flowing along b->s
//     in(b)  = gen(b) ∪ (out(b) − kill(b))
type _Liveness struct {
    p    *lir.Program
    gen  []_BitSet
    kill []_BitSet
    in   []_BitSet
    out  []_BitSet
}

func newLiveness(p *lir.Program) *_Liveness {
    n := len(p.Blocks)
    nv := p.NumVar()
    lv := &_Liveness {
        p    : p,
        gen  : make([]_BitSet, n),
        kill : make([]_BitSet, n),
        in   : make([]_BitSet, n),
        out  : make([]_BitSet, n),
    }
    for i := 0; i < n; i++ {
        lv.gen[i] = newBitSet(nv)
        lv.kill[i] = newBitSet(nv)
        lv.in[i] = newBitSet(nv)
        lv.out[i] = newBitSet(nv)
    }
    lv.buildGenKill()
    return lv
}

/* upward-exposed reads and definitions per block; phi inputs are read at the
 * end of the matching predecessor, so they never show up in gen */
func (self *_Liveness) buildGenKill() {
    for _, bb := range self.p.Blocks {
        gen := self.gen[bb.ID]
        kill := self.kill[bb.ID]
        for _, ins := range bb.Code {
            if ins.Op != lir.OpPhi {
                for _, o := range ins.In {
                    if o.IsVar() && !kill.has(o.Index()) {
                        gen.add(o.Index())
                    }
                }
            }
            for _, o := range ins.Out {
                if o.IsVar() {
                    kill.add(o.Index())
                }
            }
        }
    }
}

/* phi inputs arriving over the edge pred -> bb join the live-out of pred */
func (self *_Liveness) phiUses(dst _BitSet, bb *lir.Block, pred ir.BlockID) {
    for i, n := 0, bb.NumPhis(); i < n; i++ {
        for j, pb := range bb.Pred {
            if pb == pred {
                if o := bb.Code[i].In[j]; o.IsVar() {
                    dst.add(o.Index())
                }
            }
        }
    }
}

/* one backward pass in reverse layout order, reporting whether anything grew */
func (self *_Liveness) sweep(tmp _BitSet) bool {
    ret := false
    ord := self.p.Order
    for i := len(ord) - 1; i >= 0; i-- {
        b := ord[i]
        bb := self.p.Block(b)
        tmp.clear()
        for _, s := range bb.Succ {
            tmp.union(self.in[s])
            self.phiUses(tmp, self.p.Block(s), b)
        }
        if !tmp.equals(self.out[b]) {
            ret = true
            self.out[b].copyFrom(tmp)
        }
        self.in[b].unionDiff(self.gen[b], self.out[b], self.kill[b])
    }
    return ret
}

// solve iterates the backward data flow to a fixed point. The first pass
// sees empty sets across back edges, loops settle on later rounds.
func (self *_Liveness) solve() {
    tmp := newBitSet(self.p.NumVar())
    for self.sweep(tmp) {
    }
}

// solveFast runs a single pass, then widens everything live at a loop header
// across the whole loop body. Every cycle of a reducible graph passes
// through its header, so the result stays a superset of true liveness, just
// wider inside loops.
func (self *_Liveness) solveFast() {
    tmp := newBitSet(self.p.NumVar())
    self.sweep(tmp)
    for _, lp := range self.p.Loops {
        hd := self.in[lp.Header]
        for _, b := range lp.Blocks {
            self.in[b].union(hd)
            self.out[b].union(hd)
        }
    }
}

func computeLiveness(p *lir.Program, fast bool) *_Liveness {
    lv := newLiveness(p)
    if fast {
        lv.solveFast()
    } else {
        lv.solve()
    }
    return lv
}

// _TraceIntervals is the interval table of one trace: a family root per
// virtual register the trace touches, plus fixed intervals for physical
// registers pinned inside it.
type _TraceIntervals struct {
    list  []*Interval
    vars  []*Interval
    fixed [2][]*Interval
}

func (self *_TraceIntervals) at(p *lir.Program, v int) *Interval {
    if self.vars[v] == nil {
        self.vars[v] = newInterval(int32(v), p.ClassOf(v))
    }
    return self.vars[v]
}

func (self *_TraceIntervals) fixedAt(cls lir.Class, r int) *Interval {
    if self.fixed[cls][r] == nil {
        self.fixed[cls][r] = newFixed(cls, r)
    }
    return self.fixed[cls][r]
}

/* pin every caller-saved register of the class for the duration of a call */
func (self *Allocator) clobber(ti *_TraceIntervals, cls lir.Class, pos Pos) {
    mask := self.d.CallerSaved(cls)
    for r := 0; mask != 0; r++ {
        if mask & 1 != 0 {
            ti.fixedAt(cls, r).prependRange(pos, pos + 1)
        }
        mask >>= 1
    }
}

// buildIntervals constructs the live intervals of one trace by walking its
// blocks backwards: live-out variables span the whole block, uses extend
// ranges up to their position, definitions trim them down. Phis define at
// the block head; their inputs were accounted as live-out of the matching
// predecessor already.
func (self *Allocator) buildIntervals(t *Trace) *_TraceIntervals {
    ti := &_TraceIntervals { vars: make([]*Interval, self.p.NumVar()) }
    ti.fixed[lir.GP] = make([]*Interval, self.d.NumRegs(lir.GP))
    ti.fixed[lir.FP] = make([]*Interval, self.d.NumRegs(lir.FP))

    for i := len(t.Blocks) - 1; i >= 0; i-- {
        b := t.Blocks[i]
        bb := self.p.Block(b)
        bf := self.bpos[b].from
        bt := self.bpos[b].to

        /* live-out variables stay live through the block until a def says otherwise */
        self.lv.out[b].forEach(func(v int) {
            ti.at(self.p, v).prependRange(bf, bt)
        })

        for j := len(bb.Code) - 1; j >= 0; j-- {
            ins := bb.Code[j]
            pos := Pos(ins.Pos)

            /* calls pin the caller-saved registers at their position */
            if ins.Op.IsCall() {
                self.clobber(ti, lir.GP, pos)
                self.clobber(ti, lir.FP, pos)
            }

            /* definitions */
            for _, o := range ins.Out {
                if o.IsVar() {
                    it := ti.at(self.p, o.Index())
                    if ins.Op == lir.OpPhi {
                        it.setFrom(bf)
                        it.addUse(bf, ins.Op.OutKinds(), true)
                    } else {
                        it.setFrom(pos)
                        it.addUse(pos, ins.Op.OutKinds(), true)
                    }
                }
            }

            /* uses; inputs still read after the output write stretch one
             * position further so they never share the output register, and
             * inputs of the block's first instruction stay alive across the
             * entry boundary so resolution can read their location there */
            if ins.Op != lir.OpPhi {
                alive := ins.Op.AliveIn()
                for k, o := range ins.In {
                    if o.IsVar() {
                        it := ti.at(self.p, o.Index())
                        if alive & (1 << k) != 0 || pos == bf {
                            it.prependRange(bf, pos + 1)
                        } else {
                            it.prependRange(bf, pos)
                        }
                        it.addUse(pos, ins.Op.InKinds(), false)
                    }
                }
            }

            /* moves between variables hint both sides to one register */
            if ins.Op == lir.OpMove && ins.Out[0].IsVar() && ins.In[0].IsVar() {
                ti.at(self.p, ins.Out[0].Index()).hint = ti.at(self.p, ins.In[0].Index())
            }
        }
    }

    /* collect and number everything the trace actually touches */
    for v, it := range ti.vars {
        if it != nil && !it.empty() {
            it.remat = self.rematOf[v]
            it.slot = self.slotOf[v]
            self.number(it)
            ti.list = append(ti.list, it)
        }
    }
    for c := lir.GP; c <= lir.FP; c++ {
        for _, it := range ti.fixed[c] {
            if it != nil {
                self.number(it)
            }
        }
    }
    return ti
}
