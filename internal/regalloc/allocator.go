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

// Package regalloc assigns machine registers and spill slots to the virtual
// registers of a lowered program. Allocation runs one trace at a time with a
// linear scan over live intervals, locations are reconciled afterwards with
// explicit moves at block boundaries, and the program is rewritten in place
// with phis removed and every operand physical.
package regalloc

import (
    `github.com/cloudwego/anvil/internal/opts`
    `github.com/cloudwego/anvil/internal/utils`
    `github.com/cloudwego/anvil/ir`
    `github.com/cloudwego/anvil/lir`
    `github.com/cloudwego/anvil/target`
)

// Span is one half-open range of program points.
type Span struct {
    From int32
    To   int32
}

// Assignment reports the final binding of one interval, split children
// included.
type Assignment struct {
    Var   int
    Loc   lir.Operand
    Spans []Span
}

// Result is the outcome of allocating one program. The program itself is
// rewritten in place, the result carries the summary tables.
type Result struct {
    Traces    *TraceSet
    Intervals []Assignment
    Slots     [2]int
    Moves     int
    Spills    int
}

// Allocator owns every table of a single allocation run.
type Allocator struct {
    p         *lir.Program
    d         target.Desc
    o         *opts.Options
    ts        *TraceSet
    lv        *_Liveness
    tis       []*_TraceIntervals
    triv      []bool
    bpos      []_Range
    posb      []ir.BlockID
    edits     _Edits
    intervals []*Interval
    slotOf    []lir.Operand
    rematOf   []lir.Operand
    temps     [2]lir.Operand
    slots     [2]int
    moves     int
    spills    int
}

func mkBailout(p Pos, msg string, args ...interface{}) error {
    return utils.EBailout(int64(p), msg, args...)
}

// Allocate assigns locations to every virtual register of p and rewrites it
// in place. The target description supplies the register files and the move
// factory, options select liveness precision and post-checking.
func Allocate(p *lir.Program, d target.Desc, o *opts.Options) (*Result, error) {
    a := &Allocator {
        p       : p,
        d       : d,
        o       : o,
        ts      : BuildTraces(p),
        slotOf  : make([]lir.Operand, p.NumVar()),
        rematOf : make([]lir.Operand, p.NumVar()),
        edits   : _Edits {
            head : make(map[ir.BlockID]*_MoveScheduler),
            tail : make(map[ir.BlockID]*_MoveScheduler),
            gap  : make(map[Pos]*_MoveScheduler),
        },
    }

    a.numberProgram()
    a.findRemats()
    a.lv = computeLiveness(p, o.FastLiveness)
    a.tis = make([]*_TraceIntervals, len(a.ts.Traces))
    a.triv = make([]bool, len(a.ts.Traces))

    /* per-trace allocation; relay traces carry nothing and are skipped */
    for _, t := range a.ts.Traces {
        if t.Trivial(p) {
            a.triv[t.ID] = true
            continue
        }
        a.tis[t.ID] = a.buildIntervals(t)
        if err := a.scan(a.tis[t.ID]); err != nil {
            return nil, err
        }
        if err := a.resolveTrace(t); err != nil {
            return nil, err
        }
    }

    /* cross-trace reconciliation, then materialize everything */
    a.emitSpillStores()
    if err := a.resolveGlobal(); err != nil {
        return nil, err
    }
    if err := a.rewrite(); err != nil {
        return nil, err
    }
    if o.Verify {
        if err := a.verify(); err != nil {
            return nil, err
        }
    }
    return a.result(), nil
}

// numberProgram places the instructions on even program points in trace
// order, leaving the odd gaps for resolution moves. Phis carry the position
// of the first real instruction of their block, they are parallel copies at
// block entry and never occupy a point of their own.
func (self *Allocator) numberProgram() {
    pos := _P_first
    self.bpos = make([]_Range, len(self.p.Blocks))

    for _, t := range self.ts.Traces {
        for _, b := range t.Blocks {
            bb := self.p.Block(b)
            bf := pos
            for _, ins := range bb.Code {
                if ins.Op != lir.OpPhi {
                    ins.Pos = int32(pos)
                    self.posb = append(self.posb, b)
                    pos += 2
                }
            }
            for i, n := 0, bb.NumPhis(); i < n; i++ {
                bb.Code[i].Pos = int32(bf)
            }
            self.bpos[b] = _Range { from: bf, to: pos }
        }
    }
}

/* constants flowing into a variable through a move can be rebuilt anywhere */
func (self *Allocator) findRemats() {
    for _, bb := range self.p.Blocks {
        for _, ins := range bb.Code {
            if ins.Op == lir.OpMove && ins.Out[0].IsVar() && ins.In[0].IsConst() {
                self.rematOf[ins.Out[0].Index()] = ins.In[0]
            }
        }
    }
}

/* the block whose span contains the program point */
func (self *Allocator) blockOf(p Pos) ir.BlockID {
    return self.posb[int((p &^ 1) - _P_first) >> 1]
}

/* the gap trailing a terminator: a move there would run after the jump */
func (self *Allocator) isBlockEnd(p Pos) bool {
    return p.isGap() && self.bpos[self.blockOf(p)].to == p + 1
}

// clampSplit turns a desired split point into a legal one: the nearest gap
// at or before it that does not trail a terminator. Callers treat a result
// at or before the interval start as "no room".
func (self *Allocator) clampSplit(at Pos) Pos {
    sp := at.gapBefore()
    if sp > _P_first && self.isBlockEnd(sp) {
        sp -= 2
    }
    return sp
}

// ensureSlot hands out the canonical spill slot of the interval's variable.
// The slot is allocated on first spill and shared by every split child in
// every trace, so the value has exactly one home in memory.
func (self *Allocator) ensureSlot(it *Interval) lir.Operand {
    r := it.root()
    if r.slot == lir.None {
        if s := self.slotOf[r.vid]; s != lir.None {
            r.slot = s
        } else {
            r.slot = lir.Slot(r.cls, self.slots[r.cls])
            self.slots[r.cls]++
            self.slotOf[r.vid] = r.slot
        }
    }
    return r.slot
}

func (self *Allocator) scratchFor(cls lir.Class) lir.Operand {
    return lir.Reg(cls, self.d.Scratch(cls))
}

// resolverSlot is the per-class temporary used to break move cycles that
// touch the stack. It is allocated once on demand, with a placeholder
// interval on the reserved gap so the final tables account for it.
func (self *Allocator) resolverSlot(cls lir.Class) lir.Operand {
    if self.temps[cls] == lir.None {
        self.temps[cls] = lir.Slot(cls, self.slots[cls])
        self.slots[cls]++
        ph := newInterval(-1, cls)
        ph.loc = self.temps[cls]
        ph.ranges = []_Range {{ from: _P_boot, to: _P_first }}
        self.number(ph)
    }
    return self.temps[cls]
}

func (self *Allocator) emitMove(dst lir.Operand, src lir.Operand) []*lir.Instr {
    cv := int64(0)
    if src.IsConst() {
        cv = self.p.Consts[src.Index()].Val
    }
    self.moves++
    return self.d.EmitMove(dst, src, cv)
}

func (self *Allocator) number(it *Interval) *Interval {
    it.id = int32(len(self.intervals))
    self.intervals = append(self.intervals, it)
    return it
}

func (self *Allocator) scan(ti *_TraceIntervals) error {
    if err := newScanner(self, lir.GP, ti).run(); err != nil {
        return err
    }
    return newScanner(self, lir.FP, ti).run()
}

func (self *Allocator) outLoc(ti *_TraceIntervals, o lir.Operand, pos Pos) (lir.Operand, error) {
    if fam := ti.vars[o.Index()]; fam != nil {
        if it := fam.childAt(pos); it != nil {
            return it.loc, nil
        }
    }
    return lir.None, mkBailout(pos, "no location for the definition of %s", o)
}

func (self *Allocator) inLoc(ti *_TraceIntervals, o lir.Operand, pos Pos) (lir.Operand, error) {
    if fam := ti.vars[o.Index()]; fam != nil {
        if it := fam.childAtUse(pos); it != nil {
            return it.loc, nil
        }
    }
    return lir.None, mkBailout(pos, "no location for the use of %s", o)
}

func (self *Allocator) rewrite() error {
    for _, b := range self.p.Order {
        if err := self.rewriteBlock(self.p.Block(b)); err != nil {
            return err
        }
    }
    return nil
}

// rewriteBlock splices the scheduled moves into their gaps and rewrites
// every operand to its assigned location. Order within the block: entry
// moves, then per instruction the moves of the gap before it, with the edge
// moves of the outgoing boundary right before the terminator.
func (self *Allocator) rewriteBlock(bb *lir.Block) error {
    ti := self.tis[self.ts.Of(bb.ID).ID]
    code := make([]*lir.Instr, 0, len(bb.Code))

    if ms := self.edits.head[bb.ID]; ms != nil {
        code = append(code, ms.schedule()...)
    }
    for _, ins := range bb.Code {
        if ins.Op == lir.OpPhi {
            continue
        }
        if ms := self.edits.gap[Pos(ins.Pos).gapBefore()]; ms != nil {
            code = append(code, ms.schedule()...)
        }
        if ins.Op.IsTerminator() {
            if ms := self.edits.tail[bb.ID]; ms != nil {
                code = append(code, ms.schedule()...)
            }
        }
        out, err := self.rewriteInstr(ti, ins)
        if err != nil {
            return err
        }
        code = append(code, out...)
    }

    bb.Code = code
    return nil
}

func (self *Allocator) rewriteInstr(ti *_TraceIntervals, ins *lir.Instr) ([]*lir.Instr, error) {
    pos := Pos(ins.Pos)

    /* moves re-expand through the target, stack and constant sources come
     * out as whatever the machine can encode directly */
    if ins.Op == lir.OpMove {
        src := ins.In[0]
        dst, err := self.outLoc(ti, ins.Out[0], pos)
        if err != nil {
            return nil, err
        }
        if src.IsVar() {
            if src, err = self.inLoc(ti, src, pos); err != nil {
                return nil, err
            }
        }
        if src == dst || dst.IsConst() {
            return nil, nil
        }
        return self.emitMove(dst, src), nil
    }

    for i, o := range ins.Out {
        if o.IsVar() {
            loc, err := self.outLoc(ti, o, pos)
            if err != nil {
                return nil, err
            }
            ins.Out[i] = loc
        }
    }
    for i, o := range ins.In {
        if o.IsVar() {
            loc, err := self.inLoc(ti, o, pos)
            if err != nil {
                return nil, err
            }
            ins.In[i] = loc
        }
    }
    return []*lir.Instr { ins }, nil
}

func (self *Allocator) result() *Result {
    ret := &Result {
        Traces : self.ts,
        Slots  : self.slots,
        Moves  : self.moves,
        Spills : self.spills,
    }
    for _, it := range self.intervals {
        if it.vid < 0 {
            continue
        }
        as := Assignment { Var: int(it.vid), Loc: it.loc }
        for _, r := range it.ranges {
            as.Spans = append(as.Spans, Span { From: int32(r.from), To: int32(r.to) })
        }
        ret.Intervals = append(ret.Intervals, as)
    }
    return ret
}
