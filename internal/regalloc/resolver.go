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

// _Move is one pending location transfer.
type _Move struct {
    src lir.Operand
    dst lir.Operand
}

// _MoveScheduler orders a batch of parallel moves so that no pending source
// is overwritten before it was read. Cycles break through the reserved
// scratch register, or through the per-class resolver slot whenever stack
// locations take part, since EmitMove wants the scratch register for itself
// to bounce stack-to-stack transfers.
type _MoveScheduler struct {
    a     *Allocator
    moves []_Move
}

func (self *_MoveScheduler) add(src lir.Operand, dst lir.Operand) {
    if src != dst {
        self.moves = append(self.moves, _Move { src: src, dst: dst })
    }
}

func (self *_MoveScheduler) empty() bool {
    return len(self.moves) == 0
}

/* a move is ready when no pending move still reads its destination */
func (self *_MoveScheduler) findReady(pending []_Move) int {
    for i, m := range pending {
        ok := true
        for j, x := range pending {
            if i != j && x.src == m.dst {
                ok = false
                break
            }
        }
        if ok {
            return i
        }
    }
    return -1
}

func (self *_MoveScheduler) hasStack(pending []_Move) bool {
    for _, m := range pending {
        if m.src.IsSlot() || m.dst.IsSlot() {
            return true
        }
    }
    return false
}

/* park the contested destination, redirect its readers, and retry */
func (self *_MoveScheduler) breakCycle(pending []_Move, out *[]*lir.Instr) []_Move {
    m := pending[0]
    park := self.a.scratchFor(m.dst.Class())
    if self.hasStack(pending) {
        park = self.a.resolverSlot(m.dst.Class())
    }
    *out = append(*out, self.a.emitMove(park, m.dst)...)
    for i := range pending {
        if pending[i].src == m.dst {
            pending[i].src = park
        }
    }
    return pending
}

func (self *_MoveScheduler) schedule() []*lir.Instr {
    var out []*lir.Instr
    pending := append([]_Move(nil), self.moves...)
    for len(pending) > 0 {
        if i := self.findReady(pending); i < 0 {
            pending = self.breakCycle(pending, &out)
        } else {
            out = append(out, self.a.emitMove(pending[i].dst, pending[i].src)...)
            pending = append(pending[:i], pending[i+1:]...)
        }
    }
    return out
}

// _Edits collects every move the resolver wants materialized, keyed by where
// it lands: block entry, right before the terminator, or an instruction gap.
type _Edits struct {
    head map[ir.BlockID]*_MoveScheduler
    tail map[ir.BlockID]*_MoveScheduler
    gap  map[Pos]*_MoveScheduler
}

func (self *Allocator) headMoves(b ir.BlockID) *_MoveScheduler {
    if self.edits.head[b] == nil {
        self.edits.head[b] = &_MoveScheduler { a: self }
    }
    return self.edits.head[b]
}

func (self *Allocator) tailMoves(b ir.BlockID) *_MoveScheduler {
    if self.edits.tail[b] == nil {
        self.edits.tail[b] = &_MoveScheduler { a: self }
    }
    return self.edits.tail[b]
}

func (self *Allocator) gapMoves(p Pos) *_MoveScheduler {
    if self.edits.gap[p] == nil {
        self.edits.gap[p] = &_MoveScheduler { a: self }
    }
    return self.edits.gap[p]
}

// locAtEnd is the location of variable v when control leaves b. Relay
// traces hold no locations of their own and answer with whatever their
// unique predecessor ends with.
func (self *Allocator) locAtEnd(b ir.BlockID, v int) (lir.Operand, error) {
    for hops := 0; hops <= len(self.p.Blocks); hops++ {
        t := self.ts.Of(b)
        if self.triv[t.ID] {
            b = self.p.Block(b).Pred[0]
            continue
        }
        fam := self.tis[t.ID].vars[v]
        if fam == nil {
            return lir.None, mkBailout(self.bpos[b].to - 1, "%%%d not live out of %s", v, b)
        }
        it := fam.childAt(self.bpos[b].to - 1)
        if it == nil {
            return lir.None, mkBailout(self.bpos[b].to - 1, "no split child of %%%d at the end of %s", v, b)
        }
        return it.loc, nil
    }
    return lir.None, mkBailout(-1, "relay cycle behind %s", b)
}

func (self *Allocator) locAtStart(b ir.BlockID, v int) (lir.Operand, error) {
    fam := self.tis[self.ts.Of(b).ID].vars[v]
    if fam == nil {
        return lir.None, mkBailout(self.bpos[b].from, "%%%d not live into %s", v, b)
    }
    it := fam.childAt(self.bpos[b].from)
    if it == nil {
        return lir.None, mkBailout(self.bpos[b].from, "no split child of %%%d at the start of %s", v, b)
    }
    return it.loc, nil
}

/* same-variable flow across an edge: a stack destination matching the
 * canonical slot is already satisfied, the spill store after the def wrote
 * it on every path that can reach here. The value is merely shadowed there
 * while it also travels in a register. */
func (self *Allocator) addBinding(ms *_MoveScheduler, v int, src lir.Operand, dst lir.Operand) {
    if dst.IsConst() || (dst.IsSlot() && dst == self.slotOf[v]) {
        return
    }
    ms.add(src, dst)
}

// resolveEdgeInto reconciles every value flowing along from -> to and queues
// the moves at the one safe spot: the predecessor runs them before its
// unconditional jump when it has a single successor, otherwise the successor
// head takes them. Critical edges were split during lowering, so one of the
// two always applies.
func (self *Allocator) resolveEdgeInto(from ir.BlockID, to ir.BlockID) error {
    var err error
    ms := _MoveScheduler { a: self }

    /* values live into the successor flow within their own family */
    self.lv.in[to].forEach(func(v int) {
        if err != nil {
            return
        }
        src, e := self.locAtEnd(from, v)
        if e != nil {
            err = e
            return
        }
        dst, e := self.locAtStart(to, v)
        if e != nil {
            err = e
            return
        }
        self.addBinding(&ms, v, src, dst)
    })
    if err != nil {
        return err
    }

    /* phi bindings of the successor for this predecessor */
    bb := self.p.Block(to)
    for i, n := 0, bb.NumPhis(); i < n; i++ {
        phi := bb.Code[i]
        dst, e := self.locAtStart(to, phi.Out[0].Index())
        if e != nil {
            return e
        }
        if dst.IsConst() {
            continue
        }
        for j, pb := range bb.Pred {
            if pb != from {
                continue
            }
            src := phi.In[j]
            if src.IsVar() {
                if src, e = self.locAtEnd(from, src.Index()); e != nil {
                    return e
                }
            }
            ms.add(src, dst)
        }
    }

    if ms.empty() {
        return nil
    }
    return self.insertEdge(from, to, &ms)
}

func (self *Allocator) insertEdge(from ir.BlockID, to ir.BlockID, ms *_MoveScheduler) error {
    switch {
        case len(self.p.Block(from).Succ) == 1 : self.tailMoves(from).moves = append(self.tailMoves(from).moves, ms.moves...)
        case len(self.p.Block(to).Pred) == 1   : self.headMoves(to).moves = append(self.headMoves(to).moves, ms.moves...)
        default                                : return mkBailout(-1, "unsplit critical edge %s -> %s", from, to)
    }
    return nil
}

// emitSplits queues the transfers between adjacent split children of one
// family. Split positions never land on block boundary gaps, so these always
// materialize strictly inside a block.
func (self *Allocator) emitSplits(fam *Interval) error {
    if len(fam.children) == 0 {
        return nil
    }
    parts := make([]*Interval, 0, len(fam.children) + 1)
    parts = append(parts, fam)
    parts = append(parts, fam.children...)
    for i := 1; i < len(parts); i++ {
        prev := parts[i - 1]
        next := parts[i]
        if prev.to() != next.from() {
            return mkBailout(next.from(), "split family of %s has a hole", fam.name())
        }
        if next.loc == prev.loc || next.loc.IsConst() {
            continue
        }
        if next.loc.IsSlot() && next.loc == self.slotOf[fam.vid] {
            continue    /* shadowed, the spill store handled it */
        }
        self.gapMoves(next.from()).add(prev.loc, next.loc)
    }
    return nil
}

/* intra-trace resolution: split transitions, then adjacent block boundaries */
func (self *Allocator) resolveTrace(t *Trace) error {
    for _, fam := range self.tis[t.ID].list {
        if err := self.emitSplits(fam); err != nil {
            return err
        }
    }
    for i := 0; i + 1 < len(t.Blocks); i++ {
        if err := self.resolveEdgeInto(t.Blocks[i], t.Blocks[i + 1]); err != nil {
            return err
        }
    }
    return nil
}
