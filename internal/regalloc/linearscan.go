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
    `github.com/oleiade/lane`
)

// _Scanner is the per-trace, per-class linear scan state machine. Intervals
// move unhandled -> active -> handled as the position advances, taking a
// detour through inactive across lifetime holes (only fixed clobber
// intervals have holes, trace-local variable intervals are contiguous).
type _Scanner struct {
    a         *Allocator
    cls       lir.Class
    nreg      int
    unhandled *lane.PQueue
    active    []*Interval
    inactive  []*Interval
    handled   []*Interval
    freeUntil []Pos
    usePos    []Pos
    blockPos  []Pos
}

func newScanner(a *Allocator, cls lir.Class, ti *_TraceIntervals) *_Scanner {
    s := &_Scanner {
        a         : a,
        cls       : cls,
        nreg      : a.d.NumRegs(cls),
        unhandled : lane.NewPQueue(lane.MINPQ),
        freeUntil : make([]Pos, a.d.NumRegs(cls)),
        usePos    : make([]Pos, a.d.NumRegs(cls)),
        blockPos  : make([]Pos, a.d.NumRegs(cls)),
    }
    for _, it := range ti.list {
        if it.cls == cls {
            s.enqueue(it)
        }
    }
    for _, it := range ti.fixed[cls] {
        if it != nil {
            s.inactive = append(s.inactive, it)
        }
    }
    return s
}

/* start position keyed, interval number breaks ties deterministically */
func (self *_Scanner) enqueue(it *Interval) {
    self.unhandled.Push(it, int(it.from()) << 20 | int(it.id) & 0xfffff)
}

func (self *_Scanner) run() error {
    for !self.unhandled.Empty() {
        v, _ := self.unhandled.Pop()
        it := v.(*Interval)
        self.refresh(it.from())
        if err := self.allocate(it, it.from()); err != nil {
            return err
        }
    }
    self.handled = append(self.handled, self.active...)
    self.handled = append(self.handled, self.inactive...)
    return nil
}

/* retire or park whatever the position walked past */
func (self *_Scanner) refresh(pos Pos) {
    var na, ni []*Interval
    for _, it := range self.active {
        switch {
            case it.to() <= pos  : self.handled = append(self.handled, it)
            case !it.covers(pos) : ni = append(ni, it)
            default              : na = append(na, it)
        }
    }
    for _, it := range self.inactive {
        switch {
            case it.to() <= pos  : self.handled = append(self.handled, it)
            case it.covers(pos)  : na = append(na, it)
            default              : ni = append(ni, it)
        }
    }
    self.active = na
    self.inactive = ni
}

/* every use outside the definition tolerates the constant pool */
func (self *_Scanner) allowsRemat(it *Interval) bool {
    for _, u := range it.uses {
        if !u.def && u.k & lir.KConst == 0 {
            return false
        }
    }
    return true
}

func (self *_Scanner) allocate(cur *Interval, pos Pos) error {
    /* constant-valued and never demanded in a register: no assignment at all */
    if cur.root().remat != lir.None && !cur.hasMustReg() && self.allowsRemat(cur) {
        cur.loc = cur.root().remat
        self.handled = append(self.handled, cur)
        return nil
    }
    if self.tryAllocateFree(cur, pos) {
        self.active = append(self.active, cur)
        return nil
    }
    return self.allocateBlocked(cur, pos)
}

/* the register the value would naturally flow into, if any */
func (self *_Scanner) hintReg(cur *Interval) int {
    if cur.hint == nil {
        return -1
    }
    if h := cur.hint.childAtUse(cur.from()); h != nil && h.loc.IsReg() {
        return h.loc.Index()
    }
    return -1
}

func (self *_Scanner) tryAllocateFree(cur *Interval, pos Pos) bool {
    for r := 0; r < self.nreg; r++ {
        self.freeUntil[r] = _P_max
    }
    for _, it := range self.active {
        self.freeUntil[it.loc.Index()] = 0
    }
    for _, it := range self.inactive {
        if x := it.intersect(cur); x >= 0 {
            if r := it.loc.Index(); x < self.freeUntil[r] {
                self.freeUntil[r] = x
            }
        }
    }

    /* take the hinted register when it covers the whole lifetime, else
     * whichever register stays free the longest */
    best := -1
    if h := self.hintReg(cur); h >= 0 && self.freeUntil[h] >= cur.to() {
        best = h
    }
    if best < 0 {
        for r := 0; r < self.nreg; r++ {
            if best < 0 || self.freeUntil[r] > self.freeUntil[best] {
                best = r
            }
        }
    }
    if self.freeUntil[best] <= pos {
        return false
    }

    /* free for a prefix only: keep the head here, requeue the tail */
    if self.freeUntil[best] < cur.to() {
        sp := self.a.clampSplit(self.freeUntil[best])
        if sp <= pos {
            return false
        }
        self.enqueue(self.a.number(cur.split(sp)))
    }
    cur.loc = lir.Reg(self.cls, best)
    return true
}

// allocateBlocked frees a register by force: either the current interval or
// the holder with the farthest next register demand gives way and lives in
// its canonical spill slot (or as a reloadable constant) until the next
// position that truly wants a register.
func (self *_Scanner) allocateBlocked(cur *Interval, pos Pos) error {
    for r := 0; r < self.nreg; r++ {
        self.usePos[r] = _P_max
        self.blockPos[r] = _P_max
    }
    for _, it := range self.active {
        r := it.loc.Index()
        if it.isFixed() {
            self.usePos[r] = 0
            self.blockPos[r] = 0
        } else if u := it.nextMustRegAfter(pos); u < self.usePos[r] {
            self.usePos[r] = u
        }
    }
    for _, it := range self.inactive {
        x := it.intersect(cur)
        if x < 0 {
            continue
        }
        r := it.loc.Index()
        if it.isFixed() {
            if x < self.blockPos[r] {
                self.blockPos[r] = x
            }
            if x < self.usePos[r] {
                self.usePos[r] = x
            }
        } else if u := it.nextMustRegAfter(pos); u < self.usePos[r] {
            self.usePos[r] = u
        }
    }

    /* the register whose conflicting demand is farthest away */
    best := 0
    for r := 1; r < self.nreg; r++ {
        if self.usePos[r] > self.usePos[best] {
            best = r
        }
    }

    /* current loses when everyone else needs a register sooner */
    if first := cur.nextMustRegAfter(pos); first >= self.usePos[best] {
        return self.spillCurrent(cur, pos, first)
    }

    cur.loc = lir.Reg(self.cls, best)
    if err := self.evict(cur, pos, best); err != nil {
        return err
    }

    /* a fixed interval reclaims the register later: yield before it does */
    if self.blockPos[best] < cur.to() {
        sp := self.a.clampSplit(self.blockPos[best])
        if sp <= pos {
            return mkBailout(pos, "no room before a fixed use of %s", lir.Reg(self.cls, best))
        }
        self.enqueue(self.a.number(cur.split(sp)))
    }
    self.active = append(self.active, cur)
    return nil
}

func (self *_Scanner) spillCurrent(cur *Interval, pos Pos, first Pos) error {
    if first <= pos {
        return mkBailout(pos, "no register for %s, all pinned by earlier demands", cur.name())
    }
    if first != _P_max {
        sp := self.a.clampSplit(first)
        if sp <= pos {
            return mkBailout(pos, "no split position before the register demand of %s", cur.name())
        }
        self.enqueue(self.a.number(cur.split(sp)))
    }
    self.spill(cur)
    self.handled = append(self.handled, cur)
    return nil
}

/* kick every variable interval holding r off the register */
func (self *_Scanner) evict(cur *Interval, pos Pos, r int) error {
    var na []*Interval
    for _, it := range self.active {
        if it.isFixed() || it.loc.Index() != r {
            na = append(na, it)
            continue
        }
        /* an interval popped at this very position never held the register
         * for real, it just competes again */
        if it.from() == pos {
            it.loc = lir.None
            self.enqueue(it)
            continue
        }
        sp := self.a.clampSplit(pos)
        if sp <= it.from() {
            return mkBailout(pos, "no split position for evicting %s", it.name())
        }
        self.requeueSpilled(self.a.number(it.split(sp)))
    }
    self.active = na

    var ni []*Interval
    for _, it := range self.inactive {
        if it.isFixed() || it.loc.Index() != r {
            ni = append(ni, it)
            continue
        }
        x := it.intersect(cur)
        if x < 0 {
            ni = append(ni, it)
            continue
        }
        sp := self.a.clampSplit(x)
        if sp <= it.from() {
            return mkBailout(pos, "no split position for evicting %s", it.name())
        }
        self.enqueue(self.a.number(it.split(sp)))
        ni = append(ni, it)
    }
    self.inactive = ni
    return nil
}

/* the evicted child lives in memory up to its next register demand, the
 * remainder competes again from there */
func (self *_Scanner) requeueSpilled(child *Interval) {
    u := child.nextMustRegAfter(child.from())
    if u == _P_max {
        self.spill(child)
        self.handled = append(self.handled, child)
        return
    }
    if sp := self.a.clampSplit(u); sp > child.from() {
        tail := self.a.number(child.split(sp))
        self.spill(child)
        self.handled = append(self.handled, child)
        self.enqueue(tail)
    } else {
        self.enqueue(child)
    }
}

/* slot residency or a constant reload, the canonical slot is allocated once
 * per variable and shared by every split child that ever spills */
func (self *_Scanner) spill(it *Interval) {
    if it.root().remat != lir.None && self.allowsRemat(it) {
        it.loc = it.root().remat
        return
    }
    it.loc = self.a.ensureSlot(it)
    self.a.spills++
}
