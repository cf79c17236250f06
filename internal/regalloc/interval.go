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
    `sort`
    `strings`

    `github.com/cloudwego/anvil/lir`
)

// _Use is one use or definition position of an interval. k is the set of
// location kinds the operand slot accepts, a KReg-only use forces the value
// into a register at that point.
type _Use struct {
    pos Pos
    k   lir.Constraint
    def bool
}

func (self _Use) mustReg() bool {
    return self.k == lir.KReg
}

// _Range is one half-open live range [from, to).
type _Range struct {
    from Pos
    to   Pos
}

func (self _Range) String() string {
    return fmt.Sprintf("[%s,%s)", self.from, self.to)
}

// Interval is the lifetime of one virtual register within one trace, as a
// sorted list of disjoint ranges. Splitting partitions the lifetime into
// children hanging off the root: the root family shares the variable, its
// canonical spill slot and its rematerialization constant.
type Interval struct {
    id       int32
    vid      int32
    reg      int32
    cls      lir.Class
    loc      lir.Operand
    slot     lir.Operand
    remat    lir.Operand
    parent   *Interval
    children []*Interval
    ranges   []_Range
    uses     []_Use
    hint     *Interval
}

func newInterval(vid int32, cls lir.Class) *Interval {
    return &Interval {
        vid   : vid,
        reg   : -1,
        cls   : cls,
        loc   : lir.None,
        slot  : lir.None,
        remat : lir.None,
    }
}

func newFixed(cls lir.Class, reg int) *Interval {
    return &Interval {
        vid   : -1,
        reg   : int32(reg),
        cls   : cls,
        loc   : lir.Reg(cls, reg),
        slot  : lir.None,
        remat : lir.None,
    }
}

func (self *Interval) isFixed() bool { return self.reg >= 0 }
func (self *Interval) empty() bool   { return len(self.ranges) == 0 }
func (self *Interval) from() Pos     { return self.ranges[0].from }
func (self *Interval) to() Pos       { return self.ranges[len(self.ranges) - 1].to }

/* the family that carries the definition starts with a def use */
func (self *Interval) defined() bool {
    return self.parent == nil && len(self.uses) != 0 && self.uses[0].def
}

/* resolver placeholders live in the reserved gap before the first instruction */
func (self *Interval) boot() bool {
    return len(self.ranges) == 1 && self.ranges[0].from == _P_boot && self.ranges[0].to == _P_first
}

func (self *Interval) root() *Interval {
    if self.parent != nil {
        return self.parent
    } else {
        return self
    }
}

/* live range construction runs backwards, ranges are prepended */
func (self *Interval) prependRange(from Pos, to Pos) {
    if len(self.ranges) != 0 && self.ranges[0].from <= to {
        if from < self.ranges[0].from {
            self.ranges[0].from = from
        }
        if to > self.ranges[0].to {
            self.ranges[0].to = to
        }
    } else {
        self.ranges = append([]_Range { { from: from, to: to } }, self.ranges...)
    }
}

/* a definition cuts the current first range down to the def position */
func (self *Interval) setFrom(p Pos) {
    if len(self.ranges) == 0 {
        self.ranges = []_Range { { from: p, to: p + 1 } }
    } else if p > self.ranges[0].from {
        self.ranges[0].from = p
    }
}

func (self *Interval) addUse(p Pos, k lir.Constraint, def bool) {
    self.uses = append(self.uses, _Use {})
    copy(self.uses[1:], self.uses)
    self.uses[0] = _Use { pos: p, k: k, def: def }
}

func (self *Interval) covers(p Pos) bool {
    for _, r := range self.ranges {
        if p < r.from {
            return false
        }
        if p < r.to {
            return true
        }
    }
    return false
}

/* first position covered by both intervals, or -1 */
func (self *Interval) intersect(other *Interval) Pos {
    i := 0
    j := 0
    for i < len(self.ranges) && j < len(other.ranges) {
        a := self.ranges[i]
        b := other.ranges[j]
        switch {
            case a.to <= b.from : i++
            case b.to <= a.from : j++
            case a.from < b.from: return b.from
            default             : return a.from
        }
    }
    return -1
}

func (self *Interval) nextUseAfter(p Pos) Pos {
    for _, u := range self.uses {
        if u.pos >= p {
            return u.pos
        }
    }
    return _P_max
}

func (self *Interval) nextMustRegAfter(p Pos) Pos {
    for _, u := range self.uses {
        if u.pos >= p && u.mustReg() {
            return u.pos
        }
    }
    return _P_max
}

func (self *Interval) hasMustReg() bool {
    return self.nextMustRegAfter(0) != _P_max
}

// split cuts the interval at the gap position at, keeping [from, at) here
// and moving the rest into a new child of the root family. The child hints
// at the left part so both halves prefer the same register.
func (self *Interval) split(at Pos) *Interval {
    if at <= self.from() || at >= self.to() {
        panic(fmt.Sprintf("regalloc: split position %s outside of %s", at, self))
    }

    /* locate the first range ending past the cut */
    k := sort.Search(len(self.ranges), func(i int) bool {
        return self.ranges[i].to > at
    })

    r := self.root()
    p := newInterval(self.vid, self.cls)
    p.parent = r
    p.hint = self

    /* split the straddling range in two if needed */
    if self.ranges[k].from >= at {
        p.ranges = append(p.ranges, self.ranges[k:]...)
        self.ranges = self.ranges[:k]
    } else {
        p.ranges = append(p.ranges, _Range { from: at, to: self.ranges[k].to })
        p.ranges = append(p.ranges, self.ranges[k + 1:]...)
        self.ranges = append(self.ranges[:k], _Range { from: self.ranges[k].from, to: at })
    }

    /* move the uses at or past the cut */
    i := sort.Search(len(self.uses), func(i int) bool {
        return self.uses[i].pos >= at
    })
    p.uses = append(p.uses, self.uses[i:]...)
    self.uses = self.uses[:i]

    /* keep the children sorted by start */
    j := sort.Search(len(r.children), func(i int) bool {
        return r.children[i].from() > p.from()
    })
    r.children = append(r.children, nil)
    copy(r.children[j + 1:], r.children[j:])
    r.children[j] = p
    return p
}

// childAt finds the member of the root family whose span contains p.
func (self *Interval) childAt(p Pos) *Interval {
    r := self.root()
    if !r.empty() && p >= r.from() && p < r.to() {
        return r
    }
    for _, c := range r.children {
        if !c.empty() && p >= c.from() && p < c.to() {
            return c
        }
    }
    return nil
}

// childAtUse resolves the family member holding the value for a use at p.
// Plain input ranges stop right at their last use position, so an interval
// ending exactly at p still answers for it.
func (self *Interval) childAtUse(p Pos) *Interval {
    if it := self.childAt(p); it != nil {
        return it
    }
    r := self.root()
    if !r.empty() && r.to() == p {
        return r
    }
    for _, c := range r.children {
        if !c.empty() && c.to() == p {
            return c
        }
    }
    return nil
}

func (self *Interval) name() string {
    switch {
        case self.reg >= 0  : return fmt.Sprintf("$%s%d", self.cls, self.reg)
        case self.vid >= 0  : return fmt.Sprintf("%%%d", self.vid)
        default             : return "$boot"
    }
}

func (self *Interval) String() string {
    rs := make([]string, 0, len(self.ranges))
    for _, r := range self.ranges {
        rs = append(rs, r.String())
    }
    if self.loc != lir.None {
        return fmt.Sprintf("%s %s @%s", self.name(), strings.Join(rs, ""), self.loc)
    } else {
        return fmt.Sprintf("%s %s", self.name(), strings.Join(rs, ""))
    }
}
