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

package regalloc

import (
    `fmt`
    `testing`

    `github.com/davecgh/go-spew/spew`
    `github.com/cloudwego/anvil/internal/opts`
    `github.com/cloudwego/anvil/ir`
    `github.com/cloudwego/anvil/lir`
    `github.com/cloudwego/anvil/target`
)

/* a tiny machine description: ngp allocatable registers with the low csave
 * bits caller-saved, one extra register reserved as the move scratch */
type testTarget struct {
    ngp   int
    nfp   int
    csave uint32
}

func (self *testTarget) Name() string { return "testmachine" }

func (self *testTarget) NumRegs(cls lir.Class) int {
    if cls == lir.FP {
        return self.nfp
    } else {
        return self.ngp
    }
}

func (self *testTarget) RegName(cls lir.Class, r int) string {
    return fmt.Sprintf("%s%d", cls, r)
}

func (self *testTarget) CallerSaved(cls lir.Class) uint32 {
    return self.csave
}

func (self *testTarget) Scratch(cls lir.Class) int {
    return self.NumRegs(cls)
}

func (self *testTarget) EmitMove(dst lir.Operand, src lir.Operand, cval int64) []*lir.Instr {
    tmp := lir.Reg(dst.Class(), self.Scratch(dst.Class()))
    if dst.IsSlot() && src.IsSlot() {
        return []*lir.Instr { lir.NewMove(tmp, src), lir.NewMove(dst, tmp) }
    }
    return []*lir.Instr { lir.NewMove(dst, src) }
}

func addEdge(from *lir.Block, to *lir.Block) {
    from.Succ = append(from.Succ, to.ID)
    to.Pred = append(to.Pred, from.ID)
}

/* allocation rewrites the program in place, keep a copy for reference runs */
func cloneProgram(p *lir.Program) *lir.Program {
    q := &lir.Program {
        Entry  : p.Entry,
        Order  : append([]ir.BlockID(nil), p.Order...),
        Depth  : append([]int32(nil), p.Depth...),
        Consts : append([]lir.Const(nil), p.Consts...),
        Kinds  : append([]ir.Kind(nil), p.Kinds...),
    }
    for _, lp := range p.Loops {
        q.Loops = append(q.Loops, lir.Loop {
            Header : lp.Header,
            Blocks : append([]ir.BlockID(nil), lp.Blocks...),
        })
    }
    for _, bb := range p.Blocks {
        nb := &lir.Block {
            ID   : bb.ID,
            Pred : append([]ir.BlockID(nil), bb.Pred...),
            Succ : append([]ir.BlockID(nil), bb.Succ...),
        }
        for _, ins := range bb.Code {
            ni := *ins
            ni.Out = append([]lir.Operand(nil), ins.Out...)
            ni.In = append([]lir.Operand(nil), ins.In...)
            nb.Code = append(nb.Code, &ni)
        }
        q.Blocks = append(q.Blocks, nb)
    }
    return q
}

const (
    _MaxSteps = 100000
    _JunkWord = int64(-0x5EED5EED5EED)
)

// _Sim executes a program over abstract storage cells, one cell per operand.
// It runs the same way before allocation (cells are virtual registers) and
// after it (cells are physical registers and stack slots), so comparing the
// two runs checks that allocation preserved the program's meaning. Calls
// return a digest of their arguments and, in junk mode, stomp every
// caller-saved register the way a real callee may.
type _Sim struct {
    t     *testing.T
    p     *lir.Program
    d     target.Desc
    args  []int64
    junk  bool
    cells map[lir.Operand]int64
}

func newSim(t *testing.T, p *lir.Program, d target.Desc, args []int64, junk bool) *_Sim {
    return &_Sim {
        t     : t,
        p     : p,
        d     : d,
        args  : args,
        junk  : junk,
        cells : make(map[lir.Operand]int64),
    }
}

func (self *_Sim) read(o lir.Operand) int64 {
    if o.IsConst() {
        return self.p.Consts[o.Index()].Val
    }
    v, ok := self.cells[o]
    if !ok {
        self.t.Fatalf("simulator: read of %s before any write", o)
    }
    return v
}

func (self *_Sim) write(o lir.Operand, v int64) {
    if o.IsNone() || o.IsConst() {
        self.t.Fatalf("simulator: write to %s", o)
    }
    self.cells[o] = v
}

/* phis evaluate in parallel against the edge the control arrived over */
func (self *_Sim) phis(bb *lir.Block, from ir.BlockID) {
    np := bb.NumPhis()
    if np == 0 {
        return
    }
    pi := -1
    for i, pb := range bb.Pred {
        if pb == from {
            pi = i
        }
    }
    if pi < 0 {
        self.t.Fatalf("simulator: no edge %s -> %s", from, bb.ID)
    }
    vals := make([]int64, np)
    for i := 0; i < np; i++ {
        vals[i] = self.read(bb.Code[i].In[pi])
    }
    for i := 0; i < np; i++ {
        self.write(bb.Code[i].Out[0], vals[i])
    }
}

func (self *_Sim) stomp(cls lir.Class) {
    for r := 0; r < self.d.NumRegs(cls); r++ {
        if self.d.CallerSaved(cls) & (1 << r) != 0 {
            self.cells[lir.Reg(cls, r)] = _JunkWord
        }
    }
    self.cells[lir.Reg(cls, self.d.Scratch(cls))] = _JunkWord
}

func (self *_Sim) call(ins *lir.Instr) {
    r := int64(7777)
    for _, o := range ins.In {
        r += self.read(o)
    }
    if self.junk {
        self.stomp(lir.GP)
        self.stomp(lir.FP)
    }
    if len(ins.Out) != 0 {
        self.write(ins.Out[0], r)
    }
}

func (self *_Sim) binary(op lir.Op, x int64, y int64) int64 {
    switch op {
        case lir.OpAdd    : return x + y
        case lir.OpSub    : return x - y
        case lir.OpMul    : return x * y
        case lir.OpAnd    : return x & y
        case lir.OpOr     : return x | y
        case lir.OpXor    : return x ^ y
        case lir.OpShl    : return x << (uint64(y) & 63)
        case lir.OpShr    : return int64(uint64(x) >> (uint64(y) & 63))
        case lir.OpCmpEq  : return b2i(x == y)
        case lir.OpCmpLt  : return b2i(x < y)
        case lir.OpCmpLtU : return b2i(uint64(x) < uint64(y))
    }
    self.t.Fatalf("simulator: not a binary op: %s", op)
    return 0
}

func b2i(v bool) int64 {
    if v {
        return 1
    } else {
        return 0
    }
}

func (self *_Sim) step(ins *lir.Instr) {
    switch ins.Op {
        case lir.OpMove    : self.write(ins.Out[0], self.read(ins.In[0]))
        case lir.OpLoadArg : self.write(ins.Out[0], self.args[ins.Aux])
        case lir.OpNeg     : self.write(ins.Out[0], -self.read(ins.In[0]))
        case lir.OpNot     : self.write(ins.Out[0], ^self.read(ins.In[0]))
        case lir.OpCall    : self.call(ins)
        default            : self.write(ins.Out[0], self.binary(ins.Op, self.read(ins.In[0]), self.read(ins.In[1])))
    }
}

func (self *_Sim) cond(cc lir.Cond, x int64, y int64) bool {
    switch cc {
        case lir.CondEq  : return x == y
        case lir.CondLt  : return x < y
        case lir.CondLtU : return uint64(x) < uint64(y)
        default          : self.t.Fatalf("simulator: invalid condition %d", cc); return false
    }
}

func (self *_Sim) run() int64 {
    from := ir.NoBlock
    bb := self.p.Block(self.p.Entry)

    for steps := 0; steps < _MaxSteps; steps++ {
        self.phis(bb, from)
        code := bb.Code[bb.NumPhis():]
        for _, ins := range code[:len(code) - 1] {
            self.step(ins)
        }

        last := bb.Last()
        taken := 0
        switch last.Op {
            case lir.OpJump:
                break
            case lir.OpJumpIf:
                if self.read(last.In[0]) == 0 {
                    taken = 1
                }
            case lir.OpJumpCmp:
                if !self.cond(lir.Cond(last.Aux), self.read(last.In[0]), self.read(last.In[1])) {
                    taken = 1
                }
            case lir.OpRet:
                if len(last.In) != 0 {
                    return self.read(last.In[0])
                }
                return 0
            default:
                self.t.Fatalf("simulator: unexpected terminator: %s", last)
        }
        from, bb = bb.ID, self.p.Block(bb.Succ[taken])
    }

    self.t.Fatal("simulator: program does not terminate")
    return 0
}

// checkAllocation allocates p in place with verification on and then runs
// the rewritten program against an untouched copy over every argument set,
// failing on the first diverging return value or leftover virtual register.
func checkAllocation(t *testing.T, p *lir.Program, d target.Desc, o *opts.Options, argsets [][]int64) *Result {
    t.Helper()
    ref := cloneProgram(p)
    o.Verify = true

    res, err := Allocate(p, d, o)
    if err != nil {
        t.Fatal("allocation failed:", err)
    }
    for _, bb := range p.Blocks {
        for _, ins := range bb.Code {
            if ins.Op == lir.OpPhi {
                t.Fatalf("%s: phi survived allocation", bb.ID)
            }
            for _, o := range ins.Out {
                if o.IsVar() {
                    t.Fatalf("%s: virtual register left in %q", bb.ID, ins)
                }
            }
            for _, o := range ins.In {
                if o.IsVar() {
                    t.Fatalf("%s: virtual register left in %q", bb.ID, ins)
                }
            }
        }
    }
    for _, args := range argsets {
        want := newSim(t, ref, d, args, false).run()
        got := newSim(t, p, d, args, true).run()
        if got != want {
            spew.Config.SortKeys = true
            t.Logf("intervals:\n%s", spew.Sdump(res.Intervals))
            t.Logf("program:\n%s", p)
            t.Fatalf("args %v: allocated program returned %d, want %d", args, got, want)
        }
    }
    return res
}

/* more values live at once than the machine has registers, every add
 * demands its operands and result in registers */
func buildStraightLine() *lir.Program {
    p := &lir.Program{}
    b0 := p.NewBlock()

    a := p.NewVar(ir.KindWord)
    b := p.NewVar(ir.KindWord)
    c := p.NewVar(ir.KindWord)
    d := p.NewVar(ir.KindWord)
    s1 := p.NewVar(ir.KindWord)
    s2 := p.NewVar(ir.KindWord)
    s3 := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewLoadArg(a, 0),
        lir.NewLoadArg(b, 1),
        lir.NewLoadArg(c, 2),
        lir.NewLoadArg(d, 3),
        lir.NewBinary(lir.OpAdd, s1, a, b),
        lir.NewBinary(lir.OpAdd, s2, c, d),
        lir.NewBinary(lir.OpAdd, s3, s1, s2),
        lir.NewRet([]lir.Operand { s3 }),
    }
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID }
    return p
}

/* three values live at once on a two register machine: the one with the
 * farthest use waits in memory between its definition and its use */
func buildTriplePressure() (*lir.Program, lir.Operand) {
    p := &lir.Program{}
    b0 := p.NewBlock()

    a := p.NewVar(ir.KindWord)
    b := p.NewVar(ir.KindWord)
    c := p.NewVar(ir.KindWord)
    d := p.NewVar(ir.KindWord)
    e := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewLoadArg(a, 0),
        lir.NewLoadArg(b, 1),
        lir.NewLoadArg(c, 2),
        lir.NewBinary(lir.OpAdd, d, a, b),
        lir.NewBinary(lir.OpAdd, e, d, c),
        lir.NewRet([]lir.Operand { e }),
    }
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID }
    return p, c
}

func TestAllocate_SpillsUnderPressure(t *testing.T) {
    p, c := buildTriplePressure()
    d := &testTarget { ngp: 2, nfp: 2, csave: 0b11 }
    res := checkAllocation(t, p, d, &opts.Options{}, [][]int64 {
        { 1, 2, 3 },
        { 100, -5, 32 },
        { 0, 0, 0 },
    })
    if res.Spills != 1 {
        t.Errorf("three live values on two registers, want exactly one spill, got %d", res.Spills)
    }
    if res.Slots[lir.GP] != 1 {
        t.Errorf("want exactly one canonical slot, got %d", res.Slots[lir.GP])
    }
    slotted := map[int]lir.Operand{}
    for _, as := range res.Intervals {
        if !as.Loc.IsSlot() {
            continue
        }
        if prev, ok := slotted[as.Var]; ok && prev != as.Loc {
            t.Errorf("%%%d split children in different slots: %s vs %s", as.Var, prev, as.Loc)
        }
        slotted[as.Var] = as.Loc
    }
    if len(slotted) != 1 {
        t.Errorf("want exactly one spilled variable, got %d", len(slotted))
    }
    if _, ok := slotted[c.Index()]; !ok {
        t.Errorf("%s has the farthest use and should be the one spilled", c)
    }
    if res.Moves == 0 {
        t.Error("expected a reload move")
    }
}

/* returns a < 10 ? a + 1 : a - 1 through a merge phi */
func buildDiamond() *lir.Program {
    p := &lir.Program{}
    b0 := p.NewBlock()
    b1 := p.NewBlock()
    b2 := p.NewBlock()
    b3 := p.NewBlock()

    a := p.NewVar(ir.KindWord)
    k := p.NewVar(ir.KindWord)
    w := p.NewVar(ir.KindWord)
    o1 := p.NewVar(ir.KindWord)
    x1 := p.NewVar(ir.KindWord)
    o2 := p.NewVar(ir.KindWord)
    x2 := p.NewVar(ir.KindWord)
    x := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewLoadArg(a, 0),
        lir.NewMove(k, p.AddConst(ir.KindWord, 10)),
        lir.NewBinary(lir.OpCmpLt, w, a, k),
        lir.NewJumpIf(w),
    }
    b1.Code = []*lir.Instr {
        lir.NewMove(o1, p.AddConst(ir.KindWord, 1)),
        lir.NewBinary(lir.OpAdd, x1, a, o1),
        lir.NewJump(),
    }
    b2.Code = []*lir.Instr {
        lir.NewMove(o2, p.AddConst(ir.KindWord, 1)),
        lir.NewBinary(lir.OpSub, x2, a, o2),
        lir.NewJump(),
    }
    b3.Code = []*lir.Instr {
        lir.NewPhi(x, []lir.Operand { x1, x2 }),
        lir.NewRet([]lir.Operand { x }),
    }

    addEdge(b0, b1)
    addEdge(b0, b2)
    addEdge(b1, b3)
    addEdge(b2, b3)
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID, b1.ID, b2.ID, b3.ID }
    return p
}

func TestAllocate_DiamondPhi(t *testing.T) {
    p := buildDiamond()
    d := &testTarget { ngp: 2, nfp: 2, csave: 0b11 }
    checkAllocation(t, p, d, &opts.Options{}, [][]int64 {
        { 5 },
        { 50 },
        { 10 },
        { 9 },
    })
}

/* sum of 0..n-1 with loop-carried phis for the counter and the accumulator */
func buildLoopSum() *lir.Program {
    p := &lir.Program{}
    b0 := p.NewBlock()
    b1 := p.NewBlock()
    b2 := p.NewBlock()
    b3 := p.NewBlock()

    n := p.NewVar(ir.KindWord)
    i0 := p.NewVar(ir.KindWord)
    s0 := p.NewVar(ir.KindWord)
    i := p.NewVar(ir.KindWord)
    s := p.NewVar(ir.KindWord)
    w := p.NewVar(ir.KindWord)
    s2 := p.NewVar(ir.KindWord)
    one := p.NewVar(ir.KindWord)
    i2 := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewLoadArg(n, 0),
        lir.NewMove(i0, p.AddConst(ir.KindWord, 0)),
        lir.NewMove(s0, p.AddConst(ir.KindWord, 0)),
        lir.NewJump(),
    }
    b1.Code = []*lir.Instr {
        lir.NewPhi(i, []lir.Operand { i0, i2 }),
        lir.NewPhi(s, []lir.Operand { s0, s2 }),
        lir.NewBinary(lir.OpCmpLt, w, i, n),
        lir.NewJumpIf(w),
    }
    b2.Code = []*lir.Instr {
        lir.NewBinary(lir.OpAdd, s2, s, i),
        lir.NewMove(one, p.AddConst(ir.KindWord, 1)),
        lir.NewBinary(lir.OpAdd, i2, i, one),
        lir.NewJump(),
    }
    b3.Code = []*lir.Instr {
        lir.NewRet([]lir.Operand { s }),
    }

    addEdge(b0, b1)
    addEdge(b1, b2)
    addEdge(b1, b3)
    addEdge(b2, b1)
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID, b1.ID, b2.ID, b3.ID }
    p.Depth[b1.ID] = 1
    p.Depth[b2.ID] = 1
    p.Loops = []lir.Loop {
        { Header: b1.ID, Blocks: []ir.BlockID { b1.ID, b2.ID } },
    }
    return p
}

func TestAllocate_LoopSum(t *testing.T) {
    for _, nr := range []int { 2, 3, 6 } {
        for _, fast := range []bool { false, true } {
            t.Run(fmt.Sprintf("regs=%d,fast=%v", nr, fast), func(t *testing.T) {
                p := buildLoopSum()
                d := &testTarget { ngp: nr, nfp: 2, csave: 0b11 }
                checkAllocation(t, p, d, &opts.Options { FastLiveness: fast }, [][]int64 {
                    { 0 },
                    { 1 },
                    { 4 },
                    { 17 },
                })
            })
        }
    }
}

/* a is alive across the call and must survive the caller-saved stomp */
func buildCall() *lir.Program {
    p := &lir.Program{}
    b0 := p.NewBlock()

    a := p.NewVar(ir.KindWord)
    b := p.NewVar(ir.KindWord)
    r := p.NewVar(ir.KindWord)
    s := p.NewVar(ir.KindWord)
    u := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewLoadArg(a, 0),
        lir.NewLoadArg(b, 1),
        lir.NewCall([]lir.Operand { r }, []lir.Operand { a }),
        lir.NewBinary(lir.OpAdd, s, a, b),
        lir.NewBinary(lir.OpAdd, u, s, r),
        lir.NewRet([]lir.Operand { u }),
    }
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID }
    return p
}

func TestAllocate_CallPreservesLiveValues(t *testing.T) {
    p := buildCall()
    d := &testTarget { ngp: 4, nfp: 2, csave: 0b0011 }
    res := checkAllocation(t, p, d, &opts.Options{}, [][]int64 {
        { 3, 9 },
        { -5, 5 },
    })
    if res.Spills == 0 {
        t.Error("a register holding a value across the call had to yield, expected a spill")
    }
}

/* the constant never reaches a register: both of its uses tolerate the
 * constant pool, so spilling it rematerializes instead of using a slot */
func buildRemat() (*lir.Program, lir.Operand) {
    p := &lir.Program{}
    b0 := p.NewBlock()

    c := p.NewVar(ir.KindWord)
    x := p.NewVar(ir.KindWord)
    y := p.NewVar(ir.KindWord)
    z := p.NewVar(ir.KindWord)
    t1 := p.NewVar(ir.KindWord)
    t2 := p.NewVar(ir.KindWord)
    out := p.NewVar(ir.KindWord)
    t3 := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewMove(c, p.AddConst(ir.KindWord, 12345)),
        lir.NewLoadArg(x, 0),
        lir.NewLoadArg(y, 1),
        lir.NewLoadArg(z, 2),
        lir.NewBinary(lir.OpAdd, t1, x, y),
        lir.NewBinary(lir.OpAdd, t2, t1, z),
        lir.NewMove(out, c),
        lir.NewBinary(lir.OpAdd, t3, t2, out),
        lir.NewRet([]lir.Operand { t3 }),
    }
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID }
    return p, c
}

func TestAllocate_RematerializedConst(t *testing.T) {
    p, c := buildRemat()
    d := &testTarget { ngp: 2, nfp: 2, csave: 0b11 }
    res := checkAllocation(t, p, d, &opts.Options{}, [][]int64 {
        { 1, 2, 3 },
        { -1, -2, -3 },
    })
    seen := false
    for _, as := range res.Intervals {
        if as.Var != c.Index() {
            continue
        }
        seen = true
        if !as.Loc.IsConst() {
            t.Fatalf("constant-valued %s assigned %s, want a pool reference", c, as.Loc)
        }
    }
    if !seen {
        t.Fatalf("no assignment recorded for %s", c)
    }
    if res.Slots[lir.GP] != 1 {
        t.Errorf("expected exactly one slot (the spilled argument), got %d", res.Slots[lir.GP])
    }
}

/* a counted loop with an early break: both exit edges are critical and got
 * split during lowering, leaving one relay alone on its trace and one glued
 * to the merge block */
func buildBreakLoop() (*lir.Program, ir.BlockID, ir.BlockID) {
    p := &lir.Program{}
    b0 := p.NewBlock()
    b1 := p.NewBlock()
    b2 := p.NewBlock()
    b3 := p.NewBlock()
    b4 := p.NewBlock()
    r1 := p.NewBlock()
    r2 := p.NewBlock()

    n := p.NewVar(ir.KindWord)
    k := p.NewVar(ir.KindWord)
    i0 := p.NewVar(ir.KindWord)
    s0 := p.NewVar(ir.KindWord)
    i := p.NewVar(ir.KindWord)
    s := p.NewVar(ir.KindWord)
    t1 := p.NewVar(ir.KindWord)
    t2 := p.NewVar(ir.KindWord)
    s2 := p.NewVar(ir.KindWord)
    one := p.NewVar(ir.KindWord)
    i2 := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewLoadArg(n, 0),
        lir.NewLoadArg(k, 1),
        lir.NewMove(i0, p.AddConst(ir.KindWord, 0)),
        lir.NewMove(s0, p.AddConst(ir.KindWord, 0)),
        lir.NewJump(),
    }
    b1.Code = []*lir.Instr {
        lir.NewPhi(i, []lir.Operand { i0, i2 }),
        lir.NewPhi(s, []lir.Operand { s0, s2 }),
        lir.NewBinary(lir.OpCmpLt, t1, i, n),
        lir.NewJumpIf(t1),
    }
    b2.Code = []*lir.Instr {
        lir.NewBinary(lir.OpCmpEq, t2, i, k),
        lir.NewJumpIf(t2),
    }
    b3.Code = []*lir.Instr {
        lir.NewBinary(lir.OpAdd, s2, s, i),
        lir.NewMove(one, p.AddConst(ir.KindWord, 1)),
        lir.NewBinary(lir.OpAdd, i2, i, one),
        lir.NewJump(),
    }
    b4.Code = []*lir.Instr {
        lir.NewRet([]lir.Operand { s }),
    }
    r1.Code = []*lir.Instr { lir.NewJump() }
    r2.Code = []*lir.Instr { lir.NewJump() }

    addEdge(b0, b1)
    addEdge(b1, b2)
    addEdge(b1, r1)
    addEdge(b2, r2)
    addEdge(b2, b3)
    addEdge(b3, b1)
    addEdge(r1, b4)
    addEdge(r2, b4)
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID, b1.ID, r1.ID, b2.ID, r2.ID, b3.ID, b4.ID }
    p.Depth[b1.ID] = 1
    p.Depth[b2.ID] = 1
    p.Depth[b3.ID] = 1
    p.Loops = []lir.Loop {
        { Header: b1.ID, Blocks: []ir.BlockID { b1.ID, b2.ID, b3.ID } },
    }
    return p, r1.ID, r2.ID
}

func TestAllocate_BreakLoopRelays(t *testing.T) {
    for _, fast := range []bool { false, true } {
        t.Run(fmt.Sprintf("fast=%v", fast), func(t *testing.T) {
            p, r1, r2 := buildBreakLoop()
            d := &testTarget { ngp: 2, nfp: 2, csave: 0b11 }
            res := checkAllocation(t, p, d, &opts.Options { FastLiveness: fast }, [][]int64 {
                { 6, 3 },
                { 4, 9 },
                { 0, 0 },
                { 5, 0 },
            })
            if tr := res.Traces.Of(r1); len(tr.Blocks) != 1 {
                t.Errorf("relay %s should sit alone on its trace, got %s", r1, tr)
            }
            if tr := res.Traces.Of(r2); len(tr.Blocks) != 2 {
                t.Errorf("relay %s should share a trace with the merge block, got %s", r2, tr)
            }
        })
    }
}

/* two early exits relay one value to the merge; every trace keeps it in the
 * same register, so resolution has nothing to move anywhere */
func buildRelayPassthrough() (*lir.Program, ir.BlockID, lir.Operand) {
    p := &lir.Program{}
    b0 := p.NewBlock()
    b1 := p.NewBlock()
    b2 := p.NewBlock()
    r1 := p.NewBlock()
    r2 := p.NewBlock()
    b3 := p.NewBlock()

    v := p.NewVar(ir.KindWord)
    k := p.NewVar(ir.KindWord)
    t1 := p.NewVar(ir.KindWord)
    v2 := p.NewVar(ir.KindWord)
    t2 := p.NewVar(ir.KindWord)
    u := p.NewVar(ir.KindWord)
    rr := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewLoadArg(v, 0),
        lir.NewLoadArg(k, 1),
        lir.NewBinary(lir.OpCmpLt, t1, v, k),
        lir.NewJumpIf(t1),
    }
    b1.Code = []*lir.Instr {
        lir.NewBinary(lir.OpAdd, v2, v, v),
        lir.NewBinary(lir.OpCmpLt, t2, v2, k),
        lir.NewJumpIf(t2),
    }
    b2.Code = []*lir.Instr {
        lir.NewBinary(lir.OpAdd, u, v, v),
        lir.NewJump(),
    }
    r1.Code = []*lir.Instr { lir.NewJump() }
    r2.Code = []*lir.Instr { lir.NewJump() }
    b3.Code = []*lir.Instr {
        lir.NewBinary(lir.OpAdd, rr, v, v),
        lir.NewRet([]lir.Operand { rr }),
    }

    addEdge(b0, b1)
    addEdge(b0, r1)
    addEdge(b1, b2)
    addEdge(b1, r2)
    addEdge(b2, b3)
    addEdge(r1, b3)
    addEdge(r2, b3)
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID, b1.ID, r1.ID, b2.ID, r2.ID, b3.ID }
    return p, r1.ID, v
}

func TestAllocate_TrivialRelayNoMoves(t *testing.T) {
    p, r1, v := buildRelayPassthrough()
    d := &testTarget { ngp: 4, nfp: 4, csave: 0b11 }
    res := checkAllocation(t, p, d, &opts.Options{}, [][]int64 {
        { 1, 5 },
        { 3, 5 },
        { 5, 1 },
        { 0, 0 },
    })
    if tr := res.Traces.Of(r1); len(tr.Blocks) != 1 || !tr.Trivial(p) {
        t.Fatalf("relay %s should be a trivial trace of its own, got %s", r1, tr)
    }
    if code := p.Block(r1).Code; len(code) != 1 || code[0].Op != lir.OpJump {
        t.Errorf("relay %s should stay a bare jump, got %v", r1, code)
    }
    if res.Moves != 0 {
        t.Errorf("every location agrees across traces, want zero moves, got %d", res.Moves)
    }
    if res.Spills != 0 {
        t.Errorf("want zero spills, got %d", res.Spills)
    }
    for _, as := range res.Intervals {
        if as.Var == v.Index() && as.Loc != lir.Reg(lir.GP, 0) {
            t.Errorf("%s rebound to %s, want r0 on every trace", v, as.Loc)
        }
    }
}

/* the value crossing from the conditional trace into the merge trace lands
 * in a different register there: one rebinding move on the jump edge */
func buildShuffleDiamond() (*lir.Program, ir.BlockID, lir.Operand) {
    p := &lir.Program{}
    b0 := p.NewBlock()
    b1 := p.NewBlock()
    b2 := p.NewBlock()
    b3 := p.NewBlock()

    u2 := p.NewVar(ir.KindWord)
    v := p.NewVar(ir.KindWord)
    w := p.NewVar(ir.KindWord)
    c := p.NewVar(ir.KindWord)
    r := p.NewVar(ir.KindWord)

    b0.Code = []*lir.Instr {
        lir.NewLoadArg(v, 0),
        lir.NewLoadArg(w, 1),
        lir.NewBinary(lir.OpCmpLt, c, v, w),
        lir.NewJumpIf(c),
    }
    b1.Code = []*lir.Instr { lir.NewJump() }
    b2.Code = []*lir.Instr {
        lir.NewBinary(lir.OpAdd, u2, w, w),
        lir.NewJump(),
    }
    b3.Code = []*lir.Instr {
        lir.NewBinary(lir.OpAdd, r, v, v),
        lir.NewRet([]lir.Operand { r }),
    }

    addEdge(b0, b1)
    addEdge(b0, b2)
    addEdge(b1, b3)
    addEdge(b2, b3)
    p.Entry = b0.ID
    p.Order = []ir.BlockID { b0.ID, b1.ID, b2.ID, b3.ID }
    return p, b1.ID, v
}

func TestAllocate_CrossTraceEdgeSingleMove(t *testing.T) {
    p, b1, v := buildShuffleDiamond()
    d := &testTarget { ngp: 3, nfp: 3, csave: 0b11 }
    res := checkAllocation(t, p, d, &opts.Options{}, [][]int64 {
        { 1, 5 },
        { 5, 1 },
        { 0, 0 },
    })
    if res.Spills != 0 {
        t.Fatalf("want zero spills, got %d", res.Spills)
    }

    /* only v is live across the b1 edge and only its register changes, the
     * jump block must receive exactly one move ahead of its terminator */
    code := p.Block(b1).Code
    if len(code) != 2 {
        t.Fatalf("%s should hold one resolution move and a jump, got %v", b1, code)
    }
    if code[0].Op != lir.OpMove || code[1].Op != lir.OpJump {
        t.Fatalf("%s: want [mov, jmp], got %v", b1, code)
    }
    if src := code[0].In[0]; !src.IsReg() {
        t.Errorf("rebinding of %s should be a register move, got %v", v, code[0])
    }
}
