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

package lir

import (
    `fmt`
    `strings`
)

type Op uint8

const (
    OpInvalid Op = iota
    OpMove
    OpLoadArg
    OpAdd
    OpSub
    OpMul
    OpAnd
    OpOr
    OpXor
    OpShl
    OpShr
    OpNeg
    OpNot
    OpCmpEq
    OpCmpLt
    OpCmpLtU
    OpLoad
    OpStore
    OpFence
    OpCall
    OpJump
    OpJumpIf
    OpJumpCmp
    OpRet
    OpPhi
)

// Cond is the comparison baked into a fused compare-and-branch.
type Cond uint8

const (
    CondEq Cond = iota
    CondLt
    CondLtU
)

func (self Cond) String() string {
    switch self {
        case CondEq  : return "eq"
        case CondLt  : return "lt"
        case CondLtU : return "ltu"
        default      : return "???"
    }
}

// Constraint is the set of location kinds an operand slot accepts. The
// allocator turns KReg-only slots into must-register use positions.
type Constraint uint8

const (
    KReg Constraint = 1 << iota
    KStack
    KConst
)

const (
    KAny = KReg | KStack | KConst
)

type _OpInfo struct {
    name  string
    term  bool
    call  bool
    alive uint8
    kin   Constraint
    kout  Constraint
}

var _OpTab = [...]_OpInfo {
    OpInvalid : { name: "invalid" },
    OpMove    : { name: "mov"   , kin: KAny, kout: KReg | KStack },
    OpLoadArg : { name: "ldarg" , kout: KReg | KStack },
    OpAdd     : { name: "add"   , kin: KReg, kout: KReg },
    OpSub     : { name: "sub"   , kin: KReg, kout: KReg, alive: 0b10 },
    OpMul     : { name: "mul"   , kin: KReg, kout: KReg },
    OpAnd     : { name: "and"   , kin: KReg, kout: KReg },
    OpOr      : { name: "or"    , kin: KReg, kout: KReg },
    OpXor     : { name: "xor"   , kin: KReg, kout: KReg },
    OpShl     : { name: "shl"   , kin: KReg, kout: KReg, alive: 0b10 },
    OpShr     : { name: "shr"   , kin: KReg, kout: KReg, alive: 0b10 },
    OpNeg     : { name: "neg"   , kin: KReg, kout: KReg },
    OpNot     : { name: "not"   , kin: KReg, kout: KReg },
    OpCmpEq   : { name: "cmpeq" , kin: KReg, kout: KReg, alive: 0b11 },
    OpCmpLt   : { name: "cmplt" , kin: KReg, kout: KReg, alive: 0b11 },
    OpCmpLtU  : { name: "cmpltu", kin: KReg, kout: KReg, alive: 0b11 },
    OpLoad    : { name: "load"  , kin: KReg, kout: KReg },
    OpStore   : { name: "store" , kin: KReg },
    OpFence   : { name: "fence" },
    OpCall    : { name: "call"  , call: true, kin: KReg | KStack, kout: KReg },
    OpJump    : { name: "jmp"   , term: true },
    OpJumpIf  : { name: "jnz"   , term: true, kin: KReg },
    OpJumpCmp : { name: "jcc"   , term: true, kin: KReg },
    OpRet     : { name: "ret"   , term: true, kin: KReg | KStack },
    OpPhi     : { name: "phi"   , kin: KAny, kout: KReg | KStack },
}

func (self Op) String() string        { return _OpTab[self].name }
func (self Op) IsTerminator() bool    { return _OpTab[self].term }
func (self Op) IsCall() bool          { return _OpTab[self].call }
func (self Op) InKinds() Constraint   { return _OpTab[self].kin }
func (self Op) OutKinds() Constraint  { return _OpTab[self].kout }

// AliveIn is a bit mask over In: the flagged inputs are still read after the
// output is written (two-address encodings), so they must not share the
// output's register.
func (self Op) AliveIn() uint8        { return _OpTab[self].alive }

// Instr is a single lowered instruction. Out lists definitions, In lists
// uses. Pos is the program point assigned by the allocator numbering,
// instructions sit on even points, odd points fall between two
// instructions.
type Instr struct {
    Op  Op
    Aux int64
    Pos int32
    Out []Operand
    In  []Operand
}

func NewMove(dst Operand, src Operand) *Instr {
    return &Instr { Op: OpMove, Out: []Operand { dst }, In: []Operand { src } }
}

func NewLoadArg(dst Operand, idx int) *Instr {
    return &Instr { Op: OpLoadArg, Out: []Operand { dst }, Aux: int64(idx) }
}

func NewBinary(op Op, dst Operand, lhs Operand, rhs Operand) *Instr {
    return &Instr { Op: op, Out: []Operand { dst }, In: []Operand { lhs, rhs } }
}

func NewUnary(op Op, dst Operand, src Operand) *Instr {
    return &Instr { Op: op, Out: []Operand { dst }, In: []Operand { src } }
}

func NewLoad(dst Operand, addr Operand) *Instr {
    return &Instr { Op: OpLoad, Out: []Operand { dst }, In: []Operand { addr } }
}

func NewStore(addr Operand, val Operand) *Instr {
    return &Instr { Op: OpStore, In: []Operand { addr, val } }
}

func NewFence() *Instr {
    return &Instr { Op: OpFence }
}

func NewCall(out []Operand, in []Operand) *Instr {
    return &Instr { Op: OpCall, Out: out, In: in }
}

func NewJump() *Instr {
    return &Instr { Op: OpJump }
}

func NewJumpIf(cond Operand) *Instr {
    return &Instr { Op: OpJumpIf, In: []Operand { cond } }
}

func NewJumpCmp(cc Cond, lhs Operand, rhs Operand) *Instr {
    return &Instr { Op: OpJumpCmp, Aux: int64(cc), In: []Operand { lhs, rhs } }
}

func NewRet(vals []Operand) *Instr {
    return &Instr { Op: OpRet, In: vals }
}

func NewPhi(dst Operand, srcs []Operand) *Instr {
    return &Instr { Op: OpPhi, Out: []Operand { dst }, In: srcs }
}

func opds(v []Operand) string {
    s := make([]string, 0, len(v))
    for _, p := range v {
        s = append(s, p.String())
    }
    return strings.Join(s, ", ")
}

func (self *Instr) String() string {
    switch self.Op {
        case OpMove    : return fmt.Sprintf("mov %s, %s", self.Out[0], self.In[0])
        case OpLoadArg : return fmt.Sprintf("ldarg %s, #%d", self.Out[0], self.Aux)
        case OpNeg     : fallthrough
        case OpNot     : return fmt.Sprintf("%s %s, %s", self.Op, self.Out[0], self.In[0])
        case OpLoad    : return fmt.Sprintf("load %s, [%s]", self.Out[0], self.In[0])
        case OpStore   : return fmt.Sprintf("store [%s], %s", self.In[0], self.In[1])
        case OpFence   : return "fence"
        case OpCall    : return fmt.Sprintf("call (%s), (%s)", opds(self.Out), opds(self.In))
        case OpJump    : return "jmp"
        case OpJumpIf  : return fmt.Sprintf("jnz %s", self.In[0])
        case OpJumpCmp : return fmt.Sprintf("j%s %s, %s", Cond(self.Aux), self.In[0], self.In[1])
        case OpRet     : return fmt.Sprintf("ret %s", opds(self.In))
        case OpPhi     : return fmt.Sprintf("phi %s, [%s]", self.Out[0], opds(self.In))
        default        : return fmt.Sprintf("%s %s, %s, %s", self.Op, self.Out[0], self.In[0], self.In[1])
    }
}
