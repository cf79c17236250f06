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

// Package lir defines the lowered instruction form the register allocator
// works on: straight-line blocks of instructions over an unbounded space of
// virtual registers, with phis still in place at block heads.
package lir

import (
    `fmt`
    `strings`

    `github.com/cloudwego/anvil/ir`
)

// Block is one basic block of lowered code. Pred order is significant, phi
// inputs align with it. The last instruction is always a terminator and
// branch targets follow Succ order.
type Block struct {
    ID   ir.BlockID
    Pred []ir.BlockID
    Succ []ir.BlockID
    Code []*Instr
}

func (self *Block) Last() *Instr {
    return self.Code[len(self.Code) - 1]
}

// NumPhis counts the phi head section of the block.
func (self *Block) NumPhis() int {
    i := 0
    for i < len(self.Code) && self.Code[i].Op == OpPhi {
        i++
    }
    return i
}

type Const struct {
    Kind ir.Kind
    Val  int64
}

// Loop is one natural loop, carried over from the CFG analysis. Blocks
// includes the header.
type Loop struct {
    Header ir.BlockID
    Blocks []ir.BlockID
}

// Program is a whole lowered function. Blocks is dense by block id, Order
// is the layout order starting at Entry, Depth carries the loop depth per
// block for trace construction and spill weighting.
type Program struct {
    Entry  ir.BlockID
    Order  []ir.BlockID
    Blocks []*Block
    Depth  []int32
    Loops  []Loop
    Consts []Const
    Kinds  []ir.Kind
}

func classOf(kind ir.Kind) Class {
    if kind == ir.KindFloat {
        return FP
    } else {
        return GP
    }
}

func (self *Program) Block(id ir.BlockID) *Block {
    return self.Blocks[id]
}

func (self *Program) NumVar() int {
    return len(self.Kinds)
}

// NewVar allocates a fresh virtual register of the given kind.
func (self *Program) NewVar(kind ir.Kind) Operand {
    self.Kinds = append(self.Kinds, kind)
    return Var(classOf(kind), len(self.Kinds) - 1)
}

// ClassOf returns the register class of a virtual register.
func (self *Program) ClassOf(v int) Class {
    return classOf(self.Kinds[v])
}

// AddConst interns a constant into the pool and returns a reference to it.
func (self *Program) AddConst(kind ir.Kind, val int64) Operand {
    for i, c := range self.Consts {
        if c.Kind == kind && c.Val == val {
            return ConstRef(classOf(kind), i)
        }
    }
    self.Consts = append(self.Consts, Const { Kind: kind, Val: val })
    return ConstRef(classOf(kind), len(self.Consts) - 1)
}

// NewBlock appends an empty block and returns it.
func (self *Program) NewBlock() *Block {
    p := &Block { ID: ir.BlockID(len(self.Blocks)) }
    self.Blocks = append(self.Blocks, p)
    self.Depth = append(self.Depth, 0)
    return p
}

func (self *Program) String() string {
    var sb strings.Builder
    for _, id := range self.Order {
        bb := self.Blocks[id]
        ps := make([]string, 0, len(bb.Pred))
        for _, p := range bb.Pred {
            ps = append(ps, p.String())
        }
        if len(ps) == 0 {
            fmt.Fprintf(&sb, "%s:\n", bb.ID)
        } else {
            fmt.Fprintf(&sb, "%s: ; preds: %s\n", bb.ID, strings.Join(ps, ", "))
        }
        for _, p := range bb.Code {
            if p.Pos != 0 {
                fmt.Fprintf(&sb, "%4d    %s\n", p.Pos, p)
            } else {
                fmt.Fprintf(&sb, "        %s\n", p)
            }
        }
    }
    return sb.String()
}
