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
)

// Class splits the machine into the two register files. Every operand
// belongs to exactly one class, moves never cross classes.
type Class uint8

const (
    GP Class = iota
    FP
)

func (self Class) String() string {
    if self == FP {
        return "fp"
    } else {
        return "gp"
    }
}

// Operand is a packed operand reference: the kind and register class live
// in the topmost bits, the index in the lower half. Before allocation every
// value operand is a Var, afterwards only Reg and Slot remain.
type Operand uint64

const (
    _B_kind  = 60
    _B_class = 59
)

const (
    _M_kind  = 0x0f
    _M_index = (1 << 32) - 1
)

const (
    _K_none  = 0
    _K_var   = 1
    _K_reg   = 2
    _K_slot  = 3
    _K_const = 4
)

const (
    None Operand = 0
)

func mkop(kind uint64, class Class, index int) Operand {
    if index < 0 || uint64(index) > _M_index {
        panic("lir: operand index out of range")
    } else {
        return Operand((kind << _B_kind) | (uint64(class & 1) << _B_class) | uint64(index))
    }
}

// Var creates an unallocated virtual register operand.
func Var(class Class, id int) Operand {
    return mkop(_K_var, class, id)
}

// Reg creates a physical register operand. The index is target specific.
func Reg(class Class, r int) Operand {
    return mkop(_K_reg, class, r)
}

// Slot creates a stack slot operand. Slot indexes count canonical spill
// slots from zero, the target decides the actual frame offsets.
func Slot(class Class, s int) Operand {
    return mkop(_K_slot, class, s)
}

// ConstRef creates a reference into the constant pool of the program.
func ConstRef(class Class, idx int) Operand {
    return mkop(_K_const, class, idx)
}

func (self Operand) kind() uint64 {
    return uint64(self >> _B_kind) & _M_kind
}

func (self Operand) IsNone() bool  { return self.kind() == _K_none }
func (self Operand) IsVar() bool   { return self.kind() == _K_var }
func (self Operand) IsReg() bool   { return self.kind() == _K_reg }
func (self Operand) IsSlot() bool  { return self.kind() == _K_slot }
func (self Operand) IsConst() bool { return self.kind() == _K_const }

func (self Operand) Class() Class {
    return Class(self >> _B_class) & 1
}

func (self Operand) Index() int {
    return int(self & _M_index)
}

func (self Operand) String() string {
    switch self.kind() {
        case _K_none  : return "_"
        case _K_var   : if self.Class() == FP { return fmt.Sprintf("%%%df", self.Index()) } else { return fmt.Sprintf("%%%d", self.Index()) }
        case _K_reg   : if self.Class() == FP { return fmt.Sprintf("F%d", self.Index()) } else { return fmt.Sprintf("R%d", self.Index()) }
        case _K_slot  : if self.Class() == FP { return fmt.Sprintf("S%df", self.Index()) } else { return fmt.Sprintf("S%d", self.Index()) }
        case _K_const : return fmt.Sprintf("C%d", self.Index())
        default       : return "???"
    }
}
