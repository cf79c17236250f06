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

// Package ir models the input dependency graph consumed by the backend: a
// block skeleton of fixed control nodes plus floating value nodes that the
// scheduler assigns to blocks. Nodes live in an arena and refer to each other
// through dense integer ids, never through pointers.
package ir

import (
    `fmt`
)

type (
    NodeID  int32
    BlockID int32
)

const (
    NoNode  NodeID  = -1
    NoBlock BlockID = -1
)

func (self NodeID) String() string {
    if self == NoNode {
        return "v?"
    } else {
        return fmt.Sprintf("v%d", int32(self))
    }
}

func (self BlockID) String() string {
    if self == NoBlock {
        return "b?"
    } else {
        return fmt.Sprintf("b%d", int32(self))
    }
}

// Location identifies a disjoint memory aliasing class. LocAny is the
// wildcard that aliases every class; a checkpoint killing LocAny invalidates
// every previously read value.
type Location int32

const (
    LocAny  Location = -1
    LocNone Location = -2
)

func (self Location) String() string {
    switch self {
        case LocAny  : return "any"
        case LocNone : return "none"
        default      : return fmt.Sprintf("loc%d", int32(self))
    }
}

// Kind is the value class of a node, which decides the register class its
// operand will be allocated from.
type Kind uint8

const (
    KindVoid Kind = iota
    KindWord
    KindPtr
    KindFloat
)

var _KindNames = [...]string {
    KindVoid  : "void",
    KindWord  : "word",
    KindPtr   : "ptr",
    KindFloat : "float",
}

func (self Kind) String() string {
    return _KindNames[self]
}

type Op uint8

const (
    OpInvalid Op = iota
    OpConst
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
    OpRead
    OpParam
    OpPhi
    OpWrite
    OpFence
    OpCall
    OpBranch
    OpJump
    OpReturn
)

const (
    _F_fixed = 1 << iota    // pinned to a block, never moved by the scheduler
    _F_term                 // block terminator
    _F_chkpt                // memory checkpoint, may invalidate reads
    _F_value                // produces a value
)

var _OpNames = [...]string {
    OpInvalid : "invalid",
    OpConst   : "const",
    OpAdd     : "add",
    OpSub     : "sub",
    OpMul     : "mul",
    OpAnd     : "and",
    OpOr      : "or",
    OpXor     : "xor",
    OpShl     : "shl",
    OpShr     : "shr",
    OpNeg     : "neg",
    OpNot     : "not",
    OpCmpEq   : "cmpeq",
    OpCmpLt   : "cmplt",
    OpCmpLtU  : "cmpltu",
    OpRead    : "read",
    OpParam   : "param",
    OpPhi     : "phi",
    OpWrite   : "write",
    OpFence   : "fence",
    OpCall    : "call",
    OpBranch  : "branch",
    OpJump    : "jump",
    OpReturn  : "return",
}

var _OpFlags = [...]uint8 {
    OpConst  : _F_value,
    OpAdd    : _F_value,
    OpSub    : _F_value,
    OpMul    : _F_value,
    OpAnd    : _F_value,
    OpOr     : _F_value,
    OpXor    : _F_value,
    OpShl    : _F_value,
    OpShr    : _F_value,
    OpNeg    : _F_value,
    OpNot    : _F_value,
    OpCmpEq  : _F_value,
    OpCmpLt  : _F_value,
    OpCmpLtU : _F_value,
    OpRead   : _F_value,
    OpParam  : _F_fixed | _F_value,
    OpPhi    : _F_fixed | _F_value,
    OpWrite  : _F_fixed | _F_chkpt,
    OpFence  : _F_fixed | _F_chkpt,
    OpCall   : _F_fixed | _F_chkpt | _F_value,
    OpBranch : _F_fixed | _F_term,
    OpJump   : _F_fixed | _F_term,
    OpReturn : _F_fixed | _F_term,
}

func (self Op) String() string {
    if int(self) < len(_OpNames) && _OpNames[self] != "" {
        return _OpNames[self]
    } else {
        return fmt.Sprintf("op(%d)", uint8(self))
    }
}

func (self Op) IsFixed() bool       { return _OpFlags[self] & _F_fixed != 0 }
func (self Op) IsTerminator() bool  { return _OpFlags[self] & _F_term != 0 }
func (self Op) IsCheckpoint() bool  { return _OpFlags[self] & _F_chkpt != 0 }
func (self Op) HasValue() bool      { return _OpFlags[self] & _F_value != 0 }

// Node is one vertex of the dependency graph. In lists value inputs, Mem is
// the last-known unaliased write of a floating read, and Ord holds the
// ordering inputs the memory scheduler adds to force reads before a killing
// checkpoint. Ord edges carry no value.
type Node struct {
    id    NodeID
    op    Op
    kind  Kind
    block BlockID
    In    []NodeID
    Mem   NodeID
    Ord   []NodeID
    Loc   Location
    Kills []Location
    Aux   int64
    uses  []NodeID
}

func (self *Node) ID() NodeID     { return self.id }
func (self *Node) Op() Op         { return self.op }
func (self *Node) Kind() Kind     { return self.kind }
func (self *Node) Block() BlockID { return self.block }
func (self *Node) Uses() []NodeID { return self.uses }

// KillsLoc reports whether this node is a checkpoint that invalidates
// location l.
func (self *Node) KillsLoc(l Location) bool {
    if !self.op.IsCheckpoint() {
        return false
    }
    if self.op == OpWrite {
        return l == LocAny || self.Loc == LocAny || self.Loc == l
    }
    for _, k := range self.Kills {
        if l == LocAny || k == LocAny || k == l {
            return true
        }
    }
    return false
}

func (self *Node) String() string {
    switch self.op {
        case OpConst  : return fmt.Sprintf("%s = const %d", self.id, self.Aux)
        case OpParam  : return fmt.Sprintf("%s = param #%d", self.id, self.Aux)
        case OpRead   : return fmt.Sprintf("%s = read [%s] @%s", self.id, self.In[0], self.Loc)
        case OpWrite  : return fmt.Sprintf("write [%s] <- %s @%s", self.In[0], self.In[1], self.Loc)
        case OpFence  : return fmt.Sprintf("fence %v", self.Kills)
        case OpBranch : return fmt.Sprintf("branch %s", self.In[0])
        case OpJump   : return "jump"
        case OpReturn : return "return"
        default       : break
    }
    s := ""
    if self.op.HasValue() {
        s = self.id.String() + " = "
    }
    s += self.op.String()
    for i, v := range self.In {
        if i == 0 {
            s += " " + v.String()
        } else {
            s += ", " + v.String()
        }
    }
    return s
}
