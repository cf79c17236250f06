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
    `github.com/cloudwego/anvil/internal/cfg`
    `github.com/cloudwego/anvil/internal/sched`
    `github.com/cloudwego/anvil/internal/utils`
    `github.com/cloudwego/anvil/ir`
)

// Lower flattens a scheduled graph into a Program: one instruction per
// scheduled node in block order, a dense virtual register per value, phis
// kept at block heads with inputs aligned to predecessor order, constants
// interned into the pool. A comparison fuses into its branch when the branch
// is its only reader and both sit in one block. Critical edges are split
// with relay blocks so boundary resolution always has an insertion point.
func Lower(g *ir.Graph, c *cfg.CFG, s *sched.Schedule) (*Program, error) {
    lw := _Lowerer {
        g    : g,
        c    : c,
        s    : s,
        vals : make([]Operand, g.NumNodes()),
        fuse : make([]bool, g.NumNodes()),
        p    : &Program { Entry: g.EntryID() },
    }
    return lw.lower()
}

type _Lowerer struct {
    g    *ir.Graph
    c    *cfg.CFG
    s    *sched.Schedule
    p    *Program
    vals []Operand
    fuse []bool
}

var _UnaryTab = map[ir.Op]Op {
    ir.OpNeg : OpNeg,
    ir.OpNot : OpNot,
}

var _BinaryTab = map[ir.Op]Op {
    ir.OpAdd    : OpAdd,
    ir.OpSub    : OpSub,
    ir.OpMul    : OpMul,
    ir.OpAnd    : OpAnd,
    ir.OpOr     : OpOr,
    ir.OpXor    : OpXor,
    ir.OpShl    : OpShl,
    ir.OpShr    : OpShr,
    ir.OpCmpEq  : OpCmpEq,
    ir.OpCmpLt  : OpCmpLt,
    ir.OpCmpLtU : OpCmpLtU,
}

var _CondTab = map[ir.Op]Cond {
    ir.OpCmpEq  : CondEq,
    ir.OpCmpLt  : CondLt,
    ir.OpCmpLtU : CondLtU,
}

func (self *_Lowerer) lower() (*Program, error) {
    self.mirrorBlocks()
    self.markFusion()
    self.defineVars()

    /* emit every block in layout order */
    for _, bb := range self.c.Order {
        if err := self.lowerBlock(bb.ID()); err != nil {
            return nil, err
        }
    }

    self.copyLoops()
    self.splitCriticalEdges()
    return self.p, nil
}

/* one lir block per graph block, same dense ids; edges are copied, the
 * splitter rewires them without touching the frozen graph */
func (self *_Lowerer) mirrorBlocks() {
    nb := self.g.NumBlocks()
    for i := 0; i < nb; i++ {
        bb := self.g.Block(ir.BlockID(i))
        pp := self.p.NewBlock()
        pp.Pred = append([]ir.BlockID(nil), bb.Pred...)
        pp.Succ = append([]ir.BlockID(nil), bb.Succ...)
        self.p.Depth[i] = self.c.LoopDepth[i]
    }
    for _, bb := range self.c.Order {
        self.p.Order = append(self.p.Order, bb.ID())
    }
}

/* a comparison whose only reader is the branch of its own block becomes the
 * branch condition, no standalone value is materialized */
func (self *_Lowerer) markFusion() {
    for _, bb := range self.c.Order {
        term := self.g.Node(bb.Nodes[len(bb.Nodes) - 1])
        if term.Op() != ir.OpBranch {
            continue
        }
        cond := self.g.Node(term.In[0])
        switch cond.Op() {
            case ir.OpCmpEq, ir.OpCmpLt, ir.OpCmpLtU: break
            default: continue
        }
        u := cond.Uses()
        if self.s.BlockOf[cond.ID()] == bb.ID() && len(u) == 1 && u[0] == term.ID() {
            self.fuse[cond.ID()] = true
        }
    }
}

/* virtual registers are handed out in node order so the numbering does not
 * depend on the schedule */
func (self *_Lowerer) defineVars() {
    for i, n := 0, self.g.NumNodes(); i < n; i++ {
        p := self.g.Node(ir.NodeID(i))
        if p == nil || self.fuse[i] {
            continue
        }
        if p.Op().HasValue() && p.Kind() != ir.KindVoid {
            self.vals[i] = self.p.NewVar(p.Kind())
        }
    }
}

func (self *_Lowerer) use(n *ir.Node, id ir.NodeID) (Operand, error) {
    if v := self.vals[id]; v != None {
        return v, nil
    }
    return None, utils.ESched(int64(n.ID()), int64(n.Block()), "input %s of %s has no value", id, n.ID())
}

func (self *_Lowerer) uses(n *ir.Node, ids []ir.NodeID) ([]Operand, error) {
    r := make([]Operand, len(ids))
    for i, id := range ids {
        v, err := self.use(n, id)
        if err != nil {
            return nil, err
        }
        r[i] = v
    }
    return r, nil
}

func (self *_Lowerer) lowerBlock(b ir.BlockID) error {
    bb := self.p.Block(b)
    for _, id := range self.s.Order[b] {
        n := self.g.Node(id)
        if self.fuse[id] {
            continue
        }
        ins, err := self.lowerNode(b, n)
        if err != nil {
            return err
        }
        if ins != nil {
            bb.Code = append(bb.Code, ins)
        }
    }
    return nil
}

func (self *_Lowerer) lowerNode(b ir.BlockID, n *ir.Node) (*Instr, error) {
    switch n.Op() {
        case ir.OpConst:
            return NewMove(self.vals[n.ID()], self.p.AddConst(n.Kind(), n.Aux)), nil

        case ir.OpParam:
            return NewLoadArg(self.vals[n.ID()], int(n.Aux)), nil

        case ir.OpPhi:
            in, err := self.uses(n, n.In)
            if err != nil {
                return nil, err
            }
            return NewPhi(self.vals[n.ID()], in), nil

        case ir.OpNeg, ir.OpNot:
            src, err := self.use(n, n.In[0])
            if err != nil {
                return nil, err
            }
            return NewUnary(_UnaryTab[n.Op()], self.vals[n.ID()], src), nil

        case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor,
             ir.OpShl, ir.OpShr, ir.OpCmpEq, ir.OpCmpLt, ir.OpCmpLtU:
            in, err := self.uses(n, n.In)
            if err != nil {
                return nil, err
            }
            return NewBinary(_BinaryTab[n.Op()], self.vals[n.ID()], in[0], in[1]), nil

        case ir.OpRead:
            addr, err := self.use(n, n.In[0])
            if err != nil {
                return nil, err
            }
            return NewLoad(self.vals[n.ID()], addr), nil

        case ir.OpWrite:
            in, err := self.uses(n, n.In)
            if err != nil {
                return nil, err
            }
            return NewStore(in[0], in[1]), nil

        case ir.OpFence:
            return NewFence(), nil

        case ir.OpCall:
            in, err := self.uses(n, n.In)
            if err != nil {
                return nil, err
            }
            if n.Kind() == ir.KindVoid {
                return NewCall(nil, in), nil
            }
            return NewCall([]Operand { self.vals[n.ID()] }, in), nil

        case ir.OpBranch:
            return self.lowerBranch(n)

        case ir.OpJump:
            return NewJump(), nil

        case ir.OpReturn:
            in, err := self.uses(n, n.In)
            if err != nil {
                return nil, err
            }
            return NewRet(in), nil

        default:
            return nil, utils.ESched(int64(n.ID()), int64(b), "cannot lower %s", n.Op())
    }
}

func (self *_Lowerer) lowerBranch(n *ir.Node) (*Instr, error) {
    cond := self.g.Node(n.In[0])
    if !self.fuse[cond.ID()] {
        v, err := self.use(n, n.In[0])
        if err != nil {
            return nil, err
        }
        return NewJumpIf(v), nil
    }
    in, err := self.uses(cond, cond.In)
    if err != nil {
        return nil, err
    }
    return NewJumpCmp(_CondTab[cond.Op()], in[0], in[1]), nil
}

func (self *_Lowerer) copyLoops() {
    for _, l := range self.c.Loops {
        self.p.Loops = append(self.p.Loops, Loop {
            Header : l.Header,
            Blocks : append([]ir.BlockID(nil), l.Blocks...),
        })
    }
}

// splitCriticalEdges inserts a relay block on every edge from a multi-exit
// block into a multi-entry block. Relays land in layout order right after
// their predecessor and join every loop containing both endpoints, keeping
// the one-sweep liveness approximation valid for them.
func (self *_Lowerer) splitCriticalEdges() {
    nb := len(self.p.Blocks)
    relays := make(map[ir.BlockID][]ir.BlockID)

    for i := 0; i < nb; i++ {
        a := self.p.Blocks[i]
        if len(a.Succ) < 2 {
            continue
        }
        for k, sid := range a.Succ {
            b := self.p.Block(sid)
            if len(b.Pred) < 2 {
                continue
            }
            r := self.p.NewBlock()
            r.Code = []*Instr { NewJump() }
            r.Pred = []ir.BlockID { a.ID }
            r.Succ = []ir.BlockID { sid }
            a.Succ[k] = r.ID
            for j, pb := range b.Pred {
                if pb == a.ID {
                    b.Pred[j] = r.ID
                    break
                }
            }
            self.p.Depth[r.ID] = utils.MinI32(self.p.Depth[a.ID], self.p.Depth[sid])
            for li := range self.p.Loops {
                if self.c.Loops[li].Contains(a.ID) && self.c.Loops[li].Contains(sid) {
                    self.p.Loops[li].Blocks = append(self.p.Loops[li].Blocks, r.ID)
                }
            }
            relays[a.ID] = append(relays[a.ID], r.ID)
        }
    }

    if len(relays) == 0 {
        return
    }
    order := make([]ir.BlockID, 0, len(self.p.Order) + len(relays))
    for _, b := range self.p.Order {
        order = append(order, b)
        order = append(order, relays[b]...)
    }
    self.p.Order = order
}
