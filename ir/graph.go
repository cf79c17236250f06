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

package ir

import (
    `sort`

    `github.com/cloudwego/anvil/internal/utils`
)

// Block is one vertex of the control-flow skeleton. Nodes lists the pinned
// fixed nodes in program order: params and phis first, the terminator last.
// Floating nodes do not appear here until the scheduler places them.
type Block struct {
    id    BlockID
    g     *Graph
    Pred  []BlockID
    Succ  []BlockID
    Nodes []NodeID
}

func (self *Block) ID() BlockID { return self.id }

// Graph is an arena of nodes plus the block skeleton. Node and block ids are
// dense indexes into the arena; a freed node slot holds nil and its id is
// recycled by the next allocation.
type Graph struct {
    entry  BlockID
    nodes  []*Node
    blocks []*Block
    free   []NodeID
    frozen bool
}

func NewGraph() *Graph {
    return &Graph {
        entry: NoBlock,
    }
}

func (self *Graph) Entry() *Block          { return self.blocks[self.entry] }
func (self *Graph) EntryID() BlockID       { return self.entry }
func (self *Graph) NumNodes() int          { return len(self.nodes) }
func (self *Graph) NumBlocks() int         { return len(self.blocks) }
func (self *Graph) Node(id NodeID) *Node   { return self.nodes[id] }
func (self *Graph) Block(id BlockID) *Block { return self.blocks[id] }

// NewBlock appends a fresh empty block. The first block created is the entry.
func (self *Graph) NewBlock() *Block {
    p := &Block {
        id: BlockID(len(self.blocks)),
        g:  self,
    }
    if self.entry == NoBlock {
        self.entry = p.id
    }
    self.blocks = append(self.blocks, p)
    return p
}

func (self *Graph) newNode(op Op, kind Kind, in []NodeID) *Node {
    var id NodeID
    if n := len(self.free); n != 0 {
        id, self.free = self.free[n - 1], self.free[:n - 1]
    } else {
        id = NodeID(len(self.nodes))
        self.nodes = append(self.nodes, nil)
    }
    p := &Node {
        id    : id,
        op    : op,
        kind  : kind,
        block : NoBlock,
        In    : in,
        Mem   : NoNode,
        Loc   : LocNone,
    }
    self.nodes[id] = p
    return p
}

func ids(in []*Node) []NodeID {
    r := make([]NodeID, len(in))
    for i, p := range in { r[i] = p.id }
    return r
}

// Value creates a floating pure value node.
func (self *Graph) Value(op Op, kind Kind, in ...*Node) *Node {
    if op.IsFixed() || op == OpRead {
        panic("ir: not a floating pure op: " + op.String())
    }
    return self.newNode(op, kind, ids(in))
}

// Const creates a floating constant node.
func (self *Graph) Const(kind Kind, v int64) *Node {
    p := self.newNode(OpConst, kind, nil)
    p.Aux = v
    return p
}

// Read creates a floating read of location loc. last is the most recent
// write known not to alias the read; the scheduler never places the read
// where a checkpoint killing loc sits between last and the read.
func (self *Graph) Read(kind Kind, addr *Node, last *Node, loc Location) *Node {
    p := self.newNode(OpRead, kind, []NodeID { addr.id })
    p.Mem = last.id
    p.Loc = loc
    return p
}

// Kill frees a node slot. The id becomes invalid and may be reused.
func (self *Graph) Kill(p *Node) {
    if self.frozen {
        panic("ir: graph is frozen")
    }
    self.nodes[p.id] = nil
    self.free = append(self.free, p.id)
}

func (self *Block) pin(p *Node) *Node {
    p.block = self.id
    self.Nodes = append(self.Nodes, p.id)
    return p
}

// pinHead inserts after the existing params and phis but before everything
// else, keeping the block head section contiguous.
func (self *Block) pinHead(p *Node) *Node {
    i := 0
    g := self.g
    for i < len(self.Nodes) {
        if op := g.nodes[self.Nodes[i]].op; op != OpParam && op != OpPhi {
            break
        }
        i++
    }
    p.block = self.id
    self.Nodes = append(self.Nodes, NoNode)
    copy(self.Nodes[i + 1:], self.Nodes[i:])
    self.Nodes[i] = p.id
    return p
}

func (self *Block) Param(kind Kind, idx int) *Node {
    p := self.g.newNode(OpParam, kind, nil)
    p.Aux = int64(idx)
    return self.pinHead(p)
}

// Phi creates a phi pinned to this block head. Inputs align with Pred order;
// nil inputs may be filled in later with SetPhiInput once back-edge values
// exist.
func (self *Block) Phi(kind Kind, in ...*Node) *Node {
    r := make([]NodeID, len(in))
    for i, v := range in {
        if v == nil {
            r[i] = NoNode
        } else {
            r[i] = v.id
        }
    }
    return self.pinHead(self.g.newNode(OpPhi, kind, r))
}

func (self *Block) SetPhiInput(phi *Node, i int, v *Node) {
    phi.In[i] = v.id
}

func (self *Block) Write(addr *Node, val *Node, loc Location) *Node {
    p := self.g.newNode(OpWrite, KindVoid, []NodeID { addr.id, val.id })
    p.Loc = loc
    return self.pin(p)
}

func (self *Block) Fence(kills ...Location) *Node {
    p := self.g.newNode(OpFence, KindVoid, nil)
    p.Kills = kills
    return self.pin(p)
}

func (self *Block) Call(kind Kind, args ...*Node) *Node {
    p := self.g.newNode(OpCall, kind, ids(args))
    p.Kills = []Location { LocAny }
    return self.pin(p)
}

func (self *Block) edge(to *Block) {
    self.Succ = append(self.Succ, to.id)
    to.Pred = append(to.Pred, self.id)
}

func (self *Block) Branch(cond *Node, then *Block, els *Block) *Node {
    p := self.g.newNode(OpBranch, KindVoid, []NodeID { cond.id })
    self.edge(then)
    self.edge(els)
    return self.pin(p)
}

func (self *Block) Jump(to *Block) *Node {
    p := self.g.newNode(OpJump, KindVoid, nil)
    self.edge(to)
    return self.pin(p)
}

func (self *Block) Return(vals ...*Node) *Node {
    return self.pin(self.g.newNode(OpReturn, KindVoid, ids(vals)))
}

func (self *Node) addUse(u NodeID) {
    i := sort.Search(len(self.uses), func(i int) bool { return self.uses[i] >= u })
    if i < len(self.uses) && self.uses[i] == u {
        return
    }
    self.uses = append(self.uses, NoNode)
    copy(self.uses[i + 1:], self.uses[i:])
    self.uses[i] = u
}

// AddOrdering records that read r must execute before checkpoint c: c gains
// r as an ordering input and r gains c as a usage. The edge carries no value.
func (self *Graph) AddOrdering(r *Node, c *Node) {
    for _, v := range c.Ord {
        if v == r.id {
            return
        }
    }
    i := sort.Search(len(c.Ord), func(i int) bool { return c.Ord[i] >= r.id })
    c.Ord = append(c.Ord, NoNode)
    copy(c.Ord[i + 1:], c.Ord[i:])
    c.Ord[i] = r.id
    r.addUse(c.id)
}

// Freeze validates the graph and computes usage edges. Ordering edges added
// later by the memory scheduler keep the usage lists up to date through
// AddOrdering.
func (self *Graph) Freeze() error {
    if self.frozen {
        return nil
    }

    /* terminators and phi arity */
    for _, b := range self.blocks {
        n := len(b.Nodes)
        if n == 0 || !self.nodes[b.Nodes[n - 1]].op.IsTerminator() {
            return utils.ESched(-1, int64(b.id), "block %s has no terminator", b.id)
        }
        for i, id := range b.Nodes {
            p := self.nodes[id]
            if p.op.IsTerminator() && i != n - 1 {
                return utils.ESched(int64(id), int64(b.id), "terminator %s is not last in %s", id, b.id)
            }
            if p.op == OpPhi {
                if len(p.In) != len(b.Pred) {
                    return utils.ESched(int64(id), int64(b.id), "phi arity %d does not match %d predecessors", len(p.In), len(b.Pred))
                }
                for _, v := range p.In {
                    if v == NoNode {
                        return utils.ESched(int64(id), int64(b.id), "phi input left unset")
                    }
                }
            }
        }
    }

    /* entry must not have predecessors */
    if len(self.blocks[self.entry].Pred) != 0 {
        return utils.ESched(-1, int64(self.entry), "entry block has predecessors")
    }

    /* every reachable input must resolve to a live node */
    for _, p := range self.nodes {
        if p == nil {
            continue
        }
        for _, v := range p.In {
            if v == NoNode || self.nodes[v] == nil {
                return utils.ESched(int64(p.id), int64(p.block), "dangling input on %s", p.id)
            }
            self.nodes[v].addUse(p.id)
        }
        if p.Mem != NoNode {
            if self.nodes[p.Mem] == nil || !self.nodes[p.Mem].op.IsCheckpoint() {
                return utils.ESched(int64(p.id), -1, "memory input of %s is not a checkpoint", p.id)
            }
            self.nodes[p.Mem].addUse(p.id)
        }
    }

    self.frozen = true
    return nil
}
