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

package sched

import (
    `math/rand`
    `reflect`
    `testing`

    `github.com/cloudwego/anvil/internal/cfg`
    `github.com/cloudwego/anvil/ir`
)

func mustRun(t *testing.T, g *ir.Graph, strat Strategy, mem MemMode) (*cfg.CFG, *Schedule) {
    t.Helper()
    c, err := cfg.Build(g)
    if err != nil {
        t.Fatal("cfg build failed:", err)
    }
    s, err := Run(g, c, strat, mem)
    if err != nil {
        t.Fatal("scheduling failed:", err)
    }
    return c, s
}

func indexOf(order []ir.NodeID, id ir.NodeID) int {
    for i, v := range order {
        if v == id {
            return i
        }
    }
    return -1
}

// a diamond with a write to the read's location on one arm only: the read
// must stay in front of the branch, sinking it to the merge would let the
// left arm clobber it.
func buildDiamondRead(t *testing.T) (*ir.Graph, *ir.Node, [4]*ir.Block) {
    g := ir.NewGraph()
    b0 := g.NewBlock()
    b1 := g.NewBlock()
    b2 := g.NewBlock()
    b3 := g.NewBlock()

    p := b0.Param(ir.KindPtr, 0)
    c := b0.Param(ir.KindWord, 1)
    v := g.Const(ir.KindWord, 42)
    w := b0.Write(p, v, ir.Location(1))
    r := g.Read(ir.KindWord, p, w, ir.Location(1))
    b0.Branch(c, b1, b2)

    b1.Write(p, g.Const(ir.KindWord, 7), ir.Location(1))
    b1.Jump(b3)
    b2.Jump(b3)
    b3.Return(r)
    return g, r, [4]*ir.Block { b0, b1, b2, b3 }
}

func TestSched_ReadStaysAheadOfBranchKill(t *testing.T) {
    g, r, bs := buildDiamondRead(t)
    _, s := mustRun(t, g, Latest{OutOfLoops: true}, MemOptimal)
    if got := s.BlockOf[r.ID()]; got != bs[0].ID() {
        t.Fatalf("read scheduled in %s, want %s", got, bs[0].ID())
    }
}

func TestSched_ReadSinksWithoutMemoryAwareness(t *testing.T) {
    g, r, bs := buildDiamondRead(t)
    _, s := mustRun(t, g, Latest{OutOfLoops: true}, MemOff)
    if got := s.BlockOf[r.ID()]; got != bs[3].ID() {
        t.Fatalf("read scheduled in %s, want %s", got, bs[3].ID())
    }
}

func TestSched_ConservativeMatchesOptimalOnDiamond(t *testing.T) {
    g, r, bs := buildDiamondRead(t)
    _, s := mustRun(t, g, Latest{OutOfLoops: true}, MemConservative)
    if got := s.BlockOf[r.ID()]; got != bs[0].ID() {
        t.Fatalf("read scheduled in %s, want %s", got, bs[0].ID())
    }
}

func buildLoopInvariant(t *testing.T) (*ir.Graph, *ir.Node, *ir.Node, [4]*ir.Block) {
    g := ir.NewGraph()
    b0 := g.NewBlock()
    b1 := g.NewBlock()
    b2 := g.NewBlock()
    b3 := g.NewBlock()

    a := b0.Param(ir.KindWord, 0)
    b := b0.Param(ir.KindWord, 1)
    n := b0.Param(ir.KindWord, 2)
    p := b0.Param(ir.KindPtr, 3)
    zero := g.Const(ir.KindWord, 0)
    one := g.Const(ir.KindWord, 1)
    b0.Jump(b1)

    i := b1.Phi(ir.KindWord, zero, nil)
    cond := g.Value(ir.OpCmpLt, ir.KindWord, i, n)
    b1.Branch(cond, b2, b3)

    x := g.Value(ir.OpAdd, ir.KindWord, a, b)
    b2.Write(p, x, ir.Location(1))
    i2 := g.Value(ir.OpAdd, ir.KindWord, i, one)
    b1.SetPhiInput(i, 1, i2)
    b2.Jump(b1)

    b3.Return(i)
    return g, x, i2, [4]*ir.Block { b0, b1, b2, b3 }
}

func TestSched_HoistOutOfLoops(t *testing.T) {
    g, x, i2, bs := buildLoopInvariant(t)
    _, s := mustRun(t, g, Latest{OutOfLoops: true}, MemOptimal)
    if got := s.BlockOf[x.ID()]; got != bs[0].ID() {
        t.Fatalf("invariant add scheduled in %s, want %s", got, bs[0].ID())
    }
    if got := s.BlockOf[i2.ID()]; got != bs[2].ID() {
        t.Fatalf("loop-carried add scheduled in %s, want %s", got, bs[2].ID())
    }
}

func TestSched_LatestKeepsInvariantInLoop(t *testing.T) {
    g, x, _, bs := buildLoopInvariant(t)
    _, s := mustRun(t, g, Latest{OutOfLoops: false}, MemOptimal)
    if got := s.BlockOf[x.ID()]; got != bs[2].ID() {
        t.Fatalf("add scheduled in %s, want %s", got, bs[2].ID())
    }
}

func TestSched_EarliestPinsToDefinitions(t *testing.T) {
    g, x, i2, bs := buildLoopInvariant(t)
    _, s := mustRun(t, g, Earliest{}, MemOff)
    if got := s.BlockOf[x.ID()]; got != bs[0].ID() {
        t.Fatalf("add scheduled in %s, want %s", got, bs[0].ID())
    }
    if got := s.BlockOf[i2.ID()]; got != bs[1].ID() {
        t.Fatalf("loop-carried add scheduled in %s, want %s", got, bs[1].ID())
    }
}

func TestSched_ConservativeOrdersReadBeforeCall(t *testing.T) {
    g := ir.NewGraph()
    b0 := g.NewBlock()
    b1 := g.NewBlock()

    p := b0.Param(ir.KindPtr, 0)
    v := g.Const(ir.KindWord, 1)
    w := b0.Write(p, v, ir.Location(2))
    r := g.Read(ir.KindWord, p, w, ir.Location(2))
    k := b0.Call(ir.KindVoid, p)
    b0.Jump(b1)
    b1.Return(r)

    _, s := mustRun(t, g, Latest{OutOfLoops: true}, MemConservative)
    if got := s.BlockOf[r.ID()]; got != b0.ID() {
        t.Fatalf("read scheduled in %s, want %s", got, b0.ID())
    }

    ord := s.Order[b0.ID()]
    ri := indexOf(ord, r.ID())
    ki := indexOf(ord, k.ID())
    wi := indexOf(ord, w.ID())
    if ri < 0 || ki < 0 || wi < 0 {
        t.Fatalf("missing nodes in order %v", ord)
    }
    if !(wi < ri && ri < ki) {
        t.Fatalf("want write < read < call, got order %v", ord)
    }
}

func TestSched_OptimalRejectsUnsatisfiableRead(t *testing.T) {
    g := ir.NewGraph()
    b0 := g.NewBlock()
    b1 := g.NewBlock()
    b2 := g.NewBlock()
    b3 := g.NewBlock()

    p := b0.Param(ir.KindPtr, 0)
    c := b0.Param(ir.KindWord, 1)
    a := b0.Param(ir.KindPtr, 2)
    b := b0.Param(ir.KindPtr, 3)
    w := b0.Write(p, g.Const(ir.KindWord, 3), ir.Location(1))
    b0.Branch(c, b1, b2)

    b1.Fence(ir.Location(1))
    b1.Jump(b3)
    b2.Jump(b3)

    x := b3.Phi(ir.KindPtr, a, b)
    r := g.Read(ir.KindWord, x, w, ir.Location(1))
    b3.Return(r)

    cc, err := cfg.Build(g)
    if err != nil {
        t.Fatal("cfg build failed:", err)
    }
    if _, err = Run(g, cc, Latest{OutOfLoops: true}, MemOptimal); err == nil {
        t.Fatal("want scheduling error for a read killed before its operands")
    } else {
        t.Log(err)
    }
}

func TestSched_LoopBodyKillPinsRead(t *testing.T) {
    g := ir.NewGraph()
    b0 := g.NewBlock()
    b1 := g.NewBlock()
    b2 := g.NewBlock()
    b3 := g.NewBlock()

    p := b0.Param(ir.KindPtr, 0)
    n := b0.Param(ir.KindWord, 1)
    zero := g.Const(ir.KindWord, 0)
    one := g.Const(ir.KindWord, 1)
    w := b0.Write(p, one, ir.Location(5))
    r := g.Read(ir.KindWord, p, w, ir.Location(5))
    b0.Jump(b1)

    i := b1.Phi(ir.KindWord, zero, nil)
    cond := g.Value(ir.OpCmpLt, ir.KindWord, i, n)
    b1.Branch(cond, b2, b3)

    b2.Write(p, i, ir.Location(5))
    i2 := g.Value(ir.OpAdd, ir.KindWord, i, one)
    b1.SetPhiInput(i, 1, i2)
    b2.Jump(b1)

    b3.Return(r)

    /* the loop body kills the location, the read is used after the loop:
     * it must stay in the entry block ahead of the whole loop */
    _, s := mustRun(t, g, Latest{OutOfLoops: true}, MemOptimal)
    if got := s.BlockOf[r.ID()]; got != b0.ID() {
        t.Fatalf("read scheduled in %s, want %s", got, b0.ID())
    }
}

func TestSched_Idempotent(t *testing.T) {
    g, _, _, _ := buildLoopInvariant(t)
    c, err := cfg.Build(g)
    if err != nil {
        t.Fatal("cfg build failed:", err)
    }
    s1, err := Run(g, c, Latest{OutOfLoops: true}, MemOptimal)
    if err != nil {
        t.Fatal("first run failed:", err)
    }
    s2, err := Run(g, c, Latest{OutOfLoops: true}, MemOptimal)
    if err != nil {
        t.Fatal("second run failed:", err)
    }
    if !reflect.DeepEqual(s1.BlockOf, s2.BlockOf) {
        t.Fatal("block assignment changed between runs")
    }
    if !reflect.DeepEqual(s1.Order, s2.Order) {
        t.Fatal("block order changed between runs")
    }
}

func TestSched_BlockShapeInvariants(t *testing.T) {
    g, _, _, _ := buildLoopInvariant(t)
    c, s := mustRun(t, g, Latest{OutOfLoops: true}, MemOptimal)

    for _, bb := range c.Order {
        ord := s.Order[bb.ID()]
        if len(ord) == 0 {
            t.Fatalf("empty order for %s", bb.ID())
        }
        if !g.Node(ord[len(ord) - 1]).Op().IsTerminator() {
            t.Fatalf("%s does not end with a terminator: %v", bb.ID(), ord)
        }
        tail := false
        for _, id := range ord[:len(ord) - 1] {
            op := g.Node(id).Op()
            if op.IsTerminator() {
                t.Fatalf("terminator in the middle of %s: %v", bb.ID(), ord)
            }
            if op == ir.OpParam || op == ir.OpPhi {
                if tail {
                    t.Fatalf("phi or param outside the head of %s: %v", bb.ID(), ord)
                }
            } else {
                tail = true
            }
        }
    }
}

/* a random forward-branching graph over one memory location: the entry block
 * writes it and defines a read of that write, interior blocks may clobber it,
 * the final block returns the read */
func randomKillGraph(r *rand.Rand, nb int) (*ir.Graph, *ir.Node, *ir.Node, []ir.NodeID) {
    g := ir.NewGraph()
    bs := make([]*ir.Block, nb)
    for i := range bs {
        bs[i] = g.NewBlock()
    }

    p := bs[0].Param(ir.KindPtr, 0)
    c := bs[0].Param(ir.KindWord, 1)
    w := bs[0].Write(p, g.Const(ir.KindWord, 42), ir.Location(1))
    rd := g.Read(ir.KindWord, p, w, ir.Location(1))

    var kills []ir.NodeID
    for i := 1; i < nb - 1; i++ {
        switch r.Intn(3) {
            case 0  : kills = append(kills, bs[i].Write(p, g.Const(ir.KindWord, int64(i)), ir.Location(1)).ID())
            case 1  : bs[i].Write(p, g.Const(ir.KindWord, int64(i)), ir.Location(2))
        }
    }

    /* the chain edge keeps every block reachable, the optional second target
     * skips ahead */
    for i := 0; i < nb - 1; i++ {
        if j := i + 2 + r.Intn(nb - i - 1); j < nb && r.Intn(2) == 0 {
            bs[i].Branch(c, bs[i + 1], bs[j])
        } else {
            bs[i].Jump(bs[i + 1])
        }
    }
    bs[nb - 1].Return(rd)
    return g, w, rd, kills
}

/* every control path from the write to the read must be free of clobbers of
 * the read's location between the two */
func checkReadPlacement(t *testing.T, g *ir.Graph, s *Schedule, w *ir.Node, rd *ir.Node, kills []ir.NodeID) {
    t.Helper()
    wb := s.BlockOf[w.ID()]
    rb := s.BlockOf[rd.ID()]
    killset := make(map[ir.NodeID]bool, len(kills))
    for _, k := range kills {
        killset[k] = true
    }

    clean := func(b ir.BlockID, lo int, hi int) {
        for _, id := range s.Order[b][lo:hi] {
            if killset[id] {
                t.Fatalf("clobber %d between write and read in %s", id, b)
            }
        }
    }

    wi := indexOf(s.Order[wb], w.ID())
    ri := indexOf(s.Order[rb], rd.ID())
    if wi < 0 || ri < 0 {
        t.Fatal("write or read missing from its block order")
    }
    if wb == rb {
        clean(wb, wi + 1, ri)
        return
    }

    /* forward graph, walk every path from the write's block, stopping at the
     * read's block; the read must dominate every exit it is live on */
    clean(wb, wi + 1, len(s.Order[wb]))
    seen := make(map[ir.BlockID]bool)
    var walk func(b ir.BlockID)
    walk = func(b ir.BlockID) {
        if seen[b] {
            return
        }
        seen[b] = true
        if len(g.Block(b).Succ) == 0 {
            t.Fatalf("path reached exit %s without passing the read's block %s", b, rb)
        }
        for _, n := range g.Block(b).Succ {
            if n == rb {
                clean(rb, 0, ri)
                continue
            }
            clean(n, 0, len(s.Order[n]))
            walk(n)
        }
    }
    walk(wb)
}

func TestSched_RandomizedReadPlacement(t *testing.T) {
    for seed := int64(0); seed < 64; seed++ {
        r := rand.New(rand.NewSource(seed))
        nb := 4 + r.Intn(5)
        g1, w1, rd1, k1 := randomKillGraph(r, nb)
        _, s1 := mustRun(t, g1, Latest{OutOfLoops: true}, MemConservative)
        checkReadPlacement(t, g1, s1, w1, rd1, k1)

        /* regenerate the same graph, schedules mutate it */
        r = rand.New(rand.NewSource(seed))
        nb = 4 + r.Intn(5)
        g2, w2, rd2, k2 := randomKillGraph(r, nb)
        c2, s2 := mustRun(t, g2, Latest{OutOfLoops: true}, MemOptimal)
        checkReadPlacement(t, g2, s2, w2, rd2, k2)

        /* the precise kill sets can only sink the read further down the
         * dominator tree, never lift it */
        cb := s1.BlockOf[rd1.ID()]
        ob := s2.BlockOf[rd2.ID()]
        if !c2.Dominates(cb, ob) {
            t.Fatalf("seed %d: conservative put the read in %s, precise in %s", seed, cb, ob)
        }
    }
}
