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

// Package backend drives a single compilation through the phase table:
// CFG construction, node scheduling, instruction lowering and register
// allocation. Everything a compile produces lives in its Ctx, the only
// package state is the cumulative statistic counters.
package backend

import (
    `fmt`
    `os`
    `sync/atomic`

    `github.com/davecgh/go-spew/spew`
    `github.com/cloudwego/anvil/internal/cfg`
    `github.com/cloudwego/anvil/internal/opts`
    `github.com/cloudwego/anvil/internal/regalloc`
    `github.com/cloudwego/anvil/internal/sched`
    `github.com/cloudwego/anvil/ir`
    `github.com/cloudwego/anvil/lir`
    `github.com/cloudwego/anvil/target`
)

/* cumulative statistics, read by the debug package */
var (
    CompileCount uint64
    BailoutCount uint64
    MoveCount    uint64
    SpillCount   uint64
    SlotCount    uint64
)

// Ctx carries one compilation through the phases. Each phase reads its
// inputs from the context and stores what it produced back into it.
type Ctx struct {
    Graph    *ir.Graph
    CFG      *cfg.CFG
    Schedule *sched.Schedule
    Program  *lir.Program
    Result   *regalloc.Result
    Target   target.Desc
    Options  *opts.Options
}

type Phase interface {
    Apply(*Ctx) error
}

type PhaseDescriptor struct {
    Phase Phase
    Name  string
}

var Phases = [...]PhaseDescriptor {
    { Name: "CFG Construction"     , Phase: new(CFGBuild) },
    { Name: "Node Scheduling"      , Phase: new(Scheduling) },
    { Name: "Instruction Lowering" , Phase: new(Lowering) },
    { Name: "Register Allocation"  , Phase: new(RegAlloc) },
}

type CFGBuild struct{}

func (CFGBuild) Apply(p *Ctx) (err error) {
    p.CFG, err = cfg.Build(p.Graph)
    return
}

type Scheduling struct{}

func (Scheduling) Apply(p *Ctx) (err error) {
    p.Schedule, err = sched.Run(p.Graph, p.CFG, strategyOf(p.Options), memModeOf(p.Options))
    return
}

type Lowering struct{}

func (Lowering) Apply(p *Ctx) (err error) {
    p.Program, err = lir.Lower(p.Graph, p.CFG, p.Schedule)
    return
}

type RegAlloc struct{}

func (RegAlloc) Apply(p *Ctx) (err error) {
    p.Result, err = regalloc.Allocate(p.Program, p.Target, p.Options)
    return
}

func strategyOf(o *opts.Options) sched.Strategy {
    switch o.Strategy {
        case opts.StrategyEarliest : return sched.Earliest{}
        case opts.StrategyLatest   : return sched.Latest{OutOfLoops: o.OutOfLoops}
        default                    : panic("backend: invalid scheduling strategy")
    }
}

func memModeOf(o *opts.Options) sched.MemMode {
    switch o.MemSched {
        case opts.MemOff          : return sched.MemOff
        case opts.MemConservative : return sched.MemConservative
        case opts.MemOptimal      : return sched.MemOptimal
        default                   : panic("backend: invalid memory scheduling mode")
    }
}

// Compile runs the phase table over g. The first failing phase aborts the
// whole compile, the partially filled context is discarded.
func Compile(g *ir.Graph, d target.Desc, o *opts.Options) (*Ctx, error) {
    p := &Ctx {
        Graph   : g,
        Target  : d,
        Options : o,
    }

    /* run the phase table */
    for _, ph := range Phases {
        if err := ph.Phase.Apply(p); err != nil {
            atomic.AddUint64(&BailoutCount, 1)
            return nil, err
        }
    }

    /* record statistics */
    atomic.AddUint64(&CompileCount, 1)
    atomic.AddUint64(&MoveCount, uint64(p.Result.Moves))
    atomic.AddUint64(&SpillCount, uint64(p.Result.Spills))
    atomic.AddUint64(&SlotCount, uint64(p.Result.Slots[0] + p.Result.Slots[1]))
    dumpCompile(p)
    return p, nil
}

/* gated on ANVIL_DEBUG_DUMP, prints the allocated program and the final
 * interval table of every compile to standard error */
func dumpCompile(p *Ctx) {
    if opts.DebugDump != 0 {
        fmt.Fprintf(os.Stderr, "%s\nintervals:\n%s", p.Program, spew.Sdump(p.Result.Intervals))
    }
}
