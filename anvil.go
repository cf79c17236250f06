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

// Package anvil is a compiler backend core. It takes a value graph in SSA
// form, schedules every node into a basic block, lowers the result into
// two-operand instructions over virtual registers, and maps those onto the
// machine registers and spill slots of a target with a trace-based linear
// scan allocator.
package anvil

import (
	"github.com/cloudwego/anvil/internal/backend"
	"github.com/cloudwego/anvil/internal/opts"
	"github.com/cloudwego/anvil/internal/regalloc"
	"github.com/cloudwego/anvil/ir"
	"github.com/cloudwego/anvil/lir"
	"github.com/cloudwego/anvil/target"
)

// Result is the output of one compilation.
//
// Program holds the fully resolved instructions, one block per element of
// Program.Order, every operand a machine register, spill slot or constant.
// Intervals maps each live interval, split children included, to its final
// location. Slots counts the stack slots used per register class, which
// together determine the frame size.
type Result struct {
	Program   *lir.Program
	Intervals []regalloc.Assignment
	Slots     [2]int
	Moves     int
	Spills    int
}

// Compile translates the graph g into fully register-allocated form for
// the target d. The graph must be frozen; option defaults come from the
// environment, see the individual Option constructors.
func Compile(g *ir.Graph, d target.Desc, options ...Option) (*Result, error) {
	o := opts.GetDefaultOptions()
	for _, fn := range options {
		fn(&o)
	}
	p, err := backend.Compile(g, d, &o)
	if err != nil {
		return nil, err
	}
	return &Result{
		Program:   p.Program,
		Intervals: p.Result.Intervals,
		Slots:     p.Result.Slots,
		Moves:     p.Result.Moves,
		Spills:    p.Result.Spills,
	}, nil
}
