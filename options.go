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

package anvil

import (
	"fmt"

	"github.com/cloudwego/anvil/internal/opts"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

// Scheduling strategies for WithStrategy.
const (
	StrategyEarliest = opts.StrategyEarliest
	StrategyLatest   = opts.StrategyLatest
)

// Memory scheduling modes for WithMemoryScheduling.
const (
	MemOff          = opts.MemOff
	MemConservative = opts.MemConservative
	MemOptimal      = opts.MemOptimal
)

// WithStrategy selects the block placement strategy of the scheduler.
//
// StrategyEarliest places every node in the shallowest block that already
// dominates all of its uses, StrategyLatest sinks nodes towards their uses
// as far as dominance allows. Latest placement produces shorter live ranges
// and is the default.
func WithStrategy(strategy int) Option {
	switch strategy {
	case StrategyEarliest, StrategyLatest:
		return func(o *opts.Options) { o.Strategy = strategy }
	default:
		panic(fmt.Sprintf("anvil: invalid scheduling strategy: %d", strategy))
	}
}

// WithScheduleOutOfLoops moves loop-invariant nodes out of loops when the
// latest placement strategy is selected. It has no effect under earliest
// placement, which never sinks a node into a loop to begin with.
//
// The default value of this option is "true". It can also be configured
// with the `ANVIL_OUT_OF_LOOPS` environment variable.
func WithScheduleOutOfLoops(enabled bool) Option {
	return func(o *opts.Options) { o.OutOfLoops = enabled }
}

// WithMemoryScheduling controls how far memory reads may be moved.
//
// MemOff schedules reads like any other node. MemConservative pins every
// read into the block of its checkpoint. MemOptimal lets reads sink across
// blocks as long as no kill of their location can be crossed; it requires
// the latest placement strategy and degrades to MemConservative otherwise.
//
// The default value of this option is "MemConservative". It can also be
// configured with the `ANVIL_MEM_SCHED` environment variable.
func WithMemoryScheduling(mode int) Option {
	switch mode {
	case MemOff, MemConservative, MemOptimal:
		return func(o *opts.Options) { o.MemSched = mode }
	default:
		panic(fmt.Sprintf("anvil: invalid memory scheduling mode: %d", mode))
	}
}

// WithSimplifiedLiveness replaces the iterative live variable analysis with
// a single reverse sweep that widens every loop to cover its whole body.
// Compilation gets faster, intervals get slightly wider, spill decisions
// slightly more pessimistic.
//
// The default value of this option is "false". It can also be configured
// with the `ANVIL_FAST_LIVENESS` environment variable.
func WithSimplifiedLiveness(enabled bool) Option {
	return func(o *opts.Options) { o.FastLiveness = enabled }
}

// WithVerification re-checks the allocation result after every compile: no
// two overlapping intervals may share a register or stack slot. Meant for
// tests and debugging, the check is linear-logarithmic in the number of
// intervals.
//
// The default value of this option is "false". It can also be configured
// with the `ANVIL_VERIFY` environment variable.
func WithVerification(enabled bool) Option {
	return func(o *opts.Options) { o.Verify = enabled }
}
