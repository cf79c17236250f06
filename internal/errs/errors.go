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

package errs

import (
    `fmt`
)

// ScheduleError indicates a malformed input graph: the scheduler could not
// find a block assignment that satisfies every dominance and memory-ordering
// constraint. It is always fatal and signals a bug in whatever built or
// optimized the graph, not a property of the compiled program.
type ScheduleError struct {
    Node   int64
    Block  int64
    Reason string
}

func (self ScheduleError) Error() string {
    if self.Node < 0 {
        return fmt.Sprintf("anvil: scheduling failed: %s", self.Reason)
    } else if self.Block < 0 {
        return fmt.Sprintf("anvil: scheduling failed at node %d: %s", self.Node, self.Reason)
    } else {
        return fmt.Sprintf("anvil: scheduling failed at node %d (block %d): %s", self.Node, self.Block, self.Reason)
    }
}

// BailoutError indicates the register allocator gave up on this method, e.g.
// a split-child lookup came back empty or a position was over-constrained
// beyond what spilling can fix. The compilation is abandoned as a whole; the
// caller decides what to fall back to.
type BailoutError struct {
    Pos    int64
    Reason string
}

func (self BailoutError) Error() string {
    if self.Pos < 0 {
        return fmt.Sprintf("anvil: allocation bailout: %s", self.Reason)
    } else {
        return fmt.Sprintf("anvil: allocation bailout at position %d: %s", self.Pos, self.Reason)
    }
}

// VerifyError indicates the post-allocation checker found two overlapping
// intervals sharing a location, or an interval with no valid location. This
// is an allocator bug: the compile must fail rather than miscompile.
type VerifyError struct {
    A      int64
    B      int64
    Loc    string
    Reason string
}

func (self VerifyError) Error() string {
    if self.B < 0 {
        return fmt.Sprintf("anvil: allocation verify failed on interval %d: %s", self.A, self.Reason)
    } else {
        return fmt.Sprintf("anvil: allocation verify failed on intervals %d and %d at %s: %s", self.A, self.B, self.Loc, self.Reason)
    }
}
