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
	"github.com/cloudwego/anvil/internal/errs"
)

// ScheduleError occurs when the input graph admits no valid schedule, for
// example a floating node with no dominating block for all of its uses. It
// always indicates a bug in whatever produced the graph.
type ScheduleError = errs.ScheduleError

// BailoutError occurs when the register allocator gives up on a program it
// cannot allocate, such as a position where every register is pinned by
// fixed intervals. The compilation fails as a whole; callers are expected
// to fall back to a different execution strategy.
type BailoutError = errs.BailoutError

// VerifyError occurs when post-allocation verification finds two live
// intervals sharing a register or stack slot. It indicates an allocator
// bug and is only produced when verification is enabled.
type VerifyError = errs.VerifyError
