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

package regalloc

import (
    `fmt`
    `math`
)

// Pos is a linear program point. Instructions sit on even points in trace
// construction order starting at 2, odd points are the gaps between two
// instructions where moves may be inserted. The gap [1,2) before the first
// instruction is reserved for resolver placeholders and never holds real
// code.
type Pos int32

const (
    _P_boot  Pos = 1
    _P_first Pos = 2
    _P_max   Pos = math.MaxInt32
)

func (self Pos) isGap() bool {
    return self & 1 != 0
}

func (self Pos) gapBefore() Pos {
    if self.isGap() {
        return self
    } else {
        return self - 1
    }
}

func (self Pos) gapAfter() Pos {
    if self.isGap() {
        return self
    } else {
        return self + 1
    }
}

func (self Pos) String() string {
    if self == _P_max {
        return "max"
    } else if self.isGap() {
        return fmt.Sprintf("%d'", int32(self))
    } else {
        return fmt.Sprintf("%d", int32(self))
    }
}
