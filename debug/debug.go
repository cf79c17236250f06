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

package debug

import (
	"github.com/cloudwego/anvil/internal/backend"
)

// A Stats records statistics about the compiler backend.
type Stats struct {
	Compiler  CompileStats
	Allocator AllocStats
}

// A CompileStats counts finished and aborted compilations.
type CompileStats struct {
	Done     int
	Bailouts int
}

// An AllocStats records the output volume of the register allocator,
// summed over all finished compilations.
type AllocStats struct {
	Moves  int
	Spills int
	Slots  int
}

// GetStats returns statistics of the compiler backend.
func GetStats() Stats {
	return Stats{
		Compiler: CompileStats{
			Done:     int(backend.CompileCount),
			Bailouts: int(backend.BailoutCount),
		},
		Allocator: AllocStats{
			Moves:  int(backend.MoveCount),
			Spills: int(backend.SpillCount),
			Slots:  int(backend.SlotCount),
		},
	}
}
