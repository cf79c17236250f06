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

package opts

import (
	"os"
	"strconv"
)

const (
	_DefaultMemSched     = MemOptimal // push reads as late as aliasing allows
	_DefaultOutOfLoops   = 1          // hoist loop-invariant nodes
	_DefaultFastLiveness = 0          // full fixed-point liveness
	_DefaultVerify       = 0          // post-allocation checking off in production
	_DefaultDebugDump    = 0          // no state dumps after each compile
)

var (
	MemSched     = parseOrDefault("ANVIL_MEM_SCHED", _DefaultMemSched, MemOptimal)
	OutOfLoops   = parseOrDefault("ANVIL_OUT_OF_LOOPS", _DefaultOutOfLoops, 1)
	FastLiveness = parseOrDefault("ANVIL_FAST_LIVENESS", _DefaultFastLiveness, 1)
	Verify       = parseOrDefault("ANVIL_VERIFY", _DefaultVerify, 1)
	DebugDump    = parseOrDefault("ANVIL_DEBUG_DUMP", _DefaultDebugDump, 1)
)

func parseOrDefault(key string, def int, max int) int {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
		panic("anvil: invalid value for " + key)
	} else if ret := int(val); ret > max {
		panic("anvil: value too large for " + key)
	} else {
		return ret
	}
}
