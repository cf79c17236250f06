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

// Scheduling strategies.
const (
	StrategyEarliest = iota
	StrategyLatest
)

// Memory scheduling modes.
const (
	MemOff = iota
	MemConservative
	MemOptimal
)

type Options struct {
	Strategy     int
	MemSched     int
	OutOfLoops   bool
	FastLiveness bool
	Verify       bool
}

func (self *Options) MemAware() bool {
	return self.MemSched != MemOff
}

func (self *Options) HoistOutOfLoops() bool {
	return self.OutOfLoops && self.Strategy == StrategyLatest
}

func GetDefaultOptions() Options {
	return Options{
		Strategy:     StrategyLatest,
		MemSched:     MemSched,
		OutOfLoops:   OutOfLoops != 0,
		FastLiveness: FastLiveness != 0,
		Verify:       Verify != 0,
	}
}
