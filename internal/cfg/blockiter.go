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

package cfg

import (
    `github.com/oleiade/lane`

    `github.com/cloudwego/anvil/ir`
)

// BlockIter yields the blocks of the dominator tree in post-order: every
// block comes after all the blocks it dominates.
type BlockIter struct {
    g *CFG
    b *ir.Block
    s *lane.Stack
    v []bool
}

func (self *CFG) Iter() *BlockIter {
    s := lane.NewStack()
    v := make([]bool, self.G.NumBlocks())
    s.Push(self.Root)
    v[self.Root.ID()] = true
    return &BlockIter {
        g: self,
        s: s,
        v: v,
    }
}

func (self *BlockIter) Next() bool {
    var tail bool
    var this *ir.Block

    /* scan until the stack is empty */
    for !self.s.Empty() {
        tail = true
        this = self.s.Head().(*ir.Block)

        /* add all the dominator tree children */
        for _, p := range self.g.DominatorOf[this.ID()] {
            if !self.v[p] {
                tail = false
                self.v[p] = true
                self.s.Push(self.g.G.Block(p))
                break
            }
        }

        /* all the children are visited, pop the current node */
        if tail {
            self.b = self.s.Pop().(*ir.Block)
            return true
        }
    }

    /* clear the block pointer to indicate the end */
    self.b = nil
    return false
}

func (self *BlockIter) Block() *ir.Block {
    return self.b
}

func (self *BlockIter) ForEach(action func(bb *ir.Block)) {
    for self.Next() {
        action(self.b)
    }
}

// Reversed collects the remaining blocks in dominance order: every block
// comes before the blocks it dominates.
func (self *BlockIter) Reversed() []*ir.Block {
    nb := len(self.g.Depth)
    ret := make([]*ir.Block, 0, nb)

    /* dump all the blocks */
    for self.Next() {
        ret = append(ret, self.b)
    }

    /* reverse the order */
    for i, j := 0, len(ret) - 1; i < j; i, j = i + 1, j - 1 {
        ret[i], ret[j] = ret[j], ret[i]
    }
    return ret
}
