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
    `fmt`
    `io`
    `strings`

    `github.com/oleiade/lane`

    `github.com/cloudwego/anvil/ir`
)

// DrawDot writes the CFG in Graphviz format, one record per block with its
// pinned nodes, dominator and loop depth. Debugging aid only.
func (self *CFG) DrawDot(w io.Writer) error {
    q := lane.NewQueue()
    v := make([]bool, self.G.NumBlocks())
    buf := []string {
        "digraph CFG {",
        `    node [ fontname = "monospace" fontsize="12" shape = "box" ]`,
        `    START [ shape = "circle" ]`,
        fmt.Sprintf("    START -> bb_%d", self.Root.ID()),
    }

    /* walk the blocks in breadth-first order */
    q.Enqueue(self.Root)
    v[self.Root.ID()] = true

    for !q.Empty() {
        bb := q.Dequeue().(*ir.Block)
        ss := []string { fmt.Sprintf("bb_%d:", bb.ID()) }

        /* pinned node listing */
        for _, id := range bb.Nodes {
            ss = append(ss, self.G.Node(id).String())
        }

        /* dominator and loop annotations */
        ss = append(ss, fmt.Sprintf("# idom = b%d, loop depth = %d", self.DominatedBy[bb.ID()], self.LoopDepth[bb.ID()]))
        buf = append(buf, fmt.Sprintf("    bb_%d [ label = %q ]", bb.ID(), strings.Join(ss, "\\l") + "\\l"))

        /* edges to the successors */
        for _, s := range bb.Succ {
            buf = append(buf, fmt.Sprintf("    bb_%d -> bb_%d", bb.ID(), s))
            if !v[s] {
                v[s] = true
                q.Enqueue(self.G.Block(s))
            }
        }
    }

    buf = append(buf, "}")
    _, err := io.WriteString(w, strings.Join(buf, "\n") + "\n")
    return err
}
