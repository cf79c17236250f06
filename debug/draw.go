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
	"fmt"
	"os"
	"sort"

	svg "github.com/ajstarks/svgo"
	"github.com/cloudwego/anvil/internal/regalloc"
	"github.com/cloudwego/anvil/lir"
)

func assignmentLabel(a regalloc.Assignment) string {
	return fmt.Sprintf("%%%d:%s", a.Var, a.Loc)
}

// DrawIntervals renders an allocation result as an SVG timeline: one row per
// instruction in trace order, one column per interval, and a vertical bar for
// every span during which the interval occupies its final location. Rows for
// resolution moves inserted after numbering carry no position of their own
// and are drawn between the numbered rows.
func DrawIntervals(fn string, p *lir.Program, ints []regalloc.Assignment) error {
	leni := 0
	maxi := 0
	maxw := 0
	rows := make(map[int32]int)
	cols := make([]regalloc.Assignment, len(ints))

	/* measure the instruction text */
	for _, bid := range p.Order {
		leni += len(p.Blocks[bid].Code)
		for _, v := range p.Blocks[bid].Code {
			if s := v.String(); len(s) > maxi {
				maxi = len(s)
			}
		}
	}

	/* sort the columns by variable, then by position of the first span */
	copy(cols, ints)
	sort.Slice(cols, func(i, j int) bool {
		a, b := cols[i], cols[j]
		return a.Var < b.Var || (a.Var == b.Var && a.Spans[0].From < b.Spans[0].From)
	})

	/* measure the column labels */
	for _, a := range cols {
		if n := len(assignmentLabel(a)); n > maxw {
			maxw = n
		}
	}

	/* open the output file */
	insw := maxi*9 + 120
	regw := (maxw+1)*8 + 16
	fp, err := os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	/* start the canvas on a white background */
	cv := svg.New(fp)
	cv.Start(len(cols)*regw+insw+100, leni*24+100)
	if _, err = fp.WriteString(`<rect width="100%" height="100%" fill="white" />` + "\n"); err != nil {
		_ = fp.Close()
		return err
	}

	/* draw one row per instruction, remember the height of every program point */
	bbi := 0
	for _, bid := range p.Order {
		bb := p.Blocks[bid]
		cv.Text(16, 100+bbi*24, bb.ID.String(), "fill:gray;font-size:16px;font-family:monospace")
		cv.Line(10, 84+bbi*24, insw+5, 84+bbi*24, "stroke:lightgray")
		for _, v := range bb.Code {
			h := 95 + bbi*24
			if v.Pos != 0 {
				rows[v.Pos] = h
			}
			cv.Text(insw, 100+bbi*24, v.String(), "fill:black;font-size:16px;font-family:monospace;text-anchor:end")
			cv.Line(insw+10, h, len(cols)*regw+insw+50, h, "stroke:gray")
			bbi++
		}
	}

	/* span boundaries on odd points sit in the gap below the numbered row */
	maxy := 95 + bbi*24
	yof := func(pos int32) int {
		if y, ok := rows[pos&^1]; ok {
			if pos&1 != 0 {
				y += 12
			}
			return y
		}
		return maxy
	}

	/* one column per interval, a bar per span */
	for i, a := range cols {
		x := insw + i*regw + 50
		cv.Text(x, 70, assignmentLabel(a), "fill:black;font-size:16px;font-family:monospace;text-anchor:middle")
		for _, s := range a.Spans {
			y0 := yof(s.From)
			y1 := yof(s.To)
			cv.Line(x, y0, x, y1, "stroke:black;stroke-width:3")
			cv.Circle(x, y0, 4, "fill:white;stroke:black;stroke-width:2")
			cv.Circle(x, y1, 4, "fill:black;stroke:black;stroke-width:2")
		}
	}
	cv.End()
	return fp.Close()
}
