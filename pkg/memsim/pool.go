// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memsim

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// Pool is a fixed number of memory cells, each either free or occupied.
// Pool is not safe for concurrent use, the Allocator serializes access.
type Pool struct {
	cells *bitset.BitSet
	n     int
}

// Run is a maximal sequence of contiguous free cells.
type Run struct {
	Offset int
	Length int
}

// PoolView is the read-only view of a pool strategies search.
type PoolView interface {
	// Len returns the number of cells.
	Len() int
	// IsFree returns true if the cell is free.
	IsFree(i int) bool
}

var _ PoolView = &Pool{}

// NewPool creates a pool of n free cells.
func NewPool(n int) *Pool {
	if n < 0 {
		n = 0
	}
	return &Pool{
		cells: bitset.New(uint(n)),
		n:     n,
	}
}

// NewPoolFromCells creates a pool with the given occupancy.
func NewPoolFromCells(occupied []bool) *Pool {
	p := NewPool(len(occupied))
	for i, busy := range occupied {
		if busy {
			p.cells.Set(uint(i))
		}
	}
	return p
}

func (p *Pool) Len() int {
	return p.n
}

func (p *Pool) IsFree(i int) bool {
	return !p.cells.Test(uint(i))
}

// Occupied returns the number of occupied cells.
func (p *Pool) Occupied() int {
	return int(p.cells.Count())
}

// Free returns the number of free cells.
func (p *Pool) Free() int {
	return p.n - p.Occupied()
}

// Reserve marks count cells starting at start occupied. The cells are
// expected to be free, as found by a Strategy.
func (p *Pool) Reserve(start, count int) {
	for i := start; i < start+count && i < p.n; i++ {
		p.cells.Set(uint(i))
	}
}

// Release marks count cells starting at start free. Releasing free cells
// is a no-op.
func (p *Pool) Release(start, count int) {
	for i := start; i < start+count && i < p.n; i++ {
		p.cells.Clear(uint(i))
	}
}

// Clear frees all cells.
func (p *Pool) Clear() {
	p.cells.ClearAll()
}

// Clone returns an independent copy of the pool.
func (p *Pool) Clone() *Pool {
	return &Pool{
		cells: p.cells.Clone(),
		n:     p.n,
	}
}

// Cells returns the occupancy of all cells, true for occupied ones.
func (p *Pool) Cells() []bool {
	cells := make([]bool, p.n)
	for i := range cells {
		cells[i] = !p.IsFree(i)
	}
	return cells
}

// FreeRuns returns all maximal runs of free cells in increasing offset order.
func (p *Pool) FreeRuns() []Run {
	var (
		runs []Run
		run  = Run{}
	)
	for i := 0; i < p.n; i++ {
		if p.IsFree(i) {
			if run.Length == 0 {
				run.Offset = i
			}
			run.Length++
			continue
		}
		if run.Length > 0 {
			runs = append(runs, run)
			run = Run{}
		}
	}
	if run.Length > 0 {
		runs = append(runs, run)
	}
	return runs
}

// Validate checks that no cell beyond the pool length is marked occupied.
func (p *Pool) Validate() error {
	if p.cells == nil {
		return fmt.Errorf("%w: no cells", ErrInvalidPool)
	}
	if i, ok := p.cells.NextSet(uint(p.n)); ok {
		return fmt.Errorf("%w: cell #%d beyond pool length %d occupied", ErrInvalidPool, i, p.n)
	}
	return nil
}

// String returns the pool as a string of 1s for occupied and 0s for free cells.
func (p *Pool) String() string {
	var b strings.Builder
	b.Grow(p.n)
	for i := 0; i < p.n; i++ {
		if p.IsFree(i) {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	}
	return b.String()
}

func (r Run) String() string {
	return fmt.Sprintf("[%d,%d)", r.Offset, r.Offset+r.Length)
}
