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
	"sort"
	"strings"
)

// Strategy decides where in a pool a request of a number of cells is placed.
type Strategy interface {
	// Name returns the name of the strategy.
	Name() string
	// Find returns the offset of the free run to place cells at. It returns
	// false if no run is currently large enough.
	Find(view PoolView, cells int) (int, bool)
	// Placed notifies the strategy of a successful placement.
	Placed(start, cells, poolLen int)
}

const (
	FirstFitName = "first-fit"
	BestFitName  = "best-fit"
	NextFitName  = "next-fit"
)

// FirstFit places requests into the lowest offset run large enough.
type FirstFit struct{}

// BestFit places requests into the smallest run large enough, the lowest
// offset one among equally sized runs.
type BestFit struct{}

// NextFit places requests into the first run large enough at or after the
// end of the previous placement, wrapping around to the start of the pool.
type NextFit struct {
	cursor int
}

var (
	_ Strategy = FirstFit{}
	_ Strategy = BestFit{}
	_ Strategy = &NextFit{}
)

func (FirstFit) Name() string {
	return FirstFitName
}

func (FirstFit) Find(view PoolView, cells int) (int, bool) {
	return firstRun(view, 0, cells)
}

func (FirstFit) Placed(int, int, int) {}

func (BestFit) Name() string {
	return BestFitName
}

func (BestFit) Find(view PoolView, cells int) (int, bool) {
	if cells < 1 {
		return 0, false
	}

	var (
		n             = view.Len()
		best, bestLen = 0, n + 1
		start         = 0
		length        = 0
	)

	for i := 0; i < n; i++ {
		if view.IsFree(i) {
			length++
			continue
		}
		if length >= cells && length < bestLen {
			best, bestLen = start, length
		}
		start, length = i+1, 0
	}
	// the run reaching the end of the pool is not closed by an occupied cell
	if length >= cells && length < bestLen {
		best, bestLen = start, length
	}

	if bestLen > n {
		return 0, false
	}
	return best, true
}

func (BestFit) Placed(int, int, int) {}

// NewNextFit returns a next-fit strategy with its cursor at the start of the pool.
func NewNextFit() *NextFit {
	return &NextFit{}
}

func (s *NextFit) Name() string {
	return NextFitName
}

func (s *NextFit) Find(view PoolView, cells int) (int, bool) {
	from := s.cursor
	if from < 0 || from >= view.Len() {
		from = 0
	}
	if start, ok := firstRun(view, from, cells); ok {
		return start, true
	}
	return firstRun(view, 0, cells)
}

// Placed moves the cursor past the placed cells.
func (s *NextFit) Placed(start, cells, poolLen int) {
	if poolLen <= 0 {
		s.cursor = 0
		return
	}
	s.cursor = (start + cells) % poolLen
}

// Cursor returns the offset the next search starts at.
func (s *NextFit) Cursor() int {
	return s.cursor
}

// SetCursor sets the offset the next search starts at.
func (s *NextFit) SetCursor(cursor int) {
	s.cursor = cursor
}

// firstRun returns the offset of the first run of at least cells free cells,
// counting only cells at or after from.
func firstRun(view PoolView, from, cells int) (int, bool) {
	if cells < 1 {
		return 0, false
	}

	start, length := from, 0
	for i := from; i < view.Len(); i++ {
		if !view.IsFree(i) {
			start, length = i+1, 0
			continue
		}
		if length++; length == cells {
			return start, true
		}
	}

	return 0, false
}

var strategies = map[string]func() Strategy{
	FirstFitName: func() Strategy { return FirstFit{} },
	BestFitName:  func() Strategy { return BestFit{} },
	NextFitName:  func() Strategy { return NewNextFit() },
}

var selectors = map[string]string{
	"1": FirstFitName,
	"2": BestFitName,
	"3": NextFitName,
}

// NewStrategy returns a new strategy for the selector, which is either a
// strategy name or its number, 1 for first-fit, 2 for best-fit and 3 for
// next-fit.
func NewStrategy(selector string) (Strategy, error) {
	name := strings.ToLower(strings.TrimSpace(selector))
	if alias, ok := selectors[name]; ok {
		name = alias
	}

	create, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w %q, expecting one of 1, 2, 3 or %s",
			ErrUnknownStrategy, selector, strings.Join(Strategies(), ", "))
	}

	return create(), nil
}

// Strategies returns the names of all strategies.
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
