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

package memsim_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/containers/nri-memsim/pkg/memsim"
)

func TestStrategies(t *testing.T) {
	type testCase struct {
		name     string
		strategy string
		cursor   int
		pool     string
		cells    int
		fits     bool
		offset   int
		result   string
	}

	for _, tc := range []*testCase{
		{
			name:     "first-fit partial fit",
			strategy: "1",
			pool:     "1100011000",
			cells:    2,
			fits:     true,
			offset:   2,
			result:   "1111011000",
		},
		{
			name:     "first-fit full pack",
			strategy: "1",
			pool:     "1111111100",
			cells:    2,
			fits:     true,
			offset:   8,
			result:   "1111111111",
		},
		{
			name:     "first-fit no fit",
			strategy: "first-fit",
			pool:     "1010101010",
			cells:    2,
		},
		{
			name:     "best-fit smallest sufficient run",
			strategy: "2",
			pool:     "0100110000",
			cells:    3,
			fits:     true,
			offset:   6,
			result:   "0100111110",
		},
		{
			name:     "best-fit smallest run for two cells",
			strategy: "2",
			pool:     "0100110000",
			cells:    2,
			fits:     true,
			offset:   2,
			result:   "0111110000",
		},
		{
			name:     "best-fit tie goes to lowest offset",
			strategy: "best-fit",
			pool:     "0011001100",
			cells:    2,
			fits:     true,
			offset:   0,
			result:   "1111001100",
		},
		{
			name:     "best-fit trailing run",
			strategy: "best-fit",
			pool:     "0001111100",
			cells:    2,
			fits:     true,
			offset:   8,
			result:   "0001111111",
		},
		{
			name:     "best-fit whole free pool",
			strategy: "best-fit",
			pool:     "0000000000",
			cells:    10,
			fits:     true,
			offset:   0,
			result:   "1111111111",
		},
		{
			name:     "best-fit no fit",
			strategy: "best-fit",
			pool:     "0110011001",
			cells:    3,
		},
		{
			name:     "next-fit from cursor",
			strategy: "3",
			cursor:   5,
			pool:     "0000010000",
			cells:    2,
			fits:     true,
			offset:   6,
			result:   "0000011100",
		},
		{
			name:     "next-fit wraps around",
			strategy: "next-fit",
			cursor:   8,
			pool:     "0011111110",
			cells:    2,
			fits:     true,
			offset:   0,
			result:   "1111111110",
		},
		{
			name:     "next-fit run across the cursor",
			strategy: "next-fit",
			cursor:   4,
			pool:     "1100000011",
			cells:    5,
			fits:     true,
			offset:   2,
			result:   "1111111011",
		},
		{
			name:     "next-fit no fit",
			strategy: "next-fit",
			cursor:   3,
			pool:     "1111111111",
			cells:    1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewStrategy(tc.strategy)
			require.NoError(t, err, "NewStrategy(%q)", tc.strategy)
			if nf, ok := s.(*NextFit); ok {
				nf.SetCursor(tc.cursor)
			}

			pool := poolOf(tc.pool)
			offset, fits := s.Find(pool, tc.cells)
			require.Equal(t, tc.fits, fits, "fit for %d cells in %s", tc.cells, tc.pool)
			if !tc.fits {
				require.Equal(t, 0, offset)
				return
			}

			require.Equal(t, tc.offset, offset, "offset for %d cells in %s", tc.cells, tc.pool)
			pool.Reserve(offset, tc.cells)
			require.Equal(t, tc.result, pool.String())
		})
	}
}

func TestNextFitCursor(t *testing.T) {
	s := NewNextFit()
	pool := NewPool(10)

	for _, expected := range []int{0, 4, 8} {
		offset, ok := s.Find(pool, 4)
		if expected == 8 {
			require.False(t, ok, "no room for 4 cells from cursor 8 in %s", pool)
			pool.Release(0, 4)
			offset, ok = s.Find(pool, 4)
			expected = 0
		}
		require.True(t, ok)
		require.Equal(t, expected, offset)
		pool.Reserve(offset, 4)
		s.Placed(offset, 4, pool.Len())
	}
	require.Equal(t, 4, s.Cursor())

	s.Placed(8, 2, 10)
	require.Equal(t, 0, s.Cursor(), "cursor wraps to the start of the pool")
}

func TestNewStrategy(t *testing.T) {
	for selector, name := range map[string]string{
		"1":          FirstFitName,
		"2":          BestFitName,
		"3":          NextFitName,
		"first-fit":  FirstFitName,
		" Best-Fit ": BestFitName,
		"next-fit":   NextFitName,
	} {
		s, err := NewStrategy(selector)
		require.NoError(t, err, "selector %q", selector)
		require.Equal(t, name, s.Name())
	}

	for _, selector := range []string{"", "0", "4", "worst-fit"} {
		_, err := NewStrategy(selector)
		require.ErrorIs(t, err, ErrUnknownStrategy, "selector %q", selector)
	}

	require.Equal(t, []string{BestFitName, FirstFitName, NextFitName}, Strategies())
}

func TestNextFitInstancesAreIndependent(t *testing.T) {
	s1, err := NewStrategy("3")
	require.NoError(t, err)
	s2, err := NewStrategy("3")
	require.NoError(t, err)

	s1.Placed(2, 3, 10)
	require.Equal(t, 5, s1.(*NextFit).Cursor())
	require.Equal(t, 0, s2.(*NextFit).Cursor())
}

func TestZeroCellsNeverFit(t *testing.T) {
	pool := NewPool(4)
	for _, selector := range Strategies() {
		s, err := NewStrategy(selector)
		require.NoError(t, err)
		_, ok := s.Find(pool, 0)
		require.False(t, ok, "%s found room for 0 cells", selector)
	}
}

// poolOf creates a pool from a string of 1s (occupied) and 0s (free).
func poolOf(cells string) *Pool {
	occupied := make([]bool, len(cells))
	for i, c := range cells {
		occupied[i] = c == '1'
	}
	return NewPoolFromCells(occupied)
}
