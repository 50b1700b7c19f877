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
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	logger "github.com/containers/nri-memsim/pkg/log"
	. "github.com/containers/nri-memsim/pkg/memsim"
)

const (
	eventually = 2 * time.Second
	tick       = time.Millisecond
)

type testAllocator struct {
	*Allocator
	clock  *fakeclock.FakeClock
	cancel context.CancelFunc
	errCh  chan error
}

func newTestAllocator(t *testing.T, cells int, strategy Strategy, options ...AllocatorOption) *testAllocator {
	fc := fakeclock.NewFakeClock(time.Unix(1700000000, 0))
	a, err := NewAllocator(cells, strategy, append([]AllocatorOption{WithClock(fc), WithName(t.Name())}, options...)...)
	require.NoError(t, err, "unexpected NewAllocator() error")
	require.NotNil(t, a, "unexpected nil allocator")

	ctx, cancel := context.WithCancel(context.Background())
	ta := &testAllocator{
		Allocator: a,
		clock:     fc,
		cancel:    cancel,
		errCh:     make(chan error, 1),
	}
	go func() {
		ta.errCh <- a.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		a.Stop()
	})

	return ta
}

func (ta *testAllocator) submit(t *testing.T, cells int, duration time.Duration) {
	require.NoError(t, ta.Submit(NewRequest(cells, duration)), "submitting %d cells", cells)
}

func (ta *testAllocator) waitAllocated(t *testing.T, count uint64) {
	require.Eventually(t, func() bool {
		return ta.Stats().Allocated == count
	}, eventually, tick, "waiting for %d allocations", count)
}

func (ta *testAllocator) runResult(t *testing.T) error {
	select {
	case err := <-ta.errCh:
		return err
	case <-time.After(eventually):
		require.FailNow(t, "allocator did not stop running")
	}
	return nil
}

func TestFirstComeFirstServed(t *testing.T) {
	for _, name := range Strategies() {
		t.Run(name, func(t *testing.T) {
			strategy, err := NewStrategy(name)
			require.NoError(t, err)

			a := newTestAllocator(t, 10, strategy)

			a.submit(t, 6, 10*time.Second)
			a.submit(t, 6, 5*time.Second)
			a.submit(t, 2, 5*time.Second)

			a.waitAllocated(t, 1)
			require.Never(t, func() bool {
				return a.Stats().Allocated > 1
			}, 50*time.Millisecond, 5*time.Millisecond, "request bypassed the blocked head of the queue")

			stats := a.Stats()
			require.Equal(t, 2, stats.Pending)
			require.Equal(t, 6, stats.Occupied)
			require.Equal(t, []AllocationRecord{
				{Start: 0, Cells: 6, Duration: 10 * time.Second, Seq: 1},
			}, a.Placements())

			a.clock.Increment(10 * time.Second)
			a.waitAllocated(t, 3)

			require.Equal(t, []AllocationRecord{
				{Start: 0, Cells: 6, Duration: 5 * time.Second, Seq: 2},
				{Start: 6, Cells: 2, Duration: 5 * time.Second, Seq: 3},
			}, a.Placements())
			require.Equal(t, "1111111100", a.Pool().String())
			require.NoError(t, a.Check())

			stats = a.Stats()
			require.Equal(t, uint64(1), stats.Released)
			require.Equal(t, 0, stats.Pending)
			require.Equal(t, 20*time.Second, stats.TotalTurnaround)

			a.clock.Increment(5 * time.Second)
			require.Eventually(t, func() bool {
				return a.Stats().Released == 3
			}, eventually, tick)
			require.Equal(t, 0, a.Stats().Occupied)

			a.cancel()
			require.ErrorIs(t, a.runResult(t), context.Canceled)
		})
	}
}

func TestNextFitAllocation(t *testing.T) {
	a := newTestAllocator(t, 10, NewNextFit())

	a.submit(t, 4, 5*time.Second)
	a.submit(t, 4, 10*time.Second)
	a.waitAllocated(t, 2)

	a.clock.Increment(5 * time.Second)
	require.Eventually(t, func() bool {
		return a.Stats().Released == 1
	}, eventually, tick)

	// cells 0-3 are free again but the search continues from cell 8
	a.submit(t, 2, 5*time.Second)
	a.waitAllocated(t, 3)

	require.Equal(t, "0000111111", a.Pool().String())
	require.NoError(t, a.Check())
}

func TestStop(t *testing.T) {
	a := newTestAllocator(t, 10, FirstFit{})

	a.submit(t, 4, 5*time.Second)
	a.submit(t, 8, 5*time.Second)
	a.waitAllocated(t, 1)

	final := a.Stop()
	require.NoError(t, a.runResult(t), "Run after Stop")

	require.Equal(t, 10, final.Cells)
	require.Equal(t, 4, final.Occupied)
	require.Equal(t, 1, final.Pending)
	require.Equal(t, uint64(2), final.Submitted)
	require.Equal(t, uint64(1), final.Allocated)
	require.Equal(t, FirstFitName, final.Strategy)

	require.Equal(t, final, a.Stop(), "repeated Stop")
	require.Equal(t, final, a.Stats(), "Stats after Stop")
	require.Equal(t, 0, a.Pool().Occupied(), "pool cleared")
	require.Empty(t, a.Placements())

	a.clock.Increment(time.Minute)
	require.Equal(t, uint64(0), a.Stats().Released, "abandoned releases")

	require.ErrorIs(t, a.Submit(NewRequest(1, time.Second)), ErrStopped)
	require.ErrorIs(t, a.Run(context.Background()), ErrStopped)
}

func TestCancelWhileWaitingForMemory(t *testing.T) {
	a := newTestAllocator(t, 4, BestFit{})

	// larger than the whole pool, never fits
	a.submit(t, 5, 5*time.Second)
	a.submit(t, 1, 5*time.Second)

	require.Never(t, func() bool {
		return a.Stats().Allocated > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	a.cancel()
	require.ErrorIs(t, a.runResult(t), context.Canceled)

	stats := a.Stop()
	require.Equal(t, 2, stats.Pending)
	require.Equal(t, time.Duration(0), stats.AverageTurnaround())
}

func TestCancelWhileIdle(t *testing.T) {
	a := newTestAllocator(t, 4, FirstFit{})
	a.cancel()
	require.ErrorIs(t, a.runResult(t), context.Canceled)
}

func TestRunTwice(t *testing.T) {
	a := newTestAllocator(t, 4, FirstFit{})
	a.submit(t, 1, time.Second)
	a.waitAllocated(t, 1)

	require.ErrorIs(t, a.Run(context.Background()), ErrAlreadyRunning)
}

func TestInvalidRequests(t *testing.T) {
	a := newTestAllocator(t, 4, FirstFit{})

	require.ErrorIs(t, a.Submit(nil), ErrInvalidRequest)
	require.ErrorIs(t, a.Submit(NewRequest(0, time.Second)), ErrInvalidRequest)
	require.ErrorIs(t, a.Submit(NewRequest(-1, time.Second)), ErrInvalidRequest)
	require.ErrorIs(t, a.Submit(NewRequest(1, -time.Second)), ErrInvalidRequest)
	require.Equal(t, uint64(0), a.Stats().Submitted)
}

func TestAllocatorKeepsItsLock(t *testing.T) {
	typ := reflect.TypeOf(&Allocator{})
	for _, name := range []string{"Lock", "Unlock", "TryLock"} {
		_, ok := typ.MethodByName(name)
		require.False(t, ok, "allocator exports %s()", name)
	}
}

func TestResubmittedRequest(t *testing.T) {
	a := newTestAllocator(t, 10, FirstFit{})

	req := NewRequest(2, time.Hour)
	require.NoError(t, a.Submit(req))
	require.ErrorIs(t, a.Submit(req), ErrInvalidRequest)
	require.Equal(t, uint64(1), req.Seq())

	a.waitAllocated(t, 1)
	require.ErrorIs(t, a.Submit(req), ErrInvalidRequest)

	a.submit(t, 2, time.Hour)
	a.waitAllocated(t, 2)

	require.Equal(t, []AllocationRecord{
		{Start: 0, Cells: 2, Duration: time.Hour, Seq: 1},
		{Start: 2, Cells: 2, Duration: time.Hour, Seq: 2},
	}, a.Placements())
	require.Equal(t, "1111000000", a.Pool().String())
	require.NoError(t, a.Check())

	stats := a.Stats()
	require.Equal(t, uint64(2), stats.Submitted)
	require.Equal(t, 0, stats.Pending)
}

func TestNewAllocatorErrors(t *testing.T) {
	_, err := NewAllocator(0, FirstFit{})
	require.ErrorIs(t, err, ErrInvalidPool)

	_, err = NewAllocator(10, nil)
	require.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = NewAllocator(10, FirstFit{}, WithTimeUnit(0))
	require.ErrorIs(t, err, ErrFailedOption)

	_, err = NewAllocator(10, FirstFit{}, WithCellSize(-10))
	require.ErrorIs(t, err, ErrFailedOption)
}

func TestTimeUnit(t *testing.T) {
	a := newTestAllocator(t, 10, FirstFit{}, WithTimeUnit(100*time.Millisecond))

	a.submit(t, 6, 10*time.Second)
	a.submit(t, 6, 10*time.Second)
	a.waitAllocated(t, 1)

	// ten simulated seconds last one second of wall clock time
	a.clock.Increment(time.Second)
	a.waitAllocated(t, 2)

	require.Equal(t, 10*time.Second, a.Stats().TotalTurnaround)
	require.Equal(t, 5*time.Second, a.Stats().AverageTurnaround())
}

func TestConcurrentPlacementsStayConsistent(t *testing.T) {
	const requests = 200

	for _, name := range Strategies() {
		t.Run(name, func(t *testing.T) {
			strategy, err := NewStrategy(name)
			require.NoError(t, err)

			a, err := NewAllocator(16, strategy, WithTimeUnit(time.Millisecond))
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go a.Run(ctx)

			var (
				wg   sync.WaitGroup
				done = make(chan struct{})
				errs = make(chan error, 1)
			)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-done:
						return
					default:
					}
					if err := a.Check(); err != nil {
						errs <- err
						return
					}
					if s := a.Stats(); s.Occupied < 0 || s.Occupied > s.Cells {
						errs <- fmt.Errorf("%d cells occupied in a pool of %d", s.Occupied, s.Cells)
						return
					}
					time.Sleep(50 * time.Microsecond)
				}
			}()

			rng := rand.New(rand.NewSource(1))
			for i := 0; i < requests; i++ {
				cells := 1 + rng.Intn(6)
				duration := time.Duration(rng.Intn(5)) * time.Second
				require.NoError(t, a.Submit(NewRequest(cells, duration)))
			}

			require.Eventually(t, func() bool {
				return a.Stats().Released == requests
			}, 20*time.Second, 5*time.Millisecond)

			close(done)
			wg.Wait()
			select {
			case err := <-errs:
				require.NoError(t, err, "inconsistent allocator state")
			default:
			}

			stats := a.Stop()
			require.Equal(t, uint64(requests), stats.Allocated)
			require.Equal(t, 0, stats.Occupied)
			require.Equal(t, 0, stats.Pending)
		})
	}
}

func TestCollector(t *testing.T) {
	a := newTestAllocator(t, 10, FirstFit{})

	a.submit(t, 6, 10*time.Second)
	a.submit(t, 6, 10*time.Second)
	a.waitAllocated(t, 1)

	c := NewCollector(a.Allocator)
	expected := `
# HELP occupied_cells Number of occupied cells in the memory pool.
# TYPE occupied_cells gauge
occupied_cells{strategy="first-fit"} 6
# HELP pending_requests Number of requests waiting to be placed.
# TYPE pending_requests gauge
pending_requests{strategy="first-fit"} 1
# HELP free_runs Number of maximal runs of free cells.
# TYPE free_runs gauge
free_runs{strategy="first-fit"} 1
# HELP largest_free_run_cells Length of the largest run of free cells.
# TYPE largest_free_run_cells gauge
largest_free_run_cells{strategy="first-fit"} 4
# HELP allocations_total Number of placed requests.
# TYPE allocations_total counter
allocations_total{strategy="first-fit"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"occupied_cells", "pending_requests", "free_runs", "largest_free_run_cells", "allocations_total"))
	require.Equal(t, 9, testutil.CollectAndCount(c))
}

func TestMeters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	a := newTestAllocator(t, 10, FirstFit{})
	require.NoError(t, a.RegisterMeters(noop.NewMeterProvider().Meter("disabled")))
	require.NoError(t, a.RegisterMeters(provider.Meter("memsim")))

	a.submit(t, 6, 10*time.Second)
	a.submit(t, 6, 10*time.Second)
	a.waitAllocated(t, 1)

	require.Equal(t, map[string]int64{
		"cells":                  10,
		"occupied_cells":         6,
		"pending_requests":       1,
		"free_runs":              1,
		"largest_free_run_cells": 4,
		"submitted_requests":     2,
		"allocations":            1,
		"releases":               0,
		"turnaround":             1,
	}, collectMeters(t, reader))

	a.clock.Increment(10 * time.Second)
	a.waitAllocated(t, 2)
	require.Eventually(t, func() bool {
		return a.Stats().Released == 1
	}, eventually, tick)

	values := collectMeters(t, reader)
	require.Equal(t, int64(2), values["allocations"])
	require.Equal(t, int64(1), values["releases"])
	require.Equal(t, int64(2), values["turnaround"])
	require.Equal(t, int64(0), values["pending_requests"])
}

// collectMeters returns the last value of every int64 instrument, and the
// number of samples of every histogram.
func collectMeters(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	rm := metricdata.ResourceMetrics{}
	require.NoError(t, reader.Collect(context.Background(), &rm))

	values := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Gauge[int64]:
				require.Len(t, data.DataPoints, 1, m.Name)
				values[m.Name] = data.DataPoints[0].Value
			case metricdata.Sum[int64]:
				require.Len(t, data.DataPoints, 1, m.Name)
				values[m.Name] = data.DataPoints[0].Value
			case metricdata.Histogram[float64]:
				require.Len(t, data.DataPoints, 1, m.Name)
				values[m.Name] = int64(data.DataPoints[0].Count)
			}
		}
	}
	return values
}

func TestDumpState(t *testing.T) {
	details := logger.Get("memsim-details")
	defer details.EnableDebug(details.EnableDebug(true))

	a := newTestAllocator(t, 10, FirstFit{})
	a.submit(t, 6, 10*time.Second)
	a.submit(t, 6, 10*time.Second)
	a.waitAllocated(t, 1)

	a.DumpState("test: ")
	a.DumpState("%s: ", t.Name())
}
