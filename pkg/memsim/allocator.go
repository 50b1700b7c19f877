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
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/nri-memsim/pkg/instrumentation/tracing"
	logger "github.com/containers/nri-memsim/pkg/log"
)

var (
	log = logger.Get("memsim")
)

const (
	// DefaultCellSizeMB is the default size of a cell in megabytes.
	DefaultCellSizeMB = 10
)

// Allocator places queued requests into a pool of cells in arrival order
// using a placement strategy, and releases them once their duration is over.
type Allocator struct {
	lock       sync.Mutex
	name       string
	clock      clock.Clock
	timeUnit   time.Duration
	cellSize   int
	pool       *Pool
	queue      *RequestQueue
	strategy   Strategy
	queued     *sync.Cond // signaled when requests are queued
	freed      *sync.Cond // signaled when cells are released
	seq        uint64
	live       map[uint64]AllocationRecord
	stats      Statistics
	turnaround prometheus.Histogram
	meters     *meters
	warned     uint64
	running    bool
	done       chan struct{}
	stopped    bool
	final      Statistics
	cancel     chan struct{}
	tasks      sync.WaitGroup
}

// AllocatorOption is an opaque option for an Allocator.
type AllocatorOption func(*Allocator) error

// WithClock sets the clock used for arrival times, turnaround and release timers.
func WithClock(c clock.Clock) AllocatorOption {
	return func(a *Allocator) error {
		if c == nil {
			return fmt.Errorf("nil clock")
		}
		a.clock = c
		return nil
	}
}

// WithName sets the name of the allocator used in logs.
func WithName(name string) AllocatorOption {
	return func(a *Allocator) error {
		a.name = name
		return nil
	}
}

// WithTimeUnit sets the wall clock time a simulated second lasts.
func WithTimeUnit(unit time.Duration) AllocatorOption {
	return func(a *Allocator) error {
		if unit <= 0 {
			return fmt.Errorf("invalid time unit %s", unit)
		}
		a.timeUnit = unit
		return nil
	}
}

// WithCellSize sets the size of a cell in megabytes, used for reporting.
func WithCellSize(sizeMB int) AllocatorOption {
	return func(a *Allocator) error {
		if sizeMB <= 0 {
			return fmt.Errorf("invalid cell size %d", sizeMB)
		}
		a.cellSize = sizeMB
		return nil
	}
}

// NewAllocator creates an allocator for a pool of the given number of cells.
func NewAllocator(cells int, strategy Strategy, options ...AllocatorOption) (*Allocator, error) {
	if cells < 1 {
		return nil, fmt.Errorf("%w: %d cells", ErrInvalidPool, cells)
	}
	if strategy == nil {
		return nil, fmt.Errorf("%w: nil strategy", ErrUnknownStrategy)
	}

	a := &Allocator{
		name:     "memsim",
		clock:    clock.NewClock(),
		timeUnit: time.Second,
		cellSize: DefaultCellSizeMB,
		pool:     NewPool(cells),
		queue:    NewRequestQueue(),
		strategy: strategy,
		live:     make(map[uint64]AllocationRecord),
		cancel:   make(chan struct{}),
		turnaround: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "turnaround_seconds",
			Help:    "Simulated time requests spent queued before being placed.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	a.queued = sync.NewCond(&a.lock)
	a.freed = sync.NewCond(&a.lock)

	for _, o := range options {
		if err := o(a); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedOption, err)
		}
	}

	a.stats.Strategy = strategy.Name()
	a.stats.Cells = cells

	log.Info("%s: created allocator with %d cells of %d MB, %s placement",
		a.name, cells, a.cellSize, strategy.Name())

	return a, nil
}

// Submit queues a request for placement, stamping it with the next
// sequence number and its arrival time. A request can be submitted once.
func (a *Allocator) Submit(req *Request) error {
	if err := req.validate(); err != nil {
		return err
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	if a.stopped {
		return ErrStopped
	}
	if req.seq != 0 {
		return fmt.Errorf("%w: %s already submitted", ErrInvalidRequest, req)
	}

	a.seq++
	req.seq = a.seq
	req.arrival = a.clock.Now()
	a.queue.Push(req)
	a.stats.Submitted++

	size := req.sizeMB
	if size == 0 {
		size = req.cells * a.cellSize
	}
	log.Info("Request is added to the queue for process %d, with size = %d and duration = %d",
		req.seq, size, int64(req.duration/time.Second))

	a.queued.Broadcast()

	return nil
}

// Run places queued requests until ctx is done or the allocator is stopped.
// It returns ctx.Err() if ctx is done, nil if stopped.
func (a *Allocator) Run(ctx context.Context) error {
	a.lock.Lock()
	if a.stopped {
		a.lock.Unlock()
		return ErrStopped
	}
	if a.running {
		a.lock.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	done := make(chan struct{})
	a.done = done
	a.lock.Unlock()

	defer close(done)

	wakeup := context.AfterFunc(ctx, func() {
		a.lock.Lock()
		defer a.lock.Unlock()
		a.queued.Broadcast()
		a.freed.Broadcast()
	})
	defer wakeup()

	a.lock.Lock()
	defer a.lock.Unlock()
	defer func() {
		a.running = false
	}()

	log.Info("%s: allocator running", a.name)

	for {
		for a.queue.Len() == 0 && !a.stopped && ctx.Err() == nil {
			a.queued.Wait()
		}

		if a.stopped {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := a.allocateHead(ctx); err != nil {
			return err
		}
	}
}

// allocateHead places the request at the head of the queue, waiting for
// memory to be released until it fits. Must be called with the lock held.
func (a *Allocator) allocateHead(ctx context.Context) error {
	req := a.queue.Front()

	for {
		if start, ok := a.strategy.Find(a.pool, req.cells); ok {
			a.place(ctx, req, start)
			return nil
		}

		if req.cells > a.pool.Len() && a.warned != req.seq {
			a.warned = req.seq
			log.Warn("%s: process %d needs %d cells, pool has only %d, allocation blocked",
				a.name, req.seq, req.cells, a.pool.Len())
		}

		log.Debug("%s: no room for %s, waiting for memory to be released", a.name, req)
		a.freed.Wait()

		if a.stopped {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// place reserves cells for the request at the head of the queue and starts
// its release task. Must be called with the lock held.
func (a *Allocator) place(ctx context.Context, req *Request, start int) {
	_, span := tracing.StartSpan(ctx, "memsim.Place",
		tracing.WithAttributes(
			tracing.Attribute("process", int64(req.seq)),
			tracing.Attribute("strategy", a.strategy.Name()),
			tracing.Attribute("offset", start),
			tracing.Attribute("cells", req.cells),
		),
	)
	defer span.End()

	a.pool.Reserve(start, req.cells)
	a.strategy.Placed(start, req.cells, a.pool.Len())
	a.queue.Pop()

	turnaround := a.simulated(a.clock.Since(req.arrival))
	a.stats.Allocated++
	a.stats.TotalTurnaround += turnaround
	a.recordTurnaround(ctx, turnaround.Seconds())

	log.Info("Memory is allocated to process %d", req.seq)
	log.Debug("%s: placed %s at offset %d, pool %s", a.name, req, start, a.pool)

	a.startRelease(AllocationRecord{
		Start:    start,
		Cells:    req.cells,
		Duration: req.duration,
		Seq:      req.seq,
	})
}

// Stats returns a snapshot of the current statistics.
func (a *Allocator) Stats() Statistics {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.stopped {
		return a.final
	}
	return a.snapshot()
}

// snapshot returns the current statistics. Must be called with the lock held.
func (a *Allocator) snapshot() Statistics {
	s := a.stats
	s.Occupied = a.pool.Occupied()
	s.Pending = a.queue.Len()
	return s
}

// Pool returns a copy of the current pool.
func (a *Allocator) Pool() *Pool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.pool.Clone()
}

// Stop stops the allocator. It computes the final statistics, frees all
// cells, drops queued requests, abandons pending releases, wakes up Run
// and waits for it and all release tasks to finish. Stop is idempotent,
// every call returns the same final statistics.
func (a *Allocator) Stop() Statistics {
	a.lock.Lock()
	if a.stopped {
		final := a.final
		a.lock.Unlock()
		return final
	}

	a.final = a.snapshot()
	a.stopped = true
	a.pool.Clear()
	dropped := a.queue.Drain()
	abandoned := len(a.live)
	a.live = make(map[uint64]AllocationRecord)
	close(a.cancel)
	a.queued.Broadcast()
	a.freed.Broadcast()

	var done chan struct{}
	if a.running {
		done = a.done
	}
	final := a.final
	a.lock.Unlock()

	log.Info("%s: stopping, dropped %d queued requests, abandoned %d releases",
		a.name, len(dropped), abandoned)

	if done != nil {
		<-done
	}
	a.tasks.Wait()

	return final
}

// simulated converts wall clock time to simulated time.
func (a *Allocator) simulated(d time.Duration) time.Duration {
	if a.timeUnit == time.Second {
		return d
	}
	return time.Duration(float64(d) * float64(time.Second) / float64(a.timeUnit))
}

// wallclock converts simulated time to wall clock time.
func (a *Allocator) wallclock(d time.Duration) time.Duration {
	if a.timeUnit == time.Second {
		return d
	}
	return time.Duration(float64(d) * float64(a.timeUnit) / float64(time.Second))
}

// Check verifies that the occupied cells of the pool are exactly the cells
// of the placements not yet released.
func (a *Allocator) Check() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if err := a.pool.Validate(); err != nil {
		return err
	}

	expected := NewPool(a.pool.Len())
	for _, rec := range a.live {
		for i := rec.Start; i < rec.Start+rec.Cells; i++ {
			if !expected.IsFree(i) {
				return fmt.Errorf("%w: cell #%d placed twice", ErrInvalidPool, i)
			}
		}
		expected.Reserve(rec.Start, rec.Cells)
	}

	if got, want := a.pool.String(), expected.String(); got != want {
		return fmt.Errorf("%w: pool %s, placements %s", ErrInvalidPool, got, want)
	}

	return nil
}

// Placements returns the placements not yet released, in sequence order.
func (a *Allocator) Placements() []AllocationRecord {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.placements()
}

func (a *Allocator) placements() []AllocationRecord {
	recs := make([]AllocationRecord, 0, len(a.live))
	for _, rec := range a.live {
		recs = append(recs, rec)
	}
	slices.SortFunc(recs, func(r1, r2 AllocationRecord) int {
		return cmp.Compare(r1.Seq, r2.Seq)
	})
	return recs
}
