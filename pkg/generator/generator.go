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

// Package generator produces a stream of randomly sized memory requests
// with random durations, arriving at a randomly drawn but fixed rate.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logger "github.com/containers/nri-memsim/pkg/log"
	"github.com/containers/nri-memsim/pkg/memsim"
)

var (
	log = logger.Get("generator")

	ErrInvalidParameters = fmt.Errorf("generator: invalid parameters")
)

const (
	// DurationStep is the granularity of request durations in seconds.
	DurationStep = 5
)

// Submitter accepts generated requests.
type Submitter interface {
	Submit(*memsim.Request) error
}

// Parameters control the distribution of generated requests.
type Parameters struct {
	// ArrivalRate shapes the arrival rate, requests arrive at a rate drawn
	// from [0.1*ArrivalRate, 1.2*ArrivalRate) per simulated second.
	ArrivalRate int
	// ProcessSize shapes request sizes, drawn from [0.5*ProcessSize,
	// 3*ProcessSize] megabytes in whole cells.
	ProcessSize int
	// ProcessDuration shapes request durations, drawn from
	// [0.5*ProcessDuration, 6*ProcessDuration] seconds in 5 second steps.
	ProcessDuration int
	// CellSize is the size of a cell in megabytes.
	CellSize int
	// TimeUnit is the wall clock time a simulated second lasts.
	TimeUnit time.Duration
	// Seed seeds the random source, 0 picks a seed from the current time.
	Seed int64
}

// Range is a range [Lower, Upper) of values drawn in multiples of Step.
type Range struct {
	Lower int
	Upper int
	Step  int
}

// Draw returns a random multiple of Step in the range. An empty range
// yields its lower bound.
func (r Range) Draw(rng *rand.Rand) int {
	lo, hi := r.Lower/r.Step, r.Upper/r.Step
	if hi <= lo {
		return r.Lower
	}
	return (lo + rng.Intn(hi-lo)) * r.Step
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d) in steps of %d", r.Lower, r.Upper, r.Step)
}

// Generator submits random requests at a fixed rate.
type Generator struct {
	params    Parameters
	rng       *rand.Rand
	rate      float64
	sizes     Range
	durations Range
	limiter   *rate.Limiter
	sub       Submitter
	count     atomic.Uint64
}

// New creates a generator submitting requests to sub.
func New(params Parameters, sub Submitter) (*Generator, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: nil submitter", ErrInvalidParameters)
	}
	if params.CellSize == 0 {
		params.CellSize = memsim.DefaultCellSizeMB
	}
	if params.TimeUnit == 0 {
		params.TimeUnit = time.Second
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if params.Seed == 0 {
		params.Seed = time.Now().UnixNano()
	}

	g := &Generator{
		params:    params,
		rng:       rand.New(rand.NewSource(params.Seed)),
		sizes:     SizeRange(params.ProcessSize, params.CellSize),
		durations: DurationRange(params.ProcessDuration),
		sub:       sub,
	}

	n := float64(params.ArrivalRate)
	g.rate = 0.1*n + g.rng.Float64()*(1.2*n-0.1*n)
	g.limiter = rate.NewLimiter(rate.Limit(g.rate/params.TimeUnit.Seconds()), 1)

	log.Info("request rate %f/s, sizes %s MB, durations %s s, seed %d",
		g.rate, g.sizes, g.durations, params.Seed)

	return g, nil
}

func (p *Parameters) validate() error {
	switch {
	case p.ArrivalRate < 1:
		return fmt.Errorf("%w: arrival rate %d, must be positive", ErrInvalidParameters, p.ArrivalRate)
	case p.ProcessSize < 1:
		return fmt.Errorf("%w: process size %d, must be positive", ErrInvalidParameters, p.ProcessSize)
	case p.ProcessDuration < 0:
		return fmt.Errorf("%w: negative process duration %d", ErrInvalidParameters, p.ProcessDuration)
	case p.CellSize < 1:
		return fmt.Errorf("%w: cell size %d, must be positive", ErrInvalidParameters, p.CellSize)
	case p.TimeUnit < 0:
		return fmt.Errorf("%w: negative time unit %s", ErrInvalidParameters, p.TimeUnit)
	}
	return nil
}

// SizeRange returns the range of request sizes in megabytes for the size
// parameter m, [ceil(0.5m/cell)*cell, floor(3m/cell)*cell) in whole cells.
func SizeRange(m, cellSize int) Range {
	c := float64(cellSize)
	return Range{
		Lower: int(math.Ceil(0.5*float64(m)/c)) * cellSize,
		Upper: int(math.Floor(3.0*float64(m)/c)) * cellSize,
		Step:  cellSize,
	}
}

// DurationRange returns the range of request durations in seconds for the
// duration parameter t, [ceil(0.5t/5)*5, floor(6t/5)*5) in 5 second steps.
func DurationRange(t int) Range {
	return Range{
		Lower: int(math.Ceil(0.5*float64(t)/DurationStep)) * DurationStep,
		Upper: int(math.Floor(6.0*float64(t)/DurationStep)) * DurationStep,
		Step:  DurationStep,
	}
}

// Rate returns the drawn arrival rate in requests per simulated second.
func (g *Generator) Rate() float64 {
	return g.rate
}

// Seed returns the seed of the random source.
func (g *Generator) Seed() int64 {
	return g.params.Seed
}

// Generated returns the number of submitted requests.
func (g *Generator) Generated() uint64 {
	return g.count.Load()
}

// Next draws the next request. Next is not safe for concurrent use.
func (g *Generator) Next() *memsim.Request {
	var (
		size     = g.sizes.Draw(g.rng)
		duration = g.durations.Draw(g.rng)
		cells    = max(size/g.params.CellSize, 1)
	)
	return memsim.NewRequest(cells, time.Duration(duration)*time.Second, memsim.WithSizeMB(size))
}

// Run submits requests at the drawn rate until ctx is done or the submitter
// is stopped. It returns ctx.Err() if ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	log.Info("generating requests...")

	for {
		if err := g.limiter.Wait(ctx); err != nil {
			// the next request would arrive after the deadline
			if _, ok := ctx.Deadline(); ok || ctx.Err() != nil {
				<-ctx.Done()
				return ctx.Err()
			}
			return fmt.Errorf("generator: rate limiter failed: %w", err)
		}

		req := g.Next()
		if err := g.sub.Submit(req); err != nil {
			if errors.Is(err, memsim.ErrStopped) {
				log.Info("submitter stopped after %d requests", g.Generated())
				return nil
			}
			return fmt.Errorf("generator: failed to submit request: %w", err)
		}

		g.count.Add(1)
	}
}
