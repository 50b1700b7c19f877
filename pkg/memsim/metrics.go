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
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// collector exposes the state of an Allocator as prometheus metrics.
type collector struct {
	a           *Allocator
	cells       *prometheus.Desc
	occupied    *prometheus.Desc
	pending     *prometheus.Desc
	freeRuns    *prometheus.Desc
	largestRun  *prometheus.Desc
	submitted   *prometheus.Desc
	allocations *prometheus.Desc
	releases    *prometheus.Desc
}

var _ prometheus.Collector = &collector{}

// NewCollector returns a prometheus collector for the allocator.
func NewCollector(a *Allocator) prometheus.Collector {
	labels := []string{"strategy"}
	return &collector{
		a: a,
		cells: prometheus.NewDesc("cells",
			"Number of cells in the memory pool.", labels, nil),
		occupied: prometheus.NewDesc("occupied_cells",
			"Number of occupied cells in the memory pool.", labels, nil),
		pending: prometheus.NewDesc("pending_requests",
			"Number of requests waiting to be placed.", labels, nil),
		freeRuns: prometheus.NewDesc("free_runs",
			"Number of maximal runs of free cells.", labels, nil),
		largestRun: prometheus.NewDesc("largest_free_run_cells",
			"Length of the largest run of free cells.", labels, nil),
		submitted: prometheus.NewDesc("submitted_requests_total",
			"Number of submitted requests.", labels, nil),
		allocations: prometheus.NewDesc("allocations_total",
			"Number of placed requests.", labels, nil),
		releases: prometheus.NewDesc("releases_total",
			"Number of placed requests which released their cells.", labels, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cells
	ch <- c.occupied
	ch <- c.pending
	ch <- c.freeRuns
	ch <- c.largestRun
	ch <- c.submitted
	ch <- c.allocations
	ch <- c.releases
	c.a.turnaround.Describe(ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	stats, runs, largest := c.a.gaugeState()

	strategy := stats.Strategy
	for _, m := range []struct {
		desc  *prometheus.Desc
		kind  prometheus.ValueType
		value float64
	}{
		{c.cells, prometheus.GaugeValue, float64(stats.Cells)},
		{c.occupied, prometheus.GaugeValue, float64(stats.Occupied)},
		{c.pending, prometheus.GaugeValue, float64(stats.Pending)},
		{c.freeRuns, prometheus.GaugeValue, float64(len(runs))},
		{c.largestRun, prometheus.GaugeValue, float64(largest)},
		{c.submitted, prometheus.CounterValue, float64(stats.Submitted)},
		{c.allocations, prometheus.CounterValue, float64(stats.Allocated)},
		{c.releases, prometheus.CounterValue, float64(stats.Released)},
	} {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value, strategy)
	}

	c.a.turnaround.Collect(ch)
}

// gaugeState returns the statistics, the free runs and the
// length of the largest free run of the allocator.
func (a *Allocator) gaugeState() (Statistics, []Run, int) {
	a.lock.Lock()
	defer a.lock.Unlock()

	var (
		stats   = a.snapshot()
		runs    = a.pool.FreeRuns()
		largest = 0
	)
	for _, r := range runs {
		largest = max(largest, r.Length)
	}
	return stats, runs, largest
}

// meters are the OpenTelemetry instruments of an Allocator.
type meters struct {
	turnaround otelmetric.Float64Histogram
	attrs      otelmetric.MeasurementOption
	reg        otelmetric.Registration
}

// RegisterMeters creates OpenTelemetry instruments for the allocator with
// the given meter, replacing any earlier ones.
func (a *Allocator) RegisterMeters(m otelmetric.Meter) error {
	attrs := otelmetric.WithAttributes(attribute.String("strategy", a.strategy.Name()))

	var (
		gauges = map[string]otelmetric.Int64ObservableGauge{}
		counts = map[string]otelmetric.Int64ObservableCounter{}
	)

	for _, g := range [][2]string{
		{"cells", "Number of cells in the memory pool."},
		{"occupied_cells", "Number of occupied cells in the memory pool."},
		{"pending_requests", "Number of requests waiting to be placed."},
		{"free_runs", "Number of maximal runs of free cells."},
		{"largest_free_run_cells", "Length of the largest run of free cells."},
	} {
		i, err := m.Int64ObservableGauge(g[0], otelmetric.WithDescription(g[1]))
		if err != nil {
			return fmt.Errorf("%s: failed to create gauge %s: %w", a.name, g[0], err)
		}
		gauges[g[0]] = i
	}
	for _, c := range [][2]string{
		{"submitted_requests", "Number of submitted requests."},
		{"allocations", "Number of placed requests."},
		{"releases", "Number of placed requests which released their cells."},
	} {
		i, err := m.Int64ObservableCounter(c[0], otelmetric.WithDescription(c[1]))
		if err != nil {
			return fmt.Errorf("%s: failed to create counter %s: %w", a.name, c[0], err)
		}
		counts[c[0]] = i
	}

	turnaround, err := m.Float64Histogram("turnaround",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("Simulated time requests spent queued before being placed."),
	)
	if err != nil {
		return fmt.Errorf("%s: failed to create histogram turnaround: %w", a.name, err)
	}

	observables := make([]otelmetric.Observable, 0, len(gauges)+len(counts))
	for _, i := range gauges {
		observables = append(observables, i)
	}
	for _, i := range counts {
		observables = append(observables, i)
	}

	reg, err := m.RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
		stats, runs, largest := a.gaugeState()

		o.ObserveInt64(gauges["cells"], int64(stats.Cells), attrs)
		o.ObserveInt64(gauges["occupied_cells"], int64(stats.Occupied), attrs)
		o.ObserveInt64(gauges["pending_requests"], int64(stats.Pending), attrs)
		o.ObserveInt64(gauges["free_runs"], int64(len(runs)), attrs)
		o.ObserveInt64(gauges["largest_free_run_cells"], int64(largest), attrs)
		o.ObserveInt64(counts["submitted_requests"], int64(stats.Submitted), attrs)
		o.ObserveInt64(counts["allocations"], int64(stats.Allocated), attrs)
		o.ObserveInt64(counts["releases"], int64(stats.Released), attrs)

		return nil
	}, observables...)
	if err != nil {
		return fmt.Errorf("%s: failed to register meter callback: %w", a.name, err)
	}

	a.lock.Lock()
	old := a.meters
	a.meters = &meters{
		turnaround: turnaround,
		attrs:      attrs,
		reg:        reg,
	}
	a.lock.Unlock()

	if old != nil {
		if err := old.reg.Unregister(); err != nil {
			log.Warn("%s: failed to unregister meter callback: %v", a.name, err)
		}
	}

	return nil
}

// recordTurnaround records the turnaround of a placement with the
// registered meters. Must be called with the lock held.
func (a *Allocator) recordTurnaround(ctx context.Context, seconds float64) {
	a.turnaround.Observe(seconds)
	if a.meters != nil {
		a.meters.turnaround.Record(ctx, seconds, a.meters.attrs)
	}
}
