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

package metrics

import (
	"sync"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
)

var (
	otelLock sync.RWMutex
	enabled  []string
	provider *metric.MeterProvider
	nop      = noop.NewMeterProvider()
)

// SetProvider sets up the OpenTelemetry meter provider we use. A nil
// provider disables all meters created afterwards.
func SetProvider(p *metric.MeterProvider) {
	otelLock.Lock()
	defer otelLock.Unlock()
	provider = p
}

// Configure sets the globs of the enabled meters. An empty list enables
// every meter.
func Configure(enable []string) {
	otelLock.Lock()
	defer otelLock.Unlock()
	enabled = enable
}

// meterProvider hands out meters of a group, prefixing instrument names
// and using a no-op meter for disabled meters.
type meterProvider struct {
	*metric.MeterProvider
	group string
}

// meter prefixes the names of the instruments it creates.
type meter struct {
	otelmetric.Meter
	group      string
	omitGroup  bool
	subsys     string
	omitSubsys bool
}

// MeterOption is an option for a meter.
type MeterOption struct {
	otel  []otelmetric.MeterOption
	local func(*meter)
}

// Provider returns a provider for the given metric group.
func Provider(group string) *meterProvider {
	otelLock.RLock()
	defer otelLock.RUnlock()

	return &meterProvider{
		MeterProvider: provider,
		group:         group,
	}
}

// WithOmitGroup prevents instruments of a meter from being prefixed
// with a group name.
func WithOmitGroup() *MeterOption {
	return &MeterOption{
		local: func(m *meter) {
			m.omitGroup = true
		},
	}
}

// WithOmitSubsystem prevents instruments of a meter from being prefixed
// with a subsystem name.
func WithOmitSubsystem() *MeterOption {
	return &MeterOption{
		local: func(m *meter) {
			m.omitSubsys = true
		},
	}
}

// WithMeterOptions sets OpenTelemetry options for a meter.
func WithMeterOptions(options ...otelmetric.MeterOption) *MeterOption {
	return &MeterOption{
		otel: options,
	}
}

// Meter returns a meter for the given subsystem with the provided options.
func (mp *meterProvider) Meter(subsys string, options ...*MeterOption) otelmetric.Meter {
	var (
		otelopts []otelmetric.MeterOption
		m        = &meter{
			subsys: subsys,
		}
	)

	if mp != nil {
		m.group = mp.group
	}

	for _, opt := range options {
		if opt.local != nil {
			opt.local(m)
		}
		if opt.otel != nil {
			otelopts = append(otelopts, opt.otel...)
		}
	}

	if mp == nil || mp.MeterProvider == nil || !IsEnabled(m.group, m.subsys) {
		log.Info("meter %s in group %s is disabled", m.subsys, m.group)
		m.Meter = nop.Meter(subsys, otelopts...)
	} else {
		log.Info("meter %s in group %s is enabled", m.subsys, m.group)
		m.Meter = mp.MeterProvider.Meter(subsys, otelopts...)
	}

	return m
}

// meterName returns the name of an instrument, possibly prefixed with
// the group and the subsystem of the meter.
func (m *meter) meterName(name string) string {
	n, sep := "", ""

	if !m.omitGroup && m.group != "" {
		n, sep = m.group, "."
	}
	if !m.omitSubsys && m.subsys != "" {
		n += sep + m.subsys
		sep = "."
	}
	return n + sep + name
}

// Int64ObservableGauge returns the corresponding instrument for the meter.
func (m *meter) Int64ObservableGauge(name string, options ...otelmetric.Int64ObservableGaugeOption) (otelmetric.Int64ObservableGauge, error) {
	return m.Meter.Int64ObservableGauge(m.meterName(name), options...)
}

// Float64ObservableGauge returns the corresponding instrument for the meter.
func (m *meter) Float64ObservableGauge(name string, options ...otelmetric.Float64ObservableGaugeOption) (otelmetric.Float64ObservableGauge, error) {
	return m.Meter.Float64ObservableGauge(m.meterName(name), options...)
}

// Int64Counter returns the corresponding instrument for the meter.
func (m *meter) Int64Counter(name string, options ...otelmetric.Int64CounterOption) (otelmetric.Int64Counter, error) {
	return m.Meter.Int64Counter(m.meterName(name), options...)
}

// Int64ObservableCounter returns the corresponding instrument for the meter.
func (m *meter) Int64ObservableCounter(name string, options ...otelmetric.Int64ObservableCounterOption) (otelmetric.Int64ObservableCounter, error) {
	return m.Meter.Int64ObservableCounter(m.meterName(name), options...)
}

// Float64Counter returns the corresponding instrument for the meter.
func (m *meter) Float64Counter(name string, options ...otelmetric.Float64CounterOption) (otelmetric.Float64Counter, error) {
	return m.Meter.Float64Counter(m.meterName(name), options...)
}

// Int64UpDownCounter returns the corresponding instrument for the meter.
func (m *meter) Int64UpDownCounter(name string, options ...otelmetric.Int64UpDownCounterOption) (otelmetric.Int64UpDownCounter, error) {
	return m.Meter.Int64UpDownCounter(m.meterName(name), options...)
}

// Int64Histogram returns the corresponding instrument for the meter.
func (m *meter) Int64Histogram(name string, options ...otelmetric.Int64HistogramOption) (otelmetric.Int64Histogram, error) {
	return m.Meter.Int64Histogram(m.meterName(name), options...)
}

// Float64Histogram returns the corresponding instrument for the meter.
func (m *meter) Float64Histogram(name string, options ...otelmetric.Float64HistogramOption) (otelmetric.Float64Histogram, error) {
	return m.Meter.Float64Histogram(m.meterName(name), options...)
}

// IsEnabled returns true if the given meter group or subsystem is enabled.
func IsEnabled(group, subsys string) bool {
	otelLock.RLock()
	defer otelLock.RUnlock()

	if len(enabled) == 0 {
		return true
	}
	for _, glob := range enabled {
		if matches(glob, group, subsys) {
			return true
		}
	}
	return false
}
