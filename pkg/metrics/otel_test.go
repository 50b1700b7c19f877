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

package metrics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/containers/nri-memsim/pkg/metrics"
)

func TestMeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	metrics.SetProvider(provider)
	metrics.Configure([]string{"allocator", "generator/rate"})
	defer func() {
		metrics.SetProvider(nil)
		metrics.Configure(nil)
	}()

	ctx := context.Background()
	for _, m := range []struct {
		group   string
		subsys  string
		options []*metrics.MeterOption
	}{
		{"allocator", "state", nil},
		{"allocator", "pool", []*metrics.MeterOption{metrics.WithOmitGroup()}},
		{"allocator", "queue", []*metrics.MeterOption{metrics.WithOmitSubsystem()}},
		{"generator", "rate", nil},
		{"generator", "sizes", nil},
		{"release", "tasks", nil},
	} {
		c, err := metrics.Provider(m.group).Meter(m.subsys, m.options...).Int64Counter("count")
		require.NoError(t, err)
		c.Add(ctx, 1)
	}

	rm := metricdata.ResourceMetrics{}
	require.NoError(t, reader.Collect(ctx, &rm))

	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	require.ElementsMatch(t, []string{
		"allocator.state.count",
		"pool.count",
		"allocator.count",
		"generator.rate.count",
	}, names)
}

func TestDisabledMeterProvider(t *testing.T) {
	metrics.SetProvider(nil)
	metrics.Configure(nil)

	require.True(t, metrics.IsEnabled("allocator", "state"))

	c, err := metrics.Provider("allocator").Meter("state").Int64Counter("count")
	require.NoError(t, err)
	c.Add(context.Background(), 1)
}

func TestMeterGlobs(t *testing.T) {
	metrics.Configure([]string{"alloc*", "generator/r*"})
	defer metrics.Configure(nil)

	for _, tc := range []struct {
		group, subsys string
		enabled       bool
	}{
		{"allocator", "state", true},
		{"generator", "rate", true},
		{"generator", "sizes", false},
		{"release", "tasks", false},
	} {
		require.Equal(t, tc.enabled, metrics.IsEnabled(tc.group, tc.subsys),
			"%s/%s", tc.group, tc.subsys)
	}
}
