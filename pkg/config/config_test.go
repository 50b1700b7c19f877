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

package config_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	cfgapi "github.com/containers/nri-memsim/pkg/apis/config/v1alpha1"
	"github.com/containers/nri-memsim/pkg/config"
)

func TestFromArgs(t *testing.T) {
	cfg := config.New()
	require.NoError(t, config.FromArgs(cfg, []string{"1000", "100", "10", "30", "10", "60", "2"}))

	require.Equal(t, 1000, cfg.TotalMemory)
	require.Equal(t, 100, cfg.ReservedMemory)
	require.Equal(t, 10, cfg.ArrivalRate)
	require.Equal(t, 30, cfg.ProcessSize)
	require.Equal(t, 10, cfg.ProcessDuration)
	require.Equal(t, 60*time.Second, cfg.RunTime.Duration)
	require.Equal(t, "2", cfg.Strategy)
	require.Equal(t, 90, cfg.Cells())
	require.NoError(t, config.Validate(cfg))
}

func TestFromArgsErrors(t *testing.T) {
	cfg := config.New()

	err := config.FromArgs(cfg, []string{"1000", "100", "10"})
	require.ErrorIs(t, err, config.ErrUsage)

	err = config.FromArgs(cfg, []string{"1000", "lots", "10", "30", "x", "60", "1"})
	require.ErrorIs(t, err, config.ErrInvalid)
	require.Contains(t, err.Error(), `q: invalid integer "lots"`)
	require.Contains(t, err.Error(), `t: invalid integer "x"`)
	require.Equal(t, 0, cfg.TotalMemory, "configuration untouched on error")
}

func TestValidate(t *testing.T) {
	type testCase struct {
		name     string
		args     []string
		modify   func(*cfgapi.Config)
		problems []string
	}

	for _, tc := range []*testCase{
		{
			name: "valid",
			args: []string{"1000", "100", "10", "30", "10", "60", "next-fit"},
		},
		{
			name:     "unknown strategy",
			args:     []string{"1000", "100", "10", "30", "10", "60", "4"},
			problems: []string{"unknown placement strategy"},
		},
		{
			name:     "no usable cells",
			args:     []string{"100", "95", "10", "30", "10", "60", "1"},
			problems: []string{"no usable cells"},
		},
		{
			name: "every problem is reported",
			args: []string{"0", "-1", "0", "0", "-5", "0", "0"},
			problems: []string{
				"totalMemory 0",
				"reservedMemory -1",
				"arrivalRate 0",
				"processSize 0",
				"processDuration -5",
				"runTime 0s",
				"unknown placement strategy",
			},
		},
		{
			name: "bad optional fields",
			args: []string{"1000", "100", "10", "30", "10", "60", "1"},
			modify: func(cfg *cfgapi.Config) {
				cfg.CellSize = -1
				cfg.TimeUnit.Duration = -time.Second
				cfg.Instrumentation.SamplingRatePerMillion = 2000000
			},
			problems: []string{"cellSize -1", "timeUnit -1s", "samplingRatePerMillion 2000000"},
		},
		{
			name: "otlp metrics exporter",
			args: []string{"1000", "100", "10", "30", "10", "60", "2"},
			modify: func(cfg *cfgapi.Config) {
				cfg.Instrumentation.MetricsExporter = "otlp-grpc"
				cfg.Instrumentation.ReportPeriod.Duration = 5 * time.Second
			},
		},
		{
			name: "bad metrics exporter",
			args: []string{"1000", "100", "10", "30", "10", "60", "2"},
			modify: func(cfg *cfgapi.Config) {
				cfg.Instrumentation.MetricsExporter = "jaeger"
				cfg.Instrumentation.ReportPeriod.Duration = -time.Second
			},
			problems: []string{`unsupported metricsExporter "jaeger"`, "reportPeriod -1s"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.New()
			require.NoError(t, config.FromArgs(cfg, tc.args))
			if tc.modify != nil {
				tc.modify(cfg)
			}

			err := config.Validate(cfg)
			if len(tc.problems) == 0 {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, config.ErrInvalid)
			for _, problem := range tc.problems {
				require.Contains(t, err.Error(), problem)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load("testdata/memsim.yaml")
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))

	require.Equal(t, 90, cfg.Cells())
	require.Equal(t, "best-fit", cfg.Strategy)
	require.Equal(t, time.Minute, cfg.RunTime.Duration)
	require.Equal(t, 100*time.Millisecond, cfg.TimeUnit.Duration)
	require.Equal(t, cfgapi.DefaultCellSize, cfg.CellSize)
	require.Equal(t, int64(42), cfg.Seed)
	require.Equal(t, []string{"on:memsim,generator"}, cfg.Log.Debug)
	require.True(t, cfg.Log.LogSource)
	require.Equal(t, "127.0.0.1:8891", cfg.Instrumentation.HTTPEndpoint)
	require.True(t, cfg.Instrumentation.PrometheusExport)
	require.NotNil(t, cfg.Instrumentation.Metrics)
	require.Equal(t, []string{"allocator", "standard"}, cfg.Instrumentation.Metrics.Enabled)
	require.Equal(t, 6*time.Second, cfg.WallClock(time.Minute))
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load("testdata/does-not-exist.yaml")
	require.Error(t, err)

	_, err = config.Load("testdata/unknown-field.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "placement")
}

func TestPrint(t *testing.T) {
	cfg, err := config.Load("testdata/memsim.yaml")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, config.Print(buf, cfg))
	require.Contains(t, buf.String(), "runTime: 1m0s")
	require.Contains(t, buf.String(), "strategy: best-fit")

	reloaded := &cfgapi.Config{}
	require.NoError(t, yaml.UnmarshalStrict(buf.Bytes(), reloaded))
	require.Equal(t, cfg, reloaded)
}
