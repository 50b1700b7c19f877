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

package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	cfgapi "github.com/containers/nri-memsim/pkg/apis/config/v1alpha1"
	"github.com/containers/nri-memsim/pkg/memsim"
)

var (
	ErrUsage   = fmt.Errorf("config: wrong number of parameters")
	ErrInvalid = fmt.Errorf("config: invalid configuration")
)

const (
	// NumArgs is the number of positional parameters: p q n m t T choice.
	NumArgs = 7
	// maxSamplingRate is the sampling rate of tracing every request.
	maxSamplingRate = 1000000
)

// New returns a configuration with defaults set.
func New() *cfgapi.Config {
	cfg := &cfgapi.Config{}
	cfg.SetDefaults()
	return cfg
}

// Load reads a YAML configuration file. Unknown fields are rejected.
func Load(path string) (*cfgapi.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file")
	}

	cfg := &cfgapi.Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse configuration file %s", path)
	}
	cfg.SetDefaults()

	return cfg, nil
}

// FromArgs sets the simulation parameters from the positional arguments
// p q n m t T choice.
func FromArgs(cfg *cfgapi.Config, args []string) error {
	if len(args) != NumArgs {
		return fmt.Errorf("%w: got %d, expected %d", ErrUsage, len(args), NumArgs)
	}

	var (
		result *multierror.Error
		values = make([]int, NumArgs-1)
		names  = []string{"p", "q", "n", "m", "t", "T"}
	)

	for i, name := range names {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: invalid integer %q", name, args[i]))
			continue
		}
		values[i] = v
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	cfg.TotalMemory = values[0]
	cfg.ReservedMemory = values[1]
	cfg.ArrivalRate = values[2]
	cfg.ProcessSize = values[3]
	cfg.ProcessDuration = values[4]
	cfg.RunTime = metav1.Duration{Duration: time.Duration(values[5]) * time.Second}
	cfg.Strategy = args[6]

	return nil
}

// Validate checks the configuration, reporting every problem found.
func Validate(cfg *cfgapi.Config) error {
	var result *multierror.Error

	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			result = multierror.Append(result, fmt.Errorf(format, args...))
		}
	}

	check(cfg.TotalMemory > 0, "totalMemory %d must be positive", cfg.TotalMemory)
	check(cfg.ReservedMemory >= 0, "reservedMemory %d must not be negative", cfg.ReservedMemory)
	check(cfg.CellSize > 0, "cellSize %d must be positive", cfg.CellSize)
	if cfg.TotalMemory > 0 && cfg.CellSize > 0 {
		check(cfg.Cells() >= 1, "no usable cells of %d MB in %d MB with %d MB reserved",
			cfg.CellSize, cfg.TotalMemory, cfg.ReservedMemory)
	}
	check(cfg.ArrivalRate > 0, "arrivalRate %d must be positive", cfg.ArrivalRate)
	check(cfg.ProcessSize > 0, "processSize %d must be positive", cfg.ProcessSize)
	check(cfg.ProcessDuration >= 0, "processDuration %d must not be negative", cfg.ProcessDuration)
	check(cfg.RunTime.Duration > 0, "runTime %s must be positive", cfg.RunTime.Duration)
	check(cfg.TimeUnit.Duration > 0, "timeUnit %s must be positive", cfg.TimeUnit.Duration)

	if _, err := memsim.NewStrategy(cfg.Strategy); err != nil {
		result = multierror.Append(result, err)
	}

	rate := cfg.Instrumentation.SamplingRatePerMillion
	check(rate >= 0 && rate <= maxSamplingRate,
		"samplingRatePerMillion %d must be within [0, %d]", rate, maxSamplingRate)

	switch exporter := cfg.Instrumentation.MetricsExporter; exporter {
	case "", "prometheus", "otlp-http", "otlp-grpc":
	default:
		check(false, "unsupported metricsExporter %q", exporter)
	}
	check(cfg.Instrumentation.ReportPeriod.Duration >= 0,
		"reportPeriod %s must not be negative", cfg.Instrumentation.ReportPeriod.Duration)

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Print writes the configuration as YAML.
func Print(w io.Writer, cfg *cfgapi.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal configuration")
	}
	_, err = w.Write(data)
	return err
}
