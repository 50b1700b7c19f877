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

package v1alpha1

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/containers/nri-memsim/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/nri-memsim/pkg/apis/config/v1alpha1/log"
)

const (
	// DefaultCellSize is the default allocation granularity in MB.
	DefaultCellSize = 10
	// DefaultTimeUnit is the wall clock length of a simulated second.
	DefaultTimeUnit = time.Second
)

// Config is the configuration of a simulation run.
type Config struct {
	// TotalMemory is the total physical memory in MB (p).
	TotalMemory int `json:"totalMemory"`
	// ReservedMemory is the memory in MB reserved for the operating system (q).
	ReservedMemory int `json:"reservedMemory"`
	// ArrivalRate shapes the rate of incoming requests (n).
	ArrivalRate int `json:"arrivalRate"`
	// ProcessSize shapes the size of requested memory in MB (m).
	ProcessSize int `json:"processSize"`
	// ProcessDuration shapes how long, in seconds, memory is held (t).
	ProcessDuration int `json:"processDuration"`
	// RunTime is the length of the simulation (T).
	RunTime metav1.Duration `json:"runTime"`
	// Strategy selects the placement strategy: 1 or first-fit, 2 or
	// best-fit, 3 or next-fit.
	Strategy string `json:"strategy"`
	// CellSize is the allocation granularity in MB.
	// +optional
	CellSize int `json:"cellSize,omitempty"`
	// TimeUnit is the wall clock length of one simulated second. Values
	// below one second speed the simulation up.
	// +optional
	TimeUnit metav1.Duration `json:"timeUnit,omitempty"`
	// Seed seeds the request generator. Zero picks a time based seed.
	// +optional
	Seed int64 `json:"seed,omitempty"`
	// Log configures logging.
	// +optional
	Log log.Config `json:"log,omitempty"`
	// Instrumentation configures metrics and tracing.
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
}

// Cells returns the number of usable memory cells.
func (c *Config) Cells() int {
	if c.CellSize <= 0 {
		return 0
	}
	return (c.TotalMemory - c.ReservedMemory) / c.CellSize
}

// SetDefaults fills in unset optional fields.
func (c *Config) SetDefaults() {
	if c.CellSize == 0 {
		c.CellSize = DefaultCellSize
	}
	if c.TimeUnit.Duration == 0 {
		c.TimeUnit.Duration = DefaultTimeUnit
	}
}

// WallClock converts a simulated duration to wall clock time.
func (c *Config) WallClock(d time.Duration) time.Duration {
	unit := c.TimeUnit.Duration
	if unit <= 0 || unit == time.Second {
		return d
	}
	return time.Duration(float64(d) * float64(unit) / float64(time.Second))
}
