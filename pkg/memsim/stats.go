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
	"io"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a snapshot of the state of an Allocator.
type Statistics struct {
	// Strategy is the name of the placement strategy.
	Strategy string
	// Cells is the number of cells in the pool.
	Cells int
	// Occupied is the number of occupied cells.
	Occupied int
	// Pending is the number of queued requests.
	Pending int
	// Submitted is the number of submitted requests.
	Submitted uint64
	// Allocated is the number of placed requests.
	Allocated uint64
	// Released is the number of placed requests which have released their cells.
	Released uint64
	// TotalTurnaround is the sum of the simulated time placed requests spent
	// queued.
	TotalTurnaround time.Duration
}

// AverageTurnaround returns the average simulated time placed requests spent
// queued, or 0 if no request has been placed.
func (s Statistics) AverageTurnaround() time.Duration {
	if s.Allocated == 0 {
		return 0
	}
	return s.TotalTurnaround / time.Duration(s.Allocated)
}

// Utilization returns the percentage of total memory in use, counting the
// occupied cells of the given size and the reserved memory.
func (s Statistics) Utilization(cellSizeMB, reservedMB, totalMB int) float64 {
	if totalMB <= 0 {
		return 0
	}
	used := float64(s.Occupied*cellSizeMB + reservedMB)
	return used * 100 / float64(totalMB)
}

// Free returns the number of free cells.
func (s Statistics) Free() int {
	return s.Cells - s.Occupied
}

// InFlight returns the number of placed requests still holding cells.
func (s Statistics) InFlight() uint64 {
	return s.Allocated - s.Released
}

// WriteJSON writes the statistics as a JSON object.
func (s Statistics) WriteJSON(w io.Writer) error {
	jw := jwriter.NewWriter()

	obj := jw.Object()
	s.writeFields(&obj)
	obj.End()

	if err := jw.Error(); err != nil {
		return err
	}

	_, err := w.Write(append(jw.Bytes(), '\n'))
	return err
}

func (s Statistics) writeFields(json *jwriter.ObjectState) {
	json.Name("strategy").String(s.Strategy)
	json.Name("cells").Int(s.Cells)
	json.Name("occupied").Int(s.Occupied)
	json.Name("pending").Int(s.Pending)
	json.Name("submitted").Int(int(s.Submitted))
	json.Name("allocated").Int(int(s.Allocated))
	json.Name("released").Int(int(s.Released))
	json.Name("totalTurnaroundSeconds").Float64(s.TotalTurnaround.Seconds())
	json.Name("averageTurnaroundSeconds").Float64(s.AverageTurnaround().Seconds())
}
