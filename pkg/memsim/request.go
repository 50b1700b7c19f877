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
	"fmt"
	"time"
)

// Request is a request for a number of contiguous cells for a duration.
// The sequence number and arrival time are stamped when the request is
// submitted to an Allocator.
type Request struct {
	cells    int
	duration time.Duration
	sizeMB   int
	seq      uint64
	arrival  time.Time
}

// RequestOption is an option for a Request.
type RequestOption func(*Request)

// WithSizeMB sets the size of the request in megabytes, for reporting.
func WithSizeMB(size int) RequestOption {
	return func(r *Request) {
		r.sizeMB = size
	}
}

// NewRequest creates a request for cells cells, held for the given duration
// of simulated time.
func NewRequest(cells int, duration time.Duration, options ...RequestOption) *Request {
	r := &Request{
		cells:    cells,
		duration: duration,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Cells returns the number of requested cells.
func (r *Request) Cells() int {
	return r.cells
}

// Duration returns how long the cells are held once placed.
func (r *Request) Duration() time.Duration {
	return r.duration
}

// SizeMB returns the size of the request in megabytes, or 0 if it was not set.
func (r *Request) SizeMB() int {
	return r.sizeMB
}

// Seq returns the sequence number of the request, 0 if not submitted.
func (r *Request) Seq() uint64 {
	return r.seq
}

// Arrival returns the time the request was submitted.
func (r *Request) Arrival() time.Time {
	return r.arrival
}

func (r *Request) validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if r.cells < 1 {
		return fmt.Errorf("%w: %d cells requested", ErrInvalidRequest, r.cells)
	}
	if r.duration < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrInvalidRequest, r.duration)
	}
	return nil
}

func (r *Request) String() string {
	return fmt.Sprintf("process %d (%d cells for %s)", r.seq, r.cells, r.duration)
}

// AllocationRecord describes the cells placed for a request.
type AllocationRecord struct {
	Start    int
	Cells    int
	Duration time.Duration
	Seq      uint64
}

func (r AllocationRecord) String() string {
	return fmt.Sprintf("process %d at [%d,%d) for %s", r.Seq, r.Start, r.Start+r.Cells, r.Duration)
}
