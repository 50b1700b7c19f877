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

// RequestQueue is an unbounded FIFO queue of requests. It never blocks,
// waiting for requests is up to the Allocator.
type RequestQueue struct {
	requests []*Request
	head     int
}

// NewRequestQueue creates an empty queue.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{}
}

// Push appends a request to the tail of the queue.
func (q *RequestQueue) Push(r *Request) {
	q.requests = append(q.requests, r)
}

// Front returns the request at the head of the queue, nil if it is empty.
func (q *RequestQueue) Front() *Request {
	if q.Len() == 0 {
		return nil
	}
	return q.requests[q.head]
}

// Pop removes and returns the request at the head of the queue, nil if it
// is empty.
func (q *RequestQueue) Pop() *Request {
	if q.Len() == 0 {
		return nil
	}

	r := q.requests[q.head]
	q.requests[q.head] = nil
	q.head++

	// reclaim the consumed prefix once it dominates the backing array
	if q.head > 32 && q.head*2 >= len(q.requests) {
		q.requests = append([]*Request(nil), q.requests[q.head:]...)
		q.head = 0
	}

	return r
}

// Len returns the number of queued requests.
func (q *RequestQueue) Len() int {
	return len(q.requests) - q.head
}

// Requests returns the queued requests from head to tail.
func (q *RequestQueue) Requests() []*Request {
	return append([]*Request(nil), q.requests[q.head:]...)
}

// Drain removes and returns all queued requests.
func (q *RequestQueue) Drain() []*Request {
	drained := q.Requests()
	q.requests = nil
	q.head = 0
	return drained
}
