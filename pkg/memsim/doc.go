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

// Package memsim simulates placing variable sized memory requests into a
// fixed pool of equally sized cells.
//
// Requests are served strictly in arrival order by an Allocator using one
// of the first-fit, best-fit or next-fit placement strategies. A request
// which does not fit blocks every request queued behind it until enough
// memory is released. Each placed request holds its cells for its duration
// in a release task of its own, then frees them and wakes the Allocator.
//
// All shared state, the Pool, the RequestQueue and the statistics, is
// guarded by a single lock of the Allocator. The Allocator waits on two
// conditions: the queue becoming non-empty and memory being freed.
package memsim
