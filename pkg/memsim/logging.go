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

	logger "github.com/containers/nri-memsim/pkg/log"
)

var (
	details = logger.Get("memsim-details")
)

// DumpState logs the pool, its free runs, the placements and the queued
// requests, if debugging is enabled for memsim-details.
func (a *Allocator) DumpState(context ...interface{}) {
	if !details.DebugEnabled() {
		return
	}

	prefix := formatPrefix(context...)

	a.lock.Lock()
	defer a.lock.Unlock()

	details.Debug("%s%s: pool %s (%d/%d cells occupied)", prefix, a.name,
		a.pool, a.pool.Occupied(), a.pool.Len())

	if runs := a.pool.FreeRuns(); len(runs) > 0 {
		details.Debug("%s  free runs: %v", prefix, runs)
	} else {
		details.Debug("%s  no free runs", prefix)
	}

	if len(a.live) == 0 {
		details.Debug("%s  no placements", prefix)
	} else {
		details.Debug("%s  placements:", prefix)
		for _, rec := range a.placements() {
			details.Debug("%s    - %s", prefix, rec)
		}
	}

	if a.queue.Len() == 0 {
		details.Debug("%s  no queued requests", prefix)
		return
	}

	details.Debug("%s  queued requests:", prefix)
	for _, req := range a.queue.Requests() {
		details.Debug("%s    - %s", prefix, req)
	}
}

func formatPrefix(args ...interface{}) string {
	if len(args) == 0 {
		return ""
	}

	format, ok := args[0].(string)
	if !ok {
		return "%!(memsim:Bad-Prefix)"
	}

	if len(args) == 1 {
		return format
	}

	return fmt.Sprintf(format, args[1:]...)
}
