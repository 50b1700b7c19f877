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
	"context"

	"code.cloudfoundry.org/clock"

	"github.com/containers/nri-memsim/pkg/instrumentation/tracing"
)

// startRelease starts the release task for a placement. The timer is armed
// before returning. Must be called with the lock held.
func (a *Allocator) startRelease(rec AllocationRecord) {
	timer := a.clock.NewTimer(a.wallclock(rec.Duration))
	a.live[rec.Seq] = rec
	a.tasks.Add(1)

	go a.release(rec, timer)
}

// release waits for the duration of a placement to pass, then frees its
// cells and wakes up the allocator. If the allocator is stopped first the
// cells are left alone.
func (a *Allocator) release(rec AllocationRecord, timer clock.Timer) {
	defer a.tasks.Done()

	select {
	case <-timer.C():
	case <-a.cancel:
		timer.Stop()
		return
	}

	_, span := tracing.StartSpan(context.Background(), "memsim.Release",
		tracing.WithAttributes(
			tracing.Attribute("process", int64(rec.Seq)),
			tracing.Attribute("offset", rec.Start),
			tracing.Attribute("cells", rec.Cells),
		),
	)
	defer span.End()

	a.lock.Lock()
	defer a.lock.Unlock()

	if a.stopped {
		return
	}

	a.pool.Release(rec.Start, rec.Cells)
	delete(a.live, rec.Seq)
	a.stats.Released++

	log.Info("Process %d has released the memory", rec.Seq)

	a.freed.Broadcast()
}
