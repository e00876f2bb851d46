// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parallel

import (
	"context"
	"sync"

	"github.com/gorse-io/lantern/common/util"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const chanSize = 1024

/* Parallel Schedulers */

// Parallel schedules and runs tasks in parallel. nJobs is the number of jobs. nWorkers is
// the number of executors. worker is the executed function which passed a job id. The ctx
// argument allows callers to cancel outstanding work.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := worker(0, i); err != nil {
				return errors.Trace(err)
			}
		}
	} else {
		c := make(chan int, chanSize)
		// producer
		go func() {
			defer close(c)
			for i := 0; i < nJobs; i++ {
				select {
				case <-ctx.Done():
					return
				case c <- i:
				}
			}
		}()
		// consumer
		var wg sync.WaitGroup
		errs := make([]error, nJobs)
		for j := 0; j < nWorkers; j++ {
			// start workers
			workerId := j
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer util.CheckPanic()
				for {
					select {
					case <-ctx.Done():
						return
					case jobId, ok := <-c:
						if !ok {
							return
						}
						if err := ctx.Err(); err != nil {
							errs[jobId] = err
							return
						}
						// run job
						if err := worker(workerId, jobId); err != nil {
							errs[jobId] = err
							return
						}
					}
				}
			}()
		}
		wg.Wait()
		// check errors
		for _, err := range errs {
			if err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// For runs a loop in parallel without error propagation.
func For(nJobs, nWorkers int, worker func(int)) {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			worker(i)
		}
	} else {
		c := make(chan int, chanSize)
		// producer
		go func() {
			for i := 0; i < nJobs; i++ {
				c <- i
			}
			close(c)
		}()
		// consumer
		var wg sync.WaitGroup
		for j := 0; j < nWorkers; j++ {
			// start workers
			wg.Add(1)
			go func() {
				defer wg.Done()
				for jobId := range c {
					worker(jobId)
				}
			}()
		}
		wg.Wait()
	}
}

// ForEach runs a loop over a slice in parallel.
func ForEach[T any](a []T, nWorkers int, worker func(int, T)) {
	if nWorkers <= 1 {
		for i, v := range a {
			worker(i, v)
		}
	} else {
		c := make(chan lo.Tuple2[int, T], chanSize)
		// producer
		go func() {
			for i, v := range a {
				c <- lo.Tuple2[int, T]{A: i, B: v}
			}
			close(c)
		}()
		// consumer
		var wg sync.WaitGroup
		for j := 0; j < nWorkers; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for t := range c {
					worker(t.A, t.B)
				}
			}()
		}
		wg.Wait()
	}
}
