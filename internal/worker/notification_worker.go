// Package worker hosts the bounded delivery pool and the maintenance loops.
package worker

import (
	"context"
	"sync"
)

// Job is one unit of a fan-out, addressed by its index.
type Job func(ctx context.Context, i int) error

// Run executes job for every index in [0, n) on at most parallelism
// goroutines and returns one error slot per index. A failing job never
// stops its siblings. Indexes not started before ctx is done report
// ctx.Err().
func Run(ctx context.Context, n, parallelism int, job Job) []error {
	results := make([]error, n)
	if n == 0 {
		return results
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	if parallelism > n {
		parallelism = n
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = runJob(ctx, i, job)
			}
		}()
	}

	next := 0
feed:
	for ; next < n; next++ {
		select {
		case indexes <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()

	for i := next; i < n; i++ {
		results[i] = ctx.Err()
	}
	return results
}

func runJob(ctx context.Context, i int, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return job(ctx, i)
}

// PanicError reports a job that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "worker job panicked"
}
