package executils

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// ParallelExec runs fn over vals. Below parallelThreshold it stays on the
// calling goroutine; above it the work is pulled by one worker per CPU.
func ParallelExec[T any](vals []T, parallelThreshold uint64, fn func(T)) {
	if uint64(len(vals)) < parallelThreshold {
		for _, v := range vals {
			fn(v)
		}
		return
	}

	next := atomic.NewUint64(0)
	end := uint64(len(vals))

	var wg sync.WaitGroup
	numCPU := runtime.NumCPU()
	wg.Add(numCPU)
	for p := 0; p < numCPU; p++ {
		go func() {
			defer wg.Done()
			for {
				i := next.Inc() - 1
				if i >= end {
					return
				}
				fn(vals[i])
			}
		}()
	}
	wg.Wait()
}
