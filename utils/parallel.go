// Package utils holds small shared helpers for the lidarmap packages.
package utils

import (
	"runtime"
	"sync"

	goutils "go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. Exposed so tests
// can force serial execution.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelForEach calls work(i) for every i in [0, size), splitting the range
// across ParallelFactor goroutines. work must only touch state owned by its
// own index; ParallelForEach provides no synchronization beyond completion.
func ParallelForEach(size int, work func(i int)) {
	if size <= 0 {
		return
	}
	workers := ParallelFactor
	if workers > size {
		workers = size
	}
	if workers == 1 {
		for i := 0; i < size; i++ {
			work(i)
		}
		return
	}

	chunk := size / workers
	extra := size % workers
	var wait sync.WaitGroup
	wait.Add(workers)
	from := 0
	for w := 0; w < workers; w++ {
		to := from + chunk
		if w < extra {
			to++
		}
		fromCopy, toCopy := from, to
		goutils.PanicCapturingGo(func() {
			defer wait.Done()
			for i := fromCopy; i < toCopy; i++ {
				work(i)
			}
		})
		from = to
	}
	wait.Wait()
}
