package parallel

import (
	"runtime"
	"sync"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

// DefaultChunkSize is the number of samples evaluated per chunk. It does not
// depend on the number of CPUs so that per-chunk partial sums, reduced in
// chunk order, give bit-identical results on every machine.
const DefaultChunkSize = 256

// NumChunks returns how many chunks of chunkSize are needed to cover items.
func NumChunks(items, chunkSize int) int {
	if items <= 0 {
		return 0
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return (items + chunkSize - 1) / chunkSize
}

// ParallelizeChunks splits [0, items) into consecutive chunks of chunkSize
// and calls fn(chunk, start, end) for each one on a bounded set of workers.
//
// Panics inside fn are converted into errors. When several chunks fail, the
// error of the lowest chunk index is returned, so the outcome does not depend
// on goroutine scheduling.
func ParallelizeChunks(items, chunkSize int, fn func(chunk, start, end int) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	numChunks := NumChunks(items, chunkSize)
	if numChunks == 0 {
		return nil
	}

	run := func(c int) error {
		start := c * chunkSize
		end := min(start+chunkSize, items)
		return errors.SafeExecute("parallel chunk", func() error {
			return fn(c, start, end)
		})
	}

	// 1チャンクならゴルーチンを起動しない
	if numChunks == 1 {
		return run(0)
	}

	numWorkers := min(runtime.NumCPU(), numChunks)
	errs := make([]error, numChunks)
	next := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range next {
				errs[c] = run(c)
			}
		}()
	}
	for c := 0; c < numChunks; c++ {
		next <- c
	}
	close(next)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Parallelize divides items into one range per CPU core and executes fn in
// parallel for each range (start, end). Use it only where the result does not
// depend on how the work is split.
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold.
// If below threshold, normal sequential processing is performed.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}
