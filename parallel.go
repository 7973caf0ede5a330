package transformfs

import (
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig controls how many files maintenance operations such as
// RotateAll and VerifyAll process at once. Each file is still a single
// sequential stream.
type ParallelConfig struct {
	// Enabled enables concurrent processing
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinItemsForParallel is the minimum number of files to use workers for.
	// Below this threshold files are processed one after another.
	MinItemsForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.MaxWorkers < 0 {
		return NewConfigurationError("parallel.max_workers", p.MaxWorkers, "parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return NewConfigurationError("parallel.max_workers", p.MaxWorkers, "parallel max workers must not exceed 1024")
	}
	if p.MinItemsForParallel < 1 {
		return NewConfigurationError("parallel.min_items", p.MinItemsForParallel, "parallel min items threshold must be at least 1")
	}
	if p.MinItemsForParallel > 1000 {
		return NewConfigurationError("parallel.min_items", p.MinItemsForParallel, "parallel min items threshold must not exceed 1000")
	}

	return nil
}

// DefaultParallelConfig returns the default parallel processing configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:             true,
		MaxWorkers:          runtime.NumCPU(),
		MinItemsForParallel: 4,
	}
}

// forEach calls fn for every item and returns the error of each call by
// index. A panic inside fn is reported as that item's error.
func forEach(items []string, cfg ParallelConfig, fn func(string) error) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}

	call := func(idx int) {
		defer func() {
			if r := recover(); r != nil {
				errs[idx] = fmt.Errorf("panic while processing %s: %v", items[idx], r)
			}
		}()
		errs[idx] = fn(items[idx])
	}

	if !cfg.Enabled || len(items) < cfg.MinItemsForParallel {
		for i := range items {
			call(i)
		}
		return errs
	}

	numWorkers := cfg.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	numWorkers = min(numWorkers, len(items))

	var wg sync.WaitGroup
	jobChan := make(chan int, len(items))
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				call(idx)
			}
		}()
	}

	for i := range items {
		jobChan <- i
	}
	close(jobChan)
	wg.Wait()

	return errs
}
