package worker

import (
	"context"
	"sync"
)

// ForEach calls fn for every item with at most concurrency calls in flight.
// It returns when every started call has returned. Items not yet started when
// ctx is cancelled are skipped.
func ForEach[T any](ctx context.Context, concurrency int, items []T, fn func(ctx context.Context, item T)) {
	if concurrency < 1 {
		concurrency = 1
	}

	// Semaphore for concurrency control
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, item)
		}(item)
	}

	wg.Wait()
}
