package storage

import "sync"

type completedTask[In any] struct {
	Input In
	Error error
}

// runInPool drains queue with at most maxWorkers goroutines and closes
// completed once every item has been handled. queue must already be closed.
func runInPool[In any](worker func(In) error, queue chan In, completed chan completedTask[In], maxWorkers int) {
	workers := max(min(len(queue), maxWorkers), 1)

	go func() {
		var wg sync.WaitGroup
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				for next := range queue {
					completed <- completedTask[In]{Input: next, Error: worker(next)}
				}
			}()
		}

		wg.Wait()
		close(completed)
	}()
}
