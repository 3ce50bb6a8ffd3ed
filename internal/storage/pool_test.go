package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunInPool(t *testing.T) {
	worker := func(i int) error {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return fmt.Errorf("error")
		}
		return nil
	}

	queue := make(chan int, 10)
	for i := 0; i < 10; i++ {
		queue <- i
	}
	close(queue)

	completed := make(chan completedTask[int], 10)
	runInPool(worker, queue, completed, 5)

	var failed []int
	success := 0
	for task := range completed {
		if task.Error != nil {
			failed = append(failed, task.Input)
		} else {
			success++
		}
	}

	assert.Equal(t, 8, success)
	assert.ElementsMatch(t, []int{3, 7}, failed)
}

func TestRunInPoolEmptyQueue(t *testing.T) {
	queue := make(chan int)
	close(queue)

	completed := make(chan completedTask[int])
	runInPool(func(int) error { return nil }, queue, completed, 5)

	select {
	case _, ok := <-completed:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("completed channel was not closed")
	}
}
