package forwarding

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
)

// fanOut invokes call once per index, concurrently, and waits until all
// calls returned or ctx is done. errs holds the error or recovered panic of
// each call and is nil when ctx ended the wait.
func fanOut(ctx context.Context, count int, call func(index int) error) (errs []error, completed bool) {
	if count == 0 {
		return nil, true
	}
	results := make([]error, count)
	waitGroup := sync.WaitGroup{}
	waitGroup.Add(count)
	for i := 0; i < count; i++ {
		index := i
		go func() {
			defer waitGroup.Done()
			results[index] = callIsolated(func() error { return call(index) })
		}()
	}

	done := make(chan struct{})
	go func() {
		waitGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
		return results, true
	case <-ctx.Done():
		return nil, false
	}
}

func callIsolated(call func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return call()
}
