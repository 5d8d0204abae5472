package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers runs background loops until Stop is called. Each loop receives a context that
// is cancelled by Stop and should return promptly once it is.
type StoppableWorkers struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewStoppableWorkers starts each function in its own goroutine.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &StoppableWorkers{ctx: ctx, cancel: cancel}
	sw.Add(funcs...)
	return sw
}

// Add starts more workers. After Stop it does nothing.
func (sw *StoppableWorkers) Add(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.ctx.Err() != nil {
		return
	}
	sw.running.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.running.Done()
			f(sw.ctx)
		})
	}
}

// Stop cancels the workers and waits for them to return. It is safe to call more than once.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.cancel()
	sw.running.Wait()
}

// Stopped reports whether Stop has been called.
func (sw *StoppableWorkers) Stopped() bool {
	return sw.ctx.Err() != nil
}
