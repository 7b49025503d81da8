// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskio

import (
	"runtime"
	"sync"

	"code.hybscloud.com/atomix"
)

// defaultExecutorCapacity is the task ring capacity when the caller
// does not choose one.
const defaultExecutorCapacity = 4096

// Executor dispatches short-running work items across a fixed pool of
// workers consuming a shared MPMC ring.
//
// Workers drain the ring, then check the shutdown latch, then park on a
// condition variable. Any successful Submit signals the condition
// variable; [Signal.Terminate] broadcasts it to release parked workers
// during shutdown. No fairness or ordering is guaranteed: any worker
// may race any other for any task.
//
// The application constructs at most one Executor per Signal.
type Executor struct {
	queue   *MPMC[task]
	sig     *Signal
	workers int

	// pending is an advisory gauge of accepted-but-unfinished tasks.
	pending atomix.Int64
	// live counts task records between allocation and callback return.
	// Deinit asserts it reaches zero when leak checking is on.
	live      atomix.Int64
	leakCheck bool

	// mu and cond are used exclusively for idle parking. No data is
	// protected under mu.
	mu   sync.Mutex
	cond *sync.Cond
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	workers   int
	capacity  int
	leakCheck bool
}

// WithWorkers sets the worker count. The default is the number of
// schedulable CPUs. Panics at construction if n <= 0.
func WithWorkers(n int) ExecutorOption {
	return func(o *executorOptions) { o.workers = n }
}

// WithTaskCapacity sets the task ring capacity (rounded up to a power
// of 2).
func WithTaskCapacity(n int) ExecutorOption {
	return func(o *executorOptions) { o.capacity = n }
}

// WithLeakCheck makes Deinit panic when task records are still live.
// Intended for tests and debug builds.
func WithLeakCheck() ExecutorOption {
	return func(o *executorOptions) { o.leakCheck = true }
}

// NewExecutor creates the executor and spawns its workers.
// sig must not be nil; workers exit through its shutdown latch.
func NewExecutor(sig *Signal, opts ...ExecutorOption) *Executor {
	if sig == nil {
		panic("taskio: nil signal controller")
	}

	o := executorOptions{
		workers:  runtime.GOMAXPROCS(0),
		capacity: defaultExecutorCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		panic("taskio: worker count must be >= 1")
	}

	e := &Executor{
		queue:     NewMPMC[task](o.capacity),
		sig:       sig,
		workers:   o.workers,
		leakCheck: o.leakCheck,
	}
	e.cond = sync.NewCond(&e.mu)

	for range o.workers {
		go e.tick()
	}

	return e
}

// Workers returns the fixed worker count.
func (e *Executor) Workers() int {
	return e.workers
}

// Pending returns the advisory count of accepted tasks whose callbacks
// have not yet returned.
func (e *Executor) Pending() int64 {
	return e.pending.Load()
}

// Submit schedules a CPU task. Returns ErrDraining once shutdown is
// latched, or ErrWouldBlock when the task ring is full.
func (e *Executor) Submit(fn TaskFunc, userdata any) error {
	if fn == nil {
		panic("taskio: nil task func")
	}
	return e.submit(&task{kind: taskCPU, fn: fn, userdata: userdata})
}

// SubmitCompletion schedules an I/O-completion continuation carrying
// res. The I/O engine runs completion callbacks on the reaper itself; a
// completion callback may call this to move long work off the reaper
// onto a worker.
func (e *Executor) SubmitCompletion(fn CompletionFunc, res int32, userdata any) error {
	if fn == nil {
		panic("taskio: nil completion func")
	}
	return e.submit(&task{kind: taskCompletion, cfn: fn, res: res, userdata: userdata})
}

func (e *Executor) submit(t *task) error {
	if e.sig.Signaled() {
		return ErrDraining
	}

	e.live.AddAcqRel(1)
	if err := e.queue.Enqueue(t); err != nil {
		e.live.AddAcqRel(-1)
		return err
	}
	e.pending.AddAcqRel(1)

	e.mu.Lock()
	e.cond.Signal()
	e.mu.Unlock()
	return nil
}

// Broadcast releases every parked worker. Used by [Signal.Terminate].
func (e *Executor) Broadcast() {
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// tick is the worker loop: drain, check the latch, park.
func (e *Executor) tick() {
	for {
		for {
			t, err := e.queue.Dequeue()
			if err != nil {
				break
			}
			e.dispatch(t)
		}

		if e.sig.Signaled() {
			e.sig.Arrive()
			return
		}

		// Re-check under the parking mutex so a Submit that signaled
		// between the drain and the wait cannot be lost.
		e.mu.Lock()
		if t, err := e.queue.Dequeue(); err == nil {
			e.mu.Unlock()
			e.dispatch(t)
			continue
		}
		if e.sig.Signaled() {
			e.mu.Unlock()
			e.sig.Arrive()
			return
		}
		e.cond.Wait()
		e.mu.Unlock()
	}
}

// dispatch runs the task callback and retires the record.
func (e *Executor) dispatch(t *task) {
	switch t.kind {
	case taskCPU:
		t.fn(t.userdata)
	case taskCompletion:
		t.cfn(t.res, t.userdata)
	}
	e.pending.AddAcqRel(-1)
	e.live.AddAcqRel(-1)
}

// Deinit verifies the record accounting when leak checking is enabled.
// Call after Terminate has collected every worker.
func (e *Executor) Deinit() {
	if e.leakCheck && e.live.Load() != 0 {
		panic("taskio: task records leaked")
	}
}
