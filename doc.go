// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskio is a concurrency substrate for server-class Linux
// applications: a fixed-pool task executor and an io_uring-backed
// asynchronous I/O engine, connected so an I/O completion can schedule
// CPU-bound follow-up work without a trip through user-space polling.
//
// # Components
//
// Three bounded lock-free rings (SPMC, MPSC, MPMC) carry every
// cross-goroutine handoff. A Signal controller latches external
// shutdown and counts exiting workers. The Executor consumes an MPMC
// ring of task records with condition-variable idle parking. The
// AsyncIO engine owns one io_uring as its single issuer, multiplexing
// submissions from arbitrary goroutines through an MPSC staging ring
// and a pinned multi-shot self-poll on an eventfd.
//
// # Quick Start
//
//	sig := taskio.NewSignal()
//	sig.Watch() // SIGINT, SIGTERM
//
//	exec := taskio.NewExecutor(sig, taskio.WithWorkers(8))
//
//	aio, err := taskio.NewAsyncIO(sig)
//	if err != nil {
//	    // kernel too old, or io_uring unavailable
//	}
//
//	go aio.EventLoop(func() { /* runs once at shutdown */ })
//
//	// Submit I/O from any goroutine; completions run on the reaper.
//	aio.Read(fd, buf, 0, taskio.ModeAsync, func(res int32, ud any) {
//	    // Hand long work to the executor instead of blocking the reaper.
//	    exec.SubmitCompletion(process, res, ud)
//	}, nil)
//
//	// Shutdown rendezvous.
//	sig.Terminate(exec, exec.Workers())
//	exec.Deinit()
//	aio.Deinit()
//
// # Ordering
//
// None. Rings do not preserve FIFO under contention, workers race each
// other for tasks, and submitted I/O runs unordered except for the
// per-submission ModeDrain and ModeLink primitives, whose semantics are
// the kernel's.
//
// # Backpressure
//
// Every ring is bounded. Submission calls return [ErrWouldBlock] when
// a ring is full; callers retry with [iox.Backoff] or shed load. The
// executor and the engine never fail a submission after accepting it.
//
// # Shutdown
//
// Shutdown is cooperative and one-way. The latch stops new work
// ([ErrDraining], [ErrClosed]); workers drain and arrive at the
// rendezvous; the reaper cancels tracked in-flight submissions, reaps
// the stragglers, and closes once only its self-poll remains.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit
// memory ordering, [code.hybscloud.com/spin] for CPU pause
// instructions, golang.org/x/sys/unix for the kernel interface, and
// github.com/charmbracelet/log for reaper-side logging.
package taskio
