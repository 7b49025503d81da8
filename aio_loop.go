// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package taskio

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/taskio/internal/uring"
)

// EventLoop runs the reaper on the calling goroutine until shutdown
// completes. There is exactly one reaper; no other goroutine touches
// the kernel SQ/CQ cursors.
//
// exitCallbacks run once, on the reaper, when the shutdown latch is
// first observed — before the engine moves to closing.
//
// The loop: flush the staging ring into the kernel SQ, wait for
// completions when idle, reap the CQ, then evaluate the lifecycle
// state machine inactive → running → closing → closed.
func (a *AsyncIO) EventLoop(exitCallbacks ...func()) {
	if !a.loopStarted.CompareAndSwapAcqRel(false, true) {
		panic("taskio: event loop started twice")
	}

	// Single-issuer ring: pin the reaper to one OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	a.armSelfPoll = true

	for {
		batch := a.flush()

		if batch > 0 {
			flags := uring.EnterSQWait
			if a.sqNeedWakeup() {
				flags |= uring.EnterSQWakeup
			}
			if a.enter(uint32(batch), 0, flags) {
				a.ongoing.AddAcqRel(int64(batch))
			}
		} else if a.shouldBlock() {
			a.enter(0, 1, uring.EnterGetevents)
		}

		if a.status.Load() == statusInactive {
			// Self-poll installed by the first flush.
			a.status.StoreRelease(statusRunning)
		}

		a.reap()

		if a.transition(exitCallbacks) {
			return
		}
	}
}

// shouldBlock reports whether the loop may park in the kernel waiting
// for a completion. In closing with outstanding work the completions
// (or their cancels) are still coming, so blocking stays safe; once
// only the self-poll residual remains the loop must not sleep, or it
// would never observe quiescence.
func (a *AsyncIO) shouldBlock() bool {
	switch a.status.Load() {
	case statusClosing:
		return a.ongoing.Load() > a.residual()
	default:
		return true
	}
}

// residual is the ongoing count at quiescence: the pinned self-poll
// when armed, nothing otherwise.
func (a *AsyncIO) residual() int64 {
	if a.selfPollArmed {
		return 1
	}
	return 0
}

// enter wraps io_uring_enter. EINTR is a spurious wake; anything else
// is logged. Reports whether the submitted batch was accepted — with
// SQPOLL the kernel consumes the SQ ring regardless, so a failed wait
// does not lose submissions.
func (a *AsyncIO) enter(toSubmit, minComplete, flags uint32) bool {
	_, err := uring.Enter(a.ringFd, toSubmit, minComplete, flags)
	if err == nil || err == unix.EINTR {
		return true
	}
	a.logger.Error("io_uring_enter", "err", err)
	return toSubmit > 0
}

// flush drains the staging ring into the kernel SQ, preparing one SQE
// per operation record. Stops early when the SQ is full; the remainder
// stays staged for the next iteration. Returns the number of SQEs
// produced.
func (a *AsyncIO) flush() int {
	head := atomic.LoadUint32(a.sqHead)
	tail := atomic.LoadUint32(a.sqTail)
	space := a.params.SQEntries - (tail - head)

	n := uint32(0)

	if a.armSelfPoll && space > 0 {
		a.prepSQE(tail, a.selfPoll, selfPollToken)
		a.armSelfPoll = false
		a.selfPollArmed = true
		n++
	}

	for n < space {
		o, err := a.staging.Dequeue()
		if err != nil {
			break
		}
		a.inflight[o.token()] = o
		a.prepSQE(tail+n, o, o.token())
		n++
	}

	if n > 0 {
		atomic.StoreUint32(a.sqTail, tail+n)
	}
	return int(n)
}

// prepSQE writes the SQE for o at ring position tail and publishes its
// index in the sq.array ring.
func (a *AsyncIO) prepSQE(tail uint32, o *Op, userData uint64) {
	idx := tail & a.sqMask
	o.prep(&a.sqes[idx], userData)
	a.sqArray[idx] = idx
}

// reap consumes every pending CQE and dispatches it.
func (a *AsyncIO) reap() {
	for {
		head := atomic.LoadUint32(a.cqHead)
		tail := atomic.LoadUint32(a.cqTail)
		if head == tail {
			return
		}

		cqe := a.cqes[head&a.cqMask]
		atomic.StoreUint32(a.cqHead, head+1)

		terminal := !cqe.More()
		if terminal {
			a.ongoing.AddAcqRel(-1)
		}

		switch cqe.UserData {
		case 0:
			// Unreachable in correct use: every SQE carries a token.
			panic("taskio: completion without user_data")
		case selfPollToken:
			a.drainWakeups()
			if terminal {
				a.selfPollArmed = false
				// The kernel tore down the multi-shot poll; re-arm
				// while the engine still runs.
				if a.status.Load() == statusRunning {
					a.armSelfPoll = true
				}
			}
		default:
			a.dispatch(&cqe, terminal)
		}
	}
}

// dispatch routes one completion to its operation record.
func (a *AsyncIO) dispatch(cqe *uring.CQE, terminal bool) {
	o := a.inflight[cqe.UserData]
	if o == nil {
		panic("taskio: completion with unknown user_data")
	}

	if o.cb != nil {
		o.cb(cqe.Res, o.userdata)
	} else if cqe.Res < 0 && !expectedErrno(o.opcode, unix.Errno(-cqe.Res)) {
		a.logger.Error("async op failed",
			"opcode", o.opcode, "errno", unix.Errno(-cqe.Res))
	}

	if terminal {
		delete(a.inflight, cqe.UserData)
		a.live.AddAcqRel(-1)
	}
}

// expectedErrno reports completion codes that are part of an opcode's
// normal protocol and not worth logging: an expired timeout posts
// ETIME, a cancel whose target already finished posts ENOENT or
// EALREADY.
func expectedErrno(opcode uint8, errno unix.Errno) bool {
	switch opcode {
	case uring.OpTimeout:
		return errno == unix.ETIME
	case uring.OpAsyncCancel:
		return errno == unix.ENOENT || errno == unix.EALREADY
	}
	return false
}

// drainWakeups empties the eventfd counter behind the self-poll.
func (a *AsyncIO) drainWakeups() {
	var buf [8]byte
	for {
		_, err := unix.Read(a.efd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

// transition evaluates the lifecycle state machine. Reports whether the
// loop is done.
func (a *AsyncIO) transition(exitCallbacks []func()) bool {
	if a.status.Load() == statusRunning && a.sig.Signaled() {
		if !a.exitInvoked {
			a.exitInvoked = true
			for _, fn := range exitCallbacks {
				fn()
			}
		}
		a.status.StoreRelease(statusClosing)
		a.Wake()
	}

	if a.status.Load() == statusClosing {
		if !a.cancelSwept {
			a.sweepCancels()
		}
		if a.ongoing.Load() == a.residual() {
			a.status.StoreRelease(statusClosed)
		}
	}

	return a.status.Load() == statusClosed
}

// sweepCancels stages an async cancel for every tracked in-flight
// record so shutdown is not held hostage by long outstanding
// submissions. Records whose cancel lands receive -ECANCELED through
// their own completion. A full staging ring pauses the sweep until the
// next iteration.
func (a *AsyncIO) sweepCancels() {
	done := true
	for _, o := range a.inflight {
		if o.cancelled || o.opcode == uring.OpAsyncCancel {
			continue
		}
		c := &Op{opcode: uring.OpAsyncCancel, target: o}
		a.live.AddAcqRel(1)
		if err := a.staging.Enqueue(c); err != nil {
			a.live.AddAcqRel(-1)
			done = false
			break
		}
		o.cancelled = true
	}
	a.cancelSwept = done
}
