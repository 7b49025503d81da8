// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskio

import (
	"os"
	"os/signal"
	"time"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/unix"
)

// terminatePollInterval is the sleep between rendezvous checks in
// [Signal.Terminate].
const terminatePollInterval = 500 * time.Millisecond

// Signal records an external shutdown request and provides the
// rendezvous counter workers increment as they exit.
//
// The application constructs at most one Signal and shares it between
// the executor and the I/O engine. A latched signal number is never
// cleared; shutdown is one-way.
type Signal struct {
	_            pad
	signo        atomix.Int32 // 0 means no shutdown pending
	_            pad
	participants atomix.Int32 // Workers that have exited
	_            pad

	ch chan os.Signal
}

// NewSignal creates a signal controller with no signals watched.
// Use [Signal.Watch] to subscribe OS termination signals, or
// [Signal.Latch] to latch shutdown directly.
func NewSignal() *Signal {
	return &Signal{}
}

// Watch subscribes the given termination signals and latches the first
// one received. With no arguments it watches SIGINT and SIGTERM.
//
// Delivery goes through the runtime's signal channel; the receiving
// goroutine performs only the latch store, the moral equivalent of an
// async-signal-safe handler.
func (s *Signal) Watch(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{unix.SIGINT, unix.SIGTERM}
	}
	s.ch = make(chan os.Signal, 1)
	signal.Notify(s.ch, sigs...)
	go func() {
		sig, ok := <-s.ch
		if !ok {
			return
		}
		if num, ok := sig.(unix.Signal); ok {
			s.Latch(int32(num))
		} else {
			s.Latch(int32(unix.SIGTERM))
		}
	}()
}

// Latch records sig as the pending shutdown signal. The first non-zero
// value wins; later latches keep the original number.
func (s *Signal) Latch(sig int32) {
	if sig == 0 {
		return
	}
	s.signo.CompareAndSwapAcqRel(0, sig)
}

// Signaled reports whether shutdown has been latched.
func (s *Signal) Signaled() bool {
	return s.signo.LoadRelaxed() != 0
}

// Signo returns the latched signal number, or 0 when no shutdown is
// pending.
func (s *Signal) Signo() int32 {
	return s.signo.LoadRelaxed()
}

// Arrive increments the rendezvous counter. Each exiting worker calls
// this exactly once.
func (s *Signal) Arrive() {
	s.participants.AddAcqRel(1)
}

// Participants returns the number of workers that have exited.
func (s *Signal) Participants() int32 {
	return s.participants.Load()
}

// Terminate releases parked workers and waits until workerCount of them
// have arrived at the rendezvous. Shutdown must already be latched,
// otherwise released workers park again and Terminate never returns.
func (s *Signal) Terminate(e *Executor, workerCount int) {
	for s.participants.Load() < int32(workerCount) {
		e.Broadcast()
		time.Sleep(terminatePollInterval)
	}
}

// Stop unsubscribes the OS signals registered by Watch.
func (s *Signal) Stop() {
	if s.ch != nil {
		signal.Stop(s.ch)
		close(s.ch)
		s.ch = nil
	}
}
