// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskio

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates a bounded ring cannot accept or produce work
// right now.
//
// For Submit and the engine's submission calls: the ring is full
// (backpressure). For Dequeue: the ring is empty.
//
// ErrWouldBlock is a control flow signal, not a failure. The caller
// should retry later (with backoff or yield) rather than propagating
// the error.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// ErrClosed indicates an I/O submission was attempted after the engine
// reached the closed state. The submission was not accepted.
var ErrClosed = errors.New("taskio: engine closed")

// ErrDraining indicates a task submission was attempted after shutdown
// was latched. Workers are draining and will not pick up new work.
var ErrDraining = errors.New("taskio: executor draining")

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}
