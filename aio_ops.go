// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package taskio

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/taskio/internal/uring"
)

// Mode selects a submission's relationship to the engine's ordering.
// These are the only ordering primitives exposed; everything else runs
// unordered.
type Mode uint8

const (
	// ModeAsync punts the operation to the kernel async workers
	// immediately. The default for every submission call.
	ModeAsync Mode = iota
	// ModeDrain waits for every prior SQE to complete before this one
	// runs.
	ModeDrain
	// ModeLink chains the next SQE to this one; the chain severs on
	// the first failed link.
	ModeLink
)

func (m Mode) sqeFlags() uint8 {
	switch m {
	case ModeDrain:
		return uring.SQEIODrain
	case ModeLink:
		return uring.SQEIOLink
	default:
		return uring.SQEAsync
	}
}

// Op is an in-flight I/O operation record. Its address doubles as the
// kernel-visible user_data token; the record owns every buffer and
// pointer the kernel reads, so nothing it references moves or dies
// before the terminal completion.
//
// A non-multi-shot record is retired when its completion is dispatched.
// Multi-shot records survive until a completion without the more flag
// arrives.
type Op struct {
	opcode   uint8
	mode     Mode
	cb       CompletionFunc
	userdata any

	// multishot marks submissions that produce many completions
	// (accept, the engine's self-poll).
	multishot bool

	fd     int
	off    uint64
	length uint32 // len field: count, mode_t, statx mask, shutdown how

	buf        []byte        // send/recv/read/write payload
	pathBuf    []byte        // openat/statx NUL-terminated path
	openFlags  uint32
	statxFlags uint32
	ts         uring.Timespec
	sa         *unix.RawSockaddrAny
	saLen      *uint32
	statx      *unix.Statx_t
	pollMask   uint32
	target     *Op // async cancel target

	// cancelled marks records already swept by shutdown cancellation.
	// Reaper-owned.
	cancelled bool
}

// token returns the kernel-visible user_data for o.
func (o *Op) token() uint64 {
	return uint64(uintptr(unsafe.Pointer(o)))
}

// prep fills sqe for o per the opcode's field assignment. All bytes not
// assigned here were zeroed by Reset.
func (o *Op) prep(sqe *uring.SQE, userData uint64) {
	sqe.Reset()
	sqe.Opcode = o.opcode
	sqe.Flags = o.mode.sqeFlags()
	sqe.UserData = userData

	switch o.opcode {
	case uring.OpPollAdd:
		sqe.Fd = int32(o.fd)
		sqe.Len = uring.PollAddMulti
		sqe.OpFlags = o.pollMask
	case uring.OpTimeout:
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&o.ts)))
		sqe.Len = 1
		sqe.OpFlags = uring.TimeoutBoottime
	case uring.OpAccept:
		sqe.Fd = int32(o.fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(o.sa)))
		sqe.Off = uint64(uintptr(unsafe.Pointer(o.saLen)))
		sqe.Ioprio = uring.AcceptMultishot
	case uring.OpShutdown:
		sqe.Fd = int32(o.fd)
		sqe.Len = o.length
	case uring.OpOpenat:
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&o.pathBuf[0])))
		sqe.Len = o.length
		sqe.OpFlags = o.openFlags
	case uring.OpClose:
		sqe.Fd = int32(o.fd)
	case uring.OpSend:
		sqe.Fd = int32(o.fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&o.buf[0])))
		sqe.Len = uint32(len(o.buf))
	case uring.OpRecv:
		sqe.Fd = int32(o.fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&o.buf[0])))
		sqe.Len = uint32(len(o.buf))
		sqe.Ioprio = uring.RecvsendPollFirst
	case uring.OpRead, uring.OpWrite:
		sqe.Fd = int32(o.fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&o.buf[0])))
		sqe.Len = uint32(len(o.buf))
		sqe.Off = o.off
	case uring.OpStatx:
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&o.pathBuf[0])))
		sqe.Off = uint64(uintptr(unsafe.Pointer(o.statx)))
		sqe.Len = o.length
		sqe.OpFlags = o.statxFlags
	case uring.OpAsyncCancel:
		sqe.Addr = o.target.token()
	default:
		panic("taskio: unknown opcode")
	}
}
