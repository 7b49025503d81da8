// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package uring

// SQE is the submission queue entry, 64 bytes, matching struct
// io_uring_sqe. The kernel struct is a stack of unions; the fields here
// carry the union member names used by this module.
type SQE struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64 // offset or addr2
	Addr        uint64 // buffer address or pointer argument
	Len         uint32
	OpFlags     uint32 // rw_flags, timeout_flags, accept_flags, ...
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Addr3       uint64
	_           uint64
}

// Reset zeroes the entry.
func (e *SQE) Reset() {
	*e = SQE{}
}

// CQE is the completion queue entry, 16 bytes, matching struct
// io_uring_cqe.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// More reports whether further completions will arrive for the same
// submission (multi-shot).
func (c *CQE) More() bool {
	return c.Flags&CQEFMore != 0
}

// Params mirrors struct io_uring_params, filled by io_uring_setup.
type Params struct {
	SQEntries    uint32
	CQEntries    uint32
	Flags        uint32
	SQThreadCPU  uint32
	SQThreadIdle uint32
	Features     uint32
	WQFd         uint32
	Resv         [3]uint32
	SQOff        SQRingOffsets
	CQOff        CQRingOffsets
}

// SQRingOffsets mirrors struct io_sqring_offsets.
type SQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	UserAddr    uint64
}

// CQRingOffsets mirrors struct io_cqring_offsets.
type CQRingOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	CQEs        uint32
	Flags       uint32
	Resv1       uint32
	UserAddr    uint64
}

// Timespec matches struct __kernel_timespec.
type Timespec struct {
	Sec  int64
	Nsec int64
}
