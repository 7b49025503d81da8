// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package uring

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Setup wraps io_uring_setup(2). Returns the ring fd.
func Setup(entries uint32, params *Params) (int, error) {
	fd, _, errno := unix.Syscall(
		SYS_IO_URING_SETUP,
		uintptr(entries),
		uintptr(unsafe.Pointer(params)),
		0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

// Enter wraps io_uring_enter(2). toSubmit SQEs are handed to the
// kernel; with EnterGetevents the call blocks until minComplete
// completions are available.
func Enter(fd int, toSubmit, minComplete, flags uint32) (int, error) {
	n, _, errno := unix.Syscall6(
		SYS_IO_URING_ENTER,
		uintptr(fd),
		uintptr(toSubmit),
		uintptr(minComplete),
		uintptr(flags),
		0,
		sigsetSize,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// Mmap maps a ring region of the given length at offset.
func Mmap(fd int, offset uint64, length int) ([]byte, error) {
	return unix.Mmap(fd, int64(offset), length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_POPULATE)
}

// Munmap unmaps a region returned by Mmap.
func Munmap(b []byte) error {
	return unix.Munmap(b)
}
