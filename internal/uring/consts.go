// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package uring

// io_uring syscall numbers. Identical on amd64 and arm64.
const (
	SYS_IO_URING_SETUP    = 425
	SYS_IO_URING_ENTER    = 426
	SYS_IO_URING_REGISTER = 427
)

// Opcodes (IORING_OP_*).
const (
	OpNop uint8 = iota
	OpReadv
	OpWritev
	OpFsync
	OpReadFixed
	OpWriteFixed
	OpPollAdd
	OpPollRemove
	OpSyncFileRange
	OpSendmsg
	OpRecvmsg
	OpTimeout
	OpTimeoutRemove
	OpAccept
	OpAsyncCancel
	OpLinkTimeout
	OpConnect
	OpFallocate
	OpOpenat
	OpClose
	OpFilesUpdate
	OpStatx
	OpRead
	OpWrite
	OpFadvise
	OpMadvise
	OpSend
	OpRecv
	OpOpenat2
	OpEpollCtl
	OpSplice
	OpProvideBuffers
	OpRemoveBuffers
	OpTee
	OpShutdown
)

// Setup flags (IORING_SETUP_*).
const (
	SetupIOPoll       uint32 = 1 << 0
	SetupSQPoll       uint32 = 1 << 1
	SetupSQAff        uint32 = 1 << 2
	SetupCQSize       uint32 = 1 << 3
	SetupClamp        uint32 = 1 << 4
	SetupAttachWQ     uint32 = 1 << 5
	SetupSingleIssuer uint32 = 1 << 12
)

// Feature flags reported in Params.Features (IORING_FEAT_*).
const (
	FeatSingleMmap uint32 = 1 << 0
	FeatNodrop     uint32 = 1 << 1
	FeatExtArg     uint32 = 1 << 8
)

// Enter flags (IORING_ENTER_*).
const (
	EnterGetevents uint32 = 1 << 0
	EnterSQWakeup  uint32 = 1 << 1
	EnterSQWait    uint32 = 1 << 2
)

// SQ ring flags, written by the kernel (IORING_SQ_*).
const (
	SQNeedWakeup uint32 = 1 << 0
	SQCQOverflow uint32 = 1 << 1
)

// Per-SQE flags (IOSQE_*).
const (
	SQEFixedFile uint8 = 1 << 0
	SQEIODrain   uint8 = 1 << 1
	SQEIOLink    uint8 = 1 << 2
	SQEAsync     uint8 = 1 << 4
)

// CQE flags (IORING_CQE_F_*).
const (
	CQEFBuffer uint32 = 1 << 0
	CQEFMore   uint32 = 1 << 1
)

// Mmap offsets into the ring fd (IORING_OFF_*).
const (
	OffSQRing uint64 = 0
	OffCQRing uint64 = 0x8000000
	OffSQEs   uint64 = 0x10000000
)

// Op-specific modifier flags.
const (
	PollAddMulti      uint32 = 1 << 0 // IORING_POLL_ADD_MULTI
	TimeoutBoottime   uint32 = 1 << 2 // IORING_TIMEOUT_BOOTTIME
	AcceptMultishot   uint16 = 1 << 0 // IORING_ACCEPT_MULTISHOT
	RecvsendPollFirst uint16 = 1 << 0 // IORING_RECVSEND_POLL_FIRST
)

// sigsetSize is _NSIG/8, the size the kernel expects for the sigmask
// argument of io_uring_enter.
const sigsetSize = 8
