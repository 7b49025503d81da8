// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package taskio

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"code.hybscloud.com/taskio/internal/uring"
)

// Engine lifecycle states.
const (
	statusInactive int32 = iota
	statusRunning
	statusClosing
	statusClosed
)

// selfPollToken is the user_data sentinel of the pinned self-poll
// submission watching the wake-up eventfd.
const selfPollToken uint64 = 1

// defaultRingEntries is the SQ depth when the caller does not choose
// one. The staging ring uses the same capacity.
const defaultRingEntries = 4096

// AsyncIO drives a single io_uring instance from one reaper goroutine.
//
// Producers on any goroutine stage operation records through an MPSC
// ring and wake the reaper by writing its eventfd; a pinned multi-shot
// poll on that eventfd turns the write into a completion. Only the
// reaper touches the kernel SQ/CQ cursors.
//
// The application constructs at most one AsyncIO per ring it wants to
// own.
type AsyncIO struct {
	ringFd int
	params uring.Params

	// Mapped regions. With FEAT_SINGLE_MMAP the SQ and CQ metadata
	// share ringMem; sqeMem holds the SQE array.
	ringMem []byte
	sqeMem  []byte

	// Decoded SQ pointers. Kernel-shared words, accessed with
	// sync/atomic since they live in foreign mapped memory.
	sqHead  *uint32
	sqTail  *uint32
	sqFlags *uint32
	sqMask  uint32
	sqArray []uint32
	sqes    []uring.SQE

	// Decoded CQ pointers.
	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []uring.CQE

	efd     int // wake-up eventfd, watched by the self-poll
	staging *MPSC[Op]
	sig     *Signal
	logger  *log.Logger

	// ongoing counts kernel-side submissions, the pinned self-poll
	// included. Quiescence in closing is ongoing == 1 while the
	// self-poll is armed, 0 otherwise.
	ongoing atomix.Int64
	status  atomix.Int32

	loopStarted atomix.Bool

	// Reaper-owned state. Never touched off the event loop.
	selfPoll      *Op
	inflight      map[uint64]*Op
	armSelfPoll   bool // self-poll wants (re)installation
	selfPollArmed bool // self-poll is kernel-side
	cancelSwept   bool
	exitInvoked   bool

	// live counts operation records between boxing and terminal
	// dispatch; Deinit asserts zero under leak checking.
	live      atomix.Int64
	leakCheck bool
}

// AioOption configures an AsyncIO.
type AioOption func(*aioOptions)

type aioOptions struct {
	entries   int
	attachWQ  int
	logger    *log.Logger
	leakCheck bool
}

// WithRingEntries sets the SQ depth and the staging ring capacity
// (rounded up to a power of 2).
func WithRingEntries(n int) AioOption {
	return func(o *aioOptions) { o.entries = n }
}

// WithAttachWQ shares the kernel async worker pool of an existing ring.
// parentFd must be a valid io_uring fd.
func WithAttachWQ(parentFd int) AioOption {
	return func(o *aioOptions) { o.attachWQ = parentFd }
}

// WithLogger replaces the engine's logger.
func WithLogger(l *log.Logger) AioOption {
	return func(o *aioOptions) { o.logger = l }
}

// WithAioLeakCheck makes Deinit panic when operation records are still
// live. Intended for tests and debug builds.
func WithAioLeakCheck() AioOption {
	return func(o *aioOptions) { o.leakCheck = true }
}

// NewAsyncIO sets up the ring and the wake-up eventfd. The engine stays
// inactive until EventLoop runs.
//
// Requires Linux >= 6.8 and a kernel reporting FEAT_SINGLE_MMAP.
func NewAsyncIO(sig *Signal, opts ...AioOption) (*AsyncIO, error) {
	if sig == nil {
		panic("taskio: nil signal controller")
	}

	o := aioOptions{entries: defaultRingEntries, attachWQ: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix:       "taskio",
			ReportCaller: true,
		})
	}

	release, err := kernelRelease()
	if err != nil {
		return nil, fmt.Errorf("taskio: read kernel release: %w", err)
	}
	if !kernelSupported(release) {
		return nil, fmt.Errorf("taskio: kernel %s too old, need >= 6.8", release)
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("taskio: eventfd: %w", err)
	}

	entries := uint32(roundToPow2(o.entries))
	a := &AsyncIO{
		ringFd:    -1,
		efd:       efd,
		staging:   NewMPSC[Op](int(entries)),
		sig:       sig,
		logger:    o.logger,
		inflight:  make(map[uint64]*Op),
		leakCheck: o.leakCheck,
	}
	a.status.StoreRelaxed(statusInactive)

	a.params.Flags = uring.SetupSQPoll | uring.SetupSingleIssuer
	if o.attachWQ >= 0 {
		a.params.Flags |= uring.SetupAttachWQ
		a.params.WQFd = uint32(o.attachWQ)
	}

	fd, err := uring.Setup(entries, &a.params)
	if err != nil {
		unix.Close(efd)
		return nil, fmt.Errorf("taskio: io_uring_setup: %w", err)
	}
	a.ringFd = fd

	if a.params.Features&uring.FeatSingleMmap == 0 {
		unix.Close(fd)
		unix.Close(efd)
		return nil, fmt.Errorf("taskio: kernel lacks IORING_FEAT_SINGLE_MMAP")
	}

	if err := a.mapRings(); err != nil {
		unix.Close(fd)
		unix.Close(efd)
		return nil, err
	}

	a.selfPoll = &Op{
		opcode:    uring.OpPollAdd,
		fd:        efd,
		pollMask:  unix.POLLIN,
		multishot: true,
	}

	return a, nil
}

// mapRings maps the shared SQ/CQ region and the SQE array, then decodes
// the kernel-supplied offsets into typed pointers.
func (a *AsyncIO) mapRings() error {
	p := &a.params

	ringSize := p.SQOff.Array + p.SQEntries*4
	cqSize := p.CQOff.CQEs + p.CQEntries*uint32(unsafe.Sizeof(uring.CQE{}))
	if cqSize > ringSize {
		ringSize = cqSize
	}

	mem, err := uring.Mmap(a.ringFd, uring.OffSQRing, int(ringSize))
	if err != nil {
		return fmt.Errorf("taskio: mmap rings: %w", err)
	}
	a.ringMem = mem

	sqeSize := int(p.SQEntries) * int(unsafe.Sizeof(uring.SQE{}))
	sqeMem, err := uring.Mmap(a.ringFd, uring.OffSQEs, sqeSize)
	if err != nil {
		uring.Munmap(mem)
		return fmt.Errorf("taskio: mmap sqes: %w", err)
	}
	a.sqeMem = sqeMem

	a.sqHead = (*uint32)(unsafe.Pointer(&mem[p.SQOff.Head]))
	a.sqTail = (*uint32)(unsafe.Pointer(&mem[p.SQOff.Tail]))
	a.sqFlags = (*uint32)(unsafe.Pointer(&mem[p.SQOff.Flags]))
	a.sqMask = *(*uint32)(unsafe.Pointer(&mem[p.SQOff.RingMask]))
	a.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&mem[p.SQOff.Array])), p.SQEntries)
	a.sqes = unsafe.Slice((*uring.SQE)(unsafe.Pointer(&sqeMem[0])), p.SQEntries)

	a.cqHead = (*uint32)(unsafe.Pointer(&mem[p.CQOff.Head]))
	a.cqTail = (*uint32)(unsafe.Pointer(&mem[p.CQOff.Tail]))
	a.cqMask = *(*uint32)(unsafe.Pointer(&mem[p.CQOff.RingMask]))
	a.cqes = unsafe.Slice((*uring.CQE)(unsafe.Pointer(&mem[p.CQOff.CQEs])), p.CQEntries)

	return nil
}

// Ongoing returns the count of kernel-side submissions, the pinned
// self-poll included.
func (a *AsyncIO) Ongoing() int64 {
	return a.ongoing.Load()
}

// RingFd returns the io_uring fd, usable as a WithAttachWQ parent.
func (a *AsyncIO) RingFd() int {
	return a.ringFd
}

// Wake rouses the reaper by writing the eventfd the self-poll watches.
// Safe from any goroutine.
func (a *AsyncIO) Wake() {
	// Host-order uint64(1); both supported targets are little-endian.
	one := [8]byte{0: 1}
	for {
		_, err := unix.Write(a.efd, one[:])
		if err == unix.EINTR {
			continue
		}
		// EAGAIN means the counter is saturated; the pending value
		// already wakes the reaper.
		return
	}
}

// push stages an operation record for the reaper. A closed engine
// rejects; a full staging ring drops the record and reports overflow.
func (a *AsyncIO) push(o *Op) error {
	if a.status.Load() == statusClosed {
		return ErrClosed
	}

	a.live.AddAcqRel(1)
	if err := a.staging.Enqueue(o); err != nil {
		a.live.AddAcqRel(-1)
		return err
	}
	a.Wake()
	return nil
}

// Timeout submits a timeout expiring after d, measured on the boottime
// clock.
func (a *AsyncIO) Timeout(d time.Duration, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	o := &Op{
		opcode:   uring.OpTimeout,
		mode:     mode,
		cb:       cb,
		userdata: userdata,
		ts: uring.Timespec{
			Sec:  int64(d / time.Second),
			Nsec: int64(d % time.Second),
		},
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Accept submits a multi-shot accept on a listening socket. The
// callback fires once per incoming connection with the accepted fd as
// its result; completions carry the more flag until the terminal one.
func (a *AsyncIO) Accept(socket int, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	o := &Op{
		opcode:    uring.OpAccept,
		mode:      mode,
		cb:        cb,
		userdata:  userdata,
		fd:        socket,
		multishot: true,
		sa:        new(unix.RawSockaddrAny),
		saLen:     new(uint32),
	}
	*o.saLen = uint32(unsafe.Sizeof(unix.RawSockaddrAny{}))
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Shutdown submits a socket shutdown. how is one of unix.SHUT_RD,
// unix.SHUT_WR, unix.SHUT_RDWR.
func (a *AsyncIO) Shutdown(socket int, how int, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	o := &Op{
		opcode:   uring.OpShutdown,
		mode:     mode,
		cb:       cb,
		userdata: userdata,
		fd:       socket,
		length:   uint32(how),
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Open submits an openat for an absolute path. The completion result is
// the new fd.
func (a *AsyncIO) Open(path string, flags int, perm uint32, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	buf, err := unix.ByteSliceFromString(path)
	if err != nil {
		return nil, err
	}
	o := &Op{
		opcode:    uring.OpOpenat,
		mode:      mode,
		cb:        cb,
		userdata:  userdata,
		pathBuf:   buf,
		length:    perm,
		openFlags: uint32(flags),
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Close submits a close of fd.
func (a *AsyncIO) Close(fd int, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	o := &Op{
		opcode:   uring.OpClose,
		mode:     mode,
		cb:       cb,
		userdata: userdata,
		fd:       fd,
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Send submits a send of buf on a connected socket. buf must stay
// untouched until the completion is dispatched.
func (a *AsyncIO) Send(socket int, buf []byte, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	o := &Op{
		opcode:   uring.OpSend,
		mode:     mode,
		cb:       cb,
		userdata: userdata,
		fd:       socket,
		buf:      buf,
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Recv submits a receive into buf. The submission polls for readiness
// first instead of bouncing to a kernel worker.
func (a *AsyncIO) Recv(socket int, buf []byte, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	o := &Op{
		opcode:   uring.OpRecv,
		mode:     mode,
		cb:       cb,
		userdata: userdata,
		fd:       socket,
		buf:      buf,
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Read submits a read of len(buf) bytes from fd at off.
func (a *AsyncIO) Read(fd int, buf []byte, off uint64, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	o := &Op{
		opcode:   uring.OpRead,
		mode:     mode,
		cb:       cb,
		userdata: userdata,
		fd:       fd,
		buf:      buf,
		off:      off,
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Write submits a write of len(buf) bytes to fd at off.
func (a *AsyncIO) Write(fd int, buf []byte, off uint64, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	o := &Op{
		opcode:   uring.OpWrite,
		mode:     mode,
		cb:       cb,
		userdata: userdata,
		fd:       fd,
		buf:      buf,
		off:      off,
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Status submits a statx for an absolute path. stx receives the result
// and must stay untouched until the completion is dispatched.
func (a *AsyncIO) Status(path string, mask uint32, flags int, stx *unix.Statx_t, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	if stx == nil {
		panic("taskio: nil statx result")
	}
	buf, err := unix.ByteSliceFromString(path)
	if err != nil {
		return nil, err
	}
	o := &Op{
		opcode:     uring.OpStatx,
		mode:       mode,
		cb:         cb,
		userdata:   userdata,
		pathBuf:    buf,
		length:     mask,
		statx:      stx,
		statxFlags: uint32(flags),
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Cancel submits an async cancel for a previously submitted operation.
// The target's callback receives -ECANCELED if the cancel lands before
// the operation completes on its own.
func (a *AsyncIO) Cancel(target *Op, mode Mode, cb CompletionFunc, userdata any) (*Op, error) {
	if target == nil {
		panic("taskio: nil cancel target")
	}
	o := &Op{
		opcode:   uring.OpAsyncCancel,
		mode:     mode,
		cb:       cb,
		userdata: userdata,
		target:   target,
	}
	if err := a.push(o); err != nil {
		return nil, err
	}
	return o, nil
}

// Deinit releases the ring resources. Valid only once the event loop
// has reached closed (or never started).
func (a *AsyncIO) Deinit() {
	st := a.status.Load()
	if st != statusClosed && st != statusInactive {
		panic("taskio: Deinit before engine closed")
	}

	if a.sqeMem != nil {
		uring.Munmap(a.sqeMem)
		a.sqeMem = nil
	}
	if a.ringMem != nil {
		uring.Munmap(a.ringMem)
		a.ringMem = nil
	}
	if a.ringFd >= 0 {
		unix.Close(a.ringFd)
		a.ringFd = -1
	}
	if a.efd >= 0 {
		unix.Close(a.efd)
		a.efd = -1
	}
	a.selfPoll = nil

	if a.leakCheck && a.live.Load() != 0 {
		panic("taskio: operation records leaked")
	}
}

// sqNeedWakeup reports whether the SQPOLL thread went idle and must be
// kicked through io_uring_enter.
func (a *AsyncIO) sqNeedWakeup() bool {
	return atomic.LoadUint32(a.sqFlags)&uring.SQNeedWakeup != 0
}
