// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package taskio_test

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"code.hybscloud.com/taskio"
)

// newTestEngine sets up an engine or skips when the environment cannot
// run io_uring (old kernel, sysctl io_uring_disabled, sandbox).
func newTestEngine(t *testing.T, sig *taskio.Signal, opts ...taskio.AioOption) *taskio.AsyncIO {
	t.Helper()
	a, err := taskio.NewAsyncIO(sig, opts...)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	return a
}

// runLoop starts the event loop and returns a channel closed on exit.
func runLoop(a *taskio.AsyncIO, exitCallbacks ...func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.EventLoop(exitCallbacks...)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("event loop did not exit")
	}
}

func TestAioTimeout(t *testing.T) {
	sig := taskio.NewSignal()
	a := newTestEngine(t, sig, taskio.WithAioLeakCheck())
	done := runLoop(a)

	const d = 500 * time.Millisecond
	start := time.Now()
	got := make(chan int32, 1)

	_, err := a.Timeout(d, taskio.ModeAsync, func(res int32, ud any) {
		got <- res
	}, nil)
	require.NoError(t, err)

	select {
	case res := <-got:
		// An expired timeout posts ETIME; 0 means full-count reached.
		if res != 0 {
			require.EqualValues(t, -int32(unix.ETIME), res)
		}
		require.GreaterOrEqual(t, time.Since(start), d)
	case <-time.After(30 * time.Second):
		t.Fatal("timeout completion never arrived")
	}

	sig.Latch(int32(unix.SIGTERM))
	a.Wake()
	waitDone(t, done, 30*time.Second)
	a.Deinit()
}

func TestAioFileRead(t *testing.T) {
	sig := taskio.NewSignal()
	a := newTestEngine(t, sig, taskio.WithAioLeakCheck())
	done := runLoop(a)

	path := filepath.Join(t.TempDir(), "blob")
	content := make([]byte, 1024)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 1024)
	got := make(chan int32, 1)
	_, err = a.Read(int(f.Fd()), buf, 0, taskio.ModeAsync, func(res int32, ud any) {
		got <- res
	}, nil)
	require.NoError(t, err)

	select {
	case res := <-got:
		require.EqualValues(t, 1024, res)
		require.Equal(t, content, buf)
	case <-time.After(30 * time.Second):
		t.Fatal("read completion never arrived")
	}

	sig.Latch(int32(unix.SIGTERM))
	a.Wake()
	waitDone(t, done, 30*time.Second)
	a.Deinit()
}

// TestAioOverflow floods a staging ring of 16 with no reaper draining
// it; the 17th submission reports overflow and its record is dropped.
func TestAioOverflow(t *testing.T) {
	sig := taskio.NewSignal()
	a := newTestEngine(t, sig, taskio.WithRingEntries(16))

	for i := range 16 {
		_, err := a.Timeout(time.Hour, taskio.ModeAsync, nil, nil)
		require.NoErrorf(t, err, "submission %d", i)
	}
	_, err := a.Timeout(time.Hour, taskio.ModeAsync, nil, nil)
	require.ErrorIs(t, err, taskio.ErrWouldBlock)

	a.Deinit()
}

// TestAioShutdownWithInflight latches shutdown while a long timeout is
// outstanding. The closing state cancels it; the callback observes
// ECANCELED and the loop reaches closed well before the timer would
// have fired.
func TestAioShutdownWithInflight(t *testing.T) {
	sig := taskio.NewSignal()
	a := newTestEngine(t, sig, taskio.WithAioLeakCheck())

	exited := atomix.Bool{}
	done := runLoop(a, func() { exited.Store(true) })

	got := make(chan int32, 1)
	_, err := a.Timeout(60*time.Second, taskio.ModeAsync, func(res int32, ud any) {
		got <- res
	}, nil)
	require.NoError(t, err)

	// Let the submission reach the kernel before latching.
	time.Sleep(100 * time.Millisecond)

	sig.Latch(int32(unix.SIGTERM))
	a.Wake()

	select {
	case res := <-got:
		require.EqualValues(t, -int32(unix.ECANCELED), res)
	case <-time.After(30 * time.Second):
		t.Fatal("cancelled timeout never completed")
	}

	waitDone(t, done, 30*time.Second)
	require.True(t, exited.Load(), "exit callback did not run")
	require.EqualValues(t, 1, a.Ongoing())
	a.Deinit()
}

// TestAioAcceptMultishot serves three connections from one multi-shot
// accept submission.
func TestAioAcceptMultishot(t *testing.T) {
	sig := taskio.NewSignal()
	a := newTestEngine(t, sig)
	done := runLoop(a)

	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(lfd)

	sa := &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}
	require.NoError(t, unix.Bind(lfd, sa))
	require.NoError(t, unix.Listen(lfd, 8))
	bound, err := unix.Getsockname(lfd)
	require.NoError(t, err)
	port := bound.(*unix.SockaddrInet4).Port

	accepted := make(chan int32, 8)
	_, err = a.Accept(lfd, taskio.ModeAsync, func(res int32, ud any) {
		accepted <- res
	}, nil)
	require.NoError(t, err)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conns := make([]net.Conn, 0, 3)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for range 3 {
		c, err := net.DialTimeout("tcp", addr, 10*time.Second)
		require.NoError(t, err)
		conns = append(conns, c)
	}

	for i := range 3 {
		select {
		case res := <-accepted:
			require.Positivef(t, res, "accept %d", i)
			unix.Close(int(res))
		case <-time.After(30 * time.Second):
			t.Fatalf("accept %d never completed", i)
		}
	}

	sig.Latch(int32(unix.SIGTERM))
	a.Wake()
	waitDone(t, done, 30*time.Second)
	a.Deinit()
}

// TestAioCompletionToExecutor checks the cross-component contract: an
// I/O completion schedules its continuation on the executor.
func TestAioCompletionToExecutor(t *testing.T) {
	sig := taskio.NewSignal()
	exec := taskio.NewExecutor(sig, taskio.WithWorkers(2))
	a := newTestEngine(t, sig)
	done := runLoop(a)

	ran := make(chan int32, 1)
	_, err := a.Timeout(50*time.Millisecond, taskio.ModeAsync, func(res int32, ud any) {
		// Keep the reaper responsive; the real work runs on a worker.
		exec.SubmitCompletion(func(res int32, ud any) {
			ran <- res
		}, res, ud)
	}, nil)
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(30 * time.Second):
		t.Fatal("continuation never ran on the executor")
	}

	sig.Latch(int32(unix.SIGTERM))
	a.Wake()
	waitDone(t, done, 30*time.Second)
	sig.Terminate(exec, exec.Workers())
	a.Deinit()
	exec.Deinit()
}

// TestAioSubmitAfterClosed: a closed engine rejects new
// submissions.
func TestAioSubmitAfterClosed(t *testing.T) {
	sig := taskio.NewSignal()
	a := newTestEngine(t, sig)
	done := runLoop(a)

	sig.Latch(int32(unix.SIGTERM))
	a.Wake()
	waitDone(t, done, 30*time.Second)

	_, err := a.Timeout(time.Second, taskio.ModeAsync, nil, nil)
	require.True(t, errors.Is(err, taskio.ErrClosed))
	a.Deinit()
}
