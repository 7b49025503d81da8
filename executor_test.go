// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskio_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/taskio"
)

// TestExecutorExactlyOnce is the executor smoke: concurrent producers,
// every task callback runs exactly once, and all workers arrive at the
// shutdown rendezvous.
func TestExecutorExactlyOnce(t *testing.T) {
	const (
		workers     = 8
		producers   = 4
		perProducer = 25000
	)

	sig := taskio.NewSignal()
	exec := taskio.NewExecutor(sig,
		taskio.WithWorkers(workers),
		taskio.WithTaskCapacity(4096),
		taskio.WithLeakCheck(),
	)

	var sum atomix.Int64
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			backoff := iox.Backoff{}
			for range perProducer {
				for {
					err := exec.Submit(func(any) { sum.Add(1) }, nil)
					if err == nil {
						backoff.Reset()
						break
					}
					if !taskio.IsWouldBlock(err) {
						t.Errorf("Submit: %v", err)
						return
					}
					backoff.Wait()
				}
			}
		}()
	}
	wg.Wait()

	// Wait for the queue to drain before latching.
	deadline := time.Now().Add(30 * time.Second)
	for sum.Load() < int64(producers*perProducer) {
		require.False(t, time.Now().After(deadline), "drain timeout: %d done", sum.Load())
		time.Sleep(time.Millisecond)
	}
	require.EqualValues(t, producers*perProducer, sum.Load())

	sig.Latch(15)
	sig.Terminate(exec, workers)
	require.EqualValues(t, workers, sig.Participants())

	exec.Deinit()
}

func TestExecutorSubmitAfterLatch(t *testing.T) {
	sig := taskio.NewSignal()
	exec := taskio.NewExecutor(sig, taskio.WithWorkers(2))

	sig.Latch(2)
	err := exec.Submit(func(any) {}, nil)
	require.ErrorIs(t, err, taskio.ErrDraining)

	sig.Terminate(exec, 2)
}

func TestExecutorOverflow(t *testing.T) {
	sig := taskio.NewSignal()
	// A single worker parked behind a blocking task cannot drain while
	// the producer floods the ring.
	exec := taskio.NewExecutor(sig,
		taskio.WithWorkers(1),
		taskio.WithTaskCapacity(16),
	)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, exec.Submit(func(any) {
		close(started)
		<-release
	}, nil))
	<-started

	sawOverflow := false
	for range 64 {
		if err := exec.Submit(func(any) {}, nil); err != nil {
			require.ErrorIs(t, err, taskio.ErrWouldBlock)
			sawOverflow = true
			break
		}
	}
	require.True(t, sawOverflow, "ring of 16 never overflowed")

	close(release)
	sig.Latch(15)
	sig.Terminate(exec, 1)
}

func TestExecutorCompletionTask(t *testing.T) {
	sig := taskio.NewSignal()
	exec := taskio.NewExecutor(sig, taskio.WithWorkers(2))

	got := make(chan int32, 1)
	require.NoError(t, exec.SubmitCompletion(func(res int32, ud any) {
		got <- res
	}, -11, nil))

	select {
	case res := <-got:
		require.EqualValues(t, -11, res)
	case <-time.After(10 * time.Second):
		t.Fatal("completion task never ran")
	}

	sig.Latch(15)
	sig.Terminate(exec, 2)
}

func TestExecutorZeroWorkersPanics(t *testing.T) {
	sig := taskio.NewSignal()
	require.Panics(t, func() {
		taskio.NewExecutor(sig, taskio.WithWorkers(0))
	})
}

func TestSignalLatchFirstWins(t *testing.T) {
	sig := taskio.NewSignal()
	require.False(t, sig.Signaled())
	require.EqualValues(t, 0, sig.Signo())

	sig.Latch(2)
	sig.Latch(15)
	require.True(t, sig.Signaled())
	require.EqualValues(t, 2, sig.Signo())
}

func TestSignalArrive(t *testing.T) {
	sig := taskio.NewSignal()
	for range 3 {
		sig.Arrive()
	}
	require.EqualValues(t, 3, sig.Participants())
}
