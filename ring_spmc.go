// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskio

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// SPMC is a CAS-based single-producer multi-consumer bounded ring of
// record pointers.
//
// The single producer writes sequentially. Consumers use CAS to claim
// slots.
//
// Memory: n slots, one cache line per slot.
type SPMC[T any] struct {
	_        pad
	head     atomix.Uint64 // Consumers CAS here
	_        pad
	tail     atomix.Uint64 // Producer writes here
	_        pad
	buffer   []ringSlot[T]
	mask     uint64
	capacity uint64
}

// NewSPMC creates a new SPMC ring.
// Capacity rounds up to the next power of 2. Panics if capacity < 2.
func NewSPMC[T any](capacity int) *SPMC[T] {
	if capacity < 2 {
		panic("taskio: capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	q := &SPMC[T]{
		buffer:   make([]ringSlot[T], n),
		mask:     n - 1,
		capacity: n,
	}

	for i := uint64(0); i < n; i++ {
		q.buffer[i].seq.StoreRelaxed(i)
	}

	return q
}

// Enqueue places rec in the ring (single producer only).
// Returns ErrWouldBlock if the ring is full. rec must not be nil.
func (q *SPMC[T]) Enqueue(rec *T) error {
	if rec == nil {
		panic("taskio: nil record")
	}

	tail := q.tail.LoadRelaxed()
	slot := &q.buffer[tail&q.mask]
	seq := slot.seq.LoadAcquire()

	if seq != tail {
		return ErrWouldBlock
	}

	slot.rec = rec
	slot.seq.StoreRelease(tail + 1)
	q.tail.StoreRelease(tail + 1)

	return nil
}

// Dequeue extracts a record from the ring (multiple consumers safe).
// Returns (nil, ErrWouldBlock) if the ring is empty.
func (q *SPMC[T]) Dequeue() (*T, error) {
	sw := spin.Wait{}
	for {
		head := q.head.LoadAcquire()
		tail := q.tail.LoadAcquire()

		if head >= tail {
			return nil, ErrWouldBlock
		}

		slot := &q.buffer[head&q.mask]
		seq := slot.seq.LoadAcquire()

		if seq == head+1 {
			if q.head.CompareAndSwapAcqRel(head, head+1) {
				rec := slot.rec
				slot.rec = nil
				slot.seq.StoreRelease(head + q.capacity)
				return rec, nil
			}
		} else if seq < head+1 {
			return nil, ErrWouldBlock
		}
		sw.Once()
	}
}

// Cap returns the ring capacity.
func (q *SPMC[T]) Cap() int {
	return int(q.capacity)
}
