// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskio

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MPSC is a CAS-based multi-producer single-consumer bounded ring of
// record pointers.
//
// Producers use CAS to claim slots. The single consumer reads
// sequentially with plain loads on the cursor.
//
// Memory: n slots, one cache line per slot.
type MPSC[T any] struct {
	_        pad
	head     atomix.Uint64 // Consumer reads from here
	_        pad
	tail     atomix.Uint64 // Producers CAS here
	_        pad
	buffer   []ringSlot[T]
	mask     uint64
	capacity uint64
}

// NewMPSC creates a new MPSC ring.
// Capacity rounds up to the next power of 2. Panics if capacity < 2.
func NewMPSC[T any](capacity int) *MPSC[T] {
	if capacity < 2 {
		panic("taskio: capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	q := &MPSC[T]{
		buffer:   make([]ringSlot[T], n),
		mask:     n - 1,
		capacity: n,
	}

	for i := uint64(0); i < n; i++ {
		q.buffer[i].seq.StoreRelaxed(i)
	}

	return q
}

// Enqueue places rec in the ring (multiple producers safe).
// Returns ErrWouldBlock if the ring is full. rec must not be nil.
func (q *MPSC[T]) Enqueue(rec *T) error {
	if rec == nil {
		panic("taskio: nil record")
	}

	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		head := q.head.LoadAcquire()

		if tail >= head+q.capacity {
			return ErrWouldBlock
		}

		slot := &q.buffer[tail&q.mask]
		seq := slot.seq.LoadAcquire()

		if seq == tail {
			if q.tail.CompareAndSwapAcqRel(tail, tail+1) {
				slot.rec = rec
				slot.seq.StoreRelease(tail + 1)
				return nil
			}
		} else if seq < tail {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// Dequeue extracts a record from the ring (single consumer only).
// Returns (nil, ErrWouldBlock) if the ring is empty.
func (q *MPSC[T]) Dequeue() (*T, error) {
	head := q.head.LoadRelaxed()
	slot := &q.buffer[head&q.mask]
	seq := slot.seq.LoadAcquire()

	if seq != head+1 {
		return nil, ErrWouldBlock
	}

	rec := slot.rec
	slot.rec = nil
	slot.seq.StoreRelease(head + q.capacity)
	q.head.StoreRelease(head + 1)

	return rec, nil
}

// Cap returns the ring capacity.
func (q *MPSC[T]) Cap() int {
	return int(q.capacity)
}
