// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskio

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MPMC is a CAS-based multi-producer multi-consumer bounded ring of
// record pointers.
//
// Per-slot sequence numbers validate slot ownership, so cursors are
// hints rather than sources of truth. The payload is the record's
// address; a slot holding nil is empty. Records stay visible to the
// garbage collector because the slot field is a typed pointer.
//
// FIFO order is not preserved under contention. Callers that need
// ordering must enforce it at a higher layer.
//
// Memory: n slots, one cache line per slot.
type MPMC[T any] struct {
	_        pad
	tail     atomix.Uint64 // Producer index
	_        pad
	head     atomix.Uint64 // Consumer index
	_        pad
	buffer   []ringSlot[T]
	mask     uint64
	capacity uint64
}

type ringSlot[T any] struct {
	seq atomix.Uint64
	rec *T
	_   padSlot
}

// NewMPMC creates a new MPMC ring.
// Capacity rounds up to the next power of 2. Panics if capacity < 2.
func NewMPMC[T any](capacity int) *MPMC[T] {
	if capacity < 2 {
		panic("taskio: capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	q := &MPMC[T]{
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
func (q *MPMC[T]) Enqueue(rec *T) error {
	if rec == nil {
		panic("taskio: nil record")
	}

	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		slot := &q.buffer[tail&q.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(tail)

		if diff == 0 {
			if q.tail.CompareAndSwapAcqRel(tail, tail+1) {
				slot.rec = rec
				slot.seq.StoreRelease(tail + 1)
				return nil
			}
		} else if diff < 0 {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// Dequeue extracts a record from the ring (multiple consumers safe).
// Returns (nil, ErrWouldBlock) if the ring is empty.
func (q *MPMC[T]) Dequeue() (*T, error) {
	sw := spin.Wait{}
	for {
		head := q.head.LoadAcquire()
		slot := &q.buffer[head&q.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(head+1)

		if diff == 0 {
			if q.head.CompareAndSwapAcqRel(head, head+1) {
				rec := slot.rec
				slot.rec = nil
				slot.seq.StoreRelease(head + q.capacity)
				return rec, nil
			}
		} else if diff < 0 {
			return nil, ErrWouldBlock
		}
		sw.Once()
	}
}

// Cap returns the ring capacity.
func (q *MPMC[T]) Cap() int {
	return int(q.capacity)
}
