// Package msgf implements the device's MSGF Receiver: a bounded FIFO of
// short messages backed by a rotating pool of fixed-size slots, per spec
// §4.8.
package msgf

import (
	"sync"

	"hudlink/internal/frame"
)

// readyItem is the {buf_ptr, len, seq} tuple spec §3 describes for the
// ready queue.
type readyItem struct {
	slot int
	len  int
	seq  uint32
}

// Receiver is a router.Receiver for the MSGF channel backed by a pool of
// queueDepth slots, each maxMsgBytes.
type Receiver struct {
	mu         sync.Mutex
	maxLen     uint32
	requireCRC bool

	slots   [][]byte
	curSlot int

	ready []readyItem

	writingSlot int // -1 when nothing is currently acquired

	dropped int
}

// New returns an MSGF Receiver with queueDepth slots of maxMsgBytes each.
func New(maxMsgBytes uint32, queueDepth int, requireCRC bool) *Receiver {
	if queueDepth <= 0 {
		queueDepth = 1
	}
	r := &Receiver{
		maxLen:      maxMsgBytes,
		requireCRC:  requireCRC,
		slots:       make([][]byte, queueDepth),
		writingSlot: -1,
	}
	for i := range r.slots {
		r.slots[i] = make([]byte, maxMsgBytes)
	}
	return r
}

// MaxLen implements router.Receiver.
func (r *Receiver) MaxLen() uint32 { return r.maxLen }

// RequireCRC implements router.Receiver.
func (r *Receiver) RequireCRC() bool { return r.requireCRC }

// Acquire implements router.Receiver: returns the next round-robin slot, or
// nil if the ready queue has no room left to enqueue it (frame dropped,
// counted), per spec §4.8.
func (r *Receiver) Acquire(_ frame.Header, capacity uint32) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if capacity > r.maxLen {
		return nil
	}
	if len(r.ready) >= len(r.slots) {
		r.dropped++
		return nil
	}

	idx := r.curSlot
	r.curSlot = (r.curSlot + 1) % len(r.slots)
	r.writingSlot = idx
	return r.slots[idx][:capacity]
}

// Commit implements router.Receiver: enqueues {buf_ptr, len, seq} onto the
// ready queue for the slot most recently returned by Acquire.
func (r *Receiver) Commit(hdr frame.Header, _ []byte, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writingSlot < 0 {
		return
	}
	idx := r.writingSlot
	r.writingSlot = -1
	r.ready = append(r.ready, readyItem{slot: idx, len: n, seq: hdr.Seq})
}

// Drop implements router.Receiver: abandons the slot most recently returned
// by Acquire without enqueuing it.
func (r *Receiver) Drop(_ frame.Header, _ []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writingSlot = -1
}

// Pop is non-blocking: it copies at most len(dst) bytes from the oldest
// ready message into dst and returns (len, seq, true), or (0, 0, false) if
// the ready queue is empty, per spec §4.8.
func (r *Receiver) Pop(dst []byte) (int, uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ready) == 0 {
		return 0, 0, false
	}
	item := r.ready[0]
	r.ready = r.ready[1:]

	n := item.len
	if n > len(dst) {
		n = len(dst)
	}
	copy(dst, r.slots[item.slot][:n])
	return n, item.seq, true
}

// Dropped returns the count of frames refused because the ready queue was
// full.
func (r *Receiver) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// QueueDepth returns the number of messages currently queued and unpopped.
func (r *Receiver) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}
