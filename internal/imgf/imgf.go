// Package imgf implements the device's IMGF Receiver: zero-copy delivery of
// the most recent PNG to a single consumer with bounded memory, per spec
// §4.7.
package imgf

import (
	"sync"

	"hudlink/internal/frame"
)

// DropPolicy selects what acquire does when both slots are occupied.
type DropPolicy int

const (
	// DropOld demotes a READY slot (slot 0 if it is READY, else slot 1) to
	// make room for the new frame; the slots' ages are not compared.
	DropOld DropPolicy = iota
	// DropNew refuses the new frame, leaving both occupied slots untouched.
	DropNew
)

type slotState int

const (
	stateFree slotState = iota
	stateWriting
	stateReady
	stateReading
)

type slot struct {
	buf   []byte
	state slotState
	len   int
	seq   uint32
}

// Stats mirrors the counters spec §7 requires for this receiver.
type Stats struct {
	Drops     int
	BadFrames int
	Commits   int
}

// Receiver is a router.Receiver for the IMGF channel backed by two
// fixed-capacity buffers.
type Receiver struct {
	mu         sync.Mutex
	maxLen     uint32
	requireCRC bool
	policy     DropPolicy

	slots      [2]slot
	wrIdx      int
	writingIdx int // -1 when nothing is currently WRITING

	stats Stats
}

// New returns an IMGF Receiver with two maxPngBytes buffers.
func New(maxPngBytes uint32, requireCRC bool, policy DropPolicy) *Receiver {
	r := &Receiver{
		maxLen:     maxPngBytes,
		requireCRC: requireCRC,
		policy:     policy,
		writingIdx: -1,
	}
	r.slots[0].buf = make([]byte, maxPngBytes)
	r.slots[1].buf = make([]byte, maxPngBytes)
	return r
}

// MaxLen implements router.Receiver.
func (r *Receiver) MaxLen() uint32 { return r.maxLen }

// RequireCRC implements router.Receiver.
func (r *Receiver) RequireCRC() bool { return r.requireCRC }

// Acquire implements router.Receiver. capacity is bounds-checked against
// maxPngBytes; payload size is already gated by MaxLen upstream.
func (r *Receiver) Acquire(_ frame.Header, capacity uint32) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if capacity > r.maxLen {
		return nil
	}

	idx := r.wrIdx
	if r.slots[idx].state != stateFree {
		other := 1 - idx
		if r.slots[other].state == stateFree {
			idx = other
		} else {
			switch r.policy {
			case DropOld:
				demote := -1
				if r.slots[0].state == stateReady {
					demote = 0
				} else if r.slots[1].state == stateReady {
					demote = 1
				}
				if demote < 0 {
					r.stats.Drops++
					return nil
				}
				r.slots[demote].state = stateFree
				r.stats.Drops++
				idx = demote
			case DropNew:
				r.stats.Drops++
				return nil
			}
		}
	}

	r.slots[idx].state = stateWriting
	r.writingIdx = idx
	return r.slots[idx].buf[:capacity]
}

// Commit implements router.Receiver: finalizes the currently WRITING slot,
// recording len and seq from hdr, then flips wrIdx to the other slot per
// spec §4.7.
func (r *Receiver) Commit(hdr frame.Header, _ []byte, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writingIdx < 0 {
		return
	}
	idx := r.writingIdx
	r.slots[idx].state = stateReady
	r.slots[idx].len = n
	r.slots[idx].seq = hdr.Seq
	r.writingIdx = -1
	r.wrIdx = 1 - idx
	r.stats.Commits++
}

// Drop implements router.Receiver: returns the currently WRITING slot to
// FREE and counts a bad frame.
func (r *Receiver) Drop(_ frame.Header, _ []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writingIdx < 0 {
		return
	}
	r.slots[r.writingIdx].state = stateFree
	r.writingIdx = -1
	r.stats.BadFrames++
}

// Ready is what GetReady hands to the consumer: a pointer into receiver-owned
// memory, valid until Release(token) is called.
type Ready struct {
	Data  []byte
	Seq   uint32
	Token int
}

// GetReady finds a READY slot (preferring slot 0 on a tie), transitions it
// to READING, and returns its contents and a release token. Returns
// (Ready{}, false) if no slot is READY.
func (r *Receiver) GetReady() (Ready, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < 2; i++ {
		if r.slots[i].state == stateReady {
			r.slots[i].state = stateReading
			return Ready{
				Data:  r.slots[i].buf[:r.slots[i].len],
				Seq:   r.slots[i].seq,
				Token: i,
			}, true
		}
	}
	return Ready{}, false
}

// Release transitions the named slot back to FREE, per spec §4.7.
func (r *Receiver) Release(token int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token < 0 || token > 1 {
		return
	}
	if r.slots[token].state == stateReading {
		r.slots[token].state = stateFree
	}
}

// Stats returns a copy of the receiver's counters.
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
