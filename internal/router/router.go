// Package router implements the device's Stream Router: it demultiplexes a
// continuous byte stream into magic-tagged frames and dispatches each to a
// receiver registered by magic, per spec §4.6.
package router

import (
	"sync"
	"time"

	"hudlink/internal/frame"
	"hudlink/internal/transport"
)

// Receiver is the capability a device-side consumer implements to receive
// frames for a specific magic.
type Receiver interface {
	// MaxLen returns the largest payload this receiver will accept.
	MaxLen() uint32
	// RequireCRC reports whether payloads must pass the CRC gate.
	RequireCRC() bool
	// Acquire returns a buffer of at least capacity bytes, or nil if none
	// is available (NO_BUFFER).
	Acquire(hdr frame.Header, capacity uint32) []byte
	// Commit finalizes a fully-copied payload of length n into buf.
	Commit(hdr frame.Header, buf []byte, n int)
	// Drop releases a buffer that was acquired but never committed.
	Drop(hdr frame.Header, buf []byte)
}

// parseState is the router's three-state frame parser position.
type parseState int

const (
	stateSync parseState = iota
	stateHeader
	statePayload
)

// Counters holds the router's parse-failure counts. They are router-wide:
// one set per Router, not broken down per registered receiver.
type Counters struct {
	BadLen     int
	BadCrc     int
	NoBuffer   int
	NoReceiver int
	ResyncCount int
}

// Router owns the receiver registry and the byte-stream parser state.
type Router struct {
	mu        sync.Mutex
	receivers map[uint32]Receiver
	defaultRx Receiver
	counters  Counters

	onRxActivity func(n int)

	readChunk int

	// Parser state, advanced across successive reads.
	state    parseState
	hdrBuf   []byte
	hdr      frame.Header
	payload  []byte
	payloadN int
	curRx    Receiver
}

// DefaultReadChunk is the spec's suggested per-read byte budget.
const DefaultReadChunk = 256

// New returns an empty Router.
func New(readChunk int) *Router {
	if readChunk <= 0 {
		readChunk = DefaultReadChunk
	}
	return &Router{
		receivers: make(map[uint32]Receiver),
		readChunk: readChunk,
		state:     stateSync,
		hdrBuf:    make([]byte, 0, frame.HeaderSize),
	}
}

// Register binds a receiver to a magic. Replaces any existing registration.
func (r *Router) Register(magic uint32, rx Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[magic] = rx
}

// RegisterDefault sets the receiver used for frames whose magic has no
// specific registration.
func (r *Router) RegisterDefault(rx Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultRx = rx
}

// SetActivityHook installs a callback invoked with the byte count of every
// successful transport read.
func (r *Router) SetActivityHook(fn func(n int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRxActivity = fn
}

// Counters returns a copy of the router's counters.
func (r *Router) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Run drives the receive loop until stop is closed. It blocks/yields only
// when the transport has nothing available, per spec §5.
func (r *Router) Run(t transport.DeviceTransport, stop <-chan struct{}) {
	buf := make([]byte, r.readChunk)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if t.Available() <= 0 {
			time.Sleep(2 * time.Millisecond)
			continue
		}

		n := t.Read(buf)
		if n <= 0 {
			time.Sleep(2 * time.Millisecond)
			continue
		}

		r.mu.Lock()
		hook := r.onRxActivity
		r.mu.Unlock()
		if hook != nil {
			hook(n)
		}

		r.feed(buf[:n])
	}
}

// feed advances the parser state machine over newly read bytes.
func (r *Router) feed(data []byte) {
	for len(data) > 0 {
		switch r.state {
		case stateSync, stateHeader:
			need := frame.HeaderSize - len(r.hdrBuf)
			take := need
			if take > len(data) {
				take = len(data)
			}
			r.hdrBuf = append(r.hdrBuf, data[:take]...)
			data = data[take:]
			if len(r.hdrBuf) < frame.HeaderSize {
				r.state = stateHeader
				continue
			}

			hdr, err := frame.DecodeHeader(r.hdrBuf)
			r.hdrBuf = r.hdrBuf[:0]
			if err != nil {
				r.resync()
				continue
			}
			r.hdr = hdr
			r.beginPayload()

		case statePayload:
			if r.curRx == nil {
				// No buffer/no receiver: discard hdr.Len bytes (already
				// accounted for by payloadN/len bookkeeping) and resync.
				take := int(r.hdr.Len) - r.payloadN
				if take > len(data) {
					take = len(data)
				}
				r.payloadN += take
				data = data[take:]
				if r.payloadN >= int(r.hdr.Len) {
					r.resync()
				}
				continue
			}

			take := int(r.hdr.Len) - r.payloadN
			if take > len(data) {
				take = len(data)
			}
			copy(r.payload[r.payloadN:], data[:take])
			r.payloadN += take
			data = data[take:]

			if r.payloadN >= int(r.hdr.Len) {
				r.finishPayload()
			}
		}
	}
}

// beginPayload looks up the receiver for the just-parsed header and either
// acquires a buffer or marks the frame for discard.
func (r *Router) beginPayload() {
	r.payloadN = 0
	r.payload = nil
	r.curRx = nil

	if r.hdr.Len == 0 {
		r.mu.Lock()
		r.counters.BadLen++
		r.mu.Unlock()
		r.resync()
		return
	}

	r.mu.Lock()
	rx := r.receivers[r.hdr.Magic]
	if rx == nil {
		rx = r.defaultRx
	}
	r.mu.Unlock()

	if rx == nil {
		r.mu.Lock()
		r.counters.NoReceiver++
		r.mu.Unlock()
		r.state = statePayload
		return
	}

	if r.hdr.Len > rx.MaxLen() {
		r.mu.Lock()
		r.counters.BadLen++
		r.mu.Unlock()
		r.state = statePayload
		return
	}

	buf := rx.Acquire(r.hdr, r.hdr.Len)
	if buf == nil || uint32(len(buf)) < r.hdr.Len {
		r.mu.Lock()
		r.counters.NoBuffer++
		r.mu.Unlock()
		r.state = statePayload
		return
	}

	r.curRx = rx
	r.payload = buf
	r.state = statePayload
}

// finishPayload validates CRC (when required) and commits or drops the
// fully-copied payload.
func (r *Router) finishPayload() {
	rx := r.curRx
	buf := r.payload[:r.payloadN]

	if rx.RequireCRC() && !frame.CheckCRC(buf, r.hdr.CRC32) {
		r.mu.Lock()
		r.counters.BadCrc++
		r.mu.Unlock()
		rx.Drop(r.hdr, r.payload)
		r.resync()
		return
	}

	rx.Commit(r.hdr, r.payload, r.payloadN)
	r.resetParser()
}

// resetParser starts a fresh header scan after a successfully completed
// frame, without counting it as a resynchronization.
func (r *Router) resetParser() {
	r.state = stateSync
	r.hdrBuf = r.hdrBuf[:0]
	r.payload = nil
	r.payloadN = 0
	r.curRx = nil
}

// resync resets the parser after a parse failure (bad header, bad length,
// no buffer, no receiver, or bad CRC) and counts it, per spec §4.6/§7.
func (r *Router) resync() {
	r.resetParser()
	r.mu.Lock()
	r.counters.ResyncCount++
	r.mu.Unlock()
}
