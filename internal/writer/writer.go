// Package writer implements the host's Prioritized Writer: a single
// consumer thread draining a (priority, order) heap of OutboundFrames and
// writing them to a transport, with per-channel enqueue replacement
// policies.
package writer

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"hudlink/internal/transport"
)

// Priority values, lower drains first.
const (
	PriorityCtrl uint8 = 0
	PriorityMsgf uint8 = 1
	PriorityImgf uint8 = 2
)

// Channel identifies which enqueue policy applies to a frame.
type Channel int

const (
	ChannelCtrl Channel = iota
	ChannelMsgf
	ChannelImgf
)

// DefaultImgQueueCapacity is the spec default for the IMGF drop-policy bound.
const DefaultImgQueueCapacity = 2

// DefaultMaxImgBytes bounds a single encoded IMGF frame on the host side,
// distinct from (and smaller than) the map provider's response-body cap:
// the device's IMGF receiver will never hold more than this per slot.
const DefaultMaxImgBytes = 128 * 1024

// OutboundFrame is a single queued frame awaiting transmission.
type OutboundFrame struct {
	Priority uint8
	Order    uint64
	Channel  Channel
	Seq      uint32
	Bytes    []byte
}

// DropReason names why a frame was evicted from the queue instead of sent.
type DropReason string

const (
	DropReplaceOldSnapshot DropReason = "replace old snapshot"
	DropOldImage           DropReason = "drop old image"
	DropEmptyImage         DropReason = "empty image"
	DropImageTooLarge      DropReason = "image too large"
)

// ErrorListener receives asynchronous error reports the writer cannot
// return to a caller, per spec §7.
type ErrorListener interface {
	OnTransportWriteError(err error)
	OnFrameDropped(channel Channel, reason DropReason)
}

// Stats mirrors the counters spec §4.5 requires.
type Stats struct {
	SentMsg    int
	SentImg    int
	SentCmd    int
	Dropped    int
	Errors     int
	QueueDepth int
}

// frameHeap is a container/heap ordered by (Priority asc, Order asc).
type frameHeap []*OutboundFrame

func (h frameHeap) Len() int { return len(h) }
func (h frameHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Order < h[j].Order
}
func (h frameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any)        { *h = append(*h, x.(*OutboundFrame)) }
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Writer owns the send queue and the consumer goroutine.
type Writer struct {
	cfg Config

	mu       sync.Mutex
	q        frameHeap
	nextOrder uint64
	stats    Stats

	wake chan struct{}
	done chan struct{}
	stop chan struct{}

	transport transport.HudTransport
	listener  ErrorListener
}

// Config tunes the writer.
type Config struct {
	ImgQueueCapacity int
	// MaxImgBytes bounds a single encoded IMGF frame; larger frames are
	// dropped at enqueue time rather than queued.
	MaxImgBytes int
	// PollInterval bounds how long the consumer waits for new work before
	// re-checking the stop signal.
	PollInterval time.Duration
	// ShutdownPatience bounds how long Close() waits for the queue to drain.
	ShutdownPatience time.Duration
}

func (c Config) withDefaults() Config {
	if c.ImgQueueCapacity <= 0 {
		c.ImgQueueCapacity = DefaultImgQueueCapacity
	}
	if c.MaxImgBytes <= 0 {
		c.MaxImgBytes = DefaultMaxImgBytes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.ShutdownPatience <= 0 {
		c.ShutdownPatience = time.Second
	}
	return c
}

// New returns a Writer bound to t, and starts its consumer goroutine.
func New(t transport.HudTransport, listener ErrorListener, cfg Config) *Writer {
	w := &Writer{
		cfg:       cfg.withDefaults(),
		transport: t,
		listener:  listener,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	heap.Init(&w.q)
	go w.run()
	return w
}

// EnqueueCtrl appends a control frame; control frames are never replaced or
// evicted.
func (w *Writer) EnqueueCtrl(seq uint32, bytes []byte) {
	w.enqueue(&OutboundFrame{Priority: PriorityCtrl, Channel: ChannelCtrl, Seq: seq, Bytes: bytes})
}

// EnqueueMsgFrame appends an MSGF frame after removing any other MSGF frame
// currently queued: the newest snapshot always wins.
func (w *Writer) EnqueueMsgFrame(seq uint32, bytes []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := make(frameHeap, 0, len(w.q))
	for _, f := range w.q {
		if f.Channel == ChannelMsgf {
			w.stats.Dropped++
			w.report(ChannelMsgf, DropReplaceOldSnapshot)
			continue
		}
		kept = append(kept, f)
	}
	w.q = kept
	heap.Init(&w.q)

	w.pushLocked(&OutboundFrame{Priority: PriorityMsgf, Channel: ChannelMsgf, Seq: seq, Bytes: bytes})
	w.signal()
}

// EnqueueImgFrame appends an IMGF frame, then evicts the oldest queued IMGF
// frames beyond imgQueueCapacity.
func (w *Writer) EnqueueImgFrame(seq uint32, bytes []byte) {
	if len(bytes) == 0 {
		w.mu.Lock()
		w.stats.Dropped++
		w.report(ChannelImgf, DropEmptyImage)
		w.mu.Unlock()
		return
	}
	if len(bytes) > w.cfg.MaxImgBytes {
		w.mu.Lock()
		w.stats.Dropped++
		w.report(ChannelImgf, DropImageTooLarge)
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pushLocked(&OutboundFrame{Priority: PriorityImgf, Channel: ChannelImgf, Seq: seq, Bytes: bytes})

	for w.countImgfLocked() > w.cfg.ImgQueueCapacity {
		w.evictOldestImgfLocked()
	}
	w.signal()
}

func (w *Writer) countImgfLocked() int {
	n := 0
	for _, f := range w.q {
		if f.Channel == ChannelImgf {
			n++
		}
	}
	return n
}

func (w *Writer) evictOldestImgfLocked() {
	oldestIdx := -1
	var oldestOrder uint64
	for i, f := range w.q {
		if f.Channel != ChannelImgf {
			continue
		}
		if oldestIdx == -1 || f.Order < oldestOrder {
			oldestIdx = i
			oldestOrder = f.Order
		}
	}
	if oldestIdx == -1 {
		return
	}
	heap.Remove(&w.q, oldestIdx)
	w.stats.Dropped++
	w.report(ChannelImgf, DropOldImage)
}

func (w *Writer) enqueue(f *OutboundFrame) {
	w.mu.Lock()
	w.pushLocked(f)
	w.signal()
	w.mu.Unlock()
}

func (w *Writer) pushLocked(f *OutboundFrame) {
	f.Order = w.nextOrder
	w.nextOrder++
	heap.Push(&w.q, f)
	w.stats.QueueDepth = len(w.q)
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) report(ch Channel, reason DropReason) {
	if w.listener != nil {
		w.listener.OnFrameDropped(ch, reason)
	}
}

// run is the single consumer goroutine: pop the highest-priority frame and
// write it, or wait for new work / a stop signal.
func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if f := w.popNext(); f != nil {
			w.send(f)
			continue
		}
		select {
		case <-w.stop:
			w.drainRemaining()
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

func (w *Writer) popNext() *OutboundFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.q) == 0 {
		return nil
	}
	f := heap.Pop(&w.q).(*OutboundFrame)
	w.stats.QueueDepth = len(w.q)
	return f
}

func (w *Writer) send(f *OutboundFrame) {
	if _, err := w.transport.Write(f.Bytes); err != nil {
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		if w.listener != nil {
			w.listener.OnTransportWriteError(fmt.Errorf("writer: transport write: %w", err))
		}
		return
	}
	if err := w.transport.Flush(); err != nil {
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		if w.listener != nil {
			w.listener.OnTransportWriteError(fmt.Errorf("writer: transport flush: %w", err))
		}
		return
	}
	w.mu.Lock()
	switch f.Channel {
	case ChannelMsgf:
		w.stats.SentMsg++
	case ChannelImgf:
		w.stats.SentImg++
	case ChannelCtrl:
		w.stats.SentCmd++
	}
	w.mu.Unlock()
}

// drainRemaining writes any frames still queued at shutdown, honoring the
// writer's bounded shutdown patience.
func (w *Writer) drainRemaining() {
	deadline := time.Now().Add(w.cfg.ShutdownPatience)
	for time.Now().Before(deadline) {
		f := w.popNext()
		if f == nil {
			return
		}
		w.send(f)
	}
}

// Close stops the consumer and waits (bounded) for it to exit.
func (w *Writer) Close() {
	select {
	case <-w.stop:
		// already closed
	default:
		close(w.stop)
	}
	select {
	case <-w.done:
	case <-time.After(w.cfg.ShutdownPatience + 100*time.Millisecond):
	}
}

// Stats returns a copy of the writer's counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
