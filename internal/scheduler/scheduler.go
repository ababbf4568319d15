// Package scheduler implements the host's MSG Scheduler: a periodic tick
// that samples the State Store and emits MSGF snapshot frames at a
// configured rate, with an idle keep-alive fallback and opportunistic
// burst-on-change ticks.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hudlink/internal/frame"
	"hudlink/internal/store"
)

// Defaults mirror the spec's tuning constants.
const (
	DefaultMsgRateHz     = 24
	DefaultMsgIdleRateHz = 2
)

// Sender is the capability the scheduler uses to hand an encoded MSGF frame
// to the outbound pipeline.
type Sender interface {
	EnqueueMsgFrame(seq uint32, bytes []byte)
}

// ErrorListener receives tick-stage failures per spec §4.2.
type ErrorListener interface {
	OnTickError(stage string, err error)
}

// Config tunes the scheduler's tick rates and CRC behavior.
type Config struct {
	MsgRateHz                int
	MsgIdleRateHz             int
	EnableCRC                 bool
	BurstOnVehicleDataChange bool
}

func (c Config) withDefaults() Config {
	if c.MsgRateHz <= 0 {
		c.MsgRateHz = DefaultMsgRateHz
	}
	if c.MsgIdleRateHz <= 0 {
		c.MsgIdleRateHz = DefaultMsgIdleRateHz
	}
	return c
}

// Scheduler owns the periodic ticker and the MSGF sequence counter.
type Scheduler struct {
	cfg      Config
	store    *store.Store
	sender   Sender
	listener ErrorListener

	seqCounter    uint32
	lastMsgSentMs atomic.Int64

	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	stopped bool
}

// New returns a Scheduler bound to st and sender, but does not start it.
func New(st *store.Store, sender Sender, listener ErrorListener, cfg Config) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		store:    st,
		sender:   sender,
		listener: listener,
	}
}

// Start begins the periodic tick at msgRateHz. Calling Start on an
// already-started scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}
	period := time.Second / time.Duration(s.cfg.MsgRateHz)
	s.ticker = time.NewTicker(period)
	s.stopCh = make(chan struct{})
	s.stopped = false

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.tick()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic tick. Calling Stop more than once, or before
// Start, is a safe no-op (idempotent per spec §9).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil || s.stopped {
		return
	}
	s.ticker.Stop()
	close(s.stopCh)
	s.stopped = true
}

// BurstOnChange performs an opportunistic tick synchronously with a setter,
// per spec §4.2. It follows the same emit rules as a periodic tick, so it
// never causes a duplicate emission when the store is already clean.
func (s *Scheduler) BurstOnChange() {
	if !s.cfg.BurstOnVehicleDataChange {
		return
	}
	s.tick()
}

func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			if s.listener != nil {
				s.listener.OnTickError("msg.tick", fmt.Errorf("scheduler: tick panic: %v", r))
			}
		}
	}()

	snap, dirty := s.store.Snapshot()

	now := time.Now().UnixMilli()
	idlePeriodMs := int64(1000 / s.cfg.MsgIdleRateHz)
	shouldEmit := dirty || now-s.lastMsgSentMs.Load() >= idlePeriodMs
	if !shouldEmit {
		return
	}

	seq := atomic.AddUint32(&s.seqCounter, 1)
	payload := frame.EncodeSnapshotPayload(snap)
	bytes := frame.Encode(frame.MSGF, payload, seq, s.cfg.EnableCRC)

	s.sender.EnqueueMsgFrame(seq, bytes)
	s.lastMsgSentMs.Store(now)
}
