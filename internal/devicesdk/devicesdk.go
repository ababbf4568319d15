// Package devicesdk wires the device-side modules — Stream Router, IMGF
// Receiver, and MSGF Receiver — into one Start()/Close() lifecycle object
// for cmd/devicehud, analogous to hostsdk. Like hostsdk, it has no
// live-reconfiguration surface.
package devicesdk

import (
	"sync"

	"hudlink/internal/config"
	"hudlink/internal/frame"
	"hudlink/internal/imgf"
	"hudlink/internal/msgf"
	"hudlink/internal/router"
	"hudlink/internal/transport"
)

// Runtime owns the Stream Router and its two registered receivers.
type Runtime struct {
	rtr  *router.Router
	imgf *imgf.Receiver
	msgf *msgf.Receiver

	transport transport.DeviceTransport

	mu      sync.Mutex
	stop    chan struct{}
	runDone chan struct{}
	started bool
	closed  bool
}

// New constructs the router and its receivers from cfg but does not start
// the receive loop.
func New(cfg config.DeviceConfig, t transport.DeviceTransport) *Runtime {
	policy := imgf.DropOld
	if cfg.Imgf.DropPolicy == "new" {
		policy = imgf.DropNew
	}

	r := &Runtime{
		rtr:       router.New(cfg.Router.ReadChunk),
		imgf:      imgf.New(uint32(cfg.Imgf.MaxPngBytes), cfg.Imgf.RequireCRC, policy),
		msgf:      msgf.New(uint32(cfg.Msgf.MaxMsgBytes), cfg.Msgf.QueueDepth, cfg.Msgf.RequireCRC),
		transport: t,
	}
	r.rtr.Register(frame.IMGF, r.imgf)
	r.rtr.Register(frame.MSGF, r.msgf)
	return r
}

// Start launches the receive loop. Calling Start twice is a no-op.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.stop = make(chan struct{})
	r.runDone = make(chan struct{})
	go func() {
		defer close(r.runDone)
		r.rtr.Run(r.transport, r.stop)
	}()
	r.started = true
}

// Close stops the receive loop and waits for it to exit. Idempotent.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.started {
		r.closed = true
		return
	}
	r.closed = true
	close(r.stop)
	<-r.runDone
}

// LatestImage returns the most recently completed PNG, if any, per spec
// §4.7's get_ready/release consumer protocol.
func (r *Runtime) LatestImage() (imgf.Ready, bool) {
	return r.imgf.GetReady()
}

// ReleaseImage returns a previously retrieved image's buffer to the pool.
func (r *Runtime) ReleaseImage(token int) {
	r.imgf.Release(token)
}

// PopMessage copies the oldest ready MSGF message into dst, non-blocking.
func (r *Runtime) PopMessage(dst []byte) (n int, seq uint32, ok bool) {
	return r.msgf.Pop(dst)
}

// Counters exposes the router's and receivers' diagnostic counters.
type Counters struct {
	Router      router.Counters `json:"router"`
	Imgf        imgf.Stats      `json:"imgf"`
	MsgfDropped int             `json:"msgf_dropped"`
}

// Snapshot returns the status surface for every wired module.
func (r *Runtime) Snapshot() Counters {
	return Counters{
		Router:      r.rtr.Counters(),
		Imgf:        r.imgf.Stats(),
		MsgfDropped: r.msgf.Dropped(),
	}
}
