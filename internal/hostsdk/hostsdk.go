// Package hostsdk wires the host-side modules — State Store, MSG
// Scheduler, GPS Filter & Track Buffer, Map Fetch Coordinator, and
// Prioritized Writer — into one Start()/Close() lifecycle object, grounded
// on cmd/stratux-ng's liveRuntime construct-everything-in-one-place shape.
package hostsdk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hudlink/internal/config"
	"hudlink/internal/frame"
	"hudlink/internal/gpsfilter"
	"hudlink/internal/mapfetch"
	"hudlink/internal/scheduler"
	"hudlink/internal/store"
	"hudlink/internal/transport"
	"hudlink/internal/writer"
)

// ErrorListener aggregates every async failure channel the host modules
// report through, so one implementation can be passed to all of them.
type ErrorListener interface {
	OnTickError(stage string, err error)
	OnProviderFailure(err error)
	OnScheduleReject(reason string)
	OnTransportWriteError(err error)
	OnFrameDropped(channel writer.Channel, reason writer.DropReason)
}

// NopListener discards every report; useful as a default.
type NopListener struct{}

func (NopListener) OnTickError(string, error)                         {}
func (NopListener) OnProviderFailure(error)                           {}
func (NopListener) OnScheduleReject(string)                           {}
func (NopListener) OnTransportWriteError(error)                       {}
func (NopListener) OnFrameDropped(writer.Channel, writer.DropReason) {}

// Snapshot is the status surface this spec supplements the distilled
// feature set with: one JSON-serializable struct per module, mirroring the
// Snapshot()-everywhere idiom the teacher uses throughout.
type Snapshot struct {
	Writer   writer.Stats    `json:"writer"`
	GPS      gpsfilter.Stats `json:"gps"`
	MapFetch mapfetch.Stats  `json:"map_fetch"`
}

// Runtime owns every host-side module and its lifecycle.
type Runtime struct {
	cfg      config.HostConfig
	listener ErrorListener

	store       *store.Store
	filter      *gpsfilter.Filter
	coordinator *mapfetch.Coordinator
	sched       *scheduler.Scheduler
	wr          *writer.Writer

	imgSeq  atomic.Uint32
	ctrlSeq atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// pngSender adapts *writer.Writer to mapfetch.Sender by wrapping each
// rendered PNG in an IMGF frame before enqueuing it.
type pngSender struct {
	wr        *writer.Writer
	seq       *atomic.Uint32
	enableCRC bool
}

func (s pngSender) SendPng(png []byte) {
	seq := s.seq.Add(1)
	s.wr.EnqueueImgFrame(seq, frame.Encode(frame.IMGF, png, seq, s.enableCRC))
}

// New constructs every host module from cfg but does not start any of them.
func New(cfg config.HostConfig, t transport.HudTransport, listener ErrorListener) *Runtime {
	if listener == nil {
		listener = NopListener{}
	}

	r := &Runtime{
		cfg:      cfg,
		listener: listener,
		store:    store.New(),
	}

	r.filter = gpsfilter.New(gpsfilter.Config{
		TrackMaxPoints:        cfg.GPS.TrackMaxPoints,
		GpsMinIntervalMs:      cfg.GPS.GpsMinIntervalMs,
		GpsAccuracyThresholdM: cfg.GPS.GpsAccuracyThresholdM,
		GpsMinDistanceM:       cfg.GPS.GpsMinDistanceM,
		GpsTurnAngleDeg:       cfg.GPS.GpsTurnAngleDeg,
	})

	r.wr = writer.New(t, writerListener{listener}, writer.Config{
		ImgQueueCapacity: cfg.Writer.ImgQueueCapacity,
		MaxImgBytes:      cfg.Writer.MaxImgBytes,
	})

	provider := mapfetch.NewHTTPProvider(mapfetch.HTTPProviderConfig{
		URL:         cfg.MapFetch.ProviderURL,
		User:        cfg.MapFetch.ProviderUser,
		Password:    cfg.MapFetch.ProviderPassword,
		MaxPngBytes: cfg.MapFetch.MaxPngBytes,
		Timeout:     time.Duration(cfg.MapFetch.TimeoutSec) * time.Second,
	})

	r.coordinator = mapfetch.New(r.filter, provider,
		pngSender{wr: r.wr, seq: &r.imgSeq, enableCRC: cfg.Scheduler.EnableCRC},
		mapfetchListener{listener},
		mapfetch.Config{
			MapTriggerPointCount:  cfg.MapFetch.MapTriggerPointCount,
			MapTriggerIntervalMs:  cfg.MapFetch.MapTriggerIntervalMs,
			MapTriggerDistanceM:   cfg.MapFetch.MapTriggerDistanceM,
			MapRetryBackoffInitMs: cfg.MapFetch.MapRetryBackoffInitMs,
			MapRetryBackoffMaxMs:  cfg.MapFetch.MapRetryBackoffMaxMs,
		})

	r.sched = scheduler.New(r.store, r.wr, schedulerListener{listener}, scheduler.Config{
		MsgRateHz:                cfg.Scheduler.MsgRateHz,
		MsgIdleRateHz:            cfg.Scheduler.MsgIdleRateHz,
		EnableCRC:                cfg.Scheduler.EnableCRC,
		BurstOnVehicleDataChange: cfg.Scheduler.BurstOnVehicleDataChange,
	})

	return r
}

// Start begins the scheduler's periodic tick. Re-entrant per spec §9.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.sched.Start()
	r.started = true
	return nil
}

// Close tears every module down idempotently.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.sched.Stop()
	if r.cancel != nil {
		r.cancel()
	}
	r.coordinator.Close()
	r.wr.Close()
}

// Store returns the State Store, for the vehicle-data ingestion surface.
func (r *Runtime) Store() *store.Store { return r.store }

// IngestGPS runs a raw GPS sample through the filter and, on acceptance,
// evaluates the Map Fetch Coordinator's trigger conditions.
func (r *Runtime) IngestGPS(p gpsfilter.Point) (accepted bool, reason gpsfilter.RejectReason) {
	accepted, reason = r.filter.Ingest(p)
	if accepted {
		ctx := r.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		r.coordinator.OnTrackChanged(ctx)
	}
	return accepted, reason
}

// BurstOnVehicleChange lets a caller opportunistically tick the scheduler
// synchronously with a state-store write, per spec §4.2.
func (r *Runtime) BurstOnVehicleChange() {
	r.sched.BurstOnChange()
}

// SendReboot enqueues a control frame carrying the reboot command.
func (r *Runtime) SendReboot() {
	seq := r.ctrlSeq.Add(1)
	payload := frame.EncodeRebootPayload()
	r.wr.EnqueueCtrl(seq, frame.Encode(frame.MSGF, payload, seq, r.cfg.Scheduler.EnableCRC))
}

// Snapshot returns the status surface for every wired module.
func (r *Runtime) Snapshot() Snapshot {
	return Snapshot{
		Writer:   r.wr.Stats(),
		GPS:      r.filter.Stats(),
		MapFetch: r.coordinator.Stats(),
	}
}

type writerListener struct{ l ErrorListener }

func (w writerListener) OnTransportWriteError(err error) { w.l.OnTransportWriteError(err) }
func (w writerListener) OnFrameDropped(ch writer.Channel, reason writer.DropReason) {
	w.l.OnFrameDropped(ch, reason)
}

type mapfetchListener struct{ l ErrorListener }

func (m mapfetchListener) OnProviderFailure(err error)    { m.l.OnProviderFailure(err) }
func (m mapfetchListener) OnScheduleReject(reason string) { m.l.OnScheduleReject(reason) }

type schedulerListener struct{ l ErrorListener }

func (s schedulerListener) OnTickError(stage string, err error) { s.l.OnTickError(stage, err) }
