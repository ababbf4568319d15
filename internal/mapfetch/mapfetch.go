// Package mapfetch implements the host's Map Fetch Coordinator: it watches
// the GPS track and, when triggered, renders a single in-flight map image
// via a MapImageProvider, with exponential backoff on failure.
package mapfetch

import (
	"context"
	"sync"
	"time"

	"hudlink/internal/gpsfilter"
)

// Defaults mirror the spec's tuning constants.
const (
	DefaultMapTriggerPointCount  = 5
	DefaultMapTriggerIntervalMs  = 2000
	DefaultMapTriggerDistanceM   = 30.0
	DefaultMapRetryBackoffInitMs = 1000
	DefaultMapRetryBackoffMaxMs  = 15000
)

// State is the coordinator's state machine position.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateInFlight
	StateBackoff
)

// MapImageProvider is the external capability used to render a track into a
// PNG image.
type MapImageProvider interface {
	FetchTrackImage(ctx context.Context, points []gpsfilter.Point) ([]byte, error)
}

// ErrorListener receives the ProviderFailure/ScheduleReject error reports
// the coordinator cannot return synchronously.
type ErrorListener interface {
	OnProviderFailure(err error)
	OnScheduleReject(reason string)
}

// Sender is the capability the coordinator uses to hand a rendered PNG to
// the outbound pipeline; in this system that is the Prioritized Writer.
type Sender interface {
	SendPng(png []byte)
}

// Config tunes trigger thresholds and backoff. Zero values take defaults.
type Config struct {
	MapTriggerPointCount  int
	MapTriggerIntervalMs  int64
	MapTriggerDistanceM   float64
	MapRetryBackoffInitMs int64
	MapRetryBackoffMaxMs  int64
}

func (c Config) withDefaults() Config {
	if c.MapTriggerPointCount <= 0 {
		c.MapTriggerPointCount = DefaultMapTriggerPointCount
	}
	if c.MapTriggerIntervalMs <= 0 {
		c.MapTriggerIntervalMs = DefaultMapTriggerIntervalMs
	}
	if c.MapTriggerDistanceM <= 0 {
		c.MapTriggerDistanceM = DefaultMapTriggerDistanceM
	}
	if c.MapRetryBackoffInitMs <= 0 {
		c.MapRetryBackoffInitMs = DefaultMapRetryBackoffInitMs
	}
	if c.MapRetryBackoffMaxMs <= 0 {
		c.MapRetryBackoffMaxMs = DefaultMapRetryBackoffMaxMs
	}
	return c
}

// nowFunc is overridable in tests.
type nowFunc func() int64

// Coordinator drives the map-fetch state machine. now() returns Unix
// milliseconds; New sets it to the wall clock and tests may replace it.
// Use New: the zero value has no clock.
type Coordinator struct {
	cfg      Config
	filter   *gpsfilter.Filter
	provider MapImageProvider
	sender   Sender
	listener ErrorListener
	now      nowFunc

	mu               sync.Mutex
	state            State
	pending          bool
	lastMapFetchMs   int64
	currentBackoffMs int64
	nextRetryAtMs    int64
	retryTimer       *time.Timer

	stats Stats
}

// Stats exposes coordinator counters for diagnostics.
type Stats struct {
	FetchesStarted   int
	FetchesSucceeded int
	FetchesFailed    int
	CurrentBackoffMs int64
	State            State
}

// New returns a Coordinator watching filter and rendering through provider.
func New(filter *gpsfilter.Filter, provider MapImageProvider, sender Sender, listener ErrorListener, cfg Config) *Coordinator {
	c := &Coordinator{
		cfg:      cfg.withDefaults(),
		filter:   filter,
		provider: provider,
		sender:   sender,
		listener: listener,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	c.currentBackoffMs = c.cfg.MapRetryBackoffInitMs
	return c
}

// OnTrackChanged should be called after every accepted GPS point; it
// evaluates the trigger conditions under gpsLock (delegated to the filter's
// own mutex via its accessor methods) and, if appropriate, starts a fetch.
func (c *Coordinator) OnTrackChanged(ctx context.Context) {
	c.mu.Lock()
	if c.provider == nil {
		c.mu.Unlock()
		return
	}
	now := c.now()
	if now < c.nextRetryAtMs {
		// Backoff still in effect; record the trigger for re-evaluation
		// when the retry timer fires.
		c.pending = true
		c.mu.Unlock()
		c.reject("backoff in effect")
		return
	}

	trig := c.filter.PeekMapTriggerState()
	if trig.TrackSize < 2 {
		c.mu.Unlock()
		return
	}

	triggered := trig.AcceptedSinceLastMap >= c.cfg.MapTriggerPointCount ||
		now-c.lastMapFetchMs >= c.cfg.MapTriggerIntervalMs ||
		trig.DistanceSinceLastMapM >= c.cfg.MapTriggerDistanceM

	if !triggered {
		c.mu.Unlock()
		return
	}

	if c.state == StateInFlight {
		c.pending = true
		c.mu.Unlock()
		c.reject("fetch already in flight")
		return
	}

	c.state = StateInFlight
	c.pending = false
	c.stats.FetchesStarted++
	c.mu.Unlock()

	go c.runFetch(ctx)
}

func (c *Coordinator) reject(reason string) {
	if c.listener != nil {
		c.listener.OnScheduleReject(reason)
	}
}

func (c *Coordinator) runFetch(ctx context.Context) {
	points := c.filter.Snapshot()

	png, err := c.provider.FetchTrackImage(ctx, points)

	c.mu.Lock()
	now := c.now()
	if err != nil || len(png) == 0 {
		c.stats.FetchesFailed++
		c.state = StateBackoff
		c.nextRetryAtMs = now + c.currentBackoffMs
		backoff := c.currentBackoffMs * 2
		if backoff > c.cfg.MapRetryBackoffMaxMs {
			backoff = c.cfg.MapRetryBackoffMaxMs
		}
		c.currentBackoffMs = backoff
		c.armRetryTimerLocked(ctx)
		c.mu.Unlock()
		if c.listener != nil {
			if err == nil {
				err = errEmptyImage
			}
			c.listener.OnProviderFailure(err)
		}
		return
	}

	c.filter.ConsumeMapTriggerState()

	c.stats.FetchesSucceeded++
	c.lastMapFetchMs = now
	c.currentBackoffMs = c.cfg.MapRetryBackoffInitMs
	c.nextRetryAtMs = 0
	c.state = StateIdle
	pending := c.pending
	c.pending = false
	c.mu.Unlock()

	if c.sender != nil {
		c.sender.SendPng(png)
	}

	if pending {
		c.OnTrackChanged(ctx)
	}
}

// armRetryTimerLocked schedules the single outstanding retry timer. Must be
// called with c.mu held.
func (c *Coordinator) armRetryTimerLocked(ctx context.Context) {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	delay := time.Until(time.UnixMilli(c.nextRetryAtMs))
	if delay < 0 {
		delay = 0
	}
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.state = StateScheduled
		pending := c.pending
		c.mu.Unlock()
		if pending {
			c.OnTrackChanged(ctx)
		}
	})
}

// Stats returns a copy of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.CurrentBackoffMs = c.currentBackoffMs
	st.State = c.state
	return st
}

// Close stops any outstanding retry timer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

var errEmptyImage = providerError("provider returned an empty image")

type providerError string

func (e providerError) Error() string { return string(e) }
