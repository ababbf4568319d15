// Package gpsfilter implements the host's GPS ingestion pipeline: a
// syntactic/spatial filter in front of a bounded, ordered Track Buffer, used
// by the Map Fetch Coordinator to decide when to render a new map image.
package gpsfilter

import (
	"math"
	"sync"
)

// earthRadiusM is the mean Earth radius used for the great-circle distance
// formula, per the spec.
const earthRadiusM = 6371000.0

// Defaults mirror the spec's default tuning constants.
const (
	DefaultTrackMaxPoints        = 200
	DefaultGpsMinIntervalMs      = 250
	DefaultGpsAccuracyThresholdM = 30.0
	DefaultGpsMinDistanceM       = 5.0
	DefaultGpsTurnAngleDeg       = 20.0
)

// Point is a single GPS sample as presented for ingestion.
type Point struct {
	LatDeg     float64
	LonDeg     float64
	TimestampMs int64
	AccuracyM  *float32
	SpeedMps   *float32
	BearingDeg *float32
}

// RejectReason identifies why a point was filtered rather than accepted.
type RejectReason string

const (
	ReasonNaN            RejectReason = "nan"
	ReasonOutOfRange     RejectReason = "out-of-range"
	ReasonNonMonotonic   RejectReason = "non-monotonic"
	ReasonMinInterval    RejectReason = "interval<min"
	ReasonAccuracy       RejectReason = "accuracy>threshold"
	ReasonMinDistance    RejectReason = "distance<min"
)

// Config tunes the filter thresholds. Zero values take the package defaults.
type Config struct {
	TrackMaxPoints        int
	GpsMinIntervalMs       int64
	GpsAccuracyThresholdM float64
	GpsMinDistanceM       float64
	GpsTurnAngleDeg       float64
}

func (c Config) withDefaults() Config {
	if c.TrackMaxPoints <= 0 {
		c.TrackMaxPoints = DefaultTrackMaxPoints
	}
	if c.GpsMinIntervalMs <= 0 {
		c.GpsMinIntervalMs = DefaultGpsMinIntervalMs
	}
	if c.GpsAccuracyThresholdM <= 0 {
		c.GpsAccuracyThresholdM = DefaultGpsAccuracyThresholdM
	}
	if c.GpsMinDistanceM <= 0 {
		c.GpsMinDistanceM = DefaultGpsMinDistanceM
	}
	if c.GpsTurnAngleDeg <= 0 {
		c.GpsTurnAngleDeg = DefaultGpsTurnAngleDeg
	}
	return c
}

// Stats exposes acceptance/rejection counters for diagnostics, matching the
// Snapshot-shaped status idiom used elsewhere in this codebase.
type Stats struct {
	Accepted     int
	Rejected     int
	LastReject   RejectReason
}

// Filter owns the gpsLock-guarded Track Buffer and its bookkeeping.
type Filter struct {
	cfg Config

	mu sync.Mutex

	track []Point

	lastAcceptedPoint    *Point
	lastGpsIngestMs      int64
	acceptedSinceLastMap int
	distanceSinceLastMapM float64

	stats Stats
}

// New returns a Filter with the given configuration (zero-valued fields take
// spec defaults).
func New(cfg Config) *Filter {
	return &Filter{cfg: cfg.withDefaults()}
}

// Ingest runs the three-stage pipeline from spec §4.3 on p: syntactic
// filter, spatial filter (with bootstrap and turn-preservation), then
// accept. It returns true and an empty reason on acceptance, or false and the
// rejection reason otherwise.
func (f *Filter) Ingest(p Point) (accepted bool, reason RejectReason) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if reason := f.syntacticReject(p); reason != "" {
		f.stats.Rejected++
		f.stats.LastReject = reason
		return false, reason
	}

	var dist float64
	if len(f.track) >= 2 {
		if reason, rejected := f.spatialReject(p, &dist); rejected {
			f.stats.Rejected++
			f.stats.LastReject = reason
			return false, reason
		}
	} else if len(f.track) == 1 {
		dist = haversineM(f.track[0].LatDeg, f.track[0].LonDeg, p.LatDeg, p.LonDeg)
	}

	f.accept(p, dist)
	f.stats.Accepted++
	return true, ""
}

func (f *Filter) syntacticReject(p Point) RejectReason {
	if math.IsNaN(p.LatDeg) || math.IsNaN(p.LonDeg) {
		return ReasonNaN
	}
	if p.LatDeg < -90 || p.LatDeg > 90 || p.LonDeg < -180 || p.LonDeg > 180 {
		return ReasonOutOfRange
	}
	if p.TimestampMs <= f.lastGpsIngestMs {
		return ReasonNonMonotonic
	}
	// The first two points bootstrap: the min-interval check applies only
	// once the track already holds two points.
	if len(f.track) >= 2 && p.TimestampMs-f.lastGpsIngestMs < f.cfg.GpsMinIntervalMs {
		return ReasonMinInterval
	}
	if p.AccuracyM != nil && float64(*p.AccuracyM) > f.cfg.GpsAccuracyThresholdM {
		return ReasonAccuracy
	}
	return ""
}

// spatialReject evaluates the min-distance / turn-preservation rule against
// the last accepted point. It is only called once the track already holds
// at least two points (the first two points bootstrap unconditionally).
// *dist receives the haversine distance to the last accepted point so the
// caller can reuse it when accepting.
func (f *Filter) spatialReject(p Point, dist *float64) (RejectReason, bool) {
	last := f.lastAcceptedPoint
	if last == nil {
		return "", false
	}
	d := haversineM(last.LatDeg, last.LonDeg, p.LatDeg, p.LonDeg)
	*dist = d
	if d >= f.cfg.GpsMinDistanceM {
		return "", false
	}

	// Turn preservation: allow a short-hop point through if it represents a
	// sharp turn rather than jitter.
	if d >= 3.0 && p.BearingDeg != nil && last.BearingDeg != nil {
		delta := circularBearingDelta(float64(*last.BearingDeg), float64(*p.BearingDeg))
		if delta >= f.cfg.GpsTurnAngleDeg {
			return "", false
		}
	}
	return ReasonMinDistance, true
}

func (f *Filter) accept(p Point, dist float64) {
	f.track = append(f.track, p)
	if len(f.track) > f.cfg.TrackMaxPoints {
		f.track = f.track[len(f.track)-f.cfg.TrackMaxPoints:]
	}
	pp := p
	f.lastAcceptedPoint = &pp
	f.lastGpsIngestMs = p.TimestampMs
	f.acceptedSinceLastMap++
	f.distanceSinceLastMapM += dist
}

// Snapshot returns a copy of the accepted track in ingestion order.
func (f *Filter) Snapshot() []Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Point, len(f.track))
	copy(out, f.track)
	return out
}

// TrackLen reports the current track size without copying it.
func (f *Filter) TrackLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.track)
}

// MapTriggerState holds the counters the Map Fetch Coordinator reads to
// decide whether to schedule a render.
type MapTriggerState struct {
	AcceptedSinceLastMap  int
	DistanceSinceLastMapM float64
	TrackSize             int
}

// ConsumeMapTriggerState returns the current trigger counters and resets
// them to zero, all under gpsLock, as the coordinator does when a fetch
// attempt succeeds.
func (f *Filter) ConsumeMapTriggerState() MapTriggerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := MapTriggerState{
		AcceptedSinceLastMap:  f.acceptedSinceLastMap,
		DistanceSinceLastMapM: f.distanceSinceLastMapM,
		TrackSize:             len(f.track),
	}
	f.acceptedSinceLastMap = 0
	f.distanceSinceLastMapM = 0
	return st
}

// PeekMapTriggerState returns the current trigger counters without resetting
// them, for trigger evaluation that may decide not to fetch.
func (f *Filter) PeekMapTriggerState() MapTriggerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return MapTriggerState{
		AcceptedSinceLastMap:  f.acceptedSinceLastMap,
		DistanceSinceLastMapM: f.distanceSinceLastMapM,
		TrackSize:             len(f.track),
	}
}

// Stats returns a copy of the acceptance/rejection counters.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// haversineM computes the great-circle distance in meters between two
// lat/lon points using the Earth radius from the spec.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	sinDPhi := math.Sin(dPhi / 2)
	sinDLambda := math.Sin(dLambda / 2)
	a := sinDPhi*sinDPhi + math.Cos(phi1)*math.Cos(phi2)*sinDLambda*sinDLambda
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// circularBearingDelta returns the circular minimum of |b1-b2| and
// 360-|b1-b2|, in degrees.
func circularBearingDelta(b1, b2 float64) float64 {
	d := math.Abs(b1 - b2)
	if d > 180 {
		d = 360 - d
	}
	return d
}
