// Package gps adapts a raw NMEA serial GPS receiver into gpsfilter.Point
// values. Unlike the device link's HudTransport/DeviceTransport, which
// treat the wire as opaque bytes, this source parses the feed because the
// pipeline's own GPS ingestion (spec §4.3) is the consumer.
package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"hudlink/internal/gpsfilter"
)

// Source is the capability interface the host runtime depends on, so a
// test or an alternate receiver (a replay file, a different talker set)
// can stand in for a real serial port.
type Source interface {
	Start(ctx context.Context) error
	Close()
	Points() <-chan gpsfilter.Point
}

// Config names the serial device carrying NMEA sentences.
type Config struct {
	Device string
	Baud   int
}

func (c Config) withDefaults() Config {
	if c.Baud <= 0 {
		c.Baud = 9600
	}
	return c
}

// NMEAReceiver implements Source over a real or injected serial stream,
// parsing RMC (position/speed/track) and GGA (HDOP, for an accuracy
// estimate) sentences directly into gpsfilter.Point values.
type NMEAReceiver struct {
	cfg Config

	mu     sync.Mutex
	port   io.ReadCloser
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	points chan gpsfilter.Point
}

// NewNMEAReceiver returns a receiver bound to cfg. Call Start to begin
// reading.
func NewNMEAReceiver(cfg Config) *NMEAReceiver {
	return &NMEAReceiver{
		cfg:    cfg.withDefaults(),
		points: make(chan gpsfilter.Point, 8),
	}
}

// Start opens the configured serial device and begins parsing in the
// background. Points are pushed onto the channel returned by Points.
func (r *NMEAReceiver) Start(ctx context.Context) error {
	port, err := serial.OpenPort(&serial.Config{Name: r.cfg.Device, Baud: r.cfg.Baud})
	if err != nil {
		return fmt.Errorf("gps: open %s: %w", r.cfg.Device, err)
	}
	return r.startWithReader(ctx, port)
}

// startWithReader runs the read loop over rc instead of a freshly opened
// serial port, so tests can inject an in-memory stream.
func (r *NMEAReceiver) startWithReader(ctx context.Context, rc io.ReadCloser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	r.port = rc
	childCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(childCtx)
	return nil
}

func (r *NMEAReceiver) run(ctx context.Context) {
	defer r.wg.Done()
	defer r.port.Close()

	scanner := bufio.NewScanner(r.port)
	scanner.Buffer(make([]byte, 0, 256), 4096)

	var fix fixState
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := parseSentence(line)
		if err != nil {
			continue
		}
		p, ok := fix.apply(sent)
		if !ok {
			continue
		}
		select {
		case r.points <- p:
		case <-ctx.Done():
			return
		default:
			// A slow or absent consumer must not stall the serial reader;
			// the point is dropped rather than buffered without bound.
		}
	}
}

// Points returns the channel new fixes are delivered on.
func (r *NMEAReceiver) Points() <-chan gpsfilter.Point { return r.points }

// Close stops the read loop and waits for it to exit. Idempotent.
func (r *NMEAReceiver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// fixState accumulates the GGA-reported HDOP so the next RMC-derived point
// carries an accuracy estimate; RMC alone carries no accuracy figure.
type fixState struct {
	hdop   float64
	hdopOK bool
}

func (s *fixState) apply(sent sentence) (gpsfilter.Point, bool) {
	switch sent.typ {
	case "GGA":
		s.applyGGA(sent.fields)
		return gpsfilter.Point{}, false
	case "RMC":
		return s.applyRMC(sent.fields)
	default:
		return gpsfilter.Point{}, false
	}
}

// applyGGA reads fields[8] (HDOP) out of a GGA sentence shaped per NMEA
// 0183: talker+type, time, lat, N/S, lon, E/W, fix quality, satellites,
// hdop, altitude, units, ...
func (s *fixState) applyGGA(fields []string) {
	if len(fields) < 9 {
		return
	}
	if hdop, ok := parseFloat(fields[8]); ok {
		s.hdop = hdop
		s.hdopOK = true
	}
}

// applyRMC turns an active RMC sentence (talker+type, time, status, lat,
// N/S, lon, E/W, speed-kt, track-deg, date, ...) into a Point.
func (s *fixState) applyRMC(fields []string) (gpsfilter.Point, bool) {
	if len(fields) < 9 {
		return gpsfilter.Point{}, false
	}
	if strings.TrimSpace(fields[2]) != "A" {
		return gpsfilter.Point{}, false
	}
	lat, latOK := parseLatLon(fields[3], fields[4])
	lon, lonOK := parseLatLon(fields[5], fields[6])
	if !latOK || !lonOK {
		return gpsfilter.Point{}, false
	}

	p := gpsfilter.Point{
		LatDeg:      lat,
		LonDeg:      lon,
		TimestampMs: time.Now().UnixMilli(),
	}
	if kt, ok := parseFloat(fields[7]); ok {
		mps := float32(kt * 0.514444)
		p.SpeedMps = &mps
	}
	if trk, ok := parseFloat(fields[8]); ok {
		deg := float32(normalizeDeg(trk))
		p.BearingDeg = &deg
	}
	if s.hdopOK {
		acc := float32(s.hdop * 5.0) // rough HDOP-to-meters rule of thumb
		p.AccuracyM = &acc
	}
	return p, true
}

func normalizeDeg(d float64) float64 {
	d = d - float64(int(d/360))*360
	if d < 0 {
		d += 360
	}
	return d
}
