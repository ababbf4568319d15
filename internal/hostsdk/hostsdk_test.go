package hostsdk

import (
	"context"
	"testing"
	"time"

	"hudlink/internal/config"
	"hudlink/internal/frame"
	"hudlink/internal/gpsfilter"
	"hudlink/internal/store"
	"hudlink/internal/transport"
)

func testConfig() config.HostConfig {
	return config.HostConfig{
		Transport: config.TransportConfig{Device: "/dev/null", Baud: 115200},
		Scheduler: config.SchedulerConfig{MsgRateHz: 1000, MsgIdleRateHz: 1},
		GPS:       config.GPSFilterConfig{GpsMinIntervalMs: 1, GpsMinDistanceM: 0},
		MapFetch: config.MapFetchConfig{
			ProviderURL:           "http://127.0.0.1:0/map",
			MapTriggerPointCount:  1000,
			MapRetryBackoffInitMs: 1000,
			MapRetryBackoffMaxMs:  15000,
		},
		Writer: config.WriterConfig{ImgQueueCapacity: 2},
	}
}

func TestStartCloseIdempotent(t *testing.T) {
	lt := transport.NewLoopback()
	r := New(testConfig(), lt, nil)

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	r.Close()
	r.Close() // must not panic or block
}

func TestStoreWriteReachesTransportAsMsgfFrame(t *testing.T) {
	lt := transport.NewLoopback()
	r := New(testConfig(), lt, nil)
	defer r.Close()

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	r.Store().SetField(store.FieldSpeedKmh, 55)
	r.BurstOnVehicleChange()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := lt.WaitAvailable(ctx); err != nil {
		t.Fatalf("expected a frame to reach the transport: %v", err)
	}

	buf := make([]byte, 64)
	n := lt.Read(buf)
	h, payload, err := frame.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Magic != frame.MSGF {
		t.Fatalf("expected MSGF magic")
	}
	snap, err := frame.DecodeSnapshotPayload(payload)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SpeedKmh != 55 {
		t.Fatalf("speed=%d want 55", snap.SpeedKmh)
	}
}

func TestSendRebootEnqueuesControlFrame(t *testing.T) {
	lt := transport.NewLoopback()
	r := New(testConfig(), lt, nil)
	defer r.Close()

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	r.SendReboot()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := lt.WaitAvailable(ctx); err != nil {
		t.Fatalf("expected the reboot frame to reach the transport: %v", err)
	}
}

func TestIngestGPSRejectsOutOfRange(t *testing.T) {
	r := New(testConfig(), transport.NewLoopback(), nil)
	defer r.Close()

	accepted, reason := r.IngestGPS(gpsfilter.Point{LatDeg: 999, LonDeg: 0, TimestampMs: 1})
	if accepted {
		t.Fatalf("expected rejection for out-of-range latitude")
	}
	if reason != gpsfilter.ReasonOutOfRange {
		t.Fatalf("reason=%q want %q", reason, gpsfilter.ReasonOutOfRange)
	}
}

func TestSnapshotAggregatesModuleStats(t *testing.T) {
	r := New(testConfig(), transport.NewLoopback(), nil)
	defer r.Close()

	r.IngestGPS(gpsfilter.Point{LatDeg: 1, LonDeg: 1, TimestampMs: 1})
	snap := r.Snapshot()
	if snap.GPS.Accepted != 1 {
		t.Fatalf("expected one accepted GPS point in the snapshot, got %+v", snap.GPS)
	}
}
