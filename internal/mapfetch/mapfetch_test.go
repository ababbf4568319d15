package mapfetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hudlink/internal/gpsfilter"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	failN   int32 // fail the first failN calls
	png     []byte
}

func (p *fakeProvider) FetchTrackImage(ctx context.Context, points []gpsfilter.Point) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()
	if int32(call) <= atomic.LoadInt32(&p.failN) {
		return nil, providerError("simulated failure")
	}
	if p.png != nil {
		return p.png, nil
	}
	return []byte{0x89, 0x50, 0x4E, 0x47}, nil
}

type fakeSender struct {
	mu    sync.Mutex
	pngs  [][]byte
}

func (s *fakeSender) SendPng(png []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pngs = append(s.pngs, png)
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pngs)
}

type fakeListener struct {
	mu       sync.Mutex
	failures int
	rejects  []string
}

func (l *fakeListener) OnProviderFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
}
func (l *fakeListener) OnScheduleReject(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejects = append(l.rejects, reason)
}

func (l *fakeListener) rejectCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rejects)
}

func seedTrack(f *gpsfilter.Filter, n int) {
	base := int64(1000)
	for i := 0; i < n; i++ {
		f.Ingest(gpsfilter.Point{
			LatDeg:      45.0 + float64(i)*0.001,
			LonDeg:      -122.0,
			TimestampMs: base + int64(i)*1000,
		})
	}
}

func TestFetchTriggersOnPointCount(t *testing.T) {
	f := gpsfilter.New(gpsfilter.Config{GpsMinIntervalMs: 1, GpsMinDistanceM: 0})
	seedTrack(f, 6)

	provider := &fakeProvider{}
	sender := &fakeSender{}
	c := New(f, provider, sender, &fakeListener{}, Config{MapTriggerPointCount: 5})

	c.OnTrackChanged(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sender.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly one sent png, got %d", sender.count())
	}
}

func TestFetchRequiresAtLeastTwoTrackPoints(t *testing.T) {
	f := gpsfilter.New(gpsfilter.Config{GpsMinIntervalMs: 1})
	f.Ingest(gpsfilter.Point{LatDeg: 1, LonDeg: 1, TimestampMs: 1000})

	provider := &fakeProvider{}
	sender := &fakeSender{}
	c := New(f, provider, sender, &fakeListener{}, Config{MapTriggerPointCount: 1})
	c.OnTrackChanged(context.Background())

	time.Sleep(50 * time.Millisecond)
	if sender.count() != 0 {
		t.Fatalf("should not fetch with fewer than 2 track points")
	}
}

// TestGoldenBackoffSequence implements scenario S4: on consecutive provider
// failures, currentBackoffMs doubles from the initial value up to the cap
// and never exceeds it.
func TestGoldenBackoffSequence(t *testing.T) {
	f := gpsfilter.New(gpsfilter.Config{GpsMinIntervalMs: 1, GpsMinDistanceM: 0})
	seedTrack(f, 2)
	c := New(f, &fakeProvider{failN: 1 << 30}, &fakeSender{}, &fakeListener{}, Config{
		MapRetryBackoffInitMs: 1000,
		MapRetryBackoffMaxMs:  15000,
	})
	c.now = func() int64 { return 0 }
	defer c.Close()

	wantSeq := []int64{1000, 2000, 4000, 8000, 15000, 15000}
	got := make([]int64, 0, len(wantSeq))
	for i := 0; i < len(wantSeq); i++ {
		got = append(got, c.Stats().CurrentBackoffMs)
		c.runFetch(context.Background())
	}
	for i := range wantSeq {
		if got[i] != wantSeq[i] {
			t.Fatalf("backoff[%d]: got %d want %d", i, got[i], wantSeq[i])
		}
	}
	if got := c.Stats().CurrentBackoffMs; got > c.cfg.MapRetryBackoffMaxMs {
		t.Fatalf("backoff exceeded cap: %d", got)
	}
}

func TestFetchRetriesAfterFailureAndEventuallySucceeds(t *testing.T) {
	f := gpsfilter.New(gpsfilter.Config{GpsMinIntervalMs: 1, GpsMinDistanceM: 0})
	seedTrack(f, 6)

	provider := &fakeProvider{failN: 1}
	sender := &fakeSender{}
	listener := &fakeListener{}
	c := New(f, provider, sender, listener, Config{
		MapTriggerPointCount:  5,
		MapRetryBackoffInitMs: 10,
		MapRetryBackoffMaxMs:  50,
	})

	c.OnTrackChanged(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sender.count() == 0 {
		time.Sleep(5 * time.Millisecond)
		seedTrack(f, 1) // keep triggering while in backoff
		c.OnTrackChanged(context.Background())
	}
	if sender.count() == 0 {
		t.Fatalf("expected the provider to eventually succeed after backoff")
	}
	if listener.failures == 0 {
		t.Fatalf("expected at least one reported provider failure")
	}
}

// TestFailedFetchDoesNotResetTriggerCounters implements the rule that a
// failed fetch must not discard the accumulated point-count/distance
// triggers: only a fetch that returns a non-empty PNG consumes them.
func TestFailedFetchDoesNotResetTriggerCounters(t *testing.T) {
	f := gpsfilter.New(gpsfilter.Config{GpsMinIntervalMs: 1, GpsMinDistanceM: 0})
	seedTrack(f, 6)

	before := f.PeekMapTriggerState()
	if before.AcceptedSinceLastMap == 0 {
		t.Fatalf("expected a nonzero trigger count before the fetch")
	}

	provider := &fakeProvider{failN: 1}
	sender := &fakeSender{}
	c := New(f, provider, sender, &fakeListener{}, Config{
		MapTriggerPointCount:  100, // never trigger again automatically
		MapRetryBackoffInitMs: 10_000,
		MapRetryBackoffMaxMs:  10_000,
	})

	c.runFetch(context.Background())

	after := f.PeekMapTriggerState()
	if after.AcceptedSinceLastMap != before.AcceptedSinceLastMap {
		t.Fatalf("failed fetch reset trigger counters: before=%d after=%d",
			before.AcceptedSinceLastMap, after.AcceptedSinceLastMap)
	}
}

// TestScheduleRejectReportedWhileInFlight implements the rule that a trigger
// arriving while a fetch is already in flight is reported as a rejection
// rather than silently dropped.
func TestScheduleRejectReportedWhileInFlight(t *testing.T) {
	f := gpsfilter.New(gpsfilter.Config{GpsMinIntervalMs: 1, GpsMinDistanceM: 0})
	seedTrack(f, 6)

	provider := &fakeProvider{}
	sender := &fakeSender{}
	listener := &fakeListener{}
	c := New(f, provider, sender, listener, Config{MapTriggerPointCount: 5})

	c.mu.Lock()
	c.state = StateInFlight
	c.mu.Unlock()

	c.OnTrackChanged(context.Background())

	if listener.rejectCount() == 0 {
		t.Fatalf("expected a schedule-reject report while a fetch is in flight")
	}
}
