package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestLoadHostRequiresDevice(t *testing.T) {
	path := writeTempConfig(t, "map_fetch:\n  provider_url: 'http://example.test/map'\n")
	if _, err := LoadHost(path); err == nil {
		t.Fatalf("expected an error when transport.device is missing")
	}
}

func TestLoadHostRequiresProviderURL(t *testing.T) {
	path := writeTempConfig(t, "transport:\n  device: /dev/ttyACM0\n")
	if _, err := LoadHost(path); err == nil {
		t.Fatalf("expected an error when map_fetch.provider_url is missing")
	}
}

func TestLoadHostDefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "transport:\n  device: /dev/ttyACM0\nmap_fetch:\n  provider_url: 'http://example.test/map'\n")
	cfg, err := LoadHost(path)
	if err != nil {
		t.Fatalf("LoadHost() error: %v", err)
	}
	if cfg.Transport.Baud != 115200 {
		t.Fatalf("baud=%d want 115200", cfg.Transport.Baud)
	}
	if cfg.Scheduler.MsgRateHz != 24 || cfg.Scheduler.MsgIdleRateHz != 2 {
		t.Fatalf("scheduler defaults not applied: %+v", cfg.Scheduler)
	}
	if cfg.GPS.TrackMaxPoints != 200 || cfg.GPS.GpsMinIntervalMs != 250 {
		t.Fatalf("gps defaults not applied: %+v", cfg.GPS)
	}
	if cfg.MapFetch.MapRetryBackoffInitMs != 1000 || cfg.MapFetch.MapRetryBackoffMaxMs != 15000 {
		t.Fatalf("map_fetch backoff defaults not applied: %+v", cfg.MapFetch)
	}
	if cfg.Writer.ImgQueueCapacity != 2 {
		t.Fatalf("writer.img_queue_capacity=%d want 2", cfg.Writer.ImgQueueCapacity)
	}
}

func TestLoadHostExplicitValuesSurvive(t *testing.T) {
	path := writeTempConfig(t, `
transport:
  device: /dev/ttyACM0
  baud: 230400
scheduler:
  msg_rate_hz: 30
  enable_crc: true
map_fetch:
  provider_url: 'http://example.test/map'
  map_retry_backoff_max_ms: 5000
`)
	cfg, err := LoadHost(path)
	if err != nil {
		t.Fatalf("LoadHost() error: %v", err)
	}
	if cfg.Transport.Baud != 230400 {
		t.Fatalf("baud=%d want 230400", cfg.Transport.Baud)
	}
	if cfg.Scheduler.MsgRateHz != 30 || !cfg.Scheduler.EnableCRC {
		t.Fatalf("explicit scheduler values not preserved: %+v", cfg.Scheduler)
	}
	if cfg.MapFetch.MapRetryBackoffMaxMs != 5000 {
		t.Fatalf("explicit backoff cap not preserved: %d", cfg.MapFetch.MapRetryBackoffMaxMs)
	}
}

func TestLoadDeviceRequiresTransportDevice(t *testing.T) {
	path := writeTempConfig(t, "router:\n  read_chunk: 128\n")
	if _, err := LoadDevice(path); err == nil {
		t.Fatalf("expected an error when transport.device is missing")
	}
}

func TestLoadDeviceDefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "transport:\n  device: /dev/ttyACM0\n")
	cfg, err := LoadDevice(path)
	if err != nil {
		t.Fatalf("LoadDevice() error: %v", err)
	}
	if cfg.Router.ReadChunk != 256 {
		t.Fatalf("read_chunk=%d want 256", cfg.Router.ReadChunk)
	}
	if cfg.Imgf.MaxPngBytes != 128*1024 || cfg.Imgf.DropPolicy != "old" {
		t.Fatalf("imgf defaults not applied: %+v", cfg.Imgf)
	}
	if cfg.Msgf.MaxMsgBytes != 64 || cfg.Msgf.QueueDepth != 8 {
		t.Fatalf("msgf defaults not applied: %+v", cfg.Msgf)
	}
}

func TestLoadDeviceRejectsUnknownDropPolicy(t *testing.T) {
	path := writeTempConfig(t, "transport:\n  device: /dev/ttyACM0\nimgf:\n  drop_policy: sideways\n")
	if _, err := LoadDevice(path); err == nil {
		t.Fatalf("expected an error for an unknown drop_policy")
	}
}

func TestLoadDeviceExplicitDropPolicyNew(t *testing.T) {
	path := writeTempConfig(t, "transport:\n  device: /dev/ttyACM0\nimgf:\n  drop_policy: new\n")
	cfg, err := LoadDevice(path)
	if err != nil {
		t.Fatalf("LoadDevice() error: %v", err)
	}
	if cfg.Imgf.DropPolicy != "new" {
		t.Fatalf("drop_policy=%q want new", cfg.Imgf.DropPolicy)
	}
}

func TestLoadHostMissingFileReturnsError(t *testing.T) {
	if _, err := LoadHost(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
