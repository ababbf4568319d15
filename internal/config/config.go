// Package config loads the YAML configuration for the hosthud and
// devicehud binaries, following the teacher's unmarshal-then-default-then-
// validate pattern.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HostConfig is the hosthud binary's configuration.
type HostConfig struct {
	Transport TransportConfig `yaml:"transport"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	GPS       GPSFilterConfig `yaml:"gps"`
	MapFetch  MapFetchConfig  `yaml:"map_fetch"`
	Writer    WriterConfig    `yaml:"writer"`
}

// TransportConfig names the serial device shared by both binaries.
type TransportConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// SchedulerConfig tunes the MSG Scheduler, mirroring
// internal/scheduler.Config.
type SchedulerConfig struct {
	MsgRateHz                int  `yaml:"msg_rate_hz"`
	MsgIdleRateHz            int  `yaml:"msg_idle_rate_hz"`
	EnableCRC                bool `yaml:"enable_crc"`
	BurstOnVehicleDataChange bool `yaml:"burst_on_vehicle_data_change"`
}

// GPSFilterConfig tunes the GPS Filter & Track Buffer, mirroring
// internal/gpsfilter.Config, plus the serial device the raw NMEA feed is
// read from. Device is left empty to run without a real GPS receiver
// attached.
type GPSFilterConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	TrackMaxPoints        int     `yaml:"track_max_points"`
	GpsMinIntervalMs      int64   `yaml:"gps_min_interval_ms"`
	GpsAccuracyThresholdM float64 `yaml:"gps_accuracy_threshold_m"`
	GpsMinDistanceM       float64 `yaml:"gps_min_distance_m"`
	GpsTurnAngleDeg       float64 `yaml:"gps_turn_angle_deg"`
}

// MapFetchConfig tunes the Map Fetch Coordinator and its HTTP provider.
type MapFetchConfig struct {
	MapTriggerPointCount  int     `yaml:"map_trigger_point_count"`
	MapTriggerIntervalMs  int64   `yaml:"map_trigger_interval_ms"`
	MapTriggerDistanceM   float64 `yaml:"map_trigger_distance_m"`
	MapRetryBackoffInitMs int64   `yaml:"map_retry_backoff_init_ms"`
	MapRetryBackoffMaxMs  int64   `yaml:"map_retry_backoff_max_ms"`

	ProviderURL      string `yaml:"provider_url"`
	ProviderUser     string `yaml:"provider_user"`
	ProviderPassword string `yaml:"provider_password"`
	MaxPngBytes      int    `yaml:"max_png_bytes"`
	TimeoutSec       int    `yaml:"timeout_sec"`
}

// WriterConfig tunes the Prioritized Writer.
type WriterConfig struct {
	ImgQueueCapacity int `yaml:"img_queue_capacity"`
	MaxImgBytes      int `yaml:"max_img_bytes"`
}

// DeviceConfig is the devicehud binary's configuration.
type DeviceConfig struct {
	Transport TransportConfig `yaml:"transport"`
	Router    RouterConfig    `yaml:"router"`
	Imgf      ImgfConfig      `yaml:"imgf"`
	Msgf      MsgfConfig      `yaml:"msgf"`
}

// RouterConfig tunes the Stream Router.
type RouterConfig struct {
	ReadChunk int `yaml:"read_chunk"`
}

// ImgfConfig tunes the IMGF Receiver.
type ImgfConfig struct {
	MaxPngBytes int    `yaml:"max_png_bytes"`
	RequireCRC  bool   `yaml:"require_crc"`
	DropPolicy  string `yaml:"drop_policy"` // "old" (default) or "new"
}

// MsgfConfig tunes the MSGF Receiver.
type MsgfConfig struct {
	MaxMsgBytes int  `yaml:"max_msg_bytes"`
	QueueDepth  int  `yaml:"queue_depth"`
	RequireCRC  bool `yaml:"require_crc"`
}

// LoadHost reads and validates a hosthud configuration file.
func LoadHost(path string) (HostConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return HostConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg HostConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return HostConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Transport.Device == "" {
		return HostConfig{}, fmt.Errorf("transport.device is required")
	}
	if cfg.Transport.Baud <= 0 {
		cfg.Transport.Baud = 115200
	}

	if cfg.Scheduler.MsgRateHz <= 0 {
		cfg.Scheduler.MsgRateHz = 24
	}
	if cfg.Scheduler.MsgIdleRateHz <= 0 {
		cfg.Scheduler.MsgIdleRateHz = 2
	}

	if cfg.GPS.Baud <= 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.TrackMaxPoints <= 0 {
		cfg.GPS.TrackMaxPoints = 200
	}
	if cfg.GPS.GpsMinIntervalMs <= 0 {
		cfg.GPS.GpsMinIntervalMs = 250
	}
	if cfg.GPS.GpsAccuracyThresholdM <= 0 {
		cfg.GPS.GpsAccuracyThresholdM = 30.0
	}
	if cfg.GPS.GpsMinDistanceM <= 0 {
		cfg.GPS.GpsMinDistanceM = 5.0
	}
	if cfg.GPS.GpsTurnAngleDeg <= 0 {
		cfg.GPS.GpsTurnAngleDeg = 20.0
	}

	if cfg.MapFetch.MapTriggerPointCount <= 0 {
		cfg.MapFetch.MapTriggerPointCount = 5
	}
	if cfg.MapFetch.MapTriggerIntervalMs <= 0 {
		cfg.MapFetch.MapTriggerIntervalMs = 2000
	}
	if cfg.MapFetch.MapTriggerDistanceM <= 0 {
		cfg.MapFetch.MapTriggerDistanceM = 30.0
	}
	if cfg.MapFetch.MapRetryBackoffInitMs <= 0 {
		cfg.MapFetch.MapRetryBackoffInitMs = 1000
	}
	if cfg.MapFetch.MapRetryBackoffMaxMs <= 0 {
		cfg.MapFetch.MapRetryBackoffMaxMs = 15000
	}
	if cfg.MapFetch.MaxPngBytes <= 0 {
		cfg.MapFetch.MaxPngBytes = 200 * 1024
	}
	if cfg.MapFetch.TimeoutSec <= 0 {
		cfg.MapFetch.TimeoutSec = 10
	}
	if cfg.MapFetch.ProviderURL == "" {
		return HostConfig{}, fmt.Errorf("map_fetch.provider_url is required")
	}

	if cfg.Writer.ImgQueueCapacity <= 0 {
		cfg.Writer.ImgQueueCapacity = 2
	}
	if cfg.Writer.MaxImgBytes <= 0 {
		cfg.Writer.MaxImgBytes = 128 * 1024
	}

	return cfg, nil
}

// LoadDevice reads and validates a devicehud configuration file.
func LoadDevice(path string) (DeviceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg DeviceConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return DeviceConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Transport.Device == "" {
		return DeviceConfig{}, fmt.Errorf("transport.device is required")
	}
	if cfg.Transport.Baud <= 0 {
		cfg.Transport.Baud = 115200
	}

	if cfg.Router.ReadChunk <= 0 {
		cfg.Router.ReadChunk = 256
	}

	if cfg.Imgf.MaxPngBytes <= 0 {
		cfg.Imgf.MaxPngBytes = 128 * 1024
	}
	switch cfg.Imgf.DropPolicy {
	case "", "old":
		cfg.Imgf.DropPolicy = "old"
	case "new":
	default:
		return DeviceConfig{}, fmt.Errorf("imgf.drop_policy must be 'old' or 'new', got %q", cfg.Imgf.DropPolicy)
	}

	if cfg.Msgf.MaxMsgBytes <= 0 {
		cfg.Msgf.MaxMsgBytes = 64
	}
	if cfg.Msgf.QueueDepth <= 0 {
		cfg.Msgf.QueueDepth = 8
	}

	return cfg, nil
}
