package frame

import (
	"bytes"
	"hash/crc32"
	"testing"
)

func TestEncodeHeaderRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	for _, enableCRC := range []bool{false, true} {
		buf := Encode(MSGF, payload, 42, enableCRC)
		h, got, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if h.Magic != MSGF {
			t.Fatalf("magic mismatch: got %08X", h.Magic)
		}
		if h.Len != uint32(len(payload)) {
			t.Fatalf("len mismatch: got %d want %d", h.Len, len(payload))
		}
		if h.Seq != 42 {
			t.Fatalf("seq mismatch: got %d", h.Seq)
		}
		wantCRC := uint32(0)
		if enableCRC {
			wantCRC = crc32.ChecksumIEEE(payload)
		}
		if h.CRC32 != wantCRC {
			t.Fatalf("crc mismatch: got %08X want %08X", h.CRC32, wantCRC)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch: got % X want % X", got, payload)
		}
	}
}

// TestGoldenSnapshotFrame implements scenario S1 from the spec: a fully
// populated MSGF snapshot frame with CRC disabled.
func TestGoldenSnapshotFrame(t *testing.T) {
	snap := VehicleSnapshot{
		SpeedKmh:       80,
		RpmEngine:      1800,
		OdoM:           123456,
		TripOdoM:       789,
		OutsideTempDC:  -5,
		InsideTempDC:   220,
		BatteryMv:      12800,
		CurrentTimeMin: 754,
		TripTimeMin:    42,
		FuelLeftDl:     35,
		FuelTotalDl:    450,
	}
	payload := EncodeSnapshotPayload(snap)
	buf := Encode(MSGF, payload, 7, false)

	if got, want := buf[0:4], []byte{0x4D, 0x53, 0x47, 0x46}; !bytes.Equal(got, want) {
		t.Fatalf("magic bytes: got % X want % X", got, want)
	}
	if got, want := buf[8:12], []byte{0x1B, 0x00, 0x00, 0x00}; !bytes.Equal(got, want) {
		t.Fatalf("len bytes: got % X want % X", got, want)
	}
	if got, want := buf[12:16], []byte{0x00, 0x00, 0x00, 0x00}; !bytes.Equal(got, want) {
		t.Fatalf("crc bytes: got % X want % X", got, want)
	}
	if got, want := buf[16:20], []byte{0x07, 0x00, 0x00, 0x00}; !bytes.Equal(got, want) {
		t.Fatalf("seq bytes: got % X want % X", got, want)
	}
	if buf[20] != 0x00 {
		t.Fatalf("command byte: got %02X want 00", buf[20])
	}
	if got, want := buf[21:23], []byte{0x50, 0x00}; !bytes.Equal(got, want) {
		t.Fatalf("speed bytes: got % X want % X", got, want)
	}

	decoded, err := DecodeSnapshotPayload(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != snap {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, snap)
	}
}

// TestGoldenRebootFrame implements scenario S2 from the spec.
func TestGoldenRebootFrame(t *testing.T) {
	buf := Encode(MSGF, EncodeRebootPayload(), 1, false)
	if len(buf) != HeaderSize+1 {
		t.Fatalf("frame length: got %d want %d", len(buf), HeaderSize+1)
	}
	if buf[len(buf)-1] != 0x01 {
		t.Fatalf("payload byte: got %02X want 01", buf[len(buf)-1])
	}
}

func TestSnapshotClamping(t *testing.T) {
	snap := VehicleSnapshot{
		SpeedKmh:       100000,
		RpmEngine:      -100000,
		OdoM:           1 << 40,
		TripOdoM:       -(1 << 40),
		CurrentTimeMin: 5000,
		TripTimeMin:    -10,
		FuelLeftDl:     -5,
		FuelTotalDl:    1 << 20,
	}
	payload := EncodeSnapshotPayload(snap)
	decoded, err := DecodeSnapshotPayload(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SpeedKmh != 32767 {
		t.Fatalf("speed clamp: got %d", decoded.SpeedKmh)
	}
	if decoded.RpmEngine != -32768 {
		t.Fatalf("rpm clamp: got %d", decoded.RpmEngine)
	}
	if decoded.CurrentTimeMin != 1439 {
		t.Fatalf("cur_min clamp: got %d", decoded.CurrentTimeMin)
	}
	if decoded.TripTimeMin != 0 {
		t.Fatalf("trip_min clamp: got %d", decoded.TripTimeMin)
	}
	if decoded.FuelLeftDl != 0 {
		t.Fatalf("fuel_left clamp: got %d", decoded.FuelLeftDl)
	}
	if decoded.FuelTotalDl != 65535 {
		t.Fatalf("fuel_total clamp: got %d", decoded.FuelTotalDl)
	}
}

func TestCheckCRCZeroRule(t *testing.T) {
	payload := []byte{}
	// An empty payload's IEEE CRC-32 happens to be zero; the zero-CRC rule
	// must reject it rather than accept a coincidental match.
	if crc32.ChecksumIEEE(payload) != 0 {
		t.Fatalf("test assumption violated: empty payload CRC is not zero")
	}
	if CheckCRC(payload, 0) {
		t.Fatalf("zero header CRC must never validate")
	}
}
