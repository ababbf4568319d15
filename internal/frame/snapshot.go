package frame

import (
	"encoding/binary"
	"fmt"
)

// VehicleSnapshot is the fixed-shape record of the latest vehicle field
// values, mirrored on the wire by the MSGF snapshot payload.
type VehicleSnapshot struct {
	SpeedKmh       int // km/h
	RpmEngine      int
	OdoM           int // meters
	TripOdoM       int // meters
	OutsideTempDC  int // tenths of a degree C
	InsideTempDC   int // tenths of a degree C
	BatteryMv      int // millivolts
	CurrentTimeMin int // minutes, [0, 1439]
	TripTimeMin    int
	FuelLeftDl     int // tenths of a litre
	FuelTotalDl    int // tenths of a litre
}

// Snapshot command bytes.
const (
	CmdSnapshot byte = 0x00
	CmdReboot   byte = 0x01
)

// snapshotBodySize is the fixed byte length of the snapshot fields that
// follow the command byte.
const snapshotBodySize = 26

// EncodeSnapshotPayload builds the MSGF snapshot payload: a leading command
// byte followed by the 26-byte little-endian field layout from the wire
// format. Every fixed-width field is saturating-clamped to its declared
// range before being written.
func EncodeSnapshotPayload(s VehicleSnapshot) []byte {
	out := make([]byte, 1+snapshotBodySize)
	out[0] = CmdSnapshot

	b := out[1:]
	putI16(b[0:2], s.SpeedKmh)
	putI16(b[2:4], s.RpmEngine)
	putI32(b[4:8], s.OdoM)
	putI32(b[8:12], s.TripOdoM)
	putI16(b[12:14], s.OutsideTempDC)
	putI16(b[14:16], s.InsideTempDC)
	putI16(b[16:18], s.BatteryMv)
	putU16(b[18:20], clampU16(clampRange(s.CurrentTimeMin, 0, 1439)))
	putU16(b[20:22], clampU16(s.TripTimeMin))
	putU16(b[22:24], clampU16(s.FuelLeftDl))
	putU16(b[24:26], clampU16(s.FuelTotalDl))
	return out
}

// EncodeRebootPayload builds the MSGF reboot command payload: the single
// command byte with no further bytes.
func EncodeRebootPayload() []byte {
	return []byte{CmdReboot}
}

// DecodeSnapshotPayload parses an MSGF snapshot payload (command byte plus
// 26 body bytes) back into a VehicleSnapshot. It does not itself check the
// command byte; callers dispatch on payload[0] first.
func DecodeSnapshotPayload(payload []byte) (VehicleSnapshot, error) {
	if len(payload) < 1+snapshotBodySize {
		return VehicleSnapshot{}, fmt.Errorf("frame: snapshot payload too short: have %d bytes, need %d", len(payload), 1+snapshotBodySize)
	}
	b := payload[1:]
	return VehicleSnapshot{
		SpeedKmh:       int(int16(binary.LittleEndian.Uint16(b[0:2]))),
		RpmEngine:      int(int16(binary.LittleEndian.Uint16(b[2:4]))),
		OdoM:           int(int32(binary.LittleEndian.Uint32(b[4:8]))),
		TripOdoM:       int(int32(binary.LittleEndian.Uint32(b[8:12]))),
		OutsideTempDC:  int(int16(binary.LittleEndian.Uint16(b[12:14]))),
		InsideTempDC:   int(int16(binary.LittleEndian.Uint16(b[14:16]))),
		BatteryMv:      int(int16(binary.LittleEndian.Uint16(b[16:18]))),
		CurrentTimeMin: int(binary.LittleEndian.Uint16(b[18:20])),
		TripTimeMin:    int(binary.LittleEndian.Uint16(b[20:22])),
		FuelLeftDl:     int(binary.LittleEndian.Uint16(b[22:24])),
		FuelTotalDl:    int(binary.LittleEndian.Uint16(b[24:26])),
	}, nil
}

func putI16(dst []byte, v int) {
	v = clampRange(v, -32768, 32767)
	binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
}

func putI32(dst []byte, v int) {
	v = clampRange(v, -2147483648, 2147483647)
	binary.LittleEndian.PutUint32(dst, uint32(int32(v)))
}

func putU16(dst []byte, v uint16) {
	binary.LittleEndian.PutUint16(dst, v)
}

func clampRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU16(v int) uint16 {
	v = clampRange(v, 0, 65535)
	return uint16(v)
}
