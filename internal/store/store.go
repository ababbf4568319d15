// Package store implements the host's thread-safe State Store: the latest
// VehicleSnapshot values plus a dirty bit, serialized under a single mutex.
package store

import (
	"sync"

	"hudlink/internal/frame"
)

// Field identifies a single VehicleSnapshot field for setField.
type Field int

const (
	FieldSpeedKmh Field = iota
	FieldRpmEngine
	FieldOdoM
	FieldTripOdoM
	FieldOutsideTempDC
	FieldInsideTempDC
	FieldBatteryMv
	FieldCurrentTimeMin
	FieldTripTimeMin
	FieldFuelLeftDl
	FieldFuelTotalDl
)

// defaultBatteryMv avoids reporting an implausible zero battery voltage at
// boot, before the first real reading arrives.
const defaultBatteryMv = 12000

// Store holds the latest VehicleSnapshot and a dirty flag behind one mutex.
type Store struct {
	mu    sync.Mutex
	snap  frame.VehicleSnapshot
	dirty bool
}

// New returns a Store with every field zeroed except BatteryMv, which
// defaults to 12000 mV.
func New() *Store {
	return &Store{
		snap: frame.VehicleSnapshot{BatteryMv: defaultBatteryMv},
	}
}

// SetField stores v into the named field if it differs from the current
// value, and marks the store dirty. Writing the same value repeatedly never
// sets dirty.
func (s *Store) SetField(f Field, v int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch f {
	case FieldSpeedKmh:
		s.setIfChanged(&s.snap.SpeedKmh, v)
	case FieldRpmEngine:
		s.setIfChanged(&s.snap.RpmEngine, v)
	case FieldOdoM:
		s.setIfChanged(&s.snap.OdoM, v)
	case FieldTripOdoM:
		s.setIfChanged(&s.snap.TripOdoM, v)
	case FieldOutsideTempDC:
		s.setIfChanged(&s.snap.OutsideTempDC, v)
	case FieldInsideTempDC:
		s.setIfChanged(&s.snap.InsideTempDC, v)
	case FieldBatteryMv:
		s.setIfChanged(&s.snap.BatteryMv, v)
	case FieldCurrentTimeMin:
		s.setIfChanged(&s.snap.CurrentTimeMin, v)
	case FieldTripTimeMin:
		s.setIfChanged(&s.snap.TripTimeMin, v)
	case FieldFuelLeftDl:
		s.setIfChanged(&s.snap.FuelLeftDl, v)
	case FieldFuelTotalDl:
		s.setIfChanged(&s.snap.FuelTotalDl, v)
	}
}

func (s *Store) setIfChanged(dst *int, v int) {
	if *dst == v {
		return
	}
	*dst = v
	s.dirty = true
}

// UpdateSnapshot overwrites every field and unconditionally marks the store
// dirty, even if the new values are identical to the old ones.
func (s *Store) UpdateSnapshot(v frame.VehicleSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = v
	s.dirty = true
}

// Snapshot atomically copies the current values and reports whether the
// dirty bit was set, clearing it in the same critical section.
func (s *Store) Snapshot() (frame.VehicleSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasDirty := s.dirty
	s.dirty = false
	return s.snap, wasDirty
}
