package store

import "testing"

func TestNewDefaultsBattery(t *testing.T) {
	s := New()
	snap, dirty := s.Snapshot()
	if snap.BatteryMv != defaultBatteryMv {
		t.Fatalf("battery default: got %d want %d", snap.BatteryMv, defaultBatteryMv)
	}
	if dirty {
		t.Fatalf("fresh store should not be dirty")
	}
}

func TestSetFieldDedupesSameValue(t *testing.T) {
	s := New()
	s.SetField(FieldSpeedKmh, 50)
	if _, dirty := s.Snapshot(); !dirty {
		t.Fatalf("first write should set dirty")
	}
	if _, dirty := s.Snapshot(); dirty {
		t.Fatalf("snapshot should clear dirty")
	}

	s.SetField(FieldSpeedKmh, 50)
	if _, dirty := s.Snapshot(); dirty {
		t.Fatalf("repeating the same value must not set dirty")
	}

	s.SetField(FieldSpeedKmh, 51)
	if _, dirty := s.Snapshot(); !dirty {
		t.Fatalf("a changed value must set dirty")
	}
}

func TestUpdateSnapshotAlwaysDirty(t *testing.T) {
	s := New()
	s.Snapshot() // clear initial state
	snap, _ := s.Snapshot()
	s.UpdateSnapshot(snap) // identical values
	if _, dirty := s.Snapshot(); !dirty {
		t.Fatalf("updateSnapshot must unconditionally set dirty")
	}
}
