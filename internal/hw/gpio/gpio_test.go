package gpio

import "testing"

func TestNewDriver_Mock(t *testing.T) {
	drv, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(mock): %v", err)
	}
	if _, ok := drv.(*MockDriver); !ok {
		t.Fatalf("expected *MockDriver, got %T", drv)
	}
}

func TestMockDriver_RemembersLevel(t *testing.T) {
	drv := &MockDriver{}
	if err := drv.SetupPin(17, Output); err != nil {
		t.Fatal(err)
	}
	if got := drv.LevelOf(17); got != Low {
		t.Errorf("initial level = %v, want Low", got)
	}
	_ = drv.WritePin(17, High)
	if got := drv.LevelOf(17); got != High {
		t.Errorf("level after write = %v, want High", got)
	}
	_ = drv.WritePin(17, Low)
	if got := drv.LevelOf(17); got != Low {
		t.Errorf("level after second write = %v, want Low", got)
	}
	if err := drv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
