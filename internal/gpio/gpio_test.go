package gpio

import (
	"errors"
	"testing"
)

func TestSinkWrite(t *testing.T) {
	relay := NewFakeRelay()
	sink := Sink{Relay: relay}

	for _, v := range []int{0, 1, 1, 0} {
		if err := sink.Write("ignored", v); err != nil {
			t.Fatalf("write %d: unexpected error: %v", v, err)
		}
	}

	want := []bool{false, true, true, false}
	if len(relay.States) != len(want) {
		t.Fatalf("states: got %v, want %v", relay.States, want)
	}
	for i := range want {
		if relay.States[i] != want[i] {
			t.Errorf("state %d: got %v, want %v", i, relay.States[i], want[i])
		}
	}
}

func TestSinkWriteError(t *testing.T) {
	relay := NewFakeRelay()
	relay.SetError = errors.New("simulated error")

	err := Sink{Relay: relay}.Write("", 1)
	if err == nil {
		t.Fatal("expected error to be returned")
	}
	if err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFakeRelayOn(t *testing.T) {
	f := NewFakeRelay()
	if f.On() {
		t.Error("should be off initially")
	}

	_ = f.Set(true)
	if !f.On() {
		t.Error("should be on after Set(true)")
	}

	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
	if f.On() {
		t.Error("should be off after Close()")
	}
}
