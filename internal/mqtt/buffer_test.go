package mqtt

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func TestOutboxEmptyDrain(t *testing.T) {
	ob := newOutbox(10, zerolog.Nop())
	got := ob.drainAll()
	if got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestOutboxKeepsLatestPerTopic(t *testing.T) {
	ob := newOutbox(10, zerolog.Nop())
	for i := 0; i < 5; i++ {
		ob.push(bufferedMsg{topic: "out", payload: []byte{byte(i)}})
	}

	if ob.len() != 1 {
		t.Fatalf("expected 1 topic, got %d", ob.len())
	}
	got := ob.drainAll()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].payload[0] != 4 {
		t.Errorf("expected newest payload 4, got %d", got[0].payload[0])
	}

	// Second drain should be empty
	if got2 := ob.drainAll(); got2 != nil {
		t.Errorf("expected nil from second drain, got %d items", len(got2))
	}
}

func TestOutboxPreservesFirstQueuedOrder(t *testing.T) {
	ob := newOutbox(10, zerolog.Nop())
	ob.push(bufferedMsg{topic: "a", payload: []byte("1")})
	ob.push(bufferedMsg{topic: "b", payload: []byte("2")})
	ob.push(bufferedMsg{topic: "a", payload: []byte("3")})

	got := ob.drainAll()
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].topic != "a" || string(got[0].payload) != "3" {
		t.Errorf("item 0: got %s=%s, want a=3", got[0].topic, got[0].payload)
	}
	if got[1].topic != "b" || string(got[1].payload) != "2" {
		t.Errorf("item 1: got %s=%s, want b=2", got[1].topic, got[1].payload)
	}
}

func TestOutboxOverflowDropsOldestTopic(t *testing.T) {
	capacity := 3
	ob := newOutbox(capacity, zerolog.Nop())

	for i := 0; i < capacity+2; i++ {
		ob.push(bufferedMsg{topic: fmt.Sprintf("t%d", i)})
	}

	got := ob.drainAll()
	if len(got) != capacity {
		t.Fatalf("expected %d items, got %d", capacity, len(got))
	}
	for i, want := range []string{"t2", "t3", "t4"} {
		if got[i].topic != want {
			t.Errorf("item %d: got %s, want %s", i, got[i].topic, want)
		}
	}
	if ob.overflow {
		t.Error("overflow flag should reset after drain")
	}
}

func TestOutboxZeroCapacityDropsEverything(t *testing.T) {
	ob := newOutbox(0, zerolog.Nop())
	ob.push(bufferedMsg{topic: "a"})
	if ob.len() != 0 {
		t.Errorf("expected empty outbox, got %d", ob.len())
	}
}

func TestOutboxPreservesFlags(t *testing.T) {
	ob := newOutbox(2, zerolog.Nop())
	ob.push(bufferedMsg{topic: "a", payload: []byte("1"), qos: 1, retained: true})

	got := ob.drainAll()
	if got[0].qos != 1 || !got[0].retained {
		t.Errorf("flags lost: qos=%d retained=%v", got[0].qos, got[0].retained)
	}
}
