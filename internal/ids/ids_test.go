package ids

import (
	"testing"
	"time"
)

func TestNewIsOrdered(t *testing.T) {
	at := time.UnixMilli(1_800_000_000_000)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestTime(t *testing.T) {
	at := time.UnixMilli(1_800_000_000_123)
	got, err := Time(NewAt(at))
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("Time = %s, want %s", got, at)
	}
	if _, err := Time("not-a-ulid"); err == nil {
		t.Fatal("expected parse error")
	}
	if len(New()) != 26 {
		t.Fatal("unexpected id length")
	}
}
