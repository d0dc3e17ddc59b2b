package clock

import (
	"testing"
	"time"
)

func TestSystemIsUTC(t *testing.T) {
	now := System{}.Now()
	if now.Location() != time.UTC {
		t.Errorf("System.Now() location = %v, want UTC", now.Location())
	}
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}

	got := c.Advance(15 * time.Minute)
	want := start.Add(15 * time.Minute)
	if !got.Equal(want) || !c.Now().Equal(want) {
		t.Errorf("Advance() = %v, want %v", got, want)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Set() did not move clock back, got %v", c.Now())
	}
}
