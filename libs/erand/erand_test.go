package erand

import (
	"testing"
	"time"
)

func TestIntRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := Int(30720)
		if v < 0 || v >= 30720 {
			t.Fatal("out of range", v)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	base := 200 * time.Millisecond
	for i := 0; i < 1000; i++ {
		d := Jitter(base, 0.1)
		if d < 180*time.Millisecond || d > 220*time.Millisecond {
			t.Fatal("jitter out of bounds", d)
		}
	}
	if Jitter(0, 0.1) != 0 {
		t.Fatal("zero duration must pass through")
	}
	if Jitter(base, 0) != base {
		t.Fatal("zero fraction must pass through")
	}
}
