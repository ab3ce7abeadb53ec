package ratelimit

import (
	"testing"
	"time"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	r := RateLimit{BackoffStart: time.Second, BackoffCap: 10 * time.Second}
	d0 := r.BackoffDelay(0)
	d1 := r.BackoffDelay(1)
	d5 := r.BackoffDelay(5)

	if d0 != time.Second {
		t.Errorf("BackoffDelay(0) = %v, want %v", d0, time.Second)
	}
	if d1 != 2*time.Second {
		t.Errorf("BackoffDelay(1) = %v, want %v", d1, 2*time.Second)
	}
	if d5 != 10*time.Second {
		t.Errorf("BackoffDelay(5) = %v, want capped at %v", d5, 10*time.Second)
	}
}

func TestBackoffDelayAppliesJitter(t *testing.T) {
	r := RateLimit{BackoffStart: 10 * time.Second, BackoffCap: time.Hour, Jitter: 0.5}
	for i := 0; i < 20; i++ {
		d := r.BackoffDelay(0)
		if d < 5*time.Second || d > 15*time.Second {
			t.Fatalf("BackoffDelay with jitter=0.5 out of range: %v", d)
		}
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	if p.BackoffLimit != 6 {
		t.Errorf("BackoffLimit = %d, want 6", p.BackoffLimit)
	}
	if p.BackoffStart != 30*time.Second {
		t.Errorf("BackoffStart = %v, want 30s", p.BackoffStart)
	}
	if p.BackoffCap != time.Hour {
		t.Errorf("BackoffCap = %v, want 1h", p.BackoffCap)
	}
}
