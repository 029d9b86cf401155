package ws

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := newRateLimiter(50, 10*time.Second)
	now := time.Now()
	for i := 0; i < 50; i++ {
		if !rl.Allow(now) {
			t.Fatalf("command %d rejected under the limit", i+1)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("51st command within the window should be rejected")
	}
}

func TestRateLimiterRejectionsAreNotRecorded(t *testing.T) {
	rl := newRateLimiter(2, 10*time.Second)
	now := time.Now()
	rl.Allow(now)
	rl.Allow(now)
	for i := 0; i < 5; i++ {
		rl.Allow(now)
	}
	// Rejected commands never extend the window, so both slots free up
	// together when the original two expire.
	later := now.Add(10*time.Second + time.Millisecond)
	if !rl.Allow(later) {
		t.Fatalf("window should have expired")
	}
	if !rl.Allow(later) {
		t.Fatalf("second slot should be free too")
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := newRateLimiter(2, time.Second)
	now := time.Now()
	if !rl.Allow(now) || !rl.Allow(now.Add(600*time.Millisecond)) {
		t.Fatalf("setup sends should pass")
	}
	if rl.Allow(now.Add(900 * time.Millisecond)) {
		t.Fatalf("both events still inside the window")
	}
	if !rl.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("first event expired, one slot should be free")
	}
}
