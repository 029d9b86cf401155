package world

import (
	"fmt"
	"testing"
)

func TestDedupWindowSeen(t *testing.T) {
	w := NewDedupWindow()
	if w.Seen("m-1") {
		t.Fatalf("unexpected hit before mark")
	}
	w.Mark("m-1")
	if !w.Seen("m-1") {
		t.Fatalf("expected hit after mark")
	}
	w.Mark("")
	if w.Len() != 1 {
		t.Fatalf("empty id should not be tracked, len=%d", w.Len())
	}
}

func TestDedupWindowCollapseKeepsRecent(t *testing.T) {
	w := newDedupWindow(100, 50)
	for i := 0; i < 101; i++ {
		w.Mark(fmt.Sprintf("m-%03d", i))
	}
	if w.Len() != 50 {
		t.Fatalf("expected 50 survivors after collapse, got %d", w.Len())
	}
	if w.Seen("m-000") {
		t.Fatalf("oldest id survived collapse")
	}
	for i := 51; i <= 100; i++ {
		if !w.Seen(fmt.Sprintf("m-%03d", i)) {
			t.Fatalf("recent id m-%03d evicted", i)
		}
	}
}

func TestDedupWindowRemarkRefreshesRecency(t *testing.T) {
	w := newDedupWindow(10, 5)
	for i := 0; i < 10; i++ {
		w.Mark(fmt.Sprintf("m-%02d", i))
	}
	// Refresh the oldest entry, then overflow to force a collapse.
	w.Mark("m-00")
	w.Mark("m-10")
	if w.Len() != 5 {
		t.Fatalf("expected 5 survivors, got %d", w.Len())
	}
	if !w.Seen("m-00") {
		t.Fatalf("refreshed id should survive collapse")
	}
	if w.Seen("m-01") {
		t.Fatalf("stale id should be evicted")
	}
}
