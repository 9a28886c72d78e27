package daemon

import (
	"sync"
	"testing"
)

func TestOffsets(t *testing.T) {
	o := NewOffsets()

	if got := o.Get("/a.jsonl"); got != 0 {
		t.Errorf("Get() on unknown path = %d, want 0", got)
	}

	if got := o.Advance("/a.jsonl", 3); got != 3 {
		t.Errorf("Advance(3) = %d, want 3", got)
	}
	if got := o.Advance("/a.jsonl", 1); got != 3 {
		t.Errorf("Advance(1) after 3 = %d, want 3 (cursor must not move back)", got)
	}
	if got := o.Advance("/b.jsonl", 2); got != 2 {
		t.Errorf("Advance(2) on second file = %d, want 2", got)
	}

	if got := o.Get("/a.jsonl"); got != 3 {
		t.Errorf("Get() = %d, want 3", got)
	}
	if got := o.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestOffsets_Concurrent(t *testing.T) {
	o := NewOffsets()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			o.Advance("/a.jsonl", n)
		}(i)
	}
	wg.Wait()

	if got := o.Get("/a.jsonl"); got != 50 {
		t.Errorf("Get() = %d, want 50", got)
	}
}
