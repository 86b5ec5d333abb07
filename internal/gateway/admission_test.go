package gateway

import (
	"sync"
	"testing"
)

func TestLimiterCapsConcurrency(t *testing.T) {
	l := NewLimiter(2)

	if !l.Acquire() || !l.Acquire() {
		t.Fatal("Expected acquisitions up to the cap to succeed")
	}
	if l.Acquire() {
		t.Error("Expected acquisition beyond the cap to fail")
	}
	if l.Current() != 2 {
		t.Errorf("Expected 2 in-flight, got %d", l.Current())
	}

	l.Release()
	if !l.Acquire() {
		t.Error("Expected acquisition to succeed after release")
	}
}

func TestLimiterNeverExceedsCapUnderContention(t *testing.T) {
	const maxInFlight = 10
	l := NewLimiter(maxInFlight)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if l.Acquire() {
					if current := l.Current(); current > maxInFlight {
						t.Errorf("In-flight count %d exceeds cap %d", current, maxInFlight)
					}
					l.Release()
				}
			}
		}()
	}
	wg.Wait()

	if l.Current() != 0 {
		t.Errorf("Expected 0 in-flight after all releases, got %d", l.Current())
	}
}

func TestLimiterDrainStopsAdmission(t *testing.T) {
	l := NewLimiter(5)

	if !l.Acquire() {
		t.Fatal("Expected acquisition before drain")
	}

	l.Drain()

	if l.Acquire() {
		t.Error("Expected acquisition to fail while draining")
	}
	if l.Current() != 1 {
		t.Errorf("Expected in-flight request to survive drain, got %d", l.Current())
	}
}
