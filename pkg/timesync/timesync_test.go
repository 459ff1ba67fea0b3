package timesync

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEstimateBeforePublish(t *testing.T) {
	s := New(1000)
	if got := s.Estimate(2500); got != 2.5 {
		t.Fatalf("Estimate() = %v, want 2.5", got)
	}
	if _, ok := s.Load(); ok {
		t.Fatal("Load() ok before Publish")
	}
}

func TestEstimateExtrapolates(t *testing.T) {
	s := New(1000)
	s.Publish(10_000, 3.0)

	cases := []struct {
		tick int64
		want float64
	}{
		{10_000, 3.0},
		{10_500, 3.5},
		{9_000, 2.0},
	}
	for _, c := range cases {
		if got := s.Estimate(c.tick); got != c.want {
			t.Errorf("Estimate(%d) = %v, want %v", c.tick, got, c.want)
		}
	}

	a, ok := s.Load()
	if !ok || a.Seq != 1 {
		t.Fatalf("Load() = %+v, %v", a, ok)
	}
}

func TestNonPositiveFrequency(t *testing.T) {
	s := New(0)
	if s.Frequency() != int64(time.Second) {
		t.Fatalf("Frequency() = %d", s.Frequency())
	}
}

// The writer always publishes pairs with simTime == tick/2, so any reader
// that sees a mismatching pair observed a torn anchor.
func TestNoTornReads(t *testing.T) {
	s := New(1)
	var stop atomic.Bool
	var torn atomic.Int64
	var wg sync.WaitGroup

	for range 4 {
		wg.Go(func() {
			for !stop.Load() {
				a, ok := s.Load()
				if ok && a.SimTime != float64(a.Tick)/2 {
					torn.Add(1)
				}
				if rand.IntN(64) == 0 {
					time.Sleep(time.Microsecond)
				}
			}
		})
	}

	for i := int64(1); i <= 200_000; i++ {
		tick := rand.Int64N(1 << 40)
		s.Publish(tick, float64(tick)/2)
		if i%1024 == 0 {
			time.Sleep(time.Duration(rand.IntN(20)) * time.Microsecond)
		}
	}
	stop.Store(true)
	wg.Wait()

	if n := torn.Load(); n != 0 {
		t.Fatalf("observed %d torn anchors", n)
	}
}

func TestMonotonicClock(t *testing.T) {
	c := NewMonotonicClock()
	a := c.Now()
	time.Sleep(time.Millisecond)
	b := c.Now()
	if b <= a {
		t.Fatalf("clock not monotonic: %d then %d", a, b)
	}
	if c.Frequency() != int64(time.Second) {
		t.Fatalf("Frequency() = %d", c.Frequency())
	}
}
