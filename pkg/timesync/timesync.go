// Package timesync maps a monotonic tick counter onto the simulation time of
// the thread that owns the session.
//
// A single owner calls Publish once per frame. Any number of goroutines may
// call Estimate concurrently without taking a lock: the anchor is guarded by
// a version counter (seqlock). The counter is odd while a write is in
// progress and readers retry until they observe the same even version before
// and after reading the anchor fields.
package timesync

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"
)

// Clock is a monotonic high resolution tick source.
type Clock interface {
	// Now returns the current tick.
	Now() int64
	// Frequency returns ticks per second.
	Frequency() int64
}

// MonotonicClock counts nanoseconds since it was created, using the
// monotonic reading carried by time.Time.
type MonotonicClock struct {
	start time.Time
}

var _ Clock = (*MonotonicClock)(nil)

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) Now() int64 { return int64(time.Since(c.start)) }

func (c *MonotonicClock) Frequency() int64 { return int64(time.Second) }

// Anchor is a published (tick, simTime) pair.
type Anchor struct {
	Tick    int64
	SimTime float64
	// Seq counts publications, 0 means nothing was published yet.
	Seq uint64
}

// Sync is the lock-free tick → simulation time mapping.
type Sync struct {
	frequency float64

	version atomic.Uint64
	tick    atomic.Int64
	simBits atomic.Uint64
}

// New creates a Sync for a clock running at frequency ticks per second.
// A non-positive frequency falls back to nanoseconds.
func New(frequency int64) *Sync {
	if frequency <= 0 {
		frequency = int64(time.Second)
	}
	return &Sync{frequency: float64(frequency)}
}

// Frequency returns the tick frequency the estimates are scaled with.
func (s *Sync) Frequency() int64 { return int64(s.frequency) }

// Publish stores a new anchor. Only the owning goroutine may call it.
func (s *Sync) Publish(tick int64, simTime float64) {
	s.version.Add(1)
	s.tick.Store(tick)
	s.simBits.Store(math.Float64bits(simTime))
	s.version.Add(1)
}

// Load returns the latest consistent anchor. ok is false until the first
// Publish.
func (s *Sync) Load() (a Anchor, ok bool) {
	for {
		v1 := s.version.Load()
		if v1&1 == 1 {
			runtime.Gosched()
			continue
		}
		tick := s.tick.Load()
		sim := math.Float64frombits(s.simBits.Load())
		if s.version.Load() != v1 {
			continue
		}
		return Anchor{Tick: tick, SimTime: sim, Seq: v1 / 2}, v1 != 0
	}
}

// Estimate returns the owner's simulation time at tick, extrapolated
// linearly from the latest anchor. Before the first Publish the tick is
// converted to seconds as is.
func (s *Sync) Estimate(tick int64) float64 {
	a, ok := s.Load()
	if !ok {
		return float64(tick) / s.frequency
	}
	return a.SimTime + float64(tick-a.Tick)/s.frequency
}
