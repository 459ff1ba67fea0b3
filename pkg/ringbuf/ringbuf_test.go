package ringbuf

import (
	"sync"
	"testing"
	"time"
)

func TestOverflowIsCountedNotBlocking(t *testing.T) {
	r := New[int](64)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 100 {
			r.TryPush(i)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked on a full ring")
	}

	got := r.Drain(nil)
	s := r.Stats()
	if uint64(len(got))+s.Dropped != 100 {
		t.Fatalf("written %d + dropped %d != 100", len(got), s.Dropped)
	}
	if len(got) != 64 || s.Dropped != 36 {
		t.Fatalf("written=%d dropped=%d", len(got), s.Dropped)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, oldest values must be kept", i, v)
		}
	}
}

func TestFIFOAcrossWrap(t *testing.T) {
	r := New[int](4)
	var out []int
	next := 0
	for range 10 {
		for range 3 {
			r.TryPush(next)
			next++
		}
		out = r.Drain(out)
	}
	for i, v := range out {
		if v != i {
			t.Fatalf("out[%d] = %d", i, v)
		}
	}
	if s := r.Stats(); s.Pushed != 30 || s.Popped != 30 || s.Dropped != 0 || s.Len != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	r := New[int](16)
	const total = 50_000
	var wg sync.WaitGroup
	stop := make(chan struct{})
	var consumed []int

	wg.Go(func() {
		buf := make([]int, 0, 16)
		for {
			select {
			case <-r.Notify():
			case <-stop:
				consumed = append(consumed, r.Drain(buf[:0])...)
				return
			}
			consumed = append(consumed, r.Drain(buf[:0])...)
		}
	})

	for i := range total {
		r.TryPush(i)
	}
	close(stop)
	wg.Wait()

	s := r.Stats()
	if uint64(len(consumed))+s.Dropped != total {
		t.Fatalf("consumed %d + dropped %d != %d", len(consumed), s.Dropped, total)
	}
	for i := 1; i < len(consumed); i++ {
		if consumed[i] <= consumed[i-1] {
			t.Fatalf("order broken at %d: %d after %d", i, consumed[i], consumed[i-1])
		}
	}
}

func TestMinimumCapacity(t *testing.T) {
	r := New[string](0)
	if r.Cap() != 1 {
		t.Fatalf("Cap() = %d", r.Cap())
	}
	if !r.TryPush("a") || r.TryPush("b") {
		t.Fatal("capacity 1 ring accepted wrong values")
	}
}
