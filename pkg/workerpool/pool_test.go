package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsAllTasksUnderCapacity(t *testing.T) {
	p := New(16, 4)
	var count int64
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}
	waitOrTimeout(t, &wg, time.Second)
	if atomic.LoadInt64(&count) != 10 {
		t.Fatalf("count = %d, want 10", count)
	}
}

func TestSubmitDropsOldestWhenFull(t *testing.T) {
	p := New(2, 0) // New turns 0 into the default worker ceiling; reset below
	p.mu.Lock()
	p.maxWorkers = 0 // 0 workers: nothing drains, queue fills deterministically
	p.mu.Unlock()

	p.Submit(func() {})
	p.Submit(func() {})
	p.Submit(func() {}) // queue at capacity 2: should drop the oldest entry

	p.mu.Lock()
	depth := p.count
	p.mu.Unlock()
	if depth != 2 {
		t.Fatalf("queue depth = %d, want 2", depth)
	}
}

func TestSubmitRingIndexWrapsWithoutGrowingBackingArray(t *testing.T) {
	p := New(2, 0)
	p.mu.Lock()
	p.maxWorkers = 0
	p.mu.Unlock()

	// Push well past capacity so head/tail wrap around the fixed-size array
	// several times; the backing array must never be reallocated.
	for i := 0; i < 10; i++ {
		p.Submit(func() {})
	}

	p.mu.Lock()
	backingLen := len(p.queue)
	depth := p.count
	p.mu.Unlock()
	if backingLen != 2 {
		t.Fatalf("backing array len = %d, want it to stay fixed at capacity 2", backingLen)
	}
	if depth != 2 {
		t.Fatalf("queue depth = %d, want 2", depth)
	}
}

func TestPanicInTaskDoesNotStopPool(t *testing.T) {
	p := New(16, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() { panic("boom") })
	p.Submit(func() { wg.Done() })
	waitOrTimeout(t, &wg, time.Second)
}

func TestDrainStopsAcceptingWork(t *testing.T) {
	p := New(16, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Drain(ctx)

	var ran bool
	p.Submit(func() { ran = true })
	time.Sleep(20 * time.Millisecond)
	if ran {
		t.Fatal("task submitted after Drain should not run")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
