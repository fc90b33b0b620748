package router

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFOAcrossGrowth(t *testing.T) {
	q := newQueue[int](2)

	// Force a wrapped ring before growing.
	q.push(0)
	q.push(1)
	if v, _ := q.pop(); v != 0 {
		t.Fatalf("pop() = %d, want 0", v)
	}
	for i := 2; i < 10; i++ {
		q.push(i)
	}

	for want := 1; want < 10; want++ {
		got, ok := q.pop()
		if !ok || got != want {
			t.Fatalf("pop() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if q.len() != 0 {
		t.Errorf("len() = %d, want 0", q.len())
	}
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := newQueue[string](0)
	q.push("a")
	q.close()

	if q.push("b") {
		t.Error("push after close should fail")
	}
	if v, ok := q.pop(); !ok || v != "a" {
		t.Errorf("pop() = %q, %v; want a, true", v, ok)
	}
	if _, ok := q.pop(); ok {
		t.Error("pop on closed empty queue should return false")
	}
}

func TestQueue_CloseUnblocksPop(t *testing.T) {
	q := newQueue[int](1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if _, ok := q.pop(); ok {
			t.Error("expected pop to report closed")
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock on close")
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := newQueue[int](1)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.push(i)
			}
		}()
	}
	wg.Wait()

	if q.len() != 1000 {
		t.Errorf("len() = %d, want 1000", q.len())
	}
}
