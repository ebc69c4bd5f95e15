package connection

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_BasicPushPop(t *testing.T) {
	q := NewQueue[int](10)

	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue returned true")
	}
}

func TestQueue_PeekDoesNotRemove(t *testing.T) {
	q := NewQueue[string](4)

	if _, ok := q.Peek(); ok {
		t.Error("Peek() on empty queue returned true")
	}

	q.Push("a")
	q.Push("b")

	for i := 0; i < 3; i++ {
		val, ok := q.Peek()
		if !ok || val != "a" {
			t.Fatalf("Peek() = %q, %v, want a, true", val, ok)
		}
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueue_GrowAt70Percent(t *testing.T) {
	q := NewQueue[int](10)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}

	for i := 0; i < 7; i++ {
		val, _ := q.Pop()
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
}

func TestQueue_GrowWhileWrapped(t *testing.T) {
	q := NewQueue[int](4)

	// Move head forward so the ring wraps before growing
	q.Push(0)
	q.Push(1)
	q.Pop()
	q.Pop()

	for i := 2; i < 50; i++ {
		q.Push(i)
	}

	items := q.Items()
	if len(items) != 48 {
		t.Fatalf("Items() len = %d, want 48", len(items))
	}
	for i, v := range items {
		if v != i+2 {
			t.Fatalf("items[%d] = %d, want %d", i, v, i+2)
		}
	}

	stats := q.Stats()
	if stats.TotalPushed != 50 || stats.TotalPopped != 2 {
		t.Errorf("stats = %+v, want 50 pushed, 2 popped", stats)
	}
}

func TestQueue_ReadyCoalesces(t *testing.T) {
	q := NewQueue[int](4)

	select {
	case <-q.Ready():
		t.Fatal("Ready() signalled before any push")
	default:
	}

	q.Push(1)
	q.Push(2)
	q.Push(3)

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready() not signalled after push")
	}

	select {
	case <-q.Ready():
		t.Fatal("Ready() signalled twice for one drain")
	default:
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := NewQueue[int](2)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	if q.Len() != 800 {
		t.Errorf("Len() = %d, want 800", q.Len())
	}
}

func TestQueue_SignalWithoutItem(t *testing.T) {
	q := NewQueue[int](4)

	q.Signal()
	q.Signal()

	select {
	case <-q.Ready():
	default:
		t.Fatal("Ready() not signalled after Signal()")
	}
	select {
	case <-q.Ready():
		t.Fatal("Signal() did not coalesce")
	default:
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}
