package containers

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](3)
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Dequeue on empty = %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatal(err)
		}
	}
	if err := rq.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full = %v", err)
	}
	if v, _ := rq.Peek(); v != 1 {
		t.Errorf("Peek = %d", v)
	}
	for want := 1; want <= 3; want++ {
		if v, err := rq.Dequeue(); err != nil || v != want {
			t.Fatalf("Dequeue = %d, %v; want %d", v, err, want)
		}
	}
}

func TestRingQueuePushOverwritesOldest(t *testing.T) {
	rq := NewRingQueue[int](3)
	for i := 1; i <= 5; i++ {
		rq.Push(i)
	}
	var got []int
	rq.Each(func(v int) { got = append(got, v) })
	if len(got) != 3 || got[0] != 3 || got[1] != 4 || got[2] != 5 {
		t.Fatalf("contents = %v, want [3 4 5]", got)
	}
	if rq.Len() != 3 {
		t.Errorf("Len = %d", rq.Len())
	}
}
