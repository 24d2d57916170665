package dispatch

import (
	"errors"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := New(4)
	var got []int
	for n := 1; n <= 3; n++ {
		n := n
		if err := q.Post(func() { got = append(got, n) }); err != nil {
			t.Fatalf("Post(%d) error = %v", n, err)
		}
	}

	if ran := q.Drain(); ran != 3 {
		t.Errorf("Drain() = %d, want 3", ran)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", got)
	}
}

func TestQueue_Full(t *testing.T) {
	t.Parallel()

	q := New(1)
	if err := q.Post(func() {}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if err := q.Post(func() {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Post() on full queue error = %v, want ErrQueueFull", err)
	}
}

func TestQueue_Closed(t *testing.T) {
	t.Parallel()

	q := New(2)
	ran := false
	if err := q.Post(func() { ran = true }); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	q.Close()
	q.Close()

	if err := q.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Post() after Close error = %v, want ErrClosed", err)
	}
	if q.Drain() != 1 || !ran {
		t.Error("callback queued before Close did not run")
	}
	if n := q.RunFor(10 * time.Millisecond); n != 0 {
		t.Errorf("RunFor() on drained closed queue = %d, want 0", n)
	}
}

func TestQueue_RunForWaitsForWork(t *testing.T) {
	t.Parallel()

	q := New(4)
	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Post(func() { close(done) })
	}()

	start := time.Now()
	n := q.RunFor(200 * time.Millisecond)
	elapsed := time.Since(start)

	if n != 1 {
		t.Errorf("RunFor() = %d, want 1", n)
	}
	select {
	case <-done:
	default:
		t.Error("posted callback did not run")
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("RunFor() returned after %v, want it to use the whole budget", elapsed)
	}
}

func TestQueue_RunForZeroBudget(t *testing.T) {
	t.Parallel()

	q := New(4)
	_ = q.Post(func() {})

	start := time.Now()
	if n := q.RunFor(0); n != 1 {
		t.Errorf("RunFor(0) = %d, want 1", n)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("RunFor(0) blocked")
	}
}
