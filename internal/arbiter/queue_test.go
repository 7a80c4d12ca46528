package arbiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkowalik/go-can-arbiter/internal/can"
)

func stdFrame(t *testing.T, id uint16, payload ...byte) can.Frame {
	t.Helper()
	d, err := can.NewData(payload)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	return can.NewDataFrame(can.MustStandard(id), d)
}

func popNow(t *testing.T, q *Queue) can.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	return f
}

func TestQueue_PopsInArbitrationOrder(t *testing.T) {
	q := New(16, Reject)
	low := stdFrame(t, 0x7FF)
	mid := stdFrame(t, 0x123)
	high := stdFrame(t, 0x000)
	for _, f := range []can.Frame{low, mid, high} {
		if err := q.Push(f); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	for i, want := range []can.Frame{high, mid, low} {
		if got := popNow(t, q); got != want {
			t.Fatalf("pop %d: got %v, want %v", i, got, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained: %d", q.Len())
	}
}

func TestQueue_RemoteLosesToDataTwin(t *testing.T) {
	q := New(4, Reject)
	remote, err := can.NewRemoteFrame(can.MustStandard(0x100), 2)
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	data := stdFrame(t, 0x100, 0xAA, 0xBB)
	_ = q.Push(remote)
	_ = q.Push(data)
	if got := popNow(t, q); got != data {
		t.Fatalf("expected data frame first, got %v", got)
	}
	if got := popNow(t, q); got != remote {
		t.Fatalf("expected remote frame second, got %v", got)
	}
}

func TestQueue_FIFOAmongEqualPriorities(t *testing.T) {
	q := New(16, Reject)
	frames := []can.Frame{
		stdFrame(t, 0x100, 1),
		stdFrame(t, 0x100, 2),
		stdFrame(t, 0x100, 3),
	}
	for _, f := range frames {
		_ = q.Push(f)
	}
	for i, want := range frames {
		if got := popNow(t, q); got != want {
			t.Fatalf("pop %d: got %v, want %v", i, got, want)
		}
	}
}

func TestQueue_RejectPolicy(t *testing.T) {
	q := New(2, Reject)
	_ = q.Push(stdFrame(t, 0x1))
	_ = q.Push(stdFrame(t, 0x2))
	if err := q.Push(stdFrame(t, 0x0)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("reject changed depth: %d", q.Len())
	}
}

func TestQueue_DropLowestPolicy(t *testing.T) {
	q := New(2, DropLowest)
	keep := stdFrame(t, 0x010)
	evict := stdFrame(t, 0x7FF)
	_ = q.Push(keep)
	_ = q.Push(evict)

	// Higher priority than both admits by evicting the worst.
	urgent := stdFrame(t, 0x000)
	if err := q.Push(urgent); err != nil {
		t.Fatalf("push urgent: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("depth after eviction: %d", q.Len())
	}
	if got := popNow(t, q); got != urgent {
		t.Fatalf("expected urgent first, got %v", got)
	}
	if got := popNow(t, q); got != keep {
		t.Fatalf("expected keep second, got %v", got)
	}

	// A frame ranking last itself is refused.
	_ = q.Push(stdFrame(t, 0x100))
	_ = q.Push(stdFrame(t, 0x200))
	if err := q.Push(stdFrame(t, 0x700)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull for lowest-priority push, got %v", err)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := New(4, Reject)
	got := make(chan can.Frame, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f, err := q.Pop(ctx)
		if err == nil {
			got <- f
		}
	}()
	time.Sleep(20 * time.Millisecond)
	want := stdFrame(t, 0x42)
	_ = q.Push(want)
	select {
	case f := <-got:
		if f != want {
			t.Fatalf("got %v, want %v", f, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("pop did not wake on push")
	}
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := New(4, Reject)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestQueue_TryPop(t *testing.T) {
	q := New(4, Reject)
	if _, ok := q.TryPop(); ok {
		t.Fatalf("TryPop on empty queue returned a frame")
	}
	want := stdFrame(t, 0x37)
	_ = q.Push(want)
	got, ok := q.TryPop()
	if !ok || got != want {
		t.Fatalf("TryPop: got %v ok=%v", got, ok)
	}
}

func TestQueue_PumpDrains(t *testing.T) {
	q := New(16, Reject)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var sent []can.Frame
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Pump(ctx, func(f can.Frame) error {
			sent = append(sent, f)
			if len(sent) == 3 {
				cancel()
			}
			return nil
		}, nil)
	}()
	_ = q.Push(stdFrame(t, 0x300))
	_ = q.Push(stdFrame(t, 0x100))
	_ = q.Push(stdFrame(t, 0x200))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("pump did not drain")
	}
	if len(sent) != 3 {
		t.Fatalf("pumped %d frames", len(sent))
	}
}
