package workpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(context.Background(), 2)

	var active, maxActive atomic.Int32
	const tasks = 8

	for i := 0; i < tasks; i++ {
		err := p.Submit(func(ctx context.Context) error {
			n := active.Add(1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := maxActive.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", got)
	}
}

func TestWaitReturnsFirstError(t *testing.T) {
	p := New(context.Background(), 4)
	wantErr := fmt.Errorf("boom")

	if err := p.Submit(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := p.Submit(func(ctx context.Context) error { return wantErr }); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := p.Wait(); err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestSubmitCancelsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(ctx, 1)
	if err := p.Submit(func(ctx context.Context) error { return nil }); err == nil {
		t.Fatalf("expected Submit to fail against a cancelled context")
	}
}
