package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobSkipsOverlappingRun(t *testing.T) {
	var active, maxActive, runs int32
	release := make(chan struct{})

	j := &job{
		name: "test",
		ctx:  context.Background(),
		fn: func(context.Context) error {
			cur := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
					break
				}
			}
			atomic.AddInt32(&runs, 1)
			<-release
			atomic.AddInt32(&active, -1)
			return nil
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Run()
		}()
	}

	// Let the goroutines race for the guard, then release the one winner.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("max concurrent runs = %d, expected 1", got)
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Errorf("executed runs = %d, expected 1 (overlaps skipped)", got)
	}
}

func TestJobRunsAgainAfterCompletion(t *testing.T) {
	var runs int32
	j := &job{
		name: "test",
		ctx:  context.Background(),
		fn: func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}

	j.Run()
	j.Run()
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Errorf("sequential runs = %d, expected 2", got)
	}
}

func TestCadenceSpec(t *testing.T) {
	tests := []struct {
		hours int
		want  string
	}{
		{4, "0 */4 * * *"},
		{1, "0 */1 * * *"},
		{0, "0 */1 * * *"}, // clamped
	}
	for _, tt := range tests {
		if got := CadenceSpec(tt.hours); got != tt.want {
			t.Errorf("CadenceSpec(%d) = %q, expected %q", tt.hours, got, tt.want)
		}
	}
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := New(context.Background())
	if err := s.AddJob("bad", "not a cron spec", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid cron spec")
	}
	if err := s.AddJob("good", "0 3 * * *", func(context.Context) error { return nil }); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}
}
