package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic triggers (strategy cadence, reconciliation,
// nightly analysis) on cron schedules. Each trigger is guarded against
// overlap: a run that overshoots its window completes, and the next firing
// of the same trigger is skipped rather than stacked.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		ctx:  ctx,
	}
}

// AddJob registers a named function on a cron spec.
func (s *Scheduler) AddJob(name, spec string, fn func(context.Context) error) error {
	j := &job{name: name, fn: fn, ctx: s.ctx}
	if _, err := s.cron.AddJob(spec, j); err != nil {
		return fmt.Errorf("scheduler: add %s (%q): %w", name, spec, err)
	}
	log.Printf("scheduler: registered %s on %q", name, spec)
	return nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// CadenceSpec builds a clock-hour-aligned cron spec for an N-hour cadence.
func CadenceSpec(hours int) string {
	if hours < 1 {
		hours = 1
	}
	return fmt.Sprintf("0 */%d * * *", hours)
}

type job struct {
	name    string
	fn      func(context.Context) error
	ctx     context.Context
	running atomic.Bool
}

// Run executes the job unless its previous run is still in flight.
func (j *job) Run() {
	if !j.running.CompareAndSwap(false, true) {
		log.Printf("scheduler: %s still running, skipping this trigger", j.name)
		return
	}
	defer j.running.Store(false)

	start := time.Now()
	if err := j.fn(j.ctx); err != nil {
		log.Printf("scheduler: %s failed after %s: %v", j.name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	log.Printf("scheduler: %s completed in %s", j.name, time.Since(start).Round(time.Millisecond))
}
