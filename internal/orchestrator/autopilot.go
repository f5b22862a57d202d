package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haricheung/overseer/internal/types"
)

// DefaultInterval is the pause between autopilot cycles.
const DefaultInterval = 15 * time.Second

// ErrRunning is returned by Start when the autopilot is already running.
var ErrRunning = errors.New("orchestrator: autopilot already running")

// Autopilot re-runs the cycle on a fixed interval.
//
// Expectations:
//   - Start runs one cycle immediately, then one per interval
//   - A tick that fires while a cycle is in flight joins it instead of starting another
//   - Stop cancels future ticks only; an in-flight cycle completes and its result is applied
//   - Start while running returns ErrRunning; Stop while stopped is a no-op
//   - RunNow shares the tick guard: it joins a cycle already in flight instead of overlapping it
//   - Wait blocks until in-flight cycles have finished
type Autopilot struct {
	o        *Orchestrator
	interval time.Duration
	onReport func(types.CycleReport)

	sf       singleflight.Group
	inflight sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutopilot creates a stopped Autopilot. interval <= 0 uses DefaultInterval.
// onReport, when non-nil, receives the report of every cycle that ran.
func NewAutopilot(o *Orchestrator, interval time.Duration, onReport func(types.CycleReport)) *Autopilot {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Autopilot{o: o, interval: interval, onReport: onReport}
}

// Start begins scheduling cycles. Cycles inherit ctx values but not its
// cancellation, so stopping never aborts a cycle midway.
func (a *Autopilot) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return ErrRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.loop(loopCtx, context.WithoutCancel(ctx), a.done)
	log.Printf("[AUTOPILOT] started; interval=%s", a.interval)
	return nil
}

// Stop cancels future ticks and waits for the tick loop to exit.
func (a *Autopilot) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[AUTOPILOT] stopped")
}

// Running reports whether ticks are scheduled.
func (a *Autopilot) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

// Wait blocks until every in-flight cycle has finished.
func (a *Autopilot) Wait() {
	a.inflight.Wait()
}

// Interval returns the tick interval.
func (a *Autopilot) Interval() time.Duration { return a.interval }

func (a *Autopilot) loop(ctx, cycleCtx context.Context, done chan struct{}) {
	defer close(done)
	a.tick(cycleCtx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(cycleCtx)
		}
	}
}

// tick starts a cycle in the background unless one is already in flight.
func (a *Autopilot) tick(ctx context.Context) {
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		r, ran := a.run(ctx, types.SourceAutopilot)
		if !ran {
			metricCycles.WithLabelValues("skipped").Inc()
			log.Printf("[AUTOPILOT] tick skipped: previous cycle still in flight")
			return
		}
		if a.onReport != nil {
			a.onReport(r)
		}
	}()
}

// RunNow runs one cycle immediately on behalf of source, whether or not ticks
// are scheduled. When a cycle is already in flight it waits for that cycle and
// returns its report with joined=true.
func (a *Autopilot) RunNow(ctx context.Context, source types.Source) (r types.CycleReport, joined bool) {
	a.inflight.Add(1)
	defer a.inflight.Done()
	r, ran := a.run(context.WithoutCancel(ctx), source)
	if !ran {
		log.Printf("[AUTOPILOT] manual cycle joined cycle %s already in flight", r.CycleID)
	}
	return r, !ran
}

// run executes a cycle under the single-flight key. ran is false when the
// caller joined another caller's cycle.
func (a *Autopilot) run(ctx context.Context, source types.Source) (types.CycleReport, bool) {
	ran := false
	v, _, _ := a.sf.Do("cycle", func() (any, error) {
		ran = true
		start := time.Now()
		r := a.o.RunCycle(ctx, source)
		metricCycleSeconds.Observe(time.Since(start).Seconds())
		return r, nil
	})
	return v.(types.CycleReport), ran
}
