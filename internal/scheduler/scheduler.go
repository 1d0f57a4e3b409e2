// Package scheduler rebuilds the catalog on a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cmipcat/internal/domain"
)

// RunFunc performs one rebuild.
type RunFunc func(ctx context.Context) error

// Run records the outcome of one scheduled rebuild.
type Run struct {
	Started time.Time
	Elapsed time.Duration
	Err     error
}

// Scheduler triggers RunFunc on a cron spec. A run still in progress when
// the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	run    RunFunc
	logger *slog.Logger

	mu    sync.Mutex
	ctx   context.Context
	runs  int
	last  Run
	entry cron.EntryID
}

// New validates spec (standard five-field cron or a descriptor such as
// @daily or @every 1h) and creates a stopped Scheduler.
func New(spec string, run RunFunc, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		spec:   spec,
		run:    run,
		logger: logger,
		ctx:    context.Background(),
	}
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, domain.ErrValidation("invalid schedule %q: %v", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing. Runs receive ctx, so cancelling it aborts a run in
// progress; call Stop to end the schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("rebuild scheduler started", "schedule", s.spec, "next", s.Next())
}

// Stop ends the schedule and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("rebuild scheduler stopped", "runs", s.Runs())
}

// Next returns the time of the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Runs returns how many runs have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Last returns the most recent completed run.
func (s *Scheduler) Last() Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunNow performs one run outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.execute(ctx)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	_ = s.execute(ctx)
}

func (s *Scheduler) execute(ctx context.Context) error {
	start := time.Now()
	err := s.run(ctx)
	r := Run{Started: start, Elapsed: time.Since(start), Err: err}

	s.mu.Lock()
	s.runs++
	s.last = r
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduled rebuild failed", "error", err, "elapsed", r.Elapsed)
	} else {
		s.logger.Info("scheduled rebuild finished", "elapsed", r.Elapsed)
	}
	return err
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
