// Package scheduler archives deprecated schema versions once their sunset
// date has passed.
//
// A cron job periodically lists every DEPRECATED version whose sunset date
// is due and calls Coordinator.Sunset on each. Versions that cannot be
// archived yet (because consumers still read them) are held back until the
// RetryAt the coordinator reported.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/lineage/pkg/async"
	"github.com/platinummonkey/lineage/pkg/lifecycle"
	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/schema"
)

const (
	DefaultSchedule = "@every 5m"
	DefaultWorkers  = 4
	DefaultTimeout  = time.Minute
)

// DueLister lists deprecated versions whose sunset date is at or before now
type DueLister interface {
	ListDue(ctx context.Context, now time.Time) ([]schema.Ref, error)
}

// Sunsetter archives one version if it is ready
type Sunsetter interface {
	Sunset(ctx context.Context, ref schema.Ref) (*lifecycle.SunsetResult, error)
}

// Config configures the sweep
type Config struct {
	// Schedule is a standard cron expression or descriptor such as "@every 5m"
	Schedule string
	// Workers bounds concurrent Sunset calls within one sweep
	Workers int
	// Timeout bounds a single Sunset call
	Timeout time.Duration
}

// SweepResult summarizes one sweep
type SweepResult struct {
	Due      int
	Archived []schema.Ref
	Deferred []schema.Ref
	// Skipped were deferred by an earlier sweep and are not due for retry
	Skipped int
	Errors  []error
}

// Scheduler runs sunset sweeps on a cron schedule
type Scheduler struct {
	lister    DueLister
	sunsetter Sunsetter
	clock     lifecycle.Clock
	config    Config
	logger    *observability.Logger
	cron      *cron.Cron

	mu       sync.Mutex
	deferred map[string]time.Time
}

// New creates a scheduler. The schedule is parsed eagerly so a bad
// expression fails at startup.
func New(lister DueLister, sunsetter Sunsetter, clock lifecycle.Clock, config Config, logger *observability.Logger) (*Scheduler, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sunset schedule %q: %w", config.Schedule, err)
	}

	s := &Scheduler{
		lister:    lister,
		sunsetter: sunsetter,
		clock:     clock,
		config:    config,
		logger:    logger.WithField("component", "scheduler"),
		deferred:  make(map[string]time.Time),
	}
	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(config.Schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.WithError(err).Error("Sunset sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule sunset sweep: %w", err)
	}
	return s, nil
}

// Start runs sweeps in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("schedule", s.config.Schedule).Info("Sunset scheduler started")
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Sunset scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one pass: list due versions, skip those held back by an
// earlier deferral and sunset the rest. Per-version failures are collected
// in the result; the returned error is only set when listing fails.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.clock.Now()
	due, err := s.lister.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due versions: %w", err)
	}

	result := &SweepResult{Due: len(due)}
	refs := make([]schema.Ref, 0, len(due))
	s.mu.Lock()
	for _, ref := range due {
		if retryAt, ok := s.deferred[ref.Key()]; ok && now.Before(retryAt) {
			result.Skipped++
			continue
		}
		refs = append(refs, ref)
	}
	s.mu.Unlock()

	var mu sync.Mutex
	errs := async.Batch(ctx, refs, s.config.Workers, "sunset sweep", s.config.Timeout,
		func(ctx context.Context, ref schema.Ref) error {
			res, err := s.sunsetter.Sunset(ctx, ref)
			if err != nil {
				return fmt.Errorf("sunset %s: %w", ref, err)
			}
			mu.Lock()
			defer mu.Unlock()
			s.record(ref, res)
			switch {
			case res.Archived:
				result.Archived = append(result.Archived, ref)
			case res.Deferred:
				result.Deferred = append(result.Deferred, ref)
			}
			return nil
		})
	result.Errors = errs

	fields := map[string]interface{}{
		"due":      result.Due,
		"archived": len(result.Archived),
		"deferred": len(result.Deferred),
		"skipped":  result.Skipped,
		"errors":   len(result.Errors),
	}
	if len(errs) > 0 {
		s.logger.WithError(errors.Join(errs...)).WithFields(fields).Warn("Sunset sweep finished with errors")
	} else if result.Due > 0 {
		s.logger.WithFields(fields).Info("Sunset sweep finished")
	}
	return result, nil
}

func (s *Scheduler) record(ref schema.Ref, res *lifecycle.SunsetResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Deferred && !res.RetryAt.IsZero() {
		s.deferred[ref.Key()] = res.RetryAt
		return
	}
	delete(s.deferred, ref.Key())
}

// Pending returns how many versions are held back until their retry time
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fieldsOf(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fieldsOf(keysAndValues)).Error(msg)
}

func fieldsOf(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
