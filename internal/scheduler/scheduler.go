// Package scheduler retrains the model on a cron schedule.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ricesearch/rice-nlu/internal/pkg/errors"
	"github.com/ricesearch/rice-nlu/internal/pkg/logger"
)

// Scheduler runs a retrain function on a cron expression. A run that is
// still in progress when the next one is due causes that one to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	retrain func(ctx context.Context) error
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entry   cron.EntryID
	started bool
}

// New validates spec (standard five-field syntax or a descriptor such as
// "@hourly" or "@every 6h") and returns a stopped scheduler.
func New(spec string, retrain func(ctx context.Context) error, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Default()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid retrain schedule", err).
			WithDetail("cron", spec)
	}

	log = log.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
		),
		spec:    spec,
		retrain: retrain,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	id, err := s.cron.AddFunc(s.spec, func() {
		s.log.Info("Scheduled retrain triggered")
		if err := s.retrain(s.ctx); err != nil {
			s.log.Error("Scheduled retrain failed", "error", err)
		}
	})
	if err != nil {
		return errors.Wrap(errors.CodeValidation, "invalid retrain schedule", err)
	}

	s.entry = id
	s.started = true
	s.cron.Start()
	s.log.Info("Scheduler started", "cron", s.spec, "next", s.cron.Entry(id).Next)
	return nil
}

// Stop halts the schedule, cancels a running retrain, and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
	s.log.Info("Scheduler stopped")
}

// Next returns the next scheduled run, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// cronLogger routes cron's own diagnostics through the application logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
